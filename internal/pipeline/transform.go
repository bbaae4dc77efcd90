package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/agroclimate-severity-service/internal/domain"
	"github.com/couchcryptid/agroclimate-severity-service/internal/observability"
)

// LayerTransformer implements Transformer by classifying each raw grid into
// a heatmap layer, thinned to at most maxPoints points.
type LayerTransformer struct {
	maxPoints int
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewTransformer creates a LayerTransformer. A non-positive maxPoints
// publishes every point.
func NewTransformer(maxPoints int, metrics *observability.Metrics, logger *slog.Logger) *LayerTransformer {
	return &LayerTransformer{
		maxPoints: maxPoints,
		metrics:   metrics,
		logger:    logger,
	}
}

func (t *LayerTransformer) Transform(_ context.Context, raw domain.RawEvent) (domain.HeatmapLayer, error) {
	subset, err := domain.ParseRawGrid(raw)
	if err != nil {
		return domain.HeatmapLayer{}, err
	}

	layer := domain.BuildLayer(subset)
	t.record(layer)

	sampled := layer.Sampled(t.maxPoints)
	if len(sampled.Points) < len(layer.Points) {
		t.logger.Debug("layer sampled",
			"run", layer.Run,
			"step", layer.Step,
			"points", len(layer.Points),
			"kept", len(sampled.Points),
		)
	}
	return sampled, nil
}

func (t *LayerTransformer) record(layer domain.HeatmapLayer) {
	for level, n := range layer.Counts {
		t.metrics.LayerPoints.WithLabelValues(level.String()).Add(float64(n))
	}
	t.metrics.ExtremeCells.WithLabelValues("heat").Add(float64(layer.ExtremeHeat))
	t.metrics.ExtremeCells.WithLabelValues("cold").Add(float64(layer.ExtremeCold))
	t.metrics.DroppedCells.Add(float64(layer.Dropped))
}
