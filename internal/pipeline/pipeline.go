package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/agroclimate-severity-service/internal/domain"
	"github.com/couchcryptid/agroclimate-severity-service/internal/observability"
)

// BatchExtractor reads up to batchSize raw grid messages from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer converts a raw grid message into a heatmap layer.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.HeatmapLayer, error)
}

// BatchLoader publishes heatmap layers and reports how many were written.
// Layers that cannot be encoded are skipped rather than failing the batch;
// an error means nothing was published.
type BatchLoader interface {
	LoadBatch(ctx context.Context, layers []domain.HeatmapLayer) (int, error)
}

// Backoff after extract or load failures, reset by the next successful extract.
const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Pipeline consumes raw STI grids, classifies them into heatmap layers and
// publishes one layer per run/step.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
	}
}

// CheckReadiness reports ready once at least one layer has been published.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not published any layers yet")
	}
	return nil
}

// Run consumes grid batches until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	backoff := initialBackoff
	for ctx.Err() == nil {
		if !p.cycle(ctx, &backoff) {
			break
		}
	}
	p.logger.Info("pipeline stopping", "reason", ctx.Err())
	return nil
}

// cycle runs one extract, classify and publish round. It returns false when
// the pipeline should stop.
func (p *Pipeline) cycle(ctx context.Context, backoff *time.Duration) bool {
	start := time.Now()

	raws, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.wait(ctx, backoff)
	}
	if len(raws) == 0 {
		return true
	}

	p.metrics.MessagesConsumed.Add(float64(len(raws)))
	p.metrics.BatchSize.Observe(float64(len(raws)))
	*backoff = initialBackoff

	b := p.classify(ctx, raws)
	if len(b.order) == 0 {
		return true
	}

	layers := b.layers()
	published, err := p.loader.LoadBatch(ctx, layers)
	if err != nil {
		p.logger.Error("publish layers failed", "error", err, "layers", len(layers))
		return p.wait(ctx, backoff)
	}

	if skipped := len(layers) - published; skipped > 0 {
		p.metrics.LayersSkipped.Add(float64(skipped))
	}
	p.metrics.MessagesProduced.Add(float64(published))
	for _, id := range b.order {
		for _, raw := range b.byID[id].raws {
			p.commit(ctx, raw)
		}
	}

	if published > 0 {
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
		p.ready.Store(true)
	}
	p.logger.Debug("batch published", "layers", published, "skipped", len(layers)-published)
	return true
}

// pendingLayer is a built layer plus every message that produced it.
type pendingLayer struct {
	layer domain.HeatmapLayer
	raws  []domain.RawEvent
}

// batch holds one round's layers keyed by ID in first-seen order.
type batch struct {
	order []string
	byID  map[string]*pendingLayer
}

func (b *batch) layers() []domain.HeatmapLayer {
	out := make([]domain.HeatmapLayer, len(b.order))
	for i, id := range b.order {
		out[i] = b.byID[id].layer
	}
	return out
}

// classify transforms each grid. Grids that fail are committed and dropped.
// When several messages in a batch yield the same layer ID (the same run,
// step and subset), the latest one wins and the earlier ones are committed
// along with it.
func (p *Pipeline) classify(ctx context.Context, raws []domain.RawEvent) *batch {
	b := &batch{byID: make(map[string]*pendingLayer, len(raws))}

	for _, raw := range raws {
		layer, err := p.transformer.Transform(ctx, raw)
		if err != nil {
			p.logger.Warn("grid rejected",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.TransformErrors.Inc()
			p.commit(ctx, raw)
			continue
		}

		if prev, ok := b.byID[layer.ID]; ok {
			p.logger.Info("layer superseded within batch",
				"layer_id", layer.ID,
				"run", layer.Run,
				"step", layer.Step,
				"offset", raw.Offset,
			)
			p.metrics.LayersSuperseded.Inc()
			prev.layer = layer
			prev.raws = append(prev.raws, raw)
			continue
		}
		b.order = append(b.order, layer.ID)
		b.byID[layer.ID] = &pendingLayer{layer: layer, raws: []domain.RawEvent{raw}}
	}
	return b
}

// wait sleeps for the current backoff and doubles it. It returns false if
// the context ends first.
func (p *Pipeline) wait(ctx context.Context, backoff *time.Duration) bool {
	if !retry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = retry.NextBackoff(*backoff, maxBackoff)
	return true
}

func (p *Pipeline) commit(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}
