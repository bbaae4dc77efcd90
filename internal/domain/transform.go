package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/couchcryptid/agroclimate-severity-service/internal/severity"
)

// ErrIncompleteGrid is returned when a raw grid lacks its run or step.
var ErrIncompleteGrid = errors.New("grid is missing run or step")

// ParseRawGrid deserializes a RawEvent's value into a GridSubset,
// decompressing first when the content-encoding header says zstd.
func ParseRawGrid(raw RawEvent) (GridSubset, error) {
	payload := raw.Value
	if strings.EqualFold(raw.Headers[HeaderContentEncoding], EncodingZstd) {
		decoded, err := DecompressZstd(payload)
		if err != nil {
			return GridSubset{}, fmt.Errorf("parse raw grid: %w", err)
		}
		payload = decoded
	}

	var subset GridSubset
	if err := json.Unmarshal(payload, &subset); err != nil {
		return GridSubset{}, fmt.Errorf("parse raw grid: %w", err)
	}

	subset.Run = strings.TrimSpace(subset.Run)
	subset.Step = strings.TrimSpace(subset.Step)
	if subset.Run == "" || subset.Step == "" {
		return GridSubset{}, fmt.Errorf("parse raw grid: %w", ErrIncompleteGrid)
	}
	return subset, nil
}

// BuildLayer classifies every cell of a subset. The observed min/max of the
// subset feeds the relative intensity of each point; absolute intensity and
// severity do not depend on it.
func BuildLayer(subset GridSubset) HeatmapLayer {
	mesh := subset.Mesh()
	stats := subset.Stats()

	points := severity.Transform(mesh.Latitudes, mesh.Longitudes, mesh.Values,
		&severity.Range{Min: stats.Min, Max: stats.Max})
	heat, cold := severity.Extremes(points)

	return HeatmapLayer{
		ID:          generateID(subset),
		Run:         subset.Run,
		Step:        subset.Step,
		Stats:       stats,
		Extent:      Extent(points),
		Counts:      severity.Histogram(points),
		ExtremeHeat: len(heat),
		ExtremeCold: len(cold),
		Dropped:     mesh.Len() - len(points),
		PointCount:  len(points),
		Points:      points,
		ProcessedAt: Now(),
	}
}

// Sampled returns a copy of the layer whose points are thinned to at most
// maxPoints. Counts, extremes and PointCount still describe the full layer.
func (l HeatmapLayer) Sampled(maxPoints int) HeatmapLayer {
	l.Points = severity.Sample(l.Points, maxPoints)
	return l
}

// SerializeLayer marshals a layer into an OutputEvent keyed by layer ID.
func SerializeLayer(layer HeatmapLayer) (OutputEvent, error) {
	data, err := json.Marshal(layer)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize heatmap layer: %w", err)
	}
	return OutputEvent{
		Key:   []byte(layer.ID),
		Value: data,
		Headers: map[string]string{
			HeaderRun:         layer.Run,
			HeaderStep:        layer.Step,
			HeaderProcessedAt: layer.ProcessedAt.Format(time.RFC3339),
		},
	}, nil
}

// generateID hashes run, step and the axis extent so replays of the same
// subset produce the same layer ID.
func generateID(subset GridSubset) string {
	latLo, latHi := axisExtent(subset.Latitudes)
	lonLo, lonHi := axisExtent(subset.Longitudes)
	input := fmt.Sprintf("%s|%s|%.4f|%.4f|%.4f|%.4f", subset.Run, subset.Step, latLo, latHi, lonLo, lonHi)
	hash := sha256.Sum256([]byte(input))
	return "sti-" + hex.EncodeToString(hash[:8])
}

func axisExtent(axis []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range axis {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}
