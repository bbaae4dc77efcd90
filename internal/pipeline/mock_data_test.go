package pipeline_test

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/agroclimate-severity-service/internal/domain"
	"github.com/couchcryptid/agroclimate-severity-service/internal/pipeline"
	"github.com/couchcryptid/agroclimate-severity-service/internal/severity"
)

func TestLayerTransformer_WithMockGridData(t *testing.T) {
	grids := readMockGrids(t)
	require.Len(t, grids, 8)

	transformer := pipeline.NewTransformer(0, newTestMetrics(), discardLogger)

	for _, grid := range grids {
		t.Run(grid.Run+"/"+grid.Step, func(t *testing.T) {
			raw := rawEventFromGrid(t, grid, false)

			layer, err := transformer.Transform(context.Background(), raw)
			require.NoError(t, err)

			assert.Equal(t, grid.Run, layer.Run)
			assert.Equal(t, grid.Step, layer.Step)
			assert.Equal(t, 81, layer.Stats.Total)
			assert.Equal(t, 75, layer.PointCount, "every 13th cell is masked")
			assert.Equal(t, 6, layer.Dropped)
			assertLayerInvariants(t, layer)
		})
	}
}

func TestLayerTransformer_WithCompressedMockGridData(t *testing.T) {
	grids := readMockGrids(t)
	transformer := pipeline.NewTransformer(20, newTestMetrics(), discardLogger)

	plain, err := transformer.Transform(context.Background(), rawEventFromGrid(t, grids[0], false))
	require.NoError(t, err)
	compressed, err := transformer.Transform(context.Background(), rawEventFromGrid(t, grids[0], true))
	require.NoError(t, err)

	assert.Equal(t, plain.ID, compressed.ID)
	assert.Equal(t, plain.Counts, compressed.Counts)
	assert.Equal(t, plain.Points, compressed.Points)
	assert.LessOrEqual(t, len(compressed.Points), 20)
}

func assertLayerInvariants(t *testing.T, layer domain.HeatmapLayer) {
	t.Helper()

	total := 0
	for _, level := range severity.Levels() {
		n, ok := layer.Counts[level]
		assert.True(t, ok, "histogram has every level")
		total += n
	}
	assert.Equal(t, layer.PointCount, total)

	heat, cold := 0, 0
	for _, p := range layer.Points {
		assert.GreaterOrEqual(t, p.Intensity, 0.0)
		assert.LessOrEqual(t, p.Intensity, 1.0)
		assert.GreaterOrEqual(t, p.RelativeIntensity, 0.0)
		assert.LessOrEqual(t, p.RelativeIntensity, 1.0)
		assert.GreaterOrEqual(t, p.RawValue, severity.ClampMin)
		assert.LessOrEqual(t, p.RawValue, severity.ClampMax)
		assert.Equal(t, severity.Categorize(p.RawValue), p.Severity)
		assert.InDelta(t, math.Min(1, math.Abs(p.RawValue)/severity.SeverityRef), p.Intensity, 1e-12)
		if severity.IsExtremeHeat(p.RawValue) {
			heat++
		}
		if severity.IsExtremeCold(p.RawValue) {
			cold++
		}
	}
	assert.Equal(t, layer.ExtremeHeat, heat)
	assert.Equal(t, layer.ExtremeCold, cold)

	require.NotNil(t, layer.Extent)
	assert.InDelta(t, -35.0, layer.Extent.LatMin, 1e-6)
	assert.InDelta(t, -33.0, layer.Extent.LatMax, 1e-6)
}

func readMockGrids(t *testing.T) []domain.GridSubset {
	t.Helper()

	path := filepath.Join("..", "..", "data", "mock", "sti_grids_240426.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var grids []domain.GridSubset
	require.NoError(t, json.Unmarshal(data, &grids))
	return grids
}

func rawEventFromGrid(t *testing.T, grid domain.GridSubset, compress bool) domain.RawEvent {
	t.Helper()
	payload, err := json.Marshal(grid)
	require.NoError(t, err)

	raw := domain.RawEvent{
		Key:   []byte(grid.Run + "/" + grid.Step),
		Value: payload,
		Topic: "raw-sti-grids",
	}
	if compress {
		payload, err = domain.CompressZstd(payload)
		require.NoError(t, err)
		raw.Value = payload
		raw.Headers = map[string]string{domain.HeaderContentEncoding: domain.EncodingZstd}
	}
	return raw
}
