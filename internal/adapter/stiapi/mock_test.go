package stiapi

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/agroclimate-severity-service/internal/domain"
)

func TestMockSource_Runs(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 4, 26, 9, 30, 0, 0, time.UTC))
	m := NewMockSource(clock)

	runs, err := m.Runs(context.Background())

	require.NoError(t, err)
	require.Len(t, runs, 14)
	assert.Equal(t, "2024042000", runs[0])
	assert.Equal(t, "2024042012", runs[1])
	assert.Equal(t, "2024042600", runs[12])
	assert.Equal(t, "2024042612", runs[13])
}

func TestMockSource_Steps(t *testing.T) {
	steps, err := NewMockSource(nil).Steps(context.Background(), "2024042600")

	require.NoError(t, err)
	require.Len(t, steps, 25)
	assert.Equal(t, "000", steps[0])
	assert.Equal(t, "003", steps[1])
	assert.Equal(t, "072", steps[24])
}

func TestMockSource_SubsetShape(t *testing.T) {
	m := NewMockSource(nil)

	subset, err := m.Subset(context.Background(), "2024042600", "024", domain.DefaultBounds)

	require.NoError(t, err)
	assert.Equal(t, "2024042600", subset.Run)
	assert.Equal(t, "024", subset.Step)
	assert.Equal(t, []float64{-33, -33.25, -33.5, -33.75, -34}, subset.Latitudes, "north to south")
	assert.Equal(t, []float64{-71, -70.75, -70.5, -70.25, -70}, subset.Longitudes)
	require.Len(t, subset.STI, 5)
	for _, row := range subset.STI {
		require.Len(t, row, 5)
		for _, v := range row {
			// |lat| + |lon| + |time| effects plus noise stay under 4
			assert.Less(t, v, 4.0)
			assert.Greater(t, v, -4.0)
		}
	}
}

func TestMockSource_SubsetDeterministic(t *testing.T) {
	m := NewMockSource(nil)
	ctx := context.Background()

	a, err := m.Subset(ctx, "2024042600", "024", domain.DefaultBounds)
	require.NoError(t, err)
	b, err := m.Subset(ctx, "2024042600", "024", domain.DefaultBounds)
	require.NoError(t, err)
	c, err := m.Subset(ctx, "2024042600", "027", domain.DefaultBounds)
	require.NoError(t, err)

	if diff := cmp.Diff(a, b, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("same run and step produced different grids (-a +b):\n%s", diff)
	}
	assert.NotEqual(t, a.STI, c.STI)
}

func TestMockSource_SubsetValidation(t *testing.T) {
	m := NewMockSource(nil)
	ctx := context.Background()

	_, err := m.Subset(ctx, "r", "s", domain.Bounds{LatMin: 0, LatMax: -1, LonMin: 0, LonMax: 1})
	require.ErrorIs(t, err, domain.ErrInvalidBounds)

	_, err = m.Subset(ctx, "r", "s", domain.Bounds{LatMin: -90, LatMax: 90, LonMin: -180, LonMax: 180})
	require.ErrorIs(t, err, domain.ErrInvalidBounds, "whole globe exceeds the cell cap")
}

func TestMockSource_PointBounds(t *testing.T) {
	subset, err := NewMockSource(nil).Subset(context.Background(), "r", "000",
		domain.Bounds{LatMin: -33.5, LatMax: -33.5, LonMin: -70.5, LonMax: -70.5})

	require.NoError(t, err)
	assert.Equal(t, []float64{-33.5}, subset.Latitudes)
	assert.Equal(t, []float64{-70.5}, subset.Longitudes)
}

func TestRunSeed(t *testing.T) {
	assert.Equal(t, 12, runSeed("2024042612"))
	assert.Equal(t, 0, runSeed("2024042600"))
	assert.Equal(t, 0, runSeed("x"))
	assert.Equal(t, 0, runSeed("abc"))
}
