package stiapi

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strconv"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/agroclimate-severity-service/internal/domain"
)

const (
	mockResolution = 0.25
	mockDays       = 7
	mockMaxStep    = 72
	mockStepHours  = 3
	mockMaxCells   = 250_000
)

// MockSource is a deterministic synthetic GridSource used when no STI API is
// configured. The same run, step and bounds always yield the same grid.
type MockSource struct {
	clock clockwork.Clock
}

// NewMockSource creates a synthetic source. A nil clock uses the real clock.
func NewMockSource(clock clockwork.Clock) *MockSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MockSource{clock: clock}
}

// Runs returns the 00 and 12 runs of the last seven UTC days, oldest first.
func (m *MockSource) Runs(_ context.Context) ([]string, error) {
	now := m.clock.Now().UTC()
	runs := make([]string, 0, 2*mockDays)
	for i := mockDays - 1; i >= 0; i-- {
		day := now.AddDate(0, 0, -i).Format("20060102")
		runs = append(runs, day+"00", day+"12")
	}
	return runs, nil
}

// Steps returns 000 through 072 every three hours for any run.
func (m *MockSource) Steps(_ context.Context, _ string) ([]string, error) {
	steps := make([]string, 0, mockMaxStep/mockStepHours+1)
	for h := 0; h <= mockMaxStep; h += mockStepHours {
		steps = append(steps, fmt.Sprintf("%03d", h))
	}
	return steps, nil
}

// Subset builds a 0.25° grid over bounds, latitudes north to south. Values
// follow a sinusoidal pattern across rows and columns, shifted by run and
// step, plus seeded noise in [-0.4, 0.4).
func (m *MockSource) Subset(_ context.Context, run, step string, bounds domain.Bounds) (domain.GridSubset, error) {
	if err := bounds.Validate(); err != nil {
		return domain.GridSubset{}, err
	}

	nLat := axisLen(bounds.LatMin, bounds.LatMax)
	nLon := axisLen(bounds.LonMin, bounds.LonMax)
	if nLat*nLon > mockMaxCells {
		return domain.GridSubset{}, fmt.Errorf("%w: %d cells exceeds %d", domain.ErrInvalidBounds, nLat*nLon, mockMaxCells)
	}

	latitudes := make([]float64, nLat)
	for i := range latitudes {
		latitudes[i] = round2(bounds.LatMax - float64(i)*mockResolution)
	}
	longitudes := make([]float64, nLon)
	for j := range longitudes {
		longitudes[j] = round2(bounds.LonMin + float64(j)*mockResolution)
	}

	timeEffect := math.Sin(float64(runSeed(run)+atoiOrZero(step))*0.1) * 0.5
	rng := rand.New(rand.NewPCG(seedOf(run, step), 0x5354495f4d4f434b))

	sti := make([][]float64, nLat)
	for i := range sti {
		sti[i] = make([]float64, nLon)
		for j := range sti[i] {
			latEffect := math.Sin(float64(i)*0.5) * 1.5
			lonEffect := math.Cos(float64(j)*0.5) * 1.5
			noise := (rng.Float64() - 0.5) * 0.8
			sti[i][j] = round2(latEffect + lonEffect + timeEffect + noise)
		}
	}

	return domain.GridSubset{
		Run:        run,
		Step:       step,
		Latitudes:  latitudes,
		Longitudes: longitudes,
		STI:        sti,
	}, nil
}

// axisLen counts grid lines from lo to hi inclusive at the mock resolution.
func axisLen(lo, hi float64) int {
	return int(math.Floor((hi-lo)/mockResolution+1e-9)) + 1
}

// runSeed uses the run hour, the last two digits of the run.
func runSeed(run string) int {
	if len(run) < 2 {
		return 0
	}
	return atoiOrZero(run[len(run)-2:])
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func seedOf(run, step string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(run))
	h.Write([]byte{'|'})
	h.Write([]byte(step))
	return h.Sum64()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
