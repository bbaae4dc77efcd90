package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidBounds is returned for a malformed or out-of-range bounding box.
	ErrInvalidBounds = errors.New("invalid bounds")

	// ErrNotFound is returned when the source has no such run or step.
	ErrNotFound = errors.New("not found")

	// ErrSourceUnavailable is returned while the source is refusing calls,
	// e.g. with its circuit breaker open.
	ErrSourceUnavailable = errors.New("grid source unavailable")
)

// GridSource retrieves STI runs, forecast steps and gridded subsets.
type GridSource interface {
	// Runs lists the available model runs, oldest first.
	Runs(ctx context.Context) ([]string, error)

	// Steps lists the forecast steps available for a run.
	Steps(ctx context.Context, run string) ([]string, error)

	// Subset fetches the STI grid of one run and step inside bounds.
	Subset(ctx context.Context, run, step string, bounds Bounds) (GridSubset, error)
}

// Validate checks that the box is finite, ordered and on the globe.
func (b Bounds) Validate() error {
	for _, v := range []float64{b.LatMin, b.LatMax, b.LonMin, b.LonMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrInvalidBounds)
		}
	}
	if b.LatMin > b.LatMax {
		return fmt.Errorf("%w: lat_min %g > lat_max %g", ErrInvalidBounds, b.LatMin, b.LatMax)
	}
	if b.LonMin > b.LonMax {
		return fmt.Errorf("%w: lon_min %g > lon_max %g", ErrInvalidBounds, b.LonMin, b.LonMax)
	}
	if b.LatMin < -90 || b.LatMax > 90 {
		return fmt.Errorf("%w: latitude outside [-90, 90]", ErrInvalidBounds)
	}
	if b.LonMin < -180 || b.LonMax > 180 {
		return fmt.Errorf("%w: longitude outside [-180, 180]", ErrInvalidBounds)
	}
	return nil
}

// DefaultBounds covers central Chile, the region the dashboard opens on.
var DefaultBounds = Bounds{LatMin: -34, LatMax: -33, LonMin: -71, LonMax: -70}
