package severity

import "math"

// Contract constants shared with renderers.
const (
	ClampMin    = -8.0
	ClampMax    = 8.0
	SeverityRef = 5.0

	ExtremeHeatThreshold = 3.0
	ExtremeColdThreshold = -3.0
)

// Range holds dataset-wide bounds of the raw field. It only feeds
// Point.RelativeIntensity; Intensity and Severity ignore it.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DefaultRange is used when the caller supplies no bounds.
var DefaultRange = Range{Min: 0, Max: 1}

// Point is one classified grid cell.
type Point struct {
	Lat               float64 `json:"lat"`
	Lng               float64 `json:"lng"`
	Intensity         float64 `json:"intensity"`
	RelativeIntensity float64 `json:"relative_intensity"`
	RawValue          float64 `json:"raw_value"`
	Severity          Level   `json:"severity"`
}

// Transform classifies parallel latitude, longitude and raw value slices.
// It walks up to the shortest of the three and silently skips any index
// where a coordinate or the value is not finite. A nil rng means DefaultRange.
func Transform(latitudes, longitudes, values []float64, rng *Range) []Point {
	n := min(len(latitudes), len(longitudes), len(values))

	r := DefaultRange
	if rng != nil {
		r = *rng
	}

	points := make([]Point, 0, n)
	for i := 0; i < n; i++ {
		lat, lng, raw := latitudes[i], longitudes[i], values[i]
		if !finite(lat) || !finite(lng) || !finite(raw) {
			continue
		}

		clamped := Clamp(raw)
		points = append(points, Point{
			Lat:               lat,
			Lng:               lng,
			Intensity:         Intensity(clamped),
			RelativeIntensity: RelativeIntensity(clamped, r),
			RawValue:          clamped,
			Severity:          Categorize(clamped),
		})
	}
	return points
}

// Clamp bounds v to [ClampMin, ClampMax].
func Clamp(v float64) float64 {
	return math.Max(ClampMin, math.Min(ClampMax, v))
}

// Intensity maps a value to [0, 1] by absolute magnitude, saturating at
// SeverityRef. Non-finite input yields 0.
func Intensity(v float64) float64 {
	if !finite(v) {
		return 0
	}
	return math.Min(1.0, math.Abs(Clamp(v))/SeverityRef)
}

// RelativeIntensity normalizes v against rng after clamping both into the
// clamp bounds. A valid range that collapses under clamping widens to the
// full clamp bounds. A flat or inverted range yields 0.
func RelativeIntensity(v float64, rng Range) float64 {
	if !finite(v) || !finite(rng.Min) || !finite(rng.Max) {
		return 0
	}

	lo, hi := Clamp(rng.Min), Clamp(rng.Max)
	if lo >= hi && rng.Min < rng.Max {
		lo, hi = ClampMin, ClampMax
	}
	if hi <= lo {
		return 0
	}

	rel := (Clamp(v) - lo) / (hi - lo)
	return math.Max(0, math.Min(1, rel))
}

// Categorize buckets a raw value by its magnitude. Non-finite values carry
// no reading and map to VeryLow.
func Categorize(v float64) Level {
	abs := math.Abs(v)
	switch {
	case !finite(v), abs < 1.0:
		return VeryLow
	case abs < 2.0:
		return Low
	case abs < 3.0:
		return Moderate
	case abs < 4.0:
		return High
	default:
		return VeryHigh
	}
}

// IsExtremeHeat reports whether a signed raw value is in the hot tail.
func IsExtremeHeat(v float64) bool {
	return v >= ExtremeHeatThreshold
}

// IsExtremeCold reports whether a signed raw value is in the cold tail.
func IsExtremeCold(v float64) bool {
	return v <= ExtremeColdThreshold
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
