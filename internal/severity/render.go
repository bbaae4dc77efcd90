package severity

// GradientStop is one color stop of the heatmap gradient.
type GradientStop struct {
	Offset float64 `json:"offset"`
	Color  string  `json:"color"`
}

// Gradient returns the heatmap color gradient keyed by intensity, one stop
// per level at even spacing.
func Gradient() []GradientStop {
	levels := Levels()
	stops := make([]GradientStop, len(levels))
	for i, l := range levels {
		stops[i] = GradientStop{
			Offset: float64(i) / float64(len(levels)-1),
			Color:  Color(l),
		}
	}
	return stops
}

// HeatTuples converts points to [lat, lng, intensity] triples.
func HeatTuples(points []Point) [][3]float64 {
	out := make([][3]float64, len(points))
	for i, p := range points {
		out[i] = [3]float64{p.Lat, p.Lng, p.Intensity}
	}
	return out
}

// Sample thins points to roughly maxPoints by keeping every k-th point,
// where k = ceil(len/maxPoints). Even striding keeps coverage of the whole
// extent instead of clipping it. maxPoints <= 0 disables sampling.
func Sample(points []Point, maxPoints int) []Point {
	if maxPoints <= 0 || len(points) <= maxPoints {
		return points
	}

	step := (len(points) + maxPoints - 1) / maxPoints
	out := make([]Point, 0, (len(points)+step-1)/step)
	for i := 0; i < len(points); i += step {
		out = append(out, points[i])
	}
	return out
}

// Extremes splits points into extreme-heat and extreme-cold subsets using
// the signed raw value. Points in neither tail are omitted.
func Extremes(points []Point) (heat, cold []Point) {
	for _, p := range points {
		switch {
		case IsExtremeHeat(p.RawValue):
			heat = append(heat, p)
		case IsExtremeCold(p.RawValue):
			cold = append(cold, p)
		}
	}
	return heat, cold
}

// Histogram counts points per level. Every level is present in the result.
func Histogram(points []Point) map[Level]int {
	counts := make(map[Level]int, len(levelNames))
	for _, l := range Levels() {
		counts[l] = 0
	}
	for _, p := range points {
		counts[p.Severity]++
	}
	return counts
}
