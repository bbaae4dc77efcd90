package domain

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/s2"
	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/agroclimate-severity-service/internal/severity"
)

// ErrInvalidBoundary is returned when a field outline cannot form a loop.
var ErrInvalidBoundary = errors.New("invalid field boundary")

// MaxBoundaryVertices caps the size of a drawn field outline.
const MaxBoundaryVertices = 1000

const earthRadiusMeters = 6371008.8

// FieldBoundary is a closed field outline on the sphere.
type FieldBoundary struct {
	loop *s2.Loop
}

// NewFieldBoundary builds a boundary from [lat, lng] vertices in degrees.
// Either winding order is accepted and a closing vertex equal to the first
// is ignored, so GeoJSON-style rings work as drawn.
func NewFieldBoundary(vertices [][2]float64) (*FieldBoundary, error) {
	if n := len(vertices); n > 1 && vertices[0] == vertices[n-1] {
		vertices = vertices[:n-1]
	}
	if len(vertices) > MaxBoundaryVertices {
		return nil, fmt.Errorf("%w: more than %d vertices", ErrInvalidBoundary, MaxBoundaryVertices)
	}

	pts := make([]s2.Point, 0, len(vertices))
	for i, v := range vertices {
		lat, lng := v[0], v[1]
		if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			return nil, fmt.Errorf("%w: vertex %d is off the globe", ErrInvalidBoundary, i)
		}
		p := s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lng))
		if len(pts) > 0 && pts[len(pts)-1].ApproxEqual(p) {
			continue
		}
		pts = append(pts, p)
	}
	if len(pts) > 1 && pts[0].ApproxEqual(pts[len(pts)-1]) {
		pts = pts[:len(pts)-1]
	}
	if len(pts) < 3 {
		return nil, fmt.Errorf("%w: need at least 3 distinct vertices", ErrInvalidBoundary)
	}

	loop := s2.LoopFromPoints(pts)
	if err := loop.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBoundary, err)
	}
	// A clockwise ring describes the rest of the globe; flip it to the field.
	loop.Normalize()
	return &FieldBoundary{loop: loop}, nil
}

// Contains reports whether a point lies inside the outline.
func (b *FieldBoundary) Contains(p severity.Point) bool {
	return b.loop.ContainsPoint(s2.PointFromLatLng(s2.LatLngFromDegrees(p.Lat, p.Lng)))
}

// Clip returns the points inside the outline, preserving order.
func (b *FieldBoundary) Clip(points []severity.Point) []severity.Point {
	out := make([]severity.Point, 0, len(points))
	for _, p := range points {
		if b.Contains(p) {
			out = append(out, p)
		}
	}
	return out
}

// AreaHectares returns the enclosed surface area on a spherical Earth.
func (b *FieldBoundary) AreaHectares() float64 {
	return b.loop.Area() * earthRadiusMeters * earthRadiusMeters / 10_000
}

// FieldSummary describes the classified points that fall inside a field.
type FieldSummary struct {
	AreaHectares  float64                `json:"area_hectares"`
	PointCount    int                    `json:"point_count"`
	Counts        map[severity.Level]int `json:"counts"`
	MeanIntensity float64                `json:"mean_intensity"`
	MaxSeverity   severity.Level         `json:"max_severity"`
	ExtremeHeat   int                    `json:"extreme_heat"`
	ExtremeCold   int                    `json:"extreme_cold"`
}

// Summarize aggregates points already clipped to the boundary. With no
// points the mean is 0 and MaxSeverity is VeryLow.
func (b *FieldBoundary) Summarize(inside []severity.Point) FieldSummary {
	heat, cold := severity.Extremes(inside)
	s := FieldSummary{
		AreaHectares: b.AreaHectares(),
		PointCount:   len(inside),
		Counts:       severity.Histogram(inside),
		MaxSeverity:  severity.VeryLow,
		ExtremeHeat:  len(heat),
		ExtremeCold:  len(cold),
	}
	if len(inside) == 0 {
		return s
	}

	intensities := make([]float64, len(inside))
	for i, p := range inside {
		intensities[i] = p.Intensity
		s.MaxSeverity = max(s.MaxSeverity, p.Severity)
	}
	s.MeanIntensity = stat.Mean(intensities, nil)
	return s
}
