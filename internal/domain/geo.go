package domain

import (
	"github.com/golang/geo/s2"

	"github.com/couchcryptid/agroclimate-severity-service/internal/severity"
)

// DefaultCellHalfWidth is half the spacing of the 0.25° model grid.
const DefaultCellHalfWidth = 0.125

// Extent returns the bounding box of the points, or nil when there are none.
// Points with out-of-range coordinates do not widen the box.
func Extent(points []severity.Point) *Bounds {
	rect := s2.EmptyRect()
	for _, p := range points {
		rect = rect.AddPoint(s2.LatLngFromDegrees(p.Lat, p.Lng))
	}
	if rect.IsEmpty() {
		return nil
	}
	b := rectBounds(rect)
	return &b
}

// CellBounds returns the grid cell square centered on a point. A
// non-positive halfWidth uses DefaultCellHalfWidth.
func CellBounds(p severity.Point, halfWidth float64) Bounds {
	if halfWidth <= 0 {
		halfWidth = DefaultCellHalfWidth
	}
	rect := s2.RectFromCenterSize(
		s2.LatLngFromDegrees(p.Lat, p.Lng),
		s2.LatLngFromDegrees(2*halfWidth, 2*halfWidth),
	)
	return rectBounds(rect)
}

func rectBounds(r s2.Rect) Bounds {
	lo, hi := r.Lo(), r.Hi()
	return Bounds{
		LatMin: lo.Lat.Degrees(),
		LatMax: hi.Lat.Degrees(),
		LonMin: lo.Lng.Degrees(),
		LonMax: hi.Lng.Degrees(),
	}
}
