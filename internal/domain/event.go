package domain

import (
	"context"
	"time"

	"github.com/couchcryptid/agroclimate-severity-service/internal/severity"
)

// Message header keys.
const (
	HeaderContentEncoding = "content-encoding"
	HeaderRun             = "run"
	HeaderStep            = "step"
	HeaderProcessedAt     = "processed_at"

	EncodingZstd = "zstd"
)

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Bounds is a latitude/longitude box in degrees.
type Bounds struct {
	LatMin float64 `json:"lat_min"`
	LatMax float64 `json:"lat_max"`
	LonMin float64 `json:"lon_min"`
	LonMax float64 `json:"lon_max"`
}

// GridSubset is one fetched STI dataset. STI[i][j] belongs to Latitudes[i]
// and Longitudes[j]; NaN marks a masked cell.
type GridSubset struct {
	Run        string
	Step       string
	Latitudes  []float64
	Longitudes []float64
	STI        [][]float64
}

// GridStats summarizes the finite values of a subset. Mean is taken over
// clamped values.
type GridStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Valid int     `json:"valid"`
	Total int     `json:"total"`
}

// HeatmapLayer is the classified rendering of one subset.
type HeatmapLayer struct {
	ID          string                 `json:"id"`
	Run         string                 `json:"run"`
	Step        string                 `json:"step"`
	Stats       GridStats              `json:"stats"`
	Extent      *Bounds                `json:"extent,omitempty"`
	Counts      map[severity.Level]int `json:"counts"`
	ExtremeHeat int                    `json:"extreme_heat"`
	ExtremeCold int                    `json:"extreme_cold"`
	Dropped     int                    `json:"dropped"`
	PointCount  int                    `json:"point_count"`
	Points      []severity.Point       `json:"points"`
	ProcessedAt time.Time              `json:"processed_at"`
}

// OutputEvent is the serialized form destined for the sink topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}
