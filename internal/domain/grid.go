package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/agroclimate-severity-service/internal/severity"
)

// Mesh holds per-cell parallel coordinate and value slices.
type Mesh struct {
	Latitudes  []float64
	Longitudes []float64
	Values     []float64
}

// Len returns the number of cells in the mesh.
func (m Mesh) Len() int { return len(m.Values) }

// Mesh expands the axes into one entry per cell, latitude outer. Rows beyond
// the latitude axis are ignored; a cell whose longitude index exceeds the
// longitude axis gets a NaN longitude so the transform drops it.
func (g GridSubset) Mesh() Mesh {
	rows := min(len(g.STI), len(g.Latitudes))

	size := 0
	for i := 0; i < rows; i++ {
		size += len(g.STI[i])
	}

	m := Mesh{
		Latitudes:  make([]float64, 0, size),
		Longitudes: make([]float64, 0, size),
		Values:     make([]float64, 0, size),
	}
	for i := 0; i < rows; i++ {
		for j, v := range g.STI[i] {
			lon := math.NaN()
			if j < len(g.Longitudes) {
				lon = g.Longitudes[j]
			}
			m.Latitudes = append(m.Latitudes, g.Latitudes[i])
			m.Longitudes = append(m.Longitudes, lon)
			m.Values = append(m.Values, v)
		}
	}
	return m
}

// Stats reports the raw min and max over finite STI values. The mean
// averages those values clamped to the severity bounds so it stays finite.
// With no finite values it reports Min 0, Max 1, Mean 0.
func (g GridSubset) Stats() GridStats {
	var valid, clamped []float64
	total := 0
	for _, row := range g.STI {
		total += len(row)
		for _, v := range row {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				valid = append(valid, v)
				clamped = append(clamped, severity.Clamp(v))
			}
		}
	}

	if len(valid) == 0 {
		return GridStats{Min: 0, Max: 1, Mean: 0, Total: total}
	}
	return GridStats{
		Min:   floats.Min(valid),
		Max:   floats.Max(valid),
		Mean:  stat.Mean(clamped, nil),
		Valid: len(valid),
		Total: total,
	}
}

// CellHalfWidth returns half the smallest positive step between adjacent
// axis values, or 0 when neither axis has one.
func (g GridSubset) CellHalfWidth() float64 {
	spacing := math.Inf(1)
	for _, axis := range [][]float64{g.Latitudes, g.Longitudes} {
		for i := 1; i < len(axis); i++ {
			if d := math.Abs(axis[i] - axis[i-1]); d > 0 && !math.IsInf(d, 0) {
				spacing = min(spacing, d)
			}
		}
	}
	if math.IsInf(spacing, 1) {
		return 0
	}
	return spacing / 2
}

// gridWire is the JSON shape of a subset. Masked cells are null.
type gridWire struct {
	Run        string       `json:"run"`
	Step       string       `json:"step"`
	Latitudes  []float64    `json:"latitudes"`
	Longitudes []float64    `json:"longitudes"`
	STI        [][]*float64 `json:"sti"`
}

// MarshalJSON encodes NaN and infinite cells as null.
func (g GridSubset) MarshalJSON() ([]byte, error) {
	w := gridWire{
		Run:        g.Run,
		Step:       g.Step,
		Latitudes:  finiteOrZero(g.Latitudes),
		Longitudes: finiteOrZero(g.Longitudes),
		STI:        make([][]*float64, len(g.STI)),
	}
	for i, row := range g.STI {
		w.STI[i] = make([]*float64, len(row))
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			w.STI[i][j] = &row[j]
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes null cells to NaN.
func (g *GridSubset) UnmarshalJSON(data []byte) error {
	var w gridWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	sti := make([][]float64, len(w.STI))
	for i, row := range w.STI {
		sti[i] = make([]float64, len(row))
		for j, v := range row {
			if v == nil {
				sti[i][j] = math.NaN()
				continue
			}
			sti[i][j] = *v
		}
	}

	*g = GridSubset{
		Run:        w.Run,
		Step:       w.Step,
		Latitudes:  w.Latitudes,
		Longitudes: w.Longitudes,
		STI:        sti,
	}
	return nil
}

// JSON cannot carry NaN axis entries; they are written as 0 and would be
// re-read as a real coordinate, so producers should not emit them.
func finiteOrZero(axis []float64) []float64 {
	out := make([]float64, len(axis))
	for i, v := range axis {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[i] = v
		}
	}
	return out
}

var (
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil)
	})
)

// CompressZstd compresses a payload for a "content-encoding: zstd" message.
func CompressZstd(data []byte) ([]byte, error) {
	enc, err := zstdEncoder()
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return enc.EncodeAll(data, nil), nil
}

// DecompressZstd reverses CompressZstd.
func DecompressZstd(data []byte) ([]byte, error) {
	dec, err := zstdDecoder()
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return out, nil
}
