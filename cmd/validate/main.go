// Command validate performs integrity checks on the raw STI grid fixture and,
// optionally, on heatmap layers captured from the sink topic. It verifies
// grid shape, axis ordering, layer derivation, and that any published layer
// matches what the grid it came from would produce today.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -grids data/mock/sti_grids_240426.json \
//	  -layers /tmp/sti_heatmap_layers.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/agroclimate-severity-service/internal/domain"
	"github.com/couchcryptid/agroclimate-severity-service/internal/severity"
)

const eps = 1e-9

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	gridsPath := flag.String("grids", "", "path to the raw STI grid JSON fixture")
	layersPath := flag.String("layers", "", "optional path to a JSON array of published heatmap layers")
	flag.Parse()

	if *gridsPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*gridsPath, *layersPath); code != 0 {
		os.Exit(code)
	}
}

func run(gridsPath, layersPath string) int {
	// Fixed clock so rebuilt layers are comparable across runs.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2024, time.April, 26, 12, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	fmt.Println("=== STI Grid Integrity Validation ===")
	fmt.Println()

	grids, err := loadJSON[domain.GridSubset](gridsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load grids: %v\n", err)
		return 1
	}

	var layers []domain.HeatmapLayer
	if layersPath != "" {
		layers, err = loadJSON[domain.HeatmapLayer](layersPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load layers: %v\n", err)
			return 1
		}
	}

	phases := []*phase{
		validateGridShape(grids),
		validateAxisOrdering(grids),
		validateLayerDerivation(grids),
		validateLegend(),
	}
	if layersPath != "" {
		phases = append(phases, validatePublishedLayers(layers, grids))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Grids: %d (%d cells), published layers: %d\n", len(grids), countCells(grids), len(layers))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: grid shape ──

func validateGridShape(grids []domain.GridSubset) *phase {
	p := &phase{name: "Phase 1: Grid shape"}
	fmt.Println("Phase 1: Grid shape")

	if len(grids) == 0 {
		p.errorf("fixture has no grids")
		return p
	}

	seen := make(map[string]bool, len(grids))
	for _, g := range grids {
		id := g.Run + "/" + g.Step
		if g.Run == "" || g.Step == "" {
			p.errorf("grid %q: missing run or step", id)
		}
		if seen[id] {
			p.errorf("grid %q: duplicate run/step", id)
		}
		seen[id] = true

		if len(g.STI) != len(g.Latitudes) {
			p.errorf("grid %q: %d rows for %d latitudes", id, len(g.STI), len(g.Latitudes))
		}
		for i, row := range g.STI {
			if len(row) != len(g.Longitudes) {
				p.errorf("grid %q: row %d has %d cells for %d longitudes", id, i, len(row), len(g.Longitudes))
			}
		}
	}

	fmt.Printf("  %d grids, %d distinct run/step pairs\n", len(grids), len(seen))
	return p
}

// ── Phase 2: axis ordering ──

func validateAxisOrdering(grids []domain.GridSubset) *phase {
	p := &phase{name: "Phase 2: Axis ordering"}
	fmt.Println("Phase 2: Axis ordering")

	for _, g := range grids {
		id := g.Run + "/" + g.Step
		if err := checkAxis(g.Latitudes, -90, 90); err != nil {
			p.errorf("grid %q latitudes: %v", id, err)
		}
		if err := checkAxis(g.Longitudes, -180, 180); err != nil {
			p.errorf("grid %q longitudes: %v", id, err)
		}
	}

	fmt.Printf("  checked %d latitude and longitude axes\n", len(grids))
	return p
}

// checkAxis requires finite, in-range, strictly monotonic, evenly spaced
// coordinates.
func checkAxis(axis []float64, lo, hi float64) error {
	for i, v := range axis {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("index %d is not finite", i)
		}
		if v < lo || v > hi {
			return fmt.Errorf("index %d (%g) outside [%g, %g]", i, v, lo, hi)
		}
	}
	if len(axis) < 2 {
		return nil
	}

	spacing := axis[1] - axis[0]
	if spacing == 0 {
		return fmt.Errorf("repeated coordinate %g", axis[0])
	}
	for i := 2; i < len(axis); i++ {
		d := axis[i] - axis[i-1]
		if math.Signbit(d) != math.Signbit(spacing) || d == 0 {
			return fmt.Errorf("not monotonic at index %d", i)
		}
		if math.Abs(d-spacing) > 1e-6 {
			return fmt.Errorf("uneven spacing at index %d: %g vs %g", i, d, spacing)
		}
	}
	return nil
}

// ── Phase 3: layer derivation ──

func validateLayerDerivation(grids []domain.GridSubset) *phase {
	p := &phase{name: "Phase 3: Layer derivation"}
	fmt.Println("Phase 3: Layer derivation")

	totals := make(map[severity.Level]int)
	var points, dropped int
	for _, g := range grids {
		id := g.Run + "/" + g.Step
		layer := domain.BuildLayer(g)

		if layer.PointCount+layer.Dropped != layer.Stats.Total {
			p.errorf("grid %q: %d points + %d dropped != %d cells", id, layer.PointCount, layer.Dropped, layer.Stats.Total)
		}
		if layer.PointCount != layer.Stats.Valid {
			p.errorf("grid %q: %d points but %d finite cells", id, layer.PointCount, layer.Stats.Valid)
		}

		sum := 0
		for _, l := range severity.Levels() {
			sum += layer.Counts[l]
			totals[l] += layer.Counts[l]
		}
		if sum != layer.PointCount {
			p.errorf("grid %q: histogram sums to %d, want %d", id, sum, layer.PointCount)
		}

		heat, cold := 0, 0
		for i, pt := range layer.Points {
			for _, msg := range checkPoint(pt, layer.Extent) {
				p.errorf("grid %q point %d: %s", id, i, msg)
			}
			if severity.IsExtremeHeat(pt.RawValue) {
				heat++
			}
			if severity.IsExtremeCold(pt.RawValue) {
				cold++
			}
		}
		if heat != layer.ExtremeHeat || cold != layer.ExtremeCold {
			p.errorf("grid %q: extremes %d/%d, counted %d/%d", id, layer.ExtremeHeat, layer.ExtremeCold, heat, cold)
		}

		points += layer.PointCount
		dropped += layer.Dropped
	}

	fmt.Printf("  %d points, %d dropped\n", points, dropped)
	for _, l := range severity.Levels() {
		fmt.Printf("    %-9s %d\n", l, totals[l])
	}
	return p
}

func checkPoint(pt severity.Point, extent *domain.Bounds) []string {
	var msgs []string
	if pt.RawValue < severity.ClampMin || pt.RawValue > severity.ClampMax {
		msgs = append(msgs, fmt.Sprintf("raw value %g outside clamp range", pt.RawValue))
	}
	if want := math.Min(1, math.Abs(pt.RawValue)/severity.SeverityRef); math.Abs(pt.Intensity-want) > eps {
		msgs = append(msgs, fmt.Sprintf("intensity %g, want %g", pt.Intensity, want))
	}
	if pt.RelativeIntensity < 0 || pt.RelativeIntensity > 1 {
		msgs = append(msgs, fmt.Sprintf("relative intensity %g outside [0, 1]", pt.RelativeIntensity))
	}
	if want := severity.Categorize(pt.RawValue); pt.Severity != want {
		msgs = append(msgs, fmt.Sprintf("severity %s, want %s", pt.Severity, want))
	}
	if extent != nil && (pt.Lat < extent.LatMin-eps || pt.Lat > extent.LatMax+eps ||
		pt.Lng < extent.LonMin-eps || pt.Lng > extent.LonMax+eps) {
		msgs = append(msgs, fmt.Sprintf("(%g, %g) outside layer extent", pt.Lat, pt.Lng))
	}
	return msgs
}

// ── Phase 4: legend alignment ──

func validateLegend() *phase {
	p := &phase{name: "Phase 4: Legend alignment"}
	fmt.Println("Phase 4: Legend alignment")

	colors := make(map[string]severity.Level)
	prev := math.Inf(-1)
	for _, l := range severity.Levels() {
		threshold, ok := severity.Threshold(l)
		if !ok {
			p.errorf("level %s has no threshold", l)
			continue
		}
		if threshold <= prev {
			p.errorf("level %s threshold %g not above %g", l, threshold, prev)
		}
		prev = threshold
		if got := severity.Categorize(threshold); got != l {
			p.errorf("threshold %g of %s categorizes as %s", threshold, l, got)
		}
		if other, dup := colors[severity.Color(l)]; dup {
			p.errorf("levels %s and %s share color %s", other, l, severity.Color(l))
		}
		colors[severity.Color(l)] = l
		if severity.Label(l) == "" || severity.Recommendation(l) == "" {
			p.errorf("level %s is missing a label or recommendation", l)
		}
	}

	stops := severity.Gradient()
	for i, s := range stops {
		if s.Offset < 0 || s.Offset > 1 || (i > 0 && s.Offset <= stops[i-1].Offset) {
			p.errorf("gradient stop %d offset %g out of order", i, s.Offset)
		}
	}
	if n := len(stops); n == 0 || stops[0].Offset != 0 || stops[n-1].Offset != 1 {
		p.errorf("gradient does not span [0, 1]")
	}

	fmt.Printf("  %d levels, %d gradient stops\n", len(severity.Levels()), len(stops))
	return p
}

// ── Phase 5: published layers ──

func validatePublishedLayers(layers []domain.HeatmapLayer, grids []domain.GridSubset) *phase {
	p := &phase{name: "Phase 5: Published layers match grids"}
	fmt.Println("Phase 5: Published layers match grids")

	rebuilt := make(map[string]domain.HeatmapLayer, len(grids))
	for _, g := range grids {
		l := domain.BuildLayer(g)
		rebuilt[l.ID] = l
	}

	for _, got := range layers {
		want, ok := rebuilt[got.ID]
		if !ok {
			p.errorf("layer %s (%s/%s): no matching grid", got.ID, got.Run, got.Step)
			continue
		}
		if got.PointCount != want.PointCount || got.Dropped != want.Dropped {
			p.errorf("layer %s: %d points/%d dropped, want %d/%d", got.ID, got.PointCount, got.Dropped, want.PointCount, want.Dropped)
		}
		if got.ExtremeHeat != want.ExtremeHeat || got.ExtremeCold != want.ExtremeCold {
			p.errorf("layer %s: extremes %d/%d, want %d/%d", got.ID, got.ExtremeHeat, got.ExtremeCold, want.ExtremeHeat, want.ExtremeCold)
		}
		for _, l := range severity.Levels() {
			if got.Counts[l] != want.Counts[l] {
				p.errorf("layer %s: %s count %d, want %d", got.ID, l, got.Counts[l], want.Counts[l])
			}
		}
		if len(got.Points) > want.PointCount {
			p.errorf("layer %s: %d points published, grid only has %d", got.ID, len(got.Points), want.PointCount)
		}

		byCell := make(map[[2]float64]severity.Point, len(want.Points))
		for _, pt := range want.Points {
			byCell[[2]float64{pt.Lat, pt.Lng}] = pt
		}
		for _, pt := range got.Points {
			ref, ok := byCell[[2]float64{pt.Lat, pt.Lng}]
			if !ok {
				p.errorf("layer %s: point (%g, %g) not on the grid", got.ID, pt.Lat, pt.Lng)
				continue
			}
			if ref.Severity != pt.Severity || math.Abs(ref.Intensity-pt.Intensity) > eps {
				p.errorf("layer %s: point (%g, %g) is %s/%g, want %s/%g",
					got.ID, pt.Lat, pt.Lng, pt.Severity, pt.Intensity, ref.Severity, ref.Intensity)
			}
		}
	}

	fmt.Printf("  %d layers checked against %d grids\n", len(layers), len(grids))
	return p
}

// ── Helpers ──

func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []T
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func countCells(grids []domain.GridSubset) int {
	n := 0
	for _, g := range grids {
		n += len(g.Latitudes) * len(g.Longitudes)
	}
	return n
}
