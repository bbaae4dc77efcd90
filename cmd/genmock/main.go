// Command genmock generates the raw STI grid fixture used by the pipeline and
// integration test suites. Grids come from the synthetic STI source, so the
// fixture matches what the service serves when no STI API is configured.
// Every maskEvery-th cell (row-major) is written as null to exercise the
// masked-cell path.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock/sti_grids_240426.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/agroclimate-severity-service/internal/adapter/stiapi"
	"github.com/couchcryptid/agroclimate-severity-service/internal/domain"
	"github.com/couchcryptid/agroclimate-severity-service/internal/severity"
)

var (
	runs   = []string{"2024042600", "2024042612"}
	steps  = []string{"000", "024", "048", "072"}
	bounds = domain.Bounds{LatMin: -35, LatMax: -33, LonMin: -72, LonMax: -70}
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for the raw grid JSON fixture")
	maskEvery := flag.Int("mask-every", 13, "null out every n-th cell; 0 disables masking")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	source := stiapi.NewMockSource(clockwork.NewFakeClockAt(
		time.Date(2024, time.April, 26, 12, 0, 0, 0, time.UTC),
	))

	grids := make([]domain.GridSubset, 0, len(runs)*len(steps))
	for _, r := range runs {
		for _, s := range steps {
			subset, err := source.Subset(context.Background(), r, s, bounds)
			if err != nil {
				return fmt.Errorf("generate %s/%s: %w", r, s, err)
			}
			mask(subset, *maskEvery)
			grids = append(grids, subset)
		}
	}

	if err := writeJSON(*out, grids); err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}
	log.Printf("wrote %d grids: %s", len(grids), *out)

	printStats(grids)
	return nil
}

func mask(subset domain.GridSubset, every int) {
	if every <= 0 {
		return
	}
	k := 0
	for i := range subset.STI {
		for j := range subset.STI[i] {
			if k%every == every-1 {
				subset.STI[i][j] = math.NaN()
			}
			k++
		}
	}
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

// printStats prints the figures the fixture tests assert on.
func printStats(grids []domain.GridSubset) {
	fmt.Println("\n=== Stats for updating test assertions ===")
	totals := map[severity.Level]int{}
	var points, dropped, heat, cold int
	for _, g := range grids {
		layer := domain.BuildLayer(g)
		for l, n := range layer.Counts {
			totals[l] += n
		}
		points += layer.PointCount
		dropped += layer.Dropped
		heat += layer.ExtremeHeat
		cold += layer.ExtremeCold
		fmt.Printf("%s/%s: points=%d dropped=%d min=%.2f max=%.2f mean=%.3f\n",
			g.Run, g.Step, layer.PointCount, layer.Dropped, layer.Stats.Min, layer.Stats.Max, layer.Stats.Mean)
	}
	fmt.Printf("\nTotal points: %d, dropped: %d\n", points, dropped)
	fmt.Printf("Extremes: heat=%d cold=%d\n", heat, cold)
	for _, l := range severity.Levels() {
		fmt.Printf("  %-9s %d\n", l, totals[l])
	}
}
