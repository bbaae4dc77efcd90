package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/agroclimate-severity-service/internal/domain"
	"github.com/couchcryptid/agroclimate-severity-service/internal/observability"
	"github.com/couchcryptid/agroclimate-severity-service/internal/pipeline"
	"github.com/couchcryptid/agroclimate-severity-service/internal/severity"
)

// --- mocks ---

type mockExtractor struct {
	mu      sync.Mutex
	batches [][]domain.RawEvent
	errs    []error
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawEvent, error) {
	m.mu.Lock()
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		m.mu.Unlock()
		return nil, err
	}
	if len(m.batches) > 0 {
		batch := m.batches[0]
		m.batches = m.batches[1:]
		m.mu.Unlock()
		return batch, nil
	}
	m.mu.Unlock()

	// block until context cancelled to simulate waiting for messages
	<-ctx.Done()
	return nil, ctx.Err()
}

// mockTransformer uses the message key as layer ID and the offset as step.
type mockTransformer struct {
	failKey string
}

func (m *mockTransformer) Transform(_ context.Context, raw domain.RawEvent) (domain.HeatmapLayer, error) {
	if m.failKey != "" && string(raw.Key) == m.failKey {
		return domain.HeatmapLayer{}, errors.New("bad grid")
	}
	return domain.HeatmapLayer{
		ID:   string(raw.Key),
		Run:  "2024042600",
		Step: fmt.Sprintf("%03d", raw.Offset),
	}, nil
}

// mockLoader records published layers. Layers whose ID is in unencodable are
// dropped the way the Kafka writer drops layers it cannot serialize.
type mockLoader struct {
	mu          sync.Mutex
	loaded      []domain.HeatmapLayer
	unencodable map[string]bool
	failures    atomic.Int32
}

func (m *mockLoader) LoadBatch(_ context.Context, layers []domain.HeatmapLayer) (int, error) {
	if m.failures.Load() > 0 {
		m.failures.Add(-1)
		return 0, errors.New("broker unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range layers {
		if m.unencodable[l.ID] {
			continue
		}
		m.loaded = append(m.loaded, l)
		n++
	}
	return n, nil
}

func (m *mockLoader) steps() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	steps := make([]string, len(m.loaded))
	for i, l := range m.loaded {
		steps[i] = l.Step
	}
	return steps
}

func (m *mockLoader) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.loaded))
	for i, l := range m.loaded {
		ids[i] = l.ID
	}
	return ids
}

type commitRecorder struct {
	mu      sync.Mutex
	offsets []int64
}

func (c *commitRecorder) event(key string, offset int64) domain.RawEvent {
	return domain.RawEvent{
		Key:    []byte(key),
		Topic:  "raw-sti-grids",
		Offset: offset,
		Commit: func(_ context.Context) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.offsets = append(c.offsets, offset)
			return nil
		},
	}
}

func (c *commitRecorder) committed() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.offsets...)
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

func runFor(t *testing.T, p *pipeline.Pipeline, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	rec := &commitRecorder{}
	ext := &mockExtractor{batches: [][]domain.RawEvent{
		{rec.event("a", 1), rec.event("b", 2)},
	}}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger, metrics, 10)
	runFor(t, p, 300*time.Millisecond)

	assert.Equal(t, []string{"a", "b"}, ldr.ids())
	assert.Equal(t, []int64{1, 2}, rec.committed())
	assert.NoError(t, p.CheckReadiness(context.Background()))
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.MessagesConsumed), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.MessagesProduced), 0)
	assert.InDelta(t, 0.0, testutil.ToFloat64(metrics.PipelineRunning), 0, "gauge reset on exit")
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ldr := &mockLoader{}
	p := pipeline.New(&mockExtractor{}, &mockTransformer{}, ldr, discardLogger, newTestMetrics(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.ids())
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_TransformErrorSkipsAndCommits(t *testing.T) {
	rec := &commitRecorder{}
	ext := &mockExtractor{batches: [][]domain.RawEvent{
		{rec.event("good", 1), rec.event("poison", 2), rec.event("good-2", 3)},
	}}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, &mockTransformer{failKey: "poison"}, ldr, discardLogger, metrics, 10)
	runFor(t, p, 300*time.Millisecond)

	assert.Equal(t, []string{"good", "good-2"}, ldr.ids())
	assert.ElementsMatch(t, []int64{1, 2, 3}, rec.committed(), "poison message offset is committed too")
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.TransformErrors), 0)
}

func TestPipeline_Run_AllTransformsFail(t *testing.T) {
	rec := &commitRecorder{}
	ext := &mockExtractor{batches: [][]domain.RawEvent{{rec.event("poison", 9)}}}
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTransformer{failKey: "poison"}, ldr, discardLogger, newTestMetrics(), 10)
	runFor(t, p, 300*time.Millisecond)

	assert.Empty(t, ldr.ids())
	assert.Equal(t, []int64{9}, rec.committed())
	assert.Error(t, p.CheckReadiness(context.Background()), "nothing published yet")
}

func TestPipeline_Run_LoadFailureDoesNotCommit(t *testing.T) {
	rec := &commitRecorder{}
	ext := &mockExtractor{batches: [][]domain.RawEvent{{rec.event("a", 1)}}}
	ldr := &mockLoader{}
	ldr.failures.Store(1)

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger, newTestMetrics(), 10)
	runFor(t, p, 500*time.Millisecond)

	assert.Empty(t, ldr.ids())
	assert.Empty(t, rec.committed(), "offsets stay uncommitted so the batch is redelivered")
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_ExtractErrorBacksOffAndRecovers(t *testing.T) {
	rec := &commitRecorder{}
	ext := &mockExtractor{
		errs:    []error{errors.New("coordinator not available")},
		batches: [][]domain.RawEvent{{rec.event("after-retry", 1)}},
	}
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger, newTestMetrics(), 10)
	runFor(t, p, time.Second)

	assert.Equal(t, []string{"after-retry"}, ldr.ids())
}

func TestPipeline_Run_NilCommitIsIgnored(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawEvent{{{Key: []byte("x")}}}}
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger, newTestMetrics(), 10)
	runFor(t, p, 300*time.Millisecond)

	assert.Equal(t, []string{"x"}, ldr.ids())
}

func TestPipeline_Run_LatestGridWinsWithinBatch(t *testing.T) {
	rec := &commitRecorder{}
	ext := &mockExtractor{batches: [][]domain.RawEvent{
		{rec.event("sti-a", 1), rec.event("sti-b", 2), rec.event("sti-a", 3)},
	}}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger, metrics, 10)
	runFor(t, p, 300*time.Millisecond)

	assert.Equal(t, []string{"sti-a", "sti-b"}, ldr.ids(), "one layer per ID in first-seen order")
	assert.Equal(t, []string{"003", "002"}, ldr.steps(), "the later grid replaces the earlier one")
	assert.ElementsMatch(t, []int64{1, 2, 3}, rec.committed())
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.LayersSuperseded), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.MessagesProduced), 0)
}

func TestPipeline_Run_UnencodableLayerIsSkippedAndCommitted(t *testing.T) {
	rec := &commitRecorder{}
	ext := &mockExtractor{batches: [][]domain.RawEvent{
		{rec.event("overflow", 1), rec.event("ok", 2)},
	}}
	ldr := &mockLoader{unencodable: map[string]bool{"overflow": true}}
	metrics := newTestMetrics()

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger, metrics, 10)
	runFor(t, p, 300*time.Millisecond)

	assert.Equal(t, []string{"ok"}, ldr.ids())
	assert.Equal(t, []int64{1, 2}, rec.committed(), "the batch is not redelivered")
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.LayersSkipped), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.MessagesProduced), 0)
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_OnlyUnencodableLayersLeavesNotReady(t *testing.T) {
	rec := &commitRecorder{}
	ext := &mockExtractor{batches: [][]domain.RawEvent{{rec.event("overflow", 4)}}}
	ldr := &mockLoader{unencodable: map[string]bool{"overflow": true}}

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger, newTestMetrics(), 10)
	runFor(t, p, 300*time.Millisecond)

	assert.Empty(t, ldr.ids())
	assert.Equal(t, []int64{4}, rec.committed())
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestLayerTransformer_Transform(t *testing.T) {
	fakeClock := clockwork.NewFakeClockAt(time.Date(2024, time.April, 26, 15, 10, 0, 0, time.UTC))
	domain.SetClock(fakeClock)
	t.Cleanup(func() {
		domain.SetClock(nil)
	})

	raw := domain.RawEvent{Value: []byte(`{
		"run": "2024042600", "step": "024",
		"latitudes": [-33.0, -33.25],
		"longitudes": [-71.0, -70.75],
		"sti": [[0.5, 4.5], [null, -3.5]]
	}`)}
	metrics := newTestMetrics()

	tfm := pipeline.NewTransformer(0, metrics, discardLogger)
	layer, err := tfm.Transform(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, "2024042600", layer.Run)
	assert.Equal(t, fakeClock.Now(), layer.ProcessedAt)
	assert.Equal(t, 3, layer.PointCount)
	assert.Equal(t, 1, layer.Dropped)

	type pointSummary struct {
		Lat, Lng float64
		Severity severity.Level
	}
	got := make([]pointSummary, len(layer.Points))
	for i, p := range layer.Points {
		got[i] = pointSummary{p.Lat, p.Lng, p.Severity}
	}
	want := []pointSummary{
		{-33.0, -71.0, severity.VeryLow},
		{-33.0, -70.75, severity.VeryHigh},
		{-33.25, -70.75, severity.High},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("points mismatch (-want +got):\n%s", diff)
	}

	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.LayerPoints.WithLabelValues("VERY_HIGH")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.ExtremeCells.WithLabelValues("heat")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.ExtremeCells.WithLabelValues("cold")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.DroppedCells), 0)
}

func TestLayerTransformer_SamplesToMaxPoints(t *testing.T) {
	raw := domain.RawEvent{Value: []byte(`{
		"run": "2024042600", "step": "000",
		"latitudes": [1, 2],
		"longitudes": [1, 2, 3, 4, 5],
		"sti": [[1, 2, 3, 4, 5], [1, 2, 3, 4, 5]]
	}`)}

	tfm := pipeline.NewTransformer(4, newTestMetrics(), discardLogger)
	layer, err := tfm.Transform(context.Background(), raw)
	require.NoError(t, err)

	assert.LessOrEqual(t, len(layer.Points), 4)
	assert.Equal(t, 10, layer.PointCount, "point count describes the full grid")
}

func TestLayerTransformer_InvalidPayload(t *testing.T) {
	tfm := pipeline.NewTransformer(0, newTestMetrics(), discardLogger)

	_, err := tfm.Transform(context.Background(), domain.RawEvent{Value: []byte("not json")})
	require.Error(t, err)

	_, err = tfm.Transform(context.Background(), domain.RawEvent{Value: []byte(`{"sti":[[1]]}`)})
	require.ErrorIs(t, err, domain.ErrIncompleteGrid)
}
