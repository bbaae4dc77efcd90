package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agroclimate"

// Metrics holds the Prometheus counters, histograms, and gauges for the service.
type Metrics struct {
	MessagesConsumed prometheus.Counter
	MessagesProduced prometheus.Counter
	TransformErrors  prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Layers that were built but not published on their own.
	LayersSkipped    prometheus.Counter
	LayersSuperseded prometheus.Counter

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Layer content metrics.
	LayerPoints  *prometheus.CounterVec // labels: severity={VERY_LOW,...,VERY_HIGH}
	ExtremeCells *prometheus.CounterVec // labels: kind={heat,cold}
	DroppedCells prometheus.Counter

	// STI source metrics.
	SourceRequests    *prometheus.CounterVec   // labels: method={runs,steps,subset}, outcome={success,error,breaker_open}
	SourceCache       *prometheus.CounterVec   // labels: method={runs,steps,subset}, result={hit,miss}
	SourceAPIDuration *prometheus.HistogramVec // labels: method={runs,steps,subset}
	SourceMock        prometheus.Gauge
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics registered nowhere, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total raw grid messages read from the source topic.",
		}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_produced_total",
			Help:      "Total heatmap layers written to the sink topic.",
		}),
		TransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_errors_total",
			Help:      "Total raw grid messages that could not be transformed.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		LayersSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layers_skipped_total",
			Help:      "Heatmap layers dropped at publish time because they could not be encoded.",
		}),
		LayersSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layers_superseded_total",
			Help:      "Heatmap layers replaced by a later grid with the same ID in one batch.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of messages per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-transform-load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		LayerPoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layer_points_total",
			Help:      "Classified points emitted into heatmap layers, by severity.",
		}, []string{"severity"}),
		ExtremeCells: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extreme_cells_total",
			Help:      "Points in the extreme heat or cold tail.",
		}, []string{"kind"}),
		DroppedCells: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_cells_total",
			Help:      "Grid cells dropped for missing coordinates or values.",
		}),
		SourceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sti_requests_total",
			Help:      "STI API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		SourceCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sti_cache_total",
			Help:      "STI cache lookups by method and result.",
		}, []string{"method", "result"}),
		SourceAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sti_api_duration_seconds",
			Help:      "STI API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		SourceMock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sti_mock_source",
			Help:      "1 when layers come from the synthetic source, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesConsumed,
		m.MessagesProduced,
		m.TransformErrors,
		m.PipelineRunning,
		m.LayersSkipped,
		m.LayersSuperseded,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.LayerPoints,
		m.ExtremeCells,
		m.DroppedCells,
		m.SourceRequests,
		m.SourceCache,
		m.SourceAPIDuration,
		m.SourceMock,
	}
}
