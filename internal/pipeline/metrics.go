package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeParsed = "parsed"
	outcomeFailed = "failed"
)

// Metrics holds the Prometheus collectors updated by a run. A nil *Metrics
// records nothing.
type Metrics struct {
	entriesTotal     *prometheus.CounterVec
	compressedBytes  prometheus.Counter
	inflatedBytes    prometheus.Counter
	buffersAllocated prometheus.Gauge
	buffersPeak      prometheus.Gauge
	runDuration      prometheus.Gauge
	runsCancelled    prometheus.Counter
}

// NewMetrics creates the run collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		entriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rrstream_entries_total",
				Help: "Entries processed, by outcome and failure stage",
			},
			[]string{"outcome", "stage"},
		),
		compressedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "rrstream_compressed_bytes_total",
			Help: "Compressed bytes of entries that passed the integrity check",
		}),
		inflatedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "rrstream_inflated_bytes_total",
			Help: "Decompressed bytes of entries that passed the integrity check",
		}),
		buffersAllocated: f.NewGauge(prometheus.GaugeOpts{
			Name: "rrstream_buffers_allocated",
			Help: "Raw entry buffers allocated during the last run",
		}),
		buffersPeak: f.NewGauge(prometheus.GaugeOpts{
			Name: "rrstream_buffers_peak",
			Help: "Peak raw entry buffers in use during the last run",
		}),
		runDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "rrstream_run_duration_seconds",
			Help: "Wall time of the last run",
		}),
		runsCancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "rrstream_runs_cancelled_total",
			Help: "Runs that stopped before every entry was written",
		}),
	}
}

func (m *Metrics) observe(res Result) {
	if m == nil {
		return
	}
	if res.OK() {
		m.entriesTotal.WithLabelValues(outcomeParsed, "").Inc()
		return
	}
	m.entriesTotal.WithLabelValues(outcomeFailed, res.Err.Stage.String()).Inc()
}

func (m *Metrics) addBytes(compressed, inflated int) {
	if m == nil {
		return
	}
	m.compressedBytes.Add(float64(compressed))
	m.inflatedBytes.Add(float64(inflated))
}

func (m *Metrics) finish(s Summary, d time.Duration) {
	if m == nil {
		return
	}
	m.buffersAllocated.Set(float64(s.Buffers.Allocs))
	m.buffersPeak.Set(float64(s.Buffers.Peak))
	m.runDuration.Set(d.Seconds())
	if s.Cancelled {
		m.runsCancelled.Inc()
	}
}
