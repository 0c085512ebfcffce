package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors. It observes stages, the timing
// reconstructor and mux stages.
type Metrics struct {
	registry       *prometheus.Registry
	inputDepth     *prometheus.GaugeVec
	outputDepth    *prometheus.GaugeVec
	stallsTotal    *prometheus.CounterVec
	voidsTotal     *prometheus.CounterVec
	discardedTotal *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec
	blobsTotal     *prometheus.CounterVec
	bytesTotal     *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		inputDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mfx_stage_input_depth",
			Help: "Items waiting in a stage's input ring",
		}, []string{"stage"}),
		outputDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mfx_stage_output_depth",
			Help: "Items waiting in a stage's output ring",
		}, []string{"stage"}),
		stallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mfx_stage_stalls_total",
			Help: "Stall warnings raised for stages that stopped making progress",
		}, []string{"stage"}),
		voidsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mfx_stage_voids_total",
			Help: "Stages that failed and sank into void mode",
		}, []string{"stage"}),
		discardedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mfx_stage_discarded_total",
			Help: "Items released without being passed on",
		}, []string{"stage"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mfx_timing_frames_discarded_total",
			Help: "Decoded frames dropped by timing reconstruction",
		}, []string{"reason"}),
		blobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mfx_mux_blobs_total",
			Help: "Blobs emitted by muxers",
		}, []string{"mime"}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mfx_mux_bytes_total",
			Help: "Bytes emitted by muxers",
		}, []string{"mime"}),
	}

	registry.MustRegister(
		m.inputDepth,
		m.outputDepth,
		m.stallsTotal,
		m.voidsTotal,
		m.discardedTotal,
		m.framesDropped,
		m.blobsTotal,
		m.bytesTotal,
	)
	return m
}

func (m *Metrics) QueueDepth(stage string, in, out int) {
	m.inputDepth.WithLabelValues(stage).Set(float64(in))
	m.outputDepth.WithLabelValues(stage).Set(float64(out))
}

func (m *Metrics) Stalled(stage string) { m.stallsTotal.WithLabelValues(stage).Inc() }

func (m *Metrics) Voided(stage string) { m.voidsTotal.WithLabelValues(stage).Inc() }

func (m *Metrics) Discarded(stage string, n int) {
	m.discardedTotal.WithLabelValues(stage).Add(float64(n))
}

func (m *Metrics) FrameDiscarded(reason string) { m.framesDropped.WithLabelValues(reason).Inc() }

func (m *Metrics) BlobEmitted(mime string, bytes int) {
	m.blobsTotal.WithLabelValues(mime).Inc()
	m.bytesTotal.WithLabelValues(mime).Add(float64(bytes))
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
