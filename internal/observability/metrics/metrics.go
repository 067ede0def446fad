package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for the diagnosis pipeline.
type PipelineMetrics struct {
	stageTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	riskTotal     *prometheus.CounterVec
	exportTotal   *prometheus.CounterVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		stageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xray",
			Subsystem: "pipeline",
			Name:      "stage_total",
			Help:      "Pipeline stage outcomes",
		}, []string{"stage", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "xray",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Latency of each pipeline stage",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		riskTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xray",
			Subsystem: "pipeline",
			Name:      "risk_tier_total",
			Help:      "Completed diagnoses by risk tier",
		}, []string{"tier"}),
		exportTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xray",
			Subsystem: "report",
			Name:      "export_total",
			Help:      "PDF report exports by outcome",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.stageTotal, m.stageDuration, m.riskTotal, m.exportTotal)
	return m
}

func (m *PipelineMetrics) ObserveStage(stage, status string, seconds float64) {
	if m == nil {
		return
	}
	m.stageTotal.WithLabelValues(stage, status).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}

func (m *PipelineMetrics) ObserveRisk(tier string) {
	if m == nil {
		return
	}
	m.riskTotal.WithLabelValues(tier).Inc()
}

func (m *PipelineMetrics) ObserveExport(status string) {
	if m == nil {
		return
	}
	m.exportTotal.WithLabelValues(status).Inc()
}
