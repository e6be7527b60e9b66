package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/seventv/presence/internal/svc/presences"
)

type Instance interface {
	Register(r prometheus.Registerer)

	ObserveWrite(store string, state presences.State, err error)
	ObserveObligation(err error)
	ObservePipelineFailure(step string)
	ObserveFired(source string, records int64)
}

type Options struct {
	Labels prometheus.Labels
}

type inst struct {
	writes           *prometheus.CounterVec
	writeErrors      *prometheus.CounterVec
	obligations      *prometheus.CounterVec
	pipelineFailures *prometheus.CounterVec
	fired            *prometheus.CounterVec
}

func New(o Options) Instance {
	return &inst{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "presence_writes_total",
			Help:        "The total number of presence records written",
			ConstLabels: o.Labels,
		}, []string{"store", "state"}),
		writeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "presence_write_errors_total",
			Help:        "The total number of failed presence writes",
			ConstLabels: o.Labels,
		}, []string{"store"}),
		obligations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "presence_disconnect_registrations_total",
			Help:        "The total number of disconnect obligations registered",
			ConstLabels: o.Labels,
		}, []string{"result"}),
		pipelineFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "presence_pipeline_failures_total",
			Help:        "The total number of presence updates aborted, by failing step",
			ConstLabels: o.Labels,
		}, []string{"step"}),
		fired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "presence_disconnect_fired_total",
			Help:        "The total number of records written by fired disconnect obligations",
			ConstLabels: o.Labels,
		}, []string{"source"}),
	}
}

func (m *inst) Register(r prometheus.Registerer) {
	r.MustRegister(
		m.writes,
		m.writeErrors,
		m.obligations,
		m.pipelineFailures,
		m.fired,
	)
}

func (m *inst) ObserveWrite(store string, state presences.State, err error) {
	if err != nil {
		m.writeErrors.WithLabelValues(store).Inc()

		return
	}

	m.writes.WithLabelValues(store, string(state)).Inc()
}

func (m *inst) ObserveObligation(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}

	m.obligations.WithLabelValues(result).Inc()
}

func (m *inst) ObservePipelineFailure(step string) {
	m.pipelineFailures.WithLabelValues(step).Inc()
}

func (m *inst) ObserveFired(source string, records int64) {
	m.fired.WithLabelValues(source).Add(float64(records))
}
