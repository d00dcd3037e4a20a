// Package metrics exposes Prometheus counters for the hub's boot and form
// flows. A nil *Recorder records nothing.
package metrics

import (
	"errors"

	"github.com/dalemusser/authhub/internal/app/system/boot"
	"github.com/dalemusser/authhub/internal/app/system/flow"
	"github.com/dalemusser/authhub/internal/app/system/handoff"
	"github.com/dalemusser/authhub/internal/app/system/identity"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every hub metric.
const Namespace = "authhub"

// Recorder implements boot.Observer.
type Recorder struct {
	probes      *prometheus.CounterVec
	handoffs    *prometheus.CounterVec
	logouts     prometheus.Counter
	submissions *prometheus.CounterVec
	backend     *prometheus.GaugeVec
}

var _ boot.Observer = (*Recorder)(nil)

// New registers the hub metrics with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		probes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "session_probes_total",
			Help:      "Initial session lookups by outcome",
		}, []string{"outcome"}),

		handoffs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "handoffs_total",
			Help:      "Session hand-off decisions by result",
		}, []string{"result"}),

		logouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "logouts_total",
			Help:      "Completed logout redirects",
		}),

		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "form_submissions_total",
			Help:      "Form submissions by form and result",
		}, []string{"form", "result"}),

		backend: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "identity_backend_info",
			Help:      "Selected identity backend adapter (value is always 1)",
		}, []string{"version"}),
	}
}

func (r *Recorder) Probed(outcome boot.ProbeOutcome) {
	if r == nil {
		return
	}
	r.probes.WithLabelValues(string(outcome)).Inc()
}

func (r *Recorder) HandedOff(result handoff.Result, _ *identity.Session) {
	if r == nil {
		return
	}
	r.handoffs.WithLabelValues(result.String()).Inc()
}

func (r *Recorder) LoggedOut() {
	if r == nil {
		return
	}
	r.logouts.Inc()
}

// Submitted counts a form submission under one of the Result values.
func (r *Recorder) Submitted(form, result string) {
	if r == nil {
		return
	}
	r.submissions.WithLabelValues(form, result).Inc()
}

// Form submission results.
const (
	ResultOK       = "ok"
	ResultInvalid  = "invalid"
	ResultRejected = "rejected"
	ResultError    = "error"
	ResultLimited  = "limited"
)

// ResultOf classifies the outcome of a form submission.
func ResultOf(err error) string {
	var ve *flow.ValidationError
	var ie *identity.Error
	switch {
	case err == nil:
		return ResultOK
	case errors.As(err, &ve):
		return ResultInvalid
	case errors.As(err, &ie), errors.Is(err, identity.ErrUnsupported), errors.Is(err, identity.ErrNoSession):
		return ResultRejected
	}
	return ResultError
}

// BackendSelected records the identity adapter chosen at startup.
func (r *Recorder) BackendSelected(v identity.Version) {
	if r == nil {
		return
	}
	r.backend.Reset()
	r.backend.WithLabelValues(string(v)).Set(1)
}
