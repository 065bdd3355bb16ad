package courtside

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts resolver, guard and auth-operation outcomes.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Resolutions         *prometheus.CounterVec
	AuthEvents          *prometheus.CounterVec
	Redirects           *prometheus.CounterVec
	SuppressedRedirects prometheus.Counter
	Operations          *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg (if not nil)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courtside",
			Subsystem: "session",
			Name:      "resolutions_total",
			Help:      "Cold-start resolutions by outcome.",
		}, []string{"outcome"}),
		AuthEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courtside",
			Subsystem: "session",
			Name:      "auth_events_total",
			Help:      "Auth events received from the gateway.",
		}, []string{"event"}),
		Redirects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courtside",
			Subsystem: "guard",
			Name:      "redirects_total",
			Help:      "Redirects issued by the navigation guard.",
		}, []string{"target"}),
		SuppressedRedirects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "courtside",
			Subsystem: "guard",
			Name:      "suppressed_redirects_total",
			Help:      "Redirect decisions not executed because the navigation lock was held.",
		}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courtside",
			Subsystem: "auth",
			Name:      "operations_total",
			Help:      "Auth operations by name and result code.",
		}, []string{"operation", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Resolutions, m.AuthEvents, m.Redirects, m.SuppressedRedirects, m.Operations)
	}
	return m
}

func (m *Metrics) resolution(outcome string) {
	if m != nil {
		m.Resolutions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) authEvent(event AuthEvent) {
	if m != nil {
		m.AuthEvents.WithLabelValues(string(event)).Inc()
	}
}

func (m *Metrics) redirect(target ScreenGroup) {
	if m != nil {
		m.Redirects.WithLabelValues(target.String()).Inc()
	}
}

func (m *Metrics) suppressed() {
	if m != nil {
		m.SuppressedRedirects.Inc()
	}
}

func (m *Metrics) operation(name string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(CodeOf(err))
	}
	m.Operations.WithLabelValues(name, result).Inc()
}
