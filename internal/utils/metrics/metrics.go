package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Seat enforcement metrics
	SeatEnforcementTotal     *prometheus.CounterVec
	MembersDisabledTotal     prometheus.Counter
	AuthorizationChecksTotal *prometheus.CounterVec

	// Reconciliation metrics
	ReconcileRunsTotal          *prometheus.CounterVec
	MultipleActiveDetectedTotal prometheus.Counter

	// Billing provider metrics
	ProviderCallsTotal   *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec
}

// New creates a new Metrics instance registered on the given registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "mailvet"
	}
	factory := func(c prometheus.Collector) {
		reg.MustRegister(c)
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		SeatEnforcementTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "seats",
				Name:      "enforcement_total",
				Help:      "Total number of seat limit enforcement passes",
			},
			[]string{"result"}, // within_limit, over_limit, error
		),
		MembersDisabledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "seats",
				Name:      "members_disabled_total",
				Help:      "Total number of members disabled by enforcement passes",
			},
		),
		AuthorizationChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "seats",
				Name:      "authorization_checks_total",
				Help:      "Total number of member authorization checks",
			},
			[]string{"result"}, // ok, not-a-member, seat-disabled, over-seat-limit
		),

		ReconcileRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "reconcile_runs_total",
				Help:      "Total number of subscription reconciliation runs",
			},
			[]string{"reason"},
		),
		MultipleActiveDetectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "multiple_active_detected_total",
				Help:      "Reconciliation runs that found more than one active upstream subscription",
			},
		),

		ProviderCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "calls_total",
				Help:      "Total number of billing provider calls",
			},
			[]string{"operation", "status"}, // status: ok, error
		),
		ProviderCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "call_duration_seconds",
				Help:      "Billing provider call duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
	}

	factory(m.HTTPRequestsTotal)
	factory(m.HTTPRequestDuration)
	factory(m.HTTPRequestsInFlight)
	factory(m.SeatEnforcementTotal)
	factory(m.MembersDisabledTotal)
	factory(m.AuthorizationChecksTotal)
	factory(m.ReconcileRunsTotal)
	factory(m.MultipleActiveDetectedTotal)
	factory(m.ProviderCallsTotal)
	factory(m.ProviderCallDuration)

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCodeToString(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSeatEnforcement records a seat enforcement pass.
func (m *Metrics) RecordSeatEnforcement(overLimit bool, disabled int) {
	result := "within_limit"
	if overLimit {
		result = "over_limit"
	}
	m.SeatEnforcementTotal.WithLabelValues(result).Inc()
	if disabled > 0 {
		m.MembersDisabledTotal.Add(float64(disabled))
	}
}

// RecordAuthorizationCheck records an authorization query result.
func (m *Metrics) RecordAuthorizationCheck(result string) {
	m.AuthorizationChecksTotal.WithLabelValues(result).Inc()
}

// RecordReconcile records a reconciliation run outcome.
func (m *Metrics) RecordReconcile(reason string, multipleActive bool) {
	m.ReconcileRunsTotal.WithLabelValues(reason).Inc()
	if multipleActive {
		m.MultipleActiveDetectedTotal.Inc()
	}
}

// RecordProviderCall records a billing provider call.
func (m *Metrics) RecordProviderCall(operation string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ProviderCallsTotal.WithLabelValues(operation, status).Inc()
	m.ProviderCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// statusCodeToString converts an HTTP status code to a string category.
func statusCodeToString(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
