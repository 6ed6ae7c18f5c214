package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/edukita/cbt-session-service/internal/infra/config"
)

// Provider holds the service metrics handles.
type Provider struct {
	requestCounter    prometheus.Counter
	sessionsJoined    prometheus.Counter
	sessionsFinished  *prometheus.CounterVec
	sessionsPenalized prometheus.Counter
	violations        *prometheus.CounterVec
}

// Attach registers the service metrics and returns a provider handle.
func Attach(_ context.Context, cfg *config.AppConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	return &Provider{
		requestCounter: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "cbt",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}),
		sessionsJoined: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "cbt",
			Name:      "sessions_joined_total",
			Help:      "Total number of exam sessions admitted",
		}),
		sessionsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cbt",
			Name:      "sessions_finished_total",
			Help:      "Total number of sessions closed, by cause",
		}, []string{"cause"}),
		sessionsPenalized: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "cbt",
			Name:      "sessions_penalized_total",
			Help:      "Total number of sessions penalized by the integrity monitor",
		}),
		violations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cbt",
			Name:      "violations_recorded_total",
			Help:      "Total number of integrity violations recorded, by kind",
		}, []string{"kind"}),
	}, nil
}

// RequestCounter exposes the HTTP request metric.
func (p *Provider) RequestCounter() prometheus.Counter {
	if p == nil {
		return prometheus.NewCounter(prometheus.CounterOpts{})
	}
	return p.requestCounter
}

// SessionJoined increments the admitted sessions metric.
func (p *Provider) SessionJoined() {
	if p == nil {
		return
	}
	p.sessionsJoined.Inc()
}

// SessionFinished increments the closed sessions metric for the given cause.
func (p *Provider) SessionFinished(cause string) {
	if p == nil {
		return
	}
	p.sessionsFinished.WithLabelValues(cause).Inc()
}

// SessionPenalized increments the penalized sessions metric.
func (p *Provider) SessionPenalized() {
	if p == nil {
		return
	}
	p.sessionsPenalized.Inc()
}

// ViolationRecorded increments the violations metric for the given kind.
func (p *Provider) ViolationRecorded(kind string) {
	if p == nil {
		return
	}
	p.violations.WithLabelValues(kind).Inc()
}
