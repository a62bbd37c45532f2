// Package metrics holds the prometheus collectors of the client core
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics counts store command outcomes and HTTP responses
type Metrics struct {
	commands *prometheus.CounterVec
	requests *prometheus.CounterVec
	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. The gatherer serves the /metrics handler.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) (*Metrics, error) {
	m := &Metrics{
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dabubble",
				Name:      "commands_total",
				Help:      "Store commands by outcome.",
			},
			[]string{"store", "command", "outcome"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dabubble",
				Name:      "http_requests_total",
				Help:      "HTTP responses by route and status code.",
			},
			[]string{"route", "code"},
		),
		gatherer: gatherer,
	}
	for _, c := range []prometheus.Collector{m.commands, m.requests} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewRegistry returns metrics on a fresh registry that also carries the process and Go collectors
func NewRegistry() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	if err := reg.Register(prometheus.NewGoCollector()); err != nil {
		return nil, err
	}
	return New(reg, reg)
}

func (m *Metrics) RecordCommand(store, command string, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.commands.WithLabelValues(store, command, outcome).Inc()
}

func (m *Metrics) ObserveRequest(route string, code int) {
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
