package mcpgateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vikashloomba/mcp-stdio-gateway/pkg/mcpmgr"
)

const (
	outcomeOK        = "ok"
	outcomeToolError = "tool_error"
	outcomeRejected  = "rejected"
	outcomeTimeout   = "timeout"
	outcomeError     = "error"
)

// metrics lives on a private registry so several gateways can coexist in one
// process (and in tests).
type metrics struct {
	registry *prometheus.Registry

	// toolCalls counts downstream tool invocations by server and outcome
	toolCalls *prometheus.CounterVec
	// toolCallDuration observes round-trip latency through the manager
	toolCallDuration *prometheus.HistogramVec
	// exposedTools tracks the size of the namespaced catalogue
	exposedTools prometheus.Gauge
	// serverTransitions counts status changes reported by the manager
	serverTransitions *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpgateway_tool_calls_total",
				Help: "Total tool calls routed by the gateway by server and outcome",
			},
			[]string{"server", "outcome"},
		),
		toolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpgateway_tool_call_duration_seconds",
				Help:    "Tool call latency by server",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"server"},
		),
		exposedTools: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcpgateway_exposed_tools",
				Help: "Number of namespaced tools currently advertised",
			},
		),
		serverTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpgateway_server_status_changes_total",
				Help: "Server status changes by server and resulting status",
			},
			[]string{"server", "status"},
		),
	}
	m.registry.MustRegister(
		m.toolCalls,
		m.toolCallDuration,
		m.exposedTools,
		m.serverTransitions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *metrics) recordCall(serverID string, started time.Time, err error) {
	m.toolCalls.WithLabelValues(serverID, callOutcome(err)).Inc()
	m.toolCallDuration.WithLabelValues(serverID).Observe(time.Since(started).Seconds())
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func callOutcome(err error) string {
	var rpcErr *mcpmgr.RPCError
	switch {
	case err == nil:
		return outcomeOK
	case errors.As(err, &rpcErr):
		return outcomeToolError
	case errors.Is(err, mcpmgr.ErrRequestTimeout):
		return outcomeTimeout
	case errors.Is(err, mcpmgr.ErrServerNotFound),
		errors.Is(err, mcpmgr.ErrServerNotConnected),
		errors.Is(err, mcpmgr.ErrToolNotFound):
		return outcomeRejected
	default:
		return outcomeError
	}
}
