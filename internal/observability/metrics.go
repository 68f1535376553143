package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Dispatch outcomes.
const (
	DispatchHandled      = "handled"
	DispatchUnhandled    = "unhandled"
	DispatchHandlerError = "handler_error"
	DispatchMalformed    = "malformed"
	DispatchNotCommand   = "not_command"
)

var (
	registerOnce sync.Once

	activeConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wrtctl",
		Subsystem: "reactor",
		Name:      "connections_active",
		Help:      "Open client connections.",
	})
	acceptedConns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wrtctl",
			Subsystem: "reactor",
			Name:      "connections_accepted_total",
			Help:      "Accepted connections by outcome.",
		},
		[]string{"result"},
	)
	reapedConns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wrtctl",
			Subsystem: "reactor",
			Name:      "connections_reaped_total",
			Help:      "Closed connections by reason.",
		},
		[]string{"reason"},
	)
	packets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wrtctl",
			Subsystem: "reactor",
			Name:      "packets_total",
			Help:      "Packets moved through connection queues.",
		},
		[]string{"direction", "tag"},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wrtctl",
			Subsystem: "dispatch",
			Name:      "commands_total",
			Help:      "Command dispatch results.",
		},
		[]string{"subsystem", "result"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wrtctl",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Handler invocation time.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"subsystem"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wrtctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Status HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wrtctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			activeConns, acceptedConns, reapedConns, packets,
			dispatches, dispatchDuration, httpRequests, httpDuration,
		)
	})
}

func SetActiveConnections(n int) {
	RegisterMetrics()
	activeConns.Set(float64(n))
}

func RecordAccept(result string) {
	RegisterMetrics()
	acceptedConns.WithLabelValues(result).Inc()
}

func RecordReap(reason string) {
	RegisterMetrics()
	reapedConns.WithLabelValues(reason).Inc()
}

func RecordPacket(direction, tag string) {
	RegisterMetrics()
	packets.WithLabelValues(direction, tag).Inc()
}

func RecordDispatch(subsystem, result string, duration time.Duration) {
	RegisterMetrics()
	dispatches.WithLabelValues(subsystem, result).Inc()
	if result == DispatchHandled || result == DispatchHandlerError {
		dispatchDuration.WithLabelValues(subsystem).Observe(duration.Seconds())
	}
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
