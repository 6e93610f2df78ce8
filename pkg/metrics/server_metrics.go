package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ServerMetrics observes the connection engine: admissions, session
// lifecycle, transferred bytes and failed operations. Implementations must
// be safe for concurrent use; the engine calls them from every worker.
type ServerMetrics interface {
	// RecordConnectionAccepted counts one admitted connection.
	RecordConnectionAccepted()

	// RecordConnectionRejected counts one connection refused by the
	// admission limiter.
	RecordConnectionRejected()

	// RecordConnectionClosed counts one finalized session.
	RecordConnectionClosed()

	// SetActiveSessions updates the live session gauge.
	SetActiveSessions(count int)

	// RecordBytesReceived adds to the inbound byte counter.
	RecordBytesReceived(n int64)

	// RecordBytesSent adds to the outbound byte counter.
	RecordBytesSent(n int64)

	// RecordOperationError counts one failed overlapped operation by kind.
	RecordOperationError(kind string)
}

// serverMetrics is the Prometheus implementation.
type serverMetrics struct {
	connectionsAccepted prometheus.Counter
	connectionsRejected prometheus.Counter
	connectionsClosed   prometheus.Counter
	activeSessions      prometheus.Gauge
	bytesTransferred    *prometheus.CounterVec
	operationErrors     *prometheus.CounterVec
}

// NewServerMetrics creates a Prometheus-backed ServerMetrics. inflightFn,
// when non-nil, is exported as a gauge reporting the number of operation
// contexts currently loaned to the kernel. Returns a no-op sink when the
// registry is not initialized.
func NewServerMetrics(inflightFn func() float64) ServerMetrics {
	if !IsEnabled() {
		return noopServerMetrics{}
	}

	reg := GetRegistry()

	if inflightFn != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "iocpnet_inflight_operations",
				Help: "Operation contexts currently owned by the kernel",
			},
			inflightFn,
		))
	}

	return &serverMetrics{
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "iocpnet_connections_accepted_total",
				Help: "Total number of connections accepted",
			},
		),
		connectionsRejected: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "iocpnet_connections_rejected_total",
				Help: "Total number of connections rejected by the accept limiter",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "iocpnet_connections_closed_total",
				Help: "Total number of sessions closed",
			},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "iocpnet_active_sessions",
				Help: "Current number of live sessions",
			},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "iocpnet_bytes_transferred_total",
				Help: "Total bytes moved through completed operations",
			},
			[]string{"direction"}, // recv or send
		),
		operationErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "iocpnet_operation_errors_total",
				Help: "Total failed overlapped operations by kind",
			},
			[]string{"kind"},
		),
	}
}

func (m *serverMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *serverMetrics) RecordConnectionRejected() {
	m.connectionsRejected.Inc()
}

func (m *serverMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *serverMetrics) SetActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

func (m *serverMetrics) RecordBytesReceived(n int64) {
	m.bytesTransferred.WithLabelValues("recv").Add(float64(n))
}

func (m *serverMetrics) RecordBytesSent(n int64) {
	m.bytesTransferred.WithLabelValues("send").Add(float64(n))
}

func (m *serverMetrics) RecordOperationError(kind string) {
	m.operationErrors.WithLabelValues(kind).Inc()
}

// noopServerMetrics is used when metrics are disabled.
type noopServerMetrics struct{}

// Noop returns the shared no-op sink.
func Noop() ServerMetrics { return noopServerMetrics{} }

func (noopServerMetrics) RecordConnectionAccepted() {}
func (noopServerMetrics) RecordConnectionRejected() {}
func (noopServerMetrics) RecordConnectionClosed() {}
func (noopServerMetrics) SetActiveSessions(int) {}
func (noopServerMetrics) RecordBytesReceived(int64) {}
func (noopServerMetrics) RecordBytesSent(int64) {}
func (noopServerMetrics) RecordOperationError(string) {}
