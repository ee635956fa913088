package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// The dispatch loop is the only writer; counters are atomic so the HTTP
// endpoint and the periodic logger can read them from other goroutines.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections    atomic.Int64 // lifetime connections accepted
	ActiveSessions      atomic.Int64 // current live sessions
	RejectedConnections atomic.Int64 // refused with connection_failed
	FailedHandshakes    atomic.Int64 // TLS handshake failed or timed out
	TotalDisconnects    atomic.Int64 // sessions removed for any reason

	// Auth counters
	SuccessfulLogins    atomic.Int64
	FailedLogins        atomic.Int64 // bad credentials or backend errors
	ConcurrentLogins    atomic.Int64 // username already bound elsewhere
	Registrations       atomic.Int64
	FailedRegistrations atomic.Int64 // duplicates, invalid names, persistence errors

	// Relay counters
	ChatMessagesRelayed  atomic.Int64 // chat messages accepted for broadcast
	Deliveries           atomic.Int64 // broadcast frames written to peers
	DeliveryFailures     atomic.Int64 // peer writes that failed
	UnauthenticatedChats atomic.Int64 // chat messages dropped before login
	ProtocolViolations   atomic.Int64 // malformed frames or unknown types
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time, serializable view of Metrics.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	TotalConnections    int64 `json:"total_connections"`
	ActiveSessions      int64 `json:"active_sessions"`
	RejectedConnections int64 `json:"rejected_connections"`
	FailedHandshakes    int64 `json:"failed_handshakes"`
	TotalDisconnects    int64 `json:"total_disconnects"`

	SuccessfulLogins    int64 `json:"successful_logins"`
	FailedLogins        int64 `json:"failed_logins"`
	ConcurrentLogins    int64 `json:"concurrent_logins"`
	Registrations       int64 `json:"registrations"`
	FailedRegistrations int64 `json:"failed_registrations"`

	ChatMessagesRelayed  int64 `json:"chat_messages_relayed"`
	Deliveries           int64 `json:"deliveries"`
	DeliveryFailures     int64 `json:"delivery_failures"`
	UnauthenticatedChats int64 `json:"unauthenticated_chats"`
	ProtocolViolations   int64 `json:"protocol_violations"`
}

// Snapshot returns a snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:               uptime.Truncate(time.Second).String(),
		UptimeSeconds:        int64(uptime.Seconds()),
		TotalConnections:     m.TotalConnections.Load(),
		ActiveSessions:       m.ActiveSessions.Load(),
		RejectedConnections:  m.RejectedConnections.Load(),
		FailedHandshakes:     m.FailedHandshakes.Load(),
		TotalDisconnects:     m.TotalDisconnects.Load(),
		SuccessfulLogins:     m.SuccessfulLogins.Load(),
		FailedLogins:         m.FailedLogins.Load(),
		ConcurrentLogins:     m.ConcurrentLogins.Load(),
		Registrations:        m.Registrations.Load(),
		FailedRegistrations:  m.FailedRegistrations.Load(),
		ChatMessagesRelayed:  m.ChatMessagesRelayed.Load(),
		Deliveries:           m.Deliveries.Load(),
		DeliveryFailures:     m.DeliveryFailures.Load(),
		UnauthenticatedChats: m.UnauthenticatedChats.Load(),
		ProtocolViolations:   m.ProtocolViolations.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a metrics summary to logger.
func (m *Metrics) LogSummary(logger *slog.Logger) {
	s := m.Snapshot()
	logger.Info("metrics",
		"uptime", s.Uptime,
		"sessions", s.ActiveSessions,
		"total_connections", s.TotalConnections,
		"logins", s.SuccessfulLogins,
		"failed_logins", s.FailedLogins,
		"chat_msgs", s.ChatMessagesRelayed,
		"delivery_failures", s.DeliveryFailures,
	)
}

// StartPeriodicLog logs a summary every interval until ctx is done.
func (m *Metrics) StartPeriodicLog(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.LogSummary(logger)
			}
		}
	}()
}
