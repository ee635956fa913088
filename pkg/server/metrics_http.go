package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// metricsRouter exposes /metrics in Prometheus text exposition format, the
// same counters as JSON on /metrics.json, and a /healthz liveness probe.
func (s *Server) metricsRouter() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/metrics.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(s.metrics.JSON()))
	}).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	return r
}

// StartMetricsHTTP serves the metrics router on Config.MetricsAddr in the
// background until ctx is cancelled. An empty address disables it.
func (s *Server) StartMetricsHTTP(ctx context.Context) {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.metricsRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.log.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}

	_, _ = fmt.Fprintf(w, "# HELP gorelay_uptime_seconds Server uptime in seconds.\n")
	_, _ = fmt.Fprintf(w, "# TYPE gorelay_uptime_seconds gauge\n")
	_, _ = fmt.Fprintf(w, "gorelay_uptime_seconds %f\n", uptime)

	write("gorelay_sessions_active", "Current live sessions.", "gauge",
		m.ActiveSessions.Load())
	write("gorelay_connections_total", "Lifetime connections accepted.", "counter",
		m.TotalConnections.Load())
	write("gorelay_connections_rejected_total", "Connections refused with connection_failed.", "counter",
		m.RejectedConnections.Load())
	write("gorelay_handshakes_failed_total", "TLS handshakes that failed or timed out.", "counter",
		m.FailedHandshakes.Load())
	write("gorelay_disconnects_total", "Sessions removed.", "counter",
		m.TotalDisconnects.Load())

	write("gorelay_logins_total", "Successful logins.", "counter",
		m.SuccessfulLogins.Load())
	write("gorelay_logins_failed_total", "Failed logins.", "counter",
		m.FailedLogins.Load())
	write("gorelay_logins_concurrent_total", "Logins refused because the username was bound elsewhere.", "counter",
		m.ConcurrentLogins.Load())
	write("gorelay_registrations_total", "Successful registrations.", "counter",
		m.Registrations.Load())
	write("gorelay_registrations_failed_total", "Failed registrations.", "counter",
		m.FailedRegistrations.Load())

	write("gorelay_chat_messages_total", "Chat messages relayed.", "counter",
		m.ChatMessagesRelayed.Load())
	write("gorelay_deliveries_total", "Broadcast frames written to peers.", "counter",
		m.Deliveries.Load())
	write("gorelay_delivery_failures_total", "Peer writes that failed.", "counter",
		m.DeliveryFailures.Load())
	write("gorelay_unauthenticated_chats_total", "Chat messages dropped before login.", "counter",
		m.UnauthenticatedChats.Load())
	write("gorelay_protocol_violations_total", "Malformed frames or unknown message types.", "counter",
		m.ProtocolViolations.Load())
}
