package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/store"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := cfg.Addr(); got != "localhost:1234" {
		t.Fatalf("Addr = %q, want localhost:1234", got)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gorelay.yaml")
	data := `
host: 0.0.0.0
port: 4000
credentials:
  backend: sqlite
  path: /var/lib/gorelay/users.db
max_connections: 50
write_timeout: 2s
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	want := DefaultConfig()
	want.Host = "0.0.0.0"
	want.Port = 4000
	want.Credentials = store.Config{Backend: store.BackendSQLite, Path: "/var/lib/gorelay/users.db"}
	want.MaxConnections = 50
	want.WriteTimeout = 2 * time.Second
	want.Log = LogConfig{Level: "debug", Format: "json"}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("LoadConfig mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("LoadConfig(missing): expected error")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("port: [1, 2"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadConfig(bad); err == nil {
		t.Fatalf("LoadConfig(bad yaml): expected error")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"port", func(c *Config) { c.Port = 70000 }},
		{"max connections", func(c *Config) { c.MaxConnections = -1 }},
		{"write timeout", func(c *Config) { c.WriteTimeout = 0 }},
		{"handshake timeout", func(c *Config) { c.HandshakeTimeout = -time.Second }},
		{"backend", func(c *Config) { c.Credentials.Backend = "etcd" }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate: expected error")
			}
		})
	}
}

func TestExportUsersYAML(t *testing.T) {
	st := store.NewMemory(store.WithHashCost(crypto.MinCost))
	for _, name := range []string{"carol", "bob"} {
		if _, err := st.Register(name, "secret-"+name); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	out, err := ExportUsersYAML(st)
	if err != nil {
		t.Fatalf("ExportUsersYAML: %v", err)
	}
	if strings.Contains(string(out), "secret") || strings.Contains(string(out), "$2") {
		t.Fatalf("export leaks credentials:\n%s", out)
	}

	var got UsersExport
	if err := yaml.Unmarshal(out, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := UsersExport{Count: 2, Users: []string{"bob", "carol"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("export mismatch (-want +got):\n%s", diff)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	login(t, srv, "bob", "pw1")

	rec := httptest.NewRecorder()
	srv.metricsRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"gorelay_logins_total 1",
		"gorelay_registrations_total 1",
		"# TYPE gorelay_sessions_active gauge",
		"gorelay_uptime_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestHealthzEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.metricsRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.metricsRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /healthz = %d, want 405", rec.Code)
	}
}

func TestMetricsJSONEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.metrics.ChatMessagesRelayed.Add(3)

	rec := httptest.NewRecorder()
	srv.metricsRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var snap MetricsSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if snap.ChatMessagesRelayed != 3 {
		t.Fatalf("chat_messages_relayed = %d, want 3", snap.ChatMessagesRelayed)
	}
}
