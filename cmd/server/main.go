package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/NicolasHaas/gorelay/pkg/logging"
	"github.com/NicolasHaas/gorelay/pkg/server"
	"github.com/NicolasHaas/gorelay/pkg/store"
	"github.com/NicolasHaas/gorelay/pkg/version"
)

// flags holds command-line values. They override the config file only when
// set explicitly.
type flags struct {
	configPath string

	host        string
	port        int
	backend     string
	usersPath   string
	redisURL    string
	certFile    string
	keyFile     string
	dataDir     string
	metricsAddr string
	maxConns    int
	logLevel    string
	logFormat   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	def := server.DefaultConfig()

	rootCmd := &cobra.Command{
		Use:     "gorelay-server",
		Short:   "TLS chat relay server",
		Version: version.Full(),
		Long: `gorelay-server accepts TLS connections, authenticates users against a
credential store and relays every chat message to all other connected clients.

A self-signed certificate is generated in the data directory on first start
if none is configured. Clients can trust it by pointing --ca at cert.pem.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := f.load(cmd, os.Stdout)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Credentials, store.WithLogger(logger))
			if err != nil {
				logger.Error("open credential store", "backend", cfg.Credentials.Backend, "err", err)
				return err
			}

			logger.Info("starting gorelay", "version", version.String(), "addr", cfg.Addr())
			srv := server.New(cfg, server.Dependencies{Store: st, Logger: logger})
			if err := srv.Run(); err != nil {
				logger.Error("server error", "err", err)
				return err
			}
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&f.backend, "store", def.Credentials.Backend, "Credential backend: file, sqlite, redis or memory")
	pf.StringVar(&f.usersPath, "users", def.Credentials.Path, "Credential file or SQLite database path")
	pf.StringVar(&f.redisURL, "redis-url", "", "Redis URL for the redis backend")
	pf.StringVar(&f.logLevel, "log-level", def.Log.Level, "Log level: "+logging.LevelNames())
	pf.StringVar(&f.logFormat, "log-format", def.Log.Format, "Log format: text or json")

	fl := rootCmd.Flags()
	fl.StringVar(&f.host, "host", def.Host, "Listen host")
	fl.IntVarP(&f.port, "port", "p", def.Port, "Listen port")
	fl.StringVar(&f.certFile, "cert", "", "TLS certificate file (generated if empty)")
	fl.StringVar(&f.keyFile, "key", "", "TLS private key file (generated if empty)")
	fl.StringVar(&f.dataDir, "data", def.TLS.DataDir, "Data directory for generated files")
	fl.StringVar(&f.metricsAddr, "metrics", def.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	fl.IntVar(&f.maxConns, "max-connections", def.MaxConnections, "Maximum concurrent connections (0 = unlimited)")

	rootCmd.AddCommand(newExportUsersCmd(f))
	return rootCmd
}

func newExportUsersCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "export-users",
		Short: "Print registered usernames as YAML and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Keep stdout for the YAML document.
			cfg, logger, err := f.load(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Credentials, store.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("open credential store: %w", err)
			}
			defer func() { _ = st.Close() }()

			data, err := server.ExportUsersYAML(st)
			if err != nil {
				return fmt.Errorf("export users: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// load builds the effective config: defaults, then the config file, then any
// flag the user set. It also installs the logger, writing to logOut.
func (f *flags) load(cmd *cobra.Command, logOut io.Writer) (server.Config, *slog.Logger, error) {
	cfg := server.DefaultConfig()
	if f.configPath != "" {
		loaded, err := server.LoadConfig(f.configPath)
		if err != nil {
			return cfg, nil, err
		}
		cfg = loaded
	}

	set := cmd.Flags().Changed
	if set("host") {
		cfg.Host = f.host
	}
	if set("port") {
		cfg.Port = f.port
	}
	if set("store") {
		cfg.Credentials.Backend = f.backend
	}
	if set("users") {
		cfg.Credentials.Path = f.usersPath
	}
	if set("redis-url") {
		cfg.Credentials.RedisURL = f.redisURL
	}
	if set("cert") {
		cfg.TLS.CertFile = f.certFile
	}
	if set("key") {
		cfg.TLS.KeyFile = f.keyFile
	}
	if set("data") {
		cfg.TLS.DataDir = f.dataDir
	}
	if set("metrics") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if set("max-connections") {
		cfg.MaxConnections = f.maxConns
	}
	if set("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if set("log-format") {
		cfg.Log.Format = f.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}

	logger, err := logging.Setup(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: logOut,
	})
	if err != nil {
		return cfg, nil, fmt.Errorf("invalid logging config: %w", err)
	}
	return cfg, logger, nil
}
