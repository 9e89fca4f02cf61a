// Package main is the entry point for the maildeck server.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shineum/maildeck/internal/api"
	"github.com/shineum/maildeck/internal/auth"
	"github.com/shineum/maildeck/internal/certs"
	"github.com/shineum/maildeck/internal/config"
	"github.com/shineum/maildeck/internal/mailbox"
	"github.com/shineum/maildeck/internal/provider"
	"github.com/shineum/maildeck/internal/provider/graph"
	"github.com/shineum/maildeck/internal/provider/ses"
	"github.com/shineum/maildeck/internal/provider/stdout"
	"github.com/shineum/maildeck/internal/senders"
	"github.com/shineum/maildeck/internal/store"
	"github.com/shineum/maildeck/internal/store/memory"
	"github.com/shineum/maildeck/internal/store/s3store"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML or TOML configuration file (optional)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before configuration (optional)")
	flag.Parse()

	if err := loadEnvFile(*envFile); err != nil {
		slog.Error("failed to load env file", "path", *envFile, "error", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("maildeck stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	st, err := selectStore(ctx, cfg)
	if err != nil {
		return err
	}

	prov, err := selectProvider(ctx, cfg)
	if err != nil {
		return err
	}

	registry := buildSenders(cfg, prov)

	authManager, err := auth.NewManager(auth.Config{
		Username:     cfg.Auth.Username,
		Password:     cfg.Auth.Password,
		PasswordHash: cfg.Auth.PasswordHash,
		Secret:       cfg.Auth.JWTSecret,
		TokenTTL:     cfg.Auth.TokenTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to configure authentication: %w", err)
	}

	svc := mailbox.New(st, prov, registry, mailbox.Config{
		ListLimit:        cfg.Mailbox.ListLimit,
		FetchConcurrency: cfg.Mailbox.FetchConcurrency,
		CallTimeout:      cfg.Mailbox.CallTimeout,
	})

	server := api.New(svc, authManager, registry, api.Config{
		BodyLimit:          cfg.HTTP.BodyLimit,
		LoginRatePerMinute: cfg.HTTP.LoginRatePerMinute,
	})

	var tlsConfig *tls.Config
	tlsMode := "disabled"
	if cfg.TLS.Enabled {
		var mode certs.Mode
		tlsConfig, mode, err = certs.Load(certs.Options{
			CertFile: cfg.TLS.CertFile,
			KeyFile:  cfg.TLS.KeyFile,
			Hostname: cfg.TLS.Hostname,
		})
		if err != nil {
			return fmt.Errorf("failed to setup TLS: %w", err)
		}
		tlsMode = string(mode)
	}

	slog.Info("starting maildeck",
		"listen", cfg.HTTP.Listen,
		"store", st.Name(),
		"provider", prov.Name(),
		"tls_mode", tlsMode,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(cfg.HTTP.Listen, tlsConfig)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("received signal, initiating shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return <-errCh
}

// loadEnvFile loads variables from a dotenv file without overriding the ones
// already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// loadConfig loads configuration from the specified path (file + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// selectStore creates the message store for the configured backend.
func selectStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch backend := cfg.StorageBackend(); backend {
	case "s3":
		slog.Info("using S3 store",
			"bucket", cfg.Storage.S3.Bucket,
			"region", cfg.Storage.S3.Region,
			"endpoint", cfg.Storage.S3.Endpoint,
		)
		st, err := s3store.New(ctx, s3store.Config{
			Bucket:          cfg.Storage.S3.Bucket,
			Region:          cfg.Storage.S3.Region,
			Endpoint:        cfg.Storage.S3.Endpoint,
			UsePathStyle:    cfg.Storage.S3.UsePathStyle,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 store: %w", err)
		}
		return st, nil

	case "memory":
		slog.Warn("using in-memory store, messages are lost on restart")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// selectProvider chooses the email delivery backend based on configuration.
// An explicit provider takes precedence; otherwise Graph is used if
// configured, then SES, then the stdout dry run.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	name := cfg.Provider
	if name == "" {
		switch {
		case cfg.GraphConfigured():
			name = "msgraph"
		case cfg.SESConfigured():
			name = "ses"
		default:
			name = "stdout"
		}
		slog.Info("provider auto-detected", "provider", name)
	}

	switch name {
	case "ses":
		if !cfg.SESConfigured() {
			return nil, errors.New("SES provider selected but SES_REGION is not set")
		}
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"configuration_set", cfg.SES.ConfigurationSet,
		)
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:           cfg.SES.Region,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case "msgraph":
		if !cfg.GraphConfigured() {
			return nil, errors.New("graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID and GRAPH_CLIENT_SECRET are required")
		}
		slog.Info("using Microsoft Graph provider", "tenant_id", cfg.Graph.TenantID)
		return graph.New(graph.GraphProviderConfig{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Timeout:      cfg.Mailbox.CallTimeout,
		}), nil

	case "stdout":
		slog.Info("using stdout provider, messages are printed and not delivered")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// buildSenders returns the sender registry: the configured static list, or
// the provider's verified identities when no list is configured and the
// provider can enumerate them.
func buildSenders(cfg *config.Config, prov provider.Provider) *senders.Registry {
	opts := []senders.Option{senders.WithTTL(cfg.Senders.CacheTTL)}

	if len(cfg.Senders.Allowed) > 0 {
		slog.Info("using static sender list", "entries", len(cfg.Senders.Allowed))
		return senders.NewStatic(cfg.Senders.Allowed, opts...)
	}

	if lister, ok := prov.(provider.IdentityLister); ok {
		slog.Info("using verified identities as senders",
			"provider", prov.Name(),
			"cache_ttl", cfg.Senders.CacheTTL,
		)
		return senders.NewDynamic(lister, opts...)
	}

	slog.Warn("no senders configured, every send will be rejected", "provider", prov.Name())
	return senders.NewStatic(nil, opts...)
}
