// Package cmd provides the CLI commands for OnGarde.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ongarde/ongarde/internal/adapter/inbound/admin"
	"github.com/ongarde/ongarde/internal/adapter/inbound/health"
	"github.com/ongarde/ongarde/internal/adapter/inbound/proxyhttp"
	"github.com/ongarde/ongarde/internal/adapter/outbound/httpremote"
	"github.com/ongarde/ongarde/internal/adapter/outbound/memory"
	"github.com/ongarde/ongarde/internal/adapter/outbound/sqliteaudit"
	"github.com/ongarde/ongarde/internal/adapter/outbound/state"
	"github.com/ongarde/ongarde/internal/config"
	"github.com/ongarde/ongarde/internal/domain/allowlist"
	"github.com/ongarde/ongarde/internal/domain/audit"
	"github.com/ongarde/ongarde/internal/domain/auth"
	"github.com/ongarde/ongarde/internal/domain/fastscan"
	"github.com/ongarde/ongarde/internal/domain/nlpscan"
	"github.com/ongarde/ongarde/internal/domain/scan"
	"github.com/ongarde/ongarde/internal/service"
	"github.com/ongarde/ongarde/internal/service/nlpworker"
	"github.com/ongarde/ongarde/internal/telemetry"
)

// advisoryPoolSize bounds the NLP advisory worker pool (spec.md §2's "small
// pool of worker tasks for NLP advisory" over content above the calibrated
// sync threshold).
const advisoryPoolSize = 4

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the proxy server",
	Long: `Start the OnGarde security proxy.

Loads config.yaml, compiles the rule catalog, calibrates the NLP sync
threshold (full scanner mode only), and serves the admission pipeline and
dashboard over HTTP.

Examples:
  # Start with config.yaml in the current directory
  ongarde start

  # Start with a specific config file
  ongarde --config /path/to/config.yaml start`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.StrictMode {
		fmt.Fprintln(os.Stderr, "warning: strict_mode is a reserved flag and currently has no effect beyond this warning")
	}

	stateDir := config.StateDir()
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return fmt.Errorf("create state directory %s: %w", stateDir, err)
	}

	logger, logFile, err := newLogger(stateDir)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, stateDir, logger); err != nil {
		return err
	}

	logger.Info("ongarde stopped")
	return nil
}

// newLogger opens <stateDir>/proxy.log (0600, per spec.md §6) and returns a
// structured logger writing to both that file and stderr, plus the file
// handle so the caller can close it on shutdown.
func newLogger(stateDir string) (*slog.Logger, *os.File, error) {
	logPath := filepath.Join(stateDir, "proxy.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, nil, err
	}
	handler := slog.NewTextHandler(mergeWriters(os.Stderr, f), &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler), f, nil
}

// mergeWriters is a tiny io.Writer fan-out so log lines reach both the
// operator's terminal and the durable log file without pulling in a
// logging framework beyond the teacher's slog usage.
type multiWriter struct{ writers []interface{ Write([]byte) (int, error) } }

func mergeWriters(writers ...interface{ Write([]byte) (int, error) }) *multiWriter {
	return &multiWriter{writers: writers}
}

func (m *multiWriter) Write(p []byte) (int, error) {
	for _, w := range m.writers {
		_, _ = w.Write(p)
	}
	return len(p), nil
}

// run wires every component in dependency order (spec.md §2: config →
// logger → rule catalog → fast scanner → NLP scanner → calibrator →
// streaming scanner → allowlist → auth/key store → proxy engine → audit
// sink → health/metrics → dashboard) and serves HTTP until ctx is
// cancelled.
func run(ctx context.Context, cfg *config.Config, stateDir string, logger *slog.Logger) error {
	// ===== Auth and key store =====
	statePath := filepath.Join(stateDir, "state.json")
	stateStore := state.NewFileStateStore(statePath, logger)
	keyService := service.NewKeyService(stateStore)

	bootstrapResult, err := keyService.Bootstrap(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap key store: %w", err)
	}
	if bootstrapResult != nil {
		fmt.Fprintln(os.Stderr, "\nNo API keys found. Created a bootstrap admin key (shown once, never stored):")
		fmt.Fprintf(os.Stderr, "\n  %s\n\n", bootstrapResult.CleartextKey)
		fmt.Fprintln(os.Stderr, "Save this key now. Use it with the X-OnGarde-Key header.")
	}

	authStore := memory.NewAuthStore()
	if err := seedAuthStore(ctx, keyService, authStore, logger); err != nil {
		return fmt.Errorf("seed auth store: %w", err)
	}
	keyVerifier := auth.NewAPIKeyService(authStore)

	// ===== Rule catalog + fast-path scanner (spec.md §4.2) =====
	fast := fastscan.New()

	// ===== NLP scanner + calibrator (spec.md §4.3) =====
	var nlp *nlpscan.Scanner
	syncThreshold := 0
	if cfg.Scanner.Mode != "lite" {
		nlp = nlpscan.New()
		syncThreshold = nlpscan.NewCalibrator(nlp).Calibrate()
		logger.Info("nlp scanner calibrated", "sync_threshold", syncThreshold)
	} else {
		logger.Info("scanner running in lite mode: nlp disabled")
	}

	// ===== Allowlist (spec.md §4.5) =====
	allowlistDir := stateDir
	if configFile := config.ConfigFileUsed(); configFile != "" {
		allowlistDir = filepath.Dir(configFile)
	}
	allowlistPath := filepath.Join(allowlistDir, "allowlist.yaml")
	allow, err := allowlist.New(allowlistPath, logger)
	if err != nil {
		return fmt.Errorf("load allowlist: %w", err)
	}
	if err := allow.Watch(ctx); err != nil {
		logger.Warn("allowlist hot-reload watcher failed to start", "error", err)
	}
	logger.Info("allowlist loaded", "path", allowlistPath, "entries", allow.Len())

	// ===== Advisory NLP worker pool (spec.md §2, "small pool of worker
	// tasks for NLP advisory") =====
	pool := nlpworker.New(advisoryPoolSize)
	defer pool.Close()

	// ===== Audit sink (spec.md §4.7) =====
	auditStore, err := sqliteaudit.Open(sqliteaudit.Config{
		Path:          cfg.Audit.Path,
		RetentionDays: cfg.Audit.RetentionDays,
	}, logger)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer auditStore.Close()

	var sink audit.Store = auditStore
	if cfg.Audit.RemoteWebhookURL != "" {
		sink = httpremote.NewFanOut(auditStore, httpremote.New(cfg.Audit.RemoteWebhookURL, logger))
		logger.Info("remote audit sink enabled", "url", cfg.Audit.RemoteWebhookURL)
	}

	flushInterval, err := time.ParseDuration(cfg.Audit.FlushInterval)
	if err != nil {
		flushInterval = time.Second
	}
	sendTimeout, err := time.ParseDuration(cfg.Audit.SendTimeout)
	if err != nil {
		sendTimeout = 100 * time.Millisecond
	}
	auditService := service.NewAuditService(sink, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(flushInterval),
		service.WithSendTimeout(sendTimeout),
		service.WithWarningThreshold(cfg.Audit.WarningThreshold),
	)
	auditService.Start(ctx)
	defer auditService.Stop()

	// ===== Health and metrics (spec.md §4.8) =====
	deploymentMode := "production"
	if cfg.DevMode {
		deploymentMode = "development"
	}
	healthChecker := health.NewChecker(cfg.Scanner.Mode, deploymentMode, 100, auditService)

	onAdvisory := func(result scan.Result) {
		worst := result.HighestRisk()
		logger.Info("advisory nlp finding", "risk_level", worst, "findings", len(result.Findings))
	}

	engine, err := service.NewScanEngine(fast, nlp, syncThreshold, allow, cfg.Scanner, pool, onAdvisory)
	if err != nil {
		return fmt.Errorf("create scan engine: %w", err)
	}
	healthChecker.SetReady(syncThreshold)

	// ===== Tracing (SPEC_FULL.md §1.1) =====
	tracerProvider, err := telemetry.NewProvider(cfg.DevMode)
	if err != nil {
		return fmt.Errorf("create tracer provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer provider shutdown failed", "error", err)
		}
	}()

	// ===== Proxy engine (spec.md §4.1) =====
	proxyHandler := proxyhttp.NewHandler(cfg, keyVerifier, engine, auditService, healthChecker, logger, tracerProvider.Tracer())

	// ===== Dashboard (spec.md §4.9) =====
	adminHandler := admin.NewAdminAPIHandler(keyService, auditStore, auditService, authStore, logger)

	mux := http.NewServeMux()
	mux.Handle("/v1/chat/completions", proxyHandler)
	mux.Handle("/v1/messages", proxyHandler)
	mux.Handle("/dashboard/", adminHandler.Routes())
	mux.Handle("/", healthChecker.Routes())

	addr := fmt.Sprintf("%s:%d", cfg.Proxy.Host, cfg.Proxy.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     proxyhttp.RequestIDMiddleware(logger)(mux),
		IdleTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ongarde listening", "addr", addr, "scanner_mode", cfg.Scanner.Mode, "dev_mode", cfg.DevMode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// seedAuthStore loads persisted identities and API keys from the key
// service into the hot-path in-memory auth store (spec.md §3, "copy-on-
// write snapshots for readers on the hot path").
func seedAuthStore(ctx context.Context, keyService *service.KeyService, authStore *memory.AuthStore, logger *slog.Logger) error {
	st, err := keyService.LoadAuthStore(ctx)
	if err != nil {
		return err
	}
	for _, identity := range st.Identities {
		roles := make([]auth.Role, len(identity.Roles))
		for i, r := range identity.Roles {
			roles[i] = auth.Role(r)
		}
		authStore.AddIdentity(&auth.Identity{ID: identity.ID, Name: identity.Name, Roles: roles})
	}
	for _, key := range st.APIKeys {
		if key.Revoked {
			continue
		}
		authStore.AddKey(&auth.APIKey{
			Key:        key.KeyHash,
			IdentityID: key.IdentityID,
			Name:       key.Name,
			CreatedAt:  key.CreatedAt,
			Revoked:    key.Revoked,
		})
	}
	logger.Debug("seeded auth store", "identities", len(st.Identities), "api_keys", len(st.APIKeys))
	return nil
}

// pidFilePath returns ~/.ongarde/proxy.pid (spec.md §6), honoring
// ONGARDE_HOME.
func pidFilePath() string {
	return filepath.Join(config.StateDir(), "proxy.pid")
}

// writePIDFile writes the current process PID to path at 0600 (spec.md §6).
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0600)
}
