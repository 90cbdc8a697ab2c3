// Command server runs the gemlink gateway, an OpenAI-compatible front
// for the Gemini Code Assist API.
//
// Configuration is layered: built-in defaults, then a YAML config file
// (-config flag, GEMLINK_CONFIG, ./config.yaml, /etc/gemlink/config.yaml),
// then GEMLINK_* environment variable overrides. See pkg/config.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mkallner/gemlink/pkg/auth"
	"github.com/mkallner/gemlink/pkg/auth/apikey"
	"github.com/mkallner/gemlink/pkg/cache"
	"github.com/mkallner/gemlink/pkg/cache/memory"
	"github.com/mkallner/gemlink/pkg/cache/redis"
	"github.com/mkallner/gemlink/pkg/config"
	"github.com/mkallner/gemlink/pkg/dashboard"
	"github.com/mkallner/gemlink/pkg/gateway"
	"github.com/mkallner/gemlink/pkg/observability"
	"github.com/mkallner/gemlink/pkg/translate"
	transporthttp "github.com/mkallner/gemlink/pkg/transport/http"
	"github.com/mkallner/gemlink/pkg/upstream"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// Debug log buffer tees into the logger so /debug/logs can replay
	// recent entries. The dashboard needs it even when debug is off.
	var logBuf *observability.LogBuffer
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, nil)
	if cfg.Observability.Debug.Enabled || cfg.Dashboard.Enabled {
		logBuf = observability.NewLogBuffer(cfg.Observability.Debug.LogBufferSize)
		handler = observability.NewBufferHandler(handler, logBuf)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cred, err := upstream.LoadCredential(cfg.Credentials.JSON, cfg.Credentials.File)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	var store cache.TokenStore
	switch cfg.Cache.Type {
	case "redis":
		store, err = redis.New(ctx, cfg.Cache.RedisURL, logger)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		logger.Info("token cache enabled", "type", "redis")
	default:
		store = memory.New()
		logger.Info("token cache enabled", "type", "memory")
	}
	defer store.Close()

	manager := upstream.NewManager(upstream.ManagerConfig{
		Credential: cred,
		Store:      store,
		Logger:     logger,
	})

	client := upstream.NewClient(upstream.ClientConfig{
		BaseURL:   cfg.Upstream.BaseURL,
		Timeout:   cfg.Upstream.Timeout,
		ProjectID: cfg.Upstream.ProjectID,
		Logger:    logger,
	}, manager)

	// Dashboard settings override the static thinking config at runtime.
	var settings *dashboard.Settings
	if cfg.Dashboard.Enabled {
		settings, err = dashboard.NewSettings(cfg.Dashboard.SettingsFile, logger)
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		if err := settings.Watch(ctx); err != nil {
			logger.Warn("settings hot-reload unavailable", "error", err)
		}
	}

	thinking := func() (translate.ThinkingMode, int) {
		mode := translate.ThinkingMode{
			Fake:            cfg.Thinking.Fake,
			Real:            cfg.Thinking.Real,
			StreamAsContent: cfg.Thinking.StreamAsContent,
		}
		budget := cfg.Thinking.Budget
		if settings != nil {
			mode.Fake = settings.Bool("thinking.fake", mode.Fake)
			mode.Real = settings.Bool("thinking.real", mode.Real)
			mode.StreamAsContent = settings.Bool("thinking.stream_as_content", mode.StreamAsContent)
			budget = settings.Int("thinking.budget", budget)
		}
		return mode, budget
	}

	gw := gateway.New(client, translate.NewAdapter(nil), thinking, logger)

	opts := []transporthttp.ServerOption{
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithLogger(logger),
	}

	if cfg.Auth.Type == "apikey" {
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.Auth.APIKeys))
		for _, k := range cfg.Auth.APIKeys {
			entries = append(entries, apikey.RawKeyEntry{
				Key:      k.Key,
				Identity: auth.Identity{Subject: k.Subject},
			})
		}
		chain := &auth.Chain{
			Authenticators:  []auth.Authenticator{apikey.New(entries)},
			DefaultDecision: auth.No,
		}
		opts = append(opts, transporthttp.WithAuth(auth.Middleware(chain, logger)))
		logger.Info("api key authentication enabled", "keys", len(entries))
	}

	if cfg.Observability.Metrics.Enabled {
		opts = append(opts, transporthttp.WithHTTPMiddleware(observability.MetricsMiddleware))
	}

	server := transporthttp.NewServer(gw, gw, opts...)

	if cfg.Observability.Metrics.Enabled {
		server.Mount("GET "+cfg.Observability.Metrics.Path, observability.MetricsHandler())
	}

	if cfg.Dashboard.Enabled {
		handlers := dashboard.NewHandlers(dashboard.HandlersConfig{
			Password: cfg.Dashboard.Password,
			Sessions: dashboard.NewSessionManager(cfg.Dashboard.SessionSecret, cfg.Dashboard.SessionTTL),
			Settings: settings,
			Manager:  manager,
			Store:    store,
			Tester:   gw,
			Logs:     logBuf,
			Logger:   logger,
		})
		handlers.Register(server.Mount)
		logger.Info("dashboard enabled")
	}

	return server.ListenAndServe()
}
