// Command voxcast is the main entry point for the Voxcast voiceover server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/voxcast/voxcast/internal/audiostore"
	"github.com/voxcast/voxcast/internal/auth"
	"github.com/voxcast/voxcast/internal/config"
	"github.com/voxcast/voxcast/internal/generate"
	"github.com/voxcast/voxcast/internal/health"
	"github.com/voxcast/voxcast/internal/ledger"
	"github.com/voxcast/voxcast/internal/observe"
	"github.com/voxcast/voxcast/internal/resilience"
	"github.com/voxcast/voxcast/internal/server"
	"github.com/voxcast/voxcast/internal/voiceover"
	"github.com/voxcast/voxcast/pkg/provider/tts"
	"github.com/voxcast/voxcast/pkg/provider/tts/jobtts"
	ttsopenai "github.com/voxcast/voxcast/pkg/provider/tts/openai"
)

const defaultBucket = "voxcast-audio"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxcast: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxcast: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := &slog.LevelVar{}
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("voxcast starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"provider", cfg.Provider.Name,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxcast"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Database ──────────────────────────────────────────────────────────────
	pool, err := pgxpool.New(ctx, cfg.Database.PostgresDSN)
	if err != nil {
		slog.Error("failed to create database pool", "err", err)
		return 1
	}
	defer pool.Close()

	creditLedger := ledger.NewPostgresLedger(pool)
	if err := creditLedger.Migrate(ctx); err != nil {
		slog.Error("profile schema migration failed", "err", err)
		return 1
	}
	repo := voiceover.NewPostgresRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		slog.Error("voiceover schema migration failed", "err", err)
		return 1
	}
	slog.Info("database ready")

	// ── TTS provider ──────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, err := reg.CreateTTS(cfg.Provider)
	if err != nil {
		slog.Error("failed to create tts provider", "name", cfg.Provider.Name, "err", err)
		return 1
	}
	slog.Info("provider created", "name", cfg.Provider.Name, "voices", len(provider.Voices()))

	if fb := cfg.FallbackProvider; fb != nil {
		fbProvider, err := reg.CreateTTS(*fb)
		if err != nil {
			slog.Error("failed to create fallback tts provider", "name", fb.Name, "err", err)
			return 1
		}
		group := resilience.NewTTSFallback(provider, cfg.Provider.Name, resilience.FallbackConfig{})
		group.AddFallback(fb.Name, fbProvider)
		provider = group
		slog.Info("fallback provider registered", "name", fb.Name)
	}

	// ── Audio store (optional) ────────────────────────────────────────────────
	var (
		store  audiostore.Store
		signer *audiostore.Signer
		nc     *nats.Conn
	)
	if cfg.Storage.NATSURL != "" {
		signer, err = audiostore.NewSigner(cfg.Storage.URLSecret, cfg.Server.PublicBaseURL, cfg.Storage.URLTTL.Std())
		if err != nil {
			slog.Error("failed to create URL signer", "err", err)
			return 1
		}

		nc, err = nats.Connect(cfg.Storage.NATSURL, nats.Name("voxcast"))
		if err != nil {
			slog.Error("failed to connect to NATS", "url", cfg.Storage.NATSURL, "err", err)
			return 1
		}
		defer nc.Close()

		js, err := nc.JetStream()
		if err != nil {
			slog.Error("failed to open JetStream context", "err", err)
			return 1
		}

		bucket := cfg.Storage.Bucket
		if bucket == "" {
			bucket = defaultBucket
		}
		store, err = audiostore.NewNATSStore(js, bucket, signer)
		if err != nil {
			slog.Error("failed to open audio bucket", "bucket", bucket, "err", err)
			return 1
		}
		urlTTL := cfg.Storage.URLTTL.Std()
		if urlTTL <= 0 {
			urlTTL = audiostore.DefaultURLTTL
		}
		slog.Info("audio store ready", "bucket", bucket, "url_ttl", urlTTL)
	} else {
		slog.Info("no audio store configured; provider-hosted URLs only")
	}

	// ── Auth ──────────────────────────────────────────────────────────────────
	verifier, err := auth.NewHMACVerifier(cfg.Auth.TokenSecret)
	if err != nil {
		slog.Error("failed to create token verifier", "err", err)
		return 1
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	orch := generate.New(provider, creditLedger, store, repo, logger,
		generate.WithMetrics(observe.DefaultMetrics(), cfg.Provider.Name))

	checkers := []health.Checker{health.Ping("database", pool)}
	if nc != nil {
		checkers = append(checkers, health.Checker{
			Name: "nats",
			Check: func(context.Context) error {
				if !nc.IsConnected() {
					return errors.New("not connected")
				}
				return nil
			},
		})
	}

	srv := server.New(server.Config{
		Generator:    orch,
		Verifier:     verifier,
		Profiles:     creditLedger,
		Repo:         repo,
		Store:        store,
		Signer:       signer,
		Provider:     provider,
		ProviderName: cfg.Provider.Name,
		Health:       health.New(checkers...),
		Logger:       logger,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Only the log level applies without a restart; everything else is logged
	// as pending until the operator restarts the process.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.LogLevelChanged {
			logLevel.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level updated", "level", diff.NewLogLevel)
		}
		if diff.RestartRequired() {
			slog.Warn("config change requires a restart to take effect")
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server ready", "addr", cfg.Server.ListenAddr, "tls", cfg.Server.TLS != nil)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the TTS provider factories that ship with
// Voxcast into reg. Each factory builds a provider from a config.ProviderEntry.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, ttsopenai.WithTimeout(d))
		}
		return ttsopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("jobtts", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []jobtts.Option
		if d := optDuration(entry.Options, "poll_interval"); d > 0 {
			opts = append(opts, jobtts.WithPollInterval(d))
		}
		if n := optInt(entry.Options, "max_attempts"); n > 0 {
			opts = append(opts, jobtts.WithMaxAttempts(n))
		}
		if v := optString(entry.Options, "default_voice"); v != "" {
			opts = append(opts, jobtts.WithDefaultVoice(v))
		}
		return jobtts.New(entry.BaseURL, entry.APIKey, opts...)
	})
}

// ── Logger ────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML decodes
// whole numbers as int.
func optInt(opts map[string]any, key string) int {
	v, ok := opts[key]
	if !ok {
		return 0
	}
	n, _ := v.(int)
	return n
}

// optDuration extracts a duration from a provider Options map, accepting
// strings such as "2s".
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring malformed duration option", "key", key, "value", s)
		return 0
	}
	return d
}
