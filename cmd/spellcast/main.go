// Command spellcast captures microphone audio, relays it as framed Opus and
// emits a cast event whenever a registered spell trigger is spoken.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/spellcast/internal/app"
	"github.com/MrWong99/spellcast/internal/config"
	"github.com/MrWong99/spellcast/internal/health"
	"github.com/MrWong99/spellcast/internal/keyword"
	"github.com/MrWong99/spellcast/internal/observe"
	"github.com/MrWong99/spellcast/pkg/audio/device"
	"github.com/MrWong99/spellcast/pkg/audio/device/portaudio"
	"github.com/MrWong99/spellcast/pkg/provider/stt"
	"github.com/MrWong99/spellcast/pkg/provider/stt/whisper"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	modelPath := flag.String("model", "", "whisper model file; overrides transcription.model_path")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "spellcast: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "spellcast: %v\n", err)
		}
		return 1
	}
	if *modelPath != "" {
		cfg.Transcription.ModelPath = *modelPath
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("spellcast starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"backend", cfg.Transcription.Backend,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backends ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	host, err := reg.CreateHost(cfg.Audio)
	if err != nil {
		slog.Error("failed to open audio host", "host", cfg.Audio.Host, "err", err)
		return 1
	}
	if c, ok := host.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				slog.Warn("audio host close error", "err", err)
			}
		}()
	}

	application, err := app.New(cfg, app.Providers{
		Host: host,
		NewTranscriber: func(modelPath string) (stt.Transcriber, error) {
			return reg.CreateTranscriber(cfg.Transcription, modelPath)
		},
	}, app.WithMetrics(telemetry.Metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	application.OnCast(func(d keyword.Detection) {
		slog.Info("cast", "spell", d.Spell, "keyword", d.Keyword, "confidence", d.Confidence, "phonetic", d.Phonetic)
		fmt.Println(d.Spell)
	})
	application.OnError(func(err error) {
		slog.Warn("capture error", "err", err)
	})

	if err := application.InitAudio(ctx, cfg.Transcription.ModelPath); err != nil {
		slog.Error("failed to start audio pipeline", "err", err)
		if errors.Is(err, device.ErrDevice) {
			logDevices(application)
		}
		return 1
	}

	// ── HTTP: health + metrics ────────────────────────────────────────────────
	mux := http.NewServeMux()
	health.New(application.Checkers()...).Register(mux)
	mux.Handle("GET /metrics", telemetry.MetricsHandler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(telemetry.Metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	reload, err := config.NewWatcher(*configPath, func(_, next *config.Config) {
		if *modelPath != "" {
			next.Transcription.ModelPath = *modelPath
		}
		level.Set(next.Server.LogLevel.SlogLevel())
		if err := application.ApplyConfig(next); err != nil {
			slog.Error("config reload rejected", "err", err)
		}
	})
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })
	g.Go(func() error { return reload.Run(gctx) })
	if srv.Addr != "" {
		g.Go(func() error {
			slog.Info("http listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("spellcast ready, press Ctrl+C to shut down", "spells", application.Spellbook().Len())

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinBackends wires the transcription backends and audio hosts
// that ship with spellcast into reg.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterTranscriber(config.BackendNative, func(cfg config.TranscriptionConfig, modelPath string) (stt.Transcriber, error) {
		if modelPath == "" {
			modelPath = cfg.ModelPath
		}
		return whisper.NewNativeFromConfig(modelPath, stt.Config{Language: cfg.Language, Threads: cfg.Threads})
	})

	reg.RegisterTranscriber(config.BackendServer, func(cfg config.TranscriptionConfig, _ string) (stt.Transcriber, error) {
		var opts []whisper.Option
		if cfg.Model != "" {
			opts = append(opts, whisper.WithModel(cfg.Model))
		}
		if cfg.Language != "" {
			opts = append(opts, whisper.WithLanguage(cfg.Language))
		}
		return whisper.NewServer(cfg.ServerURL, opts...)
	})

	reg.RegisterHost(config.HostPortAudio, func(config.AudioConfig) (device.Host, error) {
		return portaudio.New()
	})

	slog.Debug("registered backends", "transcription", reg.Transcribers())
}

func logDevices(a *app.App) {
	names, err := a.ListInputDevices()
	if err != nil {
		slog.Warn("could not list input devices", "err", err)
		return
	}
	for _, n := range names {
		slog.Info("available input device", "name", n)
	}
}
