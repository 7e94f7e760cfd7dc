// Machine listener server - records machine references, scores live audio
// against them and broadcasts health events over HTTP, WebSocket and gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/audio"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/capture"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/config"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/grpcserver"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/server"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "YAML config file")
	envPath := flag.String("env", ".env", "dotenv file loaded before the environment is read")
	noAudio := flag.Bool("no-audio", false, "disable the live input; only /ws/ingest and uploads")
	flag.Parse()

	if err := config.LoadEnvFile(*envPath); err != nil {
		slog.Error("failed to load env file", "path", *envPath, "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	kv, err := store.Open(cfg.DataDir, cfg.StoreInMemory)
	if err != nil {
		slog.Error("failed to open store", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer func() { _ = kv.Close() }()

	deps := orchestrator.Deps{
		Models:  store.NewModels(kv),
		Records: store.NewRecords(kv),
	}
	if !*noAudio {
		deps.Open = liveInput(cfg)
	}
	orch := orchestrator.New(cfg, deps)
	srv := server.New(orch)
	health := grpcserver.New(orch.Status)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch.Start(ctx)
	go health.Watch(ctx, grpcserver.DefaultHealthCheckInterval)

	// Uploads and the ingest socket are long-lived, so only the header
	// read is bounded.
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("http server starting", "addr", cfg.HTTPAddr, "live_input", deps.Open != nil, "store", storeKind(cfg))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		slog.Error("failed to listen", "addr", cfg.GRPCAddr, "error", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("grpc health server starting", "addr", cfg.GRPCAddr)
		if err := health.Serve(lis); err != nil {
			slog.Error("grpc server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	health.Shutdown()
	srv.Close()
	orch.Close()
	slog.Info("shutdown complete")
}

// liveInput opens the configured PortAudio device for each session.
func liveInput(cfg *config.Config) orchestrator.SourceOpener {
	return func(ctx context.Context) (capture.Source, error) {
		s, err := audio.OpenStream(audio.StreamConfig{
			Device:          cfg.InputDevice,
			SampleRate:      cfg.SampleRate,
			FramesPerBuffer: cfg.FramesPerBuffer,
			Excluded:        cfg.ExcludedAudioDevices,
		})
		if err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "audio input opened", "device", s.Device(), "sample_rate", s.SampleRate())
		return s, nil
	}
}

func storeKind(cfg *config.Config) string {
	if cfg.StoreInMemory {
		return "memory"
	}
	return cfg.DataDir
}
