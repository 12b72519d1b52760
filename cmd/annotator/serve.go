package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/heimdex/window-annotator/internal/annotations"
	"github.com/heimdex/window-annotator/internal/api"
	"github.com/heimdex/window-annotator/internal/backup"
	"github.com/heimdex/window-annotator/internal/config"
	"github.com/heimdex/window-annotator/internal/db"
	"github.com/heimdex/window-annotator/internal/events"
	"github.com/heimdex/window-annotator/internal/logging"
	"github.com/heimdex/window-annotator/internal/media"
	"github.com/heimdex/window-annotator/internal/store"
	"github.com/heimdex/window-annotator/internal/transcode"
	"github.com/heimdex/window-annotator/internal/watcher"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the annotation HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger, logCloser := logging.New(logging.Options{Level: cfg.LogLevel(), File: cfg.LogFile()})
	defer logCloser.Close()
	logger.Info("starting window annotator",
		"version", config.Version,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
		"timezone", cfg.Location().String(),
		"window_seconds", cfg.WindowSeconds(),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()
	repo := store.NewRepository(database.Conn())

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := media.NewRunner(media.Config{
		FFmpegPath:       cfg.FFmpegPath(),
		FFprobePath:      cfg.FFprobePath(),
		ProbeTimeout:     cfg.ProbeTimeout(),
		TranscodeTimeout: cfg.TranscodeTimeout(),
		Logger:           logger,
	})
	doctor := media.NewCachedDoctor(runner, cfg.CapabilityTTL(), logger)
	if caps, err := doctor.Refresh(ctx); err != nil {
		logger.Warn("initial capability probe failed", "error", err)
	} else {
		logger.Info("media capabilities detected", "ffmpeg", caps.FFmpeg, "ffprobe", caps.FFprobe)
	}

	publisher, err := events.Connect(cfg.NATSURL(), logger)
	if err != nil {
		logger.Warn("event bus unavailable, events disabled", "error", err)
		publisher = events.NoopPublisher{}
	}
	defer publisher.Close()

	var mirror backup.Mirror = backup.NoopMirror{}
	if cfg.S3Bucket() != "" {
		m, err := backup.NewS3Mirror(ctx, backup.Options{
			Bucket:   cfg.S3Bucket(),
			Region:   cfg.S3Region(),
			Endpoint: cfg.S3Endpoint(),
			Prefix:   cfg.S3Prefix(),
		})
		if err != nil {
			logger.Warn("snapshot mirror unavailable", "error", err)
		} else {
			mirror = m
			logger.Info("snapshot mirror enabled", "bucket", cfg.S3Bucket(), "prefix", cfg.S3Prefix())
		}
	}

	transcoder := transcode.NewService(transcode.Config{
		Repo:      repo,
		Runner:    runner,
		Doctor:    doctor,
		Publisher: publisher,
		OutputDir: cfg.TranscodeDir(),
		UploadDir: cfg.UploadDir(),
		Logger:    logger,
	})
	defer transcoder.Close()

	annotationSvc := annotations.NewService(annotations.Config{
		Repo:          repo,
		Mirror:        mirror,
		Publisher:     publisher,
		Location:      cfg.Location(),
		WindowSeconds: cfg.WindowSeconds(),
		Logger:        logger,
	})

	watchDone := make(chan struct{})
	if cfg.WatchDir() != "" {
		w, err := watcher.New(watcher.Config{
			Dir:      cfg.WatchDir(),
			VideoID:  cfg.WatchVideoID(),
			Sink:     annotationSvc,
			Location: cfg.Location(),
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("failed to configure watcher: %w", err)
		}
		go func() {
			defer close(watchDone)
			if err := w.Run(ctx); err != nil {
				logger.Error("watcher stopped", "error", err)
			}
		}()
	} else {
		close(watchDone)
	}

	tokens := tokenSource(cfg.AuthToken(), repo)
	if tok, _ := tokens(ctx); tok != "" {
		logger.Info("API authentication enabled", "token", logging.SanitizeToken(tok))
	} else {
		logger.Warn("API authentication disabled; run `annotator token` to enable it")
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:        cfg.Port(),
		Annotations: annotationSvc,
		Transcoder:  transcoder,
		Tokens:      tokens,
		WebDir:      cfg.WebDir(),
		Logger:      logger,
		StartTime:   startTime,
		Version:     config.Version,
	})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- apiServer.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	<-watchDone

	logger.Info("shutdown complete")
	return nil
}

// tokenSource prefers the configured token and falls back to the one stored
// by `annotator token`.
func tokenSource(configured string, repo store.Repository) api.TokenSource {
	return func(ctx context.Context) (string, error) {
		if configured != "" {
			return configured, nil
		}
		return repo.GetConfig(ctx, authTokenKey)
	}
}
