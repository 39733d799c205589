package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"proctor-stream/internal/config"
	"proctor-stream/internal/detect"
	"proctor-stream/internal/hub"
	"proctor-stream/internal/ingest"
	"proctor-stream/internal/logging"
	"proctor-stream/internal/logwriter"
	"proctor-stream/internal/publish"
	"proctor-stream/internal/server"
	"proctor-stream/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and stream server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	log, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	gin.SetMode(cfg.GinMode)

	st, err := store.Open(store.Options{
		Driver:      cfg.StoreDriver,
		BadgerDir:   cfg.BadgerDir,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		return fmt.Errorf("open log store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("close log store", zap.Error(err))
		}
	}()

	var pub publish.Publisher = publish.Nop{}
	if cfg.NATSURL != "" {
		nc, err := publish.Connect(cfg.NATSURL, cfg.NATSSubjectPrefix, log.Named("publish"))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		pub = nc
	}
	defer func() { _ = pub.Close() }()

	h := hub.New(log.Named("hub"))
	app := server.NewApp(server.Deps{
		Store:       st,
		Hub:         h,
		TokenConfig: tokenConfig(cfg),
		Detectors:   detectors(cfg),
		Publisher:   pub,
		Stream: server.StreamOptions{
			Ingest: ingest.Config{
				KeepaliveInterval: cfg.KeepaliveInterval,
				IdleTimeout:       cfg.IdleTimeout,
				MaxProbeFailures:  cfg.MaxProbeFailures,
			},
			Retry: logwriter.Config{
				Attempts: cfg.StoreRetries,
				Backoff:  cfg.StoreBackoff,
			},
			MinFrameBytes:  cfg.MinFrameBytes,
			MaxFrameBytes:  cfg.MaxFrameBytes,
			MaxFramePixels: cfg.MaxFramePixels,
		},
		WSBaseURL: cfg.WSBaseURL,
		Logger:    log,
	})
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting server",
		zap.Int("port", cfg.Port),
		zap.String("store", cfg.StoreDriver),
		zap.Bool("nats", cfg.NATSURL != ""))
	return server.Run(ctx, cfg, app.Router, h, log)
}

func detectors(cfg config.Config) []detect.Detector {
	out := []detect.Detector{detect.NewBrightness(cfg.LowLightThreshold)}
	for i, url := range cfg.DetectorURLs {
		out = append(out, detect.NewRemote(detect.RemoteConfig{
			Name:    fmt.Sprintf("remote-%d", i+1),
			URL:     url,
			Timeout: cfg.DetectorTimeout,
		}))
	}
	return out
}
