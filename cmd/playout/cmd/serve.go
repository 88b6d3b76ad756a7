package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/playout-media/playout/internal/database"
	"github.com/playout-media/playout/internal/database/migrations"
	"github.com/playout-media/playout/internal/ffmpeg"
	internalhttp "github.com/playout-media/playout/internal/http"
	"github.com/playout-media/playout/internal/http/handlers"
	"github.com/playout-media/playout/internal/repository"
	"github.com/playout-media/playout/internal/scheduler"
	"github.com/playout-media/playout/internal/services"
	"github.com/playout-media/playout/internal/streaming"
	"github.com/playout-media/playout/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the playout server",
	Long: `Start the playout HTTP server and API.

The server provides:
- REST API for opening and managing playback sessions
- HLS and DASH manifest and segment delivery
- Direct-play file serving with Range support
- Health check endpoint
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to bind to")
	serveCmd.Flags().Int("port", 0, "Port to listen on")
	serveCmd.Flags().String("database", "", "Database DSN")
	serveCmd.Flags().String("data-dir", "", "Data directory for segment and temp files")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("database") {
		cfg.Database.DSN, _ = cmd.Flags().GetString("database")
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.Storage.BaseDir, _ = cmd.Flags().GetString("data-dir")
	}

	logger := initLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Locate ffmpeg/ffprobe before touching anything else; nothing works
	// without them.
	detector := ffmpeg.NewBinaryDetector(cfg.FFmpeg)
	binInfo, err := detector.Detect(ctx)
	if err != nil {
		return fmt.Errorf("detecting ffmpeg: %w", err)
	}
	logger.Info("detected ffmpeg",
		slog.String("path", binInfo.FFmpegPath),
		slog.String("version", binInfo.Version),
	)

	if err := os.MkdirAll(cfg.Storage.TempPath(), 0o755); err != nil {
		return fmt.Errorf("creating temp directory: %w", err)
	}

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.All())
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	sessionRepo := repository.NewSessionRepository(db.DB)
	jobRepo := repository.NewTranscodeJobRepository(db.DB)

	// Reconcile records orphaned by an unclean shutdown. In-memory state
	// is gone, so anything still open belongs to a previous run.
	if closed, err := sessionRepo.CloseStale(ctx, time.Now()); err != nil {
		logger.Warn("closing stale session records", slog.String("error", err.Error()))
	} else if closed > 0 {
		logger.Info("closed stale session records from previous run", slog.Int64("count", closed))
	}
	if failed, err := jobRepo.FailUnfinished(ctx, "interrupted by restart"); err != nil {
		logger.Warn("failing unfinished job records", slog.String("error", err.Error()))
	} else if failed > 0 {
		logger.Info("failed unfinished job records from previous run", slog.Int64("count", failed))
	}

	capacity := services.DetectCapacity(ctx, cfg.Streaming.PoolCapacity, logger)
	pool := streaming.NewWorkerPool(capacity.EncodeSlots, cfg.Streaming.QueueDepth, logger)
	pool.Start(ctx)

	// The sink outlives the serve context so the final session and job
	// state changes from shutdown still get persisted.
	sinkCtx, sinkCancel := context.WithCancel(context.Background())
	defer sinkCancel()
	sink := streaming.NewDBRecordSink(sessionRepo, jobRepo, logger)
	go sink.Run(sinkCtx)

	prober := ffmpeg.NewProber(binInfo.FFprobePath)
	builder := streaming.NewFFmpegEncoderBuilder(binInfo.FFmpegPath, logger)

	managerCfg := streaming.ManagerConfig{
		SegmentDuration:     cfg.Streaming.SegmentDuration,
		AheadWindow:         cfg.Streaming.AheadWindow,
		LiveWindowSegments:  cfg.Streaming.LiveWindowSegments,
		SegmentFetchTimeout: cfg.Streaming.SegmentFetchTimeout,
		StallTimeout:        cfg.Streaming.StallTimeout,
		CancelGrace:         cfg.Streaming.CancelGrace,
		SessionIdleTimeout:  cfg.Streaming.SessionIdleTimeout,
		ReaperInterval:      cfg.Streaming.ReaperInterval,
		MaxAttempts:         cfg.Streaming.MaxAttempts,
		MaxStoreBytes:       cfg.Storage.MaxSegmentBytesPerJob.Bytes(),
		TempDir:             cfg.Storage.TempPath(),
	}
	manager := streaming.NewSessionManager(managerCfg, prober, streaming.NewSelector(streaming.DefaultLadder()), pool, builder, sink, logger)
	go manager.RunReaper(ctx)

	janitor := scheduler.NewJanitor(sessionRepo, jobRepo, manager.LiveJobDirs).
		WithLogger(logger).
		WithConfig(scheduler.JanitorConfig{
			Schedule:          cfg.Streaming.CleanupSchedule,
			RecordRetention:   cfg.Streaming.RecordRetention,
			SessionStaleAfter: cfg.Streaming.SessionIdleTimeout,
			TempDir:           cfg.Storage.TempPath(),
			SyncInterval:      time.Minute,
		})
	if err := janitor.Start(ctx); err != nil {
		return fmt.Errorf("starting janitor: %w", err)
	}
	defer janitor.Stop()

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	healthHandler := handlers.NewHealthHandler(version.Version).
		WithDB(db.DB).
		WithPool(pool).
		WithSessionCounter(func() int { return len(manager.List()) })
	healthHandler.Register(server.API())

	sessionHandler := handlers.NewSessionHandler(manager, logger)
	sessionHandler.Register(server.API())

	playbackHandler := handlers.NewPlaybackHandler(manager, streaming.ManifestConfig{
		SegmentDuration:    cfg.Streaming.SegmentDuration,
		LiveWindowSegments: cfg.Streaming.LiveWindowSegments,
	}, logger)
	playbackHandler.RegisterChiRoutes(server.Router())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting playout server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.Int("encode_slots", capacity.EncodeSlots),
		slog.String("version", version.Version),
	)

	err = server.ListenAndServe(ctx)

	// Stop producing before the record sink drains.
	manager.CloseAll()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if poolErr := pool.Shutdown(shutdownCtx); poolErr != nil {
		logger.Warn("worker pool shutdown", slog.String("error", poolErr.Error()))
	}
	sinkCancel()
	sink.Wait()

	return err
}
