// Package scheduler provides background housekeeping for playout: pruning
// finished transcode job records, closing stale session records, and
// removing orphaned encoder work directories.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/playout-media/playout/internal/repository"
)

// JanitorConfig holds configuration for the janitor.
type JanitorConfig struct {
	// Schedule is a 5-field cron expression for cleanup runs.
	// Default: every 5 minutes.
	Schedule string

	// RecordRetention is how long finished job records are kept.
	// Default: 24 hours.
	RecordRetention time.Duration

	// SessionStaleAfter is how long an active session record may go
	// without access before it is closed as stale. Covers records
	// orphaned by an unclean shutdown. Default: 1 hour.
	SessionStaleAfter time.Duration

	// TempDir is the encoder work directory root to sweep.
	TempDir string

	// SyncInterval is how often the schedule is checked. Default: 1 minute.
	SyncInterval time.Duration
}

// DefaultJanitorConfig returns the default janitor configuration.
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Schedule:          "*/5 * * * *",
		RecordRetention:   24 * time.Hour,
		SessionStaleAfter: time.Hour,
		SyncInterval:      time.Minute,
	}
}

// Janitor runs cleanup tasks on a cron schedule.
type Janitor struct {
	mu sync.Mutex

	sessionRepo repository.SessionRepository
	jobRepo     repository.TranscodeJobRepository

	// liveJobDirs reports work directory names that belong to jobs still
	// in flight and must not be swept.
	liveJobDirs func() map[string]struct{}

	logger *slog.Logger
	parser cron.Parser
	cfg    JanitorConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJanitor creates a janitor. liveJobDirs may be nil when no jobs run in
// this process.
func NewJanitor(sessionRepo repository.SessionRepository, jobRepo repository.TranscodeJobRepository, liveJobDirs func() map[string]struct{}) *Janitor {
	return &Janitor{
		sessionRepo: sessionRepo,
		jobRepo:     jobRepo,
		liveJobDirs: liveJobDirs,
		logger:      slog.Default(),
		parser:      cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		cfg:         DefaultJanitorConfig(),
	}
}

// WithLogger sets a custom logger.
func (j *Janitor) WithLogger(logger *slog.Logger) *Janitor {
	j.logger = logger.With(slog.String("component", "janitor"))
	return j
}

// WithConfig applies configuration to the janitor.
func (j *Janitor) WithConfig(cfg JanitorConfig) *Janitor {
	if cfg.Schedule != "" {
		j.cfg.Schedule = cfg.Schedule
	}
	if cfg.RecordRetention > 0 {
		j.cfg.RecordRetention = cfg.RecordRetention
	}
	if cfg.SessionStaleAfter > 0 {
		j.cfg.SessionStaleAfter = cfg.SessionStaleAfter
	}
	if cfg.TempDir != "" {
		j.cfg.TempDir = cfg.TempDir
	}
	if cfg.SyncInterval > 0 {
		j.cfg.SyncInterval = cfg.SyncInterval
	}
	return j
}

// Start begins the janitor's background loop.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.ctx != nil {
		return fmt.Errorf("janitor already started")
	}
	if _, err := j.parser.Parse(j.cfg.Schedule); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", j.cfg.Schedule, err)
	}

	j.ctx, j.cancel = context.WithCancel(ctx)

	j.wg.Add(1)
	go j.loop()

	j.logger.Info("janitor started",
		slog.String("schedule", j.cfg.Schedule),
		slog.Duration("record_retention", j.cfg.RecordRetention))

	return nil
}

// Stop stops the janitor.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if j.cancel != nil {
		j.cancel()
	}
	j.mu.Unlock()

	j.wg.Wait()

	j.mu.Lock()
	j.ctx = nil
	j.cancel = nil
	j.mu.Unlock()

	j.logger.Info("janitor stopped")
}

// loop checks the schedule every sync interval and runs cleanup when due.
func (j *Janitor) loop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			if j.isDue(j.cfg.Schedule) {
				j.RunOnce(j.ctx)
			}
		}
	}
}

// isDue checks if a cron schedule is due within the current sync window.
func (j *Janitor) isDue(cronExpr string) bool {
	schedule, err := j.parser.Parse(cronExpr)
	if err != nil {
		j.logger.Warn("invalid cron expression", slog.String("cron", cronExpr), slog.Any("error", err))
		return false
	}

	now := time.Now()
	next := schedule.Next(now.Add(-j.cfg.SyncInterval))
	return !next.After(now)
}

// RunOnce executes every cleanup task immediately.
func (j *Janitor) RunOnce(ctx context.Context) {
	j.pruneJobRecords(ctx)
	j.closeStaleSessions(ctx)
	j.sweepWorkDirs()
}

// pruneJobRecords deletes finished job records past the retention window.
func (j *Janitor) pruneJobRecords(ctx context.Context) {
	cutoff := time.Now().Add(-j.cfg.RecordRetention)
	deleted, err := j.jobRepo.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("pruning job records", slog.Any("error", err))
		return
	}
	if deleted > 0 {
		j.logger.Info("pruned finished job records", slog.Int64("deleted", deleted))
	}
}

// closeStaleSessions closes active session records without recent access.
func (j *Janitor) closeStaleSessions(ctx context.Context) {
	cutoff := time.Now().Add(-j.cfg.SessionStaleAfter)
	closed, err := j.sessionRepo.CloseStale(ctx, cutoff)
	if err != nil {
		j.logger.Error("closing stale sessions", slog.Any("error", err))
		return
	}
	if closed > 0 {
		j.logger.Info("closed stale session records", slog.Int64("closed", closed))
	}
}

// sweepWorkDirs removes encoder work directories that no live job owns.
func (j *Janitor) sweepWorkDirs() {
	if j.cfg.TempDir == "" {
		return
	}

	entries, err := os.ReadDir(j.cfg.TempDir)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Error("reading temp dir", slog.String("path", j.cfg.TempDir), slog.Any("error", err))
		}
		return
	}

	var live map[string]struct{}
	if j.liveJobDirs != nil {
		live = j.liveJobDirs()
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "job-") {
			continue
		}
		if _, ok := live[entry.Name()]; ok {
			continue
		}

		path := filepath.Join(j.cfg.TempDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			j.logger.Warn("removing orphaned work dir", slog.String("path", path), slog.Any("error", err))
			continue
		}
		j.logger.Info("removed orphaned work dir", slog.String("path", path))
	}
}
