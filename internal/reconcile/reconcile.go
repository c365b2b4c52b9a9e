// Package reconcile periodically repairs drift between the durable job store
// and the Redis status cache. The store is the source of truth; the cache is
// rewritten to match it, except that a terminal cached status is never
// regressed. On top of that it heals user association loss: terminal jobs
// whose durable record lost its user can recover it from the cache while the
// cache entry is still alive.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackzampolin/bindery/internal/jobs"
	"github.com/jackzampolin/bindery/internal/statuscache"
)

const (
	// DefaultInterval is the pause between reconciliation sweeps.
	DefaultInterval = 5 * time.Minute

	// DefaultWindow bounds how far back pass two looks for repairable
	// terminal jobs. Beyond the cache TTL there is nothing left to recover
	// from, so the window should not exceed it.
	DefaultWindow = statuscache.DefaultTTL
)

// Stats summarizes one reconciliation sweep.
type Stats struct {
	Checked           int
	Repaired          int
	UserLossDetected  int
	UserRecovered     int
	UserUnresolved    int
	TerminalConflicts int
}

// Reconciler runs the periodic repair loop.
type Reconciler struct {
	store    jobs.Store
	cache    *statuscache.Cache
	interval time.Duration
	window   time.Duration
	logger   *slog.Logger
}

// Config configures a Reconciler.
type Config struct {
	Store    jobs.Store
	Cache    *statuscache.Cache
	Interval time.Duration // default DefaultInterval
	Window   time.Duration // default DefaultWindow
	Logger   *slog.Logger
}

// New creates a Reconciler.
func New(cfg Config) *Reconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:    cfg.Store,
		cache:    cfg.Cache,
		interval: interval,
		window:   window,
		logger:   logger.With("component", "reconcile"),
	}
}

// Run sweeps on the configured interval until the context is cancelled. An
// initial sweep runs immediately.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		stats, err := r.RunOnce(ctx)
		if err != nil {
			r.logger.Error("reconciliation sweep failed", "error", err)
		} else if stats.Repaired > 0 || stats.UserLossDetected > 0 || stats.TerminalConflicts > 0 {
			r.logger.Info("reconciliation sweep repaired drift",
				"checked", stats.Checked,
				"repaired", stats.Repaired,
				"user_loss_detected", stats.UserLossDetected,
				"user_recovered", stats.UserRecovered,
				"user_unresolved", stats.UserUnresolved,
				"terminal_conflicts", stats.TerminalConflicts,
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep. Per-job failures are logged and counted
// against nothing; the sweep keeps going so one bad record cannot stall the
// rest.
func (r *Reconciler) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	if err := r.repairActive(ctx, &stats); err != nil {
		return stats, err
	}
	if err := r.recoverUsers(ctx, &stats); err != nil {
		return stats, err
	}

	if _, err := r.cache.SweepExpired(ctx); err != nil {
		r.logger.Warn("cache index sweep failed", "error", err)
	}
	return stats, nil
}

// repairActive walks non-terminal jobs and rewrites their cache entries from
// the durable record wherever the two disagree.
func (r *Reconciler) repairActive(ctx context.Context, stats *Stats) error {
	active, err := r.store.FindByStatus(ctx, jobs.StatusQueued, jobs.StatusProcessing)
	if err != nil {
		return err
	}

	for _, job := range active {
		stats.Checked++

		entry, err := r.cache.Read(ctx, job.ID)
		if err != nil && !errors.Is(err, statuscache.ErrMiss) {
			r.logger.Warn("skipping unreadable cache entry", "job_id", job.ID, "error", err)
			continue
		}

		if entry == nil {
			// Entry evicted while the job is still running; rehydrate it so
			// status reads keep working.
			if err := r.cache.Write(ctx, job.ID, statuscache.FromJob(job)); err != nil {
				r.logger.Warn("failed to rehydrate cache entry", "job_id", job.ID, "error", err)
				continue
			}
			stats.Repaired++
			continue
		}

		if entry.Status.Terminal() {
			// The cache claims finished while the store still shows the job
			// running. The cache write path never regresses this; surface it
			// for investigation instead of papering over it.
			stats.TerminalConflicts++
			r.logger.Warn("cache reports terminal status for active job",
				"job_id", job.ID,
				"store_status", job.Status,
				"cached_status", entry.Status,
			)
			continue
		}

		if job.UserID != "" && entry.UserID == "" {
			stats.UserLossDetected++
			r.logger.Warn("cache entry lost user association", "job_id", job.ID, "user_id", job.UserID)
		}

		if entryDiffers(entry, job) {
			if err := r.cache.Write(ctx, job.ID, statuscache.FromJob(job)); err != nil {
				r.logger.Warn("failed to repair cache entry", "job_id", job.ID, "error", err)
				continue
			}
			stats.Repaired++
		}
	}
	return nil
}

// recoverUsers walks recent terminal jobs whose durable record has no user
// and pulls the association back from the cache while it still exists.
func (r *Reconciler) recoverUsers(ctx context.Context, stats *Stats) error {
	terminal, err := r.store.FindByStatus(ctx, jobs.StatusCompleted, jobs.StatusFailed)
	if err != nil {
		return err
	}

	cutoff := time.Now().UTC().Add(-r.window)
	for _, job := range terminal {
		if job.UserID != "" || job.CreatedAt.Before(cutoff) {
			continue
		}
		stats.Checked++

		entry, err := r.cache.Read(ctx, job.ID)
		if err != nil || entry == nil || entry.UserID == "" {
			stats.UserUnresolved++
			r.logger.Warn("terminal job has no recoverable user association", "job_id", job.ID)
			continue
		}

		job.UserID = entry.UserID
		if err := r.store.Save(ctx, job); err != nil {
			r.logger.Warn("failed to restore user association", "job_id", job.ID, "error", err)
			continue
		}
		stats.UserRecovered++
		r.logger.Info("restored user association from cache", "job_id", job.ID, "user_id", job.UserID)
	}
	return nil
}

// entryDiffers reports whether the cache entry disagrees with the durable
// record on any reconciled field.
func entryDiffers(entry *statuscache.Entry, job *jobs.Job) bool {
	if entry.Status != job.Status {
		return true
	}
	if job.UserID != "" && entry.UserID != job.UserID {
		return true
	}
	if job.PublicURL != "" && entry.PublicURL != job.PublicURL {
		return true
	}
	if job.ErrorMessage != "" && entry.ErrorMessage != job.ErrorMessage {
		return true
	}
	if (job.StartedAt == nil) != (entry.StartedAt == nil) {
		return true
	}
	return false
}
