// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package reaper periodically expires overdue voting links and purges old ones.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"
)

const (
	// DefaultInterval is how often the sweep runs.
	DefaultInterval = 5 * time.Minute
	// DefaultTimeout bounds a single sweep.
	DefaultTimeout = 30 * time.Second
)

// Store is the persistence the reaper needs.
type Store interface {
	ExpireOverdueVotingLinks(ctx context.Context, now time.Time) (int64, error)
	PurgeVotingLinks(ctx context.Context, before time.Time) (int64, error)
}

// Options configures a Reaper. A zero Retention disables purging.
type Options struct {
	Interval  time.Duration
	Retention time.Duration
	Timeout   time.Duration
	Now       func() time.Time
}

// Result summarizes one sweep.
type Result struct {
	Expired int64
	Purged  int64
}

// Reaper runs the sweep on a cron schedule.
type Reaper struct {
	store   Store
	opts    Options
	logger  *slog.Logger
	cron    *cron.Cron
	running atomic.Bool
}

// New creates a reaper. It does not start until Start is called.
func New(store Store, opts Options, logger *slog.Logger) *Reaper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{store: store, opts: opts, logger: logger}
}

// RunOnce expires overdue links and purges terminal links past the retention window.
func (r *Reaper) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	now := r.opts.Now()

	expired, err := r.store.ExpireOverdueVotingLinks(ctx, now)
	if err != nil {
		return res, fmt.Errorf("expiring voting links: %w", err)
	}
	res.Expired = expired

	if r.opts.Retention > 0 {
		purged, err := r.store.PurgeVotingLinks(ctx, now.Add(-r.opts.Retention))
		if err != nil {
			return res, fmt.Errorf("purging voting links: %w", err)
		}
		res.Purged = purged
	}

	return res, nil
}

// Start schedules the sweep every Interval.
func (r *Reaper) Start() error {
	c := cron.New()
	if err := c.AddFunc(fmt.Sprintf("@every %s", r.opts.Interval), r.sweep); err != nil {
		return fmt.Errorf("scheduling sweep: %w", err)
	}
	c.Start()
	r.cron = c
	r.logger.Info("reaper started", "interval", r.opts.Interval, "retention", r.opts.Retention)
	return nil
}

// Stop halts the schedule. A sweep already running is allowed to finish.
func (r *Reaper) Stop() {
	if r.cron == nil {
		return
	}
	r.cron.Stop()
	r.cron = nil
	r.logger.Info("reaper stopped")
}

func (r *Reaper) sweep() {
	// Skip a tick while the previous sweep is still running.
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	defer r.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.Timeout)
	defer cancel()

	res, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.Error("voting link sweep failed", "error", err)
		return
	}
	if res.Expired > 0 || res.Purged > 0 {
		r.logger.Info("voting link sweep", "expired", res.Expired, "purged", res.Purged)
	}
}
