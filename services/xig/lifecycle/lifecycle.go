// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lifecycle owns the dataset refresh cycle: download, validate,
// atomic swap, snapshot rebuild.
//
// The Manager is the single writer of both the dataset pointer and the
// cache store. Readers go through Database() and the store's Current()
// and never block on a refresh. A refresh that fails at any step leaves
// the previously served dataset and snapshot fully intact.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/HealthIntersections/xig-server/pkg/logging"
	"github.com/HealthIntersections/xig-server/services/xig/cache"
	"github.com/HealthIntersections/xig-server/services/xig/dataset"
	"github.com/HealthIntersections/xig-server/services/xig/fetch"
	"github.com/HealthIntersections/xig-server/services/xig/observability"
)

// ErrRefreshInProgress reports that a refresh trigger was dropped
// because another refresh is running. Triggers are not queued; the next
// scheduled run picks up the work.
var ErrRefreshInProgress = errors.New("dataset refresh already in progress")

// Manager drives the dataset lifecycle. It is the only writer of the
// dataset pointer and the only caller of the store's Rebuild.
type Manager struct {
	url     string
	path    string
	fetcher fetch.Fetcher
	store   *cache.Store
	logger  *logging.Logger
	metrics *observability.ServerMetrics

	db         atomic.Pointer[dataset.DB]
	refreshing atomic.Bool
}

// Options configure a Manager. Metrics may be nil (e.g. in tests).
type Options struct {
	URL     string
	Path    string
	Fetcher fetch.Fetcher
	Store   *cache.Store
	Logger  *logging.Logger
	Metrics *observability.ServerMetrics
}

// NewManager builds a lifecycle manager. If a dataset file already
// exists at the configured path it is opened and its snapshot built, so
// a restart serves data without waiting for a download.
func NewManager(ctx context.Context, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Store == nil {
		opts.Store = cache.NewStore(opts.Logger)
	}

	m := &Manager{
		url:     opts.URL,
		path:    opts.Path,
		fetcher: opts.Fetcher,
		store:   opts.Store,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}

	if db, err := dataset.Open(ctx, m.path); err == nil {
		m.db.Store(db)
		if err := m.store.Rebuild(ctx, db); err != nil {
			m.logger.Warn("snapshot build from existing dataset failed", "error", err)
		} else {
			m.logger.Info("serving existing dataset", "path", m.path)
		}
	}

	return m
}

// Database returns the active dataset, or nil before the first
// successful open. It never blocks.
func (m *Manager) Database() *dataset.DB {
	return m.db.Load()
}

// Store returns the snapshot store.
func (m *Manager) Store() *cache.Store {
	return m.store
}

// Refresh downloads a fresh dataset and swaps it in.
//
// At most one refresh runs at a time; a concurrent trigger returns
// ErrRefreshInProgress and does nothing. The sequence is download to a
// temp file beside the target (same filesystem, so the rename is
// atomic), validate, close the old handle, rename over the canonical
// path, reopen read-only, rebuild the snapshot. A failure at any step
// removes the temp file and keeps the prior dataset and snapshot.
func (m *Manager) Refresh(ctx context.Context) error {
	if !m.refreshing.CompareAndSwap(false, true) {
		m.logger.Info("dataset refresh already running, dropping trigger")
		m.recordRefresh(observability.RefreshDropped)
		return ErrRefreshInProgress
	}
	defer m.refreshing.Store(false)

	err := m.refresh(ctx)
	if err != nil {
		m.recordRefresh(observability.RefreshFailure)
		m.logger.Error("dataset refresh failed, keeping current dataset", "error", err)
		return err
	}
	m.recordRefresh(observability.RefreshSuccess)
	return nil
}

func (m *Manager) refresh(ctx context.Context) error {
	start := time.Now()
	m.logger.Info("dataset refresh starting", "url", m.url)

	destDir := filepath.Dir(m.path)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating dataset directory: %w", err)
	}

	tmpPath, err := m.fetcher.Fetch(ctx, m.url, destDir)
	if err != nil {
		return fmt.Errorf("fetching dataset: %w", err)
	}
	defer os.Remove(tmpPath)

	if err := dataset.Validate(ctx, tmpPath); err != nil {
		return fmt.Errorf("validating dataset: %w", err)
	}

	// Point of no return: close the old handle before renaming so no
	// open descriptor pins the replaced file.
	if old := m.db.Load(); old != nil {
		if err := old.Close(); err != nil {
			m.logger.Warn("closing previous dataset", "error", err)
		}
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		// Reopen whatever is still at the canonical path.
		if db, openErr := dataset.Open(ctx, m.path); openErr == nil {
			m.db.Store(db)
		}
		return fmt.Errorf("installing dataset: %w", err)
	}

	db, err := dataset.Open(ctx, m.path)
	if err != nil {
		return fmt.Errorf("opening installed dataset: %w", err)
	}
	m.db.Store(db)

	if err := m.store.Rebuild(ctx, db); err != nil {
		// The new dataset is installed and being served; only the
		// snapshot is stale until the next trigger.
		return fmt.Errorf("rebuilding snapshot: %w", err)
	}

	m.logger.Info("dataset refresh complete",
		"path", m.path, "elapsed", time.Since(start))
	return nil
}

func (m *Manager) recordRefresh(outcome observability.RefreshOutcome) {
	if m.metrics != nil {
		m.metrics.RecordRefresh(outcome)
	}
}

// Status describes the lifecycle state for the /status endpoint.
type Status struct {
	Loaded            bool              `json:"loaded"`
	RefreshInProgress bool              `json:"refreshInProgress"`
	DatasetPath       string            `json:"datasetPath"`
	DatasetAge        string            `json:"datasetAge,omitempty"`
	TableCount        int               `json:"tableCount"`
	TableRows         map[string]int64  `json:"tableRows,omitempty"`
	SnapshotBuiltAt   *time.Time        `json:"snapshotBuiltAt,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Status reports the current lifecycle state. Safe to call at any time,
// including mid-refresh.
func (m *Manager) Status() Status {
	snap := m.store.Current()

	st := Status{
		Loaded:            snap.Loaded,
		RefreshInProgress: m.refreshing.Load(),
		DatasetPath:       m.path,
		TableRows:         snap.TableRows,
		Metadata:          snap.Metadata,
	}
	if snap.Loaded {
		t := snap.BuiltAt
		st.SnapshotBuiltAt = &t
	}
	if db := m.db.Load(); db != nil {
		st.TableCount = db.TableCount()
	}
	if info, err := os.Stat(m.path); err == nil {
		st.DatasetAge = time.Since(info.ModTime()).Round(time.Second).String()
	}
	return st
}

// Close releases the dataset handle. Call on shutdown only; readers
// must be drained first.
func (m *Manager) Close() error {
	if db := m.db.Swap(nil); db != nil {
		return db.Close()
	}
	return nil
}
