// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/HealthIntersections/xig-server/pkg/logging"
	"github.com/HealthIntersections/xig-server/services/xig/dataset"
)

// ErrRebuildInProgress reports that a rebuild trigger was dropped
// because another rebuild is running. The caller does not retry; the
// next scheduled trigger will.
var ErrRebuildInProgress = errors.New("snapshot rebuild already in progress")

// ErrNotLoaded reports that the snapshot has never been built.
var ErrNotLoaded = errors.New("snapshot not loaded")

// Store publishes the current Snapshot behind an atomic pointer.
//
// Readers call Current and get a consistent, frozen view for the
// duration of their query without taking any lock shared with the
// writer. The lifecycle manager is the only caller of Rebuild/Publish.
type Store struct {
	current    atomic.Pointer[Snapshot]
	rebuilding atomic.Bool
	logger     *logging.Logger
}

// NewStore creates a Store whose current snapshot is the unloaded
// placeholder, so Current never returns nil.
func NewStore(logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Store{logger: logger}
	s.current.Store(NewEmptySnapshot())
	return s
}

// Current returns the active snapshot. It never blocks and never
// returns nil; before the first successful rebuild the snapshot is
// empty and unloaded.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Publish atomically replaces the visible snapshot. Readers that loaded
// the previous snapshot keep using it unchanged.
func (s *Store) Publish(snap *Snapshot) {
	s.current.Store(snap)
}

// Rebuilding reports whether a rebuild is currently running.
func (s *Store) Rebuilding() bool {
	return s.rebuilding.Load()
}

// Rebuild builds a new snapshot from db and publishes it.
//
// At most one rebuild runs at a time: a concurrent trigger is dropped
// with ErrRebuildInProgress (logged, not queued, not retried). If the
// build fails partway the previously published snapshot stays active
// unchanged; there is no partial publish.
func (s *Store) Rebuild(ctx context.Context, db *dataset.DB) error {
	if !s.rebuilding.CompareAndSwap(false, true) {
		s.logger.Info("snapshot rebuild already running, dropping trigger")
		recordRebuildDropped(ctx)
		return ErrRebuildInProgress
	}
	defer s.rebuilding.Store(false)

	start := time.Now()
	snap, err := Build(ctx, db)
	recordRebuild(ctx, time.Since(start), err)

	if err != nil {
		s.logger.Error("snapshot rebuild failed, keeping previous snapshot",
			"error", err, "elapsed", time.Since(start))
		return fmt.Errorf("rebuilding snapshot: %w", err)
	}

	s.Publish(snap)
	s.logger.Info("snapshot rebuilt",
		"packages", len(snap.PackagesByKey),
		"realms", len(snap.Realms),
		"authorities", len(snap.Authorities),
		"elapsed", time.Since(start))
	return nil
}
