// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache holds the in-memory snapshot derived from the active
// dataset and publishes it through a lock-free read path.
//
// A Snapshot is built entirely off to the side and then made visible by
// a single atomic pointer swap, so a reader never observes a mix of old
// and new lookup tables and never waits on a rebuild in progress. The
// previous snapshot stays valid for any reader still holding it and is
// collected once unreferenced.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HealthIntersections/xig-server/services/xig/dataset"
	"github.com/HealthIntersections/xig-server/services/xig/datatypes"
)

// Snapshot is the fully-built set of lookup tables for one dataset
// version. All fields are immutable after Build returns; a Snapshot
// reachable from Store.Current is either fully populated (Loaded) or
// the initial empty one.
type Snapshot struct {
	// Loaded is false only for the placeholder snapshot published
	// before the first successful build.
	Loaded  bool
	BuiltAt time.Time

	// Metadata carries the dataset's self-description (title, schema
	// version string).
	Metadata map[string]string

	PackagesByKey map[int64]datatypes.Package
	// PackagesByID is keyed by the URL-safe package identity ("id|version").
	PackagesByID map[string]datatypes.Package

	// Known-value sets used to validate facet refinements. Realm codes
	// longer than three characters are deliberately absent; they are
	// custom realms that aggregate into an "other" bucket instead.
	Realms            map[string]bool
	Authorities       map[string]bool
	ResourceTypes     map[string]bool
	ProfileResources  map[string]bool
	ProfileTypes      map[string]bool
	ExtensionContexts map[string]bool

	// TxSources maps terminology source codes to display names.
	TxSources map[string]string

	// TableRows holds per-table row counts for the status surface.
	TableRows map[string]int64
}

// NewEmptySnapshot returns the unloaded placeholder. All known-value
// lookups on it report "not known", which makes facet validation drop
// refinement values rather than fail.
func NewEmptySnapshot() *Snapshot {
	return &Snapshot{
		Metadata:          map[string]string{},
		PackagesByKey:     map[int64]datatypes.Package{},
		PackagesByID:      map[string]datatypes.Package{},
		Realms:            map[string]bool{},
		Authorities:       map[string]bool{},
		ResourceTypes:     map[string]bool{},
		ProfileResources:  map[string]bool{},
		ProfileTypes:      map[string]bool{},
		ExtensionContexts: map[string]bool{},
		TxSources:         map[string]string{},
		TableRows:         map[string]int64{},
	}
}

// Package looks up a package by its key.
func (s *Snapshot) Package(key int64) (datatypes.Package, bool) {
	p, ok := s.PackagesByKey[key]
	return p, ok
}

// PackageByWebID looks up a package by its URL-safe identity string.
func (s *Snapshot) PackageByWebID(webID string) (datatypes.Package, bool) {
	p, ok := s.PackagesByID[webID]
	return p, ok
}

// TxSourceDisplay returns the display name for a terminology source
// code, falling back to the code itself.
func (s *Snapshot) TxSourceDisplay(code string) string {
	if display, ok := s.TxSources[code]; ok && display != "" {
		return display
	}
	return code
}

// Build constructs a Snapshot from the given dataset. The lookups run
// concurrently; any failure aborts the whole build and the caller keeps
// whatever snapshot was previously published.
func Build(ctx context.Context, db *dataset.DB) (*Snapshot, error) {
	snap := NewEmptySnapshot()
	handle := db.Handle()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		meta, err := db.Metadata(gctx)
		if err != nil {
			return fmt.Errorf("metadata: %w", err)
		}
		snap.Metadata = meta
		return nil
	})

	g.Go(func() error {
		return loadPackages(gctx, handle, snap)
	})

	g.Go(func() error {
		var err error
		snap.Realms, err = distinctValues(gctx, handle,
			`SELECT DISTINCT Realm FROM Resources
			 WHERE Realm IS NOT NULL AND Realm != '' AND length(Realm) <= 3`)
		if err != nil {
			return fmt.Errorf("realms: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		snap.Authorities, err = distinctValues(gctx, handle,
			`SELECT DISTINCT Authority FROM Resources
			 WHERE Authority IS NOT NULL AND Authority != ''`)
		if err != nil {
			return fmt.Errorf("authorities: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		snap.ResourceTypes, err = distinctValues(gctx, handle,
			`SELECT DISTINCT ResourceType FROM Resources
			 WHERE ResourceType IS NOT NULL AND ResourceType != ''`)
		if err != nil {
			return fmt.Errorf("resource types: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		snap.ProfileResources, err = distinctValues(gctx, handle,
			`SELECT DISTINCT Type FROM Resources
			 WHERE ResourceType = 'StructureDefinition' AND Kind = 'resource'
			   AND Type IS NOT NULL AND Type != ''`)
		if err != nil {
			return fmt.Errorf("profile resources: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		snap.ProfileTypes, err = distinctValues(gctx, handle,
			`SELECT DISTINCT Type FROM Resources
			 WHERE ResourceType = 'StructureDefinition'
			   AND Kind IN ('primitive-type', 'complex-type')
			   AND Type IS NOT NULL AND Type != ''`)
		if err != nil {
			return fmt.Errorf("profile types: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return loadExtensionContexts(gctx, db, snap)
	})

	g.Go(func() error {
		return loadTxSources(gctx, db, snap)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Row counts come last, sequentially: cheap, and they reference
	// tables whose presence was just probed.
	if err := loadTableRows(ctx, db, snap); err != nil {
		return nil, err
	}

	snap.Loaded = true
	snap.BuiltAt = time.Now()
	return snap, nil
}

func loadPackages(ctx context.Context, handle *sql.DB, snap *Snapshot) error {
	rows, err := handle.QueryContext(ctx,
		`SELECT PackageKey, PID, Id, Web, Canonical FROM Packages`)
	if err != nil {
		return fmt.Errorf("packages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key int64
		var pid, id, web, canonical sql.NullString
		if err := rows.Scan(&key, &pid, &id, &web, &canonical); err != nil {
			return fmt.Errorf("scanning package: %w", err)
		}
		p := datatypes.Package{
			Key:       key,
			PID:       pid.String,
			ID:        id.String,
			Web:       web.String,
			Canonical: canonical.String,
		}
		snap.PackagesByKey[key] = p
		if p.PID != "" {
			snap.PackagesByID[p.WebID()] = p
		}
	}
	return rows.Err()
}

func loadExtensionContexts(ctx context.Context, db *dataset.DB, snap *Snapshot) error {
	ok, err := db.HasTable(ctx, "Categories")
	if err != nil {
		return fmt.Errorf("extension contexts: %w", err)
	}
	if !ok {
		return nil
	}
	snap.ExtensionContexts, err = distinctValues(ctx, db.Handle(),
		`SELECT DISTINCT Code FROM Categories
		 WHERE Mode = 1 AND Code IS NOT NULL AND Code != ''`)
	if err != nil {
		return fmt.Errorf("extension contexts: %w", err)
	}
	return nil
}

func loadTxSources(ctx context.Context, db *dataset.DB, snap *Snapshot) error {
	ok, err := db.HasTable(ctx, "TxSources")
	if err != nil {
		return fmt.Errorf("tx sources: %w", err)
	}
	if !ok {
		return nil
	}

	rows, err := db.Handle().QueryContext(ctx, `SELECT Code, Display FROM TxSources`)
	if err != nil {
		return fmt.Errorf("tx sources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var code, display sql.NullString
		if err := rows.Scan(&code, &display); err != nil {
			return fmt.Errorf("scanning tx source: %w", err)
		}
		if code.String != "" {
			snap.TxSources[code.String] = display.String
		}
	}
	return rows.Err()
}

func loadTableRows(ctx context.Context, db *dataset.DB, snap *Snapshot) error {
	for _, table := range dataset.KnownTables {
		ok, err := db.HasTable(ctx, table)
		if err != nil {
			return fmt.Errorf("table rows: %w", err)
		}
		if !ok {
			continue
		}
		var n int64
		// Table names come from the fixed KnownTables list, never from
		// user input.
		if err := db.Handle().QueryRowContext(ctx,
			`SELECT COUNT(*) FROM "`+table+`"`).Scan(&n); err != nil {
			return fmt.Errorf("counting %s: %w", table, err)
		}
		snap.TableRows[table] = n
	}
	return nil
}

func distinctValues(ctx context.Context, handle *sql.DB, query string) (map[string]bool, error) {
	rows, err := handle.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := map[string]bool{}
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v.String != "" {
			values[v.String] = true
		}
	}
	return values, rows.Err()
}
