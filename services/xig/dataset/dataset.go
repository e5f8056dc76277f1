// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dataset manages the SQLite dataset file: opening it read-only,
// validating candidate files during a refresh, and exposing basic
// metadata. The dataset is disposable - it is replaced wholesale by the
// lifecycle manager and never written by this process.
//
// The driver is modernc.org/sqlite (pure Go, no cgo), registered under
// the name "sqlite".
package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// KnownTables are the tables a well-formed dataset may carry. Validation
// requires Resources; everything else degrades to "not known" when
// absent.
var KnownTables = []string{
	"Metadata",
	"Packages",
	"Resources",
	"Dependencies",
	"Categories",
	"TxSources",
	"ResourceFTS",
	"CodeSystemFTS",
}

// ErrNotADataset reports that a candidate file is not a usable dataset.
var ErrNotADataset = errors.New("file is not a well-formed dataset")

// DB is a read-only handle on the active dataset. Exactly one is active
// at a time; the lifecycle manager is the only writer of that reference.
type DB struct {
	handle     *sql.DB
	path       string
	tableCount int
}

// Open opens the dataset at path read-only and verifies it responds to
// queries. The connection is serialized by database/sql's pool; SQLite
// read connections are cheap and queries are short.
func Open(ctx context.Context, path string) (*DB, error) {
	handle, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening dataset %s: %w", path, err)
	}

	count, err := tableCount(ctx, handle)
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("inspecting dataset %s: %w", path, err)
	}

	return &DB{handle: handle, path: path, tableCount: count}, nil
}

// Validate checks that the file at path opens as a relational store and
// carries the Resources table. Used on a downloaded candidate before it
// replaces the active dataset.
func Validate(ctx context.Context, path string) error {
	handle, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotADataset, err)
	}
	defer handle.Close()

	known := 0
	for _, table := range KnownTables {
		ok, err := tableExists(ctx, handle, table)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotADataset, err)
		}
		if ok {
			known++
		}
	}
	if known == 0 {
		return fmt.Errorf("%w: no recognizable tables", ErrNotADataset)
	}

	ok, err := tableExists(ctx, handle, "Resources")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotADataset, err)
	}
	if !ok {
		return fmt.Errorf("%w: missing Resources table", ErrNotADataset)
	}
	return nil
}

// Handle returns the underlying connection pool.
func (d *DB) Handle() *sql.DB {
	return d.handle
}

// Path returns the file path this handle was opened on.
func (d *DB) Path() string {
	return d.path
}

// TableCount returns the number of tables seen at open time.
func (d *DB) TableCount() int {
	return d.tableCount
}

// Metadata returns the dataset's Metadata table as a name/value map.
// A dataset without a Metadata table yields an empty map.
func (d *DB) Metadata(ctx context.Context) (map[string]string, error) {
	meta := map[string]string{}

	ok, err := tableExists(ctx, d.handle, "Metadata")
	if err != nil {
		return nil, fmt.Errorf("checking Metadata table: %w", err)
	}
	if !ok {
		return meta, nil
	}

	rows, err := d.handle.QueryContext(ctx, `SELECT Name, Value FROM Metadata`)
	if err != nil {
		return nil, fmt.Errorf("reading Metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scanning Metadata row: %w", err)
		}
		if name.Valid {
			meta[name.String] = value.String
		}
	}
	return meta, rows.Err()
}

// HasTable reports whether the dataset carries the named table.
func (d *DB) HasTable(ctx context.Context, name string) (bool, error) {
	return tableExists(ctx, d.handle, name)
}

// Close releases the connection pool. In-flight queries on other
// goroutines finish first; database/sql drains them.
func (d *DB) Close() error {
	return d.handle.Close()
}

func tableExists(ctx context.Context, handle *sql.DB, name string) (bool, error) {
	var n int
	err := handle.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table','view') AND name = ?`,
		name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func tableCount(ctx context.Context, handle *sql.DB) (int, error) {
	var n int
	err := handle.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'`).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
