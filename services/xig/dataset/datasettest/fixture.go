// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datasettest builds throwaway SQLite dataset fixtures for
// tests. Fixtures use the same schema the production dataset carries so
// query, cache, graph and lifecycle tests run against a real store.
package datasettest

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/HealthIntersections/xig-server/services/xig/datatypes"
)

const schema = `
CREATE TABLE Metadata (Name TEXT PRIMARY KEY, Value TEXT);
CREATE TABLE Packages (
  PackageKey INTEGER PRIMARY KEY,
  PID TEXT, Id TEXT, Web TEXT, Canonical TEXT
);
CREATE TABLE Resources (
  ResourceKey INTEGER PRIMARY KEY,
  PackageKey INTEGER,
  ResourceType TEXT, Id TEXT,
  R2 INTEGER DEFAULT 0, R2B INTEGER DEFAULT 0, R3 INTEGER DEFAULT 0,
  R4 INTEGER DEFAULT 0, R4B INTEGER DEFAULT 0, R5 INTEGER DEFAULT 0,
  R6 INTEGER DEFAULT 0,
  Web TEXT, Url TEXT, Version TEXT, Status TEXT, Date TEXT,
  Name TEXT, Title TEXT, Realm TEXT, Authority TEXT, Description TEXT,
  Kind TEXT, Type TEXT, Source TEXT, Supplements TEXT, Content TEXT,
  Details TEXT
);
CREATE TABLE Dependencies (
  DependencyKey INTEGER PRIMARY KEY AUTOINCREMENT,
  SourceKey INTEGER, TargetKey INTEGER
);
CREATE TABLE Categories (ResourceKey INTEGER, Mode INTEGER, Code TEXT);
CREATE TABLE TxSources (Code TEXT PRIMARY KEY, Display TEXT);
CREATE VIRTUAL TABLE ResourceFTS USING fts5(Description, Narrative);
CREATE VIRTUAL TABLE CodeSystemFTS USING fts5(Display, Definition);
`

// Fixture is a writable dataset file under construction. Production
// code only ever sees the finished file read-only.
type Fixture struct {
	t    *testing.T
	Path string
	db   *sql.DB
}

// New creates an empty dataset file in a test temp directory.
func New(t *testing.T) *Fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "xig.db")
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("opening fixture db: %v", err)
	}
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating fixture schema: %v", err)
	}

	f := &Fixture{t: t, Path: path, db: db}
	t.Cleanup(f.Close)
	return f
}

// Close closes the write handle. Safe to call twice.
func (f *Fixture) Close() {
	if f.db != nil {
		f.db.Close()
		f.db = nil
	}
}

// SetMetadata writes one Metadata name/value row.
func (f *Fixture) SetMetadata(name, value string) {
	f.t.Helper()
	f.exec(`INSERT OR REPLACE INTO Metadata (Name, Value) VALUES (?, ?)`, name, value)
}

// AddPackage inserts a package row.
func (f *Fixture) AddPackage(p datatypes.Package) {
	f.t.Helper()
	f.exec(`INSERT INTO Packages (PackageKey, PID, Id, Web, Canonical) VALUES (?, ?, ?, ?, ?)`,
		p.Key, p.PID, p.ID, p.Web, p.Canonical)
}

// AddResource inserts a resource row and its full-text row. The
// narrative argument feeds the second FTS column.
func (f *Fixture) AddResource(r datatypes.Resource, narrative string) {
	f.t.Helper()
	f.exec(`INSERT INTO Resources (
	    ResourceKey, PackageKey, ResourceType, Id,
	    R2, R2B, R3, R4, R4B, R5, R6,
	    Web, Url, Version, Status, Date, Name, Title,
	    Realm, Authority, Description, Kind, Type, Source,
	    Supplements, Content, Details
	  ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Key, r.PackageKey, r.Type, r.ID,
		flag(r.Versions.R2), flag(r.Versions.R2B), flag(r.Versions.R3),
		flag(r.Versions.R4), flag(r.Versions.R4B), flag(r.Versions.R5),
		flag(r.Versions.R6),
		r.Web, r.URL, r.Version, r.Status, r.Date, r.Name, r.Title,
		r.Realm, r.Authority, r.Description, r.Kind, r.SubType, r.Source,
		r.Supplements, r.Content, r.Details)
	f.exec(`INSERT INTO ResourceFTS (rowid, Description, Narrative) VALUES (?, ?, ?)`,
		r.Key, r.Description, narrative)
}

// AddCodeSystemText indexes code-system display/definition text for a
// resource key.
func (f *Fixture) AddCodeSystemText(key int64, display, definition string) {
	f.t.Helper()
	f.exec(`INSERT INTO CodeSystemFTS (rowid, Display, Definition) VALUES (?, ?, ?)`,
		key, display, definition)
}

// AddDependency inserts a directed edge between two resource keys.
func (f *Fixture) AddDependency(source, target int64) {
	f.t.Helper()
	f.exec(`INSERT INTO Dependencies (SourceKey, TargetKey) VALUES (?, ?)`, source, target)
}

// AddCategory records category membership for a resource (e.g. an
// extension context).
func (f *Fixture) AddCategory(key int64, mode int, code string) {
	f.t.Helper()
	f.exec(`INSERT INTO Categories (ResourceKey, Mode, Code) VALUES (?, ?, ?)`, key, mode, code)
}

// AddTxSource records a terminology source code and its display text.
func (f *Fixture) AddTxSource(code, display string) {
	f.t.Helper()
	f.exec(`INSERT OR REPLACE INTO TxSources (Code, Display) VALUES (?, ?)`, code, display)
}

func (f *Fixture) exec(query string, args ...any) {
	f.t.Helper()
	if _, err := f.db.Exec(query, args...); err != nil {
		f.t.Fatalf("fixture exec failed: %v\nquery: %s", err, query)
	}
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
