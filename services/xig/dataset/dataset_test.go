// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dataset_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HealthIntersections/xig-server/services/xig/dataset"
	"github.com/HealthIntersections/xig-server/services/xig/dataset/datasettest"
)

func TestOpen_ValidDataset(t *testing.T) {
	f := datasettest.New(t)
	f.SetMetadata("title", "Test Dataset")
	f.Close()

	ctx := context.Background()
	db, err := dataset.Open(ctx, f.Path)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, f.Path, db.Path())
	assert.Greater(t, db.TableCount(), 0)

	meta, err := db.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Test Dataset", meta["title"])
}

func TestValidate_AcceptsFixture(t *testing.T) {
	f := datasettest.New(t)
	f.Close()

	assert.NoError(t, dataset.Validate(context.Background(), f.Path))
}

func TestValidate_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not sqlite at all, not even close"), 0644))

	err := dataset.Validate(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dataset.ErrNotADataset))
}

func TestValidate_RejectsMissingResources(t *testing.T) {
	// A real sqlite file whose tables are all unknown to us.
	path := filepath.Join(t.TempDir(), "other.db")
	writeOtherStore(t, path)

	err := dataset.Validate(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dataset.ErrNotADataset))
}

func TestHasTable(t *testing.T) {
	f := datasettest.New(t)
	f.Close()

	ctx := context.Background()
	db, err := dataset.Open(ctx, f.Path)
	require.NoError(t, err)
	defer db.Close()

	ok, err := db.HasTable(ctx, "Resources")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.HasTable(ctx, "NoSuchTable")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMetadata_AbsentTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bare.db")
	writeOtherStore(t, path)

	ctx := context.Background()
	db, err := dataset.Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	meta, err := db.Metadata(ctx)
	require.NoError(t, err)
	assert.Empty(t, meta)
}

// writeOtherStore creates a valid sqlite file with none of the dataset's
// tables.
func writeOtherStore(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE Unrelated (Id INTEGER PRIMARY KEY, Note TEXT)`)
	require.NoError(t, err)
}
