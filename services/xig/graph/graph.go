// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graph resolves the dependency neighborhood of a resource:
// everything it depends on and everything that uses it, one hop in each
// direction over the Dependencies edge table.
package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/HealthIntersections/xig-server/services/xig/cache"
	"github.com/HealthIntersections/xig-server/services/xig/dataset"
	"github.com/HealthIntersections/xig-server/services/xig/datatypes"
)

var (
	// ErrNotFound reports that the requested resource key does not exist
	// in the dataset.
	ErrNotFound = errors.New("resource not found")

	// ErrNoDataset reports that no dataset is loaded yet.
	ErrNoDataset = errors.New("no dataset loaded")
)

// dependsOnQuery lists the resources the given key points at;
// usedByQuery lists the resources pointing at it. Both join through the
// edge table so dangling edges (targets outside the dataset) drop out.
const (
	dependsOnQuery = `
		SELECT r.ResourceKey, r.PackageKey, r.ResourceType, r.Id, r.Name, r.Title, r.Url, r.Web
		FROM Dependencies d JOIN Resources r ON r.ResourceKey = d.TargetKey
		WHERE d.SourceKey = ?
		ORDER BY r.ResourceType, r.ResourceKey`

	usedByQuery = `
		SELECT r.ResourceKey, r.PackageKey, r.ResourceType, r.Id, r.Name, r.Title, r.Url, r.Web
		FROM Dependencies d JOIN Resources r ON r.ResourceKey = d.SourceKey
		WHERE d.TargetKey = ?
		ORDER BY r.ResourceType, r.ResourceKey`

	existsQuery = `SELECT 1 FROM Resources WHERE ResourceKey = ?`
)

// Resolver answers one-hop dependency queries. It is stateless; package
// identity is resolved through whatever snapshot the caller passes in,
// so a resolver never outlives a dataset swap.
type Resolver struct{}

// NewResolver returns a dependency resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the one-hop dependency neighborhood of the resource
// with the given key. A resource with no edges gets two empty lists,
// not an error; an unknown key gets ErrNotFound.
func (g *Resolver) Resolve(ctx context.Context, db *dataset.DB, snap *cache.Snapshot, key int64) (datatypes.Neighbors, error) {
	if db == nil {
		return datatypes.Neighbors{}, ErrNoDataset
	}

	var one int
	err := db.Handle().QueryRowContext(ctx, existsQuery, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return datatypes.Neighbors{}, fmt.Errorf("%w: key %d", ErrNotFound, key)
	}
	if err != nil {
		return datatypes.Neighbors{}, fmt.Errorf("checking resource %d: %w", key, err)
	}

	dependsOn, err := g.neighbors(ctx, db, snap, dependsOnQuery, key)
	if err != nil {
		return datatypes.Neighbors{}, fmt.Errorf("resolving dependencies of %d: %w", key, err)
	}
	usedBy, err := g.neighbors(ctx, db, snap, usedByQuery, key)
	if err != nil {
		return datatypes.Neighbors{}, fmt.Errorf("resolving users of %d: %w", key, err)
	}

	return datatypes.Neighbors{DependsOn: dependsOn, UsedBy: usedBy}, nil
}

func (g *Resolver) neighbors(ctx context.Context, db *dataset.DB, snap *cache.Snapshot, query string, key int64) ([]datatypes.Neighbor, error) {
	rows, err := db.Handle().QueryContext(ctx, query, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []datatypes.Neighbor{}
	for rows.Next() {
		var (
			n                     datatypes.Neighbor
			packageKey            int64
			name, title, url, web sql.NullString
		)
		if err := rows.Scan(&n.Key, &packageKey, &n.Type, &n.ID, &name, &title, &url, &web); err != nil {
			return nil, err
		}
		n.Name = name.String
		n.Title = title.String
		n.URL = url.String
		n.Web = web.String
		if pkg, ok := snapPackage(snap, packageKey); ok {
			n.PackageID = pkg.PID
			n.PackageWeb = pkg.Web
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// snapPackage looks the package up in the snapshot index. A key missing
// from the snapshot (dataset newer than the last rebuild) just leaves
// the package fields blank.
func snapPackage(snap *cache.Snapshot, key int64) (datatypes.Package, bool) {
	if snap == nil {
		return datatypes.Package{}, false
	}
	pkg, ok := snap.PackagesByKey[key]
	return pkg, ok
}
