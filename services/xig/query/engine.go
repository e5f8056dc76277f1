// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package query answers count, paginated listing and aggregate queries
// against the active dataset connection.
//
// Count and List against the same predicate and the same connection are
// mutually consistent. Across a dataset refresh they are not: a page
// offset computed against the old total may come back short or empty,
// and callers tolerate that.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/HealthIntersections/xig-server/services/xig/dataset"
	"github.com/HealthIntersections/xig-server/services/xig/datatypes"
	"github.com/HealthIntersections/xig-server/services/xig/facet"
)

// DefaultPageSize bounds the cost of a single listing query. Callers
// cannot raise it.
const DefaultPageSize = 200

// ErrNoDataset reports that no dataset connection is active yet.
var ErrNoDataset = errors.New("no active dataset")

// Dimension selects an aggregate breakdown.
type Dimension string

const (
	DimensionVersion   Dimension = "version"
	DimensionAuthority Dimension = "authority"
	DimensionRealm     Dimension = "realm"
)

// OtherRealm is the synthetic bucket that absorbs realm codes longer
// than three characters.
const OtherRealm = "other"

// Bucket is one entry of an aggregate breakdown.
type Bucket struct {
	Code  string `json:"code"`
	Count int64  `json:"count"`
}

// Engine executes queries. It holds no connection of its own; each call
// receives whatever dataset connection is current, so a refresh never
// affects a query already running.
type Engine struct {
	pageSize int
}

// NewEngine creates an Engine with the given fixed page size
// (DefaultPageSize when zero or negative).
func NewEngine(pageSize int) *Engine {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Engine{pageSize: pageSize}
}

// PageSize returns the fixed listing page size.
func (e *Engine) PageSize() int {
	return e.pageSize
}

// Count returns the number of resources matching the predicate.
func (e *Engine) Count(ctx context.Context, db *dataset.DB, p facet.Predicate) (int64, error) {
	if db == nil {
		return 0, ErrNoDataset
	}

	where, args := renderWhere(p)
	var n int64
	err := db.Handle().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM Resources`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting resources: %w", err)
	}
	return n, nil
}

const resourceColumns = `ResourceKey, PackageKey, ResourceType, Id,
	R2, R2B, R3, R4, R4B, R5, R6,
	Web, Url, Version, Status, Date, Name, Title,
	Realm, Authority, Description, Kind, Type, Source,
	Supplements, Content, Details`

// List returns one page of matching resources ordered by (type,
// sub-type, description), with the resource key as the final tiebreak
// so equal rows page deterministically. The page size is fixed.
func (e *Engine) List(ctx context.Context, db *dataset.DB, p facet.Predicate, offset int) ([]datatypes.Resource, error) {
	if db == nil {
		return nil, ErrNoDataset
	}
	if offset < 0 {
		offset = 0
	}

	where, args := renderWhere(p)
	args = append(args, e.pageSize, offset)

	rows, err := db.Handle().QueryContext(ctx,
		`SELECT `+resourceColumns+` FROM Resources`+where+
			` ORDER BY ResourceType, Type, Description, ResourceKey LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	defer rows.Close()

	resources := make([]datatypes.Resource, 0, e.pageSize)
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("listing resources: %w", err)
		}
		resources = append(resources, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	return resources, nil
}

// Aggregate returns grouped counts for one dimension. The dimension's
// own facet is excluded from the predicate - only its own, not the
// others - so the caller sees the full distribution before narrowing.
func (e *Engine) Aggregate(ctx context.Context, db *dataset.DB, p facet.Predicate, dim Dimension) ([]Bucket, error) {
	if db == nil {
		return nil, ErrNoDataset
	}

	switch dim {
	case DimensionVersion:
		return e.aggregateVersions(ctx, db, p.Without(facet.FacetVersion))
	case DimensionAuthority:
		return e.aggregateColumn(ctx, db, p.Without(facet.FacetAuthority), "Authority", false)
	case DimensionRealm:
		return e.aggregateColumn(ctx, db, p.Without(facet.FacetRealm), "Realm", true)
	default:
		return nil, fmt.Errorf("unknown aggregate dimension %q", dim)
	}
}

func (e *Engine) aggregateVersions(ctx context.Context, db *dataset.DB, p facet.Predicate) ([]Bucket, error) {
	where, args := renderWhere(p)

	row := db.Handle().QueryRowContext(ctx,
		`SELECT COALESCE(SUM(R2),0), COALESCE(SUM(R2B),0), COALESCE(SUM(R3),0),
		        COALESCE(SUM(R4),0), COALESCE(SUM(R4B),0), COALESCE(SUM(R5),0),
		        COALESCE(SUM(R6),0)
		 FROM Resources`+where, args...)

	counts := make([]int64, len(datatypes.VersionCodes))
	dests := make([]any, len(counts))
	for i := range counts {
		dests[i] = &counts[i]
	}
	if err := row.Scan(dests...); err != nil {
		return nil, fmt.Errorf("aggregating versions: %w", err)
	}

	buckets := make([]Bucket, 0, len(counts))
	for i, code := range datatypes.VersionCodes {
		buckets = append(buckets, Bucket{Code: code, Count: counts[i]})
	}
	return buckets, nil
}

// aggregateColumn groups by a single column. With foldLong set, codes
// longer than three characters collapse into the OtherRealm bucket and
// are never listed individually.
func (e *Engine) aggregateColumn(ctx context.Context, db *dataset.DB, p facet.Predicate, column string, foldLong bool) ([]Bucket, error) {
	where, args := renderWhere(p)

	rows, err := db.Handle().QueryContext(ctx,
		fmt.Sprintf(`SELECT COALESCE(%q,''), COUNT(*) FROM Resources%s GROUP BY 1`, column, where),
		args...)
	if err != nil {
		return nil, fmt.Errorf("aggregating %s: %w", column, err)
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var code string
		var n int64
		if err := rows.Scan(&code, &n); err != nil {
			return nil, fmt.Errorf("aggregating %s: %w", column, err)
		}
		if code == "" {
			continue
		}
		if foldLong && len(code) > 3 {
			code = OtherRealm
		}
		counts[code] += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregating %s: %w", column, err)
	}

	buckets := make([]Bucket, 0, len(counts))
	for code, n := range counts {
		buckets = append(buckets, Bucket{Code: code, Count: n})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Code < buckets[j].Code
	})
	return buckets, nil
}

func scanResource(rows *sql.Rows) (datatypes.Resource, error) {
	var r datatypes.Resource
	var (
		web, url, version, status, date, name, title         sql.NullString
		realm, authority, description, kind, subType, source sql.NullString
		supplements, content, details, resourceType, resID   sql.NullString
		r2, r2b, r3, r4, r4b, r5, r6                         int64
	)

	err := rows.Scan(&r.Key, &r.PackageKey, &resourceType, &resID,
		&r2, &r2b, &r3, &r4, &r4b, &r5, &r6,
		&web, &url, &version, &status, &date, &name, &title,
		&realm, &authority, &description, &kind, &subType, &source,
		&supplements, &content, &details)
	if err != nil {
		return r, err
	}

	r.Type = resourceType.String
	r.ID = resID.String
	r.Versions = datatypes.VersionFlags{
		R2: r2 != 0, R2B: r2b != 0, R3: r3 != 0,
		R4: r4 != 0, R4B: r4b != 0, R5: r5 != 0, R6: r6 != 0,
	}
	r.Web = web.String
	r.URL = url.String
	r.Version = version.String
	r.Status = status.String
	r.Date = date.String
	r.Name = name.String
	r.Title = title.String
	r.Realm = realm.String
	r.Authority = authority.String
	r.Description = description.String
	r.Kind = kind.String
	r.SubType = subType.String
	r.Source = source.String
	r.Supplements = supplements.String
	r.Content = content.String
	r.Details = details.String
	return r, nil
}
