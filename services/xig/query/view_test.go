// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package query_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HealthIntersections/xig-server/services/xig/cache"
	"github.com/HealthIntersections/xig-server/services/xig/dataset"
	"github.com/HealthIntersections/xig-server/services/xig/dataset/datasettest"
	"github.com/HealthIntersections/xig-server/services/xig/datatypes"
	"github.com/HealthIntersections/xig-server/services/xig/facet"
	"github.com/HealthIntersections/xig-server/services/xig/query"
)

// viewFixture builds a small dataset exercising view types, extension
// contexts and both full-text indexes.
func viewFixture(t *testing.T) (*dataset.DB, *cache.Snapshot) {
	t.Helper()

	f := datasettest.New(t)
	f.AddPackage(datatypes.Package{Key: 1, PID: "example.pkg#1.0.0", ID: "example.pkg"})

	// Two extensions: one usable on Patient, one on Observation.
	f.AddResource(datatypes.Resource{Key: 1, PackageKey: 1, Type: "StructureDefinition",
		ID: "ext-birth-place", Kind: "complex-type", SubType: "Extension",
		Description: "birth place extension"}, "")
	f.AddCategory(1, 1, "patient")

	f.AddResource(datatypes.Resource{Key: 2, PackageKey: 1, Type: "StructureDefinition",
		ID: "ext-device-code", Kind: "complex-type", SubType: "Extension",
		Description: "device code extension"}, "")
	f.AddCategory(2, 1, "observation")

	// A resource profile, to prove view clauses exclude it.
	f.AddResource(datatypes.Resource{Key: 3, PackageKey: 1, Type: "StructureDefinition",
		ID: "profile-patient", Kind: "resource", SubType: "Patient",
		Description: "patient profile with narrative"}, "the patient narrative mentions glucose")

	// A code system whose display text is only in the code-system index.
	f.AddResource(datatypes.Resource{Key: 4, PackageKey: 1, Type: "CodeSystem",
		ID: "lab-codes", Source: "sct",
		Description: "laboratory code system"}, "")
	f.AddCodeSystemText(4, "Glucose [Mass/volume] in Blood", "glucose measurement")

	f.AddTxSource("sct", "SNOMED CT")
	f.Close()

	db, err := dataset.Open(context.Background(), f.Path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	snap, err := cache.Build(context.Background(), db)
	require.NoError(t, err)
	return db, snap
}

func keys(resources []datatypes.Resource) []int64 {
	out := make([]int64, len(resources))
	for i, r := range resources {
		out[i] = r.Key
	}
	return out
}

func TestView_ExtensionsWithContext(t *testing.T) {
	db, snap := viewFixture(t)
	engine := query.NewEngine(0)

	p := facet.Compile(facet.Criteria{View: "extensions", Refinement: "patient"}, snap)
	require.True(t, p.Applied.Refinement, "known context should apply")

	page, err := engine.List(context.Background(), db, p, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, keys(page), "only the patient-context extension matches")
}

func TestView_ExtensionsUnknownContext(t *testing.T) {
	db, snap := viewFixture(t)
	engine := query.NewEngine(0)
	ctx := context.Background()

	withBogus := facet.Compile(facet.Criteria{View: "extensions", Refinement: "bogus"}, snap)
	without := facet.Compile(facet.Criteria{View: "extensions"}, snap)

	a, err := engine.List(ctx, db, withBogus, 0)
	require.NoError(t, err)
	b, err := engine.List(ctx, db, without, 0)
	require.NoError(t, err)
	assert.Equal(t, keys(b), keys(a), "rt=bogus must behave exactly like omitting rt")
	assert.ElementsMatch(t, []int64{1, 2}, keys(a))
}

func TestView_ResourceProfiles(t *testing.T) {
	db, snap := viewFixture(t)
	engine := query.NewEngine(0)

	p := facet.Compile(facet.Criteria{View: "resources"}, snap)
	page, err := engine.List(context.Background(), db, p, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, keys(page))
}

func TestTextSearch_ResourceIndex(t *testing.T) {
	db, snap := viewFixture(t)
	engine := query.NewEngine(0)

	p := facet.Compile(facet.Criteria{Text: "narrative"}, snap)
	page, err := engine.List(context.Background(), db, p, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, keys(page), "narrative text is indexed for search")
}

// The code-system view additionally searches display/definition text;
// other views do not.
func TestTextSearch_CodeSystemIndexOnlyForCodeSystems(t *testing.T) {
	db, snap := viewFixture(t)
	engine := query.NewEngine(0)
	ctx := context.Background()

	p := facet.Compile(facet.Criteria{View: "codesystems", Text: "Glucose"}, snap)
	page, err := engine.List(ctx, db, p, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, keys(page))

	// Without the code-system view, display text is not searched, and
	// the view clause is absent, so only the narrative hit remains.
	p = facet.Compile(facet.Criteria{Text: "Glucose"}, snap)
	page, err = engine.List(ctx, db, p, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, keys(page))
}

func TestTextSearch_InjectionAttemptMatchesNothing(t *testing.T) {
	db, snap := viewFixture(t)
	engine := query.NewEngine(0)

	p := facet.Compile(facet.Criteria{Text: `x" OR 1=1 --`}, snap)
	n, err := engine.Count(context.Background(), db, p)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestView_TerminologySourceRefinement(t *testing.T) {
	db, snap := viewFixture(t)
	engine := query.NewEngine(0)

	p := facet.Compile(facet.Criteria{View: "codesystems", Refinement: "sct"}, snap)
	page, err := engine.List(context.Background(), db, p, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, keys(page))
}
