// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HealthIntersections/xig-server/services/xig/cache"
	"github.com/HealthIntersections/xig-server/services/xig/dataset"
	"github.com/HealthIntersections/xig-server/services/xig/dataset/datasettest"
	"github.com/HealthIntersections/xig-server/services/xig/datatypes"
)

func buildFixture(t *testing.T) *dataset.DB {
	t.Helper()

	f := datasettest.New(t)
	f.SetMetadata("title", "Test IG Statistics")
	f.SetMetadata("version", "3")

	f.AddPackage(datatypes.Package{Key: 1, PID: "hl7.fhir.us.core#6.1.0", ID: "hl7.fhir.us.core",
		Web: "https://hl7.org/fhir/us/core", Canonical: "http://hl7.org/fhir/us/core"})
	f.AddPackage(datatypes.Package{Key: 2, PID: "hl7.terminology.r4#5.5.0", ID: "hl7.terminology.r4"})

	f.AddResource(datatypes.Resource{Key: 10, PackageKey: 1, Type: "StructureDefinition",
		ID: "us-core-patient", Kind: "resource", SubType: "Patient",
		Realm: "us", Authority: "hl7",
		Versions: datatypes.VersionFlags{R4: true}}, "")
	f.AddResource(datatypes.Resource{Key: 11, PackageKey: 1, Type: "StructureDefinition",
		ID: "some-datatype", Kind: "complex-type", SubType: "Quantity",
		Realm: "uv", Authority: "hl7",
		Versions: datatypes.VersionFlags{R4: true, R5: true}}, "")
	f.AddResource(datatypes.Resource{Key: 12, PackageKey: 2, Type: "CodeSystem",
		ID: "some-codes", Realm: "longcustomrealm", Authority: "who",
		Source: "sct", Versions: datatypes.VersionFlags{R5: true}}, "")

	f.AddCategory(10, 1, "patient")
	f.AddCategory(11, 2, "ignored-mode")
	f.AddTxSource("sct", "SNOMED CT")
	f.Close()

	db, err := dataset.Open(context.Background(), f.Path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBuild_Lookups(t *testing.T) {
	db := buildFixture(t)

	snap, err := cache.Build(context.Background(), db)
	require.NoError(t, err)

	assert.True(t, snap.Loaded)
	assert.False(t, snap.BuiltAt.IsZero())
	assert.Equal(t, "Test IG Statistics", snap.Metadata["title"])

	// Package lookups, both directions of the identity substitution.
	p, ok := snap.Package(1)
	require.True(t, ok)
	assert.Equal(t, "hl7.fhir.us.core", p.ID)

	p, ok = snap.PackageByWebID("hl7.fhir.us.core|6.1.0")
	require.True(t, ok)
	assert.Equal(t, int64(1), p.Key)

	// Realm codes longer than three characters stay out of the known set.
	assert.True(t, snap.Realms["us"])
	assert.True(t, snap.Realms["uv"])
	assert.False(t, snap.Realms["longcustomrealm"])

	assert.True(t, snap.Authorities["hl7"])
	assert.True(t, snap.Authorities["who"])

	assert.True(t, snap.ResourceTypes["StructureDefinition"])
	assert.True(t, snap.ResourceTypes["CodeSystem"])

	assert.True(t, snap.ProfileResources["Patient"])
	assert.False(t, snap.ProfileResources["Quantity"])
	assert.True(t, snap.ProfileTypes["Quantity"])

	// Only Mode=1 categories count as extension contexts.
	assert.True(t, snap.ExtensionContexts["patient"])
	assert.False(t, snap.ExtensionContexts["ignored-mode"])

	assert.Equal(t, "SNOMED CT", snap.TxSourceDisplay("sct"))
	assert.Equal(t, "unknown", snap.TxSourceDisplay("unknown"))

	assert.Equal(t, int64(3), snap.TableRows["Resources"])
	assert.Equal(t, int64(2), snap.TableRows["Packages"])
}

func TestBuild_FailureLeavesNoSnapshot(t *testing.T) {
	db := buildFixture(t)
	require.NoError(t, db.Close())

	_, err := cache.Build(context.Background(), db)
	assert.Error(t, err)
}

func TestNewEmptySnapshot_Unloaded(t *testing.T) {
	snap := cache.NewEmptySnapshot()
	assert.False(t, snap.Loaded)
	assert.Empty(t, snap.Realms)

	_, ok := snap.Package(1)
	assert.False(t, ok)
}
