// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the entities served by the xig query API:
// resources, their owning packages, and dependency neighbors. All of
// them are read-only projections of the current dataset; they are never
// written back.
package datatypes

import "strings"

// VersionFlags records which FHIR publication versions a resource
// participates in. The set is closed; one column per version in the
// dataset.
type VersionFlags struct {
	R2  bool `json:"r2"`
	R2B bool `json:"r2b"`
	R3  bool `json:"r3"`
	R4  bool `json:"r4"`
	R4B bool `json:"r4b"`
	R5  bool `json:"r5"`
	R6  bool `json:"r6"`
}

// VersionCodes lists the valid values of the version facet, in
// publication order.
var VersionCodes = []string{"r2", "r2b", "r3", "r4", "r4b", "r5", "r6"}

// Resource is one row of the Resources table. Immutable once the
// snapshot it came from is published.
type Resource struct {
	Key        int64        `json:"key"`
	PackageKey int64        `json:"-"`
	PackageID  string       `json:"package,omitempty"`
	Type       string       `json:"type"`
	ID         string       `json:"id"`
	Versions   VersionFlags `json:"versions"`

	Web     string `json:"web,omitempty"`
	URL     string `json:"url,omitempty"`
	Version string `json:"version,omitempty"`
	Status  string `json:"status,omitempty"`
	Date    string `json:"date,omitempty"`
	Name    string `json:"name,omitempty"`
	Title   string `json:"title,omitempty"`

	Realm     string `json:"realm,omitempty"`
	Authority string `json:"authority,omitempty"`

	Description string `json:"description,omitempty"`

	// Type-specific auxiliary fields.
	Kind        string `json:"kind,omitempty"`        // StructureDefinition kind
	SubType     string `json:"subType,omitempty"`     // constrained type / datatype
	Source      string `json:"source,omitempty"`      // terminology source code
	Supplements string `json:"supplements,omitempty"` // CodeSystem supplement target
	Content     string `json:"content,omitempty"`     // CodeSystem content mode
	Details     string `json:"details,omitempty"`     // structured detail blob
}

// Package is one row of the Packages table; it owns zero or more
// resources.
type Package struct {
	Key       int64  `json:"-"`
	PID       string `json:"pid"`
	ID        string `json:"id"`
	Web       string `json:"web,omitempty"`
	Canonical string `json:"canonical,omitempty"`
}

// WebID returns the package identity in its URL-safe form. Package
// identities are "id#version"; '#' is a fragment delimiter in URLs, so
// the external form substitutes '|'. The substitution is reversible via
// PIDFromWebID.
func (p Package) WebID() string {
	return strings.ReplaceAll(p.PID, "#", "|")
}

// PIDFromWebID reverses WebID.
func PIDFromWebID(webID string) string {
	return strings.ReplaceAll(webID, "|", "#")
}

// Neighbor is one entry in a dependency list: the related resource plus
// its owning package's identity, display name and URL.
type Neighbor struct {
	Key        int64  `json:"key"`
	Type       string `json:"type"`
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
	Web        string `json:"web,omitempty"`
	PackageID  string `json:"package,omitempty"`
	PackageWeb string `json:"packageWeb,omitempty"`
}

// Neighbors bundles both traversal directions for one resource. Either
// list may be empty; that is a normal outcome, not an error.
type Neighbors struct {
	DependsOn []Neighbor `json:"dependsOn"`
	UsedBy    []Neighbor `json:"usedBy"`
}
