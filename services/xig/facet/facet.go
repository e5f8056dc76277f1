// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package facet compiles query facets into a structured predicate.
//
// The facet set is fixed and small: version, authority, realm, view
// type, a view-dependent refinement ("rt"), and free text. Compilation
// is pure and total - malformed combinations never raise errors, they
// degrade to the most permissive predicate consistent with whatever
// subset was well formed. Every facet follows the same discipline:
// validate against a known-value set (or closed enumeration) and drop
// silently when the value is not known, so unknown values never reach
// generated queries.
//
// The output is a list of typed clauses, not SQL. The query engine
// renders clauses into parameterized query text; column names only ever
// come from the literal rule tables in this file.
package facet

import (
	"github.com/HealthIntersections/xig-server/pkg/validation"
	"github.com/HealthIntersections/xig-server/services/xig/cache"
)

// Name identifies one facet dimension.
type Name string

const (
	FacetVersion    Name = "version"
	FacetAuthority  Name = "authority"
	FacetRealm      Name = "realm"
	FacetView       Name = "view"
	FacetRefinement Name = "refinement"
	FacetText       Name = "text"
)

// Criteria carries the raw facet values as supplied by the caller.
// Zero values mean "facet absent".
type Criteria struct {
	Version    string
	Authority  string
	Realm      string
	View       string
	Refinement string
	Text       string
}

// Applied reports which facets survived validation and contribute
// clauses. The rendering layer uses this to decide which summary
// sections to show.
type Applied struct {
	Version    bool `json:"version"`
	Authority  bool `json:"authority"`
	Realm      bool `json:"realm"`
	View       bool `json:"view"`
	Refinement bool `json:"refinement"`
	Text       bool `json:"text"`
}

// FTSIndex names one of the dataset's full-text indexes.
type FTSIndex string

const (
	IndexResource   FTSIndex = "ResourceFTS"
	IndexCodeSystem FTSIndex = "CodeSystemFTS"
)

// Clause is one typed predicate clause. The concrete types below are
// the closed set the query engine knows how to render.
type Clause interface {
	clause()
}

// Equals matches a column against a single value.
type Equals struct {
	Column string
	Value  string
}

// In matches a column against a fixed value set.
type In struct {
	Column string
	Values []string
}

// Flag requires a 0/1 version-flag column to be set.
type Flag struct {
	Column string
}

// Match is a full-text match against one FTS index.
type Match struct {
	Index FTSIndex
	Text  string
}

// AnyMatch is the OR of several full-text matches; used for the
// code-system view where two indexes are searched.
type AnyMatch struct {
	Matches []Match
}

// MemberOf requires category membership (e.g. an extension context).
type MemberOf struct {
	Mode int
	Code string
}

func (Equals) clause()   {}
func (In) clause()       {}
func (Flag) clause()     {}
func (Match) clause()    {}
func (AnyMatch) clause() {}
func (MemberOf) clause() {}

// Entry ties a clause to the facet that produced it so the aggregation
// engine can exclude a single dimension from its own breakdown.
type Entry struct {
	Facet  Name
	Clause Clause
}

// Predicate is a conjunction of clauses plus applied-facet metadata.
// An empty predicate is always true.
type Predicate struct {
	Entries []Entry
	Applied Applied
}

// AlwaysTrue reports whether the predicate has no clauses.
func (p Predicate) AlwaysTrue() bool {
	return len(p.Entries) == 0
}

// Without returns a copy of the predicate with every clause of the
// given facet removed, and that facet marked unapplied. Used by
// aggregation so each breakdown shows the full distribution of its own
// dimension.
func (p Predicate) Without(facet Name) Predicate {
	out := Predicate{Applied: p.Applied}
	for _, e := range p.Entries {
		if e.Facet != facet {
			out.Entries = append(out.Entries, e)
		}
	}
	switch facet {
	case FacetVersion:
		out.Applied.Version = false
	case FacetAuthority:
		out.Applied.Authority = false
	case FacetRealm:
		out.Applied.Realm = false
	case FacetView:
		out.Applied.View = false
	case FacetRefinement:
		out.Applied.Refinement = false
	case FacetText:
		out.Applied.Text = false
	}
	return out
}

// versionColumns maps version facet codes to their flag columns. The
// enumeration is closed; anything else is dropped.
var versionColumns = map[string]string{
	"r2":  "R2",
	"r2b": "R2B",
	"r3":  "R3",
	"r4":  "R4",
	"r4b": "R4B",
	"r5":  "R5",
	"r6":  "R6",
}

// viewRule describes the mandatory clauses and refinement handling for
// one view type.
type viewRule struct {
	clauses []Clause

	// refValid reports whether a refinement value is in the view's
	// known-value set on the given snapshot. Nil means the view takes
	// no refinement.
	refValid func(snap *cache.Snapshot, value string) bool

	// refClause builds the clause for a validated refinement value.
	refClause func(value string) Clause

	// codeSystemText widens free-text search to the code-system index.
	codeSystemText bool
}

var viewRules = map[string]viewRule{
	"codesystems": {
		clauses:        []Clause{Equals{Column: "ResourceType", Value: "CodeSystem"}},
		refValid:       txSourceKnown,
		refClause:      func(v string) Clause { return Equals{Column: "Source", Value: v} },
		codeSystemText: true,
	},
	"valuesets": {
		clauses:   []Clause{Equals{Column: "ResourceType", Value: "ValueSet"}},
		refValid:  txSourceKnown,
		refClause: func(v string) Clause { return Equals{Column: "Source", Value: v} },
	},
	"conceptmaps": {
		clauses:   []Clause{Equals{Column: "ResourceType", Value: "ConceptMap"}},
		refValid:  txSourceKnown,
		refClause: func(v string) Clause { return Equals{Column: "Source", Value: v} },
	},
	"resources": {
		clauses: []Clause{
			Equals{Column: "ResourceType", Value: "StructureDefinition"},
			Equals{Column: "Kind", Value: "resource"},
		},
		refValid:  func(s *cache.Snapshot, v string) bool { return s.ProfileResources[v] },
		refClause: func(v string) Clause { return Equals{Column: "Type", Value: v} },
	},
	"datatypes": {
		clauses: []Clause{
			Equals{Column: "ResourceType", Value: "StructureDefinition"},
			In{Column: "Kind", Values: []string{"primitive-type", "complex-type"}},
		},
		refValid:  func(s *cache.Snapshot, v string) bool { return s.ProfileTypes[v] },
		refClause: func(v string) Clause { return Equals{Column: "Type", Value: v} },
	},
	"logicals": {
		clauses: []Clause{
			Equals{Column: "ResourceType", Value: "StructureDefinition"},
			Equals{Column: "Kind", Value: "logical"},
		},
	},
	"extensions": {
		clauses: []Clause{
			Equals{Column: "ResourceType", Value: "StructureDefinition"},
			Equals{Column: "Type", Value: "Extension"},
		},
		refValid:  func(s *cache.Snapshot, v string) bool { return s.ExtensionContexts[v] },
		refClause: func(v string) Clause { return MemberOf{Mode: 1, Code: v} },
	},
}

func txSourceKnown(snap *cache.Snapshot, value string) bool {
	_, ok := snap.TxSources[value]
	return ok
}

// Views lists the valid view-type facet values.
func Views() []string {
	return []string{
		"codesystems", "resources", "datatypes", "logicals",
		"extensions", "valuesets", "conceptmaps",
	}
}

// Compile turns raw criteria into a predicate against the given
// snapshot's known-value sets.
//
// An unloaded snapshot makes every set-validated facet (realm,
// authority, refinement) drop, because nothing is "known" yet; the
// version facet still applies since its enumeration is closed, and the
// view facet still applies since its rule table is static.
func Compile(c Criteria, snap *cache.Snapshot) Predicate {
	if snap == nil {
		snap = cache.NewEmptySnapshot()
	}

	p := Predicate{}

	rule, haveView := viewRules[c.View]
	if haveView {
		p.Applied.View = true
		for _, clause := range rule.clauses {
			p.Entries = append(p.Entries, Entry{Facet: FacetView, Clause: clause})
		}
	}

	if c.Version != "" {
		if code, err := validation.SanitizeCode(c.Version); err == nil {
			if column, ok := versionColumns[code]; ok {
				p.Applied.Version = true
				p.Entries = append(p.Entries, Entry{Facet: FacetVersion, Clause: Flag{Column: column}})
			}
		}
	}

	if c.Realm != "" {
		if code, err := validation.SanitizeCode(c.Realm); err == nil && snap.Realms[code] {
			p.Applied.Realm = true
			p.Entries = append(p.Entries, Entry{Facet: FacetRealm, Clause: Equals{Column: "Realm", Value: code}})
		}
	}

	if c.Authority != "" {
		if code, err := validation.SanitizeCode(c.Authority); err == nil && snap.Authorities[code] {
			p.Applied.Authority = true
			p.Entries = append(p.Entries, Entry{Facet: FacetAuthority, Clause: Equals{Column: "Authority", Value: code}})
		}
	}

	// Refinement only means something inside a view that defines one.
	if c.Refinement != "" && haveView && rule.refValid != nil {
		if rule.refValid(snap, c.Refinement) {
			p.Applied.Refinement = true
			p.Entries = append(p.Entries, Entry{Facet: FacetRefinement, Clause: rule.refClause(c.Refinement)})
		}
	}

	if c.Text != "" {
		if text := validation.SanitizeSearchText(c.Text); text != "" {
			p.Applied.Text = true
			matches := []Match{{Index: IndexResource, Text: text}}
			if haveView && rule.codeSystemText {
				matches = append(matches, Match{Index: IndexCodeSystem, Text: text})
			}
			var clause Clause
			if len(matches) == 1 {
				clause = matches[0]
			} else {
				clause = AnyMatch{Matches: matches}
			}
			p.Entries = append(p.Entries, Entry{Facet: FacetText, Clause: clause})
		}
	}

	return p
}
