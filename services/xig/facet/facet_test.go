// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package facet

import (
	"reflect"
	"testing"

	"github.com/HealthIntersections/xig-server/services/xig/cache"
)

func knownSnapshot() *cache.Snapshot {
	snap := cache.NewEmptySnapshot()
	snap.Loaded = true
	snap.Realms["us"] = true
	snap.Realms["uk"] = true
	snap.Authorities["hl7"] = true
	snap.ProfileResources["Patient"] = true
	snap.ProfileTypes["Quantity"] = true
	snap.ExtensionContexts["patient"] = true
	snap.TxSources["sct"] = "SNOMED CT"
	return snap
}

func TestCompile_NoFacetsIsAlwaysTrue(t *testing.T) {
	p := Compile(Criteria{}, knownSnapshot())

	if !p.AlwaysTrue() {
		t.Errorf("empty criteria compiled to %d clauses", len(p.Entries))
	}
	if p.Applied != (Applied{}) {
		t.Errorf("empty criteria marked facets applied: %+v", p.Applied)
	}
}

func TestCompile_ViewMandatoryClauses(t *testing.T) {
	tests := []struct {
		view string
		want []Clause
	}{
		{"codesystems", []Clause{Equals{Column: "ResourceType", Value: "CodeSystem"}}},
		{"resources", []Clause{
			Equals{Column: "ResourceType", Value: "StructureDefinition"},
			Equals{Column: "Kind", Value: "resource"},
		}},
		{"datatypes", []Clause{
			Equals{Column: "ResourceType", Value: "StructureDefinition"},
			In{Column: "Kind", Values: []string{"primitive-type", "complex-type"}},
		}},
		{"logicals", []Clause{
			Equals{Column: "ResourceType", Value: "StructureDefinition"},
			Equals{Column: "Kind", Value: "logical"},
		}},
		{"extensions", []Clause{
			Equals{Column: "ResourceType", Value: "StructureDefinition"},
			Equals{Column: "Type", Value: "Extension"},
		}},
		{"valuesets", []Clause{Equals{Column: "ResourceType", Value: "ValueSet"}}},
		{"conceptmaps", []Clause{Equals{Column: "ResourceType", Value: "ConceptMap"}}},
	}

	for _, tt := range tests {
		t.Run(tt.view, func(t *testing.T) {
			p := Compile(Criteria{View: tt.view}, knownSnapshot())
			if !p.Applied.View {
				t.Fatal("view not applied")
			}
			var got []Clause
			for _, e := range p.Entries {
				if e.Facet != FacetView {
					t.Errorf("unexpected facet %s", e.Facet)
				}
				got = append(got, e.Clause)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("clauses = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestCompile_UnknownViewDropped(t *testing.T) {
	p := Compile(Criteria{View: "everything"}, knownSnapshot())
	if p.Applied.View || !p.AlwaysTrue() {
		t.Errorf("unknown view leaked into predicate: %+v", p)
	}
}

func TestCompile_VersionEnum(t *testing.T) {
	snap := knownSnapshot()

	p := Compile(Criteria{Version: "r4"}, snap)
	if !p.Applied.Version {
		t.Fatal("version not applied")
	}
	if len(p.Entries) != 1 || p.Entries[0].Clause != (Flag{Column: "R4"}) {
		t.Errorf("clauses = %#v", p.Entries)
	}

	// Case-insensitive, closed enumeration.
	p = Compile(Criteria{Version: "R4B"}, snap)
	if len(p.Entries) != 1 || p.Entries[0].Clause != (Flag{Column: "R4B"}) {
		t.Errorf("clauses = %#v", p.Entries)
	}

	p = Compile(Criteria{Version: "r9"}, snap)
	if p.Applied.Version || !p.AlwaysTrue() {
		t.Errorf("unknown version leaked: %+v", p)
	}
}

func TestCompile_RealmAndAuthorityValidated(t *testing.T) {
	snap := knownSnapshot()

	p := Compile(Criteria{Realm: "US", Authority: "hl7"}, snap)
	if !p.Applied.Realm || !p.Applied.Authority {
		t.Fatalf("applied = %+v", p.Applied)
	}
	want := []Entry{
		{Facet: FacetRealm, Clause: Equals{Column: "Realm", Value: "us"}},
		{Facet: FacetAuthority, Clause: Equals{Column: "Authority", Value: "hl7"}},
	}
	if !reflect.DeepEqual(p.Entries, want) {
		t.Errorf("entries = %#v", p.Entries)
	}

	// Unknown values drop, same as the refinement discipline.
	p = Compile(Criteria{Realm: "zz", Authority: "nobody"}, snap)
	if !p.AlwaysTrue() {
		t.Errorf("unknown realm/authority leaked: %#v", p.Entries)
	}
}

func TestCompile_BogusRefinementSameAsOmitted(t *testing.T) {
	snap := knownSnapshot()

	withBogus := Compile(Criteria{View: "codesystems", Refinement: "bogus"}, snap)
	without := Compile(Criteria{View: "codesystems"}, snap)

	if !reflect.DeepEqual(withBogus, without) {
		t.Errorf("rt=bogus produced a different predicate:\n got %#v\nwant %#v", withBogus, without)
	}
}

func TestCompile_RefinementPerView(t *testing.T) {
	snap := knownSnapshot()

	p := Compile(Criteria{View: "resources", Refinement: "Patient"}, snap)
	if !p.Applied.Refinement {
		t.Fatal("refinement not applied")
	}
	last := p.Entries[len(p.Entries)-1]
	if last.Clause != (Equals{Column: "Type", Value: "Patient"}) {
		t.Errorf("refinement clause = %#v", last.Clause)
	}

	p = Compile(Criteria{View: "extensions", Refinement: "patient"}, snap)
	last = p.Entries[len(p.Entries)-1]
	if last.Clause != (MemberOf{Mode: 1, Code: "patient"}) {
		t.Errorf("extension refinement clause = %#v", last.Clause)
	}

	p = Compile(Criteria{View: "valuesets", Refinement: "sct"}, snap)
	last = p.Entries[len(p.Entries)-1]
	if last.Clause != (Equals{Column: "Source", Value: "sct"}) {
		t.Errorf("valueset refinement clause = %#v", last.Clause)
	}

	// Refinement without a view means nothing.
	p = Compile(Criteria{Refinement: "Patient"}, snap)
	if !p.AlwaysTrue() {
		t.Errorf("viewless refinement leaked: %#v", p.Entries)
	}
}

func TestCompile_TextSearch(t *testing.T) {
	snap := knownSnapshot()

	p := Compile(Criteria{Text: "blood pressure"}, snap)
	if !p.Applied.Text || len(p.Entries) != 1 {
		t.Fatalf("predicate = %+v", p)
	}
	if p.Entries[0].Clause != (Match{Index: IndexResource, Text: `"blood" "pressure"`}) {
		t.Errorf("clause = %#v", p.Entries[0].Clause)
	}

	// The code-system view searches both indexes, OR-combined.
	p = Compile(Criteria{View: "codesystems", Text: "glucose"}, snap)
	var found bool
	for _, e := range p.Entries {
		if any, ok := e.Clause.(AnyMatch); ok {
			found = true
			if len(any.Matches) != 2 ||
				any.Matches[0].Index != IndexResource ||
				any.Matches[1].Index != IndexCodeSystem {
				t.Errorf("AnyMatch = %#v", any)
			}
		}
	}
	if !found {
		t.Error("codesystems text search did not produce AnyMatch")
	}

	// Text that sanitizes to nothing is an absent facet.
	p = Compile(Criteria{Text: `"*()`}, snap)
	if p.Applied.Text || !p.AlwaysTrue() {
		t.Errorf("empty sanitized text applied: %+v", p)
	}
}

func TestCompile_UnloadedSnapshotDropsSetValidatedFacets(t *testing.T) {
	empty := cache.NewEmptySnapshot()

	p := Compile(Criteria{
		Version:    "r4",
		Realm:      "us",
		Authority:  "hl7",
		View:       "codesystems",
		Refinement: "sct",
	}, empty)

	if p.Applied.Realm || p.Applied.Authority || p.Applied.Refinement {
		t.Errorf("set-validated facets applied on unloaded snapshot: %+v", p.Applied)
	}
	// Closed-enum and rule-table facets still work.
	if !p.Applied.Version || !p.Applied.View {
		t.Errorf("version/view should not need the snapshot: %+v", p.Applied)
	}
}

func TestPredicate_Without(t *testing.T) {
	snap := knownSnapshot()
	p := Compile(Criteria{Version: "r4", Realm: "us", Authority: "hl7"}, snap)

	stripped := p.Without(FacetAuthority)
	if stripped.Applied.Authority {
		t.Error("authority still applied after Without")
	}
	for _, e := range stripped.Entries {
		if e.Facet == FacetAuthority {
			t.Error("authority clause survived Without")
		}
	}
	// Other facets untouched.
	if len(stripped.Entries) != len(p.Entries)-1 {
		t.Errorf("entries = %d, want %d", len(stripped.Entries), len(p.Entries)-1)
	}
	if !stripped.Applied.Version || !stripped.Applied.Realm {
		t.Errorf("unrelated facets dropped: %+v", stripped.Applied)
	}
}
