// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "testing"

func TestPackageWebID_RoundTrip(t *testing.T) {
	tests := []struct {
		pid   string
		webID string
	}{
		{"hl7.fhir.us.core#6.1.0", "hl7.fhir.us.core|6.1.0"},
		{"hl7.terminology.r4#5.5.0", "hl7.terminology.r4|5.5.0"},
		{"noversion", "noversion"},
	}

	for _, tt := range tests {
		p := Package{PID: tt.pid}
		if got := p.WebID(); got != tt.webID {
			t.Errorf("WebID(%q) = %q, want %q", tt.pid, got, tt.webID)
		}
		if got := PIDFromWebID(tt.webID); got != tt.pid {
			t.Errorf("PIDFromWebID(%q) = %q, want %q", tt.webID, got, tt.pid)
		}
	}
}

func TestVersionCodes_Closed(t *testing.T) {
	if len(VersionCodes) != 7 {
		t.Fatalf("VersionCodes has %d entries, want 7", len(VersionCodes))
	}
	seen := map[string]bool{}
	for _, code := range VersionCodes {
		if seen[code] {
			t.Errorf("duplicate version code %q", code)
		}
		seen[code] = true
	}
}
