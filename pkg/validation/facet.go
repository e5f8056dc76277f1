// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for values that end up in
// database queries or URLs. Facet values arrive from untrusted query
// strings; using these validators keeps malformed input out of generated
// SQL and FTS expressions even though every value is also bound as a
// parameter.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// codePattern matches realm, authority and refinement codes: letters,
// digits, dots and hyphens, up to 64 characters.
var codePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.\-]{0,63}$`)

// pidPattern matches a package identity string in its URL-safe form,
// e.g. "hl7.fhir.us.core|6.1.0".
var pidPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.\-]*\|[A-Za-z0-9.\-]+$`)

// ValidateCode validates a facet code value (realm, authority, refinement).
//
// Valid codes are 1-64 characters of letters, digits, dots and hyphens,
// starting with a letter or digit. Returns an error otherwise.
func ValidateCode(code string) error {
	if code == "" {
		return fmt.Errorf("code cannot be empty")
	}
	if !codePattern.MatchString(code) {
		return fmt.Errorf("invalid code format: %q", code)
	}
	return nil
}

// SanitizeCode trims and lower-cases a facet code, then validates it.
// Facet codes in the dataset are stored lower case.
func SanitizeCode(code string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(code))
	if err := ValidateCode(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidatePackageID validates a package identity string in its URL-safe
// form ("id|version").
func ValidatePackageID(pid string) error {
	if pid == "" {
		return fmt.Errorf("package id cannot be empty")
	}
	if !pidPattern.MatchString(pid) {
		return fmt.Errorf("invalid package id format: %q", pid)
	}
	return nil
}

// SanitizeSearchText prepares free text for an FTS5 MATCH expression.
//
// FTS5 treats quotes, asterisks, carets, parentheses and boolean keywords
// as query syntax; a stray double quote makes the whole query a syntax
// error. Rather than rejecting input we reduce it to a conjunction of
// quoted bare terms, which cannot alter query structure. The result is
// still always bound as a parameter, never spliced into SQL text.
//
// Returns "" when no searchable term survives, which callers treat the
// same as an absent search facet.
func SanitizeSearchText(text string) string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', '"', '\'', '*', '^', '(', ')', ':', ',', ';':
			return true
		}
		return false
	})

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " ")
}
