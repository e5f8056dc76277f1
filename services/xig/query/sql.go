// Copyright (C) 2026 Health Intersections Pty Ltd
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package query

import (
	"fmt"
	"strings"

	"github.com/HealthIntersections/xig-server/services/xig/facet"
)

// renderWhere turns a predicate into a WHERE fragment (including the
// leading " WHERE ", or "" for an always-true predicate) plus bind
// arguments. Every user-supplied value is a parameter; column and index
// names only come from the compiler's literal rule tables.
func renderWhere(p facet.Predicate) (string, []any) {
	if p.AlwaysTrue() {
		return "", nil
	}

	conds := make([]string, 0, len(p.Entries))
	var args []any
	for _, e := range p.Entries {
		cond, condArgs := renderClause(e.Clause)
		conds = append(conds, cond)
		args = append(args, condArgs...)
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func renderClause(c facet.Clause) (string, []any) {
	switch c := c.(type) {
	case facet.Equals:
		return fmt.Sprintf("%q = ?", c.Column), []any{c.Value}

	case facet.In:
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(c.Values)), ", ")
		args := make([]any, len(c.Values))
		for i, v := range c.Values {
			args[i] = v
		}
		return fmt.Sprintf("%q IN (%s)", c.Column, placeholders), args

	case facet.Flag:
		return fmt.Sprintf("%q = 1", c.Column), nil

	case facet.Match:
		return matchCond(c), []any{c.Text}

	case facet.AnyMatch:
		conds := make([]string, len(c.Matches))
		args := make([]any, len(c.Matches))
		for i, m := range c.Matches {
			conds[i] = matchCond(m)
			args[i] = m.Text
		}
		return "(" + strings.Join(conds, " OR ") + ")", args

	case facet.MemberOf:
		return "ResourceKey IN (SELECT ResourceKey FROM Categories WHERE Mode = ? AND Code = ?)",
			[]any{c.Mode, c.Code}

	default:
		// The clause set is closed; an unknown clause cannot constrain
		// anything safely, so it constrains nothing.
		return "1 = 1", nil
	}
}

func matchCond(m facet.Match) string {
	index := string(m.Index)
	return fmt.Sprintf("ResourceKey IN (SELECT rowid FROM %s WHERE %s MATCH ?)", index, index)
}
