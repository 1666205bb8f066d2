package domain

import "strings"

// PatientFilter restricts a patient query. A filter contributes both a SQL
// selection fragment (with ? placeholders) for the relational backends and
// an in-memory predicate for the memory backend, so the two stay in
// lockstep and filters remain testable without a database.
type PatientFilter interface {
	// Selection returns a SQL boolean expression using ? placeholders.
	Selection() string
	// Args returns the arguments bound to the placeholders in Selection.
	Args() []any
	// Matches reports whether the patient satisfies the filter.
	Matches(p *Patient) bool
}

// AllFilter matches every patient.
type AllFilter struct{}

func (AllFilter) Selection() string       { return "1=1" }
func (AllFilter) Args() []any             { return nil }
func (AllFilter) Matches(_ *Patient) bool { return true }

// LocationFilter matches patients assigned to any of the given location
// uuids. Callers filtering by subtree pass the subtree's uuid set.
type LocationFilter struct {
	UUIDs []string
}

func (f LocationFilter) Selection() string {
	if len(f.UUIDs) == 0 {
		return "1=0"
	}
	return "location_uuid IN (" + placeholders(len(f.UUIDs)) + ")"
}

func (f LocationFilter) Args() []any {
	args := make([]any, len(f.UUIDs))
	for i, u := range f.UUIDs {
		args[i] = u
	}
	return args
}

func (f LocationFilter) Matches(p *Patient) bool {
	for _, u := range f.UUIDs {
		if p.LocationUUID == u {
			return true
		}
	}
	return false
}

// NamePrefixFilter matches patients whose given or family name starts with
// the prefix, case-insensitively.
type NamePrefixFilter struct {
	Prefix string
}

func (f NamePrefixFilter) Selection() string {
	return "(LOWER(given_name) LIKE ? OR LOWER(family_name) LIKE ?)"
}

func (f NamePrefixFilter) Args() []any {
	p := strings.ToLower(f.Prefix) + "%"
	return []any{p, p}
}

func (f NamePrefixFilter) Matches(p *Patient) bool {
	pre := strings.ToLower(f.Prefix)
	return strings.HasPrefix(strings.ToLower(p.GivenName), pre) ||
		strings.HasPrefix(strings.ToLower(p.FamilyName), pre)
}

// IDPrefixFilter matches patients whose chart identifier starts with the
// prefix, case-insensitively.
type IDPrefixFilter struct {
	Prefix string
}

func (f IDPrefixFilter) Selection() string { return "LOWER(id) LIKE ?" }

func (f IDPrefixFilter) Args() []any { return []any{strings.ToLower(f.Prefix) + "%"} }

func (f IDPrefixFilter) Matches(p *Patient) bool {
	return strings.HasPrefix(strings.ToLower(p.ID), strings.ToLower(f.Prefix))
}

// FilterGroup composes member filters with AND or OR.
type FilterGroup struct {
	members []PatientFilter
	anyOf   bool
}

// AllOf builds a group matching patients that satisfy every member.
func AllOf(members ...PatientFilter) FilterGroup { return FilterGroup{members: members} }

// AnyOf builds a group matching patients that satisfy at least one member.
func AnyOf(members ...PatientFilter) FilterGroup {
	return FilterGroup{members: members, anyOf: true}
}

func (g FilterGroup) Selection() string {
	if len(g.members) == 0 {
		return "1=1"
	}
	op := " AND "
	if g.anyOf {
		op = " OR "
	}
	parts := make([]string, len(g.members))
	for i, m := range g.members {
		parts[i] = "(" + m.Selection() + ")"
	}
	return strings.Join(parts, op)
}

func (g FilterGroup) Args() []any {
	var args []any
	for _, m := range g.members {
		args = append(args, m.Args()...)
	}
	return args
}

func (g FilterGroup) Matches(p *Patient) bool {
	if len(g.members) == 0 {
		return true
	}
	for _, m := range g.members {
		ok := m.Matches(p)
		if g.anyOf && ok {
			return true
		}
		if !g.anyOf && !ok {
			return false
		}
	}
	return !g.anyOf
}

// SearchFilter interprets a free-text constraint the way the patient list
// search box does: empty matches everything, otherwise the constraint must
// prefix-match a name or the chart identifier.
func SearchFilter(constraint string) PatientFilter {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" {
		return AllFilter{}
	}
	return AnyOf(NamePrefixFilter{Prefix: constraint}, IDPrefixFilter{Prefix: constraint})
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
