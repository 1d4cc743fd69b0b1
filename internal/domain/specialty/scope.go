package specialty

import (
	"sort"

	"github.com/google/uuid"
)

// DeriveScope picks the narrowest scope the caller identified. Department wins
// over location; with neither the context is org-wide.
func DeriveScope(locationID, departmentID *uuid.UUID) (Scope, *uuid.UUID) {
	switch {
	case departmentID != nil:
		return ScopeDepartment, departmentID
	case locationID != nil:
		return ScopeLocation, locationID
	}
	return ScopeOrg, nil
}

// ResolveEffective collapses candidate settings to one per pack slug, keeping
// the most specific scope. Ties on scope go to the most recently updated row.
// The result is ordered by slug.
func ResolveEffective(candidates []*Setting) []*Setting {
	best := make(map[string]*Setting, len(candidates))
	for _, s := range candidates {
		cur, ok := best[s.PackSlug]
		if !ok || outranks(s, cur) {
			best[s.PackSlug] = s
		}
	}

	out := make([]*Setting, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PackSlug < out[j].PackSlug })
	return out
}

func outranks(a, b *Setting) bool {
	sa, sb := a.Scope.Specificity(), b.Scope.Specificity()
	if sa != sb {
		return sa > sb
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

// matchesScope reports whether s is a candidate for a query at scope/ref: the
// org-wide row always is, otherwise scope and ref must match exactly.
func matchesScope(s *Setting, scope Scope, ref *uuid.UUID) bool {
	if s.Scope == ScopeOrg && s.ScopeRefID == nil {
		return true
	}
	return s.Scope == scope && sameRef(s.ScopeRefID, ref)
}

func sameRef(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func validateScopeRef(scope Scope, ref *uuid.UUID) error {
	if !scope.Valid() {
		return invalidRequest("scope must be one of org, location, department, service_line, got %q", scope)
	}
	if scope == ScopeOrg && ref != nil {
		return invalidRequest("scope_ref_id must be empty for org scope")
	}
	if scope != ScopeOrg && ref == nil {
		return invalidRequest("scope_ref_id is required for %s scope", scope)
	}
	return nil
}
