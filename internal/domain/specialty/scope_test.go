package specialty

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func TestScope_Specificity(t *testing.T) {
	tests := []struct {
		scope Scope
		want  int
	}{
		{ScopeServiceLine, 4},
		{ScopeDepartment, 3},
		{ScopeLocation, 2},
		{ScopeOrg, 1},
		{Scope("ward"), 0},
		{Scope(""), 0},
	}
	for _, tt := range tests {
		if got := tt.scope.Specificity(); got != tt.want {
			t.Errorf("%q.Specificity() = %d, want %d", tt.scope, got, tt.want)
		}
	}
}

func TestParseScope(t *testing.T) {
	if s, err := ParseScope(""); err != nil || s != ScopeOrg {
		t.Errorf("ParseScope(\"\") = %q, %v; want org", s, err)
	}
	if s, err := ParseScope("service_line"); err != nil || s != ScopeServiceLine {
		t.Errorf("ParseScope(service_line) = %q, %v", s, err)
	}
	if _, err := ParseScope("ward"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for unknown scope, got %v", err)
	}
}

func TestDeriveScope(t *testing.T) {
	loc, dept := uuid.New(), uuid.New()

	tests := []struct {
		name      string
		loc, dept *uuid.UUID
		wantScope Scope
		wantRef   *uuid.UUID
	}{
		{"neither", nil, nil, ScopeOrg, nil},
		{"location only", &loc, nil, ScopeLocation, &loc},
		{"department only", nil, &dept, ScopeDepartment, &dept},
		{"department wins", &loc, &dept, ScopeDepartment, &dept},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope, ref := DeriveScope(tt.loc, tt.dept)
			if scope != tt.wantScope || !sameRef(ref, tt.wantRef) {
				t.Errorf("DeriveScope() = %s, %v; want %s, %v", scope, ref, tt.wantScope, tt.wantRef)
			}
		})
	}
}

func setting(slug string, scope Scope, updated time.Time) *Setting {
	s := &Setting{ID: uuid.New(), PackSlug: slug, PackVersion: "1.0.0", Scope: scope, Enabled: true, UpdatedAt: updated}
	if scope != ScopeOrg {
		ref := uuid.New()
		s.ScopeRefID = &ref
	}
	return s
}

func TestResolveEffective(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	orgGeneral := setting("general", ScopeOrg, t0)
	orgObgyn := setting("ob-gyn", ScopeOrg, t0.Add(time.Hour))
	locObgyn := setting("ob-gyn", ScopeLocation, t0)
	deptWound := setting("wound-care", ScopeDepartment, t0)
	orgWound := setting("wound-care", ScopeOrg, t0.Add(48*time.Hour))

	got := ResolveEffective([]*Setting{orgWound, orgObgyn, deptWound, orgGeneral, locObgyn})

	want := []*Setting{orgGeneral, locObgyn, deptWound}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ResolveEffective mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveEffective_TieBreakOnUpdatedAt(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	older := setting("ob-gyn", ScopeLocation, t0)
	newer := setting("ob-gyn", ScopeLocation, t0.Add(time.Minute))

	for _, order := range [][]*Setting{{older, newer}, {newer, older}} {
		got := ResolveEffective(order)
		if len(got) != 1 || got[0] != newer {
			t.Errorf("expected most recently updated row to win, got %+v", got)
		}
	}
}

func TestResolveEffective_Empty(t *testing.T) {
	got := ResolveEffective(nil)
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil result, got %#v", got)
	}
}

func TestMatchesScope(t *testing.T) {
	loc, other := uuid.New(), uuid.New()

	org := &Setting{Scope: ScopeOrg}
	atLoc := &Setting{Scope: ScopeLocation, ScopeRefID: &loc}

	if !matchesScope(org, ScopeDepartment, &other) {
		t.Error("org-wide setting must match every scope")
	}
	if !matchesScope(atLoc, ScopeLocation, &loc) {
		t.Error("expected exact location match")
	}
	if matchesScope(atLoc, ScopeLocation, &other) {
		t.Error("different location must not match")
	}
	if matchesScope(atLoc, ScopeDepartment, &loc) {
		t.Error("different scope with same ref must not match")
	}
	if matchesScope(atLoc, ScopeOrg, nil) {
		t.Error("location setting must not match an org query")
	}
}

func TestValidateScopeRef(t *testing.T) {
	ref := uuid.New()
	tests := []struct {
		name  string
		scope Scope
		ref   *uuid.UUID
		ok    bool
	}{
		{"org without ref", ScopeOrg, nil, true},
		{"org with ref", ScopeOrg, &ref, false},
		{"location with ref", ScopeLocation, &ref, true},
		{"location without ref", ScopeLocation, nil, false},
		{"service line with ref", ScopeServiceLine, &ref, true},
		{"unknown scope", Scope("ward"), &ref, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateScopeRef(tt.scope, tt.ref)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}
