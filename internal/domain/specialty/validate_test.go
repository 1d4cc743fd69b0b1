package specialty

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func violationKeys(vs []Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Path+"|"+v.Constraint)
	}
	return out
}

func parseViolations(t *testing.T, doc string) []Violation {
	t.Helper()
	_, err := ParseManifest([]byte(doc))
	if err == nil {
		return nil
	}
	var mie *ManifestInvalidError
	if !errors.As(err, &mie) {
		t.Fatalf("expected *ManifestInvalidError, got %T: %v", err, err)
	}
	if !errors.Is(err, ErrManifestInvalid) {
		t.Error("expected error to match ErrManifestInvalid")
	}
	return mie.Violations
}

func TestParseManifest_Valid(t *testing.T) {
	m, err := ParseManifest([]byte(`{
		"slug": "ob-gyn",
		"version": "1.2.0",
		"name": "OB/GYN",
		"category": "clinical",
		"templates": ["templates/prenatal.json"],
		"visitTypes": "visit-types.json",
		"workflows": null,
		"dependencies": ["general"],
		"navigation": {
			"sections": [{"id": "prenatal", "label": "Prenatal", "category": "specialty", "order": 2}],
			"mergeWith": "base"
		},
		"episodeConfig": {"allowConcurrent": true, "defaultState": "active", "maxDuration": 280},
		"featureFlags": {"ultrasound": true},
		"devices": [{"type": "fetal-monitor"}]
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if m.Key() != "ob-gyn:1.2.0" {
		t.Errorf("unexpected key %s", m.Key())
	}
	if m.Workflows != nil {
		t.Error("expected null workflows to decode as nil")
	}
	if diff := cmp.Diff([]string{"general"}, m.Dependencies); diff != "" {
		t.Errorf("dependencies mismatch (-want +got):\n%s", diff)
	}
	if len(m.Navigation.Sections) != 1 || *m.Navigation.Sections[0].Order != 2 {
		t.Errorf("unexpected navigation: %+v", m.Navigation)
	}
	if !m.EpisodeConfig.AllowConcurrent || m.EpisodeConfig.DefaultState != "active" {
		t.Errorf("unexpected episode config: %+v", m.EpisodeConfig)
	}
	if len(m.Devices) != 1 {
		t.Errorf("expected 1 device, got %d", len(m.Devices))
	}
}

func TestParseManifest_Minimal(t *testing.T) {
	m, err := ParseManifest([]byte(`{"slug":"ab","version":"0.0.1","templates":[],"visitTypes":"v.json"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Templates == nil || len(m.Templates) != 0 {
		t.Errorf("expected empty non-nil templates, got %#v", m.Templates)
	}
}

func TestParseManifest_Violations(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{
			name: "not an object",
			doc:  `["slug"]`,
			want: []string{"|type"},
		},
		{
			name: "malformed json",
			doc:  `{"slug":`,
			want: []string{"|type"},
		},
		{
			name: "missing required",
			doc:  `{}`,
			want: []string{"slug|required", "version|required", "templates|required", "visitTypes|required"},
		},
		{
			name: "unknown top-level key",
			doc:  `{"slug":"ob-gyn","version":"1.0.0","templates":[],"visitTypes":"v.json","author":"x"}`,
			want: []string{"author|additionalProperties"},
		},
		{
			name: "slug too short and bad pattern",
			doc:  `{"slug":"A","version":"1.0.0","templates":[],"visitTypes":"v.json"}`,
			want: []string{"slug|minLength", "slug|pattern"},
		},
		{
			name: "slug too long",
			doc:  `{"slug":"` + strings.Repeat("a", 51) + `","version":"1.0.0","templates":[],"visitTypes":"v.json"}`,
			want: []string{"slug|maxLength"},
		},
		{
			name: "version not semver triple",
			doc:  `{"slug":"ob-gyn","version":"1.0","templates":[],"visitTypes":"v.json"}`,
			want: []string{"version|pattern"},
		},
		{
			name: "category enum",
			doc:  `{"slug":"ob-gyn","version":"1.0.0","category":"surgical","templates":[],"visitTypes":"v.json"}`,
			want: []string{"category|enum"},
		},
		{
			name: "empty category",
			doc:  `{"slug":"ob-gyn","version":"1.0.0","category":"","templates":[],"visitTypes":"v.json"}`,
			want: []string{"category|enum"},
		},
		{
			name: "wrong types",
			doc:  `{"slug":7,"version":"1.0.0","templates":"t.json","visitTypes":["v.json"]}`,
			want: []string{"slug|type", "templates|type", "visitTypes|type"},
		},
		{
			name: "explicit null on non-nullable",
			doc:  `{"slug":"ob-gyn","version":"1.0.0","templates":[],"visitTypes":"v.json","name":null}`,
			want: []string{"name|type"},
		},
		{
			name: "template entry type",
			doc:  `{"slug":"ob-gyn","version":"1.0.0","templates":["a.json", 3],"visitTypes":"v.json"}`,
			want: []string{"templates[1]|type"},
		},
		{
			name: "nested navigation",
			doc: `{"slug":"ob-gyn","version":"1.0.0","templates":[],"visitTypes":"v.json",
				"navigation":{"sections":[{"id":"a","label":"A"},{"label":"B"},{"id":"c","label":"C","category":"labs"}]}}`,
			want: []string{"navigation.sections[1].id|required", "navigation.sections[2].category|enum"},
		},
		{
			name: "episode default state",
			doc: `{"slug":"ob-gyn","version":"1.0.0","templates":[],"visitTypes":"v.json",
				"episodeConfig":{"defaultState":"open","maxDuration":"long"}}`,
			want: []string{"episodeConfig.defaultState|enum", "episodeConfig.maxDuration|type"},
		},
		{
			name: "workflows wrong type",
			doc:  `{"slug":"ob-gyn","version":"1.0.0","templates":[],"visitTypes":"v.json","workflows":true}`,
			want: []string{"workflows|type"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := violationKeys(parseViolations(t, tt.doc))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("violations mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseManifest_CollectsAllViolations(t *testing.T) {
	vs := parseViolations(t, `{"slug":"X","version":"v1","category":"nope","extra":1,"templates":[],"visitTypes":"v.json"}`)
	if len(vs) < 4 {
		t.Errorf("expected every violation to be reported, got %v", vs)
	}
}

func TestManifestInvalidError_Message(t *testing.T) {
	err := &ManifestInvalidError{
		Slug:    "ob-gyn",
		Version: "1.0.0",
		Violations: []Violation{
			{Path: "slug", Constraint: "pattern", Message: "must match"},
			{Constraint: "type", Message: "manifest must be a JSON object"},
		},
	}
	want := "pack ob-gyn:1.0.0 validation failed: slug: must match; manifest must be a JSON object"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestValidSlugAndVersion(t *testing.T) {
	slugs := map[string]bool{
		"ob-gyn": true, "general": true, "a1": true,
		"a": false, "OB": false, "ob_gyn": false, "": false, strings.Repeat("x", 51): false,
	}
	for s, want := range slugs {
		if got := ValidSlug(s); got != want {
			t.Errorf("ValidSlug(%q) = %v, want %v", s, got, want)
		}
	}

	versions := map[string]bool{
		"1.0.0": true, "10.20.30": true,
		"1.0": false, "v1.0.0": false, "1.0.0-beta": false, "": false,
	}
	for v, want := range versions {
		if got := ValidVersion(v); got != want {
			t.Errorf("ValidVersion(%q) = %v, want %v", v, got, want)
		}
	}
}
