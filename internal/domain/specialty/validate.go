package specialty

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"unicode/utf8"
)

var (
	slugPattern    = regexp.MustCompile(`^[a-z0-9-]+$`)
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

const (
	slugMinLen = 2
	slugMaxLen = 50
)

var requiredManifestFields = []string{"slug", "version", "templates", "visitTypes"}

// manifestField decodes one top-level key into m, appending any violations.
type manifestField func(m *PackManifest, path string, raw json.RawMessage, vs *violations)

var manifestFields = map[string]manifestField{
	"slug":        func(m *PackManifest, p string, r json.RawMessage, vs *violations) { m.Slug = vs.str(p, r) },
	"version":     func(m *PackManifest, p string, r json.RawMessage, vs *violations) { m.Version = vs.str(p, r) },
	"name":        func(m *PackManifest, p string, r json.RawMessage, vs *violations) { m.Name = vs.str(p, r) },
	"description": func(m *PackManifest, p string, r json.RawMessage, vs *violations) { m.Description = vs.str(p, r) },
	"category":    func(m *PackManifest, p string, r json.RawMessage, vs *violations) { m.Category = vs.str(p, r) },
	"icon":        func(m *PackManifest, p string, r json.RawMessage, vs *violations) { m.Icon = vs.str(p, r) },
	"color":       func(m *PackManifest, p string, r json.RawMessage, vs *violations) { m.Color = vs.str(p, r) },
	"navigation": func(m *PackManifest, p string, r json.RawMessage, vs *violations) {
		m.Navigation = vs.navigation(p, r)
	},
	"episodeConfig": func(m *PackManifest, p string, r json.RawMessage, vs *violations) {
		m.EpisodeConfig = vs.episodeConfig(p, r)
	},
	"dependencies": func(m *PackManifest, p string, r json.RawMessage, vs *violations) {
		m.Dependencies = vs.strList(p, r)
	},
	"templates": func(m *PackManifest, p string, r json.RawMessage, vs *violations) {
		m.Templates = vs.strList(p, r)
	},
	"visitTypes": func(m *PackManifest, p string, r json.RawMessage, vs *violations) { m.VisitTypes = vs.str(p, r) },
	"workflows":  func(m *PackManifest, p string, r json.RawMessage, vs *violations) { m.Workflows = vs.nullableStr(p, r) },
	"reports":    func(m *PackManifest, p string, r json.RawMessage, vs *violations) { m.Reports = vs.nullableStr(p, r) },
	"featureFlags": func(m *PackManifest, p string, r json.RawMessage, vs *violations) {
		m.FeatureFlags = vs.object(p, r)
	},
	"devices": func(m *PackManifest, p string, r json.RawMessage, vs *violations) {
		m.Devices = vs.objectList(p, r)
	},
}

// ValidateManifest checks a decoded pack.json object against the closed manifest
// schema. It never stops at the first failure; the returned manifest holds
// whatever fields decoded cleanly.
func ValidateManifest(doc map[string]json.RawMessage) (*PackManifest, []Violation) {
	m := &PackManifest{}
	vs := &violations{}

	for _, key := range requiredManifestFields {
		if _, ok := doc[key]; !ok {
			vs.add(key, "required", fmt.Sprintf("must have required property '%s'", key))
		}
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		decode, ok := manifestFields[key]
		if !ok {
			vs.add(key, "additionalProperties", "must NOT have additional properties")
			continue
		}
		decode(m, key, doc[key], vs)
	}

	if _, ok := doc["slug"]; ok && !vs.failed("slug") {
		n := utf8.RuneCountInString(m.Slug)
		switch {
		case n < slugMinLen:
			vs.add("slug", "minLength", fmt.Sprintf("must NOT have fewer than %d characters", slugMinLen))
		case n > slugMaxLen:
			vs.add("slug", "maxLength", fmt.Sprintf("must NOT have more than %d characters", slugMaxLen))
		}
		if !slugPattern.MatchString(m.Slug) {
			vs.add("slug", "pattern", fmt.Sprintf("must match pattern \"%s\"", slugPattern.String()))
		}
	}
	if _, ok := doc["version"]; ok && !vs.failed("version") && !versionPattern.MatchString(m.Version) {
		vs.add("version", "pattern", fmt.Sprintf("must match pattern \"%s\"", versionPattern.String()))
	}
	if _, ok := doc["category"]; ok && !vs.failed("category") && !manifestCategories[m.Category] {
		vs.add("category", "enum", "must be equal to one of the allowed values")
	}

	return m, vs.list
}

// ValidSlug reports whether s is an acceptable pack slug.
func ValidSlug(s string) bool {
	n := utf8.RuneCountInString(s)
	return n >= slugMinLen && n <= slugMaxLen && slugPattern.MatchString(s)
}

// ValidVersion reports whether s is a MAJOR.MINOR.PATCH version.
func ValidVersion(s string) bool {
	return versionPattern.MatchString(s)
}

type violations struct {
	list []Violation
}

func (vs *violations) add(path, constraint, msg string) {
	vs.list = append(vs.list, Violation{Path: path, Constraint: constraint, Message: msg})
}

func (vs *violations) failed(path string) bool {
	for _, v := range vs.list {
		if v.Path == path {
			return true
		}
	}
	return false
}

func (vs *violations) typeMismatch(path, want string) {
	vs.add(path, "type", "must be "+want)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func (vs *violations) str(path string, raw json.RawMessage) string {
	var s string
	if isNull(raw) || json.Unmarshal(raw, &s) != nil {
		vs.typeMismatch(path, "string")
		return ""
	}
	return s
}

func (vs *violations) nullableStr(path string, raw json.RawMessage) *string {
	if isNull(raw) {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		vs.typeMismatch(path, "string,null")
		return nil
	}
	return &s
}

func (vs *violations) boolean(path string, raw json.RawMessage) bool {
	var b bool
	if isNull(raw) || json.Unmarshal(raw, &b) != nil {
		vs.typeMismatch(path, "boolean")
	}
	return b
}

func (vs *violations) number(path string, raw json.RawMessage) *float64 {
	var f float64
	if isNull(raw) || json.Unmarshal(raw, &f) != nil {
		vs.typeMismatch(path, "number")
		return nil
	}
	return &f
}

func (vs *violations) array(path string, raw json.RawMessage) []json.RawMessage {
	var items []json.RawMessage
	if isNull(raw) || json.Unmarshal(raw, &items) != nil {
		vs.typeMismatch(path, "array")
		return nil
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	return items
}

func (vs *violations) object(path string, raw json.RawMessage) map[string]json.RawMessage {
	var obj map[string]json.RawMessage
	if isNull(raw) || json.Unmarshal(raw, &obj) != nil {
		vs.typeMismatch(path, "object")
		return nil
	}
	return obj
}

func (vs *violations) strList(path string, raw json.RawMessage) []string {
	items := vs.array(path, raw)
	if items == nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s := vs.str(fmt.Sprintf("%s[%d]", path, i), item)
		out = append(out, s)
	}
	return out
}

func (vs *violations) objectList(path string, raw json.RawMessage) []map[string]json.RawMessage {
	items := vs.array(path, raw)
	if items == nil {
		return nil
	}
	out := make([]map[string]json.RawMessage, 0, len(items))
	for i, item := range items {
		if obj := vs.object(fmt.Sprintf("%s[%d]", path, i), item); obj != nil {
			out = append(out, obj)
		}
	}
	return out
}

func (vs *violations) navigation(path string, raw json.RawMessage) *Navigation {
	obj := vs.object(path, raw)
	if obj == nil {
		return nil
	}
	nav := &Navigation{}
	if r, ok := obj["sections"]; ok {
		p := path + ".sections"
		for i, item := range vs.array(p, r) {
			if sec := vs.navSection(fmt.Sprintf("%s[%d]", p, i), item); sec != nil {
				nav.Sections = append(nav.Sections, *sec)
			}
		}
	}
	if r, ok := obj["replaceSections"]; ok {
		nav.ReplaceSections = vs.boolean(path+".replaceSections", r)
	}
	if r, ok := obj["mergeWith"]; ok {
		nav.MergeWith = vs.str(path+".mergeWith", r)
	}
	return nav
}

func (vs *violations) navSection(path string, raw json.RawMessage) *NavSection {
	obj := vs.object(path, raw)
	if obj == nil {
		return nil
	}
	sec := &NavSection{}
	for _, key := range []string{"id", "label"} {
		if _, ok := obj[key]; !ok {
			vs.add(path+"."+key, "required", fmt.Sprintf("must have required property '%s'", key))
		}
	}
	if r, ok := obj["id"]; ok {
		sec.ID = vs.str(path+".id", r)
	}
	if r, ok := obj["label"]; ok {
		sec.Label = vs.str(path+".label", r)
	}
	if r, ok := obj["icon"]; ok {
		sec.Icon = vs.str(path+".icon", r)
	}
	if r, ok := obj["category"]; ok {
		p := path + ".category"
		if sec.Category = vs.str(p, r); !vs.failed(p) && !navSectionCategories[sec.Category] {
			vs.add(p, "enum", "must be equal to one of the allowed values")
		}
	}
	if r, ok := obj["order"]; ok {
		sec.Order = vs.number(path+".order", r)
	}
	if r, ok := obj["requiresEpisode"]; ok {
		sec.RequiresEpisode = vs.boolean(path+".requiresEpisode", r)
	}
	if r, ok := obj["badge"]; ok {
		sec.Badge = vs.str(path+".badge", r)
	}
	if r, ok := obj["componentName"]; ok {
		sec.ComponentName = vs.str(path+".componentName", r)
	}
	if r, ok := obj["hidden"]; ok {
		sec.Hidden = vs.boolean(path+".hidden", r)
	}
	return sec
}

func (vs *violations) episodeConfig(path string, raw json.RawMessage) *EpisodeConfig {
	obj := vs.object(path, raw)
	if obj == nil {
		return nil
	}
	ec := &EpisodeConfig{}
	if r, ok := obj["allowConcurrent"]; ok {
		ec.AllowConcurrent = vs.boolean(path+".allowConcurrent", r)
	}
	if r, ok := obj["defaultState"]; ok {
		p := path + ".defaultState"
		if ec.DefaultState = vs.str(p, r); !vs.failed(p) && !episodeStates[ec.DefaultState] {
			vs.add(p, "enum", "must be equal to one of the allowed values")
		}
	}
	if r, ok := obj["requiredFields"]; ok {
		ec.RequiredFields = vs.strList(path+".requiredFields", r)
	}
	if r, ok := obj["stateTransitions"]; ok {
		ec.StateTransitions = vs.object(path+".stateTransitions", r)
	}
	if r, ok := obj["autoClose"]; ok {
		ec.AutoClose = vs.boolean(path+".autoClose", r)
	}
	if r, ok := obj["maxDuration"]; ok {
		ec.MaxDuration = vs.number(path+".maxDuration", r)
	}
	return ec
}
