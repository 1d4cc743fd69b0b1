package specialty

import (
	"encoding/json"
	"fmt"
)

// ManifestFile is the manifest name inside every <slug>/<version> directory.
const ManifestFile = "pack.json"

// PackManifest is the declarative pack.json document of a specialty pack.
type PackManifest struct {
	Slug          string                       `json:"slug"`
	Version       string                       `json:"version"`
	Name          string                       `json:"name,omitempty"`
	Description   string                       `json:"description,omitempty"`
	Category      string                       `json:"category,omitempty"`
	Icon          string                       `json:"icon,omitempty"`
	Color         string                       `json:"color,omitempty"`
	Navigation    *Navigation                  `json:"navigation,omitempty"`
	EpisodeConfig *EpisodeConfig               `json:"episodeConfig,omitempty"`
	Dependencies  []string                     `json:"dependencies,omitempty"`
	Templates     []string                     `json:"templates"`
	VisitTypes    string                       `json:"visitTypes"`
	Workflows     *string                      `json:"workflows"`
	Reports       *string                      `json:"reports"`
	FeatureFlags  map[string]json.RawMessage   `json:"featureFlags,omitempty"`
	Devices       []map[string]json.RawMessage `json:"devices,omitempty"`
}

// Key returns the cache identity of the manifest.
func (m *PackManifest) Key() string { return Key(m.Slug, m.Version) }

// Navigation controls how a pack's sections merge into the base navigation.
type Navigation struct {
	Sections        []NavSection `json:"sections,omitempty"`
	ReplaceSections bool         `json:"replaceSections,omitempty"`
	MergeWith       string       `json:"mergeWith,omitempty"`
}

type NavSection struct {
	ID              string   `json:"id"`
	Label           string   `json:"label"`
	Icon            string   `json:"icon,omitempty"`
	Category        string   `json:"category,omitempty"`
	Order           *float64 `json:"order,omitempty"`
	RequiresEpisode bool     `json:"requiresEpisode,omitempty"`
	Badge           string   `json:"badge,omitempty"`
	ComponentName   string   `json:"componentName,omitempty"`
	Hidden          bool     `json:"hidden,omitempty"`
}

// EpisodeConfig is the clinical-episode policy a pack applies to its patients.
type EpisodeConfig struct {
	AllowConcurrent  bool                       `json:"allowConcurrent,omitempty"`
	DefaultState     string                     `json:"defaultState,omitempty"`
	RequiredFields   []string                   `json:"requiredFields,omitempty"`
	StateTransitions map[string]json.RawMessage `json:"stateTransitions,omitempty"`
	AutoClose        bool                       `json:"autoClose,omitempty"`
	MaxDuration      *float64                   `json:"maxDuration,omitempty"`
}

var (
	manifestCategories = map[string]bool{
		"clinical": true, "administrative": true, "financial": true, "general": true,
	}
	navSectionCategories = map[string]bool{
		"general": true, "clinical": true, "administrative": true, "financial": true, "specialty": true,
	}
	episodeStates = map[string]bool{
		"planned": true, "waitlist": true, "active": true, "on-hold": true,
		"finished": true, "cancelled": true,
	}
)

// Key builds the slug:version identity used by the pack cache.
func Key(slug, version string) string {
	return fmt.Sprintf("%s:%s", slug, version)
}

// ParseManifest decodes and validates a pack.json document. Any schema failure
// is reported as a *ManifestInvalidError listing every violation.
func ParseManifest(data []byte) (*PackManifest, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		msg := "manifest must be a JSON object"
		if err != nil {
			msg = fmt.Sprintf("manifest is not valid JSON: %v", err)
		}
		return nil, &ManifestInvalidError{Violations: []Violation{{Constraint: "type", Message: msg}}}
	}

	m, violations := ValidateManifest(doc)
	if len(violations) > 0 {
		return nil, &ManifestInvalidError{Slug: m.Slug, Version: m.Version, Violations: violations}
	}
	return m, nil
}
