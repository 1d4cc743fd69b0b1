package specialty

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Scope is the granularity a pack setting applies at.
type Scope string

const (
	ScopeOrg         Scope = "org"
	ScopeLocation    Scope = "location"
	ScopeDepartment  Scope = "department"
	ScopeServiceLine Scope = "service_line"
)

// Specificity ranks scopes so the narrowest one wins during resolution.
// Unknown scopes rank 0.
func (s Scope) Specificity() int {
	switch s {
	case ScopeServiceLine:
		return 4
	case ScopeDepartment:
		return 3
	case ScopeLocation:
		return 2
	case ScopeOrg:
		return 1
	}
	return 0
}

func (s Scope) Valid() bool { return s.Specificity() > 0 }

// ParseScope accepts the wire form of a scope; an empty string means org.
func ParseScope(s string) (Scope, error) {
	if s == "" {
		return ScopeOrg, nil
	}
	sc := Scope(s)
	if !sc.Valid() {
		return "", invalidRequest("scope must be one of org, location, department, service_line, got %q", s)
	}
	return sc, nil
}

// PackTemplate is a template document loaded from a pack.
type PackTemplate struct {
	Path   string          `json:"path"`
	Schema json.RawMessage `json:"schema"`
}

// CompiledPack is a validated manifest with its artifacts materialized.
// Values are shared through the cache and must not be mutated.
type CompiledPack struct {
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
	FeatureFlags  map[string]json.RawMessage   `json:"featureFlags,omitempty"`
	Devices       []map[string]json.RawMessage `json:"devices,omitempty"`
	Templates     []PackTemplate               `json:"templates"`
	VisitTypes    json.RawMessage              `json:"visitTypes"`
	Workflows     json.RawMessage              `json:"workflows"`
	Reports       json.RawMessage              `json:"reports"`

	Manifest *PackManifest `json:"-"`
}

func (p *CompiledPack) Key() string { return Key(p.Slug, p.Version) }

// Setting is a row of org_specialty_settings.
type Setting struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	OrgID       uuid.UUID       `db:"org_id" json:"org_id"`
	PackSlug    string          `db:"pack_slug" json:"pack_slug"`
	PackVersion string          `db:"pack_version" json:"pack_version"`
	Enabled     bool            `db:"enabled" json:"enabled"`
	Scope       Scope           `db:"scope" json:"scope"`
	ScopeRefID  *uuid.UUID      `db:"scope_ref_id" json:"scope_ref_id"`
	Overrides   json.RawMessage `db:"overrides" json:"overrides"`
	CreatedBy   string          `db:"created_by" json:"created_by"`
	UpdatedBy   string          `db:"updated_by" json:"updated_by"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// EnableRequest activates a pack version for an org at one scope.
type EnableRequest struct {
	OrgID      uuid.UUID       `json:"org_id"`
	Slug       string          `json:"slug"`
	Version    string          `json:"version"`
	Scope      Scope           `json:"scope"`
	ScopeRefID *uuid.UUID      `json:"scope_ref_id,omitempty"`
	UserID     string          `json:"-"`
	Overrides  json.RawMessage `json:"overrides,omitempty"`
}

// DisableRequest soft-disables the setting at exactly one scope.
type DisableRequest struct {
	OrgID      uuid.UUID  `json:"org_id"`
	Slug       string     `json:"slug"`
	Scope      Scope      `json:"scope"`
	ScopeRefID *uuid.UUID `json:"scope_ref_id,omitempty"`
	UserID     string     `json:"-"`
}

// ResolvedPack is one effective pack for a context: the compiled pack plus the
// installation overrides of the setting that won resolution.
type ResolvedPack struct {
	*CompiledPack
	Overrides     json.RawMessage `json:"overrides"`
	ResolvedScope Scope           `json:"resolvedScope"`
}

// ResolvedContext is the effective pack set for an org/location/department.
type ResolvedContext struct {
	OrgID        uuid.UUID      `json:"orgId"`
	LocationID   *uuid.UUID     `json:"locationId"`
	DepartmentID *uuid.UUID     `json:"departmentId"`
	Scope        Scope          `json:"scope"`
	ScopeRefID   *uuid.UUID     `json:"scopeRefId"`
	Packs        []ResolvedPack `json:"packs"`
}

// AuditEntry is a row of specialty_pack_audits, written by the settings trigger.
type AuditEntry struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	OrgID       uuid.UUID       `db:"org_id" json:"org_id"`
	PackSlug    string          `db:"pack_slug" json:"pack_slug"`
	PackVersion string          `db:"pack_version" json:"pack_version"`
	Action      string          `db:"action" json:"action"`
	ActorID     string          `db:"actor_id" json:"actor_id"`
	Scope       Scope           `db:"scope" json:"scope"`
	ScopeRefID  *uuid.UUID      `db:"scope_ref_id" json:"scope_ref_id"`
	Metadata    json.RawMessage `db:"metadata" json:"metadata"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Event types published on the registry event stream.
const (
	EventSettingEnabled  = "setting.enabled"
	EventSettingDisabled = "setting.disabled"
	EventPackReloaded    = "pack.reloaded"
	EventPackInvalidated = "pack.invalidated"
	EventCacheCleared    = "cache.cleared"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)
