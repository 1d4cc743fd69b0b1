package specialty

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/specialty/internal/platform/db"
	"github.com/ehr/specialty/internal/platform/websocket"
)

var emptyObject = json.RawMessage(`{}`)

type Service struct {
	repo           SettingRepository
	loader         *Loader
	catalog        *Catalog
	logger         zerolog.Logger
	events         websocket.EventPublisher
	defaultVersion string
}

func NewService(repo SettingRepository, loader *Loader, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		loader:  loader,
		catalog: NewCatalog(loader),
		logger:  logger.With().Str("component", "specialty_service").Logger(),
	}
}

// SetDefaultVersion pins the version used when callers omit one. An empty
// value falls back to the newest version on disk.
func (s *Service) SetDefaultVersion(v string) {
	s.defaultVersion = v
}

// SetPublisher makes the service announce setting and cache changes.
func (s *Service) SetPublisher(p websocket.EventPublisher) {
	s.events = p
}

func (s *Service) Catalog() *Catalog { return s.catalog }

func (s *Service) publish(ctx context.Context, ev websocket.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("type", ev.Type).Msg("publish registry event")
	}
}

// publishSetting announces a setting change on the owning org's topic. A
// setting that cannot be encoded is logged and not announced.
func (s *Service) publishSetting(ctx context.Context, kind string, st *Setting) {
	if s.events == nil {
		return
	}
	data, err := json.Marshal(st)
	if err != nil {
		s.logger.Error().Err(err).Str("type", kind).Str("pack", st.PackSlug).Msg("marshal setting event")
		return
	}
	s.publish(ctx, websocket.Event{
		Type:        kind,
		Topic:       websocket.OrgTopic(st.OrgID.String()),
		OrgID:       st.OrgID.String(),
		PackSlug:    st.PackSlug,
		PackVersion: st.PackVersion,
		Data:        data,
	})
}

// ResolveVersion returns version unchanged when set, otherwise the configured
// default or the latest version of slug found on disk.
func (s *Service) ResolveVersion(ctx context.Context, slug, version string) (string, error) {
	if version != "" {
		return version, nil
	}
	if s.defaultVersion != "" {
		return s.defaultVersion, nil
	}
	return s.catalog.Latest(ctx, slug)
}

// LoadPack loads a compiled pack, defaulting the version when it is empty.
func (s *Service) LoadPack(ctx context.Context, slug, version string) (*CompiledPack, error) {
	v, err := s.ResolveVersion(ctx, slug, version)
	if err != nil {
		return nil, err
	}
	return s.loader.Load(ctx, slug, v)
}

// GetEnabled returns the effective enabled setting per pack slug for a scope.
func (s *Service) GetEnabled(ctx context.Context, orgID uuid.UUID, scope Scope, scopeRefID *uuid.UUID) ([]*Setting, error) {
	return s.resolve(ctx, orgID, scope, scopeRefID, true)
}

// GetAll is GetEnabled without the enabled filter, so disabled rows show up.
func (s *Service) GetAll(ctx context.Context, orgID uuid.UUID, scope Scope, scopeRefID *uuid.UUID) ([]*Setting, error) {
	return s.resolve(ctx, orgID, scope, scopeRefID, false)
}

func (s *Service) resolve(ctx context.Context, orgID uuid.UUID, scope Scope, ref *uuid.UUID, enabledOnly bool) ([]*Setting, error) {
	if err := validateScopeRef(scope, ref); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListCandidates(ctx, CandidateQuery{
		OrgID:       orgID,
		Scope:       scope,
		ScopeRefID:  ref,
		EnabledOnly: enabledOnly,
	})
	if err != nil {
		return nil, storageErr("list candidate settings", err)
	}

	candidates := make([]*Setting, 0, len(rows))
	for _, r := range rows {
		if matchesScope(r, scope, ref) && (r.Enabled || !enabledOnly) {
			candidates = append(candidates, r)
		}
	}
	return ResolveEffective(candidates), nil
}

// ListSettings pages through every setting row of an org regardless of scope.
func (s *Service) ListSettings(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*Setting, int, error) {
	items, total, err := s.repo.ListByOrg(ctx, orgID, limit, offset)
	if err != nil {
		return nil, 0, storageErr("list settings", err)
	}
	return items, total, nil
}

// Enable validates the pack, checks its dependencies are enabled at the same
// scope, and upserts the setting.
func (s *Service) Enable(ctx context.Context, req EnableRequest) (*Setting, error) {
	if req.Scope == "" {
		req.Scope = ScopeOrg
	}
	if err := validateScopeRef(req.Scope, req.ScopeRefID); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, invalidRequest("user id is required")
	}
	if len(req.Overrides) == 0 {
		req.Overrides = emptyObject
	} else if !json.Valid(req.Overrides) {
		return nil, invalidRequest("overrides must be valid JSON")
	}

	version, err := s.ResolveVersion(ctx, req.Slug, req.Version)
	if err != nil {
		return nil, err
	}
	req.Version = version

	pack, err := s.loader.Load(ctx, req.Slug, req.Version)
	if err != nil {
		return nil, err
	}

	if len(pack.Dependencies) > 0 {
		enabled, err := s.GetEnabled(ctx, req.OrgID, req.Scope, req.ScopeRefID)
		if err != nil {
			return nil, err
		}
		have := make(map[string]bool, len(enabled))
		for _, e := range enabled {
			have[e.PackSlug] = true
		}
		for _, dep := range pack.Dependencies {
			if !have[dep] {
				return nil, &DependencyMissingError{Slug: req.Slug, Missing: dep}
			}
		}
	}

	setting, err := s.repo.Upsert(ctx, req)
	if err != nil {
		return nil, storageErr("enable pack", err)
	}

	s.logger.Info().
		Str("org_id", req.OrgID.String()).
		Str("pack", pack.Key()).
		Str("scope", string(req.Scope)).
		Str("user_id", req.UserID).
		Str("tenant_id", db.TenantFromContext(ctx)).
		Msg("specialty pack enabled")
	s.publishSetting(ctx, EventSettingEnabled, setting)
	return setting, nil
}

// Disable flips the setting at exactly the given scope to disabled. The row is
// kept; a missing row is ErrSettingNotFound.
func (s *Service) Disable(ctx context.Context, req DisableRequest) (*Setting, error) {
	if req.Scope == "" {
		req.Scope = ScopeOrg
	}
	if err := validateScopeRef(req.Scope, req.ScopeRefID); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, invalidRequest("user id is required")
	}
	if !ValidSlug(req.Slug) {
		return nil, invalidRequest("invalid pack slug %q", req.Slug)
	}

	setting, err := s.repo.Disable(ctx, req)
	if err != nil {
		if errors.Is(err, ErrSettingNotFound) {
			return nil, err
		}
		return nil, storageErr("disable pack", err)
	}

	s.logger.Info().
		Str("org_id", req.OrgID.String()).
		Str("pack", req.Slug).
		Str("scope", string(req.Scope)).
		Str("user_id", req.UserID).
		Str("tenant_id", db.TenantFromContext(ctx)).
		Msg("specialty pack disabled")
	s.publishSetting(ctx, EventSettingDisabled, setting)
	return setting, nil
}

// AuditHistory returns the newest audit rows for an org, optionally for one slug.
func (s *Service) AuditHistory(ctx context.Context, orgID uuid.UUID, slug *string, limit int) ([]*AuditEntry, error) {
	switch {
	case limit <= 0:
		limit = defaultAuditLimit
	case limit > maxAuditLimit:
		limit = maxAuditLimit
	}
	entries, err := s.repo.AuditHistory(ctx, orgID, slug, limit)
	if err != nil {
		return nil, storageErr("audit history", err)
	}
	return entries, nil
}

// InvalidatePack drops one slug:version from the cache.
func (s *Service) InvalidatePack(slug, version string) bool {
	return s.loader.Cache().Invalidate(Key(slug, version))
}

// ReloadPack invalidates and reloads a pack so edits on disk take effect.
func (s *Service) ReloadPack(ctx context.Context, slug, version string) (*CompiledPack, error) {
	v, err := s.ResolveVersion(ctx, slug, version)
	if err != nil {
		return nil, err
	}
	s.loader.Cache().Invalidate(Key(slug, v))
	pack, err := s.loader.Load(ctx, slug, v)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, websocket.Event{
		Type:        EventPackReloaded,
		Topic:       websocket.TopicPacks,
		PackSlug:    pack.Slug,
		PackVersion: pack.Version,
	})
	return pack, nil
}

func (s *Service) ClearCache() {
	s.loader.Cache().Clear()
	s.logger.Info().Msg("specialty pack cache cleared")
	s.publish(context.Background(), websocket.Event{Type: EventCacheCleared, Topic: websocket.TopicPacks})
}

func (s *Service) CacheStats() CacheStats {
	return s.loader.Cache().Stats()
}
