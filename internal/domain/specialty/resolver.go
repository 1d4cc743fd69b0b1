package specialty

import (
	"context"

	"github.com/google/uuid"
)

// ResolveContext materializes the effective packs for an org, optionally
// narrowed to a location or department. A pack that fails to load is logged
// and left out; repository failures are returned.
func (s *Service) ResolveContext(ctx context.Context, orgID uuid.UUID, locationID, departmentID *uuid.UUID) (*ResolvedContext, error) {
	scope, ref := DeriveScope(locationID, departmentID)

	settings, err := s.GetEnabled(ctx, orgID, scope, ref)
	if err != nil {
		return nil, err
	}

	rc := &ResolvedContext{
		OrgID:        orgID,
		LocationID:   locationID,
		DepartmentID: departmentID,
		Scope:        scope,
		ScopeRefID:   ref,
		Packs:        make([]ResolvedPack, 0, len(settings)),
	}

	for _, st := range settings {
		pack, err := s.loader.Load(ctx, st.PackSlug, st.PackVersion)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Error().Err(err).
				Str("org_id", orgID.String()).
				Str("pack", Key(st.PackSlug, st.PackVersion)).
				Msg("failed to load pack for context")
			continue
		}
		overrides := st.Overrides
		if len(overrides) == 0 {
			overrides = emptyObject
		}
		rc.Packs = append(rc.Packs, ResolvedPack{
			CompiledPack:  pack,
			Overrides:     overrides,
			ResolvedScope: st.Scope,
		})
	}

	return rc, nil
}
