package specialty

import (
	"context"

	"github.com/google/uuid"
)

// CandidateQuery selects the settings that may apply at a scope: the org-wide
// rows plus the rows at exactly Scope/ScopeRefID.
type CandidateQuery struct {
	OrgID       uuid.UUID
	Scope       Scope
	ScopeRefID  *uuid.UUID
	EnabledOnly bool
}

type SettingRepository interface {
	ListCandidates(ctx context.Context, q CandidateQuery) ([]*Setting, error)
	ListByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*Setting, int, error)
	Upsert(ctx context.Context, req EnableRequest) (*Setting, error)
	Disable(ctx context.Context, req DisableRequest) (*Setting, error)
	AuditHistory(ctx context.Context, orgID uuid.UUID, slug *string, limit int) ([]*AuditEntry, error)
}
