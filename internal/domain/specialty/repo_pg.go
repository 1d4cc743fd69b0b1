package specialty

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/specialty/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type settingRepoPG struct{ pool *pgxpool.Pool }

func NewSettingRepoPG(pool *pgxpool.Pool) SettingRepository {
	return &settingRepoPG{pool: pool}
}

func (r *settingRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const settingCols = `id, org_id, pack_slug, pack_version, enabled, scope, scope_ref_id,
	overrides, created_by, updated_by, created_at, updated_at`

// upsertSettingSQL targets uq_org_specialty_settings_key. The index is
// NULLS NOT DISTINCT, so org-wide rows conflict on a NULL scope_ref_id too.
const upsertSettingSQL = `
	INSERT INTO org_specialty_settings (
		id, org_id, pack_slug, pack_version, enabled, scope, scope_ref_id,
		overrides, created_by, updated_by)
	VALUES ($1, $2, $3, $4, true, $5, $6, $7, $8, $8)
	ON CONFLICT (org_id, pack_slug, scope, scope_ref_id) DO UPDATE
	SET pack_version = EXCLUDED.pack_version,
		enabled = true,
		overrides = EXCLUDED.overrides,
		updated_by = EXCLUDED.updated_by,
		updated_at = NOW()
	RETURNING ` + settingCols

func scanSetting(row pgx.Row) (*Setting, error) {
	var s Setting
	var overrides []byte
	err := row.Scan(&s.ID, &s.OrgID, &s.PackSlug, &s.PackVersion, &s.Enabled, &s.Scope, &s.ScopeRefID,
		&overrides, &s.CreatedBy, &s.UpdatedBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Overrides = overrides
	return &s, nil
}

func collectSettings(rows pgx.Rows) ([]*Setting, error) {
	defer rows.Close()
	var items []*Setting
	for rows.Next() {
		s, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *settingRepoPG) ListCandidates(ctx context.Context, q CandidateQuery) ([]*Setting, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+settingCols+`
		FROM org_specialty_settings
		WHERE org_id = $1
			AND ($4 = false OR enabled = true)
			AND ((scope = 'org' AND scope_ref_id IS NULL)
				OR (scope = $2 AND scope_ref_id IS NOT DISTINCT FROM $3))
		ORDER BY pack_slug, updated_at DESC`,
		q.OrgID, string(q.Scope), q.ScopeRefID, q.EnabledOnly)
	if err != nil {
		return nil, storageErr("list candidate settings", err)
	}
	items, err := collectSettings(rows)
	if err != nil {
		return nil, storageErr("scan candidate settings", err)
	}
	return items, nil
}

func (r *settingRepoPG) ListByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*Setting, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM org_specialty_settings WHERE org_id = $1`, orgID).Scan(&total); err != nil {
		return nil, 0, storageErr("count settings", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+settingCols+`
		FROM org_specialty_settings
		WHERE org_id = $1
		ORDER BY pack_slug, scope, scope_ref_id NULLS FIRST
		LIMIT $2 OFFSET $3`, orgID, limit, offset)
	if err != nil {
		return nil, 0, storageErr("list settings", err)
	}
	items, err := collectSettings(rows)
	if err != nil {
		return nil, 0, storageErr("scan settings", err)
	}
	return items, total, nil
}

// Upsert inserts the setting or, when the key already exists, re-enables it
// with the new version and overrides. Concurrent first enables of the same key
// resolve to one row instead of a unique violation.
func (r *settingRepoPG) Upsert(ctx context.Context, req EnableRequest) (*Setting, error) {
	var out *Setting
	err := db.InTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		s, err := scanSetting(tx.QueryRow(ctx, upsertSettingSQL,
			uuid.New(), req.OrgID, req.Slug, req.Version, string(req.Scope), req.ScopeRefID,
			[]byte(req.Overrides), req.UserID))
		if err != nil {
			return fmt.Errorf("upsert setting: %w", err)
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, storageErr("enable pack", err)
	}
	return out, nil
}

func (r *settingRepoPG) Disable(ctx context.Context, req DisableRequest) (*Setting, error) {
	var out *Setting
	err := db.InTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		s, err := scanSetting(tx.QueryRow(ctx, `
			UPDATE org_specialty_settings
			SET enabled = false, updated_by = $5, updated_at = NOW()
			WHERE org_id = $1 AND pack_slug = $2 AND scope = $3
				AND scope_ref_id IS NOT DISTINCT FROM $4
			RETURNING `+settingCols,
			req.OrgID, req.Slug, string(req.Scope), req.ScopeRefID, req.UserID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSettingNotFound
		}
		if err != nil {
			return fmt.Errorf("disable setting: %w", err)
		}
		out = s
		return nil
	})
	if errors.Is(err, ErrSettingNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, storageErr("disable pack", err)
	}
	return out, nil
}

func (r *settingRepoPG) AuditHistory(ctx context.Context, orgID uuid.UUID, slug *string, limit int) ([]*AuditEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, org_id, pack_slug, pack_version, action, actor_id, scope, scope_ref_id,
			metadata, created_at
		FROM specialty_pack_audits
		WHERE org_id = $1 AND ($2::text IS NULL OR pack_slug = $2)
		ORDER BY created_at DESC
		LIMIT $3`, orgID, slug, limit)
	if err != nil {
		return nil, storageErr("query audit history", err)
	}
	defer rows.Close()

	var items []*AuditEntry
	for rows.Next() {
		var a AuditEntry
		var metadata []byte
		if err := rows.Scan(&a.ID, &a.OrgID, &a.PackSlug, &a.PackVersion, &a.Action, &a.ActorID,
			&a.Scope, &a.ScopeRefID, &metadata, &a.CreatedAt); err != nil {
			return nil, storageErr("scan audit entry", err)
		}
		a.Metadata = metadata
		items = append(items, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate audit history", err)
	}
	return items, nil
}
