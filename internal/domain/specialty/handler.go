package specialty

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/specialty/internal/platform/auth"
	"github.com/ehr/specialty/internal/platform/websocket"
	"github.com/ehr/specialty/pkg/pagination"
)

// ManagePermission grants access to the specialty admin routes.
const ManagePermission = "org:manage_specialties"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/specialties")
	g.GET("/context", h.GetContext)
	g.GET("/packs", h.ListEnabledPacks)
	g.GET("/packs/:slug", h.GetPack)
	g.GET("/packs/:slug/components", h.GetPackComponents)
	g.GET("/catalog", h.SearchCatalog)

	admin := g.Group("/admin", auth.RequirePermission(ManagePermission))
	admin.GET("/orgs/:orgId/specialties", h.ListOrgSettings)
	admin.PUT("/orgs/:orgId/specialties", h.UpdateOrgSettings)
	admin.GET("/orgs/:orgId/specialties/settings", h.PageOrgSettings)
	admin.GET("/orgs/:orgId/specialties/history", h.OrgHistory)
	admin.GET("/orgs/:orgId/specialties/:slug/history", h.PackHistory)

	// The pack cache is shared by every org on the instance.
	system := admin.Group("/specialties", auth.RequireRole("admin"))
	system.POST("/packs/:slug/reload", h.ReloadPack)
	system.GET("/cache/stats", h.CacheStats)
	system.DELETE("/cache", h.ClearCache)
}

// -- Resolution --

func (h *Handler) GetContext(c echo.Context) error {
	orgID, err := callerOrgID(c)
	if err != nil {
		return err
	}
	locationID, err := optionalUUID(c.Request().Header.Get("X-Location-ID"), "X-Location-ID")
	if err != nil {
		return err
	}
	departmentID, err := optionalUUID(c.Request().Header.Get("X-Department-ID"), "X-Department-ID")
	if err != nil {
		return err
	}

	rc, err := h.svc.ResolveContext(c.Request().Context(), orgID, locationID, departmentID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rc)
}

func (h *Handler) ListEnabledPacks(c echo.Context) error {
	orgID, err := callerOrgID(c)
	if err != nil {
		return err
	}
	scope, ref, err := scopeFromRequest(c)
	if err != nil {
		return err
	}

	packs, err := h.svc.GetEnabled(c.Request().Context(), orgID, scope, ref)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"packs":      packs,
		"scope":      scope,
		"scopeRefId": ref,
	})
}

func (h *Handler) GetPack(c echo.Context) error {
	if _, err := callerOrgID(c); err != nil {
		return err
	}
	pack, err := h.svc.LoadPack(c.Request().Context(), c.Param("slug"), c.QueryParam("version"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pack)
}

func (h *Handler) GetPackComponents(c echo.Context) error {
	if _, err := callerOrgID(c); err != nil {
		return err
	}
	pack, err := h.svc.LoadPack(c.Request().Context(), c.Param("slug"), c.QueryParam("version"))
	if err != nil {
		return httpError(err)
	}

	resp := map[string]interface{}{
		"slug":    pack.Slug,
		"version": pack.Version,
	}
	switch c.QueryParam("component") {
	case "templates":
		resp["templates"] = pack.Templates
	case "visitTypes":
		resp["visitTypes"] = pack.VisitTypes
	case "workflows":
		resp["workflows"] = pack.Workflows
	case "reports":
		resp["reports"] = pack.Reports
	default:
		resp["templates"] = pack.Templates
		resp["visitTypes"] = pack.VisitTypes
		resp["workflows"] = pack.Workflows
		resp["reports"] = pack.Reports
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) SearchCatalog(c echo.Context) error {
	entries, err := h.svc.Catalog().Search(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"packs": entries})
}

// -- Admin --

func (h *Handler) ListOrgSettings(c echo.Context) error {
	orgID, err := authorizeOrg(c)
	if err != nil {
		return err
	}
	scope, err := ParseScope(c.QueryParam("scope"))
	if err != nil {
		return httpError(err)
	}
	ref, err := optionalUUID(c.QueryParam("scopeRefId"), "scopeRefId")
	if err != nil {
		return err
	}

	settings, err := h.svc.GetAll(c.Request().Context(), orgID, scope, ref)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"orgId": orgID,
		"packs": settings,
	})
}

func (h *Handler) PageOrgSettings(c echo.Context) error {
	orgID, err := authorizeOrg(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListSettings(c.Request().Context(), orgID, p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset).WithLinks(c.Request().URL))
}

type batchItem struct {
	Slug       string          `json:"slug"`
	Version    string          `json:"version"`
	Scope      string          `json:"scope"`
	ScopeRefID *uuid.UUID      `json:"scopeRefId"`
	Overrides  json.RawMessage `json:"overrides"`
}

type batchRequest struct {
	Enable  []batchItem `json:"enable"`
	Disable []batchItem `json:"disable"`
}

type batchError struct {
	Action string `json:"action"`
	Slug   string `json:"slug"`
	Error  string `json:"error"`
}

type batchResult struct {
	Success  bool         `json:"success"`
	Enabled  []*Setting   `json:"enabled"`
	Disabled []*Setting   `json:"disabled"`
	Errors   []batchError `json:"errors"`
}

// UpdateOrgSettings applies a batch of enables then disables. Items fail
// independently; any failure turns the response into 207.
func (h *Handler) UpdateOrgSettings(c echo.Context) error {
	orgID, err := authorizeOrg(c)
	if err != nil {
		return err
	}
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	res := batchResult{Enabled: []*Setting{}, Disabled: []*Setting{}, Errors: []batchError{}}

	for _, item := range req.Enable {
		setting, err := h.enableItem(ctx, orgID, userID, item)
		if err != nil {
			res.Errors = append(res.Errors, h.batchFailure("enable", item.Slug, err))
			continue
		}
		res.Enabled = append(res.Enabled, setting)
	}
	for _, item := range req.Disable {
		setting, err := h.disableItem(ctx, orgID, userID, item)
		if err != nil {
			res.Errors = append(res.Errors, h.batchFailure("disable", item.Slug, err))
			continue
		}
		res.Disabled = append(res.Disabled, setting)
	}

	res.Success = len(res.Errors) == 0
	status := http.StatusOK
	if !res.Success {
		status = http.StatusMultiStatus
	}
	return c.JSON(status, res)
}

// batchFailure reports a failed batch item. Caller mistakes keep their
// message; storage and unknown failures are logged and reported generically.
func (h *Handler) batchFailure(action, slug string, err error) batchError {
	out := batchError{Action: action, Slug: slug, Error: err.Error()}
	var mie *ManifestInvalidError
	var dme *DependencyMissingError
	switch {
	case errors.As(err, &mie), errors.As(err, &dme),
		errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrPackNotFound), errors.Is(err, ErrSettingNotFound):
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		out.Error = "request cancelled"
	default:
		h.svc.logger.Error().Err(err).Str("action", action).Str("slug", slug).Msg("batch item failed")
		out.Error = "specialty registry failure"
	}
	return out
}

func (h *Handler) enableItem(ctx context.Context, orgID uuid.UUID, userID string, item batchItem) (*Setting, error) {
	scope, err := ParseScope(item.Scope)
	if err != nil {
		return nil, err
	}
	return h.svc.Enable(ctx, EnableRequest{
		OrgID:      orgID,
		Slug:       item.Slug,
		Version:    item.Version,
		Scope:      scope,
		ScopeRefID: item.ScopeRefID,
		UserID:     userID,
		Overrides:  item.Overrides,
	})
}

func (h *Handler) disableItem(ctx context.Context, orgID uuid.UUID, userID string, item batchItem) (*Setting, error) {
	scope, err := ParseScope(item.Scope)
	if err != nil {
		return nil, err
	}
	return h.svc.Disable(ctx, DisableRequest{
		OrgID:      orgID,
		Slug:       item.Slug,
		Scope:      scope,
		ScopeRefID: item.ScopeRefID,
		UserID:     userID,
	})
}

func (h *Handler) OrgHistory(c echo.Context) error {
	orgID, err := authorizeOrg(c)
	if err != nil {
		return err
	}
	history, err := h.svc.AuditHistory(c.Request().Context(), orgID, nil, historyLimit(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"orgId":   orgID,
		"history": history,
	})
}

func (h *Handler) PackHistory(c echo.Context) error {
	orgID, err := authorizeOrg(c)
	if err != nil {
		return err
	}
	slug := c.Param("slug")
	history, err := h.svc.AuditHistory(c.Request().Context(), orgID, &slug, historyLimit(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"orgId":    orgID,
		"packSlug": slug,
		"history":  history,
	})
}

func (h *Handler) ReloadPack(c echo.Context) error {
	var body struct {
		Version string `json:"version"`
	}
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	if body.Version == "" {
		body.Version = c.QueryParam("version")
	}

	pack, err := h.svc.ReloadPack(c.Request().Context(), c.Param("slug"), body.Version)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "pack " + pack.Key() + " reloaded",
		"pack": map[string]interface{}{
			"slug":         pack.Slug,
			"version":      pack.Version,
			"dependencies": pack.Dependencies,
		},
	})
}

func (h *Handler) CacheStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"cache": h.svc.CacheStats()})
}

func (h *Handler) ClearCache(c echo.Context) error {
	h.svc.ClearCache()
	return c.JSON(http.StatusOK, map[string]interface{}{"message": "pack cache cleared"})
}

// -- helpers --

// callerOrgID returns the org the caller acts for. A token org claim wins; the
// X-Org-ID header must agree with it when both are present.
func callerOrgID(c echo.Context) (uuid.UUID, error) {
	header := c.Request().Header.Get("X-Org-ID")
	claim := auth.OrgIDFromContext(c.Request().Context())
	if claim != "" && header != "" && claim != header {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "access denied to this organization")
	}
	raw := claim
	if raw == "" {
		raw = header
	}
	if raw == "" {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "organization id required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid organization id")
	}
	return id, nil
}

// EventTopics limits an event stream connection to the packs topic and the
// caller's own org topic.
func EventTopics(c echo.Context) (websocket.TopicFilter, error) {
	orgID, err := callerOrgID(c)
	if err != nil {
		return nil, err
	}
	own := websocket.OrgTopic(orgID.String())
	return func(topic string) bool {
		return topic == websocket.TopicPacks || topic == own
	}, nil
}

// authorizeOrg checks the :orgId path parameter against the caller's org.
func authorizeOrg(c echo.Context) (uuid.UUID, error) {
	requested, err := uuid.Parse(c.Param("orgId"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid organization id")
	}
	caller, err := callerOrgID(c)
	if err != nil {
		return uuid.Nil, err
	}
	if requested != caller {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "access denied to this organization")
	}
	return requested, nil
}

func optionalUUID(raw, name string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

// scopeFromRequest uses explicit scope/scopeRefId query parameters when given,
// otherwise derives the scope from the location and department headers.
func scopeFromRequest(c echo.Context) (Scope, *uuid.UUID, error) {
	if q := c.QueryParam("scope"); q != "" {
		scope, err := ParseScope(q)
		if err != nil {
			return "", nil, httpError(err)
		}
		ref, err := optionalUUID(c.QueryParam("scopeRefId"), "scopeRefId")
		return scope, ref, err
	}
	locationID, err := optionalUUID(c.Request().Header.Get("X-Location-ID"), "X-Location-ID")
	if err != nil {
		return "", nil, err
	}
	departmentID, err := optionalUUID(c.Request().Header.Get("X-Department-ID"), "X-Department-ID")
	if err != nil {
		return "", nil, err
	}
	scope, ref := DeriveScope(locationID, departmentID)
	return scope, ref, nil
}

func historyLimit(c echo.Context) int {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	return limit
}

// httpError maps registry errors onto HTTP status codes.
func httpError(err error) error {
	var mie *ManifestInvalidError
	var dme *DependencyMissingError
	switch {
	case errors.As(err, &mie):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"error":      mie.Error(),
			"violations": mie.Violations,
		})
	case errors.As(err, &dme):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"error":   dme.Error(),
			"missing": dme.Missing,
		})
	case errors.Is(err, ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrPackNotFound), errors.Is(err, ErrSettingNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "request cancelled")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "specialty registry failure").SetInternal(err)
}
