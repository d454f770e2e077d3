package access

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/medrecords/internal/platform/auth"
	"github.com/ehr/medrecords/pkg/pagination"
)

type Handler struct {
	authz    *Authority
	recorder *Recorder
}

func NewHandler(authz *Authority, recorder *Recorder) *Handler {
	return &Handler{authz: authz, recorder: recorder}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Audit and permission administration – doctors only
	admin := api.Group("", auth.RequireRole(auth.RoleDoctor))
	admin.GET("/access-logs", h.ListAccessLogs)
	admin.GET("/access-logs/count", h.CountAccessLogs)
	admin.GET("/access-permissions", h.ListPermissions)
	admin.POST("/access-permissions", h.GrantPermission)
	admin.GET("/access-permissions/:id", h.GetPermission)
	admin.PATCH("/access-permissions/:id/status", h.SetPermissionStatus)

	// Patient-scoped listing – any role the authority admits
	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	read.GET("/patients/:id/access-permissions", h.ListPatientPermissions)
}

func (h *Handler) ListAccessLogs(c echo.Context) error {
	logs, err := h.recorder.ListRecent(c.Request().Context(), pagination.Limit(c, pagination.DefaultAccessLogs))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, logs)
}

func (h *Handler) CountAccessLogs(c echo.Context) error {
	n, err := h.recorder.Count(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"count": n})
}

func (h *Handler) ListPermissions(c echo.Context) error {
	views, err := h.authz.ListAllWithContext(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, views)
}

type grantRequest struct {
	PatientID  int64  `json:"patientId"`
	UserID     int64  `json:"userId"`
	RecordType string `json:"recordType"`
}

func (h *Handler) GrantPermission(c echo.Context) error {
	var req grantRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid permission data")
	}
	p := &AccessPermission{PatientID: req.PatientID, UserID: req.UserID, RecordType: req.RecordType}
	if err := h.authz.Grant(c.Request().Context(), p); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPermission(c echo.Context) error {
	id, err := ParseID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.authz.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

type statusRequest struct {
	IsActive *bool `json:"isActive"`
}

func (h *Handler) SetPermissionStatus(c echo.Context) error {
	id, err := ParseID(c, "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}
	if req.IsActive == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "isActive is required")
	}
	p, err := h.authz.SetActive(c.Request().Context(), id, *req.IsActive)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatientPermissions(c echo.Context) error {
	patientID, err := ParseID(c, "id")
	if err != nil {
		return err
	}
	if err := RequirePatientAccess(c, h.authz, patientID, RecordTypeAccessPermission); err != nil {
		return err
	}
	perms, err := h.authz.ListByPatient(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, perms)
}

// ParseID reads a positive integer path parameter.
func ParseID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func errNotAuthenticated() error {
	return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
}

func errPatientAccessDenied() error {
	return echo.NewHTTPError(http.StatusForbidden, "access to patient records denied")
}

// RequirePatientAccess consults authz for the caller of c and converts a
// denial into a 403. Access is granted if any of scopes admits the caller.
func RequirePatientAccess(c echo.Context, authz *Authority, patientID int64, scopes ...string) error {
	ctx := c.Request().Context()
	req, ok := RequesterFromContext(ctx)
	if !ok {
		return errNotAuthenticated()
	}
	if err := authz.Require(ctx, req, patientID, scopes...); err != nil {
		if errors.Is(err, ErrDenied) {
			return errPatientAccessDenied()
		}
		return err
	}
	return nil
}

// PatientRecordFilter authorizes a listing of patientID's records under
// scope. A caller admitted to the whole scope gets a nil filter. A caller
// holding grants only on individual clinical record types gets a filter
// that admits exactly those types; anyone else gets a 403.
func PatientRecordFilter(c echo.Context, authz *Authority, patientID int64, scope string) (func(recordType string) bool, error) {
	ctx := c.Request().Context()
	req, ok := RequesterFromContext(ctx)
	if !ok {
		return nil, errNotAuthenticated()
	}
	d, err := authz.Authorize(ctx, req, patientID, scope)
	if err != nil {
		return nil, err
	}
	if d.Allowed {
		return nil, nil
	}
	scopes, err := authz.ClinicalScopes(ctx, patientID, req.UserID)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		return nil, errPatientAccessDenied()
	}
	return func(recordType string) bool { return scopes[Scope(recordType)] }, nil
}
