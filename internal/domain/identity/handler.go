package identity

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/medrecords/internal/domain/access"
	"github.com/ehr/medrecords/internal/platform/auth"
	"github.com/ehr/medrecords/pkg/pagination"
)

type Handler struct {
	svc    *Service
	authz  *access.Authority
	tokens *auth.TokenIssuer
}

func NewHandler(svc *Service, authz *access.Authority, tokens *auth.TokenIssuer) *Handler {
	return &Handler{svc: svc, authz: authz, tokens: tokens}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/login", h.Login)

	// Staff endpoints – doctors only
	staff := api.Group("", auth.RequireRole(auth.RoleDoctor))
	staff.POST("/users", h.CreateUser)
	staff.GET("/users/:id", h.GetUser)
	staff.GET("/users/by-username/:username", h.GetUserByUsername)
	staff.GET("/patients", h.ListPatients)
	staff.GET("/patients/recent", h.RecentPatients)
	staff.GET("/patients/by-code/:code", h.GetPatientByCode)
	staff.POST("/patients", h.CreatePatient)

	// Read endpoints – doctors and patients, subject to the access authority
	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	read.GET("/patients/:id", h.GetPatient)

	self := api.Group("", auth.RequireRole(auth.RolePatient))
	self.GET("/my-patient-profile", h.MyPatientProfile)
}

// -- Authentication --

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	*User
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil || req.Username == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}
	u, err := h.svc.Authenticate(c.Request().Context(), req.Username, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if err != nil {
		return err
	}
	token, exp, err := h.tokens.Issue(u.ID, u.Role, u.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, loginResponse{User: u, Token: token, ExpiresAt: exp})
}

// -- Users --

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

func (h *Handler) CreateUser(c echo.Context) error {
	var req createUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user data")
	}
	u := &User{Username: req.Username, Name: req.Name, Role: req.Role}
	if err := h.svc.CreateUser(c.Request().Context(), u, req.Password); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) GetUser(c echo.Context) error {
	id, err := access.ParseID(c, "id")
	if err != nil {
		return err
	}
	u, err := h.svc.GetUser(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) GetUserByUsername(c echo.Context) error {
	u, err := h.svc.GetUserByUsername(c.Request().Context(), c.Param("username"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

// -- Patients --

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient data")
	}
	p.ID = 0
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := access.ParseID(c, "id")
	if err != nil {
		return err
	}
	if err := access.RequirePatientAccess(c, h.authz, id, access.RecordTypePatient); err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetPatientByCode(c echo.Context) error {
	p, err := h.svc.GetPatientByCode(c.Request().Context(), c.Param("code"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	patients, err := h.svc.ListPatients(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, patients)
}

func (h *Handler) RecentPatients(c echo.Context) error {
	patients, err := h.svc.RecentPatients(c.Request().Context(), pagination.Limit(c, pagination.DefaultRecentPatients))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, patients)
}

func (h *Handler) MyPatientProfile(c echo.Context) error {
	p, err := h.svc.GetPatientByUser(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}
