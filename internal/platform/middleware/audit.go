package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/medrecords/internal/platform/auth"
)

// Audit emits a "phi_access" log line for every request under /api/ other
// than login. This is an operational trail; the durable per-record access
// log is written by the record services themselves. Handler errors are
// logged with the status ErrorHandler will render for them.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if err != nil {
				status, _ = ErrorResponse(err)
			}
			resource := resourceFromPath(path)
			ctx := req.Context()

			evt := logger.Info()
			if status == http.StatusForbidden || status == http.StatusUnauthorized {
				evt = logger.Warn()
			}
			evt.
				Str("type", "phi_access").
				Str("request_id", RequestIDFrom(c)).
				Int64("user_id", auth.UserIDFromContext(ctx)).
				Str("role", auth.RoleFromContext(ctx)).
				Str("resource", resource).
				Int64("patient_id", patientIDFromRequest(c, resource)).
				Str("action", httpMethodToAction(req.Method)).
				Str("method", req.Method).
				Str("path", path).
				Int("status", status).
				Str("ip", c.RealIP()).
				Str("user_agent", req.UserAgent()).
				Msg("phi access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/") && path != "/api/auth/login"
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	default:
		return "read"
	}
}

// resourceFromPath maps the first /api/ segment to a resource name:
//
//	/api/medical-records/3/verify -> medical_record
//	/api/patients/1/prescriptions -> patient
//	/api/my-medical-records       -> my_medical_records
func resourceFromPath(path string) string {
	seg := strings.SplitN(strings.TrimPrefix(path, "/api/"), "/", 2)[0]
	if seg == "" {
		return "unknown"
	}
	seg = strings.ReplaceAll(seg, "-", "_")
	if strings.HasPrefix(seg, "my_") {
		return seg
	}
	return strings.TrimSuffix(seg, "s")
}

// patientIDFromRequest reads the patient id from a /api/patients/:id route
// or from the patientId query parameter.
func patientIDFromRequest(c echo.Context, resource string) int64 {
	candidates := []string{c.QueryParam("patientId")}
	if resource == "patient" {
		candidates = append([]string{c.Param("id")}, candidates...)
	}
	for _, v := range candidates {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			return id
		}
	}
	return 0
}
