package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/medrecords/internal/config"
	"github.com/ehr/medrecords/internal/domain/identity"
)

func testConfig(env string) *config.Config {
	return &config.Config{
		Port:                 "0",
		Env:                  env,
		StoreBackend:         config.BackendMemory,
		BlobBackend:          config.BackendMemory,
		AnchorBackend:        config.BackendMemory,
		CollaboratorTimeout:  time.Second,
		AuthSigningKey:       "0123456789abcdef0123456789abcdef",
		AuthTokenTTL:         time.Hour,
		ClinicianBroadAccess: true,
		RateLimitRPS:         1000,
		RateLimitBurst:       1000,
		BodyLimit:            "1M",
		UploadLimit:          "25M",
	}
}

func newTestServer(t *testing.T, env string) *echo.Echo {
	t.Helper()
	ctx := context.Background()
	a, err := newApp(ctx, testConfig(env), zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.Close)
	if _, err := identity.Seed(ctx, a.identity); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return a.router()
}

func serve(e *echo.Echo, method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, e *echo.Echo, username string) string {
	t.Helper()
	rec := serve(e, http.MethodPost, "/api/auth/login", `{"username":"`+username+`","password":"password"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", username, rec.Code, rec.Body.String())
	}
	var body struct {
		Token string `json:"token"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	return body.Token
}

func TestServer_Health(t *testing.T) {
	e := newTestServer(t, "production")
	rec := serve(e, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"anchor":"ok"`) {
		t.Errorf("unexpected health body %s", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestServer_RequiresToken(t *testing.T) {
	e := newTestServer(t, "production")
	rec := serve(e, http.MethodGet, "/api/patients", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"kind":"unauthorized"`) {
		t.Errorf("unexpected error body %s", rec.Body.String())
	}

	token := login(t, e, "doctor")
	if rec := serve(e, http.MethodGet, "/api/patients", "", token); rec.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", rec.Code)
	}
}

func TestServer_RecordLifecycle(t *testing.T) {
	e := newTestServer(t, "production")
	doctor := login(t, e, "doctor")
	patient := login(t, e, "patient")

	rec := serve(e, http.MethodPost, "/api/medical-records", `{"patientId":1,"recordType":"Lab Results","content":{"ldl":"90"}}`, doctor)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(e, http.MethodPost, "/api/medical-records/1/verify", "", doctor)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"isVerified":true`) {
		t.Fatalf("verify: %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(e, http.MethodGet, "/api/my-medical-records", "", patient)
	if rec.Code != http.StatusOK {
		t.Fatalf("my records: %d %s", rec.Code, rec.Body.String())
	}
	var mine []map[string]any
	json.Unmarshal(rec.Body.Bytes(), &mine)
	if len(mine) != 1 {
		t.Errorf("expected 1 own record, got %d", len(mine))
	}

	rec = serve(e, http.MethodGet, "/api/access-logs/count", "", doctor)
	if !strings.Contains(rec.Body.String(), `"count":5`) {
		t.Errorf("expected 2 logins, create, verify and view: %s", rec.Body.String())
	}
}

func TestServer_ErrorKinds(t *testing.T) {
	e := newTestServer(t, "production")
	doctor := login(t, e, "doctor")

	tests := []struct {
		method, path, body string
		code               int
		kind               string
	}{
		{http.MethodGet, "/api/medical-records/999", "", http.StatusNotFound, "not_found"},
		{http.MethodPost, "/api/patients", `{"patientId":"P-2023-0456","name":"X","dateOfBirth":"2000-01-01","gender":"F"}`, http.StatusConflict, "conflict"},
		{http.MethodPost, "/api/prescriptions/1/process", "", http.StatusNotFound, "not_found"},
		{http.MethodPost, "/api/surgery-documents", `{"patientId":2}`, http.StatusBadRequest, "validation"},
	}
	for _, tt := range tests {
		rec := serve(e, tt.method, tt.path, tt.body, doctor)
		if rec.Code != tt.code || !strings.Contains(rec.Body.String(), `"kind":"`+tt.kind+`"`) {
			t.Errorf("%s %s: expected %d/%s, got %d %s", tt.method, tt.path, tt.code, tt.kind, rec.Code, rec.Body.String())
		}
	}
}

func TestServer_OCRUnavailable(t *testing.T) {
	e := newTestServer(t, "production")
	doctor := login(t, e, "doctor")

	rec := serve(e, http.MethodPost, "/api/prescriptions", `{"patientId":2,"imageType":"image/png","imageData":"aGVsbG8="}`, doctor)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	rec = serve(e, http.MethodPost, "/api/prescriptions/1/process", "", doctor)
	if rec.Code != http.StatusBadGateway || !strings.Contains(rec.Body.String(), `"collaborator":"ocr"`) {
		t.Errorf("expected 502 from ocr, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestServer_DevelopmentFallsBackToDemoDoctor(t *testing.T) {
	e := newTestServer(t, "development")
	if rec := serve(e, http.MethodGet, "/api/patients/recent", "", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200 as demo doctor, got %d", rec.Code)
	}
	if rec := serve(e, http.MethodGet, "/api/my-patient-profile", "", ""); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for doctor on patient endpoint, got %d", rec.Code)
	}
}
