package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/medrecords/internal/config"
	"github.com/ehr/medrecords/internal/domain/access"
	"github.com/ehr/medrecords/internal/domain/identity"
	"github.com/ehr/medrecords/internal/domain/records"
	"github.com/ehr/medrecords/internal/platform/anchor"
	"github.com/ehr/medrecords/internal/platform/auth"
	"github.com/ehr/medrecords/internal/platform/blobstore"
	"github.com/ehr/medrecords/internal/platform/db"
	"github.com/ehr/medrecords/internal/platform/docai"
	"github.com/ehr/medrecords/internal/platform/middleware"
	"github.com/ehr/medrecords/internal/store"
)

// devIdentity serves unauthenticated requests in development: the seeded
// demo doctor.
var devIdentity = auth.Identity{UserID: 1, Role: auth.RoleDoctor}

// app holds the wired services of one server process.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	pool   *pgxpool.Pool
	store  *store.Store
	ledger *anchor.Ledger
	tokens *auth.TokenIssuer

	recorder *access.Recorder
	authz    *access.Authority
	identity *identity.Service
	records  *records.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// Entity store
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.pool = pool
		a.store = store.NewPostgres(pool)
		logger.Info().Msg("connected to database")
	default:
		a.store = store.NewMemory()
		logger.Warn().Msg("using in-memory store; data is lost on restart")
	}

	// File store
	var files blobstore.Store
	switch cfg.BlobBackend {
	case config.BackendS3:
		s3, err := blobstore.NewS3StoreFromEnv(ctx, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return nil, fmt.Errorf("configure s3: %w", err)
		}
		files = s3
	default:
		files = blobstore.NewInMemory()
	}

	// Verification ledger
	switch cfg.AnchorBackend {
	case config.BackendLevelDB:
		backend, err := anchor.OpenLevelDB(cfg.AnchorLedgerPath)
		if err != nil {
			return nil, fmt.Errorf("open anchor ledger: %w", err)
		}
		a.ledger = anchor.NewLedger(backend)
	default:
		a.ledger = anchor.NewLedger(anchor.NewMemoryBackend())
	}

	// Document tools
	var ocr docai.OCR = docai.Disabled{}
	if cmd, found := docai.ParseCommand(cfg.OCRCommand); found {
		ocr = docai.NewCommandOCR(cmd)
	} else {
		logger.Warn().Msg("OCR_COMMAND not set; prescription OCR is unavailable")
	}
	var summarizer docai.Summarizer = docai.Disabled{}
	if cmd, found := docai.ParseCommand(cfg.SummarizerCommand); found {
		summarizer = docai.NewCommandSummarizer(cmd)
	} else {
		logger.Warn().Msg("SUMMARIZER_COMMAND not set; server-side summaries are unavailable")
	}

	templates, err := config.LoadSurgeryTemplates(cfg.SurgeryTemplatesFile)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokenIssuer(auth.JWTConfig{
		Issuer:     "medrecords",
		SigningKey: cfg.SigningKey(),
		TTL:        cfg.AuthTokenTTL,
	})
	if err != nil {
		return nil, err
	}
	a.tokens = tokens

	// Services
	a.recorder = access.NewRecorder(a.store.AccessLogs)
	a.identity = identity.NewService(a.store.Users, a.store.Patients, a.recorder)
	a.authz = access.NewAuthority(a.store.Permissions, a.identity, access.Policy{
		ClinicianBroadAccess: cfg.ClinicianBroadAccess,
	})
	a.records = records.NewService(records.Deps{
		MedicalRecords:      a.store.MedicalRecords,
		Prescriptions:       a.store.Prescriptions,
		SurgeryDocuments:    a.store.SurgeryDocuments,
		Patients:            a.identity,
		Recorder:            a.recorder,
		Tx:                  a.store.Tx,
		Files:               files,
		Summarizer:          summarizer,
		OCR:                 ocr,
		Anchor:              a.ledger,
		Logger:              logger,
		CollaboratorTimeout: cfg.CollaboratorTimeout,
		SurgeryTemplates:    templates,
	})

	ok = true
	return a, nil
}

// router builds the HTTP server with all middleware and routes.
func (a *app) router() *echo.Echo {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadLimit, "/api/medical-records", "/api/prescriptions"))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(a.tokens, devIdentity))
	} else {
		e.Use(auth.JWTMiddleware(a.tokens, auth.AuthSkipper))
	}

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// Health checks
	checks := []db.HealthCheck{{
		Name: "anchor",
		Probe: func(ctx context.Context) error {
			_, _, err := a.ledger.Head(ctx)
			return err
		},
	}}
	if a.pool != nil {
		checks = append(checks, db.PoolCheck(a.pool))
		e.GET("/health/db", db.HealthHandler(version, db.PoolCheck(a.pool)))
	}
	e.GET("/health", db.HealthHandler(version, checks...))

	// API
	api := e.Group("/api")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))

	identity.NewHandler(a.identity, a.authz, a.tokens).RegisterRoutes(api)
	access.NewHandler(a.authz, a.recorder).RegisterRoutes(api)
	records.NewHandler(a.records, a.authz).RegisterRoutes(api)

	return e
}

func (a *app) Close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Error().Err(err).Msg("failed to close anchor ledger")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
