package config

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
	BackendLevelDB  = "leveldb"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	StoreBackend         string        `mapstructure:"STORE_BACKEND"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	BlobBackend          string        `mapstructure:"BLOB_BACKEND"`
	S3Bucket             string        `mapstructure:"S3_BUCKET"`
	S3Prefix             string        `mapstructure:"S3_PREFIX"`
	AnchorBackend        string        `mapstructure:"ANCHOR_BACKEND"`
	AnchorLedgerPath     string        `mapstructure:"ANCHOR_LEDGER_PATH"`
	OCRCommand           string        `mapstructure:"OCR_COMMAND"`
	SummarizerCommand    string        `mapstructure:"SUMMARIZER_COMMAND"`
	CollaboratorTimeout  time.Duration `mapstructure:"COLLABORATOR_TIMEOUT"`
	AuthSigningKey       string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthTokenTTL         time.Duration `mapstructure:"AUTH_TOKEN_TTL"`
	ClinicianBroadAccess bool          `mapstructure:"CLINICIAN_BROAD_ACCESS"`
	SurgeryTemplatesFile string        `mapstructure:"SURGERY_TEMPLATES_FILE"`
	SeedDemoData         string        `mapstructure:"SEED_DEMO_DATA"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS         float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst       int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit            string        `mapstructure:"BODY_LIMIT"`
	UploadLimit          string        `mapstructure:"UPLOAD_LIMIT"`
}

var keys = []string{
	"PORT", "ENV",
	"STORE_BACKEND", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"BLOB_BACKEND", "S3_BUCKET", "S3_PREFIX",
	"ANCHOR_BACKEND", "ANCHOR_LEDGER_PATH",
	"OCR_COMMAND", "SUMMARIZER_COMMAND", "COLLABORATOR_TIMEOUT",
	"AUTH_SIGNING_KEY", "AUTH_TOKEN_TTL",
	"CLINICIAN_BROAD_ACCESS", "SURGERY_TEMPLATES_FILE", "SEED_DEMO_DATA",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"BODY_LIMIT", "UPLOAD_LIMIT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_BACKEND", BackendMemory)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("BLOB_BACKEND", BackendMemory)
	v.SetDefault("S3_PREFIX", "medrecords/")
	v.SetDefault("ANCHOR_BACKEND", BackendMemory)
	v.SetDefault("ANCHOR_LEDGER_PATH", "./data/anchor-ledger")
	v.SetDefault("COLLABORATOR_TIMEOUT", "30s")
	v.SetDefault("AUTH_TOKEN_TTL", "12h")
	v.SetDefault("CLINICIAN_BROAD_ACCESS", true)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("UPLOAD_LIMIT", "25M")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	cfg.BlobBackend = strings.ToLower(cfg.BlobBackend)
	cfg.AnchorBackend = strings.ToLower(cfg.AnchorBackend)

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Unauthenticated requests are served as the demo doctor account.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ShouldSeed reports whether demo data is loaded at startup. It defaults to
// on in development and off elsewhere.
func (c *Config) ShouldSeed() bool {
	if c.SeedDemoData == "" {
		return c.IsDev()
	}
	b, err := strconv.ParseBool(c.SeedDemoData)
	return err == nil && b
}

// SigningKey returns the token signing key. Development falls back to a
// fixed key so tokens survive restarts.
func (c *Config) SigningKey() []byte {
	if c.AuthSigningKey == "" && c.IsDev() {
		return []byte("medrecords-development-signing-key")
	}
	return []byte(c.AuthSigningKey)
}

// Validate rejects inconsistent backend and security settings.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is %q", BackendPostgres)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendMemory, BackendPostgres, c.StoreBackend)
	}

	switch c.BlobBackend {
	case BackendMemory:
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when BLOB_BACKEND is %q", BackendS3)
		}
	default:
		return fmt.Errorf("BLOB_BACKEND must be %q or %q, got %q", BackendMemory, BackendS3, c.BlobBackend)
	}

	switch c.AnchorBackend {
	case BackendMemory:
	case BackendLevelDB:
		if c.AnchorLedgerPath == "" {
			return fmt.Errorf("ANCHOR_LEDGER_PATH is required when ANCHOR_BACKEND is %q", BackendLevelDB)
		}
	default:
		return fmt.Errorf("ANCHOR_BACKEND must be %q or %q, got %q", BackendMemory, BackendLevelDB, c.AnchorBackend)
	}

	if !c.IsDev() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY of at least 32 bytes is required outside development")
	}
	if c.CollaboratorTimeout <= 0 {
		return fmt.Errorf("COLLABORATOR_TIMEOUT must be positive")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
