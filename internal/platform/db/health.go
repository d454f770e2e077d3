package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireDuration string `json:"acquire_duration"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// HealthCheck is one named probe reported by HealthHandler. Stats, when
// set, is reported under "stats" next to the probe result.
type HealthCheck struct {
	Name  string
	Probe func(ctx context.Context) error
	Stats func() interface{}
}

// PoolCheck probes a Postgres pool and reports its connection statistics.
func PoolCheck(pool *pgxpool.Pool) HealthCheck {
	return HealthCheck{
		Name:  "database",
		Probe: pool.Ping,
		Stats: func() interface{} { return GetPoolStats(pool) },
	}
}

// HealthHandler runs every check with a short timeout and reports 503 if
// any of them fails.
func HealthHandler(version string, checks ...HealthCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		stats := make(map[string]interface{})
		for _, check := range checks {
			if check.Stats != nil {
				stats[check.Name] = check.Stats()
			}
			if err := check.Probe(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[check.Name] = err.Error()
				continue
			}
			results[check.Name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "unhealthy"
		}
		body := map[string]interface{}{
			"status":  overall,
			"version": version,
			"checks":  results,
		}
		if len(stats) > 0 {
			body["stats"] = stats
		}
		return c.JSON(status, body)
	}
}
