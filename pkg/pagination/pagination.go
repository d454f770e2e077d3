package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const MaxLimit = 100

// Per-endpoint defaults for recent-N listings.
const (
	DefaultRecentPatients      = 3
	DefaultRecentPrescriptions = 2
	DefaultAccessLogs          = 10
)

// Limit reads the "limit" query parameter. Missing, non-numeric or
// non-positive values yield def; values above MaxLimit are capped.
func Limit(c echo.Context, def int) int {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		limit = def
	}
	return Clamp(limit)
}

// Clamp bounds n to [0, MaxLimit].
func Clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}
