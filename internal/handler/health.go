package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// HealthHandler reports whether the process and its stores are reachable.
type HealthHandler struct {
	DB    *sql.DB
	Redis redis.Cmdable
}

// Health answers 200 "ok" when MySQL and Redis respond to a ping within a
// second, 503 otherwise.  A nil store is skipped.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second)
	defer cancel()
	if h.DB != nil {
		if err := h.DB.PingContext(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded", "mysql": err.Error()})
		}
	}
	if h.Redis != nil {
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded", "redis": err.Error()})
		}
	}
	return c.String(http.StatusOK, "ok")
}
