package handlers

import (
	"context"
	"time"

	"pathfinder/internal/database"
	"pathfinder/internal/services"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	connManager *services.ConnectionManager
	sessions    *services.SessionService
	db          *database.DB           // optional
	redis       *services.RedisService // optional
}

// NewHealthHandler creates a new health handler. db and redis may be nil.
func NewHealthHandler(connManager *services.ConnectionManager, sessions *services.SessionService, db *database.DB, redis *services.RedisService) *HealthHandler {
	return &HealthHandler{
		connManager: connManager,
		sessions:    sessions,
		db:          db,
		redis:       redis,
	}
}

// Handle responds with server health status.
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	components := fiber.Map{}

	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			components["database"] = "unhealthy"
		} else {
			components["database"] = "healthy"
		}
	} else {
		components["database"] = "disabled"
	}

	if h.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.redis.Ping(ctx); err != nil {
			components["redis"] = "unhealthy"
		} else {
			components["redis"] = "healthy"
		}
	} else {
		components["redis"] = "disabled"
	}

	return c.JSON(fiber.Map{
		"status":      "healthy",
		"connections": h.connManager.Count(),
		"sessions":    h.sessions.Count(),
		"components":  components,
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}
