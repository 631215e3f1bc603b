package handlers

import (
	"errors"
	"log"

	"pathfinder/internal/database"
	"pathfinder/internal/services"

	"github.com/gofiber/fiber/v2"
)

// SessionHandler exposes the REST surface over sessions: snapshot export
// and explicit teardown.
type SessionHandler struct {
	sessions  *services.SessionService
	snapshots *database.SnapshotStore // optional
}

// NewSessionHandler creates a session handler. snapshots may be nil when
// persistence is disabled.
func NewSessionHandler(sessions *services.SessionService, snapshots *database.SnapshotStore) *SessionHandler {
	return &SessionHandler{sessions: sessions, snapshots: snapshots}
}

// GetSnapshot returns the full serializable state of a session. Live
// sessions are snapshotted on the fly; ended ones are served from storage.
func (h *SessionHandler) GetSnapshot(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	if rt, ok := h.sessions.Get(sessionID); ok {
		return c.JSON(h.sessions.Snapshot(rt))
	}

	if h.snapshots != nil {
		data, err := h.snapshots.LoadSnapshot(c.Context(), sessionID)
		if errors.Is(err, database.ErrSnapshotNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
		}
		if err != nil {
			log.Printf("⚠️ [SESSION] Snapshot load failed for %s: %v", sessionID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load snapshot"})
		}
		c.Set("Content-Type", "application/json")
		return c.Send(data)
	}

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
}

// EndSession terminates a live session.
func (h *SessionHandler) EndSession(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if _, ok := h.sessions.Get(sessionID); !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
	}
	h.sessions.End(sessionID)
	return c.JSON(fiber.Map{"status": "ended", "session_id": sessionID})
}
