package handlers

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"pathfinder/internal/logging"
	"pathfinder/internal/models"
	"pathfinder/internal/services"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// WebSocketHandler serves one transport channel. The text and voice
// endpoints each get their own instance; everything except the channel name
// and the model driver is shared, so a turn behaves identically on both.
type WebSocketHandler struct {
	channel      models.Channel
	driver       services.ModelDriver
	connManager  *services.ConnectionManager
	sessions     *services.SessionService
	orchestrator *services.Orchestrator
	enhancement  *services.EnhancementService
}

// NewWebSocketHandler creates the handler for one transport channel.
func NewWebSocketHandler(
	channel models.Channel,
	driver services.ModelDriver,
	connManager *services.ConnectionManager,
	sessions *services.SessionService,
	orchestrator *services.Orchestrator,
	enhancement *services.EnhancementService,
) *WebSocketHandler {
	return &WebSocketHandler{
		channel:      channel,
		driver:       driver,
		connManager:  connManager,
		sessions:     sessions,
		orchestrator: orchestrator,
		enhancement:  enhancement,
	}
}

// Handle runs one WebSocket connection: creates or reattaches a session,
// pumps messages, and detaches on disconnect. Disconnect ends the session
// only when no other connection is still attached to it; in-flight
// enhancement work for an ended session is cancelled, the shared market
// cache is not.
func (h *WebSocketHandler) Handle(c *websocket.Conn) {
	connID := uuid.New().String()
	done := make(chan struct{})

	userConn := &models.UserConnection{
		ConnID:    connID,
		Channel:   h.channel,
		Conn:      c,
		CreatedAt: time.Now(),
		WriteChan: make(chan models.ServerMessage, 100),
		StopChan:  make(chan bool, 1),
	}

	rt, resumed := h.attachSession(c, userConn)
	userConn.SessionID = rt.Session.ID

	sessionLog := logging.WithSession(rt.Session.ID, string(h.channel))
	sessionLog.Info("connection attached", "conn_id", connID, "resumed", resumed)

	h.connManager.Add(userConn)
	defer func() {
		close(done)
		rt.DetachEmitter(connID)
		h.connManager.Remove(connID)
		if !h.connManager.HasSession(rt.Session.ID) {
			h.sessions.End(rt.Session.ID)
		}
		sessionLog.Info("connection detached", "conn_id", connID)
	}()

	// Long tool executions can keep a turn busy for a while; generous read
	// deadline plus ping keeps the connection alive through them.
	c.SetReadDeadline(time.Now().Add(360 * time.Second))
	c.SetPongHandler(func(appData string) error {
		c.SetReadDeadline(time.Now().Add(360 * time.Second))
		return nil
	})

	go h.pingLoop(userConn, done)
	go h.writeLoop(userConn)

	rt.AttachEmitter(connID, func(msg models.ServerMessage) {
		userConn.SafeSend(msg)
	})

	content := "Session started. Ready for the first turn."
	if resumed {
		content = "Session resumed."
	}
	userConn.SafeSend(models.ServerMessage{
		Type:      "connected",
		SessionID: rt.Session.ID,
		Content:   content,
		Stage:     string(rt.Session.CurrentStage()),
	})

	h.readLoop(userConn, rt)
}

// attachSession resumes the session named in the session_id query parameter
// when it is still live on this channel, otherwise creates a fresh one.
func (h *WebSocketHandler) attachSession(c *websocket.Conn, userConn *models.UserConnection) (*services.SessionRuntime, bool) {
	if requested := c.Query("session_id"); requested != "" {
		if rt, ok := h.sessions.Get(requested); ok && rt.Session.Channel == h.channel {
			log.Printf("🔄 [WS] Connection %s resumed session %s", userConn.ConnID, requested)
			return rt, true
		}
		log.Printf("⚠️ [WS] Connection %s requested unknown session %s, creating new", userConn.ConnID, requested)
	}
	return h.sessions.Create(h.channel), false
}

func (h *WebSocketHandler) pingLoop(userConn *models.UserConnection, done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := userConn.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				log.Printf("⚠️ Ping failed for %s: %v", userConn.ConnID, err)
				return
			}
		}
	}
}

func (h *WebSocketHandler) writeLoop(userConn *models.UserConnection) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in writeLoop: %v", r)
		}
	}()

	for msg := range userConn.WriteChan {
		if err := userConn.Conn.WriteJSON(msg); err != nil {
			log.Printf("❌ WebSocket write error for %s: %v", userConn.ConnID, err)
			return
		}
	}
}

func (h *WebSocketHandler) readLoop(userConn *models.UserConnection, rt *services.SessionRuntime) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in readLoop: %v", r)
		}
	}()

	for {
		_, msg, err := userConn.Conn.ReadMessage()
		if err != nil {
			log.Printf("❌ WebSocket read error for %s: %v", userConn.ConnID, err)
			break
		}
		userConn.Conn.SetReadDeadline(time.Now().Add(360 * time.Second))

		var clientMsg models.ClientMessage
		if err := json.Unmarshal(msg, &clientMsg); err != nil {
			log.Printf("⚠️ Invalid message format from %s: %v", userConn.ConnID, err)
			userConn.SafeSend(models.ServerMessage{
				Type:         "error",
				ErrorCode:    "invalid_format",
				ErrorMessage: "Invalid message format",
			})
			continue
		}

		switch clientMsg.Type {
		case "ping":
			userConn.SafeSend(models.ServerMessage{Type: "pong"})
		case "user_turn":
			h.handleUserTurn(userConn, rt, clientMsg)
		case "ready_to_finish":
			h.handleReadyToFinish(userConn, rt)
		case "clear_cache":
			h.handleClearCache(userConn, rt)
		default:
			log.Printf("⚠️ Unknown message type from %s: %s", userConn.ConnID, clientMsg.Type)
		}
	}
}

// handleUserTurn runs one conversational turn. Turns on one connection are
// processed in arrival order; the read loop blocks until the reply is out.
func (h *WebSocketHandler) handleUserTurn(userConn *models.UserConnection, rt *services.SessionRuntime, clientMsg models.ClientMessage) {
	text := strings.TrimSpace(clientMsg.Content)
	if text == "" {
		userConn.SafeSend(models.ServerMessage{
			Type:         "error",
			SessionID:    rt.Session.ID,
			ErrorCode:    "empty_turn",
			ErrorMessage: "Turn content is empty",
		})
		return
	}

	ctx, cancel := context.WithTimeout(rt.Context(), 5*time.Minute)
	defer cancel()

	reply := h.orchestrator.ProcessTurn(ctx, rt, h.driver, text)
	userConn.SafeSend(models.ServerMessage{
		Type:      "assistant_turn",
		SessionID: rt.Session.ID,
		Content:   reply,
		Stage:     string(rt.Session.CurrentStage()),
	})
}

func (h *WebSocketHandler) handleReadyToFinish(userConn *models.UserConnection, rt *services.SessionRuntime) {
	stage := h.orchestrator.FinishSession(rt)
	msgType := "stage_change"
	if stage == models.StageComplete {
		msgType = "session_complete"
	}
	userConn.SafeSend(models.ServerMessage{
		Type:      msgType,
		SessionID: rt.Session.ID,
		Stage:     string(stage),
	})
}

func (h *WebSocketHandler) handleClearCache(userConn *models.UserConnection, rt *services.SessionRuntime) {
	h.enhancement.ClearCache("")
	log.Printf("🧹 [WS] Market cache cleared by %s", userConn.ConnID)
	userConn.SafeSend(models.ServerMessage{
		Type:      "tool_result",
		SessionID: rt.Session.ID,
		ToolName:  "clear_cache",
		Status:    "completed",
		Result:    "Market data cache cleared",
	})
}
