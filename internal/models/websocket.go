package models

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// ClientMessage represents a message from the client over either transport.
type ClientMessage struct {
	Type      string `json:"type"` // "user_turn", "ready_to_finish", "clear_cache", "ping"
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"` // user turn text (voice transport sends its transcript)
}

// ServerMessage represents a message sent to the client.
type ServerMessage struct {
	Type         string          `json:"type"` // "connected", "assistant_turn", "tool_call", "tool_result", "progress", "stage_change", "cards_updated", "session_complete", "pong", "error"
	SessionID    string          `json:"session_id,omitempty"`
	Content      string          `json:"content,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	Status       string          `json:"status,omitempty"` // "executing", "completed", "rejected"
	Result       string          `json:"result,omitempty"`
	Stage        string          `json:"stage,omitempty"`
	Cards        []*CareerCard   `json:"cards,omitempty"`
	Progress     *ProgressUpdate `json:"progress_update,omitempty"`
	ErrorCode    string          `json:"code,omitempty"`
	ErrorMessage string          `json:"message,omitempty"`
}

// UserConnection represents a single WebSocket connection bound to one
// session. Only this connection's goroutines write to the session.
type UserConnection struct {
	ConnID    string
	SessionID string
	Channel   Channel
	Conn      *websocket.Conn
	CreatedAt time.Time
	WriteChan chan ServerMessage
	StopChan  chan bool
	Mutex     sync.Mutex
	closed    bool
}

// SafeSend sends a message to WriteChan safely, returning false if the
// channel is closed.
func (uc *UserConnection) SafeSend(msg ServerMessage) bool {
	uc.Mutex.Lock()
	if uc.closed {
		uc.Mutex.Unlock()
		return false
	}
	uc.Mutex.Unlock()

	// Use defer/recover to handle panic from send on closed channel
	defer func() {
		if r := recover(); r != nil {
			uc.Mutex.Lock()
			uc.closed = true
			uc.Mutex.Unlock()
		}
	}()

	uc.WriteChan <- msg
	return true
}

// MarkClosed marks the connection as closed.
func (uc *UserConnection) MarkClosed() {
	uc.Mutex.Lock()
	uc.closed = true
	uc.Mutex.Unlock()
}

// IsClosed returns true if the connection has been marked as closed.
func (uc *UserConnection) IsClosed() bool {
	uc.Mutex.Lock()
	defer uc.Mutex.Unlock()
	return uc.closed
}
