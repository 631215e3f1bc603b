package services

import (
	"log"
	"sync"

	"pathfinder/internal/models"
)

// ConnectionManager manages all active WebSocket connections across both
// transport channels.
type ConnectionManager struct {
	connections map[string]*models.UserConnection
	mutex       sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*models.UserConnection),
	}
}

// Add adds a new connection
func (cm *ConnectionManager) Add(conn *models.UserConnection) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.connections[conn.ConnID] = conn
	log.Printf("✅ Connection added: %s [%s] (Total: %d)", conn.ConnID, conn.Channel, len(cm.connections))
}

// Remove removes a connection
func (cm *ConnectionManager) Remove(connID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if conn, exists := cm.connections[connID]; exists {
		close(conn.WriteChan)
		close(conn.StopChan)
		delete(cm.connections, connID)
		log.Printf("❌ Connection removed: %s (Total: %d)", connID, len(cm.connections))
	}
}

// Get retrieves a connection by ID
func (cm *ConnectionManager) Get(connID string) (*models.UserConnection, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	conn, exists := cm.connections[connID]
	return conn, exists
}

// HasSession reports whether any active connection is attached to the given
// session.
func (cm *ConnectionManager) HasSession(sessionID string) bool {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	for _, conn := range cm.connections {
		if conn.SessionID == sessionID {
			return true
		}
	}
	return false
}

// Count returns the number of active connections
func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.connections)
}

// CountByChannel returns the number of active connections per channel.
func (cm *ConnectionManager) CountByChannel() map[models.Channel]int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	counts := make(map[models.Channel]int, 2)
	for _, conn := range cm.connections {
		counts[conn.Channel]++
	}
	return counts
}
