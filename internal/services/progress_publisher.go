package services

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"pathfinder/internal/models"

	"github.com/redis/go-redis/v9"
)

// ProgressHandler is a callback for progress events received from other
// instances.
type ProgressHandler func(sessionID string, update models.ProgressUpdate)

// progressEnvelope is the wire format for cross-instance progress events.
type progressEnvelope struct {
	SessionID  string                `json:"sessionId"`
	InstanceID string                `json:"instanceId"`
	Update     models.ProgressUpdate `json:"update"`
}

// ProgressPublisher fans enhancement progress out over Redis pub/sub so a
// client reconnecting to a different instance still sees pipeline updates.
// It is optional: a nil publisher means single-instance mode and every
// method is a no-op.
type ProgressPublisher struct {
	redis      *RedisService
	pubsub     *redis.PubSub
	handlers   []ProgressHandler
	mu         sync.RWMutex
	instanceID string
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewProgressPublisher creates a progress publisher bound to one instance.
func NewProgressPublisher(redisService *RedisService, instanceID string) *ProgressPublisher {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProgressPublisher{
		redis:      redisService,
		instanceID: instanceID,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// OnProgress registers a handler for progress events published by other
// instances.
func (p *ProgressPublisher) OnProgress(handler ProgressHandler) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler)
}

// Start begins listening for progress events from other instances.
func (p *ProgressPublisher) Start() error {
	if p == nil || p.redis == nil {
		return nil
	}

	p.pubsub = p.redis.Client().PSubscribe(p.ctx, "session:*:progress")
	if _, err := p.pubsub.Receive(p.ctx); err != nil {
		return err
	}

	go p.processMessages()
	log.Printf("✅ [PROGRESS] Cross-instance progress relay started (instance: %s)", p.instanceID)
	return nil
}

func (p *ProgressPublisher) processMessages() {
	ch := p.pubsub.Channel()
	for {
		select {
		case <-p.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			p.handleMessage(msg)
		}
	}
}

func (p *ProgressPublisher) handleMessage(msg *redis.Message) {
	var envelope progressEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
		log.Printf("⚠️ [PROGRESS] Failed to unmarshal progress event: %v", err)
		return
	}

	// Skip our own events, local delivery already happened.
	if envelope.InstanceID == p.instanceID {
		return
	}

	sessionID := envelope.SessionID
	if sessionID == "" {
		sessionID = sessionFromChannel(msg.Channel)
	}

	p.mu.RLock()
	handlers := append([]ProgressHandler(nil), p.handlers...)
	p.mu.RUnlock()

	for _, handler := range handlers {
		go handler(sessionID, envelope.Update)
	}
}

// Publish sends a progress event to the session's progress channel.
func (p *ProgressPublisher) Publish(sessionID string, update models.ProgressUpdate) {
	if p == nil || p.redis == nil {
		return
	}

	data, err := json.Marshal(progressEnvelope{
		SessionID:  sessionID,
		InstanceID: p.instanceID,
		Update:     update,
	})
	if err != nil {
		log.Printf("⚠️ [PROGRESS] Failed to marshal progress event: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	channel := "session:" + sessionID + ":progress"
	if err := p.redis.Client().Publish(ctx, channel, data).Err(); err != nil {
		log.Printf("⚠️ [PROGRESS] Failed to publish to %s: %v", channel, err)
	}
}

// Stop stops the relay.
func (p *ProgressPublisher) Stop() error {
	if p == nil {
		return nil
	}
	p.cancel()
	if p.pubsub != nil {
		return p.pubsub.Close()
	}
	return nil
}

func sessionFromChannel(channel string) string {
	parts := strings.Split(channel, ":")
	if len(parts) == 3 {
		return parts[1]
	}
	return ""
}
