package services

import (
	"testing"
	"time"

	"pathfinder/internal/models"
)

func TestSessionService_CreateAndGet(t *testing.T) {
	svc := NewSessionService(nil, nil, nil)

	rt := svc.Create(models.ChannelText)
	if rt.Session.ID == "" {
		t.Fatal("created session has no ID")
	}
	if rt.Session.Channel != models.ChannelText {
		t.Errorf("channel = %s, want text", rt.Session.Channel)
	}
	if rt.Session.Stage != models.StageInitial {
		t.Errorf("stage = %s, want initial", rt.Session.Stage)
	}

	got, ok := svc.Get(rt.Session.ID)
	if !ok || got != rt {
		t.Errorf("Get returned %v, %v", got, ok)
	}
	if svc.Count() != 1 {
		t.Errorf("Count = %d, want 1", svc.Count())
	}
}

func TestSessionService_EndCancelsRuntime(t *testing.T) {
	svc := NewSessionService(nil, nil, nil)
	rt := svc.Create(models.ChannelVoice)

	svc.End(rt.Session.ID)

	select {
	case <-rt.Context().Done():
	default:
		t.Error("runtime context not cancelled on End")
	}
	if _, ok := svc.Get(rt.Session.ID); ok {
		t.Error("ended session still registered")
	}

	// Ending twice is harmless.
	svc.End(rt.Session.ID)
}

func TestSessionService_EmitAfterDetachIsNoOp(t *testing.T) {
	svc := NewSessionService(nil, nil, nil)
	rt := svc.Create(models.ChannelText)
	defer svc.End(rt.Session.ID)

	calls := 0
	rt.SetEmitter(func(models.ServerMessage) { calls++ })
	rt.Emit(models.ServerMessage{Type: "progress"})
	rt.SetEmitter(nil)
	rt.Emit(models.ServerMessage{Type: "progress"})

	if calls != 1 {
		t.Errorf("emitter called %d times, want 1", calls)
	}
}

func TestSessionRuntime_DetachOnlyByOwner(t *testing.T) {
	svc := NewSessionService(nil, nil, nil)
	rt := svc.Create(models.ChannelText)
	defer svc.End(rt.Session.ID)

	var first, second int
	rt.AttachEmitter("conn-1", func(models.ServerMessage) { first++ })
	// A reconnecting client takes the session over before the stale
	// connection's teardown runs.
	rt.AttachEmitter("conn-2", func(models.ServerMessage) { second++ })

	// The stale connection detaching must not silence the new one.
	rt.DetachEmitter("conn-1")
	rt.Emit(models.ServerMessage{Type: "progress"})
	if first != 0 || second != 1 {
		t.Errorf("emits = (%d, %d), want (0, 1)", first, second)
	}

	rt.DetachEmitter("conn-2")
	rt.Emit(models.ServerMessage{Type: "progress"})
	if second != 1 {
		t.Errorf("emitter called after owner detach: %d", second)
	}
}

func TestSessionService_ExpireIdle(t *testing.T) {
	svc := NewSessionService(nil, nil, nil)

	idle := svc.Create(models.ChannelText)
	active := svc.Create(models.ChannelText)

	idle.Session.Lock()
	idle.Session.LastActivityAt = time.Now().Add(-time.Hour)
	idle.Session.Unlock()

	expired := svc.ExpireIdle(30 * time.Minute)
	if len(expired) != 1 || expired[0] != idle.Session.ID {
		t.Errorf("expired = %v, want [%s]", expired, idle.Session.ID)
	}
	if _, ok := svc.Get(idle.Session.ID); ok {
		t.Error("idle session still registered after expiry")
	}
	if _, ok := svc.Get(active.Session.ID); !ok {
		t.Error("active session was expired")
	}
	svc.End(active.Session.ID)
}
