package models

import (
	"sync"
	"time"
)

// Channel identifies which transport a session speaks over. It is fixed for
// the lifetime of the session.
type Channel string

const (
	ChannelText  Channel = "text"
	ChannelVoice Channel = "voice"
)

// Stage is the session's position in the onboarding progression.
type Stage string

const (
	StageInitial          Stage = "initial"
	StageDiscovery        Stage = "discovery"
	StageClassification   Stage = "classification"
	StageTailoredGuidance Stage = "tailored_guidance"
	StageJourneyActive    Stage = "journey_active"
	StageComplete         Stage = "complete"
)

// stageOrder defines the forward-only progression. Jumps are allowed,
// regressions are not.
var stageOrder = map[Stage]int{
	StageInitial:          0,
	StageDiscovery:        1,
	StageClassification:   2,
	StageTailoredGuidance: 3,
	StageJourneyActive:    4,
	StageComplete:         5,
}

// StageIndex returns the ordinal position of a stage (-1 for unknown).
func StageIndex(s Stage) int {
	idx, ok := stageOrder[s]
	if !ok {
		return -1
	}
	return idx
}

// ToolOutcome records how a tool invocation ended.
type ToolOutcome string

const (
	OutcomeSuccess          ToolOutcome = "success"
	OutcomeError            ToolOutcome = "error"
	OutcomeRejectedByPolicy ToolOutcome = "rejected-by-policy"
)

// ToolInvocationRecord is an immutable log entry for one tool call. The
// policy engine reads these to compute eligibility (e.g. "has analysis run
// at least once").
type ToolInvocationRecord struct {
	ToolName        string      `json:"tool_name"`
	RequestedAtTurn int         `json:"requested_at_turn"`
	Params          string      `json:"params"` // raw argument JSON as the model sent it
	Result          string      `json:"result"`
	Outcome         ToolOutcome `json:"outcome"`
	Timestamp       time.Time   `json:"timestamp"`
}

// Session is the per-visit unit of orchestration state. It is single-writer:
// only the active transport adapter for the session mutates it, so the
// embedded mutex only guards against concurrent reads from the enhancement
// pipeline and snapshot export.
type Session struct {
	ID        string    `json:"id"`
	Channel   Channel   `json:"channel"`
	CreatedAt time.Time `json:"created_at"`

	Stage          Stage                  `json:"stage"`
	Evidence       EvidenceRecord         `json:"evidence"`
	Persona        *PersonaClassification `json:"persona,omitempty"`
	Artifacts      []*CareerCard          `json:"artifacts"`
	ToolHistory    []ToolInvocationRecord `json:"tool_history"`
	MessageCount   int                    `json:"message_count"`
	ToolCallCount  int                    `json:"tool_call_count"`
	TurnCount      int                    `json:"turn_count"`
	LastActivityAt time.Time              `json:"last_activity_at"`

	// Turns of evidence accumulated since the persona was last classified.
	// Provisional personas are re-classified after two more turns.
	TurnsSinceClassify int `json:"turns_since_classify"`

	mu sync.RWMutex
}

// NewSession creates a session bound to one transport channel.
func NewSession(id string, channel Channel) *Session {
	now := time.Now()
	return &Session{
		ID:             id,
		Channel:        channel,
		CreatedAt:      now,
		Stage:          StageInitial,
		Evidence:       NewEvidenceRecord(),
		Artifacts:      make([]*CareerCard, 0),
		ToolHistory:    make([]ToolInvocationRecord, 0),
		LastActivityAt: now,
	}
}

// Lock locks the session for writing.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock unlocks the session.
func (s *Session) Unlock() { s.mu.Unlock() }

// RLock locks the session for reading.
func (s *Session) RLock() { s.mu.RLock() }

// RUnlock unlocks a read lock.
func (s *Session) RUnlock() { s.mu.RUnlock() }

// RecordToolInvocation appends an immutable tool invocation record.
func (s *Session) RecordToolInvocation(rec ToolInvocationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ToolHistory = append(s.ToolHistory, rec)
	if rec.Outcome != OutcomeRejectedByPolicy {
		s.ToolCallCount++
	}
}

// ToolSucceededCount returns how many times the named tool completed
// successfully in this session.
func (s *Session) ToolSucceededCount(toolName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, rec := range s.ToolHistory {
		if rec.ToolName == toolName && rec.Outcome == OutcomeSuccess {
			count++
		}
	}
	return count
}

// LastInvocationTurn returns the turn number of the most recent invocation of
// the named tool with the given outcome, or -1 if none.
func (s *Session) LastInvocationTurn(toolName string, outcome ToolOutcome) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.ToolHistory) - 1; i >= 0; i-- {
		rec := s.ToolHistory[i]
		if rec.ToolName == toolName && rec.Outcome == outcome {
			return rec.RequestedAtTurn
		}
	}
	return -1
}

// LastExecutedTurn returns the turn number of the most recent invocation of
// the named tool that actually ran (success or error), or -1 if none.
// Policy-rejected calls do not count: a deferred call must not reset the
// rate-limit clock.
func (s *Session) LastExecutedTurn(toolName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.ToolHistory) - 1; i >= 0; i-- {
		rec := s.ToolHistory[i]
		if rec.ToolName == toolName && rec.Outcome != OutcomeRejectedByPolicy {
			return rec.RequestedAtTurn
		}
	}
	return -1
}

// InvocationsAtTurn counts invocations of the named tool requested during the
// given turn, regardless of outcome.
func (s *Session) InvocationsAtTurn(toolName string, turn int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, rec := range s.ToolHistory {
		if rec.ToolName == toolName && rec.RequestedAtTurn == turn {
			count++
		}
	}
	return count
}

// CurrentStage returns the stage under a read lock.
func (s *Session) CurrentStage() Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Stage
}

// Touch updates the activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.LastActivityAt = time.Now()
	s.mu.Unlock()
}

// IdleSince reports how long ago the session last saw activity.
func (s *Session) IdleSince(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.LastActivityAt)
}
