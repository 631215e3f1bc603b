package services

import (
	"log"

	"pathfinder/internal/models"
)

// SignalKind is the discrete input to the stage state machine.
type SignalKind string

const (
	SignalEvidenceAdded        SignalKind = "evidence_added"
	SignalToolSucceeded        SignalKind = "tool_succeeded"
	SignalRecommendationsAsked SignalKind = "user_requested_recommendations"
	SignalEnhancementCompleted SignalKind = "enhancement_completed"
	SignalReadyToFinish        SignalKind = "ready_to_finish"
)

// StageSignal is one discrete event fed to Advance.
type StageSignal struct {
	Kind SignalKind
	Tool string // set for SignalToolSucceeded
}

// StageMachine tracks the session's onboarding stage. Transitions only move
// forward; evidence-rich turns may jump more than one stage in a single
// Advance, but the machine never moves backward. Only a new session resets.
//
// Advancing has no side effect beyond session.Stage. It never triggers tool
// calls; that is the invocation policy's job, consulted separately each turn.
type StageMachine struct {
	personaThreshold func() float64
}

// NewStageMachine creates a stage machine. personaThreshold supplies the
// current (hot-reloadable) persona confidence threshold.
func NewStageMachine(personaThreshold func() float64) *StageMachine {
	return &StageMachine{personaThreshold: personaThreshold}
}

// Advance applies the signal and returns the resulting stage. The same
// stage is returned when no transition applies. Transitions cascade: if one
// transition's target immediately satisfies the next condition, the machine
// keeps moving forward within the same call.
//
// The caller must hold the session write lock; all session reads here are
// direct field access.
func (m *StageMachine) Advance(session *models.Session, signal StageSignal) models.Stage {
	before := session.Stage
	for {
		next := m.step(session, signal)
		if next == session.Stage {
			break
		}
		if models.StageIndex(next) < models.StageIndex(session.Stage) {
			// Regression is never allowed.
			break
		}
		session.Stage = next
	}
	if session.Stage != before {
		log.Printf("🧭 [STAGE] Session %s: %s → %s (signal: %s)", session.ID, before, session.Stage, signal.Kind)
	}
	return session.Stage
}

func (m *StageMachine) step(session *models.Session, signal StageSignal) models.Stage {
	switch session.Stage {
	case models.StageInitial:
		// First user message with any extractable evidence.
		if signal.Kind == SignalEvidenceAdded && !session.Evidence.IsEmpty() {
			return models.StageDiscovery
		}

	case models.StageDiscovery:
		// At least 2 of {interests, goals, skills} populated.
		if session.Evidence.PopulatedCategories() >= 2 {
			return models.StageClassification
		}

	case models.StageClassification:
		// Persona confident enough, or analysis has succeeded at least once.
		if session.Persona != nil && session.Persona.Confidence >= m.personaThreshold() {
			return models.StageTailoredGuidance
		}
		for _, rec := range session.ToolHistory {
			if rec.ToolName == models.ToolAnalyzeCareers && rec.Outcome == models.OutcomeSuccess {
				return models.StageTailoredGuidance
			}
		}

	case models.StageTailoredGuidance:
		// At least one artifact fully enhanced.
		for _, card := range session.Artifacts {
			if card.Enhancement.Status == models.EnhancementCompleted {
				return models.StageJourneyActive
			}
		}

	case models.StageJourneyActive:
		// Explicit finish signal from either transport.
		if signal.Kind == SignalReadyToFinish {
			return models.StageComplete
		}
	}
	return session.Stage
}
