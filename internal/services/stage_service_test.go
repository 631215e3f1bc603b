package services

import (
	"testing"
	"time"

	"pathfinder/internal/models"
)

func fixedThreshold(v float64) func() float64 {
	return func() float64 { return v }
}

func advance(m *StageMachine, s *models.Session, signal StageSignal) models.Stage {
	s.Lock()
	defer s.Unlock()
	return m.Advance(s, signal)
}

func TestStageMachine_InitialToDiscovery(t *testing.T) {
	m := NewStageMachine(fixedThreshold(0.8))
	s := models.NewSession("s1", models.ChannelText)

	// No evidence, no movement.
	if got := advance(m, s, StageSignal{Kind: SignalEvidenceAdded}); got != models.StageInitial {
		t.Errorf("stage = %s, want initial", got)
	}

	s.Evidence.Merge(models.EvidenceRecord{Interests: []string{"coding"}})
	if got := advance(m, s, StageSignal{Kind: SignalEvidenceAdded}); got != models.StageDiscovery {
		t.Errorf("stage = %s, want discovery", got)
	}
}

func TestStageMachine_CascadesThroughMultipleStages(t *testing.T) {
	m := NewStageMachine(fixedThreshold(0.8))
	s := models.NewSession("s1", models.ChannelText)

	// One evidence-rich first turn: interests + skills populate two
	// categories, so the machine should jump initial -> discovery ->
	// classification in a single Advance.
	s.Evidence.Merge(models.EvidenceRecord{
		Interests: []string{"coding"},
		Skills:    []string{"python"},
	})

	if got := advance(m, s, StageSignal{Kind: SignalEvidenceAdded}); got != models.StageClassification {
		t.Errorf("stage = %s, want classification after cascade", got)
	}
}

func TestStageMachine_ClassificationExits(t *testing.T) {
	t.Run("confident persona", func(t *testing.T) {
		m := NewStageMachine(fixedThreshold(0.8))
		s := sessionAtClassification()
		s.Persona = &models.PersonaClassification{Type: models.PersonaGoalDriven, Confidence: 0.85}

		if got := advance(m, s, StageSignal{Kind: SignalEvidenceAdded}); got != models.StageTailoredGuidance {
			t.Errorf("stage = %s, want tailored_guidance", got)
		}
	})

	t.Run("provisional persona stays", func(t *testing.T) {
		m := NewStageMachine(fixedThreshold(0.8))
		s := sessionAtClassification()
		s.Persona = &models.PersonaClassification{Type: models.PersonaGoalDriven, Confidence: 0.5}

		if got := advance(m, s, StageSignal{Kind: SignalEvidenceAdded}); got != models.StageClassification {
			t.Errorf("stage = %s, want classification", got)
		}
	})

	t.Run("successful analysis unlocks", func(t *testing.T) {
		m := NewStageMachine(fixedThreshold(0.8))
		s := sessionAtClassification()
		s.RecordToolInvocation(models.ToolInvocationRecord{
			ToolName: models.ToolAnalyzeCareers, RequestedAtTurn: 3, Outcome: models.OutcomeSuccess,
		})

		if got := advance(m, s, StageSignal{Kind: SignalToolSucceeded, Tool: models.ToolAnalyzeCareers}); got != models.StageTailoredGuidance {
			t.Errorf("stage = %s, want tailored_guidance", got)
		}
	})

	t.Run("hot-reloaded threshold applies", func(t *testing.T) {
		threshold := 0.8
		m := NewStageMachine(func() float64 { return threshold })
		s := sessionAtClassification()
		s.Persona = &models.PersonaClassification{Type: models.PersonaGoalDriven, Confidence: 0.7}

		if got := advance(m, s, StageSignal{Kind: SignalEvidenceAdded}); got != models.StageClassification {
			t.Fatalf("stage = %s, want classification before reload", got)
		}
		threshold = 0.6
		if got := advance(m, s, StageSignal{Kind: SignalEvidenceAdded}); got != models.StageTailoredGuidance {
			t.Errorf("stage = %s, want tailored_guidance after reload", got)
		}
	})
}

func TestStageMachine_TailoredGuidanceToJourneyActive(t *testing.T) {
	m := NewStageMachine(fixedThreshold(0.8))
	s := sessionAtClassification()
	s.Stage = models.StageTailoredGuidance
	s.Artifacts = []*models.CareerCard{
		{Title: "Software Engineer", Enhancement: models.Enhancement{Status: models.EnhancementFailed}},
	}

	if got := advance(m, s, StageSignal{Kind: SignalEnhancementCompleted}); got != models.StageTailoredGuidance {
		t.Errorf("stage = %s, want tailored_guidance while no card is enhanced", got)
	}

	s.Artifacts = append(s.Artifacts, &models.CareerCard{
		Title: "Data Analyst", Enhancement: models.Enhancement{Status: models.EnhancementCompleted, LastUpdated: time.Now()},
	})
	if got := advance(m, s, StageSignal{Kind: SignalEnhancementCompleted}); got != models.StageJourneyActive {
		t.Errorf("stage = %s, want journey_active", got)
	}
}

func TestStageMachine_JourneyActiveToComplete(t *testing.T) {
	m := NewStageMachine(fixedThreshold(0.8))
	s := sessionAtClassification()
	s.Stage = models.StageJourneyActive

	// Only the explicit finish signal completes the session.
	if got := advance(m, s, StageSignal{Kind: SignalEvidenceAdded}); got != models.StageJourneyActive {
		t.Errorf("stage = %s, want journey_active", got)
	}
	if got := advance(m, s, StageSignal{Kind: SignalReadyToFinish}); got != models.StageComplete {
		t.Errorf("stage = %s, want complete", got)
	}
}

func TestStageMachine_NeverRegresses(t *testing.T) {
	m := NewStageMachine(fixedThreshold(0.8))
	s := models.NewSession("s1", models.ChannelText)
	s.Stage = models.StageTailoredGuidance

	// Evidence and persona below any threshold: conditions for earlier
	// stages no longer hold, but the stage must not move backward.
	for _, signal := range []SignalKind{SignalEvidenceAdded, SignalToolSucceeded, SignalEnhancementCompleted} {
		if got := advance(m, s, StageSignal{Kind: signal}); models.StageIndex(got) < models.StageIndex(models.StageTailoredGuidance) {
			t.Errorf("signal %s regressed stage to %s", signal, got)
		}
	}
}

func sessionAtClassification() *models.Session {
	s := models.NewSession("s1", models.ChannelText)
	s.Stage = models.StageClassification
	s.Evidence.Merge(models.EvidenceRecord{
		Interests: []string{"coding"},
		Skills:    []string{"python"},
	})
	return s
}
