package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"pathfinder/internal/models"

	"github.com/google/uuid"
)

const maxRecommendations = 5

// ToolExecutor runs allowed tool requests against a session runtime. It is
// shared by both transports; all channel-specific behavior stays in the
// handlers.
//
// Execution is serialized within a turn by the orchestrator: later tool
// calls in the same turn may depend on state written by earlier ones.
type ToolExecutor struct {
	enhancement *EnhancementService
	stages      *StageMachine
	progress    *ProgressPublisher
	sessions    *SessionService
	metrics     *Metrics
}

// NewToolExecutor creates the shared tool executor. progress may be nil when
// cross-instance progress publishing is disabled.
func NewToolExecutor(enhancement *EnhancementService, stages *StageMachine, progress *ProgressPublisher, sessions *SessionService, metrics *Metrics) *ToolExecutor {
	return &ToolExecutor{
		enhancement: enhancement,
		stages:      stages,
		progress:    progress,
		sessions:    sessions,
		metrics:     metrics,
	}
}

// Execute runs one typed tool request and returns the plain-text result fed
// back to the model. An error is a ToolExecutionFailure: the external call
// failed, the conversation continues, and the orchestrator surfaces the
// failure to the model as text.
func (e *ToolExecutor) Execute(ctx context.Context, rt *SessionRuntime, req models.ToolRequest) (string, error) {
	switch r := req.(type) {
	case models.UpdateProfileRequest:
		return e.executeProfileUpdate(rt, r), nil
	case models.AnalyzeCareersRequest:
		return e.executeAnalysis(rt, r), nil
	case models.GenerateRecommendationsRequest:
		return e.executeGenerate(ctx, rt, r)
	case models.InstantInsightsRequest:
		return e.executeInsight(rt, r), nil
	default:
		return "", fmt.Errorf("unhandled tool request %T", req)
	}
}

// executeProfileUpdate merges model-extracted fields into the profile
// snapshot and the evidence accumulator. The merge is a union, so replaying
// the same fields is idempotent.
func (e *ToolExecutor) executeProfileUpdate(rt *SessionRuntime, req models.UpdateProfileRequest) string {
	if req.Empty() {
		return "Profile unchanged: no new fields were provided."
	}

	profile := rt.Store.MergeProfile(ProfileSnapshot{
		Interests:         req.Interests,
		Goals:             req.Goals,
		Skills:            req.Skills,
		PersonalQualities: req.PersonalQualities,
	})

	rt.Session.Lock()
	rt.Session.Evidence.Merge(models.EvidenceRecord{
		Interests: req.Interests,
		Goals:     req.Goals,
		Skills:    req.Skills,
	})
	rt.Session.Unlock()

	log.Printf("👤 [TOOLS] Session %s: profile updated (%d interests, %d goals, %d skills)",
		rt.Session.ID, len(profile.Interests), len(profile.Goals), len(profile.Skills))
	return fmt.Sprintf("Profile updated. It now records %d interests, %d goals and %d skills.",
		len(profile.Interests), len(profile.Goals), len(profile.Skills))
}

// executeAnalysis runs the first-pass career analysis over accumulated
// evidence and stores it under careers.analysis.
func (e *ToolExecutor) executeAnalysis(rt *SessionRuntime, req models.AnalyzeCareersRequest) string {
	rt.Session.RLock()
	evidence := rt.Session.Evidence.Clone()
	rt.Session.RUnlock()

	analysis := buildAnalysis(evidence, rt.Store.Profile(), req.TriggerReason)
	rt.Store.SetAnalysis(analysis)

	if len(analysis.Directions) == 0 {
		return "Analysis complete, but the conversation hasn't revealed enough interests, goals or skills to suggest directions yet. Keep exploring what the person enjoys."
	}

	titles := make([]string, 0, 3)
	for i, d := range analysis.Directions {
		if i == 3 {
			break
		}
		titles = append(titles, d.Title)
	}
	log.Printf("🧠 [TOOLS] Session %s: analysis found %d directions", rt.Session.ID, len(analysis.Directions))
	return fmt.Sprintf("Analysis complete: %d promising directions found. Strongest matches: %s.",
		len(analysis.Directions), strings.Join(titles, ", "))
}

// executeGenerate creates basic career cards synchronously from the latest
// analysis, then kicks off the asynchronous enhancement batch. The basic
// cards are committed and reported before enhancement starts, so the user
// always has something even if every market lookup fails.
func (e *ToolExecutor) executeGenerate(ctx context.Context, rt *SessionRuntime, req models.GenerateRecommendationsRequest) (string, error) {
	report := e.progressReporter(rt)

	report(models.ProgressUpdate{
		Stage: models.PipelineInitializing, Message: "Preparing recommendations", Progress: 0, Timestamp: time.Now(),
	})

	analysis := rt.Store.Analysis()
	if analysis == nil {
		// The policy gates on a successful analysis; reaching this means the
		// analysis result was cleared, which we treat as an execution failure.
		return "", fmt.Errorf("no career analysis available for session %s", rt.Session.ID)
	}

	report(models.ProgressUpdate{
		Stage: models.PipelineAnalyzing, Message: "Selecting strongest career matches", Progress: 15, Timestamp: time.Now(),
	})

	cards := make([]*models.CareerCard, 0, maxRecommendations)
	for i, direction := range analysis.Directions {
		if i == maxRecommendations {
			break
		}
		cards = append(cards, &models.CareerCard{
			ID:          uuid.New().String(),
			Title:       direction.Title,
			Description: direction.Description,
			MatchedOn:   append([]string(nil), direction.MatchedOn...),
			NextSteps:   append([]string(nil), direction.NextSteps...),
			Enhancement: models.Enhancement{Status: models.EnhancementPending},
			CreatedAt:   time.Now(),
		})
	}

	if len(cards) == 0 {
		return "No recommendations could be generated: the analysis found no career directions yet.", nil
	}

	rt.Store.SetRecommendations(cards)
	rt.Session.Lock()
	rt.Session.Artifacts = append(rt.Session.Artifacts, cards...)
	rt.Session.Unlock()

	report(models.ProgressUpdate{
		Stage: models.PipelineGeneratingCards, Message: fmt.Sprintf("Created %d career cards", len(cards)), Progress: 30, Timestamp: time.Now(),
	})
	rt.Emit(models.ServerMessage{Type: "cards_updated", SessionID: rt.Session.ID, Cards: cards})

	// Second pass runs in the background under the session context: a new
	// user turn can arrive while this batch is still in flight, and a
	// disconnect cancels it.
	go e.runEnhancement(rt, cards, report)

	log.Printf("🎴 [TOOLS] Session %s: generated %d basic cards, enhancement started (reason: %s)",
		rt.Session.ID, len(cards), req.TriggerReason)
	return fmt.Sprintf("Generated %d career cards. Market verification is running in the background and the cards will update shortly.", len(cards)), nil
}

func (e *ToolExecutor) runEnhancement(rt *SessionRuntime, cards []*models.CareerCard, report ProgressFunc) {
	commit := func(card *models.CareerCard) { e.commitCard(rt, card) }
	result := e.enhancement.Enhance(rt.Context(), rt.Session.ID, cards, report, commit)
	if result.Err != nil {
		log.Printf("🛑 [TOOLS] Session %s: enhancement batch abandoned: %v", rt.Session.ID, result.Err)
		return
	}

	rt.Session.Lock()
	e.stages.Advance(rt.Session, StageSignal{Kind: SignalEnhancementCompleted})
	stage := rt.Session.Stage
	rt.Session.Unlock()

	rt.Emit(models.ServerMessage{Type: "cards_updated", SessionID: rt.Session.ID, Cards: rt.Store.Recommendations(), Stage: string(stage)})
	if e.sessions != nil {
		if runtime, ok := e.sessions.Get(rt.Session.ID); ok {
			e.sessions.PersistSnapshot(runtime)
		}
	}
}

// commitCard publishes one finished card. The enhanced clone replaces the
// basic card in both the context store and the session artifact list, each
// under its own lock, so concurrent turns only ever read committed cards.
func (e *ToolExecutor) commitCard(rt *SessionRuntime, card *models.CareerCard) {
	rt.Store.UpsertRecommendation(card)

	rt.Session.Lock()
	for i, existing := range rt.Session.Artifacts {
		if existing.ID == card.ID {
			rt.Session.Artifacts[i] = card
			break
		}
	}
	rt.Session.Unlock()
}

// executeInsight surfaces an instant observation keyed to the excitement or
// urgency signal the policy verified.
func (e *ToolExecutor) executeInsight(rt *SessionRuntime, req models.InstantInsightsRequest) string {
	rt.Session.RLock()
	evidence := rt.Session.Evidence.Clone()
	rt.Session.RUnlock()

	insight := &models.Insight{
		Text:          composeInsight(evidence),
		TriggerReason: req.TriggerReason,
		CreatedAt:     time.Now(),
	}
	rt.Store.SetLastInsight(insight)

	log.Printf("💡 [TOOLS] Session %s: instant insight surfaced", rt.Session.ID)
	return insight.Text
}

// progressReporter fans a progress event out to the attached transport and,
// when configured, the cross-instance publisher.
func (e *ToolExecutor) progressReporter(rt *SessionRuntime) ProgressFunc {
	sessionID := rt.Session.ID
	return func(update models.ProgressUpdate) {
		rt.Emit(models.ServerMessage{
			Type:      "progress",
			SessionID: sessionID,
			Progress:  &update,
		})
		if e.progress != nil {
			e.progress.Publish(sessionID, update)
		}
	}
}

func composeInsight(evidence models.EvidenceRecord) string {
	switch {
	case len(evidence.Interests) > 0 && len(evidence.Skills) > 0:
		return fmt.Sprintf("Your interest in %s combined with your %s skills is a strong pairing — careers at that intersection tend to be both in demand and energizing.",
			evidence.Interests[0], evidence.Skills[0])
	case len(evidence.Interests) > 1:
		return fmt.Sprintf("You light up when talking about %s and %s. Careers that combine the two are worth a close look.",
			evidence.Interests[0], evidence.Interests[1])
	case len(evidence.Interests) == 1:
		return fmt.Sprintf("Your enthusiasm for %s stands out. That kind of energy is the best predictor of sticking with a path.",
			evidence.Interests[0])
	case len(evidence.Goals) > 0:
		return fmt.Sprintf("You're clear about wanting %s — that clarity puts you ahead of most people at this stage.",
			evidence.Goals[0])
	default:
		return "Your energy right now is a real asset. Let's channel it into exploring a couple of concrete directions."
	}
}
