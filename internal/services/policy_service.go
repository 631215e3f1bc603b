package services

import (
	"fmt"

	"pathfinder/internal/config"
	"pathfinder/internal/models"
)

// Rejection reasons surfaced to the model as plain tool-result text. A
// policy rejection is a normal deferred-action outcome, never an error.
const (
	ReasonRateLimited         = "rate_limited"
	ReasonPrerequisiteMissing = "prerequisite_missing"
	ReasonNoTriggerSignal     = "no_trigger_signal"
)

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allow  bool
	Reason string // rejection reason, empty when allowed
}

// TurnContext carries the per-turn signals the policy needs beyond the
// session record: the turn number and how many excitement/urgency markers
// this turn's extraction carried.
type TurnContext struct {
	Turn              int
	ExcitementSignals int
}

// PolicyService is the single source of truth for tool eligibility. Both
// transport adapters consult it through the shared orchestrator before
// executing any tool, so the rules below apply identically regardless of
// channel.
type PolicyService struct {
	policies *config.PolicyStore
}

// NewPolicyService creates the policy engine backed by hot-reloadable
// parameters.
func NewPolicyService(policies *config.PolicyStore) *PolicyService {
	return &PolicyService{policies: policies}
}

// Evaluate decides whether the requested tool may run now. Dispatch is an
// exhaustive type switch over the closed tool request set.
func (p *PolicyService) Evaluate(session *models.Session, req models.ToolRequest, turnCtx TurnContext) Decision {
	switch r := req.(type) {
	case models.AnalyzeCareersRequest:
		return p.evaluateAnalyze(session, turnCtx)
	case models.UpdateProfileRequest:
		return p.evaluateProfileUpdate(session, r, turnCtx)
	case models.GenerateRecommendationsRequest:
		return p.evaluateGenerate(session)
	case models.InstantInsightsRequest:
		return p.evaluateInsights(session, turnCtx)
	default:
		// Unreachable for requests produced by ParseToolRequest.
		return Decision{Allow: false, Reason: ReasonPrerequisiteMissing}
	}
}

// evaluateProfileUpdate: always allowed when new evidence is present in the
// current turn, and idempotent when the evidence is unchanged. The merge is
// a union, so re-running with the same fields is a no-op.
func (p *PolicyService) evaluateProfileUpdate(_ *models.Session, _ models.UpdateProfileRequest, _ TurnContext) Decision {
	return Decision{Allow: true}
}

// evaluateAnalyze: allowed once the session has reached classification, and
// at most once per cooldown window of conversation turns (per session, not
// global).
func (p *PolicyService) evaluateAnalyze(session *models.Session, turnCtx TurnContext) Decision {
	if models.StageIndex(session.CurrentStage()) < models.StageIndex(models.StageClassification) {
		return Decision{Allow: false, Reason: ReasonPrerequisiteMissing}
	}

	cooldown := p.policies.Current().AnalysisCooldownTurns
	lastRun := session.LastExecutedTurn(models.ToolAnalyzeCareers)
	if lastRun >= 0 && turnCtx.Turn-lastRun < cooldown {
		return Decision{Allow: false, Reason: ReasonRateLimited}
	}
	return Decision{Allow: true}
}

// evaluateGenerate: allowed only after at least one successful analysis in
// this session.
func (p *PolicyService) evaluateGenerate(session *models.Session) Decision {
	if session.ToolSucceededCount(models.ToolAnalyzeCareers) == 0 {
		return Decision{Allow: false, Reason: ReasonPrerequisiteMissing}
	}
	return Decision{Allow: true}
}

// evaluateInsights: allowed at any stage, but only in response to a
// user-expressed excitement/urgency signal, and never twice within the same
// turn.
func (p *PolicyService) evaluateInsights(session *models.Session, turnCtx TurnContext) Decision {
	if session.InvocationsAtTurn(models.ToolInstantInsights, turnCtx.Turn) > 0 {
		return Decision{Allow: false, Reason: ReasonRateLimited}
	}
	if turnCtx.ExcitementSignals == 0 {
		return Decision{Allow: false, Reason: ReasonNoTriggerSignal}
	}
	return Decision{Allow: true}
}

// RejectionMessage renders a rejection as the plain-language tool result the
// model receives. The model should understand why the action is deferred,
// not see an exception.
func RejectionMessage(toolName, reason string) string {
	switch reason {
	case ReasonRateLimited:
		return fmt.Sprintf("The %s action was deferred (%s): it ran recently. Continue the conversation and try again in a couple of turns.", toolName, reason)
	case ReasonPrerequisiteMissing:
		return fmt.Sprintf("The %s action was deferred (%s): a prerequisite step has not completed yet. Keep gathering information first.", toolName, reason)
	case ReasonNoTriggerSignal:
		return fmt.Sprintf("The %s action was deferred (%s): no excitement or urgency signal was detected in the user's last message.", toolName, reason)
	default:
		return fmt.Sprintf("The %s action was deferred (%s).", toolName, reason)
	}
}
