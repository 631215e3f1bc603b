package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"pathfinder/internal/config"
	"pathfinder/internal/models"
)

const maxDriverIterations = 6

// ToolCall is a tool invocation requested by the external model.
type ToolCall struct {
	ID       string
	Name     string
	ArgsJSON string
}

// ToolResult is the plain-text outcome of a tool call, fed back to the
// model before it produces its final text. Args carries the original call
// arguments so drivers can replay the transcript in their wire format.
type ToolResult struct {
	CallID string
	Name   string
	Args   string
	Result string
}

// ModelRequest is everything a driver needs to ask its external AI engine
// for the next move in a turn.
type ModelRequest struct {
	SystemPrompt string
	History      []Turn
	Tools        []map[string]interface{}
	ToolResults  []ToolResult // results produced earlier in this turn
}

// ModelResponse is the engine's next move: either tool calls, final text,
// or both (text accompanying the last tool round).
type ModelResponse struct {
	Text      string
	ToolCalls []ToolCall
}

// ModelDriver abstracts the external conversational AI engine of one
// transport. Voice and text adapters differ only in their driver; every
// piece of business logic lives in the orchestrator, which is what makes
// the two transports behaviorally identical.
type ModelDriver interface {
	ChannelName() string
	Generate(ctx context.Context, req ModelRequest) (*ModelResponse, error)
}

// Orchestrator implements the shared per-turn sequence both transports
// run: append turn, extract evidence, advance stage, drive the model,
// police and execute tool calls, emit final text.
type Orchestrator struct {
	evidence   *EvidenceService
	classifier *PersonaClassifier
	stages     *StageMachine
	policy     *PolicyService
	executor   *ToolExecutor
	sessions   *SessionService
	policies   *config.PolicyStore
	metrics    *Metrics
}

// NewOrchestrator wires the turn-processing engine.
func NewOrchestrator(
	evidence *EvidenceService,
	classifier *PersonaClassifier,
	stages *StageMachine,
	policy *PolicyService,
	executor *ToolExecutor,
	sessions *SessionService,
	policies *config.PolicyStore,
	metrics *Metrics,
) *Orchestrator {
	return &Orchestrator{
		evidence:   evidence,
		classifier: classifier,
		stages:     stages,
		policy:     policy,
		executor:   executor,
		sessions:   sessions,
		policies:   policies,
		metrics:    metrics,
	}
}

// ProcessTurn runs one full conversational turn. It always returns
// assistant text: when the driver or every tool fails, the user still gets
// a useful reply built from what the session already knows.
func (o *Orchestrator) ProcessTurn(ctx context.Context, rt *SessionRuntime, driver ModelDriver, userText string) string {
	session := rt.Session
	session.Touch()

	session.Lock()
	session.TurnCount++
	session.MessageCount++
	turn := session.TurnCount
	session.Unlock()

	// (1) The user turn is appended unconditionally, before extraction can
	// fail.
	rt.Store.AppendTurn(Turn{Role: "user", Text: userText})

	// (2) Evidence extraction. A failed or empty extraction is a no-op merge.
	partial := o.evidence.ExtractTurn(ctx, session, Turn{Role: "user", Text: userText})

	// (3) Persona re-classification on meaningful change, not every turn.
	o.maybeReclassify(session, partial)

	// Stage re-evaluation before the model sees the conversation.
	session.Lock()
	o.advanceStage(session, StageSignal{Kind: SignalEvidenceAdded})
	session.Unlock()

	turnCtx := TurnContext{
		Turn:              turn,
		ExcitementSignals: countMarker(partial.EmotionalMarkers, MarkerExcitement) + countMarker(partial.EmotionalMarkers, MarkerUrgency),
	}

	// (4)-(5) Drive the model, executing tool calls between rounds. Tool
	// calls within a turn run strictly serialized: later calls may depend on
	// state written by earlier ones.
	assistantText := o.driveModel(ctx, rt, driver, turnCtx)

	// (6) The assistant always says something.
	if strings.TrimSpace(assistantText) == "" {
		assistantText = o.fallbackReply(rt)
	}
	rt.Store.AppendTurn(Turn{Role: "assistant", Text: assistantText})

	if o.metrics != nil {
		o.metrics.TurnsProcessed.WithLabelValues(driver.ChannelName()).Inc()
	}
	if o.sessions != nil {
		o.sessions.PersistSnapshot(rt)
	}
	return assistantText
}

// FinishSession handles the explicit "ready to finish" signal from either
// transport.
func (o *Orchestrator) FinishSession(rt *SessionRuntime) models.Stage {
	rt.Session.Lock()
	defer rt.Session.Unlock()
	return o.advanceStage(rt.Session, StageSignal{Kind: SignalReadyToFinish})
}

func (o *Orchestrator) advanceStage(session *models.Session, signal StageSignal) models.Stage {
	before := session.Stage
	after := o.stages.Advance(session, signal)
	if after != before && o.metrics != nil {
		o.metrics.StageTransitions.WithLabelValues(string(after)).Inc()
	}
	return after
}

// maybeReclassify recomputes the persona when this turn carried new
// evidence and either no classification exists yet or the provisional
// window has elapsed.
func (o *Orchestrator) maybeReclassify(session *models.Session, partial models.EvidenceRecord) {
	session.Lock()
	defer session.Unlock()

	if partial.IsEmpty() {
		return
	}
	session.TurnsSinceClassify++

	policy := o.policies.Current()
	needsClassify := session.Persona == nil ||
		(session.Persona.Provisional(policy.PersonaConfidenceThreshold) && session.TurnsSinceClassify >= policy.ReclassifyAfterTurns) ||
		session.TurnsSinceClassify >= policy.ReclassifyAfterTurns

	if !needsClassify {
		return
	}

	classification := o.classifier.Classify(session.Evidence)
	session.Persona = &classification
	session.TurnsSinceClassify = 0
	log.Printf("🎭 [PERSONA] Session %s: %s (confidence %.2f)", session.ID, classification.Type, classification.Confidence)
}

// driveModel loops with the transport's driver until it produces final text
// or the iteration cap is hit. Every tool call passes through the policy
// first; rejections are fed back as plain tool results, never errors.
func (o *Orchestrator) driveModel(ctx context.Context, rt *SessionRuntime, driver ModelDriver, turnCtx TurnContext) string {
	req := ModelRequest{
		SystemPrompt: o.BuildSystemPrompt(rt),
		History:      rt.Store.History(),
		Tools:        models.ToolSchemas(),
	}

	maxCalls := o.policies.Current().MaxToolCallsPerTurn
	executed := 0

	for iteration := 0; iteration < maxDriverIterations; iteration++ {
		resp, err := driver.Generate(ctx, req)
		if err != nil {
			log.Printf("⚠️ [ORCHESTRATOR] Session %s: driver error on %s channel: %v", rt.Session.ID, driver.ChannelName(), err)
			return o.fallbackReply(rt)
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Text
		}

		for _, call := range resp.ToolCalls {
			if executed >= maxCalls {
				req.ToolResults = append(req.ToolResults, ToolResult{
					CallID: call.ID, Name: call.Name, Args: call.ArgsJSON,
					Result: fmt.Sprintf("The %s action was deferred (%s): too many tool calls this turn.", call.Name, ReasonRateLimited),
				})
				continue
			}
			result := o.handleToolCall(ctx, rt, call, turnCtx)
			req.ToolResults = append(req.ToolResults, ToolResult{CallID: call.ID, Name: call.Name, Args: call.ArgsJSON, Result: result})
			executed++
		}
		// History may have grown through tool side effects; refresh it so
		// the next round sees committed state.
		req.History = rt.Store.History()
	}

	log.Printf("⚠️ [ORCHESTRATOR] Session %s: driver hit iteration cap without final text", rt.Session.ID)
	return o.fallbackReply(rt)
}

// handleToolCall parses, polices, executes and records a single tool call,
// returning the plain-text result the model receives.
func (o *Orchestrator) handleToolCall(ctx context.Context, rt *SessionRuntime, call ToolCall, turnCtx TurnContext) string {
	session := rt.Session

	req, err := models.ParseToolRequest(call.Name, call.ArgsJSON)
	if err != nil {
		o.recordInvocation(session, call, turnCtx.Turn, models.OutcomeError, err.Error())
		return fmt.Sprintf("The %s action could not be understood: %v", call.Name, err)
	}

	decision := o.policy.Evaluate(session, req, turnCtx)
	if !decision.Allow {
		message := RejectionMessage(call.Name, decision.Reason)
		o.recordInvocation(session, call, turnCtx.Turn, models.OutcomeRejectedByPolicy, decision.Reason)
		rt.Emit(models.ServerMessage{Type: "tool_result", SessionID: session.ID, ToolName: call.Name, Status: "rejected", Result: decision.Reason})
		log.Printf("🚦 [POLICY] Session %s: %s deferred (%s)", session.ID, call.Name, decision.Reason)
		return message
	}

	rt.Emit(models.ServerMessage{Type: "tool_call", SessionID: session.ID, ToolName: call.Name, Status: "executing"})

	started := time.Now()
	result, err := o.executor.Execute(ctx, rt, req)
	if err != nil {
		// ToolExecutionFailure: surfaced to the model as text, the
		// conversation continues.
		o.recordInvocation(session, call, turnCtx.Turn, models.OutcomeError, err.Error())
		rt.Emit(models.ServerMessage{Type: "tool_result", SessionID: session.ID, ToolName: call.Name, Status: "error", Result: err.Error()})
		log.Printf("❌ [TOOLS] Session %s: %s failed after %v: %v", session.ID, call.Name, time.Since(started).Round(time.Millisecond), err)
		return fmt.Sprintf("The %s action failed: %v. Continue the conversation with what is already known.", call.Name, err)
	}

	o.recordInvocation(session, call, turnCtx.Turn, models.OutcomeSuccess, result)

	session.Lock()
	o.advanceStage(session, StageSignal{Kind: SignalToolSucceeded, Tool: call.Name})
	stage := session.Stage
	session.Unlock()

	rt.Emit(models.ServerMessage{Type: "tool_result", SessionID: session.ID, ToolName: call.Name, Status: "completed", Result: result, Stage: string(stage)})
	return result
}

func (o *Orchestrator) recordInvocation(session *models.Session, call ToolCall, turn int, outcome models.ToolOutcome, result string) {
	session.RecordToolInvocation(models.ToolInvocationRecord{
		ToolName:        call.Name,
		RequestedAtTurn: turn,
		Params:          call.ArgsJSON,
		Result:          result,
		Outcome:         outcome,
		Timestamp:       time.Now(),
	})
	if o.metrics != nil {
		o.metrics.ToolInvocations.WithLabelValues(call.Name, string(outcome)).Inc()
	}
}

// BuildSystemPrompt assembles the system prompt from Context Store
// contents. Both transports use it verbatim; channel-specific phrasing
// would break parity.
func (o *Orchestrator) BuildSystemPrompt(rt *SessionRuntime) string {
	session := rt.Session
	profile := rt.Store.Profile()

	var sb strings.Builder
	sb.WriteString("You are a supportive career guide helping someone explore career directions.\n\n")

	session.RLock()
	sb.WriteString(fmt.Sprintf("Conversation stage: %s.\n", session.Stage))
	if session.Persona != nil && session.Persona.Type != models.PersonaUnknown {
		threshold := o.policies.Current().PersonaConfidenceThreshold
		if session.Persona.Confidence >= threshold {
			sb.WriteString(fmt.Sprintf("The person's profile suggests a %s. Match their tone and pacing.\n", session.Persona.Type))
		} else {
			sb.WriteString(fmt.Sprintf("Provisional read: possibly a %s (low confidence). Keep exploring before tailoring heavily.\n", session.Persona.Type))
		}
	}
	session.RUnlock()

	if len(profile.Interests) > 0 {
		sb.WriteString(fmt.Sprintf("Known interests: %s.\n", strings.Join(profile.Interests, ", ")))
	}
	if len(profile.Goals) > 0 {
		sb.WriteString(fmt.Sprintf("Known goals: %s.\n", strings.Join(profile.Goals, ", ")))
	}
	if len(profile.Skills) > 0 {
		sb.WriteString(fmt.Sprintf("Known skills: %s.\n", strings.Join(profile.Skills, ", ")))
	}

	if analysis := rt.Store.Analysis(); analysis != nil && len(analysis.Directions) > 0 {
		titles := make([]string, 0, 3)
		for i, d := range analysis.Directions {
			if i == 3 {
				break
			}
			titles = append(titles, d.Title)
		}
		sb.WriteString(fmt.Sprintf("Latest analysis surfaced: %s.\n", strings.Join(titles, ", ")))
	}

	sb.WriteString("\nUse the provided tools to record profile details, analyze the conversation, generate recommendations and surface insights. If a tool reports that it was deferred, accept that and keep the conversation moving.\n")
	return sb.String()
}

// fallbackReply builds a useful reply from committed state when the model
// or every tool failed. The worst case is still a deliverable.
func (o *Orchestrator) fallbackReply(rt *SessionRuntime) string {
	if cards := rt.Store.Recommendations(); len(cards) > 0 {
		titles := make([]string, 0, len(cards))
		for _, c := range cards {
			titles = append(titles, c.Title)
		}
		return fmt.Sprintf("I couldn't generate anything new right now, but based on what you've told me so far, these directions still stand out: %s. Want to dig into one of them?", strings.Join(titles, ", "))
	}

	// The profile snapshot is tool-written; fall back to extracted evidence
	// so even a first-turn failure can reference something the user said.
	interests := rt.Store.Profile().Interests
	if len(interests) == 0 {
		rt.Session.RLock()
		interests = append([]string(nil), rt.Session.Evidence.Interests...)
		rt.Session.RUnlock()
	}
	if len(interests) > 0 {
		return fmt.Sprintf("I hit a snag generating new suggestions right now, but based on what you've told me so far, especially your interest in %s, we have plenty to work with. Tell me more about what you enjoy about it.", interests[0])
	}
	return "I couldn't generate new recommendations right now, but I'd love to keep exploring. What do you enjoy doing most?"
}
