package services

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"pathfinder/internal/config"
	"pathfinder/internal/models"
)

// scriptedDriver plays back a fixed sequence of model responses and records
// every request it receives.
type scriptedDriver struct {
	channel  string
	script   []ModelResponse
	err      error
	requests []ModelRequest
	step     int
}

func (d *scriptedDriver) ChannelName() string { return d.channel }

func (d *scriptedDriver) Generate(ctx context.Context, req ModelRequest) (*ModelResponse, error) {
	d.requests = append(d.requests, req)
	if d.err != nil {
		return nil, d.err
	}
	if d.step >= len(d.script) {
		return &ModelResponse{Text: "I'm out of things to say."}, nil
	}
	resp := d.script[d.step]
	d.step++
	return &resp, nil
}

func newTestOrchestrator() (*Orchestrator, *SessionService) {
	policies := config.NewPolicyStore("")
	stages := NewStageMachine(policies.PersonaThreshold)
	enhancement := NewEnhancementService(&fakeMarketClient{}, policies, nil)
	sessions := NewSessionService(enhancement, nil, nil)
	executor := NewToolExecutor(enhancement, stages, nil, sessions, nil)

	orch := NewOrchestrator(
		NewEvidenceService(nil),
		NewPersonaClassifier(),
		stages,
		NewPolicyService(policies),
		executor,
		sessions,
		policies,
		nil,
	)
	return orch, sessions
}

func TestOrchestrator_PlainTextTurn(t *testing.T) {
	orch, sessions := newTestOrchestrator()
	rt := sessions.Create(models.ChannelText)
	defer sessions.End(rt.Session.ID)

	driver := &scriptedDriver{channel: "text", script: []ModelResponse{
		{Text: "Tell me more about what you enjoy."},
	}}

	reply := orch.ProcessTurn(context.Background(), rt, driver, "hi there")
	if reply != "Tell me more about what you enjoy." {
		t.Errorf("reply = %q", reply)
	}

	history := rt.Store.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want user + assistant", len(history))
	}
	if history[0].Role != "user" || history[0].Text != "hi there" {
		t.Errorf("first turn = %+v", history[0])
	}
	if history[1].Role != "assistant" || history[1].Text != reply {
		t.Errorf("second turn = %+v", history[1])
	}
}

func TestOrchestrator_DriverFailureStillReplies(t *testing.T) {
	orch, sessions := newTestOrchestrator()
	rt := sessions.Create(models.ChannelText)
	defer sessions.End(rt.Session.ID)

	driver := &scriptedDriver{channel: "text", err: errors.New("engine unreachable")}

	reply := orch.ProcessTurn(context.Background(), rt, driver, "I love coding")
	if strings.TrimSpace(reply) == "" {
		t.Fatal("driver failure must still produce assistant text")
	}
	// The fallback draws on committed evidence from this very turn.
	if !strings.Contains(reply, "coding") {
		t.Errorf("fallback reply should mention the known interest: %q", reply)
	}

	history := rt.Store.History()
	if len(history) != 2 || history[1].Role != "assistant" {
		t.Errorf("fallback reply not appended to history: %v", history)
	}
}

func TestOrchestrator_ToolFlow(t *testing.T) {
	orch, sessions := newTestOrchestrator()
	rt := sessions.Create(models.ChannelText)
	defer sessions.End(rt.Session.ID)

	driver := &scriptedDriver{channel: "text", script: []ModelResponse{
		{ToolCalls: []ToolCall{
			{ID: "call-1", Name: models.ToolUpdateProfile, ArgsJSON: `{"interests":["coding"],"skills":["python"]}`},
			{ID: "call-2", Name: models.ToolAnalyzeCareers, ArgsJSON: `{"trigger_reason":"enough evidence gathered"}`},
		}},
		{Text: "Here is what stands out so far."},
	}}

	reply := orch.ProcessTurn(context.Background(), rt, driver, "I love coding and I'm good at python")
	if reply != "Here is what stands out so far." {
		t.Errorf("reply = %q", reply)
	}

	rt.Session.RLock()
	if len(rt.Session.ToolHistory) != 2 {
		t.Fatalf("tool history = %d records, want 2", len(rt.Session.ToolHistory))
	}
	for _, record := range rt.Session.ToolHistory {
		if record.Outcome != models.OutcomeSuccess {
			t.Errorf("record %s outcome = %s, want success", record.ToolName, record.Outcome)
		}
	}
	stage := rt.Session.Stage
	rt.Session.RUnlock()

	// Evidence reached classification this turn, and the successful analysis
	// unlocked tailored guidance.
	if stage != models.StageTailoredGuidance {
		t.Errorf("stage = %s, want tailored_guidance", stage)
	}
	if rt.Store.Analysis() == nil {
		t.Error("analysis result was not committed to the context store")
	}

	// The second model round carries both tool results.
	if len(driver.requests) != 2 {
		t.Fatalf("driver rounds = %d, want 2", len(driver.requests))
	}
	results := driver.requests[1].ToolResults
	if len(results) != 2 || results[0].Name != models.ToolUpdateProfile || results[1].Name != models.ToolAnalyzeCareers {
		t.Errorf("second round tool results = %+v", results)
	}
}

func TestOrchestrator_PolicyRejectionSurfacedAsToolResult(t *testing.T) {
	orch, sessions := newTestOrchestrator()
	rt := sessions.Create(models.ChannelText)
	defer sessions.End(rt.Session.ID)

	var emitted []models.ServerMessage
	rt.SetEmitter(func(msg models.ServerMessage) { emitted = append(emitted, msg) })

	driver := &scriptedDriver{channel: "text", script: []ModelResponse{
		{ToolCalls: []ToolCall{
			{ID: "call-1", Name: models.ToolInstantInsights, ArgsJSON: `{"trigger_reason":"seems keen"}`},
		}},
		{Text: "Let's keep talking."},
	}}

	// A neutral turn carries no excitement signal, so the insight is deferred.
	reply := orch.ProcessTurn(context.Background(), rt, driver, "tell me about different careers")
	if reply != "Let's keep talking." {
		t.Errorf("reply = %q, rejection must not break the turn", reply)
	}

	rt.Session.RLock()
	if len(rt.Session.ToolHistory) != 1 || rt.Session.ToolHistory[0].Outcome != models.OutcomeRejectedByPolicy {
		t.Errorf("tool history = %+v, want one rejected_by_policy record", rt.Session.ToolHistory)
	}
	rt.Session.RUnlock()

	results := driver.requests[1].ToolResults
	if len(results) != 1 {
		t.Fatalf("tool results = %d, want 1", len(results))
	}
	if !strings.Contains(results[0].Result, ReasonNoTriggerSignal) {
		t.Errorf("result %q should carry the %s reason as plain text", results[0].Result, ReasonNoTriggerSignal)
	}

	var sawRejected bool
	for _, msg := range emitted {
		if msg.Type == "tool_result" && msg.Status == "rejected" {
			sawRejected = true
		}
	}
	if !sawRejected {
		t.Errorf("no rejected tool_result was emitted: %+v", emitted)
	}
}

func TestOrchestrator_TransportParity(t *testing.T) {
	script := func() []ModelResponse {
		return []ModelResponse{
			{ToolCalls: []ToolCall{
				{ID: "call-1", Name: models.ToolUpdateProfile, ArgsJSON: `{"interests":["coding"],"skills":["python"]}`},
				{ID: "call-2", Name: models.ToolAnalyzeCareers, ArgsJSON: `{"trigger_reason":"enough evidence gathered"}`},
			}},
			{Text: "Here is what stands out so far."},
		}
	}

	orch, sessions := newTestOrchestrator()
	userText := "I love coding and I'm good at python"

	textRT := sessions.Create(models.ChannelText)
	defer sessions.End(textRT.Session.ID)
	voiceRT := sessions.Create(models.ChannelVoice)
	defer sessions.End(voiceRT.Session.ID)

	textReply := orch.ProcessTurn(context.Background(), textRT, &scriptedDriver{channel: "text", script: script()}, userText)
	voiceReply := orch.ProcessTurn(context.Background(), voiceRT, &scriptedDriver{channel: "voice", script: script()}, userText)

	if textReply != voiceReply {
		t.Errorf("replies diverge: %q vs %q", textReply, voiceReply)
	}

	textRT.Session.RLock()
	voiceRT.Session.RLock()
	defer textRT.Session.RUnlock()
	defer voiceRT.Session.RUnlock()

	if textRT.Session.Stage != voiceRT.Session.Stage {
		t.Errorf("stages diverge: %s vs %s", textRT.Session.Stage, voiceRT.Session.Stage)
	}
	if !reflect.DeepEqual(textRT.Session.Evidence, voiceRT.Session.Evidence) {
		t.Errorf("evidence diverges:\n text: %+v\nvoice: %+v", textRT.Session.Evidence, voiceRT.Session.Evidence)
	}
	if textRT.Session.Persona == nil || voiceRT.Session.Persona == nil {
		t.Fatal("both channels should have classified a persona")
	}
	if textRT.Session.Persona.Type != voiceRT.Session.Persona.Type {
		t.Errorf("personas diverge: %s vs %s", textRT.Session.Persona.Type, voiceRT.Session.Persona.Type)
	}
	if !reflect.DeepEqual(textRT.Store.Profile(), voiceRT.Store.Profile()) {
		t.Errorf("profiles diverge:\n text: %+v\nvoice: %+v", textRT.Store.Profile(), voiceRT.Store.Profile())
	}
	if len(textRT.Store.History()) != len(voiceRT.Store.History()) {
		t.Errorf("history lengths diverge: %d vs %d", len(textRT.Store.History()), len(voiceRT.Store.History()))
	}
}
