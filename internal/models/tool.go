package models

import (
	"encoding/json"
	"fmt"
)

// Tool names as exposed to the conversational model. These are the only
// schema names either transport may offer.
const (
	ToolAnalyzeCareers          = "analyze_conversation_for_careers"
	ToolUpdateProfile           = "update_person_profile"
	ToolGenerateRecommendations = "generate_career_recommendations"
	ToolInstantInsights         = "trigger_instant_insights"
)

// ToolRequest is the typed form of a model tool call. The concrete types
// below form a closed set; executors dispatch with a type switch so adding a
// tool is a compile-time change, not a string-matching risk.
type ToolRequest interface {
	ToolName() string
}

// AnalyzeCareersRequest asks for a first-pass career analysis of the
// conversation so far.
type AnalyzeCareersRequest struct {
	TriggerReason string `json:"trigger_reason"`
}

func (AnalyzeCareersRequest) ToolName() string { return ToolAnalyzeCareers }

// UpdateProfileRequest merges model-extracted profile fields into the
// person's profile snapshot.
type UpdateProfileRequest struct {
	Interests         []string `json:"interests,omitempty"`
	Goals             []string `json:"goals,omitempty"`
	Skills            []string `json:"skills,omitempty"`
	PersonalQualities []string `json:"personalQualities,omitempty"`
}

func (UpdateProfileRequest) ToolName() string { return ToolUpdateProfile }

// Empty reports whether the request carries no new profile fields.
func (r UpdateProfileRequest) Empty() bool {
	return len(r.Interests) == 0 && len(r.Goals) == 0 &&
		len(r.Skills) == 0 && len(r.PersonalQualities) == 0
}

// GenerateRecommendationsRequest asks for basic career cards to be generated
// from the latest analysis.
type GenerateRecommendationsRequest struct {
	TriggerReason string `json:"trigger_reason"`
}

func (GenerateRecommendationsRequest) ToolName() string { return ToolGenerateRecommendations }

// InstantInsightsRequest asks for a lightweight observation in response to a
// user excitement or urgency signal.
type InstantInsightsRequest struct {
	TriggerReason string `json:"trigger_reason"`
}

func (InstantInsightsRequest) ToolName() string { return ToolInstantInsights }

// ParseToolRequest converts a raw model tool call into its typed form. This
// is the single place tool name strings are interpreted.
func ParseToolRequest(name, argsJSON string) (ToolRequest, error) {
	if argsJSON == "" {
		argsJSON = "{}"
	}
	switch name {
	case ToolAnalyzeCareers:
		var req AnalyzeCareersRequest
		if err := json.Unmarshal([]byte(argsJSON), &req); err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
		}
		return req, nil
	case ToolUpdateProfile:
		var req UpdateProfileRequest
		if err := json.Unmarshal([]byte(argsJSON), &req); err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
		}
		return req, nil
	case ToolGenerateRecommendations:
		var req GenerateRecommendationsRequest
		if err := json.Unmarshal([]byte(argsJSON), &req); err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
		}
		return req, nil
	case ToolInstantInsights:
		var req InstantInsightsRequest
		if err := json.Unmarshal([]byte(argsJSON), &req); err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
		}
		return req, nil
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// ToolSchemas returns the fixed tool schema list offered to the model by
// both transports, in OpenAI function-calling format.
func ToolSchemas() []map[string]interface{} {
	stringProp := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "string", "description": desc}
	}
	stringArrayProp := func(desc string) map[string]interface{} {
		return map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": desc,
		}
	}
	fn := func(name, desc string, props map[string]interface{}, required []string) map[string]interface{} {
		return map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        name,
				"description": desc,
				"parameters": map[string]interface{}{
					"type":       "object",
					"properties": props,
					"required":   required,
				},
			},
		}
	}

	return []map[string]interface{}{
		fn(ToolAnalyzeCareers,
			"Analyze the conversation so far for career directions that fit the person.",
			map[string]interface{}{
				"trigger_reason": stringProp("Why the analysis is being requested now"),
			}, []string{"trigger_reason"}),
		fn(ToolUpdateProfile,
			"Record newly learned interests, goals, skills or personal qualities.",
			map[string]interface{}{
				"interests":         stringArrayProp("Interests mentioned by the person"),
				"goals":             stringArrayProp("Goals mentioned by the person"),
				"skills":            stringArrayProp("Skills mentioned by the person"),
				"personalQualities": stringArrayProp("Personal qualities observed"),
			}, []string{}),
		fn(ToolGenerateRecommendations,
			"Generate career card recommendations from the completed analysis.",
			map[string]interface{}{
				"trigger_reason": stringProp("Why recommendations are being generated now"),
			}, []string{"trigger_reason"}),
		fn(ToolInstantInsights,
			"Surface an instant insight when the person expresses excitement or urgency.",
			map[string]interface{}{
				"trigger_reason": stringProp("The excitement or urgency signal that triggered this"),
			}, []string{"trigger_reason"}),
	}
}
