package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CompletionDriver talks to an OpenAI-compatible chat-completions endpoint.
// Both transports use one; they differ only in channel name and model, which
// keeps everything the model is told identical across channels.
type CompletionDriver struct {
	channel string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewCompletionDriver creates a driver for one transport channel.
func NewCompletionDriver(channel, baseURL, apiKey, model string, timeout time.Duration) *CompletionDriver {
	return &CompletionDriver{
		channel: channel,
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// ChannelName identifies the transport this driver serves.
func (d *CompletionDriver) ChannelName() string { return d.channel }

// Generate sends one completion request and maps the response back into the
// orchestrator's types.
func (d *CompletionDriver) Generate(ctx context.Context, req ModelRequest) (*ModelResponse, error) {
	reqBody := map[string]interface{}{
		"model":    d.model,
		"messages": d.buildMessages(req),
		"stream":   false,
	}
	if len(req.Tools) > 0 {
		reqBody["tools"] = req.Tools
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", d.baseURL+"/chat/completions", bytes.NewBuffer(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	message := result.Choices[0].Message
	out := &ModelResponse{Text: message.Content}
	for _, call := range message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:       call.ID,
			Name:     call.Function.Name,
			ArgsJSON: call.Function.Arguments,
		})
	}
	return out, nil
}

// buildMessages replays the turn as an OpenAI-style transcript: system
// prompt, conversation history, then this turn's tool calls with their
// results.
func (d *CompletionDriver) buildMessages(req ModelRequest) []map[string]interface{} {
	messages := make([]map[string]interface{}, 0, len(req.History)+2*len(req.ToolResults)+1)
	messages = append(messages, map[string]interface{}{
		"role":    "system",
		"content": req.SystemPrompt,
	})

	for _, turn := range req.History {
		messages = append(messages, map[string]interface{}{
			"role":    turn.Role,
			"content": turn.Text,
		})
	}

	for _, tr := range req.ToolResults {
		messages = append(messages, map[string]interface{}{
			"role": "assistant",
			"tool_calls": []map[string]interface{}{
				{
					"id":   tr.CallID,
					"type": "function",
					"function": map[string]interface{}{
						"name":      tr.Name,
						"arguments": tr.Args,
					},
				},
			},
		})
		messages = append(messages, map[string]interface{}{
			"role":         "tool",
			"tool_call_id": tr.CallID,
			"content":      tr.Result,
		})
	}
	return messages
}
