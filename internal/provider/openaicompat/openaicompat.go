// Copyright 2025 The Parley Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package openaicompat implements the provider interfaces against any
// OpenAI-compatible chat-completions endpoint.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/parley-app/parley/internal/perrors"
	"github.com/parley-app/parley/internal/provider"
)

// Config configures a provider instance.
type Config struct {
	// Name is the registry identifier for this provider.
	Name string

	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// Models lists the model names this provider serves.
	Models []string

	// Timeout bounds each generation request. Zero means 5 minutes.
	Timeout time.Duration

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Provider serves OpenAI-compatible models.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	models  []string
	client  *http.Client
}

var _ provider.Provider = (*Provider)(nil)

// New creates a provider from config.
func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 5 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Provider{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		models:  cfg.Models,
		client:  client,
	}, nil
}

// Name returns the provider's registry identifier.
func (p *Provider) Name() string { return p.name }

// Kind returns the provider family.
func (p *Provider) Kind() string { return "openai-compat" }

// Status returns the provider's readiness state.
func (p *Provider) Status() provider.Status { return provider.StatusReady }

// Models lists the configured model names.
func (p *Provider) Models() []string {
	out := make([]string, len(p.models))
	copy(out, p.models)
	return out
}

// Model resolves a configured model by name.
func (p *Provider) Model(name string) (provider.Model, error) {
	for _, m := range p.models {
		if m == name {
			return &model{provider: p, name: name}, nil
		}
	}
	return nil, &perrors.NotFoundError{Resource: "model", ID: name}
}

type model struct {
	provider *Provider
	name     string
}

func (m *model) Name() string { return m.name }

// chatRequest is the chat-completions request body.
type chatRequest struct {
	Model         string        `json:"model"`
	Messages      []chatMessage `json:"messages"`
	Stream        bool          `json:"stream"`
	StreamOptions *streamOpts   `json:"stream_options,omitempty"`
	Temperature   *float64      `json:"temperature,omitempty"`
	MaxTokens     *int          `json:"max_tokens,omitempty"`
}

type streamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatStreamEvent is one SSE data payload of a streamed completion.
type chatStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate opens a streamed chat completion.
func (m *model) Generate(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("generation request needs at least one message")
	}

	apiReq := chatRequest{
		Model:         m.name,
		Stream:        true,
		StreamOptions: &streamOpts{IncludeUsage: true},
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
	}
	for _, msg := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, chatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.provider.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if m.provider.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.provider.apiKey)
	}

	resp, err := m.provider.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("api error (status %d)", resp.StatusCode)
	}

	chunks := make(chan provider.Chunk, 16)
	go m.processStream(ctx, resp, chunks)
	return chunks, nil
}

// processStream reads the SSE body and emits chunks until finish or error.
func (m *model) processStream(ctx context.Context, resp *http.Response, chunks chan<- provider.Chunk) {
	defer close(chunks)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	var usage *provider.Usage
	var reason provider.FinishReason

	for {
		select {
		case <-ctx.Done():
			chunks <- provider.Chunk{Type: provider.ChunkFinish, Reason: provider.FinishCancelled, Err: ctx.Err()}
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				if reason == "" {
					reason = provider.FinishStop
				}
				chunks <- provider.Chunk{Type: provider.ChunkFinish, Reason: reason, Usage: usage}
				return
			}
			chunks <- provider.Chunk{Type: provider.ChunkFinish, Reason: provider.FinishError,
				Err: fmt.Errorf("stream read error: %w", err)}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			if reason == "" {
				reason = provider.FinishStop
			}
			chunks <- provider.Chunk{Type: provider.ChunkFinish, Reason: reason, Usage: usage}
			return
		}

		var event chatStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		if event.Usage != nil {
			usage = &provider.Usage{
				InputTokens:  event.Usage.PromptTokens,
				OutputTokens: event.Usage.CompletionTokens,
			}
		}
		if len(event.Choices) == 0 {
			continue
		}
		choice := event.Choices[0]

		if choice.Delta.ReasoningContent != "" {
			chunks <- provider.Chunk{Type: provider.ChunkReasoning, Text: choice.Delta.ReasoningContent}
		}
		if choice.Delta.Content != "" {
			chunks <- provider.Chunk{Type: provider.ChunkText, Text: choice.Delta.Content}
		}
		for _, call := range choice.Delta.ToolCalls {
			chunks <- provider.Chunk{
				Type: provider.ChunkToolCall,
				ID:   call.ID,
				Name: call.Function.Name,
				Args: call.Function.Arguments,
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			reason = mapFinishReason(*choice.FinishReason)
		}
	}
}

func mapFinishReason(raw string) provider.FinishReason {
	switch raw {
	case "stop":
		return provider.FinishStop
	case "length":
		return provider.FinishLength
	case "tool_calls":
		return provider.FinishToolCall
	default:
		return provider.FinishReason(raw)
	}
}
