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

// Package store persists conversations and turns in SQLite and exposes
// live-query subscriptions fed by in-process change notification.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/parley-app/parley/internal/parts"
	"github.com/parley-app/parley/internal/provider"
)

// PromptKind discriminates the prompt union of a turn.
type PromptKind string

const (
	// PromptUserInput is free text typed by the user.
	PromptUserInput PromptKind = "user-input"
	// PromptUserPrompt is a server prompt invoked by URI with arguments.
	PromptUserPrompt PromptKind = "user-prompt"
	// PromptToolResult feeds a tool call's result back to the model.
	PromptToolResult PromptKind = "tool-result"
	// PromptExternal is a prompt injected by an external caller.
	PromptExternal PromptKind = "external-prompt"
)

// Prompt is the tagged input of a turn. Only the fields belonging to Kind
// are populated.
type Prompt struct {
	Kind PromptKind `json:"type"`

	// Text is the user's input (PromptUserInput, PromptExternal).
	Text string `json:"text,omitempty"`

	// URI addresses the server prompt (PromptUserPrompt).
	URI string `json:"uri,omitempty"`

	// Args are the server prompt's arguments (PromptUserPrompt).
	Args map[string]string `json:"args,omitempty"`

	// ToolCallID links a tool result to its originating call.
	ToolCallID string `json:"toolCallId,omitempty"`

	// Parts carries tool-result content (PromptToolResult).
	Parts []parts.Part `json:"parts,omitempty"`
}

// Validate checks that the prompt kind is one of the known variants.
func (p Prompt) Validate() error {
	switch p.Kind {
	case PromptUserInput, PromptUserPrompt, PromptToolResult, PromptExternal:
		return nil
	default:
		return fmt.Errorf("unknown prompt kind %q", p.Kind)
	}
}

// UnmarshalJSON decodes a prompt and rejects unknown kinds, so malformed
// rows surface at read time instead of flowing onward.
func (p *Prompt) UnmarshalJSON(data []byte) error {
	type alias Prompt
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*p = Prompt(decoded)
	return p.Validate()
}

// TurnMetadata snapshots the provider and model a turn was generated
// with, so history stays interpretable after configuration changes.
type TurnMetadata struct {
	ProviderID   string `json:"providerId,omitempty"`
	ProviderKind string `json:"providerKind,omitempty"`
	Model        string `json:"model,omitempty"`
}

// Turn is one request/response exchange within a conversation. Reply
// parts are append-only during generation; the row is terminal once
// FinishReason is set.
type Turn struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	Prompt         Prompt          `json:"prompt"`
	Reply          []parts.Part    `json:"reply"`
	FinishReason   string          `json:"finishReason,omitempty"`
	Usage          *provider.Usage `json:"usage,omitempty"`
	Error          string          `json:"error,omitempty"`
	Metadata       TurnMetadata    `json:"metadata"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// ConversationConfig tunes generation for a conversation.
type ConversationConfig struct {
	MaxTokens          *int     `json:"maxTokens,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
	MaxContextMessages int      `json:"maxContextMessages,omitempty"`
}

// Conversation is the parent of turns.
type Conversation struct {
	ID           string             `json:"id"`
	Title        string             `json:"title"`
	ProviderID   string             `json:"providerId,omitempty"`
	Model        string             `json:"model,omitempty"`
	SystemPrompt string             `json:"systemPrompt,omitempty"`
	Config       ConversationConfig `json:"config"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}
