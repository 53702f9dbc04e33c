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

// Package chat orchestrates conversation turns: it resolves the provider,
// persists the turn before generation starts, and merges the streamed
// chunks into the turn's reply with incremental persistence.
package chat

import (
	"strings"

	"github.com/parley-app/parley/internal/parts"
	"github.com/parley-app/parley/internal/provider"
	"github.com/parley-app/parley/internal/store"
)

// ContextBuilder assembles the generation context for a turn.
type ContextBuilder interface {
	Build(conv *store.Conversation, prior []*store.Turn, prompt store.Prompt) ([]provider.Message, error)
}

// DefaultContextBuilder flattens the conversation history into provider
// messages: system prompt first, then prior turns oldest-first bounded by
// the conversation's max context messages, then the current prompt.
type DefaultContextBuilder struct{}

// Build implements ContextBuilder.
func (DefaultContextBuilder) Build(conv *store.Conversation, prior []*store.Turn, prompt store.Prompt) ([]provider.Message, error) {
	var messages []provider.Message
	if conv.SystemPrompt != "" {
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: conv.SystemPrompt})
	}

	turns := prior
	if max := conv.Config.MaxContextMessages; max > 0 && len(turns) > max {
		turns = turns[len(turns)-max:]
	}
	for _, turn := range turns {
		if user := renderPrompt(turn.Prompt); user != "" {
			messages = append(messages, provider.Message{Role: provider.RoleUser, Content: user})
		}
		if reply := renderReply(turn.Reply); reply != "" {
			messages = append(messages, provider.Message{Role: provider.RoleAssistant, Content: reply})
		}
	}

	if user := renderPrompt(prompt); user != "" {
		messages = append(messages, provider.Message{Role: provider.RoleUser, Content: user})
	}
	return messages, nil
}

// renderPrompt flattens a prompt variant into user-facing text.
func renderPrompt(p store.Prompt) string {
	switch p.Kind {
	case store.PromptUserInput, store.PromptExternal:
		return p.Text
	case store.PromptUserPrompt:
		if p.Text != "" {
			return p.Text
		}
		return p.URI
	case store.PromptToolResult:
		return renderParts(p.Parts)
	default:
		return p.Text
	}
}

// renderReply extracts a turn's text content; reasoning and non-text
// parts stay out of the context window.
func renderReply(reply []parts.Part) string {
	var b strings.Builder
	for _, part := range reply {
		if part.Type == parts.TypeText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

func renderParts(ps []parts.Part) string {
	var b strings.Builder
	for _, part := range ps {
		if part.Text != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
