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

package chat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-app/parley/internal/parts"
	"github.com/parley-app/parley/internal/provider"
	"github.com/parley-app/parley/internal/store"
)

func TestContextBuilderSystemPromptAndHistory(t *testing.T) {
	conv := &store.Conversation{SystemPrompt: "be terse"}
	prior := []*store.Turn{
		{
			Prompt: store.Prompt{Kind: store.PromptUserInput, Text: "first question"},
			Reply:  []parts.Part{parts.TextPart("first answer")},
		},
	}
	prompt := store.Prompt{Kind: store.PromptUserInput, Text: "second question"}

	messages, err := DefaultContextBuilder{}.Build(conv, prior, prompt)
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.Equal(t, provider.RoleSystem, messages[0].Role)
	assert.Equal(t, "be terse", messages[0].Content)
	assert.Equal(t, provider.RoleUser, messages[1].Role)
	assert.Equal(t, "first question", messages[1].Content)
	assert.Equal(t, provider.RoleAssistant, messages[2].Role)
	assert.Equal(t, "first answer", messages[2].Content)
	assert.Equal(t, "second question", messages[3].Content)
}

func TestContextBuilderMaxContextMessages(t *testing.T) {
	conv := &store.Conversation{Config: store.ConversationConfig{MaxContextMessages: 2}}
	var prior []*store.Turn
	for i := 0; i < 5; i++ {
		prior = append(prior, &store.Turn{
			Prompt: store.Prompt{Kind: store.PromptUserInput, Text: fmt.Sprintf("q%d", i)},
			Reply:  []parts.Part{parts.TextPart(fmt.Sprintf("a%d", i))},
		})
	}

	messages, err := DefaultContextBuilder{}.Build(conv, prior,
		store.Prompt{Kind: store.PromptUserInput, Text: "now"})
	require.NoError(t, err)

	// Only the last two turns survive, plus the current prompt.
	require.Len(t, messages, 5)
	assert.Equal(t, "q3", messages[0].Content)
	assert.Equal(t, "a3", messages[1].Content)
	assert.Equal(t, "q4", messages[2].Content)
	assert.Equal(t, "a4", messages[3].Content)
	assert.Equal(t, "now", messages[4].Content)
}

func TestContextBuilderSkipsReasoning(t *testing.T) {
	conv := &store.Conversation{}
	prior := []*store.Turn{
		{
			Prompt: store.Prompt{Kind: store.PromptUserInput, Text: "q"},
			Reply: []parts.Part{
				{Type: parts.TypeReasoning, Text: "secret thinking"},
				parts.TextPart("visible answer"),
			},
		},
	}

	messages, err := DefaultContextBuilder{}.Build(conv, prior,
		store.Prompt{Kind: store.PromptUserInput, Text: "next"})
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "visible answer", messages[1].Content)
	assert.NotContains(t, messages[1].Content, "secret")
}

func TestContextBuilderToolResultPrompt(t *testing.T) {
	conv := &store.Conversation{}
	prompt := store.Prompt{
		Kind:       store.PromptToolResult,
		ToolCallID: "call_1",
		Parts:      []parts.Part{parts.TextPart(`{"result":"ok"}`)},
	}

	messages, err := DefaultContextBuilder{}.Build(conv, nil, prompt)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, provider.RoleUser, messages[0].Role)
	assert.Contains(t, messages[0].Content, `"result":"ok"`)
}
