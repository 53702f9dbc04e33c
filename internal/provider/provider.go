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

// Package provider defines the generation boundary: providers expose
// models, models generate streams of typed chunks. The orchestrator only
// consumes these interfaces; concrete providers live in subpackages.
package provider

import (
	"context"
)

// Status is a provider's readiness state.
type Status string

const (
	// StatusStarting means the provider is initializing.
	StatusStarting Status = "starting"
	// StatusReady means the provider can serve generation requests.
	StatusReady Status = "ready"
	// StatusError means the provider failed to initialize.
	StatusError Status = "error"
)

// Provider exposes a family of models behind one endpoint.
type Provider interface {
	// Name returns the provider's unique identifier.
	Name() string

	// Kind returns the provider family (e.g. "openai-compat").
	Kind() string

	// Status returns the provider's readiness state.
	Status() Status

	// Models lists the model names this provider serves.
	Models() []string

	// Model resolves a named model. Unknown names fail.
	Model(name string) (Model, error)
}

// Model generates replies as a stream of chunks.
type Model interface {
	// Name returns the model identifier.
	Name() string

	// Generate opens a generation stream. The returned channel closes
	// after the terminal chunk; stream-level failures arrive as a chunk
	// with Err set. Cancelling ctx terminates the stream.
	Generate(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Role identifies the sender of a request message.
type Role string

const (
	// RoleSystem is instruction context.
	RoleSystem Role = "system"
	// RoleUser is end-user input.
	RoleUser Role = "user"
	// RoleAssistant is prior model output.
	RoleAssistant Role = "assistant"
)

// Message is one entry of the generation context.
type Message struct {
	Role    Role
	Content string
}

// Request carries everything a model needs to generate.
type Request struct {
	// Messages is the conversation context, oldest first.
	Messages []Message

	// Temperature controls randomness; nil uses the provider default.
	Temperature *float64

	// MaxTokens bounds the reply length; nil uses the provider default.
	MaxTokens *int
}

// ChunkType discriminates the Chunk union.
type ChunkType string

const (
	// ChunkText is reply text.
	ChunkText ChunkType = "text"
	// ChunkReasoning is model reasoning text.
	ChunkReasoning ChunkType = "reasoning"
	// ChunkToolCall is a tool invocation requested by the model.
	ChunkToolCall ChunkType = "tool-call"
	// ChunkSource is a citation.
	ChunkSource ChunkType = "source"
	// ChunkReference is a link to related content.
	ChunkReference ChunkType = "reference"
	// ChunkResource is inline resource content.
	ChunkResource ChunkType = "resource"
	// ChunkFinish terminates the stream with reason and usage.
	ChunkFinish ChunkType = "finish"
)

// FinishReason explains why generation ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCall  FinishReason = "tool-call"
	FinishCancelled FinishReason = "cancelled"
	FinishError     FinishReason = "error"
)

// Usage counts tokens consumed by a generation.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Chunk is one streamed generation event. Only the fields belonging to
// Type are populated; Err marks a stream-level failure and is terminal.
type Chunk struct {
	Type ChunkType

	// Text carries text and reasoning content.
	Text string

	// ID, Name and Args describe a tool-call chunk.
	ID   string
	Name string
	Args string

	// URL and MimeType describe source, reference and resource chunks.
	URL      string
	MimeType string

	// Reason and Usage arrive with the finish chunk.
	Reason FinishReason
	Usage  *Usage

	// Err is a stream-level failure. The channel closes after it.
	Err error
}
