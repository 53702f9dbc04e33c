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

package mcp

import (
	"context"
	"fmt"

	"github.com/parley-app/parley/internal/parts"
)

// ProtocolClient is the transport-agnostic view of a live MCP session.
// The capability managers only ever talk to this interface; the production
// implementation is Client, and tests substitute scripted fakes.
type ProtocolClient interface {
	// Capabilities returns the server's negotiated capabilities.
	Capabilities() Capabilities

	// ListTools fetches one page of the tool catalog. An empty cursor
	// requests the first page; an empty next cursor ends the chain.
	ListTools(ctx context.Context, cursor string) (ToolPage, error)

	// ListPrompts fetches one page of the prompt catalog.
	ListPrompts(ctx context.Context, cursor string) (PromptPage, error)

	// ListResources fetches one page of the resource catalog.
	ListResources(ctx context.Context, cursor string) (ResourcePage, error)

	// ListResourceTemplates fetches one page of the resource template
	// catalog.
	ListResourceTemplates(ctx context.Context, cursor string) (ResourceTemplatePage, error)

	// CallTool invokes a tool by its server-side name.
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolCallResult, error)

	// GetPrompt fetches a prompt's messages by its server-side name.
	GetPrompt(ctx context.Context, name string, args map[string]string) (*RawPromptResult, error)

	// ReadResource reads a resource by its server-side URI.
	ReadResource(ctx context.Context, uri string) ([]parts.ContentBlock, error)

	// Complete requests argument completion suggestions.
	Complete(ctx context.Context, ref CompleteRef, argName, argValue string) (*CompleteResult, error)

	// OnListChanged registers the handler invoked when the server sends a
	// listChanged notification for a capability. At most one handler is
	// supported; registering replaces the previous one.
	OnListChanged(handler func(Capability))

	// Ping checks that the server is still responsive.
	Ping(ctx context.Context) error

	// Close tears down the session and its transport.
	Close() error
}

// ToolPage is one page of a paginated tool listing. Items carry raw
// protocol fields; the Tools manager decorates them with URIs.
type ToolPage struct {
	Tools      []RawTool
	NextCursor string
}

// RawTool is an undecorated protocol tool definition.
type RawTool struct {
	Name        string
	Description string
	InputSchema []byte
}

// PromptPage is one page of a paginated prompt listing.
type PromptPage struct {
	Prompts    []RawPrompt
	NextCursor string
}

// RawPrompt is an undecorated protocol prompt definition.
type RawPrompt struct {
	Name          string
	Description   string
	ArgumentNames []string
}

// ResourcePage is one page of a paginated resource listing.
type ResourcePage struct {
	Resources  []RawResource
	NextCursor string
}

// RawResource is an undecorated protocol resource definition.
type RawResource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// ResourceTemplatePage is one page of a paginated resource template listing.
type ResourceTemplatePage struct {
	Templates  []RawResourceTemplate
	NextCursor string
}

// RawResourceTemplate is an undecorated protocol resource template.
type RawResourceTemplate struct {
	URITemplate string
	Name        string
	Description string
	MimeType    string
}

// RawPromptResult is the protocol-level result of a prompt get.
type RawPromptResult struct {
	Description string
	Messages    []RawPromptMessage
}

// RawPromptMessage is one protocol-level prompt message.
type RawPromptMessage struct {
	Role   string
	Blocks []parts.ContentBlock
}

// ProtocolError is a JSON-RPC level failure reported by the server.
type ProtocolError struct {
	// Code is the JSON-RPC error code.
	Code int

	// Message describes the error.
	Message string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// CodeResourceNotFound is the protocol error code servers return for a
// read of a nonexistent resource.
const CodeResourceNotFound = -32002
