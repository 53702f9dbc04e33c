// Package mcp manages Model Context Protocol server connections and the
// capability catalogs they expose.
//
// The Connections manager owns connection lifecycle (connect, handshake,
// disconnect) and publishes lifecycle events; the Tools, Prompts, Resources
// and Completion managers subscribe to those events and maintain
// per-connection catalog caches, refreshed on listChanged notifications.
// All protocol traffic goes through the ProtocolClient interface; the
// production implementation wraps mark3labs/mcp-go.
package mcp

import (
	"encoding/json"
	"time"

	"github.com/parley-app/parley/internal/parts"
)

// TransportKind selects how a server connection is established.
type TransportKind string

const (
	// TransportStdio launches the server as a child process speaking
	// JSON-RPC over stdin/stdout.
	TransportStdio TransportKind = "stdio"
	// TransportHTTP connects to a streamable HTTP endpoint.
	TransportHTTP TransportKind = "http"
	// TransportSSE connects to a legacy SSE endpoint.
	TransportSSE TransportKind = "sse"
)

// TransportDescriptor describes how to reach an MCP server.
type TransportDescriptor struct {
	// Name is a human-readable label for the server.
	Name string `json:"name"`

	// Kind selects the transport.
	Kind TransportKind `json:"kind"`

	// Command, Args and Env configure a stdio transport.
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`

	// Endpoint and Headers configure an HTTP or SSE transport.
	Endpoint string            `json:"endpoint,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// Capability is a category of functionality an MCP server may advertise.
type Capability string

const (
	// CapabilityTools is the tools capability.
	CapabilityTools Capability = "tools"
	// CapabilityPrompts is the prompts capability.
	CapabilityPrompts Capability = "prompts"
	// CapabilityResources is the resources capability.
	CapabilityResources Capability = "resources"
	// CapabilityCompletions is the argument-completion capability.
	CapabilityCompletions Capability = "completions"
)

// ListCapability describes a list-style capability advertisement.
type ListCapability struct {
	// ListChanged indicates the server notifies when the catalog changes.
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourceCapability describes the resources capability advertisement.
type ResourceCapability struct {
	// Subscribe indicates clients may subscribe to individual resources.
	Subscribe bool `json:"subscribe,omitempty"`

	// ListChanged indicates the server notifies when the catalog changes.
	ListChanged bool `json:"listChanged,omitempty"`
}

// Capabilities is the negotiated capability snapshot for a connection.
type Capabilities struct {
	Tools       *ListCapability     `json:"tools,omitempty"`
	Prompts     *ListCapability     `json:"prompts,omitempty"`
	Resources   *ResourceCapability `json:"resources,omitempty"`
	Completions bool                `json:"completions,omitempty"`
}

// Has reports whether the given capability was advertised.
func (c Capabilities) Has(cap Capability) bool {
	switch cap {
	case CapabilityTools:
		return c.Tools != nil
	case CapabilityPrompts:
		return c.Prompts != nil
	case CapabilityResources:
		return c.Resources != nil
	case CapabilityCompletions:
		return c.Completions
	default:
		return false
	}
}

// ToolInfo is one tool in a connection's catalog, decorated with its
// synthesized URI.
type ToolInfo struct {
	// URI is the synthesized address tool:{connectionID}/{encodedName}.
	URI string `json:"uri"`

	// ConnectionID is the owning connection.
	ConnectionID string `json:"connectionId"`

	// Name is the server-side tool name.
	Name string `json:"name"`

	// Description explains what the tool does.
	Description string `json:"description,omitempty"`

	// InputSchema is the JSON Schema for the tool's arguments.
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// PromptInfo is one prompt in a connection's catalog.
type PromptInfo struct {
	// URI is the synthesized address prompt:{connectionID}/{encodedName}.
	URI string `json:"uri"`

	// ConnectionID is the owning connection.
	ConnectionID string `json:"connectionId"`

	// Name is the server-side prompt name.
	Name string `json:"name"`

	// Description explains what the prompt produces.
	Description string `json:"description,omitempty"`

	// ArgumentNames lists the prompt's declared arguments.
	ArgumentNames []string `json:"argumentNames,omitempty"`
}

// ResourceInfo is one resource in a connection's catalog. Resources are
// addressed through the shared external URL family rather than a
// synthesized capability URI.
type ResourceInfo struct {
	// URL is the external://{connectionID}?origin={uri} address.
	URL string `json:"url"`

	// ConnectionID is the owning connection.
	ConnectionID string `json:"connectionId"`

	// Origin is the server-side resource URI.
	Origin string `json:"origin"`

	// Name is a human-readable name.
	Name string `json:"name"`

	// Description explains what this resource contains.
	Description string `json:"description,omitempty"`

	// MimeType indicates the content type.
	MimeType string `json:"mimeType,omitempty"`
}

// ResourceTemplateInfo is one resource template in a connection's catalog.
type ResourceTemplateInfo struct {
	// ConnectionID is the owning connection.
	ConnectionID string `json:"connectionId"`

	// URITemplate is the RFC 6570 template for addressable resources.
	URITemplate string `json:"uriTemplate"`

	// Name is a human-readable name.
	Name string `json:"name"`

	// Description explains what the template addresses.
	Description string `json:"description,omitempty"`

	// MimeType indicates the content type.
	MimeType string `json:"mimeType,omitempty"`
}

// ToolCallResult is the raw protocol result of a tool invocation.
type ToolCallResult struct {
	// Blocks is the returned content.
	Blocks []parts.ContentBlock

	// Structured is the structured-content payload, if the server
	// provided one.
	Structured json.RawMessage

	// IsError flags a tool-level business failure.
	IsError bool
}

// PromptMessage is one message of a fetched prompt.
type PromptMessage struct {
	// Role is the protocol role (user, assistant).
	Role string `json:"role"`

	// Parts is the converted message content.
	Parts []parts.Part `json:"parts"`
}

// RefKind scopes a completion reference.
type RefKind string

const (
	// RefPrompt scopes a completion to a prompt argument.
	RefPrompt RefKind = "prompt"
	// RefResource scopes a completion to a resource template.
	RefResource RefKind = "resource"
)

// CompleteRef identifies the prompt or resource a completion is for.
type CompleteRef struct {
	Kind RefKind

	// Name is the prompt name (RefPrompt).
	Name string

	// URI is the resource or template URI (RefResource).
	URI string
}

// CompleteResult holds argument completion suggestions.
type CompleteResult struct {
	Values  []string `json:"values"`
	Total   int      `json:"total,omitempty"`
	HasMore bool     `json:"hasMore,omitempty"`
}

// Connection is an immutable snapshot of one managed connection.
type Connection struct {
	// ID is the opaque connection identifier.
	ID string `json:"id"`

	// Descriptor is the transport used to reach the server.
	Descriptor TransportDescriptor `json:"descriptor"`

	// State is the lifecycle state at snapshot time.
	State State `json:"state"`

	// Capabilities is the negotiated capability set.
	Capabilities Capabilities `json:"capabilities"`

	// ConnectedAt is when the handshake completed.
	ConnectedAt time.Time `json:"connectedAt,omitzero"`

	// LastError is the most recent failure message, for failed connections.
	LastError string `json:"lastError,omitempty"`
}
