package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/parley-app/parley/internal/parts"
)

// Client adapts a mark3labs/mcp-go session to the ProtocolClient
// interface. All mcp-go specifics live here; the rest of the package sees
// only ProtocolClient.
type Client struct {
	inner *client.Client
	caps  Capabilities
}

var _ ProtocolClient = (*Client)(nil)

// DialMCP is the production Dialer. It starts the transport described by
// desc, performs the initialize handshake and snapshots the server's
// capabilities.
func DialMCP(ctx context.Context, desc TransportDescriptor) (ProtocolClient, error) {
	var (
		inner *client.Client
		err   error
	)
	switch desc.Kind {
	case TransportStdio:
		inner, err = client.NewStdioMCPClient(desc.Command, desc.Env, desc.Args...)
	case TransportHTTP:
		inner, err = client.NewStreamableHttpClient(desc.Endpoint,
			transport.WithHTTPHeaders(desc.Headers))
	case TransportSSE:
		inner, err = client.NewSSEMCPClient(desc.Endpoint,
			transport.WithHeaders(desc.Headers))
	default:
		return nil, fmt.Errorf("unsupported transport kind %q", desc.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	if err := inner.Start(ctx); err != nil {
		return nil, fmt.Errorf("start transport: %w", err)
	}

	initReq := mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ProtocolVersion: mcplib.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcplib.ClientCapabilities{},
			ClientInfo: mcplib.Implementation{
				Name:    "parley",
				Version: "0.1.0",
			},
		},
	}
	if _, err := inner.Initialize(ctx, initReq); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}

	c := &Client{inner: inner}
	c.caps = snapshotCapabilities(inner)
	return c, nil
}

// snapshotCapabilities converts the negotiated mcp-go capability set.
// Completions has no dedicated accessor across versions, so it is probed
// through the JSON form of the capability object.
func snapshotCapabilities(inner *client.Client) Capabilities {
	serverCaps := inner.GetServerCapabilities()

	var caps Capabilities
	if serverCaps.Tools != nil {
		caps.Tools = &ListCapability{ListChanged: serverCaps.Tools.ListChanged}
	}
	if serverCaps.Prompts != nil {
		caps.Prompts = &ListCapability{ListChanged: serverCaps.Prompts.ListChanged}
	}
	if serverCaps.Resources != nil {
		caps.Resources = &ResourceCapability{
			Subscribe:   serverCaps.Resources.Subscribe,
			ListChanged: serverCaps.Resources.ListChanged,
		}
	}
	if raw, err := json.Marshal(serverCaps); err == nil {
		var m map[string]json.RawMessage
		if json.Unmarshal(raw, &m) == nil {
			_, caps.Completions = m["completions"]
		}
	}
	return caps
}

// Capabilities returns the server's negotiated capabilities.
func (c *Client) Capabilities() Capabilities {
	return c.caps
}

// ListTools fetches one page of the tool catalog.
func (c *Client) ListTools(ctx context.Context, cursor string) (ToolPage, error) {
	req := mcplib.ListToolsRequest{}
	req.Params.Cursor = mcplib.Cursor(cursor)
	result, err := c.inner.ListTools(ctx, req)
	if err != nil {
		return ToolPage{}, wrapRPCError(err)
	}

	page := ToolPage{NextCursor: string(result.NextCursor)}
	for _, tool := range result.Tools {
		schema, err := toolSchemaBytes(tool)
		if err != nil {
			return ToolPage{}, err
		}
		page.Tools = append(page.Tools, RawTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return page, nil
}

// toolSchemaBytes extracts a tool's input schema as raw JSON, preferring
// the server's verbatim schema bytes when present.
func toolSchemaBytes(tool mcplib.Tool) ([]byte, error) {
	if len(tool.RawInputSchema) > 0 {
		return tool.RawInputSchema, nil
	}
	toolBytes, err := tool.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal tool %s: %w", tool.Name, err)
	}
	var toolMap map[string]json.RawMessage
	if err := json.Unmarshal(toolBytes, &toolMap); err != nil {
		return nil, fmt.Errorf("unmarshal tool %s: %w", tool.Name, err)
	}
	return toolMap["inputSchema"], nil
}

// ListPrompts fetches one page of the prompt catalog.
func (c *Client) ListPrompts(ctx context.Context, cursor string) (PromptPage, error) {
	req := mcplib.ListPromptsRequest{}
	req.Params.Cursor = mcplib.Cursor(cursor)
	result, err := c.inner.ListPrompts(ctx, req)
	if err != nil {
		return PromptPage{}, wrapRPCError(err)
	}

	page := PromptPage{NextCursor: string(result.NextCursor)}
	for _, prompt := range result.Prompts {
		names := make([]string, 0, len(prompt.Arguments))
		for _, arg := range prompt.Arguments {
			names = append(names, arg.Name)
		}
		page.Prompts = append(page.Prompts, RawPrompt{
			Name:          prompt.Name,
			Description:   prompt.Description,
			ArgumentNames: names,
		})
	}
	return page, nil
}

// ListResources fetches one page of the resource catalog.
func (c *Client) ListResources(ctx context.Context, cursor string) (ResourcePage, error) {
	req := mcplib.ListResourcesRequest{}
	req.Params.Cursor = mcplib.Cursor(cursor)
	result, err := c.inner.ListResources(ctx, req)
	if err != nil {
		return ResourcePage{}, wrapRPCError(err)
	}

	page := ResourcePage{NextCursor: string(result.NextCursor)}
	for _, res := range result.Resources {
		page.Resources = append(page.Resources, RawResource{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MimeType:    res.MIMEType,
		})
	}
	return page, nil
}

// ListResourceTemplates fetches one page of the resource template catalog.
func (c *Client) ListResourceTemplates(ctx context.Context, cursor string) (ResourceTemplatePage, error) {
	req := mcplib.ListResourceTemplatesRequest{}
	req.Params.Cursor = mcplib.Cursor(cursor)
	result, err := c.inner.ListResourceTemplates(ctx, req)
	if err != nil {
		return ResourceTemplatePage{}, wrapRPCError(err)
	}

	page := ResourceTemplatePage{NextCursor: string(result.NextCursor)}
	for _, tpl := range result.ResourceTemplates {
		raw := ""
		if tpl.URITemplate != nil {
			raw = tpl.URITemplate.Raw()
		}
		page.Templates = append(page.Templates, RawResourceTemplate{
			URITemplate: raw,
			Name:        tpl.Name,
			Description: tpl.Description,
			MimeType:    tpl.MIMEType,
		})
	}
	return page, nil
}

// CallTool invokes a tool by its server-side name.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*ToolCallResult, error) {
	req := mcplib.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := c.inner.CallTool(ctx, req)
	if err != nil {
		return nil, wrapRPCError(err)
	}

	out := &ToolCallResult{IsError: result.IsError}
	for _, content := range result.Content {
		out.Blocks = append(out.Blocks, convertContent(content))
	}
	if result.StructuredContent != nil {
		structured, err := json.Marshal(result.StructuredContent)
		if err != nil {
			return nil, fmt.Errorf("marshal structured content: %w", err)
		}
		out.Structured = structured
	}
	return out, nil
}

// GetPrompt fetches a prompt's messages by its server-side name.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*RawPromptResult, error) {
	req := mcplib.GetPromptRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := c.inner.GetPrompt(ctx, req)
	if err != nil {
		return nil, wrapRPCError(err)
	}

	out := &RawPromptResult{Description: result.Description}
	for _, msg := range result.Messages {
		out.Messages = append(out.Messages, RawPromptMessage{
			Role:   string(msg.Role),
			Blocks: []parts.ContentBlock{convertContent(msg.Content)},
		})
	}
	return out, nil
}

// ReadResource reads a resource by its server-side URI.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]parts.ContentBlock, error) {
	req := mcplib.ReadResourceRequest{}
	req.Params.URI = uri

	result, err := c.inner.ReadResource(ctx, req)
	if err != nil {
		return nil, wrapRPCError(err)
	}

	blocks := make([]parts.ContentBlock, 0, len(result.Contents))
	for _, content := range result.Contents {
		if text, ok := mcplib.AsTextResourceContents(content); ok {
			blocks = append(blocks, parts.ContentBlock{
				Kind:     "resource",
				URI:      text.URI,
				MimeType: text.MIMEType,
				Text:     text.Text,
			})
			continue
		}
		if blob, ok := mcplib.AsBlobResourceContents(content); ok {
			blocks = append(blocks, parts.ContentBlock{
				Kind:     "resource",
				URI:      blob.URI,
				MimeType: blob.MIMEType,
				Data:     blob.Blob,
			})
		}
	}
	return blocks, nil
}

// Complete requests argument completion suggestions.
func (c *Client) Complete(ctx context.Context, ref CompleteRef, argName, argValue string) (*CompleteResult, error) {
	req := mcplib.CompleteRequest{}
	switch ref.Kind {
	case RefPrompt:
		req.Params.Ref = mcplib.PromptReference{
			Type: "ref/prompt",
			Name: ref.Name,
		}
	case RefResource:
		req.Params.Ref = mcplib.ResourceReference{
			Type: "ref/resource",
			URI:  ref.URI,
		}
	default:
		return nil, fmt.Errorf("unsupported completion ref kind %q", ref.Kind)
	}
	req.Params.Argument.Name = argName
	req.Params.Argument.Value = argValue

	result, err := c.inner.Complete(ctx, req)
	if err != nil {
		return nil, wrapRPCError(err)
	}
	return &CompleteResult{
		Values:  result.Completion.Values,
		Total:   result.Completion.Total,
		HasMore: result.Completion.HasMore,
	}, nil
}

// OnListChanged registers the handler invoked on listChanged notifications.
func (c *Client) OnListChanged(handler func(Capability)) {
	c.inner.OnNotification(func(notification mcplib.JSONRPCNotification) {
		var cap Capability
		switch notification.Method {
		case "notifications/tools/list_changed":
			cap = CapabilityTools
		case "notifications/prompts/list_changed":
			cap = CapabilityPrompts
		case "notifications/resources/list_changed":
			cap = CapabilityResources
		default:
			return
		}
		handler(cap)
	})
}

// Ping checks that the server is still responsive.
func (c *Client) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}

// Close tears down the session and its transport.
func (c *Client) Close() error {
	return c.inner.Close()
}

// convertContent normalizes one mcp-go content value into a ContentBlock.
// Content kinds without a typed accessor fall back to the JSON form, so
// newer kinds like resource_link survive without an mcp-go type match.
func convertContent(content mcplib.Content) parts.ContentBlock {
	if text, ok := mcplib.AsTextContent(content); ok {
		return parts.ContentBlock{Kind: "text", Text: text.Text}
	}
	if image, ok := mcplib.AsImageContent(content); ok {
		return parts.ContentBlock{Kind: "image", Data: image.Data, MimeType: image.MIMEType}
	}
	if embedded, ok := mcplib.AsEmbeddedResource(content); ok {
		block := parts.ContentBlock{Kind: "resource"}
		if text, ok := mcplib.AsTextResourceContents(embedded.Resource); ok {
			block.URI = text.URI
			block.MimeType = text.MIMEType
			block.Text = text.Text
		} else if blob, ok := mcplib.AsBlobResourceContents(embedded.Resource); ok {
			block.URI = blob.URI
			block.MimeType = blob.MIMEType
			block.Data = blob.Blob
		}
		return block
	}

	// JSON fallback for audio, resource_link and anything newer.
	raw, err := json.Marshal(content)
	if err != nil {
		return parts.ContentBlock{Kind: "text", Text: fmt.Sprintf("%v", content)}
	}
	var m struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Data     string `json:"data"`
		MimeType string `json:"mimeType"`
		URI      string `json:"uri"`
		Name     string `json:"name"`
	}
	if err := json.Unmarshal(raw, &m); err != nil || m.Type == "" {
		return parts.ContentBlock{Kind: "text", Text: string(raw)}
	}
	return parts.ContentBlock{
		Kind:     m.Type,
		Text:     m.Text,
		Data:     m.Data,
		MimeType: m.MimeType,
		URI:      m.URI,
		Name:     m.Name,
	}
}

// wrapRPCError upgrades a JSON-RPC failure into a typed ProtocolError when
// the error carries a recognizable code. mcp-go surfaces server errors as
// formatted strings, so the code is recovered from the message.
func wrapRPCError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "-32002") || strings.Contains(strings.ToLower(msg), "resource not found") {
		return &ProtocolError{Code: CodeResourceNotFound, Message: msg}
	}
	return err
}
