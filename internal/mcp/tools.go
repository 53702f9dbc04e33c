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
	"encoding/json"
	"fmt"
	"log/slog"

	plog "github.com/parley-app/parley/internal/log"
	"github.com/parley-app/parley/internal/parts"
)

// maxToolPages bounds the catalog fetch against servers that never return
// an empty cursor.
const maxToolPages = 10

// isErrorAdvisory is appended to a tool result the server flagged as a
// business-level failure, so the consuming model treats the content as a
// failure description rather than a successful answer.
const isErrorAdvisory = "The tool reported an error. Treat the content above as an error description, not a successful result."

// emptyResultJSON substitutes for a tool result that shaped down to
// nothing; some model providers reject empty tool results outright.
const emptyResultJSON = `{"result":""}`

// CallResult is the uniform outcome of a tool call. Every failure mode
// produces a result with IsError set and an error part describing the
// failure; Call never returns a Go error.
type CallResult struct {
	Parts   []parts.Part
	IsError bool
}

// Tools caches each connection's tool catalog and invokes tools by URI.
type Tools struct {
	conns  *Connections
	cache  *collection[ToolInfo]
	logger *slog.Logger
}

// NewTools creates the tool manager.
func NewTools(conns *Connections, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tools{
		conns:  conns,
		logger: plog.WithComponent(logger, "mcp.tools"),
	}
	t.cache = newCollection(conns, CapabilityTools, logger, t.fetchCatalog)
	return t
}

// Run maintains the catalog cache until ctx is cancelled.
func (t *Tools) Run(ctx context.Context) {
	t.cache.Run(ctx)
}

// Refresh forces a catalog fetch for one connection.
func (t *Tools) Refresh(connectionID string) {
	t.cache.Refresh(connectionID)
}

// Catalog returns the cached catalog entry for one connection.
func (t *Tools) Catalog(connectionID string) (Entry[ToolInfo], bool) {
	return t.cache.Get(connectionID)
}

// All returns every loaded tool across all connections.
func (t *Tools) All() []ToolInfo {
	return t.cache.All()
}

// Call invokes the tool addressed by uri. The result is always usable:
// invalid URIs, missing connections, uncataloged tools and remote failures
// all come back as error-shaped results, never as a returned error.
func (t *Tools) Call(ctx context.Context, uri string, args map[string]any) CallResult {
	connectionID, name, err := ParseToolURI(uri)
	if err != nil {
		return t.failure(uri, "invalid tool uri", err)
	}
	client, err := t.conns.GetConnected(connectionID)
	if err != nil {
		return t.failure(uri, "connection not available", err)
	}
	if !t.cataloged(connectionID, name) {
		return t.failure(uri, "tool not in catalog",
			fmt.Errorf("tool %q is not in the loaded catalog of connection %s", name, connectionID))
	}

	raw, err := client.CallTool(ctx, name, args)
	if err != nil {
		return t.failure(uri, "tool call failed", err)
	}
	return shapeToolResult(connectionID, raw)
}

// cataloged reports whether the named tool is present in the connection's
// currently loaded catalog. A loading or errored catalog counts as absent;
// calling a tool that may have just been removed is worse than a retry.
func (t *Tools) cataloged(connectionID, name string) bool {
	entry, ok := t.cache.Get(connectionID)
	if !ok || entry.State != EntryLoaded {
		return false
	}
	for _, tool := range entry.Items {
		if tool.Name == name {
			return true
		}
	}
	return false
}

func (t *Tools) failure(uri, stage string, err error) CallResult {
	t.logger.Warn("tool call degraded to error result",
		slog.String("uri", uri),
		slog.String("stage", stage),
		plog.Error(err))
	return CallResult{
		Parts:   []parts.Part{parts.ErrorPart(err.Error())},
		IsError: true,
	}
}

// shapeToolResult applies the result-shaping rules: structured content
// wins over individual blocks, an entirely empty result gets a JSON
// placeholder, and a server-side isError flag gets an advisory appended.
func shapeToolResult(connectionID string, raw *ToolCallResult) CallResult {
	var shaped []parts.Part
	if len(raw.Structured) > 0 {
		shaped = []parts.Part{parts.TextPart(formatStructured(raw.Structured))}
	} else {
		shaped = parts.FromContent(connectionID, raw.Blocks)
	}

	if !parts.HasContent(shaped) {
		shaped = []parts.Part{parts.TextPart(emptyResultJSON)}
	}
	if raw.IsError {
		shaped = append(shaped, parts.TextPart(isErrorAdvisory))
	}
	return CallResult{Parts: shaped, IsError: raw.IsError}
}

func formatStructured(structured json.RawMessage) string {
	var buf []byte
	var v any
	if err := json.Unmarshal(structured, &v); err == nil {
		if buf, err = json.MarshalIndent(v, "", "  "); err == nil {
			return string(buf)
		}
	}
	return string(structured)
}

func (t *Tools) fetchCatalog(ctx context.Context, connectionID string, client ProtocolClient) ([]ToolInfo, error) {
	raw, err := fetchPages(ctx, t.logger, connectionID, maxToolPages, func(ctx context.Context, cursor string) ([]RawTool, string, error) {
		page, err := client.ListTools(ctx, cursor)
		if err != nil {
			return nil, "", err
		}
		return page.Tools, page.NextCursor, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]ToolInfo, 0, len(raw))
	for _, tool := range raw {
		out = append(out, ToolInfo{
			URI:          FormatToolURI(connectionID, tool.Name),
			ConnectionID: connectionID,
			Name:         tool.Name,
			Description:  tool.Description,
			InputSchema:  tool.InputSchema,
		})
	}
	return out, nil
}
