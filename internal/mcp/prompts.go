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
	"log/slog"

	plog "github.com/parley-app/parley/internal/log"
	"github.com/parley-app/parley/internal/parts"
)

// maxPromptPages bounds the catalog fetch against runaway cursor chains.
const maxPromptPages = 16

// blankMessageTip replaces a prompt message whose converted content is
// entirely blank; some model providers reject empty messages.
const blankMessageTip = "Tip: this prompt message was empty. Provide the required arguments to fill it in."

// PromptResult is the uniform outcome of a prompt get. Failures come back
// as an error-shaped result, mirroring tool calls.
type PromptResult struct {
	Description string
	Messages    []PromptMessage
	IsError     bool
}

// Prompts caches each connection's prompt catalog and fetches prompts by
// URI.
type Prompts struct {
	conns  *Connections
	cache  *collection[PromptInfo]
	logger *slog.Logger
}

// NewPrompts creates the prompt manager.
func NewPrompts(conns *Connections, logger *slog.Logger) *Prompts {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Prompts{
		conns:  conns,
		logger: plog.WithComponent(logger, "mcp.prompts"),
	}
	p.cache = newCollection(conns, CapabilityPrompts, logger, p.fetchCatalog)
	return p
}

// Run maintains the catalog cache until ctx is cancelled.
func (p *Prompts) Run(ctx context.Context) {
	p.cache.Run(ctx)
}

// Refresh forces a catalog fetch for one connection.
func (p *Prompts) Refresh(connectionID string) {
	p.cache.Refresh(connectionID)
}

// Catalog returns the cached catalog entry for one connection.
func (p *Prompts) Catalog(connectionID string) (Entry[PromptInfo], bool) {
	return p.cache.Get(connectionID)
}

// All returns every loaded prompt across all connections.
func (p *Prompts) All() []PromptInfo {
	return p.cache.All()
}

// Get fetches the prompt addressed by uri with the given arguments. Like
// tool calls, every failure mode degrades to an error-shaped result.
func (p *Prompts) Get(ctx context.Context, uri string, args map[string]string) PromptResult {
	connectionID, name, err := ParsePromptURI(uri)
	if err != nil {
		return p.failure(uri, "invalid prompt uri", err)
	}
	client, err := p.conns.GetConnected(connectionID)
	if err != nil {
		return p.failure(uri, "connection not available", err)
	}
	if !p.cataloged(connectionID, name) {
		return p.failure(uri, "prompt not in catalog",
			fmt.Errorf("prompt %q is not in the loaded catalog of connection %s", name, connectionID))
	}

	raw, err := client.GetPrompt(ctx, name, args)
	if err != nil {
		return p.failure(uri, "prompt get failed", err)
	}

	messages := make([]PromptMessage, 0, len(raw.Messages))
	for _, msg := range raw.Messages {
		converted := parts.FromContent(connectionID, msg.Blocks)
		if !parts.HasContent(converted) {
			converted = []parts.Part{parts.TextPart(blankMessageTip)}
		}
		messages = append(messages, PromptMessage{Role: msg.Role, Parts: converted})
	}
	return PromptResult{Description: raw.Description, Messages: messages}
}

func (p *Prompts) cataloged(connectionID, name string) bool {
	entry, ok := p.cache.Get(connectionID)
	if !ok || entry.State != EntryLoaded {
		return false
	}
	for _, prompt := range entry.Items {
		if prompt.Name == name {
			return true
		}
	}
	return false
}

func (p *Prompts) failure(uri, stage string, err error) PromptResult {
	p.logger.Warn("prompt get degraded to error result",
		slog.String("uri", uri),
		slog.String("stage", stage),
		plog.Error(err))
	return PromptResult{
		Messages: []PromptMessage{{
			Role:  "user",
			Parts: []parts.Part{parts.ErrorPart(err.Error())},
		}},
		IsError: true,
	}
}

func (p *Prompts) fetchCatalog(ctx context.Context, connectionID string, client ProtocolClient) ([]PromptInfo, error) {
	raw, err := fetchPages(ctx, p.logger, connectionID, maxPromptPages, func(ctx context.Context, cursor string) ([]RawPrompt, string, error) {
		page, err := client.ListPrompts(ctx, cursor)
		if err != nil {
			return nil, "", err
		}
		return page.Prompts, page.NextCursor, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]PromptInfo, 0, len(raw))
	for _, prompt := range raw {
		out = append(out, PromptInfo{
			URI:           FormatPromptURI(connectionID, prompt.Name),
			ConnectionID:  connectionID,
			Name:          prompt.Name,
			Description:   prompt.Description,
			ArgumentNames: prompt.ArgumentNames,
		})
	}
	return out, nil
}
