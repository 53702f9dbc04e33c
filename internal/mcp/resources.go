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
	"errors"
	"log/slog"

	plog "github.com/parley-app/parley/internal/log"
	"github.com/parley-app/parley/internal/parts"
	"github.com/parley-app/parley/internal/perrors"
	"github.com/parley-app/parley/internal/urlx"
)

// Page ceilings for the resource and template catalog fetches.
const (
	maxResourcePages = 20
	maxTemplatePages = 4
)

// Resources caches each connection's resource and resource-template
// catalogs and reads resources by external URL.
type Resources struct {
	conns     *Connections
	cache     *collection[ResourceInfo]
	templates *collection[ResourceTemplateInfo]
	logger    *slog.Logger
}

// NewResources creates the resource manager.
func NewResources(conns *Connections, logger *slog.Logger) *Resources {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resources{
		conns:  conns,
		logger: plog.WithComponent(logger, "mcp.resources"),
	}
	r.cache = newCollection(conns, CapabilityResources, logger, r.fetchCatalog)
	r.templates = newCollection(conns, CapabilityResources, logger, r.fetchTemplates)
	return r
}

// Run maintains both catalog caches until ctx is cancelled.
func (r *Resources) Run(ctx context.Context) {
	go r.templates.Run(ctx)
	r.cache.Run(ctx)
}

// Refresh forces a catalog fetch for one connection.
func (r *Resources) Refresh(connectionID string) {
	r.cache.Refresh(connectionID)
	r.templates.Refresh(connectionID)
}

// Catalog returns the cached resource catalog entry for one connection.
func (r *Resources) Catalog(connectionID string) (Entry[ResourceInfo], bool) {
	return r.cache.Get(connectionID)
}

// Templates returns the cached template catalog entry for one connection.
func (r *Resources) Templates(connectionID string) (Entry[ResourceTemplateInfo], bool) {
	return r.templates.Get(connectionID)
}

// All returns every loaded resource across all connections.
func (r *Resources) All() []ResourceInfo {
	return r.cache.All()
}

// Read reads the resource behind an external URL. Unlike tool calls and
// prompt gets, read failures propagate as errors: a URL that does not
// parse to the external family fails with AccessDeniedError.
func (r *Resources) Read(ctx context.Context, rawURL string) ([]parts.Part, error) {
	desc := urlx.Parse(rawURL)
	if desc.Kind != urlx.KindExternal {
		return nil, &perrors.AccessDeniedError{URL: rawURL}
	}
	client, err := r.conns.GetConnected(desc.Server)
	if err != nil {
		return nil, err
	}
	blocks, err := client.ReadResource(ctx, desc.Origin)
	if err != nil {
		return nil, perrors.Wrapf(err, "read resource %s", desc.Origin)
	}
	return parts.FromContent(desc.Server, blocks), nil
}

// ReadSafe reads like Read but maps the protocol's resource-not-found
// error to a nil result. Every other failure still propagates.
func (r *Resources) ReadSafe(ctx context.Context, rawURL string) ([]parts.Part, error) {
	out, err := r.Read(ctx, rawURL)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) && perr.Code == CodeResourceNotFound {
			r.logger.Debug("resource not found, returning empty result",
				slog.String("url", rawURL))
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

func (r *Resources) fetchCatalog(ctx context.Context, connectionID string, client ProtocolClient) ([]ResourceInfo, error) {
	raw, err := fetchPages(ctx, r.logger, connectionID, maxResourcePages, func(ctx context.Context, cursor string) ([]RawResource, string, error) {
		page, err := client.ListResources(ctx, cursor)
		if err != nil {
			return nil, "", err
		}
		return page.Resources, page.NextCursor, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]ResourceInfo, 0, len(raw))
	for _, res := range raw {
		out = append(out, ResourceInfo{
			URL:          urlx.FormatExternal(connectionID, res.URI),
			ConnectionID: connectionID,
			Origin:       res.URI,
			Name:         res.Name,
			Description:  res.Description,
			MimeType:     res.MimeType,
		})
	}
	return out, nil
}

func (r *Resources) fetchTemplates(ctx context.Context, connectionID string, client ProtocolClient) ([]ResourceTemplateInfo, error) {
	raw, err := fetchPages(ctx, r.logger, connectionID, maxTemplatePages, func(ctx context.Context, cursor string) ([]RawResourceTemplate, string, error) {
		page, err := client.ListResourceTemplates(ctx, cursor)
		if err != nil {
			return nil, "", err
		}
		return page.Templates, page.NextCursor, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]ResourceTemplateInfo, 0, len(raw))
	for _, tpl := range raw {
		out = append(out, ResourceTemplateInfo{
			ConnectionID: connectionID,
			URITemplate:  tpl.URITemplate,
			Name:         tpl.Name,
			Description:  tpl.Description,
			MimeType:     tpl.MimeType,
		})
	}
	return out, nil
}
