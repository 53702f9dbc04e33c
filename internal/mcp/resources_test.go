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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-app/parley/internal/parts"
	"github.com/parley-app/parley/internal/perrors"
	"github.com/parley-app/parley/internal/urlx"
)

func resourcesCaps() Capabilities {
	return Capabilities{Resources: &ResourceCapability{ListChanged: true}}
}

func TestResourcesCatalogExternalURLs(t *testing.T) {
	fake := &fakeClient{
		caps: resourcesCaps(),
		listResources: func(ctx context.Context, cursor string) (ResourcePage, error) {
			return ResourcePage{Resources: []RawResource{
				{URI: "file:///notes.md", Name: "notes", MimeType: "text/markdown"},
			}}, nil
		},
	}
	conns, id := connectTools(t, fake)

	resources := NewResources(conns, nil)
	resources.Refresh(id)
	require.Eventually(t, func() bool {
		entry, ok := resources.Catalog(id)
		return ok && entry.State == EntryLoaded
	}, time.Second, 5*time.Millisecond)

	entry, _ := resources.Catalog(id)
	require.Len(t, entry.Items, 1)
	info := entry.Items[0]
	assert.Equal(t, "file:///notes.md", info.Origin)

	desc := urlx.Parse(info.URL)
	assert.Equal(t, urlx.KindExternal, desc.Kind)
	assert.Equal(t, id, desc.Server)
	assert.Equal(t, "file:///notes.md", desc.Origin)
}

func TestResourcesTemplates(t *testing.T) {
	fake := &fakeClient{
		caps: resourcesCaps(),
		listResourceTemplates: func(ctx context.Context, cursor string) (ResourceTemplatePage, error) {
			return ResourceTemplatePage{Templates: []RawResourceTemplate{
				{URITemplate: "file:///{path}", Name: "files"},
			}}, nil
		},
	}
	conns, id := connectTools(t, fake)

	resources := NewResources(conns, nil)
	resources.Refresh(id)
	require.Eventually(t, func() bool {
		entry, ok := resources.Templates(id)
		return ok && entry.State == EntryLoaded
	}, time.Second, 5*time.Millisecond)

	entry, _ := resources.Templates(id)
	require.Len(t, entry.Items, 1)
	assert.Equal(t, "file:///{path}", entry.Items[0].URITemplate)
}

func TestResourcesRead(t *testing.T) {
	fake := &fakeClient{
		caps: resourcesCaps(),
		readResource: func(ctx context.Context, uri string) ([]parts.ContentBlock, error) {
			assert.Equal(t, "file:///notes.md", uri)
			return []parts.ContentBlock{{Kind: "text", Text: "# Notes"}}, nil
		},
	}
	conns, id := connectTools(t, fake)
	resources := NewResources(conns, nil)

	out, err := resources.Read(context.Background(), urlx.FormatExternal(id, "file:///notes.md"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "# Notes", out[0].Text)
}

func TestResourcesReadRejectsNonExternal(t *testing.T) {
	conns, _ := connectTools(t, &fakeClient{caps: resourcesCaps()})
	resources := NewResources(conns, nil)

	for _, raw := range []string{
		"https://example.com/page",
		"file:///etc/passwd",
		"data:text/plain;base64,aGk=",
		"not a url",
	} {
		_, err := resources.Read(context.Background(), raw)
		var denied *perrors.AccessDeniedError
		assert.ErrorAs(t, err, &denied, "url %q", raw)
	}
}

func TestResourcesReadSafeSwallowsNotFound(t *testing.T) {
	fake := &fakeClient{
		caps: resourcesCaps(),
		readResource: func(ctx context.Context, uri string) ([]parts.ContentBlock, error) {
			return nil, &ProtocolError{Code: CodeResourceNotFound, Message: "resource not found"}
		},
	}
	conns, id := connectTools(t, fake)
	resources := NewResources(conns, nil)

	out, err := resources.ReadSafe(context.Background(), urlx.FormatExternal(id, "file:///gone.md"))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestResourcesReadSafePropagatesOtherErrors(t *testing.T) {
	readErr := errors.New("transport broke")
	fake := &fakeClient{
		caps: resourcesCaps(),
		readResource: func(ctx context.Context, uri string) ([]parts.ContentBlock, error) {
			return nil, readErr
		},
	}
	conns, id := connectTools(t, fake)
	resources := NewResources(conns, nil)

	_, err := resources.ReadSafe(context.Background(), urlx.FormatExternal(id, "file:///x.md"))
	require.Error(t, err)
	assert.ErrorIs(t, err, readErr)
}
