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
	"sync"

	"github.com/parley-app/parley/internal/parts"
)

// fakeClient is a scripted ProtocolClient for tests. Each behavior is a
// function field; nil fields return zero values.
type fakeClient struct {
	mu sync.Mutex

	caps Capabilities

	listTools             func(ctx context.Context, cursor string) (ToolPage, error)
	listPrompts           func(ctx context.Context, cursor string) (PromptPage, error)
	listResources         func(ctx context.Context, cursor string) (ResourcePage, error)
	listResourceTemplates func(ctx context.Context, cursor string) (ResourceTemplatePage, error)
	callTool              func(ctx context.Context, name string, args map[string]any) (*ToolCallResult, error)
	getPrompt             func(ctx context.Context, name string, args map[string]string) (*RawPromptResult, error)
	readResource          func(ctx context.Context, uri string) ([]parts.ContentBlock, error)
	complete              func(ctx context.Context, ref CompleteRef, argName, argValue string) (*CompleteResult, error)

	onListChanged func(Capability)
	closed        bool
	closeCalls    int
}

func (f *fakeClient) Capabilities() Capabilities { return f.caps }

func (f *fakeClient) ListTools(ctx context.Context, cursor string) (ToolPage, error) {
	if f.listTools == nil {
		return ToolPage{}, nil
	}
	return f.listTools(ctx, cursor)
}

func (f *fakeClient) ListPrompts(ctx context.Context, cursor string) (PromptPage, error) {
	if f.listPrompts == nil {
		return PromptPage{}, nil
	}
	return f.listPrompts(ctx, cursor)
}

func (f *fakeClient) ListResources(ctx context.Context, cursor string) (ResourcePage, error) {
	if f.listResources == nil {
		return ResourcePage{}, nil
	}
	return f.listResources(ctx, cursor)
}

func (f *fakeClient) ListResourceTemplates(ctx context.Context, cursor string) (ResourceTemplatePage, error) {
	if f.listResourceTemplates == nil {
		return ResourceTemplatePage{}, nil
	}
	return f.listResourceTemplates(ctx, cursor)
}

func (f *fakeClient) CallTool(ctx context.Context, name string, args map[string]any) (*ToolCallResult, error) {
	if f.callTool == nil {
		return &ToolCallResult{}, nil
	}
	return f.callTool(ctx, name, args)
}

func (f *fakeClient) GetPrompt(ctx context.Context, name string, args map[string]string) (*RawPromptResult, error) {
	if f.getPrompt == nil {
		return &RawPromptResult{}, nil
	}
	return f.getPrompt(ctx, name, args)
}

func (f *fakeClient) ReadResource(ctx context.Context, uri string) ([]parts.ContentBlock, error) {
	if f.readResource == nil {
		return nil, nil
	}
	return f.readResource(ctx, uri)
}

func (f *fakeClient) Complete(ctx context.Context, ref CompleteRef, argName, argValue string) (*CompleteResult, error) {
	if f.complete == nil {
		return &CompleteResult{}, nil
	}
	return f.complete(ctx, ref, argName, argValue)
}

func (f *fakeClient) OnListChanged(handler func(Capability)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onListChanged = handler
}

func (f *fakeClient) notifyListChanged(cap Capability) {
	f.mu.Lock()
	handler := f.onListChanged
	f.mu.Unlock()
	if handler != nil {
		handler(cap)
	}
}

func (f *fakeClient) Ping(ctx context.Context) error { return nil }

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCalls++
	return nil
}

// fakeDialer returns a Dialer that hands out the given clients in order.
func fakeDialer(clients ...*fakeClient) Dialer {
	i := 0
	return func(ctx context.Context, desc TransportDescriptor) (ProtocolClient, error) {
		c := clients[i%len(clients)]
		i++
		return c, nil
	}
}

// toolsCaps is a capability set advertising only tools.
func toolsCaps() Capabilities {
	return Capabilities{Tools: &ListCapability{ListChanged: true}}
}
