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
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plog "github.com/parley-app/parley/internal/log"
)

// syncBuffer is a concurrency-safe log sink for asserting on log output
// written from fetch goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func connectTools(t *testing.T, fake *fakeClient) (*Connections, string) {
	t.Helper()
	conns := NewConnections(fakeDialer(fake), nil)
	t.Cleanup(func() { conns.Close() })
	id, err := conns.Connect(context.Background(), TransportDescriptor{Name: "s", Kind: TransportStdio})
	require.NoError(t, err)
	return conns, id
}

func TestCollectionPaginationCeiling(t *testing.T) {
	var pages atomic.Int32
	fake := &fakeClient{
		caps: toolsCaps(),
		listTools: func(ctx context.Context, cursor string) (ToolPage, error) {
			n := pages.Add(1)
			// A misbehaving server that never ends the cursor chain.
			return ToolPage{
				Tools:      []RawTool{{Name: fmt.Sprintf("tool-%d", n)}},
				NextCursor: fmt.Sprintf("cursor-%d", n),
			}, nil
		},
	}
	conns, id := connectTools(t, fake)

	var logs syncBuffer
	tools := NewTools(conns, plog.New(&plog.Config{Level: "warn", Output: &logs}))
	tools.Refresh(id)

	require.Eventually(t, func() bool {
		entry, ok := tools.Catalog(id)
		return ok && entry.State == EntryLoaded
	}, time.Second, 5*time.Millisecond)

	entry, _ := tools.Catalog(id)
	assert.Len(t, entry.Items, maxToolPages)
	assert.EqualValues(t, maxToolPages, pages.Load())
	assert.Contains(t, logs.String(), "truncated")
}

func TestCollectionLastWriterWins(t *testing.T) {
	firstStarted := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	fake := &fakeClient{caps: toolsCaps()}
	fake.listTools = func(ctx context.Context, cursor string) (ToolPage, error) {
		call := calls.Add(1)
		if call == 1 {
			close(firstStarted)
			select {
			case <-release:
			case <-ctx.Done():
				return ToolPage{}, ctx.Err()
			}
			return ToolPage{Tools: []RawTool{{Name: "stale"}}}, nil
		}
		return ToolPage{Tools: []RawTool{{Name: "fresh"}}}, nil
	}
	conns, id := connectTools(t, fake)

	tools := NewTools(conns, nil)
	tools.Refresh(id)
	<-firstStarted

	// Superseding refresh cancels the first fetch.
	tools.Refresh(id)
	close(release)

	require.Eventually(t, func() bool {
		entry, ok := tools.Catalog(id)
		return ok && entry.State == EntryLoaded && len(entry.Items) == 1
	}, time.Second, 5*time.Millisecond)

	entry, _ := tools.Catalog(id)
	assert.Equal(t, "fresh", entry.Items[0].Name)
}

func TestCollectionCancelledFetchWritesNothing(t *testing.T) {
	started := make(chan struct{})
	fake := &fakeClient{caps: toolsCaps()}
	var once atomic.Bool
	fake.listTools = func(ctx context.Context, cursor string) (ToolPage, error) {
		if once.CompareAndSwap(false, true) {
			close(started)
			<-ctx.Done()
			return ToolPage{}, ctx.Err()
		}
		select {}
	}
	conns, id := connectTools(t, fake)

	tools := NewTools(conns, nil)
	tools.Refresh(id)
	<-started

	// Dropping the connection cancels the fetch; the cancelled fetch must
	// not leave an error entry behind.
	tools.cache.drop(id)

	assert.Never(t, func() bool {
		entry, ok := tools.Catalog(id)
		return ok && entry.State == EntryError
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestCollectionFetchErrorRecorded(t *testing.T) {
	fetchErr := errors.New("server exploded")
	fake := &fakeClient{
		caps: toolsCaps(),
		listTools: func(ctx context.Context, cursor string) (ToolPage, error) {
			return ToolPage{}, fetchErr
		},
	}
	conns, id := connectTools(t, fake)

	tools := NewTools(conns, nil)
	tools.Refresh(id)

	require.Eventually(t, func() bool {
		entry, ok := tools.Catalog(id)
		return ok && entry.State == EntryError
	}, time.Second, 5*time.Millisecond)

	entry, _ := tools.Catalog(id)
	assert.ErrorIs(t, entry.Err, fetchErr)
	assert.Empty(t, entry.Items)
}

func TestCollectionRunRefreshesOnEvents(t *testing.T) {
	var fetches atomic.Int32
	fake := &fakeClient{
		caps: toolsCaps(),
		listTools: func(ctx context.Context, cursor string) (ToolPage, error) {
			fetches.Add(1)
			return ToolPage{Tools: []RawTool{{Name: "search"}}}, nil
		},
	}
	conns := NewConnections(fakeDialer(fake), nil)
	t.Cleanup(func() { conns.Close() })

	tools := NewTools(conns, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tools.Run(ctx)

	id, err := conns.Connect(context.Background(), TransportDescriptor{Name: "s", Kind: TransportStdio})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entry, ok := tools.Catalog(id)
		return ok && entry.State == EntryLoaded && len(entry.Items) == 1
	}, time.Second, 5*time.Millisecond)

	before := fetches.Load()
	fake.notifyListChanged(CapabilityTools)
	require.Eventually(t, func() bool {
		return fetches.Load() > before
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, conns.Disconnect(id))
	require.Eventually(t, func() bool {
		_, ok := tools.Catalog(id)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestCollectionRunSeedsExistingConnections(t *testing.T) {
	fake := &fakeClient{
		caps: toolsCaps(),
		listTools: func(ctx context.Context, cursor string) (ToolPage, error) {
			return ToolPage{Tools: []RawTool{{Name: "search"}}}, nil
		},
	}
	// The connection predates the run loop, so its connected event was
	// published to nobody. The run loop must still pick it up.
	conns, id := connectTools(t, fake)

	tools := NewTools(conns, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tools.Run(ctx)

	require.Eventually(t, func() bool {
		entry, ok := tools.Catalog(id)
		return ok && entry.State == EntryLoaded && len(entry.Items) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCollectionSnapshotIsolation(t *testing.T) {
	fake := &fakeClient{
		caps: toolsCaps(),
		listTools: func(ctx context.Context, cursor string) (ToolPage, error) {
			return ToolPage{Tools: []RawTool{{Name: "a"}, {Name: "b"}}}, nil
		},
	}
	conns, id := connectTools(t, fake)

	tools := NewTools(conns, nil)
	tools.Refresh(id)
	require.Eventually(t, func() bool {
		entry, ok := tools.Catalog(id)
		return ok && entry.State == EntryLoaded
	}, time.Second, 5*time.Millisecond)

	first, _ := tools.Catalog(id)
	tools.Refresh(id)

	// The earlier snapshot stays intact regardless of the refresh.
	assert.Len(t, first.Items, 2)
	assert.Equal(t, EntryLoaded, first.State)
}
