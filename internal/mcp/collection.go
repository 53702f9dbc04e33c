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
	"sync"

	plog "github.com/parley-app/parley/internal/log"
)

// EntryState describes a cached capability catalog for one connection.
type EntryState string

const (
	// EntryLoading means a fetch is in flight and no result has landed.
	EntryLoading EntryState = "loading"
	// EntryLoaded means the cached items are the latest fetch result.
	EntryLoaded EntryState = "loaded"
	// EntryError means the latest fetch failed; Err carries the cause.
	EntryError EntryState = "error"
)

// Entry is an immutable snapshot of one connection's cached catalog.
// Reads hand out the snapshot value; writers replace it wholesale.
type Entry[T any] struct {
	State EntryState
	Items []T
	Err   error
}

type entryRec[T any] struct {
	snapshot Entry[T]
	gen      uint64
	cancel   context.CancelFunc
}

// collection caches one capability catalog per connection and keeps it
// fresh. Each refresh bumps the entry's generation and cancels the prior
// in-flight fetch, so at most one fetch per connection is live and only
// the newest writes its result back. A cancelled fetch writes nothing: the
// superseding refresh already owns the entry.
type collection[T any] struct {
	mu      sync.RWMutex
	entries map[string]*entryRec[T]

	capability Capability
	fetch      func(ctx context.Context, connectionID string, client ProtocolClient) ([]T, error)
	conns      *Connections
	logger     *slog.Logger

	wg sync.WaitGroup
}

func newCollection[T any](conns *Connections, capability Capability, logger *slog.Logger,
	fetch func(ctx context.Context, connectionID string, client ProtocolClient) ([]T, error)) *collection[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &collection[T]{
		entries:    make(map[string]*entryRec[T]),
		capability: capability,
		fetch:      fetch,
		conns:      conns,
		logger:     plog.WithComponent(logger, "mcp."+string(capability)),
	}
}

// Run subscribes to connection lifecycle events and maintains the cache
// until ctx is cancelled. Connections without the capability never get an
// entry.
func (c *collection[T]) Run(ctx context.Context) {
	connected, cancelConn := c.conns.Connected.Subscribe()
	defer cancelConn()
	disconnected, cancelDisc := c.conns.Disconnected.Subscribe()
	defer cancelDisc()
	changed, cancelChanged := c.conns.ListChanged.Subscribe()
	defer cancelChanged()

	// Connections established before the subscriptions above will never
	// publish a connected event again, so seed the cache from the current
	// connection set. A connection that lands between the subscribe and
	// this scan refreshes twice; the second fetch supersedes the first.
	for _, conn := range c.conns.List() {
		if conn.State == StateConnected && conn.Capabilities.Has(c.capability) {
			c.Refresh(conn.ID)
		}
	}

	for {
		select {
		case <-ctx.Done():
			c.drop("")
			c.wg.Wait()
			return
		case ev, ok := <-connected:
			if !ok {
				return
			}
			if ev.Capabilities.Has(c.capability) {
				c.Refresh(ev.ConnectionID)
			}
		case ev, ok := <-disconnected:
			if !ok {
				return
			}
			c.drop(ev.ConnectionID)
		case ev, ok := <-changed:
			if !ok {
				return
			}
			if ev.Capability == c.capability {
				c.Refresh(ev.ConnectionID)
			}
		}
	}
}

// Refresh starts a fetch for the connection's catalog, superseding any
// fetch already in flight.
func (c *collection[T]) Refresh(connectionID string) {
	client, err := c.conns.GetConnected(connectionID)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	rec, ok := c.entries[connectionID]
	if !ok {
		rec = &entryRec[T]{}
		c.entries[connectionID] = rec
	}
	if rec.cancel != nil {
		rec.cancel()
	}
	rec.cancel = cancel
	rec.gen++
	gen := rec.gen
	rec.snapshot = Entry[T]{State: EntryLoading, Items: rec.snapshot.Items}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		items, err := c.fetch(ctx, connectionID, client)

		c.mu.Lock()
		defer c.mu.Unlock()
		cur, ok := c.entries[connectionID]
		if !ok || cur.gen != gen {
			// Superseded or dropped; the result belongs to nobody.
			return
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			cur.snapshot = Entry[T]{State: EntryError, Err: err}
			c.logger.Warn("catalog fetch failed",
				slog.String(plog.ConnectionKey, connectionID),
				plog.Error(err))
			return
		}
		cur.snapshot = Entry[T]{State: EntryLoaded, Items: items}
		c.logger.Debug("catalog refreshed",
			slog.String(plog.ConnectionKey, connectionID),
			slog.Int("items", len(items)))
	}()
}

// Get returns the cached entry for one connection.
func (c *collection[T]) Get(connectionID string) (Entry[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.entries[connectionID]
	if !ok {
		return Entry[T]{}, false
	}
	return rec.snapshot, true
}

// All returns the loaded items of every connection, flattened.
func (c *collection[T]) All() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []T
	for _, rec := range c.entries {
		if rec.snapshot.State == EntryLoaded {
			out = append(out, rec.snapshot.Items...)
		}
	}
	return out
}

// drop cancels and removes one entry, or every entry when id is empty.
func (c *collection[T]) drop(connectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if connectionID == "" {
		for id, rec := range c.entries {
			if rec.cancel != nil {
				rec.cancel()
			}
			delete(c.entries, id)
		}
		return
	}
	if rec, ok := c.entries[connectionID]; ok {
		if rec.cancel != nil {
			rec.cancel()
		}
		delete(c.entries, connectionID)
	}
}

// fetchPages drains a cursor-paginated listing, stopping at maxPages to
// bound runaway servers that never return an empty cursor. Hitting the
// ceiling logs a warning and returns the pages collected so far.
func fetchPages[T any](ctx context.Context, logger *slog.Logger, connectionID string, maxPages int,
	page func(ctx context.Context, cursor string) ([]T, string, error)) ([]T, error) {
	var out []T
	cursor := ""
	for i := 0; i < maxPages; i++ {
		items, next, err := page(ctx, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if next == "" {
			return out, nil
		}
		cursor = next
	}
	logger.Warn("catalog listing truncated at page ceiling",
		slog.String(plog.ConnectionKey, connectionID),
		slog.Int("pages", maxPages))
	return out, nil
}
