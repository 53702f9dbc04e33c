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
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-app/parley/internal/bus"
	plog "github.com/parley-app/parley/internal/log"
	"github.com/parley-app/parley/internal/perrors"
)

// State is a connection lifecycle state.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnecting State = "disconnecting"
	StateFailed        State = "failed"
)

// Dialer establishes a protocol session for a transport descriptor.
// The production dialer is DialMCP; tests inject scripted clients.
type Dialer func(ctx context.Context, desc TransportDescriptor) (ProtocolClient, error)

// ConnectedEvent is published when a connection reaches the connected state.
type ConnectedEvent struct {
	ConnectionID string
	Capabilities Capabilities
}

// DisconnectedEvent is published when a connection leaves the connected
// state, whether by request or by failure.
type DisconnectedEvent struct {
	ConnectionID string
	Err          error
}

// ListChangedEvent is published when a server announces that one of its
// capability catalogs changed.
type ListChangedEvent struct {
	ConnectionID string
	Capability   Capability
}

type connEntry struct {
	id         string
	descriptor TransportDescriptor
	state      State
	client     ProtocolClient
	caps       Capabilities
	connected  time.Time
	lastErr    error
	cancel     context.CancelFunc
}

// Connections owns the lifecycle of every MCP connection. Connection ids
// are generated UUIDs; callers hold ids, never clients.
type Connections struct {
	mu      sync.RWMutex
	entries map[string]*connEntry
	closed  bool

	dial   Dialer
	logger *slog.Logger

	// Connected fires after a successful handshake, Disconnected after
	// teardown, ListChanged on server catalog notifications.
	Connected    *bus.Topic[ConnectedEvent]
	Disconnected *bus.Topic[DisconnectedEvent]
	ListChanged  *bus.Topic[ListChangedEvent]
}

// NewConnections creates a connection manager using the given dialer.
func NewConnections(dial Dialer, logger *slog.Logger) *Connections {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connections{
		entries:      make(map[string]*connEntry),
		dial:         dial,
		logger:       plog.WithComponent(logger, "mcp.connections"),
		Connected:    bus.NewTopic[ConnectedEvent](),
		Disconnected: bus.NewTopic[DisconnectedEvent](),
		ListChanged:  bus.NewTopic[ListChangedEvent](),
	}
}

// Connect dials the described server and returns the new connection's id.
// The entry is registered in the connecting state before the dial starts,
// so Get observes the attempt immediately. A failed dial leaves the entry
// in the failed state with its error recorded.
func (c *Connections) Connect(ctx context.Context, desc TransportDescriptor) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", perrors.Wrap(context.Canceled, "connection manager closed")
	}
	id := uuid.NewString()
	dialCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	entry := &connEntry{
		id:         id,
		descriptor: desc,
		state:      StateConnecting,
		cancel:     cancel,
	}
	c.entries[id] = entry
	c.mu.Unlock()

	logger := plog.WithConnection(c.logger, id)
	logger.Info("connecting to server",
		slog.String("server", desc.Name),
		slog.String("transport", string(desc.Kind)))

	client, err := c.dial(dialCtx, desc)
	if err != nil {
		cancel()
		c.mu.Lock()
		// Disconnect may have raced us and removed the entry.
		if cur, ok := c.entries[id]; ok {
			cur.state = StateFailed
			cur.lastErr = err
		}
		c.mu.Unlock()
		logger.Error("connection failed",
			slog.String("server", desc.Name),
			plog.Error(err))
		return id, &perrors.ConnectionError{Server: desc.Name, Stage: "dial", Cause: err}
	}

	caps := client.Capabilities()
	client.OnListChanged(func(cap Capability) {
		c.ListChanged.Publish(ListChangedEvent{ConnectionID: id, Capability: cap})
	})

	c.mu.Lock()
	cur, ok := c.entries[id]
	if !ok || c.closed {
		// Torn down while we were dialing.
		c.mu.Unlock()
		cancel()
		_ = client.Close()
		return id, &perrors.NotConnectedError{ConnectionID: id, State: string(StateDisconnected)}
	}
	cur.state = StateConnected
	cur.client = client
	cur.caps = caps
	cur.connected = time.Now()
	cur.lastErr = nil
	c.mu.Unlock()

	logger.Info("connected to server", slog.String("server", desc.Name))
	c.Connected.Publish(ConnectedEvent{ConnectionID: id, Capabilities: caps})
	return id, nil
}

// Disconnect tears down a connection. Disconnecting an unknown id or an
// already-disconnected connection is a no-op.
func (c *Connections) Disconnect(id string) error {
	c.mu.Lock()
	entry, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	if entry.state == StateDisconnected || entry.state == StateDisconnecting {
		c.mu.Unlock()
		return nil
	}
	wasConnected := entry.state == StateConnected
	entry.state = StateDisconnecting
	client := entry.client
	entry.client = nil
	cancel := entry.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var closeErr error
	if client != nil {
		closeErr = client.Close()
	}

	c.mu.Lock()
	if cur, ok := c.entries[id]; ok {
		cur.state = StateDisconnected
	}
	c.mu.Unlock()

	plog.WithConnection(c.logger, id).Info("disconnected from server")
	if wasConnected {
		c.Disconnected.Publish(DisconnectedEvent{ConnectionID: id})
	}
	return closeErr
}

// Remove disconnects a connection and forgets its entry entirely.
func (c *Connections) Remove(id string) error {
	err := c.Disconnect(id)
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
	return err
}

// Get returns a snapshot of a connection's current state.
func (c *Connections) Get(id string) (Connection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[id]
	if !ok {
		return Connection{}, &perrors.NotFoundError{Resource: "connection", ID: id}
	}
	return snapshotOf(entry), nil
}

// List returns snapshots of every known connection.
func (c *Connections) List() []Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Connection, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, snapshotOf(entry))
	}
	return out
}

// GetConnected returns the protocol client for a connection, failing with
// NotConnectedError unless the connection is in the connected state. An
// unknown id is the same guard failure as a known but disconnected one.
// This is the single gate every capability operation passes through.
func (c *Connections) GetConnected(id string) (ProtocolClient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[id]
	if !ok {
		return nil, &perrors.NotConnectedError{ConnectionID: id}
	}
	if entry.state != StateConnected || entry.client == nil {
		return nil, &perrors.NotConnectedError{ConnectionID: id, State: string(entry.state)}
	}
	return entry.client, nil
}

// Close disconnects everything and shuts the event topics down. The
// manager rejects new connections afterwards.
func (c *Connections) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := c.Disconnect(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.Connected.Close()
	c.Disconnected.Close()
	c.ListChanged.Close()
	return firstErr
}

func snapshotOf(entry *connEntry) Connection {
	snap := Connection{
		ID:           entry.id,
		Descriptor:   entry.descriptor,
		State:        entry.state,
		Capabilities: entry.caps,
		ConnectedAt:  entry.connected,
	}
	if entry.lastErr != nil {
		snap.LastError = entry.lastErr.Error()
	}
	return snap
}
