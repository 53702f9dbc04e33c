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

package chat

import (
	"context"

	"github.com/parley-app/parley/internal/store"
)

// Conversations is the service surface for conversation management. It
// wraps the store's CRUD and live queries and routes turn starts through
// the orchestrator.
type Conversations struct {
	store        *store.Store
	orchestrator *Orchestrator
}

// NewConversations creates the conversations service.
func NewConversations(st *store.Store, orch *Orchestrator) *Conversations {
	return &Conversations{store: st, orchestrator: orch}
}

// Create inserts a new conversation.
func (c *Conversations) Create(ctx context.Context, conv *store.Conversation) error {
	return c.store.CreateConversation(ctx, conv)
}

// Get retrieves a conversation by id.
func (c *Conversations) Get(ctx context.Context, id string) (*store.Conversation, error) {
	return c.store.GetConversation(ctx, id)
}

// List returns all conversations, most recently updated first.
func (c *Conversations) List(ctx context.Context) ([]*store.Conversation, error) {
	return c.store.ListConversations(ctx)
}

// Update writes a conversation's mutable fields.
func (c *Conversations) Update(ctx context.Context, conv *store.Conversation) error {
	return c.store.UpdateConversation(ctx, conv)
}

// Delete removes a conversation and its turns.
func (c *Conversations) Delete(ctx context.Context, id string) error {
	return c.store.DeleteConversation(ctx, id)
}

// Turns returns a conversation's turns, oldest first.
func (c *Conversations) Turns(ctx context.Context, conversationID string) ([]*store.Turn, error) {
	return c.store.ListTurns(ctx, conversationID)
}

// Turn retrieves one turn by id.
func (c *Conversations) Turn(ctx context.Context, turnID string) (*store.Turn, error) {
	return c.store.GetTurn(ctx, turnID)
}

// StartTurn begins a new turn in the conversation.
func (c *Conversations) StartTurn(ctx context.Context, conversationID string, prompt store.Prompt) (string, error) {
	return c.orchestrator.StartTurn(ctx, conversationID, prompt)
}

// AbortTurn cancels a running turn.
func (c *Conversations) AbortTurn(turnID string) {
	c.orchestrator.Abort(turnID)
}

// Watch subscribes to committed writes of one conversation.
func (c *Conversations) Watch(id string) (<-chan store.Conversation, func()) {
	return c.store.WatchConversation(id)
}

// WatchTurn subscribes to committed writes of one turn.
func (c *Conversations) WatchTurn(id string) (<-chan store.Turn, func()) {
	return c.store.WatchTurn(id)
}
