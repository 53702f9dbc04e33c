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
	"errors"
	"log/slog"
	"sync"

	plog "github.com/parley-app/parley/internal/log"
	"github.com/parley-app/parley/internal/parts"
	"github.com/parley-app/parley/internal/perrors"
	"github.com/parley-app/parley/internal/provider"
	"github.com/parley-app/parley/internal/store"
)

// Orchestrator runs conversation turns. A turn's row is inserted before
// generation begins, updated after every stream chunk, and finalized with
// a terminal finish reason; generation failures land in the row, never in
// the caller.
type Orchestrator struct {
	store    *store.Store
	registry *provider.Registry
	builder  ContextBuilder
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. A nil builder falls back to
// DefaultContextBuilder.
func NewOrchestrator(st *store.Store, registry *provider.Registry, builder ContextBuilder, logger *slog.Logger) *Orchestrator {
	if builder == nil {
		builder = DefaultContextBuilder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    st,
		registry: registry,
		builder:  builder,
		logger:   plog.WithComponent(logger, "chat.orchestrator"),
		running:  make(map[string]context.CancelFunc),
	}
}

// StartTurn validates the conversation, inserts the turn row and starts
// generation in the background. The returned id is readable immediately;
// the row reaches a terminal finish reason when generation ends. Only
// pre-generation failures (missing conversation, unready provider) come
// back as errors.
func (o *Orchestrator) StartTurn(ctx context.Context, conversationID string, prompt store.Prompt) (string, error) {
	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if err := requireProviderSet(conv); err != nil {
		return "", err
	}

	prov, model, err := o.registry.Resolve(conv.ProviderID, conv.Model)
	if err != nil {
		return "", err
	}

	prior, err := o.store.ListTurns(ctx, conversationID)
	if err != nil {
		return "", err
	}

	turn := &store.Turn{
		ConversationID: conversationID,
		Prompt:         prompt,
		Metadata: store.TurnMetadata{
			ProviderID:   prov.Name(),
			ProviderKind: prov.Kind(),
			Model:        conv.Model,
		},
	}
	if err := o.store.InsertTurn(ctx, turn); err != nil {
		return "", err
	}

	plog.WithConversation(o.logger, conversationID).Info("turn started",
		slog.String(plog.TurnKey, turn.ID),
		slog.String(plog.ProviderKey, prov.Name()),
		slog.String("model", conv.Model))

	genCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.running[turn.ID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			cancel()
			o.mu.Lock()
			delete(o.running, turn.ID)
			o.mu.Unlock()
		}()
		o.generate(genCtx, conv, prior, model, turn)
	}()

	return turn.ID, nil
}

// Abort cancels a running turn. Unknown or already-finished turns are a
// no-op.
func (o *Orchestrator) Abort(turnID string) {
	o.mu.Lock()
	cancel, ok := o.running[turnID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// Running reports whether a turn is currently generating.
func (o *Orchestrator) Running(turnID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[turnID]
	return ok
}

// Close aborts every running turn and waits for their final persistence.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	for _, cancel := range o.running {
		cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// generate runs the merge loop: open the stream, fold chunks into the
// reply, persist after every chunk, finalize with a terminal reason.
func (o *Orchestrator) generate(ctx context.Context, conv *store.Conversation, prior []*store.Turn, model provider.Model, turn *store.Turn) {
	logger := plog.WithTurn(o.logger, conv.ID, turn.ID)

	messages, err := o.builder.Build(conv, prior, turn.Prompt)
	if err != nil {
		o.finalizeError(ctx, turn, err, logger)
		return
	}

	stream, err := model.Generate(ctx, provider.Request{
		Messages:    messages,
		Temperature: conv.Config.Temperature,
		MaxTokens:   conv.Config.MaxTokens,
	})
	if err != nil {
		o.finalizeError(ctx, turn, err, logger)
		return
	}

	for chunk := range stream {
		if chunk.Err != nil {
			if errors.Is(chunk.Err, context.Canceled) {
				o.finalizeCancelled(turn, logger)
			} else {
				o.finalizeError(ctx, turn, chunk.Err, logger)
			}
			return
		}

		mergeChunk(turn, chunk)
		if err := o.persist(ctx, turn); err != nil {
			logger.Error("failed to persist turn", plog.Error(err))
		}
		if chunk.Type == provider.ChunkFinish {
			logger.Info("turn finished", slog.String("reason", string(chunk.Reason)))
			return
		}
	}

	// Stream closed without a finish chunk.
	if turn.FinishReason == "" {
		if ctx.Err() != nil {
			o.finalizeCancelled(turn, logger)
			return
		}
		turn.FinishReason = string(provider.FinishStop)
		if err := o.persist(ctx, turn); err != nil {
			logger.Error("failed to persist turn", plog.Error(err))
		}
	}
}

// mergeChunk folds one stream chunk into the turn's reply. Text and
// reasoning coalesce into the previous part of the same type; every other
// content chunk appends; finish sets the terminal fields.
func mergeChunk(turn *store.Turn, chunk provider.Chunk) {
	switch chunk.Type {
	case provider.ChunkText, provider.ChunkReasoning:
		partType := parts.TypeText
		if chunk.Type == provider.ChunkReasoning {
			partType = parts.TypeReasoning
		}
		if n := len(turn.Reply); n > 0 && turn.Reply[n-1].Type == partType {
			turn.Reply[n-1].Text += chunk.Text
			return
		}
		turn.Reply = append(turn.Reply, parts.Part{Type: partType, Text: chunk.Text})

	case provider.ChunkToolCall:
		turn.Reply = append(turn.Reply, parts.Part{
			Type: parts.TypeToolCall,
			ID:   chunk.ID,
			Name: chunk.Name,
			Args: chunk.Args,
		})

	case provider.ChunkSource:
		turn.Reply = append(turn.Reply, parts.Part{
			Type:     parts.TypeSource,
			URL:      chunk.URL,
			Name:     chunk.Name,
			MimeType: chunk.MimeType,
		})

	case provider.ChunkReference:
		turn.Reply = append(turn.Reply, parts.Part{
			Type:     parts.TypeReference,
			URL:      chunk.URL,
			Name:     chunk.Name,
			MimeType: chunk.MimeType,
		})

	case provider.ChunkResource:
		turn.Reply = append(turn.Reply, parts.Part{
			Type:     parts.TypeFile,
			URL:      chunk.URL,
			Text:     chunk.Text,
			MimeType: chunk.MimeType,
		})

	case provider.ChunkFinish:
		turn.FinishReason = string(chunk.Reason)
		turn.Usage = chunk.Usage
	}
}

func (o *Orchestrator) persist(ctx context.Context, turn *store.Turn) error {
	return o.store.UpdateTurn(context.WithoutCancel(ctx), turn)
}

func (o *Orchestrator) finalizeError(ctx context.Context, turn *store.Turn, genErr error, logger *slog.Logger) {
	logger.Warn("turn failed", plog.Error(genErr))
	turn.FinishReason = string(provider.FinishError)
	turn.Error = genErr.Error()
	if err := o.persist(ctx, turn); err != nil {
		logger.Error("failed to persist failed turn", plog.Error(err))
	}
}

func (o *Orchestrator) finalizeCancelled(turn *store.Turn, logger *slog.Logger) {
	logger.Info("turn cancelled")
	turn.FinishReason = string(provider.FinishCancelled)
	if err := o.store.UpdateTurn(context.Background(), turn); err != nil {
		logger.Error("failed to persist cancelled turn", plog.Error(err))
	}
}

func requireProviderSet(conv *store.Conversation) error {
	if conv.ProviderID == "" || conv.Model == "" {
		return &perrors.NotReadyError{
			Resource: "conversation",
			ID:       conv.ID,
			Reason:   "provider or model not configured",
		}
	}
	return nil
}
