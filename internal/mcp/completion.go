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

	plog "github.com/parley-app/parley/internal/log"
)

// Completion issues argument-completion requests against connections that
// advertise the completions capability.
type Completion struct {
	conns  *Connections
	logger *slog.Logger
}

// NewCompletion creates the completion manager.
func NewCompletion(conns *Connections, logger *slog.Logger) *Completion {
	if logger == nil {
		logger = slog.Default()
	}
	return &Completion{
		conns:  conns,
		logger: plog.WithComponent(logger, "mcp.completion"),
	}
}

// Complete requests completion suggestions for a prompt or resource
// argument. A connection without the completions capability yields an
// empty result rather than an error, so callers can ask unconditionally.
func (c *Completion) Complete(ctx context.Context, connectionID string, ref CompleteRef, argName, argValue string) (*CompleteResult, error) {
	client, err := c.conns.GetConnected(connectionID)
	if err != nil {
		return nil, err
	}
	if !client.Capabilities().Has(CapabilityCompletions) {
		c.logger.Debug("completions not advertised, returning empty result",
			slog.String(plog.ConnectionKey, connectionID))
		return &CompleteResult{Values: []string{}}, nil
	}
	return client.Complete(ctx, ref, argName, argValue)
}
