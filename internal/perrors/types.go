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

// Package perrors defines the typed errors shared across Parley's core.
// Each type identifies a failure category callers are expected to branch on;
// anything else is wrapped with plain context via Wrap/Wrapf.
package perrors

import (
	"fmt"
)

// ConnectionError represents a transport or handshake failure while
// establishing an MCP server connection. Connect attempts are not retried
// by the core; the caller decides whether to try again.
type ConnectionError struct {
	// Server identifies the connection attempt (name or endpoint).
	Server string

	// Stage is the phase that failed ("transport", "handshake").
	Stage string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("connection to %s failed during %s: %v", e.Server, e.Stage, e.Cause)
	}
	return fmt.Sprintf("connection to %s failed: %v", e.Server, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// NotConnectedError is returned when an operation requires a connection in
// the connected state and it is absent or in any other state. This is the
// universal guard failure for capability operations.
type NotConnectedError struct {
	// ConnectionID is the id that was looked up.
	ConnectionID string

	// State is the observed state, or empty if the id is unknown.
	State string
}

// Error implements the error interface.
func (e *NotConnectedError) Error() string {
	if e.State == "" {
		return fmt.Sprintf("connection %s not found", e.ConnectionID)
	}
	return fmt.Sprintf("connection %s is %s, not connected", e.ConnectionID, e.State)
}

// NotFoundError represents a missing resource (conversation, turn, provider,
// model, catalog entry).
type NotFoundError struct {
	// Resource is the type of resource (e.g., "conversation", "model").
	Resource string

	// ID is the identifier that was not found.
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NotReadyError indicates a resource exists but is not in a usable state,
// such as a conversation without a model or a provider still starting up.
type NotReadyError struct {
	// Resource is the type of resource.
	Resource string

	// ID is the identifier.
	ID string

	// Reason explains what is missing.
	Reason string
}

// Error implements the error interface.
func (e *NotReadyError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s is not ready: %s", e.Resource, e.ID, e.Reason)
	}
	return fmt.Sprintf("%s %s is not ready", e.Resource, e.ID)
}

// AccessDeniedError is returned when a resource read is attempted through an
// address that does not resolve to an external resource URL.
type AccessDeniedError struct {
	// URL is the address that was rejected.
	URL string
}

// Error implements the error interface.
func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: %s is not an external resource URL", e.URL)
}
