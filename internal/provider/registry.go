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

package provider

import (
	"sort"
	"sync"

	"github.com/parley-app/parley/internal/perrors"
)

// Registry holds activated providers by name. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider. Registering the same name twice overwrites the
// previous entry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, &perrors.NotFoundError{Resource: "provider", ID: name}
	}
	return p, nil
}

// List returns all registered providers, sorted by name.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Resolve looks up a provider and model, requiring the provider to be
// ready. Turns must not start against a provider that is still starting or
// has failed.
func (r *Registry) Resolve(providerName, modelName string) (Provider, Model, error) {
	p, err := r.Get(providerName)
	if err != nil {
		return nil, nil, err
	}
	if p.Status() != StatusReady {
		return nil, nil, &perrors.NotReadyError{
			Resource: "provider",
			ID:       providerName,
			Reason:   "status is " + string(p.Status()),
		}
	}
	model, err := p.Model(modelName)
	if err != nil {
		return nil, nil, err
	}
	return p, model, nil
}
