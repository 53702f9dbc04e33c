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

// Package daemon wires the parley subsystems together and manages their
// lifecycle.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parley-app/parley/internal/chat"
	"github.com/parley-app/parley/internal/config"
	plog "github.com/parley-app/parley/internal/log"
	"github.com/parley-app/parley/internal/mcp"
	"github.com/parley-app/parley/internal/provider"
	"github.com/parley-app/parley/internal/provider/openaicompat"
	"github.com/parley-app/parley/internal/store"
)

const connectTimeout = 30 * time.Second

// Options contains daemon options set at startup.
type Options struct {
	// ConfigPath is the configuration file to load and watch. Empty
	// disables config watching.
	ConfigPath string

	Version string
}

// Daemon owns every parley subsystem: the MCP connection pool, the
// capability caches, the provider registry, the conversation store and the
// turn orchestrator.
type Daemon struct {
	opts   Options
	logger *slog.Logger

	store        *store.Store
	registry     *provider.Registry
	conns        *mcp.Connections
	tools        *mcp.Tools
	prompts      *mcp.Prompts
	resources    *mcp.Resources
	completion   *mcp.Completion
	orchestrator *chat.Orchestrator
	convs        *chat.Conversations

	mu      sync.Mutex
	cfg     *config.Config
	connIDs map[string]string // server name -> connection id
	started bool
}

// New creates a daemon from the given configuration.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	logger := plog.WithComponent(plog.New(cfg.Log.LoggerConfig()), "daemon")
	slog.SetDefault(logger)

	storePath := cfg.Store.Path
	if storePath == "" {
		storePath = config.DefaultStorePath()
	}
	st, err := store.Open(storePath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	registry := provider.NewRegistry()
	if err := registerProviders(registry, cfg.Providers); err != nil {
		st.Close()
		return nil, err
	}

	conns := mcp.NewConnections(mcp.DialMCP, logger)
	orch := chat.NewOrchestrator(st, registry, chat.DefaultContextBuilder{}, logger)

	return &Daemon{
		opts:         opts,
		logger:       logger,
		store:        st,
		registry:     registry,
		conns:        conns,
		tools:        mcp.NewTools(conns, logger),
		prompts:      mcp.NewPrompts(conns, logger),
		resources:    mcp.NewResources(conns, logger),
		completion:   mcp.NewCompletion(conns, logger),
		orchestrator: orch,
		convs:        chat.NewConversations(st, orch),
		cfg:          cfg,
		connIDs:      make(map[string]string),
	}, nil
}

// Conversations exposes the conversation service.
func (d *Daemon) Conversations() *chat.Conversations { return d.convs }

// Connections exposes the MCP connection pool.
func (d *Daemon) Connections() *mcp.Connections { return d.conns }

// Tools exposes the tool catalog.
func (d *Daemon) Tools() *mcp.Tools { return d.tools }

// Prompts exposes the prompt catalog.
func (d *Daemon) Prompts() *mcp.Prompts { return d.prompts }

// Resources exposes the resource catalog.
func (d *Daemon) Resources() *mcp.Resources { return d.resources }

// Completion exposes argument completion.
func (d *Daemon) Completion() *mcp.Completion { return d.completion }

// Start runs the daemon until ctx is cancelled. The capability caches run
// for the lifetime of the context; configured servers are connected in the
// background so a slow or broken server never blocks startup.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	cfg := d.cfg
	d.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { d.tools.Run(ctx); return nil })
	g.Go(func() error { d.prompts.Run(ctx); return nil })
	g.Go(func() error { d.resources.Run(ctx); return nil })

	d.connectServers(ctx, cfg.Servers)

	if d.opts.ConfigPath != "" {
		watcher, err := config.NewWatcher(d.opts.ConfigPath, func(next *config.Config) {
			d.applyConfig(ctx, next)
		}, d.logger)
		if err != nil {
			d.logger.Warn("config watching unavailable", plog.Error(err))
		} else {
			g.Go(func() error {
				defer watcher.Close()
				watcher.Run(ctx)
				return nil
			})
		}
	}

	d.logger.Info("daemon started",
		"version", d.opts.Version,
		"servers", len(cfg.Servers),
		"providers", len(cfg.Providers))

	return g.Wait()
}

// Shutdown stops in-flight turns, disconnects servers and closes the store.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.orchestrator.Close()
	if err := d.conns.Close(); err != nil {
		d.logger.Warn("closing connections", plog.Error(err))
	}
	return d.store.Close()
}

// connectServers dials each configured server concurrently. Failures are
// logged and recorded on the connection entry, never returned.
func (d *Daemon) connectServers(ctx context.Context, servers []config.ServerConfig) {
	for _, s := range servers {
		go func() {
			dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()

			id, err := d.conns.Connect(dialCtx, s.Descriptor())
			if err != nil {
				d.logger.Warn("server connect failed", "server", s.Name, plog.Error(err))
				return
			}
			d.mu.Lock()
			d.connIDs[s.Name] = id
			d.mu.Unlock()
		}()
	}
}

// applyConfig reconciles a reloaded configuration: providers are
// re-registered wholesale, removed servers are dropped and new servers are
// connected. Servers that stay configured keep their live connections.
func (d *Daemon) applyConfig(ctx context.Context, next *config.Config) {
	if err := registerProviders(d.registry, next.Providers); err != nil {
		d.logger.Warn("provider reload failed", plog.Error(err))
	}

	d.mu.Lock()
	d.cfg = next

	known := make(map[string]bool, len(next.Servers))
	for _, s := range next.Servers {
		known[s.Name] = true
	}

	var removed []string
	for name, id := range d.connIDs {
		if !known[name] {
			removed = append(removed, id)
			delete(d.connIDs, name)
		}
	}

	var added []config.ServerConfig
	for _, s := range next.Servers {
		if _, ok := d.connIDs[s.Name]; !ok {
			added = append(added, s)
		}
	}
	d.mu.Unlock()

	for _, id := range removed {
		if err := d.conns.Remove(id); err != nil {
			d.logger.Warn("server remove failed", plog.ConnectionKey, id, plog.Error(err))
		}
	}
	d.connectServers(ctx, added)
}

func registerProviders(registry *provider.Registry, configs []config.ProviderConfig) error {
	for _, pc := range configs {
		p, err := openaicompat.New(openaicompat.Config{
			Name:    pc.Name,
			BaseURL: pc.BaseURL,
			APIKey:  pc.APIKey(),
			Models:  pc.Models,
		})
		if err != nil {
			return fmt.Errorf("provider %q: %w", pc.Name, err)
		}
		registry.Register(p)
	}
	return nil
}
