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

// Package config loads and validates the parley configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/parley-app/parley/internal/log"
	"github.com/parley-app/parley/internal/mcp"
)

// ErrInvalidConfig is returned when a configuration file fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the top-level configuration for the parley daemon.
type Config struct {
	Servers   []ServerConfig   `yaml:"servers,omitempty"`
	Providers []ProviderConfig `yaml:"providers,omitempty"`
	Store     StoreConfig      `yaml:"store,omitempty"`
	Log       LogConfig        `yaml:"log,omitempty"`
}

// ServerConfig describes a single MCP server to connect on startup.
type ServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"`
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	Env       []string          `yaml:"env,omitempty"`
	Endpoint  string            `yaml:"endpoint,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
}

// Descriptor converts the server entry into a transport descriptor.
func (s ServerConfig) Descriptor() mcp.TransportDescriptor {
	return mcp.TransportDescriptor{
		Name:     s.Name,
		Kind:     mcp.TransportKind(s.Transport),
		Command:  s.Command,
		Args:     s.Args,
		Env:      s.Env,
		Endpoint: s.Endpoint,
		Headers:  s.Headers,
	}
}

// ProviderConfig describes a model provider endpoint.
type ProviderConfig struct {
	Name      string   `yaml:"name"`
	Kind      string   `yaml:"kind"`
	BaseURL   string   `yaml:"base_url"`
	APIKeyEnv string   `yaml:"api_key_env,omitempty"`
	Models    []string `yaml:"models"`
}

// APIKey resolves the provider credential from the configured environment
// variable. Returns an empty string when no variable is configured.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// StoreConfig configures the conversation store.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"`
}

// LogConfig configures daemon logging. Values layer over the LOG_LEVEL and
// LOG_FORMAT environment variables.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// LoggerConfig resolves the effective logger configuration.
func (l LogConfig) LoggerConfig() *log.Config {
	cfg := log.FromEnv()
	if l.Level != "" {
		cfg.Level = l.Level
	}
	if l.Format != "" {
		cfg.Format = log.Format(l.Format)
	}
	return cfg
}

// DefaultPath returns the default configuration file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "parley.yaml"
	}
	return filepath.Join(home, ".parley", "parley.yaml")
}

// DefaultStorePath returns the default conversation database location.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "parley.db"
	}
	return filepath.Join(home, ".parley", "parley.db")
}

// Load reads and validates the configuration at path. A missing file is not
// an error; it yields an empty configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	serverNames := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("%w: servers[%d]: name is required", ErrInvalidConfig, i)
		}
		if serverNames[s.Name] {
			return fmt.Errorf("%w: duplicate server name %q", ErrInvalidConfig, s.Name)
		}
		serverNames[s.Name] = true

		switch mcp.TransportKind(s.Transport) {
		case mcp.TransportStdio:
			if s.Command == "" {
				return fmt.Errorf("%w: server %q: command is required for stdio transport", ErrInvalidConfig, s.Name)
			}
		case mcp.TransportHTTP, mcp.TransportSSE:
			if s.Endpoint == "" {
				return fmt.Errorf("%w: server %q: endpoint is required for %s transport", ErrInvalidConfig, s.Name, s.Transport)
			}
		default:
			return fmt.Errorf("%w: server %q: unknown transport %q", ErrInvalidConfig, s.Name, s.Transport)
		}
	}

	providerNames := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("%w: providers[%d]: name is required", ErrInvalidConfig, i)
		}
		if providerNames[p.Name] {
			return fmt.Errorf("%w: duplicate provider name %q", ErrInvalidConfig, p.Name)
		}
		providerNames[p.Name] = true

		if p.Kind != "openai-compat" {
			return fmt.Errorf("%w: provider %q: unknown kind %q", ErrInvalidConfig, p.Name, p.Kind)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("%w: provider %q: base_url is required", ErrInvalidConfig, p.Name)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("%w: provider %q: at least one model is required", ErrInvalidConfig, p.Name)
		}
	}

	return nil
}
