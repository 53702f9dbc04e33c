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

package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-app/parley/internal/config"
	"github.com/parley-app/parley/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{Path: filepath.Join(t.TempDir(), "parley.db")},
		Log:   config.LogConfig{Level: "error"},
		Providers: []config.ProviderConfig{
			{
				Name:    "local",
				Kind:    "openai-compat",
				BaseURL: "http://localhost:1/v1",
				Models:  []string{"test-model"},
			},
		},
	}
}

func TestNewRegistersConfiguredProviders(t *testing.T) {
	d, err := New(testConfig(t), Options{Version: "test"})
	require.NoError(t, err)
	defer d.Shutdown(context.Background())

	p, err := d.registry.Get("local")
	require.NoError(t, err)
	assert.Equal(t, "local", p.Name())
	assert.Contains(t, p.Models(), "test-model")
}

func TestNewRejectsBrokenProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers[0].BaseURL = ""

	_, err := New(cfg, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local")
}

func TestStartAndShutdown(t *testing.T) {
	d, err := New(testConfig(t), Options{Version: "test"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.Start(ctx)
	}()

	// Conversations are usable while the daemon runs.
	conv := &store.Conversation{Title: "smoke"}
	require.NoError(t, d.Conversations().Create(context.Background(), conv))
	got, err := d.Conversations().Get(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "smoke", got.Title)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestStartTwiceFails(t *testing.T) {
	d, err := New(testConfig(t), Options{})
	require.NoError(t, err)
	defer d.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	go d.Start(ctx)
	defer cancel()

	require.Eventually(t, func() bool {
		return d.Start(ctx) != nil
	}, time.Second, 10*time.Millisecond)
}

func TestApplyConfigReloadsProviders(t *testing.T) {
	d, err := New(testConfig(t), Options{})
	require.NoError(t, err)
	defer d.Shutdown(context.Background())

	next := testConfig(t)
	next.Providers = append(next.Providers, config.ProviderConfig{
		Name:    "backup",
		Kind:    "openai-compat",
		BaseURL: "http://localhost:2/v1",
		Models:  []string{"other-model"},
	})
	d.applyConfig(context.Background(), next)

	p, err := d.registry.Get("backup")
	require.NoError(t, err)
	assert.Equal(t, "backup", p.Name())
}
