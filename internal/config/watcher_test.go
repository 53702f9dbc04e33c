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

package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plog "github.com/parley-app/parley/internal/log"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parley.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o644))

	var mu sync.Mutex
	var got *Config
	w, err := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		got = cfg
		mu.Unlock()
	}, plog.New(&plog.Config{Level: "error"}))
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil && got.Log.Level == "debug"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	require.NoError(t, w.Close())
}

func TestWatcherIgnoresInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parley.yaml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	var calls int
	var mu sync.Mutex
	w, err := NewWatcher(path, func(*Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, plog.New(&plog.Config{Level: "error"}))
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer func() {
		cancel()
		w.Close()
	}()

	require.NoError(t, os.WriteFile(path, []byte("servers:\n  - name: a\n    transport: nope\n"), 0o644))

	assert.Never(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls > 0
	}, 300*time.Millisecond, 25*time.Millisecond)
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parley.yaml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	var calls int
	var mu sync.Mutex
	w, err := NewWatcher(path, func(*Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, plog.New(&plog.Config{Level: "error"}))
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer func() {
		cancel()
		w.Close()
	}()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	assert.Never(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls > 0
	}, 300*time.Millisecond, 25*time.Millisecond)
}
