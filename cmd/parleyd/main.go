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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parley-app/parley/internal/config"
	"github.com/parley-app/parley/internal/daemon"
	plog "github.com/parley-app/parley/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath string
		storePath  string
		logLevel   string
	)

	root := &cobra.Command{
		Use:           "parleyd",
		Short:         "Parley conversation daemon",
		Long:          "parleyd manages MCP server connections, capability catalogs and conversation generation for the Parley desktop app.",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, storePath, logLevel)
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default ~/.parley/parley.yaml)")
	root.Flags().StringVar(&storePath, "store", "", "Path to conversation database (default ~/.parley/parley.db)")
	root.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(configPath, storePath, logLevel string) error {
	if configPath == "" {
		configPath = config.DefaultPath()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger := plog.New(cfg.Log.LoggerConfig())

	d, err := daemon.New(cfg, daemon.Options{
		ConfigPath: configPath,
		Version:    version,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			d.Shutdown(context.Background())
			return err
		}
	}

	return d.Shutdown(context.Background())
}
