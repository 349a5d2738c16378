// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/seastack/lambdev/pkg/logging"
	"github.com/seastack/lambdev/services/devloop"
	"github.com/seastack/lambdev/services/devloop/cdk"
	"github.com/seastack/lambdev/services/devloop/telemetry"
)

// appConfigFile declares the app's handlers and infra inputs.
const appConfigFile = "lambdev.yaml"

// appConfig mirrors lambdev.yaml.
type appConfig struct {
	Handlers      []devloop.Handler `yaml:"handlers"`
	CdkInputFiles []string          `yaml:"cdkInputFiles"`
	CdkEntryPoint string            `yaml:"cdkEntryPoint"`
	Lint          bool              `yaml:"lint"`
	TypeCheck     bool              `yaml:"typeCheck"`
	SynthCommand  string            `yaml:"synthCommand"`
	DeployCommand string            `yaml:"deployCommand"`
	SynthOutDir   string            `yaml:"synthOutDir"`
}

var (
	flagAppPath string
	flagVerbose bool
	flagLogDir  string
)

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Watch sources and rebuild on change",
	RunE:  runDev,
}

func init() {
	devCmd.Flags().StringVarP(&flagAppPath, "app-path", "a", ".", "application root directory")
	devCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	devCmd.Flags().StringVar(&flagLogDir, "log-dir", "", "also write JSON logs to this directory")
	rootCmd.AddCommand(devCmd)
}

func runDev(cmd *cobra.Command, _ []string) error {
	level := logging.LevelInfo
	if flagVerbose {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  flagLogDir,
		Service: "dev",
	})
	defer logger.Close()
	logger.InstallDefault()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	appPath, err := filepath.Abs(flagAppPath)
	if err != nil {
		return err
	}

	app, err := loadAppConfig(appPath)
	if err != nil {
		return err
	}

	synthOut := app.SynthOutDir
	if synthOut == "" {
		synthOut = "cdk.out"
	}

	cfg := devloop.Config{
		AppPath:            appPath,
		LambdaHandlers:     app.Handlers,
		CdkInputFiles:      absAll(appPath, app.CdkInputFiles),
		CdkEntryPoint:      app.CdkEntryPoint,
		IsLintEnabled:      app.Lint,
		IsTypeCheckEnabled: app.TypeCheck,
		OnReSynthApp:       synthFunc(appPath, app.SynthCommand, synthOut),
		OnReDeployApp:      deployFunc(appPath, app.DeployCommand),
	}

	orch, err := devloop.New(cfg)
	if err != nil {
		return err
	}
	if err := orch.Start(ctx, false); err != nil {
		return err
	}
	defer orch.Stop()

	logger.Info("watching for changes", "app_path", appPath)

	// ENTER approves a pending infra deploy.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			orch.OnInput()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
	return nil
}

// loadAppConfig reads lambdev.yaml from the app root.
func loadAppConfig(appPath string) (*appConfig, error) {
	raw, err := os.ReadFile(filepath.Join(appPath, appConfigFile))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", appConfigFile, err)
	}
	var app appConfig
	if err := yaml.Unmarshal(raw, &app); err != nil {
		return nil, fmt.Errorf("parse %s: %w", appConfigFile, err)
	}
	return &app, nil
}

// synthFunc shells out to the app's synth command and checksums the
// synthesized stack templates.
func synthFunc(appPath, command, outDir string) func(ctx context.Context) (*cdk.Manifest, error) {
	if command == "" {
		command = "npx cdk synth --quiet"
	}
	return func(ctx context.Context) (*cdk.Manifest, error) {
		if err := runShell(ctx, appPath, command); err != nil {
			if ctx.Err() == context.Canceled {
				return nil, cdk.ErrSynthCancelled
			}
			return nil, err
		}
		sums, err := checksumTemplates(filepath.Join(appPath, outDir))
		if err != nil {
			return nil, err
		}
		return &cdk.Manifest{ChecksumData: sums}, nil
	}
}

// deployFunc shells out to the app's deploy command for the changed
// stacks.
func deployFunc(appPath, command string) func(ctx context.Context, checksums map[string]string) error {
	if command == "" {
		command = "npx cdk deploy --require-approval never"
	}
	return func(ctx context.Context, checksums map[string]string) error {
		if len(checksums) == 0 {
			return nil
		}
		stacks := make([]string, 0, len(checksums))
		for stack := range checksums {
			stacks = append(stacks, stack)
		}
		return runShell(ctx, appPath, command+" "+strings.Join(stacks, " "))
	}
}

// runShell executes a command line with the parent's stdout and stderr.
func runShell(ctx context.Context, dir, command string) error {
	parts := strings.Fields(command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// checksumTemplates hashes each stack template in the synth output dir.
func checksumTemplates(outDir string) (map[string]string, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("read synth output: %w", err)
	}
	sums := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".template.json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(outDir, name))
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(raw)
		stack := strings.TrimSuffix(name, ".template.json")
		sums[stack] = hex.EncodeToString(sum[:])
	}
	return sums, nil
}

// absAll resolves paths against the app root.
func absAll(appPath string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(appPath, p)
		}
		out = append(out, p)
	}
	return out
}
