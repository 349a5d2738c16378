// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package devloop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/seastack/lambdev/services/devloop/builder"
	"github.com/seastack/lambdev/services/devloop/cdk"
	"github.com/seastack/lambdev/services/devloop/registry"
)

var validate = validator.New()

// Handler describes one deployable function unit supplied by the host.
type Handler struct {
	// SrcPath is the handler's source directory, relative to AppPath.
	SrcPath string `yaml:"srcPath" validate:"required"`

	// Handler is dir/file.symbol for node and python runtimes, or
	// dir/file.go (or a directory) for go.
	Handler string `yaml:"handler" validate:"required"`

	// Runtime is the host runtime identifier, e.g. "nodejs18.x",
	// "go1.x", "python3.12".
	Runtime string `yaml:"runtime" validate:"required"`

	// Bundle controls dependency bundling for node-like handlers.
	// Nil means true.
	Bundle *bool `yaml:"bundle"`
}

// Config is the orchestrator's construction input.
type Config struct {
	// AppPath is the absolute directory of the application root.
	AppPath string `validate:"required"`

	// LambdaHandlers is the ordered handler list.
	LambdaHandlers []Handler `validate:"dive"`

	// CdkInputFiles is the initial infra input-file list (absolute paths).
	CdkInputFiles []string

	// CdkChecksumData holds the last-known per-stack checksums.
	CdkChecksumData map[string]string

	// CdkEntryPoint is the infra app's bundler entry file, relative to
	// AppPath. Empty disables the built-in infra rebuild step (the
	// rebuild then succeeds immediately with an unchanged input set).
	CdkEntryPoint string

	// IsLintEnabled gates linter launches.
	IsLintEnabled bool

	// IsTypeCheckEnabled gates type-checker launches.
	IsTypeCheckEnabled bool

	// OnReSynthApp re-synthesizes the infrastructure model. The host may
	// reject with cdk.ErrSynthCancelled (or any error whose Cancelled()
	// returns true) when it abandoned the synth for a newer edit.
	OnReSynthApp func(ctx context.Context) (*cdk.Manifest, error)

	// OnReDeployApp deploys the changed stacks. checksumData holds only
	// stacks whose checksum differs from the last successful deploy.
	OnReDeployApp func(ctx context.Context, checksumData map[string]string) error

	// OnReBuildApp overrides the infra rebuild step. Nil uses the node
	// bundler over CdkEntryPoint.
	OnReBuildApp func(ctx context.Context) (*builder.Result, error)
}

// checkValid verifies the construction input.
func (c *Config) checkValid() error {
	if len(c.LambdaHandlers) == 0 {
		return ErrNoHandlers
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, h := range c.LambdaHandlers {
		if _, ok := registry.ParseRuntime(h.Runtime); !ok {
			return fmt.Errorf("%w: %s (%s)", ErrUnknownRuntime, h.Runtime, registry.Key(h.SrcPath, h.Handler))
		}
	}
	return nil
}

// =============================================================================
// FILE OVERRIDES
// =============================================================================

// overridesFile is the optional per-app tuning file.
const overridesFile = "devloop.yaml"

// Overrides are host-tunable settings read from devloop.yaml in AppPath.
type Overrides struct {
	// Lint overrides IsLintEnabled.
	Lint *bool `yaml:"lint"`

	// TypeCheck overrides IsTypeCheckEnabled.
	TypeCheck *bool `yaml:"typeCheck"`

	// EsbuildBin overrides the bundler binary.
	EsbuildBin string `yaml:"esbuildBin"`

	// GoBin overrides the go toolchain binary.
	GoBin string `yaml:"goBin"`
}

// LoadOverrides reads devloop.yaml from the app root. A missing file
// yields empty overrides.
func LoadOverrides(appPath string) (*Overrides, error) {
	raw, err := os.ReadFile(filepath.Join(appPath, overridesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &Overrides{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", overridesFile, err)
	}
	var o Overrides
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("parse %s: %w", overridesFile, err)
	}
	return &o, nil
}

// apply folds file overrides into the config.
func (c *Config) apply(o *Overrides) {
	if o.Lint != nil {
		c.IsLintEnabled = *o.Lint
	}
	if o.TypeCheck != nil {
		c.IsTypeCheckEnabled = *o.TypeCheck
	}
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

// colorEnabled honors NO_COLOR and falls back to tty detection.
func colorEnabled() bool {
	if v := os.Getenv("NO_COLOR"); v != "" {
		if disabled, err := strconv.ParseBool(v); err != nil || disabled {
			return false
		}
	}
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// tsconfigFor returns the tsconfig path under dir, or "".
func tsconfigFor(dir string) string {
	p := filepath.Join(dir, "tsconfig.json")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}
