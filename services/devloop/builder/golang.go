// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package builder

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/seastack/lambdev/services/devloop/registry"
)

// BuilderConcurrency is the maximum number of simultaneously running
// go-like builds: one per hardware thread.
var BuilderConcurrency = int64(runtime.NumCPU())

// GoBuilder compiles go-like handlers with the go toolchain.
//
// # Description
//
// Each build runs `go build -ldflags "-s -w" -o <relBinPath> <absHandlerPath>`
// with the app root as working directory. A non-zero exit is a build
// failure; compiler output is attached to the returned error for the user.
// Input-file tracking is intentionally coarse for go: the scheduler rebuilds
// every go-like entry point when any .go file changes, so no input set is
// reported here.
//
// # Thread Safety
//
// Safe for concurrent use. The per-host concurrency cap is enforced by the
// scheduler, not here; the scheduler owns dispatch ordering.
type GoBuilder struct {
	// AppPath is the absolute application root.
	AppPath string

	// GoBin overrides the go binary, for hosts with multiple toolchains.
	// Empty means "go" resolved from PATH.
	GoBin string
}

// Prepare is a no-op; go builds carry no per-entry state.
func (b *GoBuilder) Prepare(_ *registry.EntryPoint) error { return nil }

// Build compiles the entry point's handler into a standalone binary.
func (b *GoBuilder) Build(ctx context.Context, ep *registry.EntryPoint) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	outDir := outDirFor(ep)
	if err := os.MkdirAll(filepath.Join(b.AppPath, outDir), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	binName := "handler" + binarySuffix()
	relBinPath := filepath.Join(outDir, binName)
	absHandlerPath := filepath.Join(b.AppPath, ep.SrcPath, filepath.FromSlash(ep.Handler))

	goBin := b.GoBin
	if goBin == "" {
		goBin = "go"
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, goBin,
		"build",
		"-ldflags", `-s -w`,
		"-o", relBinPath,
		absHandlerPath,
	)
	cmd.Dir = b.AppPath

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		slog.Warn("Go build failed",
			slog.String("entry_point", ep.Key()),
			slog.Duration("elapsed", time.Since(start)),
		)
		return nil, fmt.Errorf("%w: %s", ErrBuildFailed, output.String())
	}

	slog.Debug("Go build succeeded",
		slog.String("entry_point", ep.Key()),
		slog.Duration("elapsed", time.Since(start)),
	)

	return &Result{
		Artifact: registry.Artifact{
			OutEntry:         relBinPath,
			OutHandler:       binName,
			OutDir:           outDir,
			HandlerPosixPath: posixPath(ep.Handler),
		},
	}, nil
}

// binarySuffix returns ".exe" on a Windows host, "" otherwise.
func binarySuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ""
}
