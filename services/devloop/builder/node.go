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
	"strings"

	"github.com/seastack/lambdev/services/devloop/registry"
)

// Incremental is a per-entry-point rebuild handle.
//
// Handles are created on first build and kept on the entry-point record so
// subsequent rebuilds can reuse bundler state. Dispose releases the handle;
// the orchestrator calls it during shutdown.
type Incremental interface {
	Rebuild(ctx context.Context) (*Result, error)
	Dispose()
}

// Bundler creates incremental rebuild handles for node-like entry points.
type Bundler interface {
	Create(ep *registry.EntryPoint) (Incremental, error)
}

// NodeBuilder bundles node-like handlers through an incremental bundler.
//
// Prepare creates the entry point's Incremental handle on first use; later
// builds reuse it. Input files come from the bundler's metafile.
type NodeBuilder struct {
	Bundler Bundler
}

// Prepare ensures the entry point has an incremental handle.
func (b *NodeBuilder) Prepare(ep *registry.EntryPoint) error {
	if _, ok := ep.Bundler.(Incremental); ok {
		return nil
	}
	created, err := b.Bundler.Create(ep)
	if err != nil {
		return fmt.Errorf("create bundler: %w", err)
	}
	ep.Bundler = created
	return nil
}

// Build reruns the entry point's incremental bundler.
func (b *NodeBuilder) Build(ctx context.Context, ep *registry.EntryPoint) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	inc, ok := ep.Bundler.(Incremental)
	if !ok {
		return nil, ErrNotPrepared
	}
	return inc.Rebuild(ctx)
}

// =============================================================================
// ESBUILD BUNDLER
// =============================================================================

// Esbuild invokes the esbuild binary with a metafile.
//
// # Description
//
// Each Rebuild shells out to esbuild over the entry file and parses the
// emitted JSON metafile to recover the consumed input set. The handle keeps
// no in-process state beyond resolved paths, so Dispose only removes the
// metafile.
//
// Environment: DEBUG (any truthy value) raises the bundler log level from
// error to warning; NO_COLOR disables colored diagnostics.
type Esbuild struct {
	// AppPath is the absolute application root.
	AppPath string

	// Bin overrides the esbuild binary. Empty means "esbuild" from PATH.
	Bin string

	// Color enables colored bundler diagnostics.
	Color bool
}

// Create resolves the entry file and returns a rebuild handle.
func (e *Esbuild) Create(ep *registry.EntryPoint) (Incremental, error) {
	stem, symbol := splitHandler(ep.Handler)

	entry, err := resolveEntryFile(filepath.Join(e.AppPath, ep.SrcPath), stem)
	if err != nil {
		return nil, err
	}

	outDir := outDirFor(ep)
	return &esbuildHandle{
		bundler:  e,
		ep:       ep,
		entry:    entry,
		symbol:   symbol,
		outDir:   outDir,
		metafile: filepath.Join(e.AppPath, outDir, "meta.json"),
	}, nil
}

type esbuildHandle struct {
	bundler  *Esbuild
	ep       *registry.EntryPoint
	entry    string
	symbol   string
	outDir   string
	metafile string
}

// Rebuild bundles the entry file and reads the metafile.
func (h *esbuildHandle) Rebuild(ctx context.Context) (*Result, error) {
	absOutDir := filepath.Join(h.bundler.AppPath, h.outDir)
	if err := os.MkdirAll(absOutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	bin := h.bundler.Bin
	if bin == "" {
		bin = "esbuild"
	}

	logLevel := "error"
	if os.Getenv("DEBUG") != "" {
		logLevel = "warning"
	}

	args := []string{h.entry}
	if h.ep.Bundle {
		args = append(args, "--bundle")
	}
	args = append(args,
		"--platform=node",
		"--format=cjs",
		"--outdir="+absOutDir,
		"--metafile="+h.metafile,
		"--log-level="+logLevel,
		fmt.Sprintf("--color=%t", h.bundler.Color),
	)
	if h.ep.Tsconfig != "" {
		args = append(args, "--tsconfig="+h.ep.Tsconfig)
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = h.bundler.AppPath

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBuildFailed, output.String())
	}

	inputs, err := ReadMetafile(h.metafile, h.bundler.AppPath)
	if err != nil {
		// The entry point stays valid but loses file-change tracking until
		// the next successful build.
		slog.Warn("Bundler metafile unreadable",
			slog.String("entry_point", h.ep.Key()),
			slog.String("error", err.Error()),
		)
		inputs = nil
	}

	base := strings.TrimSuffix(filepath.Base(h.entry), filepath.Ext(h.entry))
	return &Result{
		Artifact: registry.Artifact{
			OutEntry:         filepath.Join(h.outDir, base+".js"),
			OutHandler:       h.symbol,
			OutDir:           h.outDir,
			HandlerPosixPath: posixPath(h.ep.Handler),
		},
		InputFiles: inputs,
	}, nil
}

// Dispose removes the metafile; esbuild itself holds no live state.
func (h *esbuildHandle) Dispose() {
	_ = os.Remove(h.metafile)
}

// resolveEntryFile locates the source file for a handler stem.
func resolveEntryFile(dir, stem string) (string, error) {
	for _, ext := range []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"} {
		candidate := filepath.Join(dir, filepath.FromSlash(stem)+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrEntryFileNotFound, filepath.Join(dir, stem))
}
