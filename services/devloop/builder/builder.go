// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package builder turns entry points into deployable artifacts.
//
// Builds are black boxes from the scheduler's perspective: each returns
// success or failure plus the list of input files it consumed. Three
// families exist, one per runtime: an incremental bundler for node-like
// handlers, the go compiler for go-like handlers, and a synchronous no-op
// for python-like handlers.
package builder

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/seastack/lambdev/services/devloop/registry"
)

// ArtifactRoot is the directory under the app root that receives build
// output, one subdirectory per entry-point key.
const ArtifactRoot = ".lambdev/artifacts"

// Result is the outcome of a successful build.
type Result struct {
	// Artifact describes the build output.
	Artifact registry.Artifact

	// InputFiles lists the absolute paths the build read. Empty for
	// go-like and python-like builds, and for node-like builds whose
	// metafile could not be read.
	InputFiles []string
}

// Builder produces an artifact for one entry point.
//
// Prepare runs on the control goroutine before dispatch and may mutate the
// entry-point record (it creates the incremental handle for node-like
// entry points). Build blocks until the external work finishes; the
// orchestrator runs it on a worker goroutine and marshals the result back
// as an event. Builders must be safe for concurrent use across distinct
// entry points; at most one build per entry point is in flight.
type Builder interface {
	Prepare(ep *registry.EntryPoint) error
	Build(ctx context.Context, ep *registry.EntryPoint) (*Result, error)
}

// Set holds one builder per runtime family.
type Set struct {
	Node   Builder
	Go     Builder
	Python Builder
}

// For returns the builder for a runtime.
func (s Set) For(r registry.Runtime) Builder {
	switch r {
	case registry.RuntimeGo:
		return s.Go
	case registry.RuntimePython:
		return s.Python
	default:
		return s.Node
	}
}

// outDirFor returns the artifact directory for an entry point, relative to
// the app root.
func outDirFor(ep *registry.EntryPoint) string {
	// Keys contain slashes; keep them as nested directories so concurrent
	// builds never collide.
	return filepath.Join(ArtifactRoot, filepath.FromSlash(ep.Key()))
}

// splitHandler splits "dir/file.symbol" into its file stem and symbol.
//
// The last dot separates the exported symbol; everything before it is the
// entry file path without extension.
func splitHandler(handler string) (stem, symbol string) {
	i := strings.LastIndex(handler, ".")
	if i < 0 {
		return handler, "handler"
	}
	return handler[:i], handler[i+1:]
}

// posixPath normalizes a handler path to forward slashes.
func posixPath(p string) string {
	return path.Clean(filepath.ToSlash(p))
}
