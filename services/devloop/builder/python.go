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
	"context"

	"github.com/seastack/lambdev/services/devloop/registry"
)

// PythonBuilder is the no-op builder for python-like handlers.
//
// Python handlers are run from source; the "build" succeeds immediately
// with an empty input set, so python entry points never participate in
// file-change driven rebuilds.
type PythonBuilder struct{}

// Prepare is a no-op.
func (b *PythonBuilder) Prepare(_ *registry.EntryPoint) error { return nil }

// Build returns an artifact pointing at the handler source.
func (b *PythonBuilder) Build(_ context.Context, ep *registry.EntryPoint) (*Result, error) {
	stem, symbol := splitHandler(ep.Handler)
	return &Result{
		Artifact: registry.Artifact{
			OutEntry:         stem + ".py",
			OutHandler:       symbol,
			OutDir:           ep.SrcPath,
			HandlerPosixPath: posixPath(ep.Handler),
		},
	}, nil
}
