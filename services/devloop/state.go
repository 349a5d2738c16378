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
	"github.com/seastack/lambdev/services/devloop/cdk"
	"github.com/seastack/lambdev/services/devloop/checker"
	"github.com/seastack/lambdev/services/devloop/registry"
)

// BuiltHandler is the response to an on-demand request.
type BuiltHandler struct {
	Runtime  registry.Runtime
	Artifact registry.Artifact
}

// EntryPointState is one entry point's slice of a snapshot.
type EntryPointState struct {
	Key             string
	Runtime         string
	Building        bool
	HasError        bool
	Priority        string
	PendingRequests int
}

// SourcePathState is one source path's slice of a snapshot.
type SourcePathState struct {
	SrcPath          string
	NeedsRecheck     bool
	LintRunning      bool
	TypeCheckRunning bool
}

// Snapshot is a point-in-time view of the whole orchestrator, taken on
// the control goroutine.
type Snapshot struct {
	// IsBusy is true while any entry point builds or awaits rebuild, any
	// source path awaits or runs checkers, or the infra machine is not
	// idle. A source path awaiting checkers does not count while any
	// entry point is in error.
	IsBusy bool

	// IsProcessingLambdaChanges covers the handler side only.
	IsProcessingLambdaChanges bool

	// CdkState names the infra machine's current state.
	CdkState string

	EntryPoints []EntryPointState
	SourcePaths []SourcePathState

	// DeployedChecksums is the last successfully deployed checksum map.
	DeployedChecksums map[string]string
}

// snapshot assembles a Snapshot. Control goroutine only.
func (o *Orchestrator) snapshot() Snapshot {
	snap := Snapshot{
		IsProcessingLambdaChanges: o.lambdaBusyNow(),
		CdkState:                  o.infra.State().String(),
	}
	snap.IsBusy = snap.IsProcessingLambdaChanges || o.infra.State() != cdk.StateIdle

	for _, ep := range o.reg.EntryPoints() {
		snap.EntryPoints = append(snap.EntryPoints, EntryPointState{
			Key:             ep.Key(),
			Runtime:         ep.Runtime.String(),
			Building:        ep.Building,
			HasError:        ep.HasError,
			Priority:        ep.Priority.String(),
			PendingRequests: len(ep.Pending),
		})
	}

	for _, sp := range o.reg.SourcePaths() {
		snap.SourcePaths = append(snap.SourcePaths, SourcePathState{
			SrcPath:          sp.SrcPath,
			NeedsRecheck:     sp.NeedsRecheck,
			LintRunning:      o.checks.Active(sp.SrcPath, checker.KindLint),
			TypeCheckRunning: o.checks.Active(sp.SrcPath, checker.KindTypeCheck),
		})
	}

	deployed := o.infra.DeployedChecksums()
	snap.DeployedChecksums = make(map[string]string, len(deployed))
	for k, v := range deployed {
		snap.DeployedChecksums[k] = v
	}
	return snap
}
