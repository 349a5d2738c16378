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
	"time"

	"github.com/seastack/lambdev/services/devloop/builder"
	"github.com/seastack/lambdev/services/devloop/cdk"
	"github.com/seastack/lambdev/services/devloop/registry"
)

// Events marshalled onto the control goroutine. Arrival order is
// processing order.

type event interface{ isEvent() }

// fileChangesEvent carries one debounced watcher batch.
type fileChangesEvent struct {
	paths []string
}

// buildDoneEvent settles one handler build.
type buildDoneEvent struct {
	key       string
	startedAt time.Time
	res       *builder.Result
	err       error
}

// requestEvent is an on-demand built-handler request.
type requestEvent struct {
	srcPath string
	handler string
	reply   chan registry.BuildOutcome
}

// checkerExitEvent reports a lint or type-check process exit.
type checkerExitEvent struct {
	srcPath string
}

// infraBuildDoneEvent settles the infra rebuild.
type infraBuildDoneEvent struct {
	res *builder.Result
	err error
}

// infraSynthDoneEvent settles the host synth callback.
type infraSynthDoneEvent struct {
	man *cdk.Manifest
	err error
}

// infraDeployDoneEvent settles the host deploy callback.
type infraDeployDoneEvent struct {
	err error
}

// inputEvent is the user's approval keypress.
type inputEvent struct{}

// stateEvent requests a state snapshot.
type stateEvent struct {
	reply chan Snapshot
}

// stopEvent asks the loop to shut down.
type stopEvent struct{}

func (fileChangesEvent) isEvent()     {}
func (buildDoneEvent) isEvent()       {}
func (requestEvent) isEvent()         {}
func (checkerExitEvent) isEvent()     {}
func (infraBuildDoneEvent) isEvent()  {}
func (infraSynthDoneEvent) isEvent()  {}
func (infraDeployDoneEvent) isEvent() {}
func (inputEvent) isEvent()           {}
func (stateEvent) isEvent()           {}
func (stopEvent) isEvent()            {}
