// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cdk holds the infrastructure state machine: the
// rebuild → synth → (approve) → deploy pipeline for infra code, with
// edit coalescing and per-stack checksum narrowing.
package cdk

import (
	"log/slog"
)

// Manifest is the product of a successful synth.
type Manifest struct {
	// ChecksumData maps stack name to content checksum.
	ChecksumData map[string]string
}

// Machine orders infra work and coalesces edits.
//
// # Description
//
// Events arrive as method calls from the orchestrator's control goroutine;
// each returns the Command the orchestrator must start next (if any).
// While external work runs (Building, Synthesizing, Deploying), incoming
// edits only set a dirty latch; at each terminal transition a set latch
// sends the machine back to BuildPending exactly once.
//
// # Thread Safety
//
// Owned by the control goroutine; not safe for concurrent use.
type Machine struct {
	state State
	dirty bool

	// inputFiles is the current infra input set, diffed after each
	// successful rebuild.
	inputFiles map[string]struct{}

	// lastDeployed holds the checksums of the last successful deploy.
	lastDeployed map[string]string

	// pending holds the checksums produced by the last synth, awaiting
	// approval and deploy.
	pending map[string]string
}

// NewMachine creates an idle machine.
//
// Inputs:
//
//	inputFiles - Initial infra input-file list (absolute paths).
//	checksums - Last-known deployed stack checksums, possibly empty.
func NewMachine(inputFiles []string, checksums map[string]string) *Machine {
	files := make(map[string]struct{}, len(inputFiles))
	for _, f := range inputFiles {
		files[f] = struct{}{}
	}
	deployed := make(map[string]string, len(checksums))
	for k, v := range checksums {
		deployed[k] = v
	}
	return &Machine{
		state:        StateIdle,
		inputFiles:   files,
		lastDeployed: deployed,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Watches reports whether a path is part of the infra input set.
func (m *Machine) Watches(path string) bool {
	_, ok := m.inputFiles[path]
	return ok
}

// InputFiles returns the current infra input set as a slice.
func (m *Machine) InputFiles() []string {
	out := make([]string, 0, len(m.inputFiles))
	for f := range m.inputFiles {
		out = append(out, f)
	}
	return out
}

// DeployedChecksums returns the last successfully deployed checksum map.
func (m *Machine) DeployedChecksums() map[string]string {
	return m.lastDeployed
}

// =============================================================================
// EVENTS
// =============================================================================

// MarkDirty records an infra file change.
//
// In a resting state the machine moves to BuildPending and asks for a
// rebuild. While external work runs, the edit only sets the dirty latch;
// a pending approval is discarded (the manifest is stale).
func (m *Machine) MarkDirty() Command {
	switch m.state {
	case StateIdle, StateBuildFailed, StateSynthFailed:
		m.state = StateBuildPending
		return CmdBuild

	case StateAwaitingApproval:
		m.pending = nil
		m.state = StateBuildPending
		return CmdBuild

	case StateBuilding, StateSynthesizing, StateDeploying:
		m.dirty = true
		return CmdNone

	default:
		// BuildPending: a rebuild is already due.
		return CmdNone
	}
}

// BuildStarted moves BuildPending to Building.
func (m *Machine) BuildStarted() {
	if m.state == StateBuildPending {
		m.state = StateBuilding
	}
}

// BuildDone settles the infra rebuild.
//
// # Outputs
//
//	cmd - CmdSynth on success, CmdBuild when coalesced edits force a
//	      restart, CmdNone on a plain failure.
//	added, removed - Watch-set difference versus the previous input set
//	      (empty unless the build succeeded).
func (m *Machine) BuildDone(inputs []string, err error) (cmd Command, added, removed []string) {
	if m.state != StateBuilding {
		return CmdNone, nil, nil
	}

	if m.consumeDirty() {
		m.state = StateBuildPending
		return CmdBuild, nil, nil
	}

	if err != nil {
		m.state = StateBuildFailed
		return CmdNone, nil, nil
	}

	// A nil input list means the rebuild step does not track inputs;
	// keep the current watch set.
	if inputs != nil {
		added, removed = m.diffInputs(inputs)
	}
	m.state = StateSynthPending
	return CmdSynth, added, removed
}

// SynthStarted moves SynthPending to Synthesizing.
func (m *Machine) SynthStarted() {
	if m.state == StateSynthPending {
		m.state = StateSynthesizing
	}
}

// SynthDone settles the synth callback.
//
// A cancelled synth is not a failure: the machine restarts from
// BuildPending without surfacing an error.
func (m *Machine) SynthDone(man *Manifest, err error) Command {
	if m.state != StateSynthesizing {
		return CmdNone
	}

	if IsCancelled(err) {
		m.consumeDirty()
		m.state = StateBuildPending
		return CmdBuild
	}

	if m.consumeDirty() {
		m.state = StateBuildPending
		return CmdBuild
	}

	if err != nil {
		m.state = StateSynthFailed
		return CmdNone
	}

	m.pending = man.ChecksumData
	m.state = StateAwaitingApproval
	return CmdNone
}

// Approve moves AwaitingApproval to Deploying on the user's input key.
//
// Returns CmdDeploy, or CmdNone when no approval is pending.
func (m *Machine) Approve() Command {
	if m.state != StateAwaitingApproval {
		return CmdNone
	}
	m.state = StateDeploying
	return CmdDeploy
}

// ChangedStacks narrows the pending checksum map to stacks whose checksum
// differs from the last successful deploy.
func (m *Machine) ChangedStacks() map[string]string {
	changed := make(map[string]string, len(m.pending))
	for stack, sum := range m.pending {
		if m.lastDeployed[stack] != sum {
			changed[stack] = sum
		}
	}
	return changed
}

// DeployDone settles the deploy callback.
//
// Success records the pending checksums as deployed. Either way the
// machine returns to Idle, unless coalesced edits force a follow-up
// BuildPending.
func (m *Machine) DeployDone(err error) Command {
	if m.state != StateDeploying {
		return CmdNone
	}

	if err == nil {
		for stack, sum := range m.pending {
			m.lastDeployed[stack] = sum
		}
	} else {
		slog.Warn("Deploy failed", slog.String("error", err.Error()))
	}
	m.pending = nil

	if m.consumeDirty() {
		m.state = StateBuildPending
		return CmdBuild
	}
	m.state = StateIdle
	return CmdNone
}

// =============================================================================
// INTERNAL
// =============================================================================

// consumeDirty clears and reports the dirty latch.
func (m *Machine) consumeDirty() bool {
	d := m.dirty
	m.dirty = false
	return d
}

// diffInputs replaces the input set and returns the difference.
func (m *Machine) diffInputs(inputs []string) (added, removed []string) {
	next := make(map[string]struct{}, len(inputs))
	for _, f := range inputs {
		next[f] = struct{}{}
		if _, ok := m.inputFiles[f]; !ok {
			added = append(added, f)
		}
	}
	for f := range m.inputFiles {
		if _, ok := next[f]; !ok {
			removed = append(removed, f)
		}
	}
	m.inputFiles = next
	return added, removed
}
