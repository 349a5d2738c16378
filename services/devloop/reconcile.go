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
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/seastack/lambdev/services/devloop/builder"
	"github.com/seastack/lambdev/services/devloop/cdk"
	"github.com/seastack/lambdev/services/devloop/checker"
	"github.com/seastack/lambdev/services/devloop/registry"
)

// reconcile is the single reconciliation pass run after every event.
//
// # Description
//
// Dispatches due builds (node-like first, then go-like under the
// concurrency cap), launches checkers for recheck-pending source paths
// once their entry points are clean, flushes staged watch-set updates,
// and edge-detects the busy status. Reconciling twice with no
// intervening events produces no new side effects.
func (o *Orchestrator) reconcile() {
	o.dispatchNode()
	o.dispatchGo()
	o.launchCheckers()
	o.wset.Flush()
	o.updateBusy()
}

// dispatchNode starts every dirty node-like build immediately (incremental
// rebuilds are cheap and single-process) and settles python-like entries
// synchronously.
func (o *Orchestrator) dispatchNode() {
	for _, ep := range o.reg.EntryPoints() {
		if ep.Building || ep.Priority == registry.PriorityOff {
			continue
		}
		switch ep.Runtime {
		case registry.RuntimeNode:
			o.startBuild(ep)

		case registry.RuntimePython:
			// No build step: the transition is synchronous and always
			// succeeds.
			ep.Priority = registry.PriorityOff
			res, err := o.build.For(ep.Runtime).Build(o.runCtx, ep)
			if err != nil {
				o.buildFailed(ep, err)
				continue
			}
			o.buildSucceeded(ep, res, time.Now())
		}
	}
}

// dispatchGo pops the go queue in priority order under the concurrency
// cap. A queued entry whose build is still in flight keeps its slot; a
// running build is never preempted.
func (o *Orchestrator) dispatchGo() {
	var kept []string
	full := false
	for _, key := range o.goQueue {
		ep := o.reg.EntryPoint(key)
		if ep == nil || ep.Priority == registry.PriorityOff {
			continue
		}
		if ep.Building || full {
			kept = append(kept, key)
			continue
		}
		if !o.goSem.TryAcquire(1) {
			full = true
			kept = append(kept, key)
			continue
		}
		o.startBuild(ep)
	}
	o.goQueue = kept
}

// startBuild consumes the entry point's priority and dispatches its build
// on a worker goroutine. Callers of go-like builds hold a semaphore slot;
// it is released when the completion event is handled.
func (o *Orchestrator) startBuild(ep *registry.EntryPoint) {
	ep.Priority = registry.PriorityOff

	b := o.build.For(ep.Runtime)
	if err := b.Prepare(ep); err != nil {
		if ep.Runtime == registry.RuntimeGo {
			o.goSem.Release(1)
		}
		o.buildFailed(ep, err)
		return
	}

	ep.Building = true
	// Live checkers for the source path now operate against a moving
	// target.
	o.checks.KillFor(ep.SrcPath)

	buildID := uuid.NewString()[:8]
	started := time.Now()
	if o.met.buildsTotal != nil {
		o.met.buildsTotal.Add(o.runCtx, 1)
	}
	if o.met.activeBuilds != nil {
		o.met.activeBuilds.Add(o.runCtx, 1)
	}
	slog.Debug("Build dispatched",
		slog.String("build_id", buildID),
		slog.String("entry_point", ep.Key()),
		slog.String("runtime", ep.Runtime.String()),
	)

	key := ep.Key()
	go func() {
		res, err := b.Build(o.runCtx, ep)
		o.post(buildDoneEvent{key: key, startedAt: started, res: res, err: err})
	}()
}

// onBuildDone settles one handler build and re-reconciles.
func (o *Orchestrator) onBuildDone(ev buildDoneEvent) {
	ep := o.reg.EntryPoint(ev.key)
	if ep == nil {
		return
	}
	if ep.Runtime == registry.RuntimeGo {
		o.goSem.Release(1)
	}
	ep.Building = false
	if o.met.activeBuilds != nil {
		o.met.activeBuilds.Add(o.runCtx, -1)
	}
	if o.met.buildDuration != nil {
		o.met.buildDuration.Record(o.runCtx, time.Since(ev.startedAt).Seconds())
	}

	if ev.err != nil {
		o.buildFailed(ep, ev.err)
		return
	}
	o.buildSucceeded(ep, ev.res, ev.startedAt)
}

// buildFailed records a failure and rejects all waiters together.
//
// Failures are non-fatal and isolated per entry point. A HIGH priority
// left behind by now-rejected waiters demotes to LOW: the rebuild (if
// edits arrived mid-build) is still owed, but nobody waits on it.
func (o *Orchestrator) buildFailed(ep *registry.EntryPoint, err error) {
	ep.HasError = true
	if o.met.buildFailures != nil {
		o.met.buildFailures.Add(o.runCtx, 1)
	}
	slog.Error("Build failed",
		slog.String("entry_point", ep.Key()),
		slog.String("error", err.Error()),
	)

	outcome := registry.BuildOutcome{Runtime: ep.Runtime, Err: err}
	for _, ch := range ep.Pending {
		ch <- outcome
	}
	ep.Pending = nil

	if ep.Priority == registry.PriorityHigh {
		ep.Priority = registry.PriorityLow
	}
}

// buildSucceeded applies a successful build's output.
//
// # Description
//
// Updates the artifact and input set, stages watch-set and file-index
// updates (issued before waiters wake), marks the source path for
// recheck, and wakes waiters in FIFO order - unless edits arrived during
// the build, in which case they stay queued for the next successful
// build. Files that changed between build start and watch registration
// re-dirty the entry point optimistically so those edits are not lost.
func (o *Orchestrator) buildSucceeded(ep *registry.EntryPoint, res *builder.Result, startedAt time.Time) {
	ep.HasError = false
	ep.Artifact = &res.Artifact

	if ep.Runtime == registry.RuntimeNode {
		added, removed := o.reg.ApplyInputDiff(ep, res.InputFiles)
		o.wset.Add(added)
		o.wset.Remove(removed)

		for _, f := range added {
			info, err := os.Stat(f)
			if err == nil && info.ModTime().After(startedAt) {
				o.markDirty(ep, registry.PriorityLow)
				break
			}
		}
	}

	sp := o.reg.EnsureSourcePath(ep.SrcPath, ep.Tsconfig)
	sp.NeedsRecheck = true

	o.wset.Flush()

	if ep.Priority == registry.PriorityOff {
		outcome := registry.BuildOutcome{Runtime: ep.Runtime, Artifact: *ep.Artifact}
		for _, ch := range ep.Pending {
			ch <- outcome
		}
		ep.Pending = nil
	}

	slog.Debug("Build succeeded",
		slog.String("entry_point", ep.Key()),
		slog.Int("input_files", len(ep.InputFiles)),
	)
}

// markDirty raises an entry point's rebuild priority.
//
// Priority is monotone while dirty: LOW never overwrites HIGH. Go-like
// entries join the dispatch queue on the OFF transition; escalation to
// HIGH moves them ahead of the queued LOW entries, behind earlier HIGH
// ones, without preempting a running build.
func (o *Orchestrator) markDirty(ep *registry.EntryPoint, prio registry.Priority) {
	switch {
	case ep.Priority == registry.PriorityOff:
		ep.Priority = prio
		o.checks.KillFor(ep.SrcPath)
		if ep.Runtime == registry.RuntimeGo {
			o.enqueueGo(ep.Key(), prio == registry.PriorityHigh)
		}

	case prio == registry.PriorityHigh && ep.Priority == registry.PriorityLow:
		ep.Priority = registry.PriorityHigh
		if ep.Runtime == registry.RuntimeGo {
			o.requeueGoFront(ep.Key())
		}
	}
}

// enqueueGo adds a key to the go queue: HIGH keys behind the HIGH keys
// already queued, LOW keys at the back.
func (o *Orchestrator) enqueueGo(key string, front bool) {
	for _, k := range o.goQueue {
		if k == key {
			return
		}
	}
	if front {
		o.requeueGoFront(key)
	} else {
		o.goQueue = append(o.goQueue, key)
	}
}

// requeueGoFront moves a key ahead of the queued non-HIGH keys, behind
// the HIGH keys queued before it.
func (o *Orchestrator) requeueGoFront(key string) {
	for i, k := range o.goQueue {
		if k == key {
			o.goQueue = append(o.goQueue[:i], o.goQueue[i+1:]...)
			break
		}
	}
	pos := 0
	for pos < len(o.goQueue) {
		ep := o.reg.EntryPoint(o.goQueue[pos])
		if ep == nil || ep.Priority != registry.PriorityHigh {
			break
		}
		pos++
	}
	o.goQueue = append(o.goQueue[:pos], append([]string{key}, o.goQueue[pos:]...)...)
}

// launchCheckers starts lint/type-check for recheck-pending source paths
// whose entry points are all clean. Skipped wholesale while any entry
// point is in error.
func (o *Orchestrator) launchCheckers() {
	for _, ep := range o.reg.EntryPoints() {
		if ep.HasError {
			return
		}
	}

	for _, sp := range o.reg.SourcePaths() {
		if !sp.NeedsRecheck {
			continue
		}
		clean := true
		for _, ep := range o.reg.EntryPointsIn(sp.SrcPath) {
			if ep.Building || ep.Priority != registry.PriorityOff {
				clean = false
				break
			}
		}
		if !clean {
			continue
		}
		o.checks.Recheck(sp.SrcPath, sp.Tsconfig, o.reg.SourcePathInputs(sp.SrcPath))
		sp.NeedsRecheck = false
	}
}

// =============================================================================
// BUSY STATUS
// =============================================================================

// lambdaBusyNow derives the handler-side busy bit.
//
// A pending recheck counts as busy only while it is actionable: with an
// entry point in error checkers are skipped wholesale, and the failure
// edge must still fall.
func (o *Orchestrator) lambdaBusyNow() bool {
	anyErr := false
	for _, ep := range o.reg.EntryPoints() {
		if ep.Building || ep.Priority != registry.PriorityOff {
			return true
		}
		if ep.HasError {
			anyErr = true
		}
	}
	for _, sp := range o.reg.SourcePaths() {
		if sp.NeedsRecheck && !anyErr {
			return true
		}
		if o.checks.Active(sp.SrcPath, checker.KindLint) ||
			o.checks.Active(sp.SrcPath, checker.KindTypeCheck) {
			return true
		}
	}
	return false
}

// infraActiveNow reports whether infra work is running or due. Resting
// states (idle, failed, awaiting approval) are not active; the status
// stream stays strictly alternating.
func (o *Orchestrator) infraActiveNow() bool {
	switch o.infra.State() {
	case cdk.StateBuildPending, cdk.StateBuilding, cdk.StateSynthPending,
		cdk.StateSynthesizing, cdk.StateDeploying:
		return true
	}
	return o.checks.Active(infraPathKey, checker.KindLint) ||
		o.checks.Active(infraPathKey, checker.KindTypeCheck)
}

// updateBusy edge-detects both busy bits and emits the status lines.
func (o *Orchestrator) updateBusy() {
	if busy := o.lambdaBusyNow(); busy != o.lambdaBusy {
		o.lambdaBusy = busy
		if busy {
			o.printer.codeBusy()
		} else if o.anyEntryPointError() {
			o.printer.codeFailed()
		} else {
			o.printer.codeDone()
		}
	}

	if active := o.infraActiveNow(); active != o.infraActive {
		o.infraActive = active
		if active {
			o.printer.infraBusy()
		} else {
			switch o.infra.State() {
			case cdk.StateBuildFailed, cdk.StateSynthFailed:
				o.printer.infraFailed()
			default:
				o.printer.infraDone()
			}
		}
	}
}

// anyEntryPointError reports whether any entry point is in error.
func (o *Orchestrator) anyEntryPointError() bool {
	for _, ep := range o.reg.EntryPoints() {
		if ep.HasError {
			return true
		}
	}
	return false
}
