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
	"log/slog"
	"strings"

	"github.com/seastack/lambdev/services/devloop/builder"
	"github.com/seastack/lambdev/services/devloop/cdk"
	"github.com/seastack/lambdev/services/devloop/registry"
)

// onInfraChanged feeds an infra edit into the state machine.
//
// An in-flight synth is cancelled: its result is already stale, and a
// cancelled synth is not a failure.
func (o *Orchestrator) onInfraChanged() {
	if o.infra.State() == cdk.StateSynthesizing && o.synthCancel != nil {
		o.synthCancel()
	}
	o.runInfraCmd(o.infra.MarkDirty())
}

// runInfraCmd starts the external work a machine transition asked for.
func (o *Orchestrator) runInfraCmd(cmd cdk.Command) {
	switch cmd {
	case cdk.CmdBuild:
		o.infra.BuildStarted()
		rebuild := o.infraRebuild
		go func() {
			res, err := rebuild(o.runCtx)
			o.post(infraBuildDoneEvent{res: res, err: err})
		}()

	case cdk.CmdSynth:
		o.infra.SynthStarted()
		if o.met.synthsTotal != nil {
			o.met.synthsTotal.Add(o.runCtx, 1)
		}
		ctx, cancel := context.WithCancel(o.runCtx)
		o.synthCancel = cancel
		synth := o.cfg.OnReSynthApp
		go func() {
			man, err := synth(ctx)
			o.post(infraSynthDoneEvent{man: man, err: err})
		}()

	case cdk.CmdDeploy:
		changed := o.infra.ChangedStacks()
		if o.met.deploysTotal != nil {
			o.met.deploysTotal.Add(o.runCtx, 1)
		}
		slog.Info("Deploying infrastructure",
			slog.Int("changed_stacks", len(changed)),
		)
		deploy := o.cfg.OnReDeployApp
		go func() {
			err := deploy(o.runCtx, changed)
			o.post(infraDeployDoneEvent{err: err})
		}()
	}
}

// onInfraBuildDone settles the infra rebuild.
//
// Watch-set updates from the input diff are issued before the machine
// advances; a successful build also kicks off infra-scoped checkers.
func (o *Orchestrator) onInfraBuildDone(ev infraBuildDoneEvent) {
	var inputs []string
	if ev.res != nil {
		inputs = ev.res.InputFiles
	}

	cmd, added, removed := o.infra.BuildDone(inputs, ev.err)
	o.wset.Add(added)
	o.wset.Remove(removed)
	o.wset.Flush()

	if ev.err != nil {
		slog.Error("Infrastructure build failed",
			slog.String("error", ev.err.Error()),
		)
	} else if cmd == cdk.CmdSynth {
		o.checks.Recheck(infraPathKey, o.infraTsconfig, o.infra.InputFiles())
	}

	o.runInfraCmd(cmd)
}

// onInfraSynthDone settles the host synth callback.
func (o *Orchestrator) onInfraSynthDone(ev infraSynthDoneEvent) {
	o.synthCancel = nil

	switch {
	case cdk.IsCancelled(ev.err):
		slog.Debug("Synth cancelled; restarting from build")
	case ev.err != nil:
		slog.Error("Synth failed", slog.String("error", ev.err.Error()))
	}

	cmd := o.infra.SynthDone(ev.man, ev.err)
	if o.infra.State() == cdk.StateAwaitingApproval {
		o.printer.approvalPrompt()
	}
	o.runInfraCmd(cmd)
}

// onInfraDeployDone settles the host deploy callback.
func (o *Orchestrator) onInfraDeployDone(ev infraDeployDoneEvent) {
	o.runInfraCmd(o.infra.DeployDone(ev.err))
}

// defaultInfraRebuild builds the rebuild step from config.
//
// With a CdkEntryPoint the infra app goes through the same node bundler
// as handler builds. Without one the step succeeds immediately with an
// unchanged input set, leaving synth as the only infra work.
func (o *Orchestrator) defaultInfraRebuild() func(ctx context.Context) (*builder.Result, error) {
	if o.cfg.OnReBuildApp != nil {
		return o.cfg.OnReBuildApp
	}
	if o.cfg.CdkEntryPoint == "" {
		return func(context.Context) (*builder.Result, error) {
			return &builder.Result{}, nil
		}
	}

	// Pseudo entry point for the infra app; only the infra build worker
	// touches it, one build at a time.
	stem := o.cfg.CdkEntryPoint
	if i := strings.LastIndex(stem, "."); i > 0 {
		stem = stem[:i]
	}
	infraEP := &registry.EntryPoint{
		SrcPath:  ".",
		Handler:  stem + ".default",
		Runtime:  registry.RuntimeNode,
		Bundle:   true,
		Tsconfig: o.infraTsconfig,
	}
	node := o.build.Node

	return func(ctx context.Context) (*builder.Result, error) {
		if err := node.Prepare(infraEP); err != nil {
			return nil, err
		}
		return node.Build(ctx, infraEP)
	}
}
