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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/seastack/lambdev/services/devloop/builder"
	"github.com/seastack/lambdev/services/devloop/cdk"
	"github.com/seastack/lambdev/services/devloop/checker"
	"github.com/seastack/lambdev/services/devloop/registry"
	"github.com/seastack/lambdev/services/devloop/watch"
)

// infraPathKey is the checker-coordinator key for the infra input set.
const infraPathKey = "."

// Orchestrator is the reactive state engine.
//
// # Thread Safety
//
// All registry and state-machine mutation happens on one control
// goroutine consuming the event channel. Public methods are safe for
// concurrent use; they communicate with the loop through events.
type Orchestrator struct {
	cfg     Config
	reg     *registry.Registry
	build   builder.Set
	checks  *checker.Coordinator
	infra   *cdk.Machine
	watcher *watch.Watcher
	wset    *watch.SetManager
	printer *printer
	met     metrics

	// infraRebuild runs the infra rebuild step on a worker goroutine.
	infraRebuild func(ctx context.Context) (*builder.Result, error)
	// infraTsconfig is the app-root tsconfig, if present.
	infraTsconfig string

	// goSem caps concurrently running go-like builds.
	goSem *semaphore.Weighted
	// goQueue orders dirty go-like entry points: HIGH first, insertion
	// order within a priority band.
	goQueue []string

	// synthCancel aborts an in-flight synth when a newer edit arrives.
	synthCancel context.CancelFunc

	// lambdaBusy and infraActive are the edge detectors behind the
	// user-facing status lines.
	lambdaBusy  bool
	infraActive bool

	events   chan event
	loopDone chan struct{}
	started  atomic.Bool
	stopOnce sync.Once

	runCtx    context.Context
	runCancel context.CancelFunc
}

// Option tunes the orchestrator at construction.
type Option func(*Orchestrator)

// WithBuilders replaces the per-runtime builders (tests).
func WithBuilders(set builder.Set) Option {
	return func(o *Orchestrator) { o.build = set }
}

// WithChecker replaces the checker coordinator (tests).
func WithChecker(c *checker.Coordinator) Option {
	return func(o *Orchestrator) { o.checks = c }
}

// WithStatusWriter redirects the user-facing status lines.
func WithStatusWriter(w io.Writer) Option {
	return func(o *Orchestrator) { o.printer.out = w }
}

// WithInfraRebuild replaces the infra rebuild step (tests).
func WithInfraRebuild(fn func(ctx context.Context) (*builder.Result, error)) Option {
	return func(o *Orchestrator) { o.infraRebuild = fn }
}

// New creates an orchestrator. Call Start to run the initial builds and
// begin watching.
func New(cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.checkValid(); err != nil {
		return nil, err
	}

	overrides, err := LoadOverrides(cfg.AppPath)
	if err != nil {
		return nil, err
	}
	cfg.apply(overrides)

	color := colorEnabled()
	runCtx, runCancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		cfg:   cfg,
		reg:   registry.New(),
		infra: cdk.NewMachine(cfg.CdkInputFiles, cfg.CdkChecksumData),
		build: builder.Set{
			Node:   &builder.NodeBuilder{Bundler: &builder.Esbuild{AppPath: cfg.AppPath, Bin: overrides.EsbuildBin, Color: color}},
			Go:     &builder.GoBuilder{AppPath: cfg.AppPath, GoBin: overrides.GoBin},
			Python: &builder.PythonBuilder{},
		},
		printer:       &printer{out: os.Stdout, color: color},
		infraTsconfig: tsconfigFor(cfg.AppPath),
		goSem:         semaphore.NewWeighted(builder.BuilderConcurrency),
		events:        make(chan event, 256),
		loopDone:      make(chan struct{}),
		runCtx:        runCtx,
		runCancel:     runCancel,
	}
	o.checks = checker.New(cfg.AppPath, cfg.IsLintEnabled, cfg.IsTypeCheckEnabled, color)

	for _, opt := range opts {
		opt(o)
	}

	o.checks.OnExit = func(srcPath string, _ checker.Kind) {
		o.post(checkerExitEvent{srcPath: srcPath})
	}

	if o.infraRebuild == nil {
		o.infraRebuild = o.defaultInfraRebuild()
	}

	for _, h := range cfg.LambdaHandlers {
		rt, _ := registry.ParseRuntime(h.Runtime)
		ep := &registry.EntryPoint{
			SrcPath:  h.SrcPath,
			Handler:  h.Handler,
			Runtime:  rt,
			Bundle:   h.Bundle == nil || *h.Bundle,
			Tsconfig: tsconfigFor(filepath.Join(cfg.AppPath, h.SrcPath)),
		}
		if err := o.reg.AddEntryPoint(ep); err != nil {
			return nil, fmt.Errorf("register %s: %w", ep.Key(), err)
		}
	}

	return o, nil
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start runs the initial builds, installs the watcher, and launches the
// control loop.
//
// # Inputs
//
//	ctx - Bounds the initial builds only.
//	isTest - Skips watcher installation.
//
// # Outputs
//
//	error - ErrInitialBuild when any initial build fails; watcher setup
//	        errors otherwise.
func (o *Orchestrator) Start(ctx context.Context, isTest bool) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	o.met.init()

	if err := o.initialBuild(ctx); err != nil {
		return err
	}

	if !isTest {
		w, err := watch.New(o.cfg.AppPath, func(paths []string) {
			o.post(fileChangesEvent{paths: paths})
		}, nil)
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		o.watcher = w
		var initial []string
		for _, ep := range o.reg.EntryPoints() {
			for f := range ep.InputFiles {
				initial = append(initial, f)
			}
		}
		initial = append(initial, o.infra.InputFiles()...)
		w.Add(initial)
		if err := w.Start(); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
	}
	var target watch.Target
	if o.watcher != nil {
		target = o.watcher
	}
	o.wset = watch.NewSetManager(target)

	o.started.Store(true)
	go o.loop()

	slog.Info("Orchestrator started",
		slog.Int("entry_points", o.reg.Len()),
		slog.Bool("lint", o.cfg.IsLintEnabled),
		slog.Bool("typecheck", o.cfg.IsTypeCheckEnabled),
	)
	return nil
}

// initialBuild builds every entry point before watching begins.
//
// Node and python builds run unbounded; go builds share the runtime
// concurrency cap.
func (o *Orchestrator) initialBuild(ctx context.Context) error {
	eps := o.reg.EntryPoints()
	results := make([]*builder.Result, len(eps))

	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range eps {
		b := o.build.For(ep.Runtime)
		if err := b.Prepare(ep); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInitialBuild, ep.Key(), err)
		}
		g.Go(func() error {
			if ep.Runtime == registry.RuntimeGo {
				if err := o.goSem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer o.goSem.Release(1)
			}
			res, err := b.Build(gctx, ep)
			if err != nil {
				return fmt.Errorf("%s: %w", ep.Key(), err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %v", ErrInitialBuild, err)
	}

	for i, ep := range eps {
		res := results[i]
		ep.Artifact = &res.Artifact
		if ep.Runtime == registry.RuntimeNode {
			o.reg.ApplyInputDiff(ep, res.InputFiles)
		}
		sp := o.reg.EnsureSourcePath(ep.SrcPath, ep.Tsconfig)
		sp.NeedsRecheck = true
	}
	return nil
}

// Stop shuts the orchestrator down: the loop drains, checker processes
// die, bundler handles are disposed, and the watcher closes. Idempotent.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		if o.started.Load() {
			select {
			case o.events <- stopEvent{}:
				<-o.loopDone
			case <-o.loopDone:
			}
		}
		o.runCancel()
		if o.watcher != nil {
			o.watcher.Stop()
		}
		if o.checks != nil {
			o.checks.KillAll()
		}
		for _, ep := range o.reg.EntryPoints() {
			if ep.Bundler != nil {
				ep.Bundler.Dispose()
			}
		}
		slog.Info("Orchestrator stopped")
	})
}

// =============================================================================
// PUBLIC OPERATIONS
// =============================================================================

// GetBuiltHandler returns a fresh artifact for one entry point.
//
// # Description
//
// Returns immediately when the entry point is clean. Otherwise the entry
// point's priority is raised to HIGH and the call suspends until the next
// successful build resolves it, or a failed build rejects it. Waiters on
// the same entry point resolve in FIFO order. The coordinator never times
// out on its own; cancel through ctx.
func (o *Orchestrator) GetBuiltHandler(ctx context.Context, srcPath, handler string) (*BuiltHandler, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if !o.started.Load() {
		return nil, ErrNotStarted
	}

	ctx, span := tracer.Start(ctx, "devloop.get_built_handler",
		trace.WithAttributes(attribute.String("entry_point", registry.Key(srcPath, handler))),
	)
	defer span.End()

	reply := make(chan registry.BuildOutcome, 1)
	select {
	case o.events <- requestEvent{srcPath: srcPath, handler: handler, reply: reply}:
	case <-o.loopDone:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case out := <-reply:
		if out.Err != nil {
			span.SetStatus(codes.Error, out.Err.Error())
			return nil, out.Err
		}
		return &BuiltHandler{Runtime: out.Runtime, Artifact: out.Artifact}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-o.loopDone:
		// The loop may have resolved the waiter just before exiting.
		select {
		case out := <-reply:
			if out.Err != nil {
				return nil, out.Err
			}
			return &BuiltHandler{Runtime: out.Runtime, Artifact: out.Artifact}, nil
		default:
			return nil, ErrStopped
		}
	}
}

// NotifyFileChanges feeds a batch of changed paths into the scheduler.
//
// The built-in watcher uses this path; hosts running their own watcher
// (or tests) may call it directly. Paths matching no entry point and no
// infra input are ignored.
func (o *Orchestrator) NotifyFileChanges(paths []string) {
	if o.started.Load() && len(paths) > 0 {
		o.post(fileChangesEvent{paths: paths})
	}
}

// OnInput delivers the user's approval keypress to the infra machine.
func (o *Orchestrator) OnInput() {
	if o.started.Load() {
		o.post(inputEvent{})
	}
}

// GetState returns a point-in-time snapshot.
func (o *Orchestrator) GetState() (Snapshot, error) {
	if !o.started.Load() {
		return Snapshot{}, ErrNotStarted
	}
	reply := make(chan Snapshot, 1)
	select {
	case o.events <- stateEvent{reply: reply}:
	case <-o.loopDone:
		return Snapshot{}, ErrStopped
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-o.loopDone:
		return Snapshot{}, ErrStopped
	}
}

// =============================================================================
// CONTROL LOOP
// =============================================================================

// post marshals an event onto the loop. Safe from any goroutine; drops
// the event once the loop has exited.
func (o *Orchestrator) post(ev event) {
	select {
	case o.events <- ev:
	case <-o.loopDone:
	}
}

// loop is the single thread of control. One reconciliation pass follows
// every event; no two passes overlap.
func (o *Orchestrator) loop() {
	defer close(o.loopDone)

	// The initial builds marked every source path for recheck.
	o.reconcile()

	for ev := range o.events {
		switch ev := ev.(type) {
		case fileChangesEvent:
			o.onFileChanges(ev.paths)
		case buildDoneEvent:
			o.onBuildDone(ev)
		case requestEvent:
			o.onRequest(ev)
		case checkerExitEvent:
			// Handle already cleared by the coordinator; the pass below
			// refreshes busy status.
		case infraBuildDoneEvent:
			o.onInfraBuildDone(ev)
		case infraSynthDoneEvent:
			o.onInfraSynthDone(ev)
		case infraDeployDoneEvent:
			o.onInfraDeployDone(ev)
		case inputEvent:
			o.runInfraCmd(o.infra.Approve())
		case stateEvent:
			ev.reply <- o.snapshot()
			continue
		case stopEvent:
			o.rejectAllWaiters(ErrStopped)
			return
		}
		o.reconcile()
	}
}

// onFileChanges classifies one debounced batch.
//
// Infra inputs feed the infra machine; a go-suffix file marks every
// go-like entry point dirty; anything else consults the file index.
// Changes matching nothing are ignored.
func (o *Orchestrator) onFileChanges(paths []string) {
	infraDirty := false
	for _, p := range paths {
		switch {
		case o.infra.Watches(p):
			infraDirty = true

		case strings.HasSuffix(p, ".go"):
			for _, ep := range o.reg.EntryPoints() {
				if ep.Runtime == registry.RuntimeGo {
					o.markDirty(ep, registry.PriorityLow)
				}
			}

		default:
			for _, key := range o.reg.EntryPointsForFile(p) {
				if ep := o.reg.EntryPoint(key); ep != nil {
					o.markDirty(ep, registry.PriorityLow)
				}
			}
		}
	}
	if infraDirty {
		o.onInfraChanged()
	}
}

// onRequest is the on-demand coordinator's entry point.
func (o *Orchestrator) onRequest(ev requestEvent) {
	ep := o.reg.Lookup(ev.srcPath, ev.handler)
	if ep == nil {
		ev.reply <- registry.BuildOutcome{Err: fmt.Errorf("%w: %s", registry.ErrUnknownEntryPoint, registry.Key(ev.srcPath, ev.handler))}
		return
	}

	if !ep.Building && ep.Priority == registry.PriorityOff {
		if ep.Artifact == nil {
			ev.reply <- registry.BuildOutcome{Err: fmt.Errorf("%w: %s never built", registry.ErrUnknownEntryPoint, ep.Key())}
			return
		}
		ev.reply <- registry.BuildOutcome{Runtime: ep.Runtime, Artifact: *ep.Artifact}
		return
	}

	o.markDirty(ep, registry.PriorityHigh)
	ep.Pending = append(ep.Pending, ev.reply)
	slog.Debug("Request queued",
		slog.String("entry_point", ep.Key()),
		slog.Int("waiters", len(ep.Pending)),
	)
}

// rejectAllWaiters fails every pending request (shutdown path).
func (o *Orchestrator) rejectAllWaiters(err error) {
	for _, ep := range o.reg.EntryPoints() {
		for _, ch := range ep.Pending {
			ch <- registry.BuildOutcome{Runtime: ep.Runtime, Err: err}
		}
		ep.Pending = nil
	}
}
