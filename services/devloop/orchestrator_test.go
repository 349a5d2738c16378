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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seastack/lambdev/services/devloop/builder"
	"github.com/seastack/lambdev/services/devloop/registry"
)

// =============================================================================
// FAKES
// =============================================================================

// fakeBuilder is a controllable Builder for orchestration tests.
type fakeBuilder struct {
	mu      sync.Mutex
	calls   []string
	inputs  map[string][]string // key -> reported input files
	fail    map[string]bool     // key -> fail the next build
	gated   atomic.Bool
	gate    chan struct{}
	running atomic.Int32
	peak    atomic.Int32
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{
		inputs: make(map[string][]string),
		fail:   make(map[string]bool),
		gate:   make(chan struct{}, 64),
	}
}

func (f *fakeBuilder) Prepare(_ *registry.EntryPoint) error { return nil }

func (f *fakeBuilder) Build(ctx context.Context, ep *registry.EntryPoint) (*builder.Result, error) {
	key := ep.Key()
	f.mu.Lock()
	f.calls = append(f.calls, key)
	shouldFail := f.fail[key]
	inputs := append([]string(nil), f.inputs[key]...)
	f.mu.Unlock()

	cur := f.running.Add(1)
	for {
		peak := f.peak.Load()
		if cur <= peak || f.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	defer f.running.Add(-1)

	if f.gated.Load() {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if shouldFail {
		return nil, fmt.Errorf("%w: synthetic failure for %s", builder.ErrBuildFailed, key)
	}
	return &builder.Result{
		Artifact: registry.Artifact{
			OutEntry:         "out/" + key,
			OutHandler:       "handler",
			OutDir:           "out",
			HandlerPosixPath: ep.Handler,
		},
		InputFiles: inputs,
	}, nil
}

func (f *fakeBuilder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBuilder) callsCopy() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBuilder) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.peak.Store(0)
}

func (f *fakeBuilder) setFail(key string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[key] = fail
}

func (f *fakeBuilder) setInputs(key string, files []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs[key] = files
}

// =============================================================================
// HELPERS
// =============================================================================

func startOrch(t *testing.T, cfg Config, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, o.Start(context.Background(), true))
	t.Cleanup(o.Stop)
	return o
}

// waitSnap polls GetState until cond holds.
func waitSnap(t *testing.T, o *Orchestrator, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, err := o.GetState()
		require.NoError(t, err)
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; state: %+v", what, snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func entryState(snap Snapshot, key string) EntryPointState {
	for _, ep := range snap.EntryPoints {
		if ep.Key == key {
			return ep
		}
	}
	return EntryPointState{}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestNew_NoHandlers(t *testing.T) {
	_, err := New(Config{AppPath: t.TempDir()})
	require.ErrorIs(t, err, ErrNoHandlers)
	require.EqualError(t, err, "No Lambda handlers are found in the app")
}

func TestNew_UnknownRuntime(t *testing.T) {
	_, err := New(Config{
		AppPath:        t.TempDir(),
		LambdaHandlers: []Handler{{SrcPath: "s", Handler: "src/h.handler", Runtime: "ruby3.2"}},
	})
	require.ErrorIs(t, err, ErrUnknownRuntime)
}

func TestStart_InitialBuildFailure(t *testing.T) {
	fake := newFakeBuilder()
	fake.setFail("s/src/h.handler", true)

	o, err := New(Config{
		AppPath:        t.TempDir(),
		LambdaHandlers: []Handler{{SrcPath: "s", Handler: "src/h.handler", Runtime: "nodejs18.x"}},
	}, WithBuilders(builder.Set{Node: fake, Go: fake, Python: fake}))
	require.NoError(t, err)

	err = o.Start(context.Background(), true)
	require.ErrorIs(t, err, ErrInitialBuild)
}

func TestGetBuiltHandler_CleanReturnsImmediately(t *testing.T) {
	fake := newFakeBuilder()
	o := startOrch(t, Config{
		AppPath:        t.TempDir(),
		LambdaHandlers: []Handler{{SrcPath: "s", Handler: "src/h.handler", Runtime: "nodejs18.x"}},
	}, WithBuilders(builder.Set{Node: fake, Go: fake, Python: fake}))

	built, err := o.GetBuiltHandler(context.Background(), "s", "src/h.handler")
	require.NoError(t, err)
	require.Equal(t, registry.RuntimeNode, built.Runtime)
	require.Equal(t, "out/s/src/h.handler", built.Artifact.OutEntry)
}

func TestGetBuiltHandler_UnknownEntryPoint(t *testing.T) {
	fake := newFakeBuilder()
	o := startOrch(t, Config{
		AppPath:        t.TempDir(),
		LambdaHandlers: []Handler{{SrcPath: "s", Handler: "src/h.handler", Runtime: "nodejs18.x"}},
	}, WithBuilders(builder.Set{Node: fake, Go: fake, Python: fake}))

	_, err := o.GetBuiltHandler(context.Background(), "s", "src/nope.handler")
	require.ErrorIs(t, err, registry.ErrUnknownEntryPoint)
}

func TestPythonHandler_AlwaysClean(t *testing.T) {
	o := startOrch(t, Config{
		AppPath:        t.TempDir(),
		LambdaHandlers: []Handler{{SrcPath: "w", Handler: "src/tasks.process", Runtime: "python3.12"}},
	})

	built, err := o.GetBuiltHandler(context.Background(), "w", "src/tasks.process")
	require.NoError(t, err)
	require.Equal(t, registry.RuntimePython, built.Runtime)
	require.Equal(t, "src/tasks.py", built.Artifact.OutEntry)

	// Python entry points never join the file index, so edits to their
	// sources do not dirty them.
	o.NotifyFileChanges([]string{"/app/w/src/tasks.py"})
	snap := waitSnap(t, o, "quiescence", func(s Snapshot) bool { return !s.IsBusy })
	require.Equal(t, "off", entryState(snap, "w/src/tasks.process").Priority)
}

func TestStop_RejectsWaiters(t *testing.T) {
	fake := newFakeBuilder()
	fake.setInputs("s/src/h.handler", []string{"/app/s/src/h.ts"})
	o := startOrch(t, Config{
		AppPath:        t.TempDir(),
		LambdaHandlers: []Handler{{SrcPath: "s", Handler: "src/h.handler", Runtime: "nodejs18.x"}},
	}, WithBuilders(builder.Set{Node: fake, Go: fake, Python: fake}))

	// A request against a building entry point suspends.
	fake.gated.Store(true)
	o.NotifyFileChanges([]string{"/app/s/src/h.ts"})

	waitSnap(t, o, "build in flight", func(s Snapshot) bool {
		return entryState(s, "s/src/h.handler").Building
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := o.GetBuiltHandler(context.Background(), "s", "src/h.handler")
		errCh <- err
	}()

	waitSnap(t, o, "waiter registered", func(s Snapshot) bool {
		return entryState(s, "s/src/h.handler").PendingRequests == 1
	})

	o.Stop()
	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not rejected on stop")
	}
}
