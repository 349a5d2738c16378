// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checker

import (
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func sleepCmd() *exec.Cmd {
	return exec.Command("sleep", "30")
}

func newTestCoordinator(t *testing.T) (*Coordinator, *launchLog) {
	t.Helper()
	log := &launchLog{}
	c := New(t.TempDir(), true, true, false)
	c.LintCommand = func(files []string, color bool) *exec.Cmd {
		log.record(KindLint, files)
		return sleepCmd()
	}
	c.TypeCheckCommand = func(dir string, pretty bool) *exec.Cmd {
		log.record(KindTypeCheck, nil)
		return sleepCmd()
	}
	t.Cleanup(c.KillAll)
	return c, log
}

// launchLog counts checker launches per kind.
type launchLog struct {
	mu      sync.Mutex
	lints   int
	typechk int
	files   [][]string
}

func (l *launchLog) record(kind Kind, files []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if kind == KindLint {
		l.lints++
		l.files = append(l.files, files)
	} else {
		l.typechk++
	}
}

func (l *launchLog) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lints, l.typechk
}

func TestCoordinator_Recheck(t *testing.T) {
	t.Run("launches lint and typecheck when inputs qualify", func(t *testing.T) {
		c, log := newTestCoordinator(t)
		c.Recheck("s", "s/tsconfig.json", []string{"/app/s/a.ts", "/app/s/b.js"})

		lints, typechk := log.counts()
		if lints != 1 || typechk != 1 {
			t.Fatalf("launches = %d lint / %d typecheck, want 1/1", lints, typechk)
		}
		if !c.Active("s", KindLint) || !c.Active("s", KindTypeCheck) {
			t.Error("handles not live after launch")
		}
	})

	t.Run("typecheck needs a tsconfig", func(t *testing.T) {
		c, log := newTestCoordinator(t)
		c.Recheck("s", "", []string{"/app/s/a.ts"})
		_, typechk := log.counts()
		if typechk != 0 {
			t.Errorf("typecheck launched without tsconfig")
		}
	})

	t.Run("lint filters third-party and non-script files", func(t *testing.T) {
		c, log := newTestCoordinator(t)
		nm := filepath.Join("/app", "node_modules", "dep", "index.js")
		c.Recheck("s", "", []string{nm, "/app/s/data.json"})

		lints, _ := log.counts()
		if lints != 0 {
			t.Errorf("lint launched over an empty filtered set")
		}
	})

	t.Run("restart kills the stale process", func(t *testing.T) {
		c, log := newTestCoordinator(t)
		c.Recheck("s", "", []string{"/app/s/a.ts"})

		// Grab the live handle, then recheck with fresh inputs.
		c.mu.Lock()
		first := c.bypath["s"].lint
		c.mu.Unlock()

		c.Recheck("s", "", []string{"/app/s/a.ts", "/app/s/c.ts"})

		select {
		case <-first.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("stale lint process not terminated")
		}

		lints, _ := log.counts()
		if lints != 2 {
			t.Errorf("launches = %d, want 2", lints)
		}
		if !c.Active("s", KindLint) {
			t.Error("replacement lint not live")
		}
	})
}

func TestCoordinator_ExitCallback(t *testing.T) {
	exits := make(chan Kind, 2)
	c := New(t.TempDir(), true, false, false)
	c.LintCommand = func(files []string, color bool) *exec.Cmd {
		return exec.Command("true")
	}
	c.OnExit = func(srcPath string, kind Kind) {
		exits <- kind
	}
	t.Cleanup(c.KillAll)

	c.Recheck("s", "", []string{"/app/s/a.ts"})

	select {
	case kind := <-exits:
		if kind != KindLint {
			t.Errorf("exit kind = %v, want lint", kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback never fired")
	}

	// Handle cleared once the child reported exit.
	deadline := time.Now().Add(2 * time.Second)
	for c.Active("s", KindLint) {
		if time.Now().After(deadline) {
			t.Fatal("handle still live after exit")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCoordinator_DisabledGates(t *testing.T) {
	c, log := newTestCoordinator(t)
	c.LintEnabled = false
	c.TypeCheckEnabled = false
	c.Recheck("s", "s/tsconfig.json", []string{"/app/s/a.ts"})

	lints, typechk := log.counts()
	if lints != 0 || typechk != 0 {
		t.Errorf("launches = %d/%d, want none while disabled", lints, typechk)
	}
	if c.AnyActive() {
		t.Error("AnyActive true with no live process")
	}
}

func TestFilterScripts(t *testing.T) {
	files := []string{
		"/app/s/a.ts",
		"/app/s/a.tsx",
		"/app/s/b.js",
		"/app/s/style.css",
		filepath.Join("/app", "node_modules", "x", "y.ts"),
	}
	got := filterScripts(files)
	if len(got) != 3 {
		t.Errorf("filterScripts = %v, want 3 entries", got)
	}
	typed := filterTyped(files)
	if len(typed) != 3 {
		t.Errorf("filterTyped = %v, want 3 entries", typed)
	}
}
