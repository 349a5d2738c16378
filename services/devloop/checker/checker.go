// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checker runs lint and type-check processes over source paths.
//
// Checkers are advisory: their stdio is inherited so diagnostics reach the
// user directly, and exit codes are never interpreted. A checker process
// that became stale (a newer input set exists) is killed and restarted.
package checker

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Kind distinguishes the two checker process families.
type Kind int

const (
	// KindLint is the linter worker.
	KindLint Kind = iota

	// KindTypeCheck is the type checker.
	KindTypeCheck
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	if k == KindTypeCheck {
		return "typecheck"
	}
	return "lint"
}

// thirdPartyDir is excluded from lint input sets.
const thirdPartyDir = "node_modules"

// =============================================================================
// PROCESS HANDLE
// =============================================================================

// Proc is a handle to one live checker process.
//
// The handle may be abandoned only after the child reports exit; Kill is
// cooperative and the exit callback still fires afterwards.
type Proc struct {
	cmd  *exec.Cmd
	done chan struct{}
	once sync.Once
}

// Kill terminates the process. Safe to call more than once.
func (p *Proc) Kill() {
	p.once.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	})
}

// Done is closed once the process has exited.
func (p *Proc) Done() <-chan struct{} {
	return p.done
}

// =============================================================================
// COORDINATOR
// =============================================================================

// procs holds the live handles for one source path.
type procs struct {
	lint      *Proc
	typeCheck *Proc
}

// Coordinator starts, restarts, and kills checker processes.
//
// # Description
//
// One lint and one type-check process may be live per source path. The
// coordinator owns the handles; registry records only carry the
// needs-recheck flag. OnExit is invoked from a watcher goroutine when a
// child exits, so the owner must marshal it back onto its control loop.
//
// # Thread Safety
//
// Safe for concurrent use; the handle table is mutex-guarded. In practice
// all calls except process-exit notification come from one goroutine.
type Coordinator struct {
	// LintEnabled gates linter launches.
	LintEnabled bool

	// TypeCheckEnabled gates type-checker launches.
	TypeCheckEnabled bool

	// Color is passed through to the linter worker.
	Color bool

	// Pretty is passed to the type checker's --pretty flag.
	Pretty bool

	// AppPath is the absolute application root.
	AppPath string

	// OnExit is called when a checker process exits, after the handle is
	// cleared. May be nil.
	OnExit func(srcPath string, kind Kind)

	// LintCommand builds the linter invocation. Overridable for tests.
	// files are absolute paths; the command inherits the parent's stdio.
	LintCommand func(files []string, color bool) *exec.Cmd

	// TypeCheckCommand builds the type-check invocation for a source path.
	TypeCheckCommand func(dir string, pretty bool) *exec.Cmd

	mu     sync.Mutex
	bypath map[string]*procs
}

// New creates a coordinator with the default eslint/tsc commands.
func New(appPath string, lint, typeCheck, color bool) *Coordinator {
	return &Coordinator{
		LintEnabled:      lint,
		TypeCheckEnabled: typeCheck,
		Color:            color,
		Pretty:           color,
		AppPath:          appPath,
		LintCommand:      defaultLintCommand,
		TypeCheckCommand: defaultTypeCheckCommand,
		bypath:           make(map[string]*procs),
	}
}

// Recheck restarts checkers for a source path over a fresh input set.
//
// # Description
//
// Kills any live checker processes for the source path (they operate on
// stale inputs), then launches a linter over the .ts/.js inputs outside the
// third-party modules directory, and a type checker over the .ts inputs
// when a tsconfig exists. Either launch is skipped when disabled or when
// its filtered file set is empty.
//
// # Inputs
//
//	srcPath - Source path key. The app root uses its own key (infra scope).
//	tsconfig - Tsconfig path for the source path, "" when absent.
//	files - Union of current input files, absolute paths.
func (c *Coordinator) Recheck(srcPath, tsconfig string, files []string) {
	c.KillFor(srcPath)

	scripts := filterScripts(files)
	typed := filterTyped(files)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.bypath[srcPath]
	if !ok {
		entry = &procs{}
		c.bypath[srcPath] = entry
	}

	if c.LintEnabled && len(scripts) > 0 {
		cmd := c.LintCommand(scripts, c.Color)
		if p := c.launch(srcPath, KindLint, cmd); p != nil {
			entry.lint = p
		}
	}

	if c.TypeCheckEnabled && tsconfig != "" && len(typed) > 0 {
		dir := filepath.Join(c.AppPath, srcPath)
		cmd := c.TypeCheckCommand(dir, c.Pretty)
		if p := c.launch(srcPath, KindTypeCheck, cmd); p != nil {
			entry.typeCheck = p
		}
	}
}

// launch starts one checker process and watches for its exit.
func (c *Coordinator) launch(srcPath string, kind Kind, cmd *exec.Cmd) *Proc {
	// Checkers inherit the parent's I/O channels; their output is the
	// user-facing diagnostic surface.
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		slog.Warn("Checker failed to start",
			slog.String("src_path", srcPath),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)
		return nil
	}

	p := &Proc{cmd: cmd, done: make(chan struct{})}

	go func() {
		// Exit codes are not interpreted; diagnostics already reached the
		// user through the inherited stdio.
		_ = cmd.Wait()
		close(p.done)
		c.clear(srcPath, kind, p)
		if c.OnExit != nil {
			c.OnExit(srcPath, kind)
		}
	}()

	slog.Debug("Checker started",
		slog.String("src_path", srcPath),
		slog.String("kind", kind.String()),
		slog.Int("pid", cmd.Process.Pid),
	)
	return p
}

// clear drops the handle if it is still the current one for its slot.
func (c *Coordinator) clear(srcPath string, kind Kind, p *Proc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.bypath[srcPath]
	if !ok {
		return
	}
	switch kind {
	case KindLint:
		if entry.lint == p {
			entry.lint = nil
		}
	case KindTypeCheck:
		if entry.typeCheck == p {
			entry.typeCheck = nil
		}
	}
}

// KillFor terminates any live checkers for a source path.
//
// Expected when a newer input set arrives or a build for the source path
// starts; stale-checker termination is not an error.
func (c *Coordinator) KillFor(srcPath string) {
	c.mu.Lock()
	entry := c.bypath[srcPath]
	var victims []*Proc
	if entry != nil {
		if entry.lint != nil {
			victims = append(victims, entry.lint)
			entry.lint = nil
		}
		if entry.typeCheck != nil {
			victims = append(victims, entry.typeCheck)
			entry.typeCheck = nil
		}
	}
	c.mu.Unlock()

	for _, p := range victims {
		p.Kill()
	}
}

// KillAll terminates every live checker. Used during shutdown.
func (c *Coordinator) KillAll() {
	c.mu.Lock()
	paths := make([]string, 0, len(c.bypath))
	for sp := range c.bypath {
		paths = append(paths, sp)
	}
	c.mu.Unlock()

	for _, sp := range paths {
		c.KillFor(sp)
	}
}

// Active reports whether a checker of the given kind is live for srcPath.
func (c *Coordinator) Active(srcPath string, kind Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.bypath[srcPath]
	if !ok {
		return false
	}
	if kind == KindLint {
		return entry.lint != nil
	}
	return entry.typeCheck != nil
}

// AnyActive reports whether any checker process is live.
func (c *Coordinator) AnyActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.bypath {
		if entry.lint != nil || entry.typeCheck != nil {
			return true
		}
	}
	return false
}

// =============================================================================
// INPUT FILTERS
// =============================================================================

// filterScripts keeps .ts/.tsx/.js/.jsx files outside the third-party
// modules dir.
func filterScripts(files []string) []string {
	var out []string
	for _, f := range files {
		if strings.Contains(f, string(filepath.Separator)+thirdPartyDir+string(filepath.Separator)) {
			continue
		}
		switch filepath.Ext(f) {
		case ".ts", ".tsx", ".js", ".jsx":
			out = append(out, f)
		}
	}
	return out
}

// filterTyped keeps .ts and .tsx files.
func filterTyped(files []string) []string {
	var out []string
	for _, f := range files {
		switch filepath.Ext(f) {
		case ".ts", ".tsx":
			out = append(out, f)
		}
	}
	return out
}

// =============================================================================
// DEFAULT COMMANDS
// =============================================================================

// defaultLintCommand invokes the eslint worker with a file list.
func defaultLintCommand(files []string, color bool) *exec.Cmd {
	args := []string{"eslint"}
	if color {
		args = append(args, "--color")
	} else {
		args = append(args, "--no-color")
	}
	args = append(args, files...)
	return exec.Command("npx", args...)
}

// defaultTypeCheckCommand invokes tsc once per source path.
func defaultTypeCheckCommand(dir string, pretty bool) *exec.Cmd {
	cmd := exec.Command("npx", "tsc", "--noEmit", "--pretty", boolArg(pretty))
	cmd.Dir = dir
	return cmd
}

func boolArg(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
