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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/seastack/lambdev/services/devloop/registry"
)

func TestSplitHandler(t *testing.T) {
	cases := []struct {
		in, stem, symbol string
	}{
		{"src/main.handler", "src/main", "handler"},
		{"src/api.routes.get", "src/api.routes", "get"},
		{"worker", "worker", "handler"},
	}
	for _, tc := range cases {
		stem, symbol := splitHandler(tc.in)
		if stem != tc.stem || symbol != tc.symbol {
			t.Errorf("splitHandler(%q) = (%q, %q), want (%q, %q)",
				tc.in, stem, symbol, tc.stem, tc.symbol)
		}
	}
}

func TestOutDirFor(t *testing.T) {
	ep := &registry.EntryPoint{SrcPath: "services/api", Handler: "src/main.handler"}
	got := outDirFor(ep)
	want := filepath.Join(ArtifactRoot, "services", "api", "src", "main.handler")
	if got != want {
		t.Errorf("outDirFor = %q, want %q", got, want)
	}
}

func TestPythonBuilder(t *testing.T) {
	b := &PythonBuilder{}
	ep := &registry.EntryPoint{
		SrcPath: "services/worker",
		Handler: "src/tasks.process",
		Runtime: registry.RuntimePython,
	}

	res, err := b.Build(context.Background(), ep)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Artifact.OutEntry != "src/tasks.py" {
		t.Errorf("OutEntry = %q", res.Artifact.OutEntry)
	}
	if res.Artifact.OutHandler != "process" {
		t.Errorf("OutHandler = %q", res.Artifact.OutHandler)
	}
	if len(res.InputFiles) != 0 {
		t.Errorf("python build reported inputs: %v", res.InputFiles)
	}
}

func TestResolveEntryFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	target := filepath.Join(dir, "src", "main.ts")
	if err := os.WriteFile(target, []byte("export const handler = () => {}"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := resolveEntryFile(dir, "src/main")
	if err != nil {
		t.Fatalf("resolveEntryFile: %v", err)
	}
	if got != target {
		t.Errorf("resolved %q, want %q", got, target)
	}

	_, err = resolveEntryFile(dir, "src/missing")
	if !errors.Is(err, ErrEntryFileNotFound) {
		t.Errorf("err = %v, want ErrEntryFileNotFound", err)
	}
}

func TestNodeBuilder_RequiresPrepare(t *testing.T) {
	b := &NodeBuilder{}
	ep := &registry.EntryPoint{SrcPath: "s", Handler: "src/h.handler"}
	_, err := b.Build(context.Background(), ep)
	if !errors.Is(err, ErrNotPrepared) {
		t.Errorf("err = %v, want ErrNotPrepared", err)
	}
}
