// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"errors"
	"testing"
)

func TestParseRuntime(t *testing.T) {
	cases := []struct {
		in   string
		want Runtime
		ok   bool
	}{
		{"nodejs18.x", RuntimeNode, true},
		{"node", RuntimeNode, true},
		{"go1.x", RuntimeGo, true},
		{"python3.12", RuntimePython, true},
		{"ruby3.2", RuntimeNode, false},
	}
	for _, tc := range cases {
		got, ok := ParseRuntime(tc.in)
		if ok != tc.ok {
			t.Errorf("ParseRuntime(%q) ok = %v, want %v", tc.in, ok, tc.ok)
		}
		if ok && got != tc.want {
			t.Errorf("ParseRuntime(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRegistry_AddEntryPoint(t *testing.T) {
	t.Run("registration order is preserved", func(t *testing.T) {
		r := New()
		for _, h := range []string{"src/a.handler", "src/b.handler", "src/c.handler"} {
			if err := r.AddEntryPoint(&EntryPoint{SrcPath: "s", Handler: h, Runtime: RuntimeNode}); err != nil {
				t.Fatalf("AddEntryPoint: %v", err)
			}
		}
		eps := r.EntryPoints()
		if len(eps) != 3 {
			t.Fatalf("len = %d, want 3", len(eps))
		}
		if eps[0].Handler != "src/a.handler" || eps[2].Handler != "src/c.handler" {
			t.Errorf("order not preserved: %v, %v", eps[0].Handler, eps[2].Handler)
		}
	})

	t.Run("duplicate key is rejected", func(t *testing.T) {
		r := New()
		ep := &EntryPoint{SrcPath: "s", Handler: "src/a.handler", Runtime: RuntimeNode}
		if err := r.AddEntryPoint(ep); err != nil {
			t.Fatalf("AddEntryPoint: %v", err)
		}
		err := r.AddEntryPoint(&EntryPoint{SrcPath: "s", Handler: "src/a.handler", Runtime: RuntimeGo})
		if !errors.Is(err, ErrDuplicateEntryPoint) {
			t.Errorf("err = %v, want ErrDuplicateEntryPoint", err)
		}
	})

	t.Run("lookup by pair", func(t *testing.T) {
		r := New()
		if err := r.AddEntryPoint(&EntryPoint{SrcPath: "s", Handler: "src/a.handler"}); err != nil {
			t.Fatalf("AddEntryPoint: %v", err)
		}
		if r.Lookup("s", "src/a.handler") == nil {
			t.Error("Lookup returned nil for registered entry point")
		}
		if r.Lookup("s", "src/b.handler") != nil {
			t.Error("Lookup returned record for unknown handler")
		}
	})
}

func TestRegistry_SourcePaths(t *testing.T) {
	t.Run("created lazily on first build", func(t *testing.T) {
		r := New()
		if r.SourcePath("s") != nil {
			t.Fatal("source path exists before any build")
		}
		sp := r.EnsureSourcePath("s", "s/tsconfig.json")
		if sp == nil || r.SourcePath("s") != sp {
			t.Fatal("EnsureSourcePath did not register the record")
		}
		if sp.Tsconfig != "s/tsconfig.json" {
			t.Errorf("Tsconfig = %q", sp.Tsconfig)
		}
	})

	t.Run("input union spans entry points", func(t *testing.T) {
		r := New()
		a := &EntryPoint{SrcPath: "s", Handler: "src/a.handler", Runtime: RuntimeNode}
		b := &EntryPoint{SrcPath: "s", Handler: "src/b.handler", Runtime: RuntimeNode}
		for _, ep := range []*EntryPoint{a, b} {
			if err := r.AddEntryPoint(ep); err != nil {
				t.Fatalf("AddEntryPoint: %v", err)
			}
		}
		r.ApplyInputDiff(a, []string{"/app/s/a.ts", "/app/s/shared.ts"})
		r.ApplyInputDiff(b, []string{"/app/s/b.ts", "/app/s/shared.ts"})

		union := r.SourcePathInputs("s")
		if len(union) != 3 {
			t.Fatalf("union = %v, want 3 files", union)
		}
		if union[0] != "/app/s/a.ts" {
			t.Errorf("union not sorted: %v", union)
		}
	})
}
