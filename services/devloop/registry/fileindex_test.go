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
	"testing"
)

// indexMirrorsInputs checks one direction of the index invariant:
// f ∈ inputFiles(e) implies e ∈ index[f].
func indexMirrorsInputs(t *testing.T, r *Registry) {
	t.Helper()
	for _, ep := range r.EntryPoints() {
		for f := range ep.InputFiles {
			found := false
			for _, key := range r.EntryPointsForFile(f) {
				if key == ep.Key() {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("%s lists %s but the index does not", ep.Key(), f)
			}
		}
	}
}

func TestRegistry_ApplyInputDiff(t *testing.T) {
	newEP := func(r *Registry, handler string) *EntryPoint {
		ep := &EntryPoint{SrcPath: "s", Handler: handler, Runtime: RuntimeNode}
		if err := r.AddEntryPoint(ep); err != nil {
			t.Fatalf("AddEntryPoint: %v", err)
		}
		return ep
	}

	t.Run("adds and removes follow the diff", func(t *testing.T) {
		r := New()
		ep := newEP(r, "src/a.handler")

		added, removed := r.ApplyInputDiff(ep, []string{"/a.ts", "/b.ts"})
		if len(added) != 2 || len(removed) != 0 {
			t.Fatalf("first diff: added=%v removed=%v", added, removed)
		}
		indexMirrorsInputs(t, r)

		added, removed = r.ApplyInputDiff(ep, []string{"/b.ts", "/c.ts"})
		if len(added) != 1 || added[0] != "/c.ts" {
			t.Errorf("added = %v, want [/c.ts]", added)
		}
		if len(removed) != 1 || removed[0] != "/a.ts" {
			t.Errorf("removed = %v, want [/a.ts]", removed)
		}
		indexMirrorsInputs(t, r)
	})

	t.Run("file key dropped when last entry point leaves", func(t *testing.T) {
		r := New()
		a := newEP(r, "src/a.handler")
		b := newEP(r, "src/b.handler")

		r.ApplyInputDiff(a, []string{"/shared.ts"})
		r.ApplyInputDiff(b, []string{"/shared.ts"})

		// Still referenced by b: not reported as removable.
		_, removed := r.ApplyInputDiff(a, []string{"/a.ts"})
		if len(removed) != 0 {
			t.Errorf("removed = %v, want none while b still lists the file", removed)
		}
		if len(r.EntryPointsForFile("/shared.ts")) != 1 {
			t.Errorf("index[/shared.ts] = %v, want one entry", r.EntryPointsForFile("/shared.ts"))
		}

		// Last reference gone: key deleted, file reported removable.
		_, removed = r.ApplyInputDiff(b, []string{"/b.ts"})
		if len(removed) != 1 || removed[0] != "/shared.ts" {
			t.Errorf("removed = %v, want [/shared.ts]", removed)
		}
		if r.EntryPointsForFile("/shared.ts") != nil {
			t.Error("index still holds a key for an unreferenced file")
		}
		indexMirrorsInputs(t, r)
	})

	t.Run("drop inputs releases unshared files", func(t *testing.T) {
		r := New()
		a := newEP(r, "src/a.handler")
		b := newEP(r, "src/b.handler")
		r.ApplyInputDiff(a, []string{"/only-a.ts", "/shared.ts"})
		r.ApplyInputDiff(b, []string{"/shared.ts"})

		released := r.DropInputs(a)
		if len(released) != 1 || released[0] != "/only-a.ts" {
			t.Errorf("released = %v, want [/only-a.ts]", released)
		}
		if len(a.InputFiles) != 0 {
			t.Error("inputs not cleared")
		}
	})
}
