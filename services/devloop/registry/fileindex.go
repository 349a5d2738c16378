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

// File index operations. The index is consulted for node-like runtimes
// only; go-like entry points are rebuilt by a coarse suffix rule and
// python-like entry points have no inputs.

// EntryPointsForFile returns the keys of entry points that list the file.
//
// The returned slice is the index's own backing array; callers must not
// mutate it.
func (r *Registry) EntryPointsForFile(file string) []string {
	return r.fileIndex[file]
}

// IndexedFiles returns the number of files currently indexed.
func (r *Registry) IndexedFiles() int {
	return len(r.fileIndex)
}

// ApplyInputDiff replaces an entry point's input set with newInputs and
// updates the file index.
//
// # Description
//
// Computes the difference between the entry point's previous input set and
// newInputs. Newly referenced files are added to the index; files no longer
// referenced are removed. A file's index key is deleted outright when its
// entry-point list becomes empty, so the caller can release its watch.
//
// # Inputs
//
//	ep - The entry point whose build just succeeded.
//	newInputs - Absolute paths the build reported as inputs.
//
// # Outputs
//
//	added - Files that were not previously inputs of this entry point.
//	removed - Previous inputs dropped by this build AND no longer listed by
//	          any entry point (safe to unwatch).
func (r *Registry) ApplyInputDiff(ep *EntryPoint, newInputs []string) (added, removed []string) {
	next := make(map[string]struct{}, len(newInputs))
	for _, f := range newInputs {
		next[f] = struct{}{}
	}

	for _, f := range newInputs {
		if _, ok := ep.InputFiles[f]; !ok {
			added = append(added, f)
			r.indexAdd(f, ep.Key())
		}
	}

	for f := range ep.InputFiles {
		if _, ok := next[f]; !ok {
			if r.indexRemove(f, ep.Key()) {
				removed = append(removed, f)
			}
		}
	}

	ep.InputFiles = next
	return added, removed
}

// DropInputs removes all of an entry point's inputs from the index.
//
// Outputs:
//
//	released - Files no longer listed by any entry point.
func (r *Registry) DropInputs(ep *EntryPoint) (released []string) {
	for f := range ep.InputFiles {
		if r.indexRemove(f, ep.Key()) {
			released = append(released, f)
		}
	}
	ep.InputFiles = make(map[string]struct{})
	return released
}

// indexAdd appends the key to the file's entry-point list.
func (r *Registry) indexAdd(file, key string) {
	r.fileIndex[file] = append(r.fileIndex[file], key)
}

// indexRemove deletes one occurrence of key from the file's list.
//
// Returns true when the list became empty and the file key was dropped.
func (r *Registry) indexRemove(file, key string) bool {
	keys := r.fileIndex[file]
	for i, k := range keys {
		if k == key {
			keys = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	if len(keys) == 0 {
		delete(r.fileIndex, file)
		return true
	}
	r.fileIndex[file] = keys
	return false
}
