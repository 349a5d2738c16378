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
	"sort"
)

// Registry is the arena of entry-point and source-path records plus the
// file index.
//
// # Description
//
// All records reference each other by string keys only; there are no object
// cycles. The registry is owned by the orchestrator's control goroutine and
// is never accessed concurrently, so it carries no locks.
type Registry struct {
	entryPoints map[string]*EntryPoint
	keys        []string // registration order

	sourcePaths map[string]*SourcePath

	// fileIndex maps an absolute input file path to the ordered multiset of
	// node-like entry-point keys that currently list it.
	fileIndex map[string][]string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entryPoints: make(map[string]*EntryPoint),
		sourcePaths: make(map[string]*SourcePath),
		fileIndex:   make(map[string][]string),
	}
}

// =============================================================================
// ENTRY POINTS
// =============================================================================

// AddEntryPoint registers a new entry point record.
//
// Outputs:
//
//	error - ErrDuplicateEntryPoint if the key is already registered.
func (r *Registry) AddEntryPoint(ep *EntryPoint) error {
	key := ep.Key()
	if _, ok := r.entryPoints[key]; ok {
		return ErrDuplicateEntryPoint
	}
	if ep.InputFiles == nil {
		ep.InputFiles = make(map[string]struct{})
	}
	r.entryPoints[key] = ep
	r.keys = append(r.keys, key)
	return nil
}

// EntryPoint returns the record for a key, or nil.
func (r *Registry) EntryPoint(key string) *EntryPoint {
	return r.entryPoints[key]
}

// Lookup returns the record for (srcPath, handler), or nil.
func (r *Registry) Lookup(srcPath, handler string) *EntryPoint {
	return r.entryPoints[Key(srcPath, handler)]
}

// EntryPoints returns all records in registration order.
func (r *Registry) EntryPoints() []*EntryPoint {
	out := make([]*EntryPoint, 0, len(r.keys))
	for _, key := range r.keys {
		out = append(out, r.entryPoints[key])
	}
	return out
}

// Len returns the number of registered entry points.
func (r *Registry) Len() int {
	return len(r.keys)
}

// =============================================================================
// SOURCE PATHS
// =============================================================================

// EnsureSourcePath returns the record for srcPath, creating it on first use.
//
// Source paths come into existence on the first successful build of one of
// their entry points; callers invoke this from the build-success path only.
func (r *Registry) EnsureSourcePath(srcPath, tsconfig string) *SourcePath {
	sp, ok := r.sourcePaths[srcPath]
	if !ok {
		sp = &SourcePath{SrcPath: srcPath, Tsconfig: tsconfig}
		r.sourcePaths[srcPath] = sp
	}
	if tsconfig != "" && sp.Tsconfig == "" {
		sp.Tsconfig = tsconfig
	}
	return sp
}

// SourcePath returns the record for srcPath, or nil.
func (r *Registry) SourcePath(srcPath string) *SourcePath {
	return r.sourcePaths[srcPath]
}

// SourcePaths returns all source-path records in sorted key order.
func (r *Registry) SourcePaths() []*SourcePath {
	keys := make([]string, 0, len(r.sourcePaths))
	for k := range r.sourcePaths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*SourcePath, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.sourcePaths[k])
	}
	return out
}

// EntryPointsIn returns the entry points under a source path, in
// registration order.
func (r *Registry) EntryPointsIn(srcPath string) []*EntryPoint {
	var out []*EntryPoint
	for _, key := range r.keys {
		if ep := r.entryPoints[key]; ep.SrcPath == srcPath {
			out = append(out, ep)
		}
	}
	return out
}

// SourcePathInputs returns the union of input files across a source path's
// entry points, sorted.
func (r *Registry) SourcePathInputs(srcPath string) []string {
	union := make(map[string]struct{})
	for _, ep := range r.EntryPointsIn(srcPath) {
		for f := range ep.InputFiles {
			union[f] = struct{}{}
		}
	}
	out := make([]string, 0, len(union))
	for f := range union {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
