// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

// Target is the subset of Watcher the set manager drives. Nil targets
// (test mode) are tolerated.
type Target interface {
	Add(paths []string)
	Remove(paths []string)
}

// SetManager batches watch-set updates per state transition.
//
// The orchestrator stages adds and removes while handling an event, then
// flushes once before waking waiters or advancing state, so the watcher
// never observes a half-applied transition.
type SetManager struct {
	target        Target
	pendingAdd    []string
	pendingRemove []string
}

// NewSetManager creates a manager for the given target. A nil target
// turns every flush into a no-op.
func NewSetManager(target Target) *SetManager {
	return &SetManager{target: target}
}

// Add stages paths for watching.
func (s *SetManager) Add(paths []string) {
	s.pendingAdd = append(s.pendingAdd, paths...)
}

// Remove stages paths for unwatching.
func (s *SetManager) Remove(paths []string) {
	s.pendingRemove = append(s.pendingRemove, paths...)
}

// Flush applies staged updates to the target, removals first.
func (s *SetManager) Flush() {
	if s.target != nil {
		if len(s.pendingRemove) > 0 {
			s.target.Remove(s.pendingRemove)
		}
		if len(s.pendingAdd) > 0 {
			s.target.Add(s.pendingAdd)
		}
	}
	s.pendingAdd = nil
	s.pendingRemove = nil
}
