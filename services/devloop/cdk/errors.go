// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cdk

import "errors"

// Sentinel errors for the infra pipeline.
var (
	// ErrSynthCancelled marks a synth the host abandoned because a newer
	// edit arrived. Not surfaced to the user; the machine restarts from
	// BuildPending.
	ErrSynthCancelled = errors.New("synth cancelled")
)

// cancelledMarker matches host errors that flag cancellation without
// wrapping the sentinel.
type cancelledMarker interface {
	Cancelled() bool
}

// IsCancelled reports whether a synth error means "abandoned, not failed".
func IsCancelled(err error) bool {
	if errors.Is(err, ErrSynthCancelled) {
		return true
	}
	var m cancelledMarker
	if errors.As(err, &m) {
		return m.Cancelled()
	}
	return false
}
