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

import "errors"

// Sentinel errors for registry operations.
var (
	// ErrDuplicateEntryPoint indicates two handlers share (srcPath, handler).
	ErrDuplicateEntryPoint = errors.New("entry point already registered")

	// ErrUnknownEntryPoint indicates a lookup for an unregistered handler.
	ErrUnknownEntryPoint = errors.New("no such entry point")
)
