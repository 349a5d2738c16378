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

import "errors"

// Sentinel errors for build operations.
var (
	// ErrBuildFailed indicates the external build tool reported failure.
	// The wrapped message carries the tool's own diagnostics verbatim.
	ErrBuildFailed = errors.New("build failed")

	// ErrEntryFileNotFound indicates no source file matched the handler stem.
	ErrEntryFileNotFound = errors.New("entry file not found")

	// ErrMetafileRead indicates the bundler metafile was missing or invalid.
	ErrMetafileRead = errors.New("metafile unreadable")

	// ErrNotPrepared indicates Build ran before Prepare created the
	// incremental handle.
	ErrNotPrepared = errors.New("bundler not prepared")
)
