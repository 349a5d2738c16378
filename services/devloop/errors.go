// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package devloop

import "errors"

// Sentinel errors for the orchestrator.
var (
	// ErrNoHandlers is returned by New when the handler list is empty.
	ErrNoHandlers = errors.New("No Lambda handlers are found in the app")

	// ErrInitialBuild is returned by Start when any initial build fails.
	ErrInitialBuild = errors.New("Failed to build the Lambda handlers")

	// ErrStopped indicates the orchestrator has shut down.
	ErrStopped = errors.New("orchestrator stopped")

	// ErrNotStarted indicates an operation before Start completed.
	ErrNotStarted = errors.New("orchestrator not started")

	// ErrUnknownRuntime indicates a handler declared an unsupported runtime.
	ErrUnknownRuntime = errors.New("unsupported runtime")
)
