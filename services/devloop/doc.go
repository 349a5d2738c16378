// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package devloop is the live rebuild orchestrator for a serverless
// development loop.
//
// # Description
//
// The orchestrator watches two disjoint bodies of source: infrastructure
// code declaring cloud resources, and handler code for individually
// deployed function units. Edits trigger incremental rebuilds, lint and
// type-check passes, re-synthesis of the infrastructure model, and a
// user-approved redeploy.
//
// # Architecture
//
//	watcher events ──► scheduler (handlers) ──► lint/type-check, busy status
//	               └─► infra state machine (build → synth → approve → deploy)
//	host request  ───► on-demand coordinator ──► priority bump ──► response
//
// All state lives in a registry of string-keyed records owned by a single
// control goroutine. External work (builds, checkers, synth, deploy) runs
// in worker goroutines and child processes whose completions come back as
// events; no two reconciliation passes ever overlap.
//
// # Usage
//
//	orch, err := devloop.New(cfg)
//	if err != nil { ... }
//	if err := orch.Start(ctx, false); err != nil { ... }
//	defer orch.Stop()
//
//	built, err := orch.GetBuiltHandler(ctx, "services/api", "src/main.handler")
package devloop
