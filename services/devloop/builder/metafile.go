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

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// metafile mirrors the bundler's JSON metafile shape. Only the input keys
// are consumed.
type metafile struct {
	Inputs map[string]json.RawMessage `json:"inputs"`
}

// ReadMetafile parses a bundler metafile and returns the absolute input
// paths, sorted.
//
// Relative input paths are resolved against appPath. Entries inside a
// third-party modules directory are kept; filtering is the checker's
// concern, and the scheduler still wants change events for them.
func ReadMetafile(path, appPath string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetafileRead, err)
	}

	var meta metafile
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetafileRead, err)
	}

	inputs := make([]string, 0, len(meta.Inputs))
	for in := range meta.Inputs {
		p := filepath.FromSlash(in)
		if !filepath.IsAbs(p) {
			p = filepath.Join(appPath, p)
		}
		inputs = append(inputs, p)
	}
	sort.Strings(inputs)
	return inputs, nil
}
