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

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_CheckValid(t *testing.T) {
	valid := Config{
		AppPath: "/app",
		LambdaHandlers: []Handler{
			{SrcPath: "s", Handler: "src/h.handler", Runtime: "nodejs18.x"},
		},
	}

	t.Run("valid config passes", func(t *testing.T) {
		cfg := valid
		if err := cfg.checkValid(); err != nil {
			t.Fatalf("checkValid: %v", err)
		}
	})

	t.Run("empty handler list", func(t *testing.T) {
		cfg := valid
		cfg.LambdaHandlers = nil
		if err := cfg.checkValid(); !errors.Is(err, ErrNoHandlers) {
			t.Errorf("err = %v, want ErrNoHandlers", err)
		}
	})

	t.Run("missing app path", func(t *testing.T) {
		cfg := valid
		cfg.AppPath = ""
		if err := cfg.checkValid(); err == nil {
			t.Error("empty AppPath accepted")
		}
	})

	t.Run("missing handler fields", func(t *testing.T) {
		cfg := valid
		cfg.LambdaHandlers = []Handler{{SrcPath: "s", Runtime: "nodejs18.x"}}
		if err := cfg.checkValid(); err == nil {
			t.Error("handler without a handler path accepted")
		}
	})

	t.Run("unsupported runtime", func(t *testing.T) {
		cfg := valid
		cfg.LambdaHandlers = []Handler{{SrcPath: "s", Handler: "src/h.handler", Runtime: "dotnet8"}}
		if err := cfg.checkValid(); !errors.Is(err, ErrUnknownRuntime) {
			t.Errorf("err = %v, want ErrUnknownRuntime", err)
		}
	})
}

func TestLoadOverrides(t *testing.T) {
	t.Run("missing file yields empty overrides", func(t *testing.T) {
		o, err := LoadOverrides(t.TempDir())
		if err != nil {
			t.Fatalf("LoadOverrides: %v", err)
		}
		if o.Lint != nil || o.TypeCheck != nil || o.EsbuildBin != "" {
			t.Errorf("overrides not empty: %+v", o)
		}
	})

	t.Run("file overrides toggles", func(t *testing.T) {
		dir := t.TempDir()
		raw := "lint: false\ntypeCheck: true\nesbuildBin: /opt/esbuild\n"
		if err := os.WriteFile(filepath.Join(dir, overridesFile), []byte(raw), 0o644); err != nil {
			t.Fatal(err)
		}

		o, err := LoadOverrides(dir)
		if err != nil {
			t.Fatalf("LoadOverrides: %v", err)
		}

		cfg := Config{IsLintEnabled: true, IsTypeCheckEnabled: false}
		cfg.apply(o)
		if cfg.IsLintEnabled {
			t.Error("lint override not applied")
		}
		if !cfg.IsTypeCheckEnabled {
			t.Error("typeCheck override not applied")
		}
		if o.EsbuildBin != "/opt/esbuild" {
			t.Errorf("EsbuildBin = %q", o.EsbuildBin)
		}
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, overridesFile), []byte("{nope"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadOverrides(dir); err == nil {
			t.Error("malformed yaml accepted")
		}
	})
}

func TestTsconfigFor(t *testing.T) {
	dir := t.TempDir()
	if got := tsconfigFor(dir); got != "" {
		t.Errorf("tsconfigFor(empty dir) = %q", got)
	}
	path := filepath.Join(dir, "tsconfig.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := tsconfigFor(dir); got != path {
		t.Errorf("tsconfigFor = %q, want %q", got, path)
	}
}
