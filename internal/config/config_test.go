package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openviewer/build-plane/internal/config"
)

func TestParseDefaults(t *testing.T) {
	root, err := config.Parse([]byte(`
project: viewer
`))
	if err != nil {
		t.Fatal(err)
	}

	if root.SourceRoot != "." {
		t.Errorf("expected default source root %q, got %q", ".", root.SourceRoot)
	}
	if root.OutputRoot != "build" {
		t.Errorf("expected default output root %q, got %q", "build", root.OutputRoot)
	}
	if root.Server.Host != "localhost" || root.Server.Port != 8888 {
		t.Errorf("expected default server localhost:8888, got %v:%v", root.Server.Host, root.Server.Port)
	}
}

func TestParseTargets(t *testing.T) {
	root, err := config.Parse([]byte(`
targets:
  generic:
    defines:
      GENERIC: true
  minified:
    archive: true
  lib:
`))
	if err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, tgt := range root.SortedTargets() {
		names = append(names, tgt.Name)
	}

	if diff := cmp.Diff([]string{"generic", "lib", "minified"}, names); diff != "" {
		t.Errorf("unexpected target order (-want, +got):\n%s", diff)
	}

	if !root.Targets["minified"].Archive {
		t.Error("expected archive flag on minified target")
	}
	if v, ok := root.Targets["generic"].Defines["GENERIC"]; !ok || v != true {
		t.Errorf("expected GENERIC define on generic target, got %v", root.Targets["generic"].Defines)
	}
}

func TestParseBadAssetPattern(t *testing.T) {
	_, err := config.Parse([]byte(`
targets:
  generic:
    excluded_assets:
      - "[invalid"
`))
	if err == nil {
		t.Fatal("expected pattern compilation error")
	}
	if !strings.Contains(err.Error(), "generic") {
		t.Errorf("expected error to name the target, got %v", err)
	}
}

func TestMerge(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	write("00-base.yaml", `
project: viewer
defines:
  GENERIC: true
  TESTING: false
`)
	write("10-override.yaml", `
defines:
  TESTING: true
output_root: dist
`)

	bs, err := config.Merge([]string{dir}, false)
	if err != nil {
		t.Fatal(err)
	}

	root, err := config.Parse(bs)
	if err != nil {
		t.Fatal(err)
	}

	if root.Project != "viewer" {
		t.Errorf("expected project %q, got %q", "viewer", root.Project)
	}
	if root.OutputRoot != "dist" {
		t.Errorf("expected output root %q, got %q", "dist", root.OutputRoot)
	}
	if diff := cmp.Diff(map[string]any{"GENERIC": true, "TESTING": true}, root.Defines); diff != "" {
		t.Errorf("unexpected merged defines (-want, +got):\n%s", diff)
	}
}

func TestMergeConflict(t *testing.T) {
	dir := t.TempDir()

	files := map[string]string{
		"a.yaml": "project: viewer",
		"b.yaml": "project: other",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := config.Merge([]string{dir}, true); err == nil {
		t.Fatal("expected conflict error")
	} else if !strings.Contains(err.Error(), "/project") {
		t.Errorf("expected error to name the conflicting path, got %v", err)
	}

	// Without conflict checking the last document wins.
	bs, err := config.Merge([]string{dir}, false)
	if err != nil {
		t.Fatal(err)
	}
	root, err := config.Parse(bs)
	if err != nil {
		t.Fatal(err)
	}
	if root.Project != "other" {
		t.Errorf("expected project %q, got %q", "other", root.Project)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		note    string
		config  string
		wantErr bool
	}{
		{
			note: "valid",
			config: `
project: viewer
targets:
  generic:
    defines:
      GENERIC: true
server:
  port: 9999
`,
		},
		{
			note: "unknown top-level key",
			config: `
project: viewer
unknown: true
`,
			wantErr: true,
		},
		{
			note: "unknown target key",
			config: `
targets:
  generic:
    bogus: 1
`,
			wantErr: true,
		},
		{
			note: "wrong port type",
			config: `
server:
  port: "8888"
`,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			err := config.Validate([]byte(tc.config))
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestReflectSchema(t *testing.T) {
	bs, err := config.ReflectSchema()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(bs), `"additionalProperties": false`) {
		t.Error("expected reflected schema to close structs to unknown properties")
	}
}
