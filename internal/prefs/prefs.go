// Package prefs extracts the viewer's default preferences. The preferences
// source is preprocessed with the active flag set and then evaluated
// in-process as a data literal — no module loading, no ambient I/O — and the
// result is persisted as a JSON snapshot consumed by the viewer at runtime.
package prefs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/openviewer/build-plane/internal/defines"
	"github.com/openviewer/build-plane/internal/logging"
	"github.com/openviewer/build-plane/internal/preprocess"
)

// ErrNoPreferences is returned when the preferences source is absent or
// empty. This aborts the target build; an empty snapshot is never produced
// silently.
var ErrNoPreferences = errors.New("default preferences source is absent or empty")

// Extract resolves conditional blocks in src against d and evaluates the
// remaining text as an object literal.
func Extract(src string, d defines.Defines) (map[string]any, error) {
	if strings.TrimSpace(src) == "" {
		return nil, ErrNoPreferences
	}

	processed, err := preprocess.New(d).Process(src)
	if err != nil {
		return nil, fmt.Errorf("preprocess preferences: %w", err)
	}
	processed = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(processed), ";"))
	if processed == "" {
		return nil, ErrNoPreferences
	}

	// Evaluate as a data literal. The VM has no host bindings, so the source
	// cannot reach the filesystem or environment.
	vm := goja.New()
	value, err := vm.RunString("(" + processed + ")")
	if err != nil {
		return nil, fmt.Errorf("preferences source is not a valid data literal: %w", err)
	}

	exported, ok := value.Export().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("preferences source evaluated to %T, expected an object", value.Export())
	}
	return exported, nil
}

// ExtractFile reads and extracts the preferences source at path.
func ExtractFile(path string, d defines.Defines) (map[string]any, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPreferences, err)
	}
	return Extract(string(bs), d)
}

// Write persists the snapshot as default_preferences.json under dir.
func Write(prefs map[string]any, dir string) error {
	bs, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "default_preferences.json"), append(bs, '\n'), 0o644)
}

// CheckManifest validates the extracted preferences against a platform
// manifest schema. Divergence is logged per-keyword and reported as a
// boolean; the caller decides severity.
func CheckManifest(prefs map[string]any, schema []byte, log *logging.Logger) (bool, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return false, fmt.Errorf("failed to parse manifest schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft2020)
	if err := compiler.AddResource("manifest.json", doc); err != nil {
		return false, err
	}
	compiled, err := compiler.Compile("manifest.json")
	if err != nil {
		return false, err
	}

	// round-trip through JSON so numeric types match what the validator expects
	bs, err := json.Marshal(prefs)
	if err != nil {
		return false, err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(bs))
	if err != nil {
		return false, err
	}

	if err := compiled.Validate(instance); err != nil {
		log.Warnf("preferences diverge from platform manifest: %v", err)
		return false, nil
	}
	return true, nil
}
