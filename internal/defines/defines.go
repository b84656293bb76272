// Package defines implements the build-time flag sets ("defines") that drive
// conditional compilation and target selection. A flag set is merged once per
// build invocation and treated as immutable afterwards; later merges always
// produce new sets.
package defines

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Defines maps a flag name to a boolean, string, number or nested object
// value. Exactly one target-identity flag is meaningfully true per build;
// this is a convention upheld by callers, not enforced here.
type Defines map[string]any

// Base returns the default flag set every build starts from. All
// target-identity flags are off; callers flip exactly one of them on.
func Base() Defines {
	return Defines{
		"GENERIC":        false,
		"EXTENSION":      false,
		"CHROME":         false,
		"MOZILLA":        false,
		"MINIFIED":       false,
		"COMPONENTS":     false,
		"LIB":            false,
		"IMAGE_DECODERS": false,
		"REDUCED":        false,
		"TESTING":        false,
		"SKIP_TRANSPILE": false,
	}
}

// Merge combines the base set with zero or more override sets. Later
// overrides take precedence per key; keys absent from every override retain
// the base value; unknown keys in an override are admitted. Nested maps are
// merged recursively, everything else is last-write-wins. Inputs are never
// mutated.
func Merge(base Defines, overrides ...Defines) Defines {
	result := make(Defines, len(base))
	maps.Copy(result, base)
	for _, o := range overrides {
		for _, key := range slices.Sorted(maps.Keys(o)) {
			value := o[key]
			if existing, ok1 := result[key].(map[string]any); ok1 {
				if override, ok2 := value.(map[string]any); ok2 {
					result[key] = map[string]any(Merge(existing, override))
					continue
				}
			}
			result[key] = value
		}
	}
	return result
}

// Bool reports whether the named flag is set to boolean true.
func (d Defines) Bool(name string) bool {
	v, ok := d[name].(bool)
	return ok && v
}

// String returns the named flag as a string, or "" if unset or non-string.
func (d Defines) String(name string) string {
	v, _ := d[name].(string)
	return v
}

// Target returns the name of the active target-identity flag, or "" if none
// is set.
func (d Defines) Target() string {
	for _, name := range []string{"GENERIC", "EXTENSION", "MINIFIED", "COMPONENTS", "LIB", "IMAGE_DECODERS"} {
		if d.Bool(name) {
			return name
		}
	}
	return ""
}

// BundlerValues renders the flag set into the define map consumed by the
// bundler: every value becomes a JavaScript expression in source text form.
func (d Defines) BundlerValues() (map[string]string, error) {
	out := make(map[string]string, len(d))
	for _, key := range slices.Sorted(maps.Keys(d)) {
		bs, err := json.Marshal(d[key])
		if err != nil {
			return nil, fmt.Errorf("define %q is not representable: %w", key, err)
		}
		out["OV."+key] = string(bs)
	}
	return out, nil
}
