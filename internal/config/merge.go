package config

import (
	"bytes"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"slices"

	"github.com/goccy/go-yaml"
)

// Merge combines the configuration documents found under the given files or
// directories into one document. Later documents take precedence per key;
// nested mappings merge recursively. With conflictError set, differing
// values for the same path are an error instead.
func Merge(configFiles []string, conflictError bool) ([]byte, error) {
	merged := map[string]any{}

	for _, f := range configFiles {
		err := filepath.WalkDir(f, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			doc, err := readDocument(p)
			if err != nil {
				return err
			}
			return mergeInto(merged, doc, "", conflictError)
		})
		if err != nil {
			return nil, err
		}
	}

	bs, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged configuration: %w", err)
	}
	return bs, nil
}

// readDocument loads one configuration file as a generic mapping. An empty
// file contributes nothing.
func readDocument(path string) (map[string]any, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %v: %w", path, err)
	}
	doc := map[string]any{}
	if len(bytes.TrimSpace(bs)) == 0 {
		return doc, nil
	}
	if err := yaml.Unmarshal(bs, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration file %v: %w", path, err)
	}
	return doc, nil
}

// mergeInto folds doc into dst. Keys are visited in sorted order so conflict
// errors are deterministic.
func mergeInto(dst, doc map[string]any, path string, conflictError bool) error {
	for _, key := range slices.Sorted(maps.Keys(doc)) {
		value := doc[key]
		existing, seen := dst[key]

		dstMap, dstIsMap := existing.(map[string]any)
		srcMap, srcIsMap := value.(map[string]any)
		if seen && dstIsMap && srcIsMap {
			if err := mergeInto(dstMap, srcMap, path+"/"+key, conflictError); err != nil {
				return err
			}
			continue
		}

		if seen && conflictError && !reflect.DeepEqual(existing, value) {
			return fmt.Errorf("conflict for config path %s", path+"/"+key)
		}
		dst[key] = value
	}
	return nil
}
