// Package config defines the build configuration for the viewer packaging
// pipeline: project identity, version prefix, source and output roots, and
// per-target define overrides.
package config

import (
	"cmp"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sort"

	"github.com/gobwas/glob"
	"github.com/goccy/go-yaml"
)

// Root is the top-level build configuration.
type Root struct {
	Project       string             `json:"project,omitempty"`
	VersionPrefix string             `json:"version_prefix,omitempty"`
	SourceRoot    string             `json:"source_root,omitempty"`
	OutputRoot    string             `json:"output_root,omitempty"`
	Defines       map[string]any     `json:"defines,omitempty"`
	Targets       map[string]*Target `json:"targets,omitempty"`
	Server        *Server            `json:"server,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// Target holds per-target overrides on top of the global configuration.
type Target struct {
	Name           string         `json:"name"`
	Defines        map[string]any `json:"defines,omitempty"`
	ExcludedAssets StringSet      `json:"excluded_assets,omitempty"`
	Archive        bool           `json:"archive,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// Server configures the development file server.
type Server struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

type StringSet []string

// Parse decodes a configuration document (YAML or JSON) and applies
// defaults. Target names are injected from their map keys.
func Parse(bs []byte) (*Root, error) {
	var root Root
	if len(bs) > 0 {
		if err := yaml.Unmarshal(bs, &root); err != nil {
			return nil, fmt.Errorf("failed to decode configuration: %w", err)
		}
	}
	if err := root.unmarshal(); err != nil {
		return nil, err
	}
	return &root, nil
}

func (r *Root) unmarshal() error {
	r.SourceRoot = cmp.Or(r.SourceRoot, ".")
	r.OutputRoot = cmp.Or(r.OutputRoot, "build")

	for name := range r.Targets {
		r.Targets[name] = cmp.Or(r.Targets[name], &Target{})
		r.Targets[name].Name = name
		if err := r.Targets[name].validate(); err != nil {
			return err
		}
	}

	if r.Server == nil {
		r.Server = &Server{}
	}
	r.Server.Host = cmp.Or(r.Server.Host, "localhost")
	r.Server.Port = cmp.Or(r.Server.Port, 8888)

	return nil
}

func (t *Target) validate() error {
	for _, pattern := range t.ExcludedAssets {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("target %q: failed to compile asset pattern %q: %w", t.Name, pattern, err)
		}
	}
	return nil
}

// SortedTargets yields targets in name order for deterministic builds.
func (r *Root) SortedTargets() iter.Seq2[int, *Target] {
	names := slices.Collect(maps.Keys(r.Targets))
	sort.Strings(names)

	return func(yield func(int, *Target) bool) {
		for i, name := range names {
			if !yield(i, r.Targets[name]) {
				return
			}
		}
	}
}
