// Package bundle assembles the logical build artifacts (main library,
// worker, viewer UI, scripting sandbox, embeddable components, image-decoder
// subset) by invoking the bundler with the merged flag set and alias table,
// and post-processing its textual output.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/openviewer/build-plane/internal/alias"
	"github.com/openviewer/build-plane/internal/defines"
	"github.com/openviewer/build-plane/internal/fsutil"
	"github.com/openviewer/build-plane/internal/logging"
	"github.com/openviewer/build-plane/internal/metrics"
)

// Format selects the module format of an assembled bundle.
type Format int

const (
	FormatIIFE Format = iota
	FormatESM
)

// Descriptor names one logical artifact and how it is exported.
type Descriptor struct {
	Entry      string // entry file, relative to the source root
	Filename   string // output file name, e.g. "viewer.js"
	GlobalName string // module-system export name
	LegacyName string // legacy global exposed in addition to GlobalName, optional
	Format     Format
}

// Assembler invokes the bundler for one flag set at a time. It is stateless
// across Assemble calls; every call derives its configuration afresh.
type Assembler struct {
	sourceRoot string
	log        *logging.Logger

	// test seam, runs between the scripting artifact reaching disk and its
	// content being read back
	beforeScriptingRead func(path string)
}

func NewAssembler(sourceRoot string, log *logging.Logger) *Assembler {
	return &Assembler{sourceRoot: sourceRoot, log: log}
}

// Assemble bundles one artifact and returns its output as a virtual file
// set. Source maps are suppressed for targets that forbid external map
// files (testing, minified and extension builds) and emitted otherwise. The
// transpilation pass for older runtimes is skipped when SKIP_TRANSPILE is
// set.
func (a *Assembler) Assemble(ctx context.Context, d defines.Defines, desc Descriptor) (fs.FS, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	table, err := alias.Build(d, a.sourceRoot)
	if err != nil {
		return nil, err
	}

	values, err := d.BundlerValues()
	if err != nil {
		return nil, err
	}

	opts := api.BuildOptions{
		EntryPoints:   []string{path.Join(a.sourceRoot, desc.Entry)},
		Outfile:       desc.Filename,
		Bundle:        true,
		Write:         false,
		GlobalName:    desc.GlobalName,
		Format:        format(desc.Format),
		Define:        values,
		Alias:         aliasMap(table),
		Sourcemap:     sourcemap(d),
		Target:        target(d),
		LegalComments: api.LegalCommentsNone,
		LogLevel:      api.LogLevelSilent,
	}

	result := api.Build(opts)
	if len(result.Errors) > 0 {
		msgs := api.FormatMessages(result.Errors, api.FormatMessagesOptions{Kind: api.ErrorMessage})
		metrics.BundleBuildFailed.WithLabelValues(desc.Filename).Inc()
		return nil, fmt.Errorf("bundler failed for %s:\n%s", desc.Filename, strings.Join(msgs, "\n"))
	}
	for _, msg := range api.FormatMessages(result.Warnings, api.FormatMessagesOptions{Kind: api.WarningMessage}) {
		a.log.Warnf("bundler: %s", strings.TrimSpace(msg))
	}

	out := make(map[string]string, len(result.OutputFiles))
	for _, f := range result.OutputFiles {
		name := path.Base(f.Path)
		text := string(f.Contents)
		if name == desc.Filename {
			text = PostProcess(text, symbolTag(desc.Filename), desc.GlobalName, desc.LegacyName)
		}
		out[name] = text
	}

	metrics.BundleBuildDuration.WithLabelValues(desc.Filename).Observe(time.Since(start).Seconds())
	a.log.Debugf("assembled bundle %s (%d output files)", desc.Filename, len(out))
	return fsutil.MapFS(out), nil
}

var errNoOutput = errors.New("bundler produced no output")

// readBundle extracts the named file from an assembled output stream.
func readBundle(fsys fs.FS, name string) (string, error) {
	bs, err := fs.ReadFile(fsys, name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", errNoOutput, name)
	}
	return string(bs), nil
}

// symbolTag derives the per-bundle loader-symbol suffix from the output file
// name: "viewer.js" becomes "viewer".
func symbolTag(filename string) string {
	tag := strings.TrimSuffix(filename, path.Ext(filename))
	return strings.NewReplacer(".", "_", "-", "_").Replace(tag)
}

func format(f Format) api.Format {
	if f == FormatESM {
		return api.FormatESModule
	}
	return api.FormatIIFE
}

// sourcemap policy: production-embedded and test targets forbid external
// map files.
func sourcemap(d defines.Defines) api.SourceMap {
	if d.Bool("TESTING") || d.Bool("MINIFIED") || d.Bool("EXTENSION") {
		return api.SourceMapNone
	}
	return api.SourceMapLinked
}

func target(d defines.Defines) api.Target {
	if d.Bool("SKIP_TRANSPILE") {
		return api.ESNext
	}
	return api.ES2020
}

func aliasMap(table alias.Table) map[string]string {
	m := make(map[string]string, len(table))
	for slot, p := range table {
		m["viewer-"+slot] = p
	}
	return m
}
