// Package target drives the per-target assembly pipelines. A target names a
// distribution flavor of the viewer (generic web build, minified production
// build, embeddable components, image-decoder subset, library build, browser
// extensions); each pipeline wipes the previous output, fans out bundle
// assembly and static-asset collection, joins the resulting virtual trees
// and flushes them under the output root.
package target

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/yalue/merged_fs"
	"golang.org/x/sync/errgroup"

	"github.com/openviewer/build-plane/internal/archive"
	"github.com/openviewer/build-plane/internal/bundle"
	"github.com/openviewer/build-plane/internal/config"
	"github.com/openviewer/build-plane/internal/defines"
	"github.com/openviewer/build-plane/internal/fsutil"
	"github.com/openviewer/build-plane/internal/logging"
	"github.com/openviewer/build-plane/internal/metrics"
	"github.com/openviewer/build-plane/internal/minify"
	"github.com/openviewer/build-plane/internal/prefs"
	"github.com/openviewer/build-plane/internal/preprocess"
	"github.com/openviewer/build-plane/internal/version"
)

// Output layout of an assembled target.
const (
	bundleDir = "build"
	assetDir  = "web"
)

// prefsSource is the preferences source file, relative to the source root.
const prefsSource = "web/preferences.js"

// Names returns the known target names in build order.
func Names() []string {
	return []string{
		"generic",
		"minified",
		"components",
		"image-decoders",
		"lib",
		"extension-chrome",
		"extension-mozilla",
	}
}

// pipeline describes how one target is assembled.
type pipeline struct {
	flags    defines.Defines
	bundles  []bundle.Descriptor
	sandbox  bool   // two-phase scripting/sandbox build
	assets   bool   // collect static web assets
	prefs    bool   // extract default preferences
	minify   bool   // in-place minification stage after flush
	manifest string // platform preferences schema, relative to the source root
}

var (
	mainBundle = bundle.Descriptor{
		Entry:      "src/main.js",
		Filename:   "viewer.js",
		GlobalName: "openviewerLib",
		LegacyName: "OpenViewer",
	}
	workerBundle = bundle.Descriptor{
		Entry:      "src/worker.js",
		Filename:   "viewer.worker.js",
		GlobalName: "openviewerWorker",
	}
	scriptingBundle = bundle.Descriptor{
		Entry:    "src/scripting.js",
		Filename: "scripting.js",
	}
	sandboxBundle = bundle.Descriptor{
		Entry:      "src/sandbox.js",
		Filename:   "viewer.sandbox.js",
		GlobalName: "openviewerSandbox",
	}
	componentsBundle = bundle.Descriptor{
		Entry:      "src/components.js",
		Filename:   "viewer_components.js",
		GlobalName: "openviewerComponents",
	}
	imageDecodersBundle = bundle.Descriptor{
		Entry:      "src/image_decoders.js",
		Filename:   "viewer.image_decoders.js",
		GlobalName: "openviewerImageDecoders",
	}
)

func libBundle(d bundle.Descriptor) bundle.Descriptor {
	d.Format = bundle.FormatESM
	d.GlobalName = ""
	d.LegacyName = ""
	return d
}

var pipelines = map[string]pipeline{
	"generic": {
		flags:   defines.Defines{"GENERIC": true},
		bundles: []bundle.Descriptor{mainBundle, workerBundle},
		sandbox: true,
		assets:  true,
		prefs:   true,
	},
	"minified": {
		flags:   defines.Defines{"GENERIC": true, "MINIFIED": true},
		bundles: []bundle.Descriptor{mainBundle, workerBundle},
		sandbox: true,
		assets:  true,
		prefs:   true,
		minify:  true,
	},
	"components": {
		flags:   defines.Defines{"COMPONENTS": true, "GENERIC": true},
		bundles: []bundle.Descriptor{componentsBundle},
	},
	"image-decoders": {
		flags:   defines.Defines{"IMAGE_DECODERS": true},
		bundles: []bundle.Descriptor{imageDecodersBundle},
	},
	"lib": {
		flags:   defines.Defines{"LIB": true, "GENERIC": true},
		bundles: []bundle.Descriptor{libBundle(mainBundle), libBundle(workerBundle)},
	},
	"extension-chrome": {
		flags:    defines.Defines{"EXTENSION": true, "CHROME": true},
		bundles:  []bundle.Descriptor{mainBundle, workerBundle},
		sandbox:  true,
		assets:   true,
		prefs:    true,
		manifest: "extensions/chromium/preferences_schema.json",
	},
	"extension-mozilla": {
		flags:    defines.Defines{"EXTENSION": true, "MOZILLA": true},
		bundles:  []bundle.Descriptor{mainBundle, workerBundle},
		sandbox:  true,
		assets:   true,
		prefs:    true,
		manifest: "extensions/mozilla/preferences_schema.json",
	},
}

// Builder runs target pipelines against one configuration.
type Builder struct {
	cfg      *config.Root
	log      *logging.Logger
	minifier minify.Minifier
}

func New(cfg *config.Root, log *logging.Logger) *Builder {
	return &Builder{cfg: cfg, log: log, minifier: minify.ESBuild{}}
}

// WithMinifier overrides the minification stage implementation.
func (b *Builder) WithMinifier(m minify.Minifier) *Builder {
	b.minifier = m
	return b
}

// OutputDir returns the directory a target is assembled into.
func (b *Builder) OutputDir(name string) string {
	return filepath.Join(b.cfg.OutputRoot, name)
}

// Build assembles one named target from scratch.
func (b *Builder) Build(ctx context.Context, name string) error {
	start := time.Now()
	err := b.build(ctx, name)

	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.TargetBuildCount.WithLabelValues(name, result).Inc()
	metrics.TargetBuildDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err == nil {
		b.log.Infof("built target %s in %v", name, time.Since(start).Round(time.Millisecond))
	}
	return err
}

// BuildAll assembles the named targets in order, stopping at the first
// failure.
func (b *Builder) BuildAll(ctx context.Context, names []string) error {
	for _, name := range names {
		if err := b.Build(ctx, name); err != nil {
			return fmt.Errorf("target %s: %w", name, err)
		}
	}
	return nil
}

func (b *Builder) build(ctx context.Context, name string) error {
	p, ok := pipelines[name]
	if !ok {
		return fmt.Errorf("unknown target %q", name)
	}

	d := defines.Merge(defines.Base(), defines.Defines(b.cfg.Defines), p.flags)
	var tc *config.Target
	if b.cfg.Targets != nil {
		tc = b.cfg.Targets[name]
	}
	if tc != nil {
		d = defines.Merge(d, defines.Defines(tc.Defines))
	}

	outDir := b.OutputDir(name)
	if err := fsutil.Wipe(outDir); err != nil {
		return fmt.Errorf("wipe %s: %w", outDir, err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	// Stamp the resolved version into the bundles.
	vd := version.Resolve(b.cfg.SourceRoot, b.cfg.VersionPrefix, b.log)
	d = defines.Merge(d, defines.Defines{
		"BUNDLE_VERSION": vd.Version,
		"BUNDLE_BUILD":   vd.Commit,
	})

	asm := bundle.NewAssembler(b.cfg.SourceRoot, b.log.WithName(name))

	// Fan out the assembly steps. Each step lands in its own subtree, so the
	// branches never write the same path and the join below cannot conflict.
	var (
		mu    sync.Mutex
		parts []fs.FS
	)
	collect := func(prefix string, fsys fs.FS) error {
		prefixed, err := fsutil.Prefix(prefix, fsys)
		if err != nil {
			return err
		}
		mu.Lock()
		parts = append(parts, prefixed)
		mu.Unlock()
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, desc := range p.bundles {
		g.Go(func() error {
			out, err := asm.Assemble(ctx, d, desc)
			if err != nil {
				return err
			}
			return collect(bundleDir, out)
		})
	}

	if p.sandbox {
		g.Go(func() error {
			out, err := asm.AssembleSandbox(ctx, d, scriptingBundle, sandboxBundle)
			if err != nil {
				return err
			}
			return collect(bundleDir, out)
		})
	}

	if p.assets {
		g.Go(func() error {
			assets, err := b.assetTree(tc, d)
			if err != nil {
				return err
			}
			return collect(assetDir, assets)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	merged := merged_fs.MergeMultiple(parts...)
	if ok, err := fsutil.FSContainsFiles(merged); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("target %s assembled no files", name)
	}
	if err := fsutil.WriteFS(merged, outDir); err != nil {
		return fmt.Errorf("flush %s: %w", outDir, err)
	}

	if err := version.Write(vd, outDir); err != nil {
		return err
	}

	if p.prefs {
		snapshot, err := prefs.ExtractFile(filepath.Join(b.cfg.SourceRoot, filepath.FromSlash(prefsSource)), d)
		if err != nil {
			return err
		}
		if err := prefs.Write(snapshot, outDir); err != nil {
			return err
		}
		if p.manifest != "" {
			if err := b.checkManifest(name, p.manifest, snapshot); err != nil {
				return err
			}
		}
	}

	if p.minify {
		groups := minifyGroups(p)
		if err := minify.Run(ctx, outDir, groups, b.minifier, b.log); err != nil {
			return err
		}
	}

	if tc != nil && tc.Archive {
		// the archive name carries the stamp persisted to the output tree
		stamped, err := version.Read(outDir)
		if err != nil {
			return err
		}
		zipPath := filepath.Join(b.cfg.OutputRoot, fmt.Sprintf("%s-%s.zip", name, stamped.Version))
		if err := archive.Write(outDir, zipPath); err != nil {
			return err
		}
		b.log.Infof("packaged %s", zipPath)
	}

	return nil
}

// checkManifest validates the preferences snapshot against the target's
// platform manifest schema. Divergence is warned about, not fatal; a missing
// schema file skips the check.
func (b *Builder) checkManifest(name, manifest string, snapshot map[string]any) error {
	bs, err := os.ReadFile(filepath.Join(b.cfg.SourceRoot, filepath.FromSlash(manifest)))
	if errors.Is(err, fs.ErrNotExist) {
		b.log.Debugf("target %s: no platform manifest at %s", name, manifest)
		return nil
	}
	if err != nil {
		return err
	}
	ok, err := prefs.CheckManifest(snapshot, bs, b.log)
	if err != nil {
		return fmt.Errorf("manifest check for %s: %w", name, err)
	}
	if !ok {
		b.log.Warnf("target %s: preferences diverge from %s", name, manifest)
	}
	return nil
}

// assetTree collects the static web assets, minus the source files that only
// feed the bundler and anything the target excludes. CSS and HTML assets are
// run through the preprocessor so shipped files contain no conditional
// blocks for other targets.
func (b *Builder) assetTree(tc *config.Target, d defines.Defines) (fs.FS, error) {
	excluded := []string{"**.js"}
	if tc != nil {
		excluded = append(excluded, tc.ExcludedAssets...)
	}
	filtered, err := fsutil.NewFilterFS(os.DirFS(filepath.Join(b.cfg.SourceRoot, "web")), nil, excluded)
	if err != nil {
		return nil, err
	}

	pp := preprocess.New(d)
	out := map[string]string{}
	err = fs.WalkDir(filtered, ".", func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			return nil
		}
		bs, err := fs.ReadFile(filtered, p)
		if err != nil {
			return err
		}
		text := string(bs)
		switch path.Ext(p) {
		case ".css", ".html", ".htm":
			if text, err = pp.Process(text); err != nil {
				return fmt.Errorf("preprocess asset %s: %w", p, err)
			}
		}
		out[p] = text
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fsutil.MapFS(out), nil
}

// minifyGroups lists the finished bundle files the minification stage
// rewrites, one group per bundle.
func minifyGroups(p pipeline) [][]string {
	var groups [][]string
	for _, desc := range p.bundles {
		groups = append(groups, []string{bundleDir + "/" + desc.Filename})
	}
	if p.sandbox {
		groups = append(groups, []string{bundleDir + "/" + sandboxBundle.Filename})
	}
	return groups
}
