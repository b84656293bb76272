// Package minify rewrites already-assembled bundle files in place. It runs
// as a separate stage after target assembly: each file group is fed to the
// minifier, the minified text is written next to the original and then
// renamed over it. The rename is atomic per file, so a failure mid-stage
// leaves every not-yet-processed file valid and unminified.
package minify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/openviewer/build-plane/internal/logging"
)

// Minifier takes named source texts and returns named minified texts. Every
// input name must be present in the output.
type Minifier interface {
	Minify(ctx context.Context, sources map[string]string) (map[string]string, error)
}

// ESBuild minifies through the bundler's transform API.
type ESBuild struct{}

var _ Minifier = ESBuild{}

func (ESBuild) Minify(ctx context.Context, sources map[string]string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(sources))
	for name, text := range sources {
		result := api.Transform(text, api.TransformOptions{
			Loader:            loader(name),
			MinifyWhitespace:  true,
			MinifySyntax:      true,
			MinifyIdentifiers: true,
			Target:            api.ES2020,
			LogLevel:          api.LogLevelSilent,
		})
		if len(result.Errors) > 0 {
			msgs := api.FormatMessages(result.Errors, api.FormatMessagesOptions{Kind: api.ErrorMessage})
			return nil, fmt.Errorf("minify %s:\n%s", name, strings.Join(msgs, "\n"))
		}
		out[name] = string(result.Code)
	}
	return out, nil
}

func loader(name string) api.Loader {
	if strings.HasSuffix(name, ".css") {
		return api.LoaderCSS
	}
	return api.LoaderJS
}

// Run minifies the given file groups under dir in place. Files are read per
// group, minified together, and each result is renamed over its original.
func Run(ctx context.Context, dir string, groups [][]string, m Minifier, log *logging.Logger) error {
	for _, group := range groups {
		sources := make(map[string]string, len(group))
		for _, name := range group {
			bs, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
			if err != nil {
				return fmt.Errorf("minify: read %s: %w", name, err)
			}
			sources[name] = string(bs)
		}

		minified, err := m.Minify(ctx, sources)
		if err != nil {
			return err
		}

		for _, name := range group {
			text, ok := minified[name]
			if !ok {
				return fmt.Errorf("minifier dropped %s from its output", name)
			}
			dst := filepath.Join(dir, filepath.FromSlash(name))
			tmp := dst + ".min.tmp"
			if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
				return err
			}
			// rename replaces the pre-minified original in one step
			if err := os.Rename(tmp, dst); err != nil {
				os.Remove(tmp)
				return err
			}
			log.Debugf("minified %s (%d -> %d bytes)", name, len(sources[name]), len(text))
		}
	}
	return nil
}
