package bundle_test

import (
	"io/fs"
	"slices"
	"strings"
	"testing"

	"github.com/openviewer/build-plane/internal/bundle"
	"github.com/openviewer/build-plane/internal/defines"
	"github.com/openviewer/build-plane/internal/logging"
)

func testAssembler() *bundle.Assembler {
	return bundle.NewAssembler("testdata", logging.Discard())
}

func TestAssemble(t *testing.T) {
	d := defines.Merge(defines.Base(), defines.Defines{
		"GENERIC":        true,
		"TESTING":        true,
		"BUNDLE_VERSION": "4.2.0",
	})

	out, err := testAssembler().Assemble(t.Context(), d, bundle.Descriptor{
		Entry:      "src/main.js",
		Filename:   "viewer.js",
		GlobalName: "viewerLib",
		LegacyName: "ViewerApplication",
		Format:     bundle.FormatIIFE,
	})
	if err != nil {
		t.Fatal(err)
	}

	bs, err := fs.ReadFile(out, "viewer.js")
	if err != nil {
		t.Fatal(err)
	}
	text := string(bs)

	// alias selection flowed through: the fetch-based transport was linked
	if !strings.Contains(text, "arrayBuffer") {
		t.Error("expected fetch-based network implementation in bundle")
	}
	// defines were substituted
	if !strings.Contains(text, `"4.2.0"`) {
		t.Error("expected BUNDLE_VERSION define in bundle")
	}
	// the dynamic-import marker was restored
	if !strings.Contains(text, `import("./test-hooks.js")`) {
		t.Error("expected restored dynamic import")
	}
	if strings.Contains(text, "__raw_import__") {
		t.Error("raw import marker left in output")
	}
	// the legacy global is exposed alongside the module-system name
	if !strings.Contains(text, "globalThis.ViewerApplication = globalThis.ViewerApplication || globalThis.viewerLib;") {
		t.Error("expected legacy global trailer")
	}
}

func TestAssembleSourceMapPolicy(t *testing.T) {
	cases := []struct {
		note     string
		override defines.Defines
		expMap   bool
	}{
		{note: "generic emits map", override: defines.Defines{"GENERIC": true}, expMap: true},
		{note: "testing suppresses map", override: defines.Defines{"GENERIC": true, "TESTING": true}, expMap: false},
		{note: "minified suppresses map", override: defines.Defines{"MINIFIED": true}, expMap: false},
		{note: "extension suppresses map", override: defines.Defines{"EXTENSION": true}, expMap: false},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			d := defines.Merge(defines.Base(), tc.override)
			out, err := testAssembler().Assemble(t.Context(), d, bundle.Descriptor{
				Entry:    "src/display/svg_export.js",
				Filename: "svg.js",
			})
			if err != nil {
				t.Fatal(err)
			}
			var names []string
			if err := fs.WalkDir(out, ".", func(p string, de fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !de.IsDir() {
					names = append(names, p)
				}
				return nil
			}); err != nil {
				t.Fatal(err)
			}
			if got := slices.Contains(names, "svg.js.map"); got != tc.expMap {
				t.Fatalf("source map present=%v, expected %v (files: %v)", got, tc.expMap, names)
			}
		})
	}
}

func TestAssembleMissingEntry(t *testing.T) {
	d := defines.Merge(defines.Base(), defines.Defines{"GENERIC": true})
	_, err := testAssembler().Assemble(t.Context(), d, bundle.Descriptor{
		Entry:    "src/no_such_entry.js",
		Filename: "broken.js",
	})
	if err == nil {
		t.Fatal("expected error for missing entry file")
	}
}

const sampleOutput = `var viewer = (() => {
  var mod = __require("./core.js");
  function load() {
    return __raw_import__("./chunk.js");
  }
  return { mod, load };
})();
`

// The three post-processing passes must yield byte-identical output in any
// application order, and re-applying any pass must be a no-op.
func TestPostProcessCommutes(t *testing.T) {
	passes := map[string]func(string) string{
		"rename":  func(s string) string { return bundle.RenameLoaderSymbol(s, "viewer") },
		"restore": bundle.RestoreDynamicImport,
		"legacy":  func(s string) string { return bundle.ExposeLegacyGlobal(s, "viewer", "ViewerApplication") },
	}

	orders := [][]string{
		{"rename", "restore", "legacy"},
		{"rename", "legacy", "restore"},
		{"restore", "rename", "legacy"},
		{"restore", "legacy", "rename"},
		{"legacy", "rename", "restore"},
		{"legacy", "restore", "rename"},
	}

	var reference string
	for i, order := range orders {
		text := sampleOutput
		for _, name := range order {
			text = passes[name](text)
		}
		if i == 0 {
			reference = text
			continue
		}
		if text != reference {
			t.Fatalf("order %v diverged:\n%s\n\nreference:\n%s", order, text, reference)
		}
	}

	// idempotence: applying every pass a second time changes nothing
	again := reference
	for _, p := range passes {
		again = p(again)
	}
	if again != reference {
		t.Fatalf("passes are not idempotent:\n%s\n\nreference:\n%s", again, reference)
	}

	if !strings.Contains(reference, "__viewer_require(") {
		t.Error("loader symbol not renamed")
	}
	if strings.Contains(reference, "__raw_import__") {
		t.Error("raw import marker not restored")
	}
}

func TestRenameLoaderSymbolLeavesRenamedAlone(t *testing.T) {
	once := bundle.RenameLoaderSymbol("__require(x); __required; not__require", "worker")
	if once != "__worker_require(x); __required; not__require" {
		t.Fatalf("unexpected rename result %q", once)
	}
}
