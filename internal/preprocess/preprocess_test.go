package preprocess_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openviewer/build-plane/internal/defines"
	"github.com/openviewer/build-plane/internal/fsutil"
	"github.com/openviewer/build-plane/internal/preprocess"
)

func TestProcess(t *testing.T) {
	cases := []struct {
		note string
		d    defines.Defines
		src  string
		exp  string
	}{
		{
			note: "if taken",
			d:    defines.Defines{"GENERIC": true},
			src:  "a\n//#if GENERIC\nb\n//#endif\nc",
			exp:  "a\nb\nc",
		},
		{
			note: "if skipped",
			d:    defines.Defines{"GENERIC": false},
			src:  "a\n//#if GENERIC\nb\n//#endif\nc",
			exp:  "a\nc",
		},
		{
			note: "else branch",
			d:    defines.Defines{"EXTENSION": false},
			src:  "//#if EXTENSION\nnative\n//#else\nweb\n//#endif",
			exp:  "web",
		},
		{
			note: "elif chain picks first true branch",
			d:    defines.Defines{"GENERIC": false, "MINIFIED": true, "LIB": true},
			src:  "//#if GENERIC\ng\n//#elif MINIFIED\nm\n//#elif LIB\nl\n//#endif",
			exp:  "m",
		},
		{
			note: "negation and conjunction",
			d:    defines.Defines{"GENERIC": true, "TESTING": false},
			src:  "//#if GENERIC && !TESTING\nprod\n//#endif",
			exp:  "prod",
		},
		{
			note: "undefined flag is falsy",
			d:    defines.Defines{},
			src:  "//#if NO_SUCH_FLAG\nx\n//#endif\ny",
			exp:  "y",
		},
		{
			note: "nested blocks",
			d:    defines.Defines{"GENERIC": true, "TESTING": true},
			src:  "//#if GENERIC\nouter\n//#if TESTING\ninner\n//#endif\n//#endif",
			exp:  "outer\ninner",
		},
		{
			note: "html comment style",
			d:    defines.Defines{"EXTENSION": true},
			src:  "<div>\n<!--#if EXTENSION-->\n<ext/>\n<!--#endif-->\n</div>",
			exp:  "<div>\n<ext/>\n</div>",
		},
		{
			note: "css comment style",
			d:    defines.Defines{"REDUCED": false},
			src:  "/*#if REDUCED*/\n.small {}\n/*#else*/\n.full {}\n/*#endif*/",
			exp:  ".full {}",
		},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			got, err := preprocess.New(tc.d).Process(tc.src)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.exp, got); diff != "" {
				t.Fatalf("unexpected output (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProcessErrors(t *testing.T) {
	cases := []struct {
		note string
		src  string
	}{
		{note: "missing endif", src: "//#if GENERIC\nx"},
		{note: "stray endif", src: "x\n//#endif"},
		{note: "stray else", src: "x\n//#else"},
		{note: "empty condition", src: "//#if\nx\n//#endif"},
		{note: "malformed condition", src: "//#if GENERIC &&\nx\n//#endif"},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			if _, err := preprocess.New(defines.Defines{"GENERIC": true}).Process(tc.src); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestProcessStrict(t *testing.T) {
	d := defines.Defines{"GENERIC": true}

	if _, err := preprocess.New(d).WithStrict().Process("//#if NO_SUCH_FLAG\nx\n//#endif"); err == nil {
		t.Fatal("expected error for unknown flag in strict mode")
	}

	got, err := preprocess.New(d).WithStrict().Process("//#if GENERIC && !false\nx\n//#endif")
	if err != nil {
		t.Fatal(err)
	}
	if got != "x" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestProcessUnbalancedSentinel(t *testing.T) {
	_, err := preprocess.New(defines.Defines{}).Process("//#endif")
	if !errors.Is(err, preprocess.ErrUnbalanced) {
		t.Fatalf("expected ErrUnbalanced, got %v", err)
	}
}

func TestInclude(t *testing.T) {
	includes := fsutil.MapFS(map[string]string{
		"shared/header.js": "//#if GENERIC\ngeneric header\n//#endif",
	})

	p := preprocess.New(defines.Defines{"GENERIC": true}).WithIncludes(includes)
	got, err := p.Process("//#include shared/header.js\nbody")
	if err != nil {
		t.Fatal(err)
	}
	if got != "generic header\nbody" {
		t.Fatalf("unexpected output %q", got)
	}

	if _, err := p.Process("//#include missing.js"); err == nil {
		t.Fatal("expected error for missing include")
	}
}

func TestExpandDefines(t *testing.T) {
	d := defines.Defines{"GENERIC": true, "BUNDLE_VERSION": "4.2.0"}
	got, err := preprocess.New(d).Process("const config = __DEFINES__;")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"GENERIC":true`, `"BUNDLE_VERSION":"4.2.0"`} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %s in %q", want, got)
		}
	}
}
