package defines_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openviewer/build-plane/internal/defines"
)

func TestMerge(t *testing.T) {
	cases := []struct {
		note      string
		base      defines.Defines
		overrides []defines.Defines
		exp       defines.Defines
	}{
		{
			note: "later override wins",
			base: defines.Defines{"GENERIC": false, "TESTING": false},
			overrides: []defines.Defines{
				{"GENERIC": true},
				{"GENERIC": false, "TESTING": true},
			},
			exp: defines.Defines{"GENERIC": false, "TESTING": true},
		},
		{
			note: "unknown keys admitted",
			base: defines.Defines{"GENERIC": false},
			overrides: []defines.Defines{
				{"BUNDLE_VERSION": "4.2.0"},
			},
			exp: defines.Defines{"GENERIC": false, "BUNDLE_VERSION": "4.2.0"},
		},
		{
			note: "nested objects merge recursively",
			base: defines.Defines{"DEFAULT_PREFERENCES": map[string]any{"sidebar": true, "zoom": "auto"}},
			overrides: []defines.Defines{
				{"DEFAULT_PREFERENCES": map[string]any{"zoom": "page-fit"}},
			},
			exp: defines.Defines{"DEFAULT_PREFERENCES": map[string]any{"sidebar": true, "zoom": "page-fit"}},
		},
		{
			note:      "no overrides returns copy of base",
			base:      defines.Defines{"LIB": true},
			overrides: nil,
			exp:       defines.Defines{"LIB": true},
		},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			result := defines.Merge(tc.base, tc.overrides...)
			if diff := cmp.Diff(tc.exp, result); diff != "" {
				t.Fatalf("unexpected merge result (-want +got):\n%s", diff)
			}
		})
	}
}

// Applying two overrides in one call must equal applying them in two
// sequential calls with the same net assignments.
func TestMergeAssociativity(t *testing.T) {
	base := defines.Base()
	o1 := defines.Defines{"GENERIC": true, "BUNDLE_VERSION": "1.0"}
	o2 := defines.Defines{"TESTING": true, "BUNDLE_VERSION": "2.0"}

	combined := defines.Merge(base, o1, o2)
	sequential := defines.Merge(defines.Merge(base, o1), o2)

	if diff := cmp.Diff(combined, sequential); diff != "" {
		t.Fatalf("merge is not associative (-combined +sequential):\n%s", diff)
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	base := defines.Defines{"GENERIC": false}
	override := defines.Defines{"GENERIC": true}

	_ = defines.Merge(base, override)

	if base["GENERIC"] != false {
		t.Fatal("base was mutated by merge")
	}

	result := defines.Merge(base, override)
	result["GENERIC"] = "changed"
	if override["GENERIC"] != true {
		t.Fatal("override aliases the merge result")
	}
}

func TestTarget(t *testing.T) {
	d := defines.Merge(defines.Base(), defines.Defines{"MINIFIED": true})
	if got := d.Target(); got != "MINIFIED" {
		t.Fatalf("expected target MINIFIED, got %q", got)
	}
	if got := defines.Base().Target(); got != "" {
		t.Fatalf("expected no target, got %q", got)
	}
}

func TestBundlerValues(t *testing.T) {
	d := defines.Defines{"GENERIC": true, "BUNDLE_VERSION": "4.2.0", "BUILD": 17}
	values, err := d.BundlerValues()
	if err != nil {
		t.Fatal(err)
	}
	exp := map[string]string{
		"OV.GENERIC":        "true",
		"OV.BUNDLE_VERSION": `"4.2.0"`,
		"OV.BUILD":          "17",
	}
	if diff := cmp.Diff(exp, values); diff != "" {
		t.Fatalf("unexpected bundler values (-want +got):\n%s", diff)
	}
}
