package bundle

import (
	"fmt"
	"regexp"
	"strings"
)

// The three passes below are pure text transforms over bundler output. Each
// is idempotent, and they commute with one another, so PostProcess may apply
// them in any order.

var loaderSymbolRe = regexp.MustCompile(`\b__require\b`)

// RenameLoaderSymbol renames the bundler's internal module-loader symbol
// with a per-bundle tag so that two bundles produced by separate invocations
// can be concatenated into one runtime without collision.
func RenameLoaderSymbol(text, tag string) string {
	return loaderSymbolRe.ReplaceAllString(text, "__"+tag+"_require")
}

// RestoreDynamicImport restores dynamic-import calls that were protected
// from the bundler behind the __raw_import__ marker.
func RestoreDynamicImport(text string) string {
	return strings.ReplaceAll(text, "__raw_import__(", "import(")
}

// ExposeLegacyGlobal exposes the bundle's primary export under a legacy
// global variable name, for consumers predating the module system. The
// trailer is only appended once.
func ExposeLegacyGlobal(text, globalName, legacyName string) string {
	if legacyName == "" || globalName == "" {
		return text
	}
	trailer := fmt.Sprintf("globalThis.%s = globalThis.%s || globalThis.%s;", legacyName, legacyName, globalName)
	if strings.Contains(text, trailer) {
		return text
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text + trailer + "\n"
}

// PostProcess applies all three passes.
func PostProcess(text, tag, globalName, legacyName string) string {
	text = RenameLoaderSymbol(text, tag)
	text = RestoreDynamicImport(text)
	return ExposeLegacyGlobal(text, globalName, legacyName)
}
