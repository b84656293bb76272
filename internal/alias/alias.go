// Package alias resolves the abstract module slots of the viewer source tree
// to concrete implementation files, based on the active target flags. The
// bundler consumes the resulting table as its module-alias mapping.
package alias

import (
	"path/filepath"

	"github.com/openviewer/build-plane/internal/defines"
)

// Slot names. The display-layer slots select among parallel implementations
// of network transport, localization, filesystem access and vector-graphics
// export; the viewer-UI slots select platform integration, print service and
// toolbar variants.
const (
	SlotNetwork   = "network"
	SlotL10n      = "l10n"
	SlotFS        = "fs"
	SlotSVGExport = "svgexport"
	SlotPlatform  = "platform"
	SlotPrint     = "print"
	SlotToolbar   = "toolbar"
)

var slots = []string{
	SlotNetwork, SlotL10n, SlotFS, SlotSVGExport,
	SlotPlatform, SlotPrint, SlotToolbar,
}

// Table maps each slot to a resolved absolute file path.
type Table map[string]string

// Build constructs the alias table for the given flag set. Every slot is
// resolved; targets the decision table does not recognize fall back to inert
// stub implementations so the bundle still links.
func Build(d defines.Defines, sourceRoot string) (Table, error) {
	rel := relativeTable(d)

	table := make(Table, len(rel))
	for slot, p := range rel {
		abs, err := filepath.Abs(filepath.Join(sourceRoot, filepath.FromSlash(p)))
		if err != nil {
			return nil, err
		}
		table[slot] = abs
	}
	return table, nil
}

func relativeTable(d defines.Defines) map[string]string {
	table := make(map[string]string, len(slots))
	for _, slot := range slots {
		table[slot] = stubs[slot]
	}

	switch {
	case d.Bool("EXTENSION"):
		table[SlotNetwork] = "src/display/network_native.js"
		table[SlotFS] = "src/display/fs_native.js"
		table[SlotPlatform] = "web/platform_extension.js"
		table[SlotPrint] = "web/print_service_extension.js"
		table[SlotToolbar] = "web/toolbar.js"
	case d.Bool("GENERIC"), d.Bool("MINIFIED"), d.Bool("COMPONENTS"), d.Bool("LIB"):
		table[SlotNetwork] = "src/display/network_fetch.js"
		table[SlotL10n] = "web/l10n_web.js"
		table[SlotFS] = "src/display/fs_node_compat.js"
		table[SlotSVGExport] = "src/display/svg_export.js"
		table[SlotPlatform] = "web/platform_generic.js"
		table[SlotPrint] = "web/print_service_generic.js"
		table[SlotToolbar] = "web/toolbar.js"
	}

	// The reduced-capability variant specializes a subset of the UI slots;
	// everything else it touches falls back to the unsupported stub.
	if d.Bool("REDUCED") {
		table[SlotPlatform] = "web/platform_reduced.js"
		table[SlotToolbar] = "web/toolbar_reduced.js"
		table[SlotPrint] = "web/unsupported.js"
	}

	return table
}

// stubs link for every slot regardless of target, guaranteeing totality.
var stubs = map[string]string{
	SlotNetwork:   "src/display/stubs/network.js",
	SlotL10n:      "src/display/stubs/l10n.js",
	SlotFS:        "src/display/stubs/fs.js",
	SlotSVGExport: "src/display/stubs/svg_export.js",
	SlotPlatform:  "web/stubs/platform.js",
	SlotPrint:     "web/stubs/print_service.js",
	SlotToolbar:   "web/stubs/toolbar.js",
}
