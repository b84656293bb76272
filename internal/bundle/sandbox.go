package bundle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/openviewer/build-plane/internal/defines"
)

// ErrScriptingMissing is returned when the intermediate scripting artifact
// cannot be read back. The sandbox build aborts rather than proceeding with
// an empty define.
var ErrScriptingMissing = errors.New("scripting bundle missing")

// AssembleSandbox builds the isolated scripting-execution bundle in two
// phases. The scripting bundle is compiled to a scoped temporary location;
// once it has reached disk its text is read back and injected as the
// SCRIPTING_SOURCE define into the sandbox bundle's flag set, and the
// temporary artifact is deleted. The sandbox build does not start until the
// scripting content has been captured.
//
// The temporary directory is cleaned up on every exit path; the captured
// content is passed by value into the second phase.
func (a *Assembler) AssembleSandbox(ctx context.Context, d defines.Defines, scripting, sandbox Descriptor) (fs.FS, error) {
	scriptingOut, err := a.Assemble(ctx, d, scripting)
	if err != nil {
		return nil, fmt.Errorf("scripting bundle: %w", err)
	}
	text, err := readBundle(scriptingOut, scripting.Filename)
	if err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp("", "ovbuild-scripting-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	tmpFile := filepath.Join(tmpDir, scripting.Filename)
	if err := os.WriteFile(tmpFile, []byte(text), 0o644); err != nil {
		return nil, err
	}

	if a.beforeScriptingRead != nil {
		a.beforeScriptingRead(tmpFile)
	}

	captured, err := os.ReadFile(tmpFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScriptingMissing, err)
	}
	if len(captured) == 0 {
		return nil, fmt.Errorf("%w: artifact is empty", ErrScriptingMissing)
	}

	// Content is captured; the intermediate artifact is deleted exactly once
	// before the sandbox configuration is assembled.
	if err := os.RemoveAll(tmpDir); err != nil {
		return nil, err
	}

	sandboxDefines := defines.Merge(d, defines.Defines{
		"SCRIPTING_SOURCE": string(captured),
	})

	out, err := a.Assemble(ctx, sandboxDefines, sandbox)
	if err != nil {
		return nil, fmt.Errorf("sandbox bundle: %w", err)
	}
	return out, nil
}
