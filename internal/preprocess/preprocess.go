// Package preprocess resolves conditional-compilation markers in viewer
// source text (JS, CSS, HTML) against a flag set. Directives appear in line
// comments:
//
//	//#if GENERIC && !TESTING
//	//#elif EXTENSION
//	//#else
//	//#endif
//	//#include shared/header.js
//
// HTML uses the <!--#if ... --> form, CSS the /*#if ... */ form. Condition
// expressions are evaluated with JavaScript semantics, with every define in
// scope as a global.
package preprocess

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/dop251/goja"

	"github.com/openviewer/build-plane/internal/defines"
)

var ErrUnbalanced = errors.New("unbalanced preprocessor directives")

// directiveRe matches a directive line in any of the three comment styles.
var directiveRe = regexp.MustCompile(`^\s*(?://|<!--|/\*)#(\w+)\s*(.*?)\s*(?:-->|\*/)?\s*$`)

var identifierRe = regexp.MustCompile(`[A-Za-z_$][\w$]*`)

var jsLiterals = map[string]bool{
	"true": true, "false": true, "null": true, "undefined": true, "typeof": true,
}

type Preprocessor struct {
	defines  defines.Defines
	includes fs.FS // resolution root for #include, may be nil
	strict   bool
}

func New(d defines.Defines) *Preprocessor {
	return &Preprocessor{defines: d}
}

// WithIncludes sets the filesystem #include paths are resolved against.
func (p *Preprocessor) WithIncludes(fsys fs.FS) *Preprocessor {
	p.includes = fsys
	return p
}

// WithStrict makes conditions referencing flags absent from the flag set an
// error instead of evaluating them as undefined.
func (p *Preprocessor) WithStrict() *Preprocessor {
	p.strict = true
	return p
}

// Process resolves all directives in src and expands the __DEFINES__
// placeholder. The output contains no directive lines.
func (p *Preprocessor) Process(src string) (string, error) {
	lines := strings.Split(src, "\n")
	out, rest, err := p.processLines(lines, false)
	if err != nil {
		return "", err
	}
	if len(rest) != 0 {
		return "", fmt.Errorf("%w: stray #endif", ErrUnbalanced)
	}
	return p.expandDefines(strings.Join(out, "\n"))
}

// processLines consumes lines until an #endif closes the current block (when
// nested is true) or input runs out. It returns the emitted lines and the
// unconsumed remainder.
func (p *Preprocessor) processLines(lines []string, nested bool) ([]string, []string, error) {
	var out []string

	for len(lines) > 0 {
		line := lines[0]
		m := directiveRe.FindStringSubmatch(line)
		if m == nil {
			out = append(out, line)
			lines = lines[1:]
			continue
		}

		directive, arg := m[1], m[2]
		switch directive {
		case "if":
			emitted, rest, err := p.processIf(arg, lines[1:])
			if err != nil {
				return nil, nil, err
			}
			out = append(out, emitted...)
			lines = rest

		case "elif", "else", "endif":
			if !nested {
				return nil, nil, fmt.Errorf("%w: #%s without #if", ErrUnbalanced, directive)
			}
			return out, lines, nil

		case "include":
			included, err := p.include(arg)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, included...)
			lines = lines[1:]

		default:
			return nil, nil, fmt.Errorf("unknown preprocessor directive #%s", directive)
		}
	}

	if nested {
		return nil, nil, fmt.Errorf("%w: missing #endif", ErrUnbalanced)
	}
	return out, nil, nil
}

// processIf handles an #if/#elif/#else/#endif chain starting after the #if
// line. Exactly one branch (or none) is emitted.
func (p *Preprocessor) processIf(condition string, lines []string) ([]string, []string, error) {
	var emitted []string
	taken := false

	branchTaken, err := p.eval(condition)
	if err != nil {
		return nil, nil, err
	}

	for {
		body, rest, err := p.processLines(lines, true)
		if err != nil {
			return nil, nil, err
		}
		if branchTaken && !taken {
			emitted = body
			taken = true
		}
		if len(rest) == 0 {
			return nil, nil, fmt.Errorf("%w: missing #endif", ErrUnbalanced)
		}

		m := directiveRe.FindStringSubmatch(rest[0])
		switch m[1] {
		case "endif":
			return emitted, rest[1:], nil
		case "else":
			branchTaken = true
			lines = rest[1:]
		case "elif":
			branchTaken, err = p.eval(m[2])
			if err != nil {
				return nil, nil, err
			}
			lines = rest[1:]
		}
	}
}

func (p *Preprocessor) include(name string) ([]string, error) {
	if p.includes == nil {
		return nil, fmt.Errorf("#include %s: no include root configured", name)
	}
	bs, err := fs.ReadFile(p.includes, name)
	if err != nil {
		return nil, fmt.Errorf("#include %s: %w", name, err)
	}
	processed, err := p.Process(string(bs))
	if err != nil {
		return nil, fmt.Errorf("#include %s: %w", name, err)
	}
	return strings.Split(processed, "\n"), nil
}

// eval evaluates a directive condition with JavaScript truthiness. Defines
// are installed as globals; names not present evaluate as undefined.
func (p *Preprocessor) eval(condition string) (bool, error) {
	if condition == "" {
		return false, errors.New("empty #if condition")
	}
	if p.strict {
		for _, name := range identifierRe.FindAllString(condition, -1) {
			if _, ok := p.defines[name]; !ok && !jsLiterals[name] {
				return false, fmt.Errorf("unknown flag %s in condition %q", name, condition)
			}
		}
	}
	vm := goja.New()
	for k, v := range p.defines {
		if err := vm.Set(k, v); err != nil {
			return false, err
		}
	}
	value, err := vm.RunString("Boolean(" + condition + ")")
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", condition, err)
	}
	return value.ToBoolean(), nil
}

// expandDefines substitutes the __DEFINES__ placeholder with an object
// literal of the active flag set.
func (p *Preprocessor) expandDefines(src string) (string, error) {
	if !strings.Contains(src, "__DEFINES__") {
		return src, nil
	}
	values, err := p.defines.BundlerValues()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("{")
	for i, k := range slices.Sorted(maps.Keys(values)) {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%q:%s", strings.TrimPrefix(k, "OV."), values[k])
	}
	b.WriteString("}")
	return strings.ReplaceAll(src, "__DEFINES__", b.String()), nil
}
