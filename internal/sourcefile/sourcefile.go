// Package sourcefile implements the three pure text operations spec
// §4.1 calls "source utilities": extracting the embedded directive,
// stripping the shebang/directive header to produce the effective
// source, and shell-expanding the directive's raw value.
package sourcefile

import (
	"bufio"
	"bytes"
	"os"
	"os/exec"
	"strings"

	"github.com/jwaldrip/crispy/internal/crispyerr"
)

// DirectivePrefix is the recognized #define name (spec §3, §6).
const DirectivePrefix = "CRISPY_PARAMS"

// MaxDirectiveLength is the implementation-defined cap on a directive
// value's length; spec §6 requires at least 8192 bytes.
const MaxDirectiveLength = 1 << 20

// Source is the in-memory triple spec §3 calls a "source artifact".
type Source struct {
	// Original is the text the cache hash is computed over.
	Original string
	// Directive is the extracted CRISPY_PARAMS value, if any.
	Directive string
	HasDirective bool
	// Effective is Original with the shebang and first directive line removed.
	Effective string
	// EffectiveLen is len(Effective) in bytes, kept alongside the string
	// per spec §4.1's "return both the string and its byte length".
	EffectiveLen int
}

// ExtractDirective scans line by line for the first line whose
// leading-whitespace-stripped text begins with "#define" and contains
// the DirectivePrefix token anywhere. The directive value is the
// substring between the first '"' after that prefix and the last '"'
// on the same line. Only the first match counts; later duplicate
// directive lines are left untouched by StripHeader.
//
// This is a literal line scan, not a tokenizer: a directive line inside
// a block comment opened on an earlier line still matches, by design
// (spec §9). A line that itself begins with "/*" does not match.
func ExtractDirective(text string) (value string, ok bool) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<24)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimLeft(line, " \t")
		if !strings.HasPrefix(trimmed, "#define") {
			continue
		}
		if !strings.Contains(trimmed, DirectivePrefix) {
			continue
		}
		idx := strings.IndexByte(trimmed, '"')
		if idx < 0 {
			continue
		}
		rest := trimmed[idx+1:]
		end := strings.LastIndexByte(rest, '"')
		if end < 0 {
			continue
		}
		val := rest[:end]
		if len(val) > MaxDirectiveLength {
			val = val[:MaxDirectiveLength]
		}
		return val, true
	}
	return "", false
}

// isDirectiveLine reports whether line matches the same shape
// ExtractDirective looks for, regardless of which (if any) quoted
// value it carries.
func isDirectiveLine(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	return strings.HasPrefix(trimmed, "#define") && strings.Contains(trimmed, DirectivePrefix)
}

// StripHeader produces the effective source: a line-wise copy of text
// with the optional shebang line (line 1, if it begins "#!") and the
// first directive-shaped line removed. All other lines, including
// later directive-shaped lines, are preserved verbatim with a trailing
// newline on every preserved line.
func StripHeader(text string) (string, int) {
	var out bytes.Buffer
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<24)

	lineNo := 0
	directiveDropped := false
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if lineNo == 1 && strings.HasPrefix(line, "#!") {
			continue
		}
		if !directiveDropped && isDirectiveLine(line) {
			directiveDropped = true
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}

	effective := out.String()
	return effective, len(effective)
}

// NewSource builds a Source from raw file/inline/stdin text.
func NewSource(text string) *Source {
	directive, ok := ExtractDirective(text)
	effective, n := StripHeader(text)
	return &Source{
		Original:     text,
		Directive:    directive,
		HasDirective: ok,
		Effective:    effective,
		EffectiveLen: n,
	}
}

// ReadFile reads path and builds its Source, the way construction
// mode (a) of the orchestrator does.
func ReadFile(path string) (*Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, crispyerr.IOError("reading source file "+path, err)
	}
	return NewSource(string(raw)), nil
}

// ShellExpand runs value through a subshell (`printf '%s ' <value>`)
// so command substitutions and parameter expansion are honored. An
// empty or absent value yields the empty string without spawning a
// shell. A trailing space is requested from printf so that word-split
// results from command substitutions survive trimming; the returned
// string is trimmed of surrounding whitespace.
//
// The directive value is interpolated into the shell command by
// concatenation, matching the observed upstream behavior: a directive
// containing a double quote produces a malformed command. This is
// treated as an input constraint, not a bug to paper over (spec §9).
func ShellExpand(value string) (string, error) {
	if value == "" {
		return "", nil
	}

	cmd := exec.Command("/bin/sh", "-c", `printf '%s ' `+value)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", crispyerr.ParamsError(stderr.String(), err)
	}

	return strings.TrimSpace(stdout.String()), nil
}
