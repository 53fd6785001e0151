// Package compiler defines the compiler backend capability (spec
// §4.2) and a default driver that shells out to a system C compiler,
// the way the teacher's pkg/edit packages shell out to an editor.
package compiler

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/jwaldrip/crispy/internal/crispyerr"
	"github.com/jwaldrip/crispy/internal/logx"
)

// Backend is the capability trait spec §4.2 and the Design Notes
// call "polymorphism without inheritance": a compiler capability
// {get_version, get_base_flags, compile_shared, compile_executable}.
type Backend interface {
	// Version returns an opaque token that changes whenever the
	// compiler's output would change. Feeds the cache key.
	Version() string
	// BaseFlags returns the flags needed to satisfy the embedded
	// runtime's default dependency set, computed once and cached.
	BaseFlags() string
	// CompileShared compiles source into a position-independent
	// shared artifact suitable for dynamic loading.
	CompileShared(sourcePath, outputPath, extraFlags string) error
	// CompileExecutable compiles source into a debuggable standalone
	// executable (symbols retained, optimization disabled).
	CompileExecutable(sourcePath, outputPath, extraFlags string) error
}

// CCDriver is the default Backend, driving a system C compiler
// (cc/gcc/clang) and a pkg-config-style metadata tool for base flags.
type CCDriver struct {
	cc         string
	dialect    string
	pkgConfig  string
	pkgModules string

	version   string
	baseFlags string

	log *logx.Logger
}

// Option configures a CCDriver at construction.
type Option func(*CCDriver)

// WithPkgConfig overrides the package-metadata tool and the module
// list passed to it when computing base flags.
func WithPkgConfig(tool, modules string) Option {
	return func(d *CCDriver) {
		d.pkgConfig = tool
		d.pkgModules = modules
	}
}

// WithDialect overrides the language-dialect flag (default "-std=gnu11").
func WithDialect(dialect string) Option {
	return func(d *CCDriver) { d.dialect = dialect }
}

// WithLogger attaches a logger; defaults to logx.Get().
func WithLogger(l *logx.Logger) Option {
	return func(d *CCDriver) { d.log = l }
}

// NewCCDriver locates the compiler binary (failing with
// ToolchainNotFound if it can't be found), probes its version, and
// computes base flags once.
func NewCCDriver(cc string, opts ...Option) (*CCDriver, error) {
	if cc == "" {
		cc = defaultCC()
	}

	d := &CCDriver{
		cc:         cc,
		dialect:    "-std=gnu11",
		pkgConfig:  "pkg-config",
		pkgModules: "",
		log:        logx.Get(),
	}
	for _, opt := range opts {
		opt(d)
	}

	path, err := exec.LookPath(d.cc)
	if err != nil {
		return nil, crispyerr.ToolchainNotFoundError(d.cc, err)
	}
	d.cc = path

	version, err := probeVersion(d.cc)
	if err != nil {
		return nil, crispyerr.ToolchainNotFoundError(d.cc, err)
	}
	d.version = version

	d.baseFlags = d.computeBaseFlags()

	return d, nil
}

func defaultCC() string {
	if v := os.Getenv("CC"); v != "" {
		return v
	}
	return "cc"
}

func probeVersion(cc string) (string, error) {
	cmd := exec.Command(cc, "--version")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	lines := strings.SplitN(string(out), "\n", 2)
	return strings.TrimSpace(lines[0]), nil
}

// computeBaseFlags consults the package-metadata tool, if configured
// with modules, for the embedded runtime's default dependency set.
// Failure to locate pkg-config or the requested modules degrades to
// an empty base-flags string rather than failing construction.
func (d *CCDriver) computeBaseFlags() string {
	if d.pkgModules == "" {
		return ""
	}
	if _, err := exec.LookPath(d.pkgConfig); err != nil {
		d.log.Warn().Str("tool", d.pkgConfig).Msg("package-metadata tool not found, using empty base flags")
		return ""
	}

	cflags := runPkgConfig(d.pkgConfig, "--cflags", d.pkgModules)
	libs := runPkgConfig(d.pkgConfig, "--libs", d.pkgModules)
	return strings.TrimSpace(strings.Join([]string{cflags, libs}, " "))
}

func runPkgConfig(tool, flag, modules string) string {
	cmd := exec.Command(tool, append([]string{flag}, strings.Fields(modules)...)...)
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func (d *CCDriver) Version() string   { return d.version }
func (d *CCDriver) BaseFlags() string { return d.baseFlags }

// CCPath returns the resolved compiler binary path. Callers that want
// to preview a compile command (e.g. dry-run reporting) can check for
// this optional capability rather than assuming a binary name.
func (d *CCDriver) CCPath() string { return d.cc }

// Dialect returns the language-dialect flag this driver compiles with.
func (d *CCDriver) Dialect() string { return d.dialect }

// CompileShared runs:
//
//	<cc> <dialect> -shared -fPIC <base-flags> <extra-flags> -o <output> <source>
func (d *CCDriver) CompileShared(sourcePath, outputPath, extraFlags string) error {
	return d.compile(sourcePath, outputPath, extraFlags, []string{"-shared", "-fPIC"})
}

// CompileExecutable runs:
//
//	<cc> <dialect> -g -O0 <base-flags> <extra-flags> -o <output> <source>
func (d *CCDriver) CompileExecutable(sourcePath, outputPath, extraFlags string) error {
	return d.compile(sourcePath, outputPath, extraFlags, []string{"-g", "-O0"})
}

func (d *CCDriver) compile(sourcePath, outputPath, extraFlags string, modeFlags []string) error {
	args := []string{d.dialect}
	args = append(args, modeFlags...)
	args = append(args, splitNonEmpty(d.baseFlags)...)
	args = append(args, splitNonEmpty(extraFlags)...)
	args = append(args, "-o", outputPath, sourcePath)

	cmd := exec.Command(d.cc, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	cmdline := d.cc + " " + strings.Join(args, " ")
	d.log.Debug().Str("cmd", cmdline).Msg("invoking compiler")

	if err := cmd.Run(); err != nil {
		return crispyerr.CompileError(cmdline, stderr.String())
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Mode().IsDir() {
		return crispyerr.CompileError(cmdline, fmt.Sprintf("compiler exited 0 but %s is not a regular file", outputPath))
	}

	return nil
}

func splitNonEmpty(s string) []string {
	fields := strings.Fields(s)
	if fields == nil {
		return []string{}
	}
	return fields
}
