// Package orchestrator implements the script orchestrator (spec
// §4.6): the pipeline that ties source utilities, the compiler
// backend, the cache provider, and the plugin engine together into a
// fixed phase sequence, each phase followed by a hook dispatch.
//
// The phase-by-phase shape with an options struct and a result struct
// mirrors the teacher's pkg/app.RenderAnnotatedTree: a single
// entry-point function walking numbered phases, returning a result
// type rather than scattering state across globals.
package orchestrator

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jwaldrip/crispy/internal/cache"
	"github.com/jwaldrip/crispy/internal/compiler"
	"github.com/jwaldrip/crispy/internal/config"
	"github.com/jwaldrip/crispy/internal/crispyerr"
	"github.com/jwaldrip/crispy/internal/hookctx"
	"github.com/jwaldrip/crispy/internal/logx"
	"github.com/jwaldrip/crispy/internal/plugin"
	"github.com/jwaldrip/crispy/internal/sourcefile"
)

// EntrySymbol is the well-known entry-symbol name spec §6 requires
// ("a single well-known entry-symbol name ... signature matches a
// conventional C-style main").
const EntrySymbol = "main"

// ErrExitCode is the sentinel negative value returned on any error
// path (spec §4.6's "or a sentinel negative value on any error path").
const ErrExitCode = -1

// defaultIncludes is the fixed set of #include directives prepended
// to an inline fragment (spec §4.6 construction mode (b)).
var defaultIncludes = []string{"stdio.h", "stdlib.h", "string.h"}

// ModeFlags is the abstract mode-flag set spec §6 names: force_compile,
// preserve_source, dry_run, debug_launch. Surface syntax belongs to
// the front end; the orchestrator only consumes the booleans.
type ModeFlags struct {
	ForceCompile   bool
	PreserveSource bool
	DryRun         bool
	DebugLaunch    bool
}

// Module is a loaded, entry-resolved artifact (spec §4.6 phases
// 10-12): the dynamic loader has already resolved EntrySymbol by the
// time a Module is returned.
type Module interface {
	// CallEntry invokes the entry symbol with argv and returns its
	// integer return value.
	CallEntry(argv []string) (int, error)
	// Close releases the dynamic library handle.
	Close() error
}

// ModuleLoader opens a compiled shared artifact and resolves its
// entry symbol. Tests substitute a fake so the pipeline can be
// exercised without a real compiled .so.
type ModuleLoader interface {
	Load(path string) (Module, error)
}

// DebugLauncher transfers control to an external debugger with a
// compiled executable and the script argv (spec §4.6 phase 7). The
// default implementation replaces the current process via exec(3)
// and therefore never returns on success.
type DebugLauncher interface {
	Launch(debugger, execPath string, argv []string) error
}

// DryRunInfo is what phase 6 ("print the intended compile and exit")
// reports back to the caller instead of printing directly, so the
// front end can style it (SPEC_FULL.md's structured dry-run output
// supplement).
type DryRunInfo struct {
	Command   string
	CachePath string
	Hash      string
}

// Options configures an Orchestrator. Compiler and Cache are
// mandatory; Plugins, Config, Debugger, ModuleLoader, DebugLauncher,
// OnTempFile, and Log may be nil/zero.
type Options struct {
	Compiler compiler.Backend
	Cache    cache.Provider
	Plugins  *plugin.Engine
	Config   *config.State

	Mode     ModeFlags
	Debugger string

	ModuleLoader  ModuleLoader
	DebugLauncher DebugLauncher

	// OnTempFile, if set, is called with the in-flight temp source path
	// right after it is created, and with "" once it is no longer in
	// flight (orchestrator Close). The front end wires this to a
	// frontend.TempFileGuard so a terminating signal can unlink it
	// (spec §4.7, §5 "Cancellation").
	OnTempFile func(path string)

	Log *logx.Logger
}

// Result is what Run returns: the propagated exit code (or
// ErrExitCode on failure), and, on a dry-run short-circuit, the
// preview instead of having executed anything.
type Result struct {
	ExitCode int
	DryRun   *DryRunInfo
}

// Orchestrator drives one script through the pipeline. Not safe for
// concurrent use (spec §5: "An orchestrator instance is not
// shareable across threads").
type Orchestrator struct {
	opts Options
	log  *logx.Logger

	source     *sourcefile.Source
	sourcePath string // empty for inline/stdin
	scriptArgv []string

	tempSourcePath string
	module         Module
}

// NewFromFile builds an orchestrator from a file path (construction
// mode (a)): read the file, parse the directive, strip the header.
func NewFromFile(path string, scriptArgv []string, opts Options) (*Orchestrator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, crispyerr.IOError("reading source file "+path, err)
	}
	o := newOrchestrator(opts)
	o.source = sourcefile.NewSource(string(raw))
	o.sourcePath = path
	o.scriptArgv = scriptArgv
	return o, nil
}

// NewInline builds an orchestrator from an inline fragment
// (construction mode (b)): synthesize source text from the default
// includes plus any extraIncludes, wrap fragment as the body of
// EntrySymbol. The synthesized text has no directive and no shebang.
func NewInline(fragment string, extraIncludes []string, scriptArgv []string, opts Options) (*Orchestrator, error) {
	o := newOrchestrator(opts)
	o.source = sourcefile.NewSource(synthesizeInline(fragment, extraIncludes))
	o.scriptArgv = scriptArgv
	return o, nil
}

// NewFromStdin builds an orchestrator from the standard-input stream
// (construction mode (c)): read to EOF, then treat exactly like a
// file with no path.
func NewFromStdin(r io.Reader, scriptArgv []string, opts Options) (*Orchestrator, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, crispyerr.IOError("reading standard input", err)
	}
	o := newOrchestrator(opts)
	o.source = sourcefile.NewSource(string(raw))
	o.scriptArgv = scriptArgv
	return o, nil
}

func newOrchestrator(opts Options) *Orchestrator {
	if opts.ModuleLoader == nil {
		opts.ModuleLoader = defaultModuleLoader{}
	}
	if opts.DebugLauncher == nil {
		opts.DebugLauncher = defaultDebugLauncher{}
	}
	log := opts.Log
	if log == nil {
		log = logx.Get()
	}
	return &Orchestrator{opts: opts, log: log}
}

func synthesizeInline(fragment string, extraIncludes []string) string {
	var b strings.Builder
	for _, inc := range defaultIncludes {
		b.WriteString("#include <" + inc + ">\n")
	}
	for _, inc := range extraIncludes {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		b.WriteString("#include <" + inc + ">\n")
	}
	b.WriteString("int " + EntrySymbol + "(int argc, char **argv) {\n")
	b.WriteString(fragment)
	b.WriteString("\n}\n")
	return b.String()
}

// resolvedCompileCommand previews the compile invocation Phase 8 would
// run, reporting the compiler's actual resolved binary and dialect
// when it exposes them (degrading to "cc"/"-std=gnu11" otherwise) and
// folding in its base flags alongside the resolved extra flags.
func (o *Orchestrator) resolvedCompileCommand(cachePath, extraFlags string) string {
	ccPath, dialect := "cc", "-std=gnu11"
	if d, ok := o.opts.Compiler.(interface{ CCPath() string }); ok {
		ccPath = d.CCPath()
	}
	if d, ok := o.opts.Compiler.(interface{ Dialect() string }); ok {
		dialect = d.Dialect()
	}
	args := joinNonEmpty(dialect, "-shared -fPIC", o.opts.Compiler.BaseFlags(), extraFlags)
	return fmt.Sprintf("%s %s -o %s %s", ccPath, args, cachePath, o.tempSourcePath)
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// Run executes the full phase sequence (spec §4.6).
func (o *Orchestrator) Run() (*Result, error) {
	ctx := hookctx.New()
	ctx.SourcePath = o.sourcePath
	ctx.CompilerVersion = o.opts.Compiler.Version()
	if dp, ok := o.opts.Cache.(interface{ Dir() string }); ok {
		ctx.CacheDir = dp.Dir()
	}

	defaultFlags, overrideFlags := "", ""
	if o.opts.Config != nil {
		defaultFlags = o.opts.Config.DefaultFlags
		overrideFlags = o.opts.Config.OverrideFlags
	}

	timed := func(name string, fn func()) {
		start := time.Now()
		fn()
		ctx.PhaseTimings[name] = time.Since(start)
	}

	// Phase 1: source loaded.
	ctx.EffectiveSource = o.source.Effective
	ctx.EffectiveLen = o.source.EffectiveLen
	var dispatchResult hookctx.Result
	timed("source_loaded", func() {
		dispatchResult = o.opts.Plugins.Dispatch(hookctx.SourceLoaded, ctx)
	})
	if r, err := o.handleDispatch(dispatchResult, ctx); err != nil {
		return r, err
	}
	if ctx.EffectiveSource != o.source.Effective {
		o.source.Effective = ctx.EffectiveSource
		o.source.EffectiveLen = ctx.EffectiveLen
	}

	// Phase 2: params expanded.
	expanded, err := sourcefile.ShellExpand(o.source.Directive)
	if err != nil {
		return &Result{ExitCode: ErrExitCode}, err
	}
	timed("params_expanded", func() {
		dispatchResult = o.opts.Plugins.Dispatch(hookctx.ParamsExpanded, ctx)
	})
	if r, err := o.handleDispatch(dispatchResult, ctx); err != nil {
		return r, err
	}

	// Phase 3: hash computed.
	hashFlags := joinNonEmpty(defaultFlags, expanded, overrideFlags)
	ctx.Hash = o.opts.Cache.ComputeHash([]byte(o.source.Original), -1, hashFlags, ctx.CompilerVersion)
	timed("hash_computed", func() {
		dispatchResult = o.opts.Plugins.Dispatch(hookctx.HashComputed, ctx)
	})
	if r, err := o.handleDispatch(dispatchResult, ctx); err != nil {
		return r, err
	}

	// Phase 4: cache checked.
	hit := false
	if !o.opts.Mode.ForceCompile {
		valid, err := o.opts.Cache.Validate(ctx.Hash, o.sourcePath)
		if err != nil {
			return &Result{ExitCode: ErrExitCode}, err
		}
		hit = valid
	}
	timed("cache_checked", func() {
		dispatchResult = o.opts.Plugins.Dispatch(hookctx.CacheChecked, ctx)
	})
	if r, err := o.handleDispatch(dispatchResult, ctx); err != nil {
		return r, err
	}
	if dispatchResult == hookctx.ForceRecompile || ctx.ForceRecompile {
		hit = false
	}

	cachePath := o.opts.Cache.PathForHash(ctx.Hash)

	if !hit {
		// Phase 5: temp source write.
		tmp, err := os.CreateTemp("", "crispy-src-*.c")
		if err != nil {
			return &Result{ExitCode: ErrExitCode}, crispyerr.IOError("creating temp source", err)
		}
		if _, err := tmp.WriteString(o.source.Effective); err != nil {
			tmp.Close()
			return &Result{ExitCode: ErrExitCode}, crispyerr.IOError("writing temp source", err)
		}
		tmp.Close()
		o.tempSourcePath = tmp.Name()
		if o.opts.OnTempFile != nil {
			o.opts.OnTempFile(o.tempSourcePath)
		}

		// Phase 6: dry-run short-circuit.
		if o.opts.Mode.DryRun {
			cmd := o.resolvedCompileCommand(cachePath, hashFlags)
			return &Result{ExitCode: 0, DryRun: &DryRunInfo{Command: cmd, CachePath: cachePath, Hash: ctx.Hash}}, nil
		}

		// Phase 7: debug short-circuit.
		if o.opts.Mode.DebugLaunch {
			execPath := cachePath + ".debug"
			if err := o.opts.Compiler.CompileExecutable(o.tempSourcePath, execPath, hashFlags); err != nil {
				return &Result{ExitCode: ErrExitCode}, err
			}
			if err := o.opts.DebugLauncher.Launch(o.opts.Debugger, execPath, o.scriptArgv); err != nil {
				return &Result{ExitCode: ErrExitCode}, err
			}
			return &Result{ExitCode: 0}, nil
		}

		// Phase 8: pre-compile.
		timed("pre_compile", func() {
			dispatchResult = o.opts.Plugins.Dispatch(hookctx.PreCompile, ctx)
		})
		if r, err := o.handleDispatch(dispatchResult, ctx); err != nil {
			return r, err
		}
		compileFlags := joinNonEmpty(defaultFlags, expanded, ctx.ExtraFlags, overrideFlags)
		if err := o.opts.Compiler.CompileShared(o.tempSourcePath, cachePath, compileFlags); err != nil {
			return &Result{ExitCode: ErrExitCode}, err
		}
		if toucher, ok := o.opts.Cache.(interface{ Touch(string) error }); ok {
			_ = toucher.Touch(ctx.Hash)
		}

		// Phase 9: post-compile.
		timed("post_compile", func() {
			dispatchResult = o.opts.Plugins.Dispatch(hookctx.PostCompile, ctx)
		})
		if r, err := o.handleDispatch(dispatchResult, ctx); err != nil {
			return r, err
		}
	}

	// Phase 10: module load.
	module, err := o.opts.ModuleLoader.Load(cachePath)
	if err != nil {
		return &Result{ExitCode: ErrExitCode}, err
	}
	o.module = module

	// Phase 11: module loaded.
	timed("module_loaded", func() {
		dispatchResult = o.opts.Plugins.Dispatch(hookctx.ModuleLoaded, ctx)
	})
	if r, err := o.handleDispatch(dispatchResult, ctx); err != nil {
		return r, err
	}

	// Phase 12 (resolve entry) is folded into ModuleLoader.Load: a
	// missing entry surfaces as a NoEntry error from Load itself.

	// Phase 13: pre-execute.
	ctx.Argv = o.scriptArgv
	timed("pre_execute", func() {
		dispatchResult = o.opts.Plugins.Dispatch(hookctx.PreExecute, ctx)
	})
	if r, err := o.handleDispatch(dispatchResult, ctx); err != nil {
		return r, err
	}

	// Phase 14: execute.
	var exitCode int
	timed("execute", func() {
		exitCode, err = o.module.CallEntry(ctx.Argv)
	})
	if err != nil {
		return &Result{ExitCode: ErrExitCode}, err
	}
	ctx.ExitCode = exitCode

	// Phase 15: post-execute.
	timed("post_execute", func() {
		dispatchResult = o.opts.Plugins.Dispatch(hookctx.PostExecute, ctx)
	})
	if r, err := o.handleDispatch(dispatchResult, ctx); err != nil {
		return r, err
	}

	return &Result{ExitCode: exitCode}, nil
}

// handleDispatch maps a non-Continue dispatch result to the
// orchestrator's error-path contract: an Abort surfaces ctx.Err (or a
// generic message if the plugin didn't set one) as the failure
// reason.
func (o *Orchestrator) handleDispatch(result hookctx.Result, ctx *hookctx.Context) (*Result, error) {
	if result != hookctx.Abort {
		return nil, nil
	}
	if ctx.Err != nil {
		return &Result{ExitCode: ErrExitCode}, ctx.Err
	}
	return &Result{ExitCode: ErrExitCode}, crispyerr.PluginError("pipeline aborted by plugin", nil)
}

// Close implements spec §4.6's lifecycle: close the loaded module (if
// any), remove the temp source file (unless preserve_source is set),
// and drop references.
func (o *Orchestrator) Close() error {
	var errs []string

	if o.module != nil {
		if err := o.module.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		o.module = nil
	}

	if o.tempSourcePath != "" {
		if !o.opts.Mode.PreserveSource {
			if err := os.Remove(o.tempSourcePath); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err.Error())
			}
		}
		o.tempSourcePath = ""
		if o.opts.OnTempFile != nil {
			o.opts.OnTempFile("")
		}
	}

	if len(errs) > 0 {
		return crispyerr.IOError("closing orchestrator: "+strings.Join(errs, "; "), nil)
	}
	return nil
}
