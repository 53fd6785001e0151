package orchestrator_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jwaldrip/crispy/internal/cache"
	"github.com/jwaldrip/crispy/internal/config"
	"github.com/jwaldrip/crispy/internal/hookctx"
	"github.com/jwaldrip/crispy/internal/orchestrator"
	"github.com/jwaldrip/crispy/internal/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompiler struct {
	version     string
	compileErr  error
	compiled    []string
	baseFlags   string
}

func (f *fakeCompiler) Version() string   { return f.version }
func (f *fakeCompiler) BaseFlags() string { return f.baseFlags }
func (f *fakeCompiler) CompileShared(sourcePath, outputPath, extraFlags string) error {
	f.compiled = append(f.compiled, extraFlags)
	if f.compileErr != nil {
		return f.compileErr
	}
	return os.WriteFile(outputPath, []byte("artifact"), 0o644)
}
func (f *fakeCompiler) CompileExecutable(sourcePath, outputPath, extraFlags string) error {
	return os.WriteFile(outputPath, []byte("exe"), 0o644)
}

type fakeCache struct {
	dir   string
	valid bool
}

func (c *fakeCache) ComputeHash(sourceBytes []byte, sourceLen int, extraFlags, compilerVersion string) string {
	return extraFlags + "|" + compilerVersion
}
func (c *fakeCache) PathForHash(hexDigest string) string {
	return filepath.Join(c.dir, hexDigest+".so")
}
func (c *fakeCache) Validate(hexDigest, sourcePath string) (bool, error) { return c.valid, nil }
func (c *fakeCache) Purge() error                                       { return nil }
func (c *fakeCache) Dir() string                                        { return c.dir }

type fakeModule struct {
	exitCode int
	callErr  error
	argvSeen []string
	closed   bool
}

func (m *fakeModule) CallEntry(argv []string) (int, error) {
	m.argvSeen = argv
	return m.exitCode, m.callErr
}
func (m *fakeModule) Close() error { m.closed = true; return nil }

type fakeModuleLoader struct {
	module  *fakeModule
	loadErr error
}

func (f fakeModuleLoader) Load(path string) (orchestrator.Module, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.module, nil
}

// fakePluginLoader resolves canned plugin.Entry values by path,
// letting orchestrator hook dispatch be exercised end to end.
type fakePluginLoader struct {
	entries map[string]*plugin.Entry
}

func (f fakePluginLoader) Load(path string) (*plugin.Entry, error) {
	return f.entries[path], nil
}

func newSourceFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.c")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestCacheHitSkipsCompilePhases(t *testing.T) {
	path := newSourceFile(t, "int x;\n")
	comp := &fakeCompiler{version: "v1"}
	cacheDir := t.TempDir()
	c := &fakeCache{dir: cacheDir, valid: true}
	mod := &fakeModule{exitCode: 7}

	o, err := orchestrator.NewFromFile(path, []string{"prog"}, orchestrator.Options{
		Compiler:     comp,
		Cache:        c,
		ModuleLoader: fakeModuleLoader{module: mod},
	})
	require.NoError(t, err)
	defer o.Close()

	res, err := o.Run()
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode)
	assert.Empty(t, comp.compiled)
}

func TestCacheMissCompilesThenExecutes(t *testing.T) {
	path := newSourceFile(t, "int x;\n")
	comp := &fakeCompiler{version: "v1"}
	cacheDir := t.TempDir()
	c := &fakeCache{dir: cacheDir, valid: false}
	mod := &fakeModule{exitCode: 0}

	o, err := orchestrator.NewFromFile(path, []string{"prog", "arg1"}, orchestrator.Options{
		Compiler:     comp,
		Cache:        c,
		ModuleLoader: fakeModuleLoader{module: mod},
	})
	require.NoError(t, err)
	defer o.Close()

	res, err := o.Run()
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Len(t, comp.compiled, 1)
	assert.Equal(t, []string{"prog", "arg1"}, mod.argvSeen)
}

func TestOnTempFileReportsInFlightPathThenClears(t *testing.T) {
	path := newSourceFile(t, "int x;\n")
	comp := &fakeCompiler{version: "v1"}
	c := &fakeCache{dir: t.TempDir(), valid: false}
	mod := &fakeModule{exitCode: 0}

	var seen []string
	o, err := orchestrator.NewFromFile(path, nil, orchestrator.Options{
		Compiler:     comp,
		Cache:        c,
		ModuleLoader: fakeModuleLoader{module: mod},
		OnTempFile:   func(p string) { seen = append(seen, p) },
	})
	require.NoError(t, err)

	_, err = o.Run()
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.NotEmpty(t, seen[0])

	require.NoError(t, o.Close())
	require.Len(t, seen, 2)
	assert.Empty(t, seen[1])
}

func TestDryRunShortCircuitsBeforeCompile(t *testing.T) {
	path := newSourceFile(t, "int x;\n")
	comp := &fakeCompiler{version: "v1"}
	c := &fakeCache{dir: t.TempDir(), valid: false}

	o, err := orchestrator.NewFromFile(path, nil, orchestrator.Options{
		Compiler: comp,
		Cache:    c,
		Mode:     orchestrator.ModeFlags{DryRun: true},
	})
	require.NoError(t, err)
	defer o.Close()

	res, err := o.Run()
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	require.NotNil(t, res.DryRun)
	assert.NotEmpty(t, res.DryRun.Command)
	assert.Empty(t, comp.compiled)
}

func TestConfigDefaultFlagsChangeTheHash(t *testing.T) {
	path := newSourceFile(t, "int x;\n")
	comp := &fakeCompiler{version: "v1"}
	c1 := &fakeCache{dir: t.TempDir(), valid: false}
	mod1 := &fakeModule{}

	o1, err := orchestrator.NewFromFile(path, nil, orchestrator.Options{
		Compiler:     comp,
		Cache:        c1,
		ModuleLoader: fakeModuleLoader{module: mod1},
		Config:       &config.State{DefaultFlags: "-lm"},
	})
	require.NoError(t, err)
	defer o1.Close()
	_, err = o1.Run()
	require.NoError(t, err)

	c2 := &fakeCache{dir: t.TempDir(), valid: false}
	mod2 := &fakeModule{}
	o2, err := orchestrator.NewFromFile(path, nil, orchestrator.Options{
		Compiler:     comp,
		Cache:        c2,
		ModuleLoader: fakeModuleLoader{module: mod2},
	})
	require.NoError(t, err)
	defer o2.Close()
	_, err = o2.Run()
	require.NoError(t, err)

	// Different default-flag strings produce different compile flags,
	// which this fake cache folds into its hash computation.
	assert.NotEqual(t, comp.compiled[0], comp.compiled[1])
}

func TestPluginAbortAtPreExecuteSurfacesError(t *testing.T) {
	path := newSourceFile(t, "int x;\n")
	comp := &fakeCompiler{version: "v1"}
	c := &fakeCache{dir: t.TempDir(), valid: true}
	mod := &fakeModule{}

	abortEntry := &plugin.Entry{
		Descriptor: plugin.Descriptor{Name: "guard"},
		Hooks: map[hookctx.HookPoint]plugin.HookFunc{
			hookctx.PreExecute: func(ctx *hookctx.Context) hookctx.Result {
				ctx.Err = assertError("refusing to run untrusted script")
				return hookctx.Abort
			},
		},
		Close: func() error { return nil },
	}
	engine := plugin.NewEngine(fakePluginLoader{entries: map[string]*plugin.Entry{"guard.so": abortEntry}})
	require.NoError(t, engine.Load("guard.so"))

	o, err := orchestrator.NewFromFile(path, nil, orchestrator.Options{
		Compiler:     comp,
		Cache:        c,
		ModuleLoader: fakeModuleLoader{module: mod},
		Plugins:      engine,
	})
	require.NoError(t, err)
	defer o.Close()

	res, err := o.Run()
	require.Error(t, err)
	assert.Equal(t, "refusing to run untrusted script", err.Error())
	assert.Equal(t, orchestrator.ErrExitCode, res.ExitCode)
}

func TestCacheCheckedHookForcesRecompile(t *testing.T) {
	path := newSourceFile(t, "int x;\n")
	comp := &fakeCompiler{version: "v1"}
	c := &fakeCache{dir: t.TempDir(), valid: true}
	mod := &fakeModule{}

	forceEntry := &plugin.Entry{
		Descriptor: plugin.Descriptor{Name: "forcer"},
		Hooks: map[hookctx.HookPoint]plugin.HookFunc{
			hookctx.CacheChecked: func(ctx *hookctx.Context) hookctx.Result {
				return hookctx.ForceRecompile
			},
		},
		Close: func() error { return nil },
	}
	engine := plugin.NewEngine(fakePluginLoader{entries: map[string]*plugin.Entry{"forcer.so": forceEntry}})
	require.NoError(t, engine.Load("forcer.so"))

	o, err := orchestrator.NewFromFile(path, nil, orchestrator.Options{
		Compiler:     comp,
		Cache:        c,
		ModuleLoader: fakeModuleLoader{module: mod},
		Plugins:      engine,
	})
	require.NoError(t, err)
	defer o.Close()

	res, err := o.Run()
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Len(t, comp.compiled, 1)
}

func TestCloseRemovesTempSourceUnlessPreserved(t *testing.T) {
	path := newSourceFile(t, "int x;\n")
	comp := &fakeCompiler{version: "v1"}
	c := &fakeCache{dir: t.TempDir(), valid: false}
	mod := &fakeModule{}

	var preservedPath string
	o, err := orchestrator.NewFromFile(path, nil, orchestrator.Options{
		Compiler:     comp,
		Cache:        c,
		ModuleLoader: fakeModuleLoader{module: mod},
		Mode:         orchestrator.ModeFlags{PreserveSource: true},
		OnTempFile: func(p string) {
			if p != "" {
				preservedPath = p
			}
		},
	})
	require.NoError(t, err)

	_, err = o.Run()
	require.NoError(t, err)
	require.NoError(t, o.Close())
	assert.True(t, mod.closed)
	assert.FileExists(t, preservedPath)
	os.Remove(preservedPath)

	var removedPath string
	o2, err := orchestrator.NewFromFile(path, nil, orchestrator.Options{
		Compiler:     comp,
		Cache:        c,
		ModuleLoader: fakeModuleLoader{module: &fakeModule{}},
		OnTempFile: func(p string) {
			if p != "" {
				removedPath = p
			}
		},
	})
	require.NoError(t, err)

	_, err = o2.Run()
	require.NoError(t, err)
	require.NoError(t, o2.Close())
	require.NotEmpty(t, removedPath)
	assert.NoFileExists(t, removedPath)
}

func TestInlineConstructionWrapsFragmentAndHasNoDirective(t *testing.T) {
	comp := &fakeCompiler{version: "v1"}
	c := &fakeCache{dir: t.TempDir(), valid: false}
	mod := &fakeModule{}

	var tempPath string
	o, err := orchestrator.NewInline("return 0;", []string{"math.h"}, nil, orchestrator.Options{
		Compiler:     comp,
		Cache:        c,
		ModuleLoader: fakeModuleLoader{module: mod},
		OnTempFile: func(p string) {
			if p != "" {
				tempPath = p
			}
		},
	})
	require.NoError(t, err)
	defer o.Close()

	res, err := o.Run()
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	written, err := os.ReadFile(tempPath)
	require.NoError(t, err)
	assert.Contains(t, string(written), "#include <math.h>\n")
	assert.Contains(t, string(written), "int "+orchestrator.EntrySymbol+"(int argc, char **argv) {\nreturn 0;\n}\n")
	require.Len(t, comp.compiled, 1)
	assert.Equal(t, "", comp.compiled[0], "no directive, so no directive flags")
}

func TestStdinConstructionReadsToEOF(t *testing.T) {
	comp := &fakeCompiler{version: "v1"}
	c := &fakeCache{dir: t.TempDir(), valid: false}
	mod := &fakeModule{}

	r, w, err := os.Pipe()
	require.NoError(t, err)
	go func() {
		w.WriteString("int x;\n")
		w.Close()
	}()

	o, err := orchestrator.NewFromStdin(r, nil, orchestrator.Options{
		Compiler:     comp,
		Cache:        c,
		ModuleLoader: fakeModuleLoader{module: mod},
	})
	require.NoError(t, err)
	defer o.Close()

	res, err := o.Run()
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}

type assertError string

func (e assertError) Error() string { return string(e) }

// ensure cache provider test double satisfies the interface statically.
var _ cache.Provider = (*fakeCache)(nil)
