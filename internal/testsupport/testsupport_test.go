package testsupport_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jwaldrip/crispy/internal/hookctx"
	"github.com/jwaldrip/crispy/internal/orchestrator"
	"github.com/jwaldrip/crispy/internal/plugin"
	"github.com/jwaldrip/crispy/internal/testsupport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSourceFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prog.c")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestHookInjectedFlagExcludedFromHash exercises spec §8 scenario 7:
// a PreCompile hook injects an extra compiler flag; the flag changes
// what's compiled but not the cache key, so a second run without the
// plugin still hits cache (same source, same config, same compiler
// version all hash identically).
func TestHookInjectedFlagExcludedFromHash(t *testing.T) {
	path := newSourceFile(t, "int x;\n")
	c := testsupport.NewOSCache(t.TempDir())
	comp := &testsupport.FakeCompiler{VersionToken: "fake-cc-1.0"}

	injectFlag := testsupport.HookEntry("inject", hookctx.PreCompile, func(ctx *hookctx.Context) hookctx.Result {
		ctx.ExtraFlags = "-DINJECTED"
		return hookctx.Continue
	})
	engine := plugin.NewEngine(testsupport.FakePluginLoader{Entries: map[string]*plugin.Entry{"inject.so": injectFlag}})
	require.NoError(t, engine.Load("inject.so"))

	mod1 := &testsupport.FakeModule{}
	o1, err := orchestrator.NewFromFile(path, nil, orchestrator.Options{
		Compiler:     comp,
		Cache:        c,
		Plugins:      engine,
		ModuleLoader: testsupport.FakeModuleLoader{Module: mod1},
	})
	require.NoError(t, err)
	res1, err := o1.Run()
	require.NoError(t, err)
	require.NoError(t, o1.Close())
	assert.Equal(t, 0, res1.ExitCode)
	require.Len(t, comp.Compiled, 1)
	assert.Equal(t, "-DINJECTED", comp.Compiled[0])

	// Second run, no plugin engine this time: same source, same
	// compiler version, same (empty) config flags -> same hash -> the
	// artifact the first run wrote under that hash is still valid, so
	// no second compile happens even though the first compile used a
	// flag this run never supplies.
	mod2 := &testsupport.FakeModule{}
	o2, err := orchestrator.NewFromFile(path, nil, orchestrator.Options{
		Compiler:     comp,
		Cache:        c,
		ModuleLoader: testsupport.FakeModuleLoader{Module: mod2},
	})
	require.NoError(t, err)
	res2, err := o2.Run()
	require.NoError(t, err)
	require.NoError(t, o2.Close())
	assert.Equal(t, 0, res2.ExitCode)
	assert.Len(t, comp.Compiled, 1, "second run must hit cache, not recompile")
}

// TestForceCompileThenCacheHit exercises spec §8 scenario 1: a first
// run under force_compile always recompiles; a second run without it
// hits the cache the first run populated.
func TestForceCompileThenCacheHit(t *testing.T) {
	path := newSourceFile(t, "int x;\n")
	c := testsupport.NewOSCache(t.TempDir())
	comp := &testsupport.FakeCompiler{VersionToken: "fake-cc-1.0"}

	mod1 := &testsupport.FakeModule{ExitCode: 3}
	o1, err := orchestrator.NewFromFile(path, nil, orchestrator.Options{
		Compiler:     comp,
		Cache:        c,
		Mode:         orchestrator.ModeFlags{ForceCompile: true},
		ModuleLoader: testsupport.FakeModuleLoader{Module: mod1},
	})
	require.NoError(t, err)
	res1, err := o1.Run()
	require.NoError(t, err)
	require.NoError(t, o1.Close())
	assert.Equal(t, 3, res1.ExitCode)
	assert.Len(t, comp.Compiled, 1)

	mod2 := &testsupport.FakeModule{ExitCode: 3}
	o2, err := orchestrator.NewFromFile(path, nil, orchestrator.Options{
		Compiler:     comp,
		Cache:        c,
		ModuleLoader: testsupport.FakeModuleLoader{Module: mod2},
	})
	require.NoError(t, err)
	res2, err := o2.Run()
	require.NoError(t, err)
	require.NoError(t, o2.Close())
	assert.Equal(t, 3, res2.ExitCode)
	assert.Len(t, comp.Compiled, 1, "second run must hit cache")
}

// TestCompileErrorSurfacesDriverStderr exercises spec §8 scenario:
// the compiler backend's failure is surfaced with its command line
// and captured diagnostics, not swallowed.
func TestCompileErrorSurfacesDriverStderr(t *testing.T) {
	path := newSourceFile(t, "int x;\n")
	c := testsupport.NewOSCache(t.TempDir())
	comp := &testsupport.FakeCompiler{
		VersionToken: "fake-cc-1.0",
		CompileErr:   assertError("command \"cc -shared prog.c\" failed: undefined reference to `sqrt'"),
	}

	o, err := orchestrator.NewFromFile(path, nil, orchestrator.Options{
		Compiler:     comp,
		Cache:        c,
		ModuleLoader: testsupport.FakeModuleLoader{Module: &testsupport.FakeModule{}},
	})
	require.NoError(t, err)
	defer o.Close()

	res, err := o.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined reference")
	assert.Equal(t, orchestrator.ErrExitCode, res.ExitCode)
}

type assertError string

func (e assertError) Error() string { return string(e) }
