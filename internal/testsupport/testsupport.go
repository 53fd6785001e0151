// Package testsupport collects fixtures shared across this module's
// test suites: an in-memory cache provider, a fake compiler backend,
// and fake loaders for the plugin engine and the orchestrator's
// module loader. Grounded on the teacher's treex/internal/testutil
// package, which plays the same role for treex's filesystem-backed
// tests.
package testsupport

import (
	"os"

	"github.com/jwaldrip/crispy/internal/cache"
	"github.com/jwaldrip/crispy/internal/hookctx"
	"github.com/jwaldrip/crispy/internal/orchestrator"
	"github.com/jwaldrip/crispy/internal/plugin"
	"github.com/spf13/afero"
)

// NewMemCache returns a cache.FSCache backed by an in-memory
// filesystem, for tests that only exercise hash/path/validate/purge
// logic and never need a FakeCompiler's os.WriteFile output to be
// visible through the same Fs.
func NewMemCache(dir string) *cache.FSCache {
	c, err := cache.NewFSCache(dir, cache.WithFs(afero.NewMemMapFs()))
	if err != nil {
		panic(err) // construction against a mem-fs cannot fail
	}
	return c
}

// NewOSCache returns a cache.FSCache rooted at dir on the real
// filesystem, for tests combining it with FakeCompiler (which writes
// artifacts via os.WriteFile and therefore needs the cache provider
// to see them through the same filesystem).
func NewOSCache(dir string) *cache.FSCache {
	c, err := cache.NewFSCache(dir)
	if err != nil {
		panic(err)
	}
	return c
}

// FakeCompiler is a compiler.Backend that "compiles" by writing a
// fixed marker to the output path, recording every compile-flags
// string it was invoked with.
type FakeCompiler struct {
	VersionToken string
	Flags        string
	Compiled     []string
	CompileErr   error
}

func (f *FakeCompiler) Version() string   { return f.VersionToken }
func (f *FakeCompiler) BaseFlags() string { return f.Flags }

func (f *FakeCompiler) CompileShared(sourcePath, outputPath, extraFlags string) error {
	f.Compiled = append(f.Compiled, extraFlags)
	if f.CompileErr != nil {
		return f.CompileErr
	}
	return os.WriteFile(outputPath, []byte("fake-shared-artifact"), 0o644)
}

func (f *FakeCompiler) CompileExecutable(sourcePath, outputPath, extraFlags string) error {
	f.Compiled = append(f.Compiled, extraFlags)
	if f.CompileErr != nil {
		return f.CompileErr
	}
	return os.WriteFile(outputPath, []byte("fake-executable"), 0o644)
}

// FakeModule is an orchestrator.Module that records the argv it was
// called with and returns a preset exit code.
type FakeModule struct {
	ExitCode int
	CallErr  error
	ArgvSeen []string
	Closed   bool
}

func (m *FakeModule) CallEntry(argv []string) (int, error) {
	m.ArgvSeen = argv
	return m.ExitCode, m.CallErr
}

func (m *FakeModule) Close() error {
	m.Closed = true
	return nil
}

// FakeModuleLoader always resolves to the same FakeModule, so tests
// can exercise the orchestrator without a real compiled .so.
type FakeModuleLoader struct {
	Module  *FakeModule
	LoadErr error
}

func (f FakeModuleLoader) Load(path string) (orchestrator.Module, error) {
	if f.LoadErr != nil {
		return nil, f.LoadErr
	}
	return f.Module, nil
}

// FakePluginLoader resolves a canned plugin.Entry per path.
type FakePluginLoader struct {
	Entries map[string]*plugin.Entry
}

func (f FakePluginLoader) Load(path string) (*plugin.Entry, error) {
	return f.Entries[path], nil
}

// HookEntry builds a minimal plugin.Entry implementing a single hook,
// with a no-op Close.
func HookEntry(name string, point hookctx.HookPoint, fn plugin.HookFunc) *plugin.Entry {
	return &plugin.Entry{
		Descriptor: plugin.Descriptor{Name: name},
		Hooks:      map[hookctx.HookPoint]plugin.HookFunc{point: fn},
		Close:      func() error { return nil },
	}
}
