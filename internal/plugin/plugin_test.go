package plugin_test

import (
	"testing"

	"github.com/jwaldrip/crispy/internal/hookctx"
	"github.com/jwaldrip/crispy/internal/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLoader resolves a canned Entry per path, letting the dispatch
// and ordering logic be exercised without compiling real native
// plugins.
type fakeLoader struct {
	entries map[string]*plugin.Entry
}

func (f fakeLoader) Load(path string) (*plugin.Entry, error) {
	e, ok := f.entries[path]
	if !ok {
		return nil, assertError(path)
	}
	return e, nil
}

type assertError string

func (e assertError) Error() string { return "no fake entry for " + string(e) }

func hookEntry(name string, hooks map[hookctx.HookPoint]plugin.HookFunc) *plugin.Entry {
	return &plugin.Entry{
		Descriptor: plugin.Descriptor{Name: name},
		Hooks:      hooks,
		Close:      func() error { return nil },
	}
}

func TestDispatchOrderEqualsLoadOrder(t *testing.T) {
	var order []string
	mk := func(name string) plugin.HookFunc {
		return func(ctx *hookctx.Context) hookctx.Result {
			order = append(order, name)
			return hookctx.Continue
		}
	}

	loader := fakeLoader{entries: map[string]*plugin.Entry{
		"a": hookEntry("a", map[hookctx.HookPoint]plugin.HookFunc{hookctx.PreExecute: mk("a")}),
		"b": hookEntry("b", map[hookctx.HookPoint]plugin.HookFunc{hookctx.PreExecute: mk("b")}),
		"c": hookEntry("c", map[hookctx.HookPoint]plugin.HookFunc{hookctx.PreExecute: mk("c")}),
	}}
	eng := plugin.NewEngine(loader)
	require.NoError(t, eng.Load("a"))
	require.NoError(t, eng.Load("b"))
	require.NoError(t, eng.Load("c"))

	ctx := hookctx.New()
	result := eng.Dispatch(hookctx.PreExecute, ctx)

	assert.Equal(t, hookctx.Continue, result)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestAbortStopsDispatchImmediately(t *testing.T) {
	var order []string
	loader := fakeLoader{entries: map[string]*plugin.Entry{
		"a": hookEntry("a", map[hookctx.HookPoint]plugin.HookFunc{
			hookctx.PreExecute: func(ctx *hookctx.Context) hookctx.Result {
				order = append(order, "a")
				ctx.Err = assertError("Aborted by test")
				return hookctx.Abort
			},
		}),
		"b": hookEntry("b", map[hookctx.HookPoint]plugin.HookFunc{
			hookctx.PreExecute: func(ctx *hookctx.Context) hookctx.Result {
				order = append(order, "b")
				return hookctx.Continue
			},
		}),
	}}
	eng := plugin.NewEngine(loader)
	require.NoError(t, eng.Load("a"))
	require.NoError(t, eng.Load("b"))

	ctx := hookctx.New()
	result := eng.Dispatch(hookctx.PreExecute, ctx)

	assert.Equal(t, hookctx.Abort, result)
	assert.Equal(t, []string{"a"}, order)
	require.Error(t, ctx.Err)
	assert.Equal(t, "Aborted by test", ctx.Err.Error())
}

func TestNoEngineOrNoHandlerDefaultsToContinue(t *testing.T) {
	var eng *plugin.Engine
	ctx := hookctx.New()
	assert.Equal(t, hookctx.Continue, eng.Dispatch(hookctx.PreExecute, ctx))

	loader := fakeLoader{entries: map[string]*plugin.Entry{
		"a": hookEntry("a", nil),
	}}
	eng2 := plugin.NewEngine(loader)
	require.NoError(t, eng2.Load("a"))
	assert.Equal(t, hookctx.Continue, eng2.Dispatch(hookctx.PreExecute, ctx))
}

func TestPluginDataSwappedAroundEachCallback(t *testing.T) {
	var seen []interface{}
	loader := fakeLoader{entries: map[string]*plugin.Entry{
		"a": {
			Descriptor: plugin.Descriptor{Name: "a"},
			State:      "state-a",
			Hooks: map[hookctx.HookPoint]plugin.HookFunc{
				hookctx.PreExecute: func(ctx *hookctx.Context) hookctx.Result {
					seen = append(seen, ctx.PluginData)
					ctx.PluginData = "state-a-updated"
					return hookctx.Continue
				},
			},
			Close: func() error { return nil },
		},
	}}
	eng := plugin.NewEngine(loader)
	require.NoError(t, eng.Load("a"))

	ctx := hookctx.New()
	eng.Dispatch(hookctx.PreExecute, ctx)
	eng.Dispatch(hookctx.PreExecute, ctx)

	assert.Equal(t, []interface{}{"state-a", "state-a-updated"}, seen)
}

func TestLoadListSplitsOnColonAndComma(t *testing.T) {
	loader := fakeLoader{entries: map[string]*plugin.Entry{
		"a": hookEntry("a", nil),
		"b": hookEntry("b", nil),
		"c": hookEntry("c", nil),
	}}
	eng := plugin.NewEngine(loader)
	require.NoError(t, eng.LoadList("a:b,c"))

	names := make([]string, 0, 3)
	for _, e := range eng.Entries() {
		names = append(names, e.Descriptor.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestLoadListStopsAtFirstFailure(t *testing.T) {
	loader := fakeLoader{entries: map[string]*plugin.Entry{
		"a": hookEntry("a", nil),
	}}
	eng := plugin.NewEngine(loader)
	err := eng.LoadList("a:missing:c")
	require.Error(t, err)
	assert.Len(t, eng.Entries(), 1)
}

func TestSharedStoreReplaceRunsOldDestructor(t *testing.T) {
	eng := plugin.NewEngine(fakeLoader{entries: map[string]*plugin.Entry{}})

	var freed []string
	eng.Set("k", "v1", func(v interface{}) { freed = append(freed, v.(string)) })
	eng.Set("k", "v2", func(v interface{}) { freed = append(freed, v.(string)) })

	v, ok := eng.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v2", v)
	assert.Equal(t, []string{"v1"}, freed)

	require.NoError(t, eng.Close())
	assert.Equal(t, []string{"v1", "v2"}, freed)
}

func TestCloseCallsFinalizersInLoadOrderAndClosesHandles(t *testing.T) {
	var shutdownOrder []string
	var closed []string

	mkEntry := func(name string) *plugin.Entry {
		return &plugin.Entry{
			Descriptor: plugin.Descriptor{Name: name},
			State:      name,
			Shutdown: func(state interface{}) {
				shutdownOrder = append(shutdownOrder, state.(string))
			},
			Close: func() error {
				closed = append(closed, name)
				return nil
			},
		}
	}

	loader := fakeLoader{entries: map[string]*plugin.Entry{
		"a": mkEntry("a"),
		"b": mkEntry("b"),
	}}
	eng := plugin.NewEngine(loader)
	require.NoError(t, eng.Load("a"))
	require.NoError(t, eng.Load("b"))

	require.NoError(t, eng.Close())
	assert.Equal(t, []string{"a", "b"}, shutdownOrder)
	assert.Equal(t, []string{"a", "b"}, closed)
	assert.Empty(t, eng.Entries())
}
