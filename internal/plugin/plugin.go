// Package plugin implements the plugin engine (spec §4.4): loading
// dynamic plugins, resolving their hook symbols, dispatching hook
// points in load order, and a shared key→value store available to
// every plugin.
//
// The ordered-registration-then-ordered-dispatch shape is grounded on
// the teacher's treex/plugins.Registry/Engine pair, with one
// deliberate change: the teacher backs its registry with a
// map[string]Plugin because its dispatch order is irrelevant to its
// semantics, whereas spec §4.4 makes load-order-equals-dispatch-order
// an invariant, so Engine here keeps plugins in a slice.
package plugin

import (
	"fmt"
	"strings"

	"github.com/jwaldrip/crispy/internal/crispyerr"
	"github.com/jwaldrip/crispy/internal/hookctx"
	"github.com/jwaldrip/crispy/internal/logx"
)

// Descriptor is the mandatory exported plugin metadata (spec §3, §6):
// name, description, version, author, license.
type Descriptor struct {
	Name        string
	Description string
	Version     string
	Author      string
	License     string
}

// HookFunc is the Go-side shape of a resolved
// crispy_plugin_on_<hook> callback, after the loader's FFI trampoline
// has marshaled the C ABI into a hookctx.Context.
type HookFunc func(ctx *hookctx.Context) hookctx.Result

// Entry is one loaded plugin: its descriptor, optional per-plugin
// state token, its resolved hook table, and how to tear it down.
type Entry struct {
	Descriptor Descriptor
	// State is the opaque token crispy_plugin_init returned, or nil
	// if the plugin has no initializer. It is swapped into every
	// hookctx.Context.PluginData around this entry's callbacks and
	// copied back afterward.
	State interface{}
	// Hooks maps each hook point this plugin implements to its
	// callback. A hook point absent from this map is skipped during
	// dispatch.
	Hooks map[hookctx.HookPoint]HookFunc
	// Shutdown, if non-nil, is crispy_plugin_shutdown bound to this
	// plugin's State, called when the engine is destroyed.
	Shutdown func(state interface{})
	// Close releases the dynamic library handle.
	Close func() error
}

// Loader resolves one plugin path into a loaded Entry. The default
// implementation (see dlopen_unix.go) dlopens a native shared object;
// tests substitute a fake loader so dispatch-order behavior can be
// exercised without compiling real C plugins.
type Loader interface {
	Load(path string) (*Entry, error)
}

type storeValue struct {
	value      interface{}
	destructor func(interface{})
}

// Engine owns the ordered collection of loaded plugins and the shared
// data store (spec §3's "shared data store").
type Engine struct {
	loader  Loader
	entries []*Entry
	store   map[string]storeValue
	log     *logx.Logger
}

// NewEngine creates an engine backed by loader. Pass nil for loader to
// use the default dlopen-based loader.
func NewEngine(loader Loader) *Engine {
	if loader == nil {
		loader = defaultLoader{}
	}
	return &Engine{
		loader: loader,
		store:  make(map[string]storeValue),
		log:    logx.Get(),
	}
}

// Load resolves path and appends the resulting entry to the ordered
// collection; load order is dispatch order (spec §4.4).
func (e *Engine) Load(path string) error {
	entry, err := e.loader.Load(path)
	if err != nil {
		return crispyerr.PluginError("loading plugin "+path, err)
	}
	e.entries = append(e.entries, entry)
	e.log.Debug().Str("plugin", entry.Descriptor.Name).Str("path", path).Msg("loaded plugin")
	return nil
}

// LoadList loads a delimiter-separated list of plugin paths (both ':'
// and ',' are accepted), stopping at the first failure.
func (e *Engine) LoadList(pathList string) error {
	for _, path := range splitPluginList(pathList) {
		if path == "" {
			continue
		}
		if err := e.Load(path); err != nil {
			return err
		}
	}
	return nil
}

func splitPluginList(pathList string) []string {
	return strings.FieldsFunc(pathList, func(r rune) bool {
		return r == ':' || r == ','
	})
}

// Entries returns the loaded plugins in load (= dispatch) order.
func (e *Engine) Entries() []*Entry {
	out := make([]*Entry, len(e.entries))
	copy(out, e.entries)
	return out
}

// Dispatch walks the ordered collection for the given hook point,
// swapping each entry's opaque state into ctx.PluginData around its
// callback. The first callback to return anything other than
// Continue stops dispatch and that result is returned. The default
// when no plugin handles the hook, or when the engine itself is nil,
// is Continue.
func (e *Engine) Dispatch(point hookctx.HookPoint, ctx *hookctx.Context) hookctx.Result {
	if e == nil {
		return hookctx.Continue
	}

	ctx.Point = point
	ctx.Engine = engineStore{e}

	for _, entry := range e.entries {
		hook, ok := entry.Hooks[point]
		if !ok {
			continue
		}

		ctx.PluginData = entry.State
		result := hook(ctx)
		entry.State = ctx.PluginData

		if result != hookctx.Continue {
			e.log.Debug().
				Str("plugin", entry.Descriptor.Name).
				Str("hook", point.String()).
				Int("result", int(result)).
				Msg("hook dispatch stopped")
			return result
		}
	}

	return hookctx.Continue
}

// Set replaces any existing value for key, running the prior value's
// destructor first.
func (e *Engine) Set(key string, value interface{}, destructor func(interface{})) {
	if old, ok := e.store[key]; ok && old.destructor != nil {
		old.destructor(old.value)
	}
	e.store[key] = storeValue{value: value, destructor: destructor}
}

// Get retrieves a value previously Set, if any.
func (e *Engine) Get(key string) (interface{}, bool) {
	v, ok := e.store[key]
	if !ok {
		return nil, false
	}
	return v.value, true
}

// Close calls every entry's finalizer (in load order) and releases
// its library handle, then frees all remaining shared-store values.
// Finalizer panics or close errors are collected, not raised, so one
// misbehaving plugin cannot prevent the rest from being torn down.
func (e *Engine) Close() error {
	var errs []string

	for _, entry := range e.entries {
		if entry.Shutdown != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						errs = append(errs, fmt.Sprintf("%s: shutdown panic: %v", entry.Descriptor.Name, r))
					}
				}()
				entry.Shutdown(entry.State)
			}()
		}
		if entry.Close != nil {
			if err := entry.Close(); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", entry.Descriptor.Name, err))
			}
		}
	}
	e.entries = nil

	for key, v := range e.store {
		if v.destructor != nil {
			v.destructor(v.value)
		}
		delete(e.store, key)
	}

	if len(errs) > 0 {
		return crispyerr.PluginError("closing plugin engine: "+strings.Join(errs, "; "), nil)
	}
	return nil
}

// engineStore adapts *Engine to hookctx.SharedStore without handing
// plugins the full Engine API (no Load/Dispatch/Close from inside a
// hook).
type engineStore struct{ e *Engine }

func (s engineStore) Set(key string, value interface{}) { s.e.Set(key, value, nil) }
func (s engineStore) Get(key string) (interface{}, bool) { return s.e.Get(key) }
