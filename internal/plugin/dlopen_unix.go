//go:build unix

// Dynamic loading of native plugin shared objects. Nothing in the
// retrieved example corpus dlopens a native .so by symbol name (the
// corpus's plugin systems are either in-process Go interfaces or
// subprocess-RPC); cgo + dlfcn.h is the idiomatic Go FFI primitive for
// this and is used here as a deliberate, named out-of-pack addition
// (see DESIGN.md).
package plugin

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>

typedef struct {
	const char *name;
	const char *description;
	const char *version;
	const char *author;
	const char *license;
} crispy_plugin_info_t;

typedef void *(*crispy_plugin_init_fn)(void);
typedef void (*crispy_plugin_shutdown_fn)(void *);

// crispy_hook_context_t is the C-ABI mirror of hookctx.Context's
// fields a plugin can read or mutate. Strings are passed as
// NUL-terminated buffers owned by the Go side for the duration of the
// call.
typedef struct {
	int hook_point;
	void *plugin_data;

	const char *source_path;
	const char *cache_dir;
	const char *hash;
	const char *compiler_version;

	char *effective_source;
	long effective_len;

	char *extra_flags;

	int argc;
	char **argv;

	int force_recompile;
	int exit_code;

	const char *err_message;
} crispy_hook_context_t;

typedef int (*crispy_plugin_hook_fn)(crispy_hook_context_t *);

static void *crispy_dlopen(const char *path) {
	return dlopen(path, RTLD_LAZY);
}

static void *crispy_dlsym(void *handle, const char *name) {
	return dlsym(handle, name);
}

static int crispy_dlclose(void *handle) {
	return dlclose(handle);
}

static void *crispy_call_init(crispy_plugin_init_fn fn) {
	return fn();
}

static void crispy_call_shutdown(crispy_plugin_shutdown_fn fn, void *state) {
	fn(state);
}

static int crispy_call_hook(crispy_plugin_hook_fn fn, crispy_hook_context_t *ctx) {
	return fn(ctx);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/jwaldrip/crispy/internal/hookctx"
)

// dlopenEntry tracks resources a loaded native plugin owns so Close
// can release them in the right order.
type dlopenEntry struct {
	handle unsafe.Pointer
}

type defaultLoader struct{}

// hookSymbolName builds the crispy_plugin_on_<hook> symbol name spec
// §6 specifies.
func hookSymbolName(point hookctx.HookPoint) string {
	return "crispy_plugin_on_" + point.String()
}

var allHookPoints = []hookctx.HookPoint{
	hookctx.SourceLoaded,
	hookctx.ParamsExpanded,
	hookctx.HashComputed,
	hookctx.CacheChecked,
	hookctx.PreCompile,
	hookctx.PostCompile,
	hookctx.ModuleLoaded,
	hookctx.PreExecute,
	hookctx.PostExecute,
}

func (defaultLoader) Load(path string) (*Entry, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	handle := C.crispy_dlopen(cPath)
	if handle == nil {
		return nil, fmt.Errorf("dlopen %s: %s", path, C.GoString(C.dlerror()))
	}

	descSym := C.CString("crispy_plugin_info")
	defer C.free(unsafe.Pointer(descSym))
	descPtr := C.crispy_dlsym(handle, descSym)
	if descPtr == nil {
		C.crispy_dlclose(handle)
		return nil, fmt.Errorf("%s: missing mandatory crispy_plugin_info descriptor", path)
	}
	info := (*C.crispy_plugin_info_t)(descPtr)
	descriptor := Descriptor{
		Name:        C.GoString(info.name),
		Description: C.GoString(info.description),
		Version:     C.GoString(info.version),
		Author:      C.GoString(info.author),
		License:     C.GoString(info.license),
	}

	entry := &Entry{
		Descriptor: descriptor,
		Hooks:      make(map[hookctx.HookPoint]HookFunc),
		Close: func() error {
			if C.crispy_dlclose(handle) != 0 {
				return fmt.Errorf("dlclose %s: %s", path, C.GoString(C.dlerror()))
			}
			return nil
		},
	}

	if initSym := lookupOptional(handle, "crispy_plugin_init"); initSym != nil {
		initFn := C.crispy_plugin_init_fn(initSym)
		entry.State = unsafe.Pointer(C.crispy_call_init(initFn))
	}

	if shutdownSym := lookupOptional(handle, "crispy_plugin_shutdown"); shutdownSym != nil {
		shutdownFn := C.crispy_plugin_shutdown_fn(shutdownSym)
		entry.Shutdown = func(state interface{}) {
			ptr, _ := state.(unsafe.Pointer)
			C.crispy_call_shutdown(shutdownFn, ptr)
		}
	}

	for _, point := range allHookPoints {
		sym := lookupOptional(handle, hookSymbolName(point))
		if sym == nil {
			continue
		}
		hookFn := C.crispy_plugin_hook_fn(sym)
		entry.Hooks[point] = makeHookFunc(hookFn)
	}

	return entry, nil
}

func lookupOptional(handle unsafe.Pointer, name string) unsafe.Pointer {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	return C.crispy_dlsym(handle, cName)
}

// makeHookFunc builds the Go-side trampoline: marshal the mutable
// parts of hookctx.Context into the C struct, call through the
// resolved function pointer, then marshal mutations back.
func makeHookFunc(fn C.crispy_plugin_hook_fn) HookFunc {
	return func(ctx *hookctx.Context) hookctx.Result {
		cCtx := C.crispy_hook_context_t{
			hook_point:       C.int(ctx.Point),
			force_recompile:  boolToInt(ctx.ForceRecompile),
			exit_code:        C.int(ctx.ExitCode),
		}
		if p, ok := ctx.PluginData.(unsafe.Pointer); ok {
			cCtx.plugin_data = p
		}

		sourcePath := C.CString(ctx.SourcePath)
		defer C.free(unsafe.Pointer(sourcePath))
		cCtx.source_path = sourcePath

		cacheDir := C.CString(ctx.CacheDir)
		defer C.free(unsafe.Pointer(cacheDir))
		cCtx.cache_dir = cacheDir

		hash := C.CString(ctx.Hash)
		defer C.free(unsafe.Pointer(hash))
		cCtx.hash = hash

		version := C.CString(ctx.CompilerVersion)
		defer C.free(unsafe.Pointer(version))
		cCtx.compiler_version = version

		effectiveSource := C.CString(ctx.EffectiveSource)
		defer C.free(unsafe.Pointer(effectiveSource))
		cCtx.effective_source = effectiveSource
		cCtx.effective_len = C.long(ctx.EffectiveLen)

		extraFlags := C.CString(ctx.ExtraFlags)
		defer C.free(unsafe.Pointer(extraFlags))
		cCtx.extra_flags = extraFlags

		argv, freeArgv := newCArgv(ctx.Argv)
		defer freeArgv()
		cCtx.argc = C.int(len(ctx.Argv))
		if len(argv) > 0 {
			cCtx.argv = (**C.char)(unsafe.Pointer(&argv[0]))
		}

		result := C.crispy_call_hook(fn, &cCtx)

		if cCtx.plugin_data != nil || ctx.PluginData != nil {
			ctx.PluginData = unsafe.Pointer(cCtx.plugin_data)
		}
		ctx.EffectiveSource = C.GoString(cCtx.effective_source)
		ctx.EffectiveLen = int(cCtx.effective_len)
		ctx.ExtraFlags = C.GoString(cCtx.extra_flags)
		ctx.Argv = goArgv(cCtx.argv, int(cCtx.argc))
		ctx.ForceRecompile = cCtx.force_recompile != 0
		if cCtx.err_message != nil {
			ctx.Err = fmt.Errorf("%s", C.GoString(cCtx.err_message))
		}

		switch result {
		case 1:
			return hookctx.Abort
		case 2:
			return hookctx.ForceRecompile
		default:
			return hookctx.Continue
		}
	}
}

// newCArgv builds a NUL-terminated array of owned C strings from argv,
// returning the slice of pointers (so its backing array's address can
// be taken) and a function that frees every string it allocated.
func newCArgv(argv []string) ([]*C.char, func()) {
	out := make([]*C.char, len(argv))
	for i, a := range argv {
		out[i] = C.CString(a)
	}
	return out, func() {
		for _, p := range out {
			C.free(unsafe.Pointer(p))
		}
	}
}

// goArgv reads back argc entries from a C argv array a plugin may have
// replaced wholesale (spec §3: "replace the argument vector passed to
// the entry symbol").
func goArgv(argv **C.char, argc int) []string {
	if argv == nil || argc <= 0 {
		return nil
	}
	ptrs := unsafe.Slice(argv, argc)
	out := make([]string, argc)
	for i, p := range ptrs {
		out[i] = C.GoString(p)
	}
	return out
}

func boolToInt(b bool) C.int {
	if b {
		return 1
	}
	return 0
}
