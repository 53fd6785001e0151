//go:build unix

// Dynamic loading of a compiled configuration artifact. Mirrors the
// plugin package's dlopen trampoline (see internal/plugin/dlopen_unix.go)
// but resolves a single well-known initializer instead of a hook
// table, per spec §6's configuration-file contract.
package config

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
	const char *default_flags;
	const char *override_flags;
	const char *cache_dir_override;
	char **plugin_paths;
	long plugin_paths_len;
	char **plugin_data_keys;
	char **plugin_data_values;
	long plugin_data_len;

	int force_compile;
	int force_compile_set;
	int preserve_source;
	int preserve_source_set;
	int dry_run;
	int dry_run_set;
	int debug_launch;
	int debug_launch_set;

	char **argv;
	long argv_len;
} crispy_config_context_t;

typedef int (*crispy_config_init_fn)(crispy_config_context_t *);

static void *crispy_config_dlopen(const char *path) {
	return dlopen(path, RTLD_LAZY);
}

static void *crispy_config_dlsym(void *handle, const char *name) {
	return dlsym(handle, name);
}

static int crispy_config_call_init(crispy_config_init_fn fn, crispy_config_context_t *ctx) {
	return fn(ctx);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// loadAndApplyNative dlopens artifactPath, resolves
// crispy_config_init, invokes it with a zeroed context, and copies
// whatever it populated into state. The artifact is kept open for the
// lifetime of the process (spec §4.5): this function intentionally
// never dlcloses the handle.
func loadAndApplyNative(artifactPath string, state *State) (bool, error) {
	cPath := C.CString(artifactPath)
	defer C.free(unsafe.Pointer(cPath))

	handle := C.crispy_config_dlopen(cPath)
	if handle == nil {
		return false, fmt.Errorf("dlopen %s: %s", artifactPath, C.GoString(C.dlerror()))
	}

	initSym := C.CString("crispy_config_init")
	defer C.free(unsafe.Pointer(initSym))
	fnPtr := C.crispy_config_dlsym(handle, initSym)
	if fnPtr == nil {
		return false, fmt.Errorf("%s: missing mandatory crispy_config_init initializer", artifactPath)
	}

	var cCtx C.crispy_config_context_t
	initFn := C.crispy_config_init_fn(fnPtr)
	result := C.crispy_config_call_init(initFn, &cCtx)

	if cCtx.default_flags != nil {
		state.DefaultFlags = C.GoString(cCtx.default_flags)
	}
	if cCtx.override_flags != nil {
		state.OverrideFlags = C.GoString(cCtx.override_flags)
	}
	if cCtx.cache_dir_override != nil {
		state.CacheDirOverride = C.GoString(cCtx.cache_dir_override)
	}
	state.PluginPaths = goStringSlice(cCtx.plugin_paths, cCtx.plugin_paths_len)

	keys := goStringSlice(cCtx.plugin_data_keys, cCtx.plugin_data_len)
	values := goStringSlice(cCtx.plugin_data_values, cCtx.plugin_data_len)
	for i, k := range keys {
		if i < len(values) {
			state.PluginData[k] = values[i]
		}
	}

	if cCtx.force_compile_set != 0 {
		state.BaseModeFlags["force_compile"] = ModeFlag{Value: cCtx.force_compile != 0, Set: true}
	}
	if cCtx.preserve_source_set != 0 {
		state.BaseModeFlags["preserve_source"] = ModeFlag{Value: cCtx.preserve_source != 0, Set: true}
	}
	if cCtx.dry_run_set != 0 {
		state.BaseModeFlags["dry_run"] = ModeFlag{Value: cCtx.dry_run != 0, Set: true}
	}
	if cCtx.debug_launch_set != 0 {
		state.BaseModeFlags["debug_launch"] = ModeFlag{Value: cCtx.debug_launch != 0, Set: true}
	}

	if argv := goStringSlice(cCtx.argv, cCtx.argv_len); argv != nil {
		state.Argv = argv
	}

	return result != 0, nil
}

func goStringSlice(arr **C.char, n C.long) []string {
	if arr == nil || n <= 0 {
		return nil
	}
	out := make([]string, 0, int(n))
	slice := (*[1 << 20]*C.char)(unsafe.Pointer(arr))[:n:n]
	for _, s := range slice {
		out = append(out, C.GoString(s))
	}
	return out
}
