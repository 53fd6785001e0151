//go:build unix

// Dynamic loading of a cached script artifact and invocation of its
// entry symbol. Mirrors internal/plugin's dlopen trampoline, but
// resolves a single fixed symbol (EntrySymbol) with a conventional
// main(argc, argv) signature instead of a hook table.
package orchestrator

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>

typedef int (*crispy_entry_fn)(int, char **);

static void *crispy_module_dlopen(const char *path) {
	return dlopen(path, RTLD_LAZY);
}

static void *crispy_module_dlsym(void *handle, const char *name) {
	return dlsym(handle, name);
}

static int crispy_module_dlclose(void *handle) {
	return dlclose(handle);
}

static int crispy_module_call(crispy_entry_fn fn, int argc, char **argv) {
	return fn(argc, argv);
}
*/
import "C"

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"unsafe"

	"github.com/jwaldrip/crispy/internal/crispyerr"
)

type nativeModule struct {
	handle unsafe.Pointer
	entry  C.crispy_entry_fn
	path   string
}

type defaultModuleLoader struct{}

func (defaultModuleLoader) Load(path string) (Module, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	handle := C.crispy_module_dlopen(cPath)
	if handle == nil {
		return nil, crispyerr.LoadError(path, fmt.Errorf("%s", C.GoString(C.dlerror())))
	}

	symName := C.CString(EntrySymbol)
	defer C.free(unsafe.Pointer(symName))
	sym := C.crispy_module_dlsym(handle, symName)
	if sym == nil {
		C.crispy_module_dlclose(handle)
		return nil, crispyerr.NoEntryError(EntrySymbol, path)
	}

	return &nativeModule{handle: handle, entry: C.crispy_entry_fn(sym), path: path}, nil
}

func (m *nativeModule) CallEntry(argv []string) (int, error) {
	cArgv := make([]*C.char, len(argv)+1)
	for i, a := range argv {
		cArgv[i] = C.CString(a)
	}
	cArgv[len(argv)] = nil
	defer func() {
		for _, a := range cArgv[:len(argv)] {
			C.free(unsafe.Pointer(a))
		}
	}()

	var argvPtr **C.char
	if len(argv) > 0 {
		argvPtr = (**C.char)(unsafe.Pointer(&cArgv[0]))
	}

	code := C.crispy_module_call(m.entry, C.int(len(argv)), argvPtr)
	return int(code), nil
}

func (m *nativeModule) Close() error {
	if C.crispy_module_dlclose(m.handle) != 0 {
		return fmt.Errorf("dlclose %s: %s", m.path, C.GoString(C.dlerror()))
	}
	return nil
}

type defaultDebugLauncher struct{}

// Launch replaces the current process with the debugger (spec §4.6
// phase 7: "This replaces the current process; no further phases
// run."). On success it never returns.
func (defaultDebugLauncher) Launch(debugger, execPath string, argv []string) error {
	if debugger == "" {
		debugger = "gdb"
	}
	path, err := exec.LookPath(debugger)
	if err != nil {
		return crispyerr.ToolchainNotFoundError(debugger, err)
	}
	args := append([]string{debugger, "--args", execPath}, argv...)
	return syscall.Exec(path, args, os.Environ())
}
