//go:build !unix

package orchestrator

import "fmt"

type defaultModuleLoader struct{}

func (defaultModuleLoader) Load(path string) (Module, error) {
	return nil, fmt.Errorf("dynamic module loading is not supported on this platform")
}

type defaultDebugLauncher struct{}

func (defaultDebugLauncher) Launch(debugger, execPath string, argv []string) error {
	return fmt.Errorf("debug-launch is not supported on this platform")
}
