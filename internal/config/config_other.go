//go:build !unix

package config

import "fmt"

func loadAndApplyNative(artifactPath string, state *State) (bool, error) {
	return false, fmt.Errorf("dynamic configuration loading is not supported on this platform")
}
