//go:build !unix

package plugin

import "fmt"

// defaultLoader on non-unix platforms: crispy's dynamic loading is
// cgo+dlfcn based and has no portable equivalent outside unix (spec
// §1 non-goals: "does not attempt portable caching; artifacts are
// tied to the local toolchain by design" — the same applies to
// loading them).
type defaultLoader struct{}

func (defaultLoader) Load(path string) (*Entry, error) {
	return nil, fmt.Errorf("dynamic plugin loading is not supported on this platform")
}
