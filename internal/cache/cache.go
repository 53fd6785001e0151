// Package cache implements the cache provider capability (spec §4.3):
// a content-addressed hash over source bytes, flags, and compiler
// version, and a filesystem-backed artifact store keyed by that hash.
//
// The directory contents are addressed through afero.Fs, the way the
// teacher's plugin registry and tests address the project tree,
// so the provider can be exercised against an in-memory filesystem in
// tests without touching disk.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/jwaldrip/crispy/internal/crispyerr"
	"github.com/spf13/afero"
)

// Provider is the capability trait spec §4.3 describes: {compute
// hash, get path for hash, validate presence+freshness, purge all}.
type Provider interface {
	// ComputeHash hashes sourceBytes (NUL-tolerant; pass -1 as
	// sourceLen to imply a NUL-terminated string) together with
	// extraFlags and the required compilerVersion.
	ComputeHash(sourceBytes []byte, sourceLen int, extraFlags, compilerVersion string) string
	// PathForHash is a pure, total, injective map from hex digest to
	// filesystem path.
	PathForHash(hexDigest string) string
	// Validate reports whether a usable artifact is present for hash.
	// sourcePath is empty for inline/stdin sources.
	Validate(hexDigest string, sourcePath string) (bool, error)
	// Purge removes every artifact this provider manages.
	Purge() error
}

// DefaultSuffix is the platform shared-object suffix used when no
// override is supplied.
func DefaultSuffix() string {
	if runtime.GOOS == "darwin" {
		return ".dylib"
	}
	return ".so"
}

// FSCache is the default filesystem-backed Provider: one regular file
// per artifact at <dir>/<hex_digest><suffix>.
type FSCache struct {
	fs     afero.Fs
	dir    string
	suffix string
}

// Option configures an FSCache at construction.
type Option func(*FSCache)

// WithSuffix overrides the artifact file suffix (default platform
// shared-object suffix).
func WithSuffix(suffix string) Option {
	return func(c *FSCache) { c.suffix = suffix }
}

// WithFs overrides the backing afero.Fs (default afero.NewOsFs()),
// used by tests to run against an in-memory filesystem.
func WithFs(fs afero.Fs) Option {
	return func(c *FSCache) { c.fs = fs }
}

// DefaultCacheDir is the per-user cache directory plus a program-named
// subdirectory: $XDG_CACHE_HOME/crispy or $HOME/.cache/crispy.
func DefaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "crispy")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "crispy")
	}
	return filepath.Join(home, ".cache", "crispy")
}

// NewFSCache creates the cache directory (mode 0755) if it doesn't
// exist and returns a ready FSCache.
func NewFSCache(dir string, opts ...Option) (*FSCache, error) {
	if dir == "" {
		dir = DefaultCacheDir()
	}
	c := &FSCache{
		fs:     afero.NewOsFs(),
		dir:    dir,
		suffix: DefaultSuffix(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.fs.MkdirAll(c.dir, 0o755); err != nil {
		return nil, crispyerr.CacheError("creating cache directory "+c.dir, err)
	}

	return c, nil
}

// Dir returns the cache directory this provider manages.
func (c *FSCache) Dir() string { return c.dir }

// ComputeHash concatenates, with NUL separators, the source bytes,
// the extra-flags string, and the compiler version, then takes a
// SHA-256 hex digest. Deterministic: identical inputs yield identical
// output, and any change to any input changes the output with
// cryptographic confidence.
func (c *FSCache) ComputeHash(sourceBytes []byte, sourceLen int, extraFlags, compilerVersion string) string {
	if sourceLen >= 0 && sourceLen < len(sourceBytes) {
		sourceBytes = sourceBytes[:sourceLen]
	}

	h := sha256.New()
	h.Write(sourceBytes)
	h.Write([]byte{0})
	h.Write([]byte(extraFlags))
	h.Write([]byte{0})
	h.Write([]byte(compilerVersion))
	return hex.EncodeToString(h.Sum(nil))
}

// PathForHash places each artifact directly under the cache directory
// with the configured suffix.
func (c *FSCache) PathForHash(hexDigest string) string {
	return filepath.Join(c.dir, hexDigest+c.suffix)
}

// Validate reports presence (and, when sourcePath is non-empty,
// freshness) of the artifact for hexDigest. A stat failure on either
// file is reported as "invalid", not as an error, matching spec §4.3.
func (c *FSCache) Validate(hexDigest string, sourcePath string) (bool, error) {
	artifactPath := c.PathForHash(hexDigest)

	info, err := c.fs.Stat(artifactPath)
	if err != nil {
		return false, nil
	}
	if info.IsDir() {
		return false, nil
	}

	if sourcePath == "" {
		return true, nil
	}

	srcInfo, err := c.fs.Stat(sourcePath)
	if err != nil {
		return false, nil
	}

	return !info.ModTime().Before(srcInfo.ModTime()), nil
}

// Purge removes every file in the cache directory whose name ends in
// the artifact suffix. The provider owns the directory contents;
// non-artifact files (there should be none) are left alone. A
// successful empty purge is not an error.
func (c *FSCache) Purge() error {
	entries, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return crispyerr.CacheError("enumerating cache directory "+c.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), c.suffix) {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if err := c.fs.Remove(path); err != nil {
			return crispyerr.CacheError("removing "+path, err)
		}
	}

	return nil
}
