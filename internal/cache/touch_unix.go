//go:build unix

package cache

import (
	"time"

	"github.com/jwaldrip/crispy/internal/crispyerr"
	"golang.org/x/sys/unix"
)

// Touch bumps an artifact's mtime to the current time. Real
// filesystems have coarse mtime granularity (1s on many configs); a
// compile that finishes in the same tick as the edit that invalidated
// the source it replaced could otherwise leave Validate unable to
// tell old and new artifacts apart. Called right after a successful
// compile, before the artifact is handed to the module loader.
func (c *FSCache) Touch(hexDigest string) error {
	path := c.PathForHash(hexDigest)
	now := time.Now()
	ts := []unix.Timeval{
		unix.NsecToTimeval(now.UnixNano()),
		unix.NsecToTimeval(now.UnixNano()),
	}
	if err := unix.Utimes(path, ts); err != nil {
		return crispyerr.CacheError("touching "+path, err)
	}
	return nil
}
