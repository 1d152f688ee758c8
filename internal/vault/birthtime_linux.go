//go:build linux

package vault

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

// birthTime returns the file's creation time when the file system records
// one, and its modification time otherwise.
func birthTime(path string, info fs.FileInfo) time.Time {
	var stx unix.Statx_t
	if err := unix.Statx(unix.AT_FDCWD, path, unix.AT_SYMLINK_NOFOLLOW, unix.STATX_BTIME, &stx); err != nil {
		return info.ModTime()
	}
	if stx.Mask&unix.STATX_BTIME == 0 {
		return info.ModTime()
	}
	return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec))
}
