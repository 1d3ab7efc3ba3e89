//go:build linux || darwin || freebsd

package receivetask

import (
	"golang.org/x/sys/unix"
)

// availableBytes reports the free space on the filesystem containing dir,
// grounded on rescale-labs-Rescale_Interlink/internal/diskspace's
// syscall.Statfs-based check (spec.md §4.4 step 3), re-targeted to
// golang.org/x/sys/unix for the cross-platform-maintained equivalent.
func availableBytes(dir string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
