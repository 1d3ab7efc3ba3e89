//go:build !linux && !darwin && !freebsd

package receivetask

// availableBytes has no portable implementation outside the unix family
// here; returning an error makes the disk-space check a no-op rather than
// a false failure (spec.md §4.4 step 3 only specifies behavior for the
// check succeeding or failing, not for the check being unavailable).
func availableBytes(dir string) (int64, error) {
	return 0, errUnsupportedPlatform
}
