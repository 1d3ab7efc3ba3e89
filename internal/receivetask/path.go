package receivetask

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var errUnsupportedPlatform = errors.New("disk space check unsupported on this platform")

// sanitizePath implements spec.md §4.4.1: split name on "/", reject empty,
// ".", ".." or separator-bearing components, join under outputDir, and
// require the joined path to still start with outputDir so path
// normalization cannot be abused to escape it.
func sanitizePath(outputDir, name string) (string, error) {
	parts := strings.Split(name, "/")
	if len(parts) == 0 {
		return "", fmt.Errorf("invalid entry name %q: empty", name)
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return "", fmt.Errorf("invalid entry name %q: disallowed path component %q", name, p)
		}
		if strings.ContainsAny(p, "/\\") {
			return "", fmt.Errorf("invalid entry name %q: component %q contains a separator", name, p)
		}
	}

	joined := filepath.Join(append([]string{outputDir}, parts...)...)
	cleanOut := filepath.Clean(outputDir)
	if joined != cleanOut && !strings.HasPrefix(joined, cleanOut+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal rejected for entry %q", name)
	}
	return joined, nil
}

// renameCandidate finds the first "<stem> (k).<ext>" (or "<stem> (k)" with
// no extension) that does not exist, for k in [1, 1000) (spec.md §4.4
// step 9's Rename resolution).
func renameCandidate(dest string) (string, error) {
	ext := filepath.Ext(dest)
	stem := strings.TrimSuffix(dest, ext)
	for k := 1; k < 1000; k++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, k, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free rename slot found for %q", dest)
}

// humanSize renders n bytes in the largest whole unit that keeps it >= 1,
// for the disk-space Failed message (spec.md §4.4 step 3).
func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	units := "KMGTPE"
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), units[exp])
}
