package sendtask

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
)

// fileCandidate is one regular file discovered under an input path, with
// the relative name it will carry in the Collection (spec.md §4.3 step 1).
type fileCandidate struct {
	AbsPath string
	Name    string
}

// walkInputs expands paths (files or directories) into the regular files
// they contain, computing each one's collection name as the forward-slash
// path relative to the input's parent directory. Symlinks are skipped
// unless followSymlinks is set, mirroring godirwalk's own
// FollowSymbolicLinks option for directories encountered during the walk.
func walkInputs(paths []string, followSymlinks bool) ([]fileCandidate, error) {
	var out []fileCandidate
	for _, p := range paths {
		info, err := os.Lstat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", p, err)
		}
		if info.Mode()&os.ModeSymlink != 0 && !followSymlinks {
			continue
		}
		parent := filepath.Dir(p)

		if !info.IsDir() {
			rel, err := filepath.Rel(parent, p)
			if err != nil {
				return nil, fmt.Errorf("relative name for %q: %w", p, err)
			}
			out = append(out, fileCandidate{AbsPath: p, Name: filepath.ToSlash(rel)})
			continue
		}

		err = godirwalk.Walk(p, &godirwalk.Options{
			Unsorted:            true,
			FollowSymbolicLinks: followSymlinks,
			Callback: func(osPathname string, de *godirwalk.Dirent) error {
				if de.IsSymlink() && !followSymlinks {
					if de.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
				if de.IsDir() {
					return nil
				}
				rel, err := filepath.Rel(parent, osPathname)
				if err != nil {
					return err
				}
				out = append(out, fileCandidate{AbsPath: osPathname, Name: filepath.ToSlash(rel)})
				return nil
			},
		})
		if err != nil {
			return nil, fmt.Errorf("walk %q: %w", p, err)
		}
	}
	return out, nil
}

// validateName rejects names with empty, ".", ".." or separator-bearing
// components (spec.md §4.3 step 1).
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("invalid name: empty")
	}
	for _, part := range strings.Split(name, "/") {
		switch part {
		case "", ".", "..":
			return fmt.Errorf("invalid name %q: disallowed path component %q", name, part)
		}
		if strings.ContainsRune(part, '\\') {
			return fmt.Errorf("invalid name %q: contains a path separator", name)
		}
	}
	return nil
}
