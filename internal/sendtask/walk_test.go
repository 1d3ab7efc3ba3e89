package sendtask

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWalkInputsSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))

	got, err := walkInputs([]string{path}, false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "a.txt", got[0].Name)
}

func TestWalkInputsDirectoryIncludesDirNameInPath(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "project")
	require.NoError(t, os.MkdirAll(filepath.Join(sub, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "top.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "nested", "deep.txt"), []byte("b"), 0o644))

	got, err := walkInputs([]string{sub}, false)
	require.NoError(t, err)

	names := make([]string, len(got))
	for i, c := range got {
		names[i] = c.Name
	}
	require.ElementsMatch(t, []string{"project/top.txt", "project/nested/deep.txt"}, names)
}

func TestWalkInputsSkipsSymlinksUnlessFollowed(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.txt")
	require.NoError(t, os.WriteFile(target, []byte("data"), 0o644))
	link := filepath.Join(dir, "link.txt")
	require.NoError(t, os.Symlink(target, link))

	got, err := walkInputs([]string{link}, false)
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = walkInputs([]string{link}, true)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestValidateNameRejectsTraversal(t *testing.T) {
	require.NoError(t, validateName("a/b/c.txt"))
	require.Error(t, validateName(""))
	require.Error(t, validateName("../evil"))
	require.Error(t, validateName("a/../b"))
	require.Error(t, validateName("a//b"))
}
