package receivetask

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizePathAcceptsNested(t *testing.T) {
	out := "/tmp/out"
	got, err := sanitizePath(out, "a/b/c.txt")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(out, "a", "b", "c.txt"), got)
}

func TestSanitizePathRejectsTraversal(t *testing.T) {
	out := "/tmp/out"
	_, err := sanitizePath(out, "../evil")
	require.Error(t, err)

	_, err = sanitizePath(out, "a/../../evil")
	require.Error(t, err)

	_, err = sanitizePath(out, "")
	require.Error(t, err)
}

func TestRenameCandidateFindsFreeSlot(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "f.bin")
	require.NoError(t, os.WriteFile(dest, []byte("x"), 0o644))

	got, err := renameCandidate(dest)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "f (1).bin"), got)

	require.NoError(t, os.WriteFile(got, []byte("x"), 0o644))
	got2, err := renameCandidate(dest)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "f (2).bin"), got2)
}

func TestHumanSize(t *testing.T) {
	require.Equal(t, "512 B", humanSize(512))
	require.Equal(t, "1.00 KiB", humanSize(1024))
	require.Equal(t, "1.00 GiB", humanSize(1<<30))
}
