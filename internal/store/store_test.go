package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestImportStoreLoadExportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	srcPath := filepath.Join(dir, "f.bin")
	content := []byte("hello, transfer orchestrator")
	require.NoError(t, os.WriteFile(srcPath, content, 0o644))

	h, size, tag, err := s.ImportFile(context.Background(), srcPath)
	require.NoError(t, err)
	require.EqualValues(t, len(content), size)

	root, rootTag, err := s.StoreCollection(
		[]Entry{{Name: "f.bin", Hash: h, Size: size}},
		[]*TempTag{tag},
	)
	require.NoError(t, err)
	defer rootTag.Release()

	coll, err := s.LoadCollection(root)
	require.NoError(t, err)
	require.Len(t, coll.Entries, 1)
	require.Equal(t, "f.bin", coll.Entries[0].Name)
	require.Equal(t, h, coll.Entries[0].Hash)

	sizes, err := s.HashSequenceSizes(root)
	require.NoError(t, err)
	require.Len(t, sizes, 2)
	require.EqualValues(t, size, sizes[1])

	destPath := filepath.Join(dir, "out", "f.bin")
	var last ExportEvent
	for ev := range s.Export(h, destPath) {
		last = ev
		require.NotEqual(t, ExportError, ev.Kind, "%v", ev.Err)
	}
	require.Equal(t, ExportDone, last.Kind)

	got, err := os.ReadFile(destPath)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestPutFromReaderRejectsHashMismatch(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	wrong, err := HashBytes([]byte("not the data"))
	require.NoError(t, err)

	_, err = s.PutFromReader(wrong, newFakeReader([]byte("actual data")))
	require.Error(t, err)
}

type fakeReader struct {
	data []byte
	pos  int
}

func newFakeReader(data []byte) *fakeReader { return &fakeReader{data: data} }

func (f *fakeReader) Read(p []byte) (int, error) {
	if f.pos >= len(f.data) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.pos:])
	f.pos += n
	return n, nil
}

func TestTempTagRefCounting(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	h, tag, err := s.PutBytes([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, 1, s.refCount(h))

	tag.Release()
	require.Equal(t, 0, s.refCount(h))

	tag.Release() // idempotent
	require.Equal(t, 0, s.refCount(h))
}
