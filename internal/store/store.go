package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/multiformats/go-multihash"
)

// ErrNotFound is returned when a referenced blob does not exist locally.
var ErrNotFound = errors.New("store: blob not found")

const algoName = "sha256"

// Store is a persistent content-addressed store on the local filesystem,
// backing both the Send Task and the Receive Task (spec.md §4.2). Blobs are
// written under a two-level hex-prefix shard directory,
// "<root>/sha256/xx/yy/<hex>.blob", the layout
// perkeep-perkeep/pkg/blobserver/localdisk uses for its local disk backend.
// All methods are safe for concurrent use from multiple tasks.
type Store struct {
	root string

	refMu     sync.Mutex
	refCounts map[Hash]int
}

// Open creates (if necessary) and returns a Store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store root %q: %w", dir, err)
	}
	return &Store{root: dir, refCounts: make(map[Hash]int)}, nil
}

// blobKey is the lowercase hex sha2-256 digest of h, which names both the
// shard directories and the blob file.
func blobKey(h Hash) string {
	if h.c.Defined() {
		if dm, err := multihash.Decode(h.c.Hash()); err == nil {
			return hex.EncodeToString(dm.Digest)
		}
	}
	return h.String()
}

func (s *Store) blobDir(h Hash) string {
	key := blobKey(h)
	if len(key) < 4 {
		key = key + "____"
	}
	return filepath.Join(s.root, algoName, key[0:2], key[2:4])
}

func (s *Store) blobPath(h Hash) string {
	return filepath.Join(s.blobDir(h), blobKey(h)+".blob")
}

// Has reports whether h is fully present locally.
func (s *Store) Has(h Hash) (bool, error) {
	_, err := os.Stat(s.blobPath(h))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// PutBytes stores data verbatim and returns its hash plus a TempTag
// keeping it alive.
func (s *Store) PutBytes(data []byte) (Hash, *TempTag, error) {
	h, err := HashBytes(data)
	if err != nil {
		return Hash{}, nil, err
	}
	if err := s.writeBlob(h, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	}); err != nil {
		return Hash{}, nil, err
	}
	return h, s.newTempTag([]Hash{h}), nil
}

// PutFromReader streams r into the store, verifying the content hashes to
// want before committing the blob into place. This is how the Receive Task
// persists chunks arriving over the peer connection (spec.md §4.4 step 9).
func (s *Store) PutFromReader(want Hash, r io.Reader) (*TempTag, error) {
	vr := NewVerifyingReader(r)
	tmp, err := os.CreateTemp(s.root, "incoming-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, vr); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write incoming blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close incoming blob: %w", err)
	}

	got, err := vr.Sum()
	if err != nil {
		return nil, err
	}
	if got != want {
		return nil, fmt.Errorf("content hash mismatch: want %s got %s", want, got)
	}

	dir := s.blobDir(want)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	if err := os.Rename(tmpPath, s.blobPath(want)); err != nil {
		return nil, fmt.Errorf("finalize blob: %w", err)
	}
	return s.newTempTag([]Hash{want}), nil
}

func (s *Store) writeBlob(h Hash, write func(*os.File) error) error {
	if ok, _ := s.Has(h); ok {
		return nil
	}
	dir := s.blobDir(h)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create blob directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.blobPath(h)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finalize blob: %w", err)
	}
	return nil
}

// Size returns the on-disk size of blob h.
func (s *Store) Size(h Hash) (int64, error) {
	fi, err := os.Stat(s.blobPath(h))
	if os.IsNotExist(err) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// OpenReader opens blob h for reading.
func (s *Store) OpenReader(h Hash) (io.ReadCloser, error) {
	f, err := os.Open(s.blobPath(h))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return f, err
}

// ImportFile imports a regular file's bytes into the store, returning its
// hash, size, and a TempTag keeping it alive (spec.md §4.2 "import path").
func (s *Store) ImportFile(_ context.Context, path string) (Hash, int64, *TempTag, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hash{}, 0, nil, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return Hash{}, 0, nil, fmt.Errorf("stat %q: %w", path, err)
	}

	hasher := NewHasher()
	dir := filepath.Join(s.root, ".importing")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Hash{}, 0, nil, err
	}
	tmp, err := os.CreateTemp(dir, "import-*")
	if err != nil {
		return Hash{}, 0, nil, fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	mw := io.MultiWriter(tmp, hasher)
	if _, err := io.Copy(mw, f); err != nil {
		tmp.Close()
		return Hash{}, 0, nil, fmt.Errorf("import %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return Hash{}, 0, nil, err
	}

	h, err := hasher.Sum()
	if err != nil {
		return Hash{}, 0, nil, err
	}

	if ok, _ := s.Has(h); !ok {
		blobDir := s.blobDir(h)
		if err := os.MkdirAll(blobDir, 0o700); err != nil {
			return Hash{}, 0, nil, err
		}
		if err := os.Rename(tmpPath, s.blobPath(h)); err != nil {
			return Hash{}, 0, nil, fmt.Errorf("finalize %q: %w", path, err)
		}
	}

	return h, fi.Size(), s.newTempTag([]Hash{h}), nil
}

// StoreCollection serializes entries into a Collection, stores the
// resulting metadata blob, and returns its root Hash plus a TempTag that
// keeps the metadata blob AND every referenced payload blob (held by refs)
// alive for as long as the tag is held.
func (s *Store) StoreCollection(entries []Entry, refs []*TempTag) (Hash, *TempTag, error) {
	data, err := marshalCollection(Collection{Entries: entries})
	if err != nil {
		return Hash{}, nil, err
	}
	root, metaTag, err := s.PutBytes(data)
	if err != nil {
		return Hash{}, nil, err
	}

	all := append([]Hash{}, metaTag.Hashes()...)
	for _, t := range refs {
		all = append(all, t.Hashes()...)
	}
	combined := s.newTempTag(all)
	metaTag.Release()
	return root, combined, nil
}

// LoadCollection loads the Collection stored at root.
func (s *Store) LoadCollection(root Hash) (Collection, error) {
	r, err := s.OpenReader(root)
	if err != nil {
		return Collection{}, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return Collection{}, fmt.Errorf("read collection blob: %w", err)
	}
	return unmarshalCollection(data)
}

// HashSequenceSizes returns [metadata_size, entry_0_size, entry_1_size, ...]
// for root, the on-the-wire "hash sequence" spec.md's glossary describes.
// All sizes are read from local disk, so the collection (and thus root)
// must already be present locally.
func (s *Store) HashSequenceSizes(root Hash) ([]int64, error) {
	metaSize, err := s.Size(root)
	if err != nil {
		return nil, err
	}
	coll, err := s.LoadCollection(root)
	if err != nil {
		return nil, err
	}
	sizes := make([]int64, 0, len(coll.Entries)+1)
	sizes = append(sizes, metaSize)
	for _, e := range coll.Entries {
		sizes = append(sizes, e.Size)
	}
	return sizes, nil
}
