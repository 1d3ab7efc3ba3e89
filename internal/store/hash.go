// Package store implements the content-addressed Blob Store described in
// spec.md §4.2: local on-disk blob storage, collection assembly, temp-tag
// lifetime management, and export-by-hash. Content identifiers are
// github.com/ipfs/go-cid CIDs over a sha2-256 multihash, the same
// addressing scheme perkeep-perkeep and the wider IPFS-family tooling in
// the retrieval pack use; the on-disk layout is ported from
// perkeep-perkeep/pkg/blobserver/localdisk's two-level hex-shard scheme.
package store

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Hash is the content identifier of a Blob: a CIDv1 over a raw sha2-256
// multihash. It is comparable and usable as a map key.
type Hash struct {
	c cid.Cid
}

// IsZero reports whether h has never been assigned a value.
func (h Hash) IsZero() bool { return !h.c.Defined() }

// String renders the hash as its printable CID form (base32, lowercase).
func (h Hash) String() string {
	if !h.c.Defined() {
		return ""
	}
	return h.c.String()
}

// MarshalText implements encoding.TextMarshaler so Hash can be embedded
// directly in JSON-encoded tickets and collections.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash parses a hash previously produced by Hash.String.
func ParseHash(s string) (Hash, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return Hash{}, fmt.Errorf("parse hash %q: %w", s, err)
	}
	return Hash{c: c}, nil
}

// HashBytes computes the content Hash of an in-memory buffer.
func HashBytes(data []byte) (Hash, error) {
	sum := sha256.Sum256(data)
	return hashFromDigest(sum[:])
}

// Hasher incrementally hashes a byte stream, mirroring io.Writer so it can
// sit in an io.MultiWriter alongside the destination file during import.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns a Hasher ready to accept Write calls.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

func (h *Hasher) Write(p []byte) (int, error) { return h.h.Write(p) }

// Sum finalizes the hash computed so far.
func (h *Hasher) Sum() (Hash, error) {
	return hashFromDigest(h.h.Sum(nil))
}

func hashFromDigest(digest []byte) (Hash, error) {
	mh, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		return Hash{}, fmt.Errorf("encode multihash: %w", err)
	}
	return Hash{c: cid.NewCidV1(cid.Raw, mh)}, nil
}

// VerifyingReader wraps an io.Reader, hashing everything read through it so
// the final Sum can be compared against an expected Hash once the reader is
// exhausted — used by the receive task to verify fetched chunks.
type VerifyingReader struct {
	r      io.Reader
	hasher *Hasher
}

func NewVerifyingReader(r io.Reader) *VerifyingReader {
	return &VerifyingReader{r: r, hasher: NewHasher()}
}

func (v *VerifyingReader) Read(p []byte) (int, error) {
	n, err := v.r.Read(p)
	if n > 0 {
		v.hasher.Write(p[:n])
	}
	return n, err
}

func (v *VerifyingReader) Sum() (Hash, error) { return v.hasher.Sum() }
