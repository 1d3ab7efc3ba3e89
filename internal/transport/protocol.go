package transport

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// ProtocolID is the single libp2p stream protocol this orchestrator speaks,
// mirroring the one-protocol-per-purpose shape of pkg/relay/protocol.go's
// RelayProtocolID in the teacher repo.
const ProtocolID = protocol.ID("/tuit/transfer/1.0.0")

// GetRequest is the first and only value a receiver writes to a stream: the
// ordered list of blobs it wants. The Receive Task asks for the root
// collection alone on one stream, then for the payload blobs it lacks on
// another.
type GetRequest struct {
	WantHashes []string `json:"want_hashes"`
}

type frameType string

const (
	frameStart frameType = "start"
	frameChunk frameType = "chunk"
	frameDone  frameType = "done"
	frameError frameType = "error"
)

// Frame is one self-describing unit of the sender's reply stream. Frames for
// a given hash always run start, zero or more chunk, then done (or error in
// place of done). Like pkg/relay/protocol.go's RelayMessage, each frame
// carries its own discriminant rather than relying on stream framing.
type Frame struct {
	Type    frameType `json:"type"`
	Hash    string    `json:"hash"`
	Size    int64     `json:"size,omitempty"`
	Offset  int64     `json:"offset,omitempty"`
	Data    []byte    `json:"data,omitempty"`
	Message string    `json:"message,omitempty"`
}

// chunkSize bounds how much blob data rides in a single frame.
const chunkSize = 64 * 1024

// WriteGetRequest sends a GetRequest as the sole value on a freshly opened
// stream.
func WriteGetRequest(s network.Stream, req GetRequest) error {
	if err := json.NewEncoder(s).Encode(req); err != nil {
		return fmt.Errorf("write get request: %w", err)
	}
	return nil
}

// ReadGetRequest reads the GetRequest a receiver sent on a newly accepted
// stream.
func ReadGetRequest(s network.Stream) (GetRequest, error) {
	var req GetRequest
	if err := json.NewDecoder(s).Decode(&req); err != nil {
		return GetRequest{}, fmt.Errorf("read get request: %w", err)
	}
	return req, nil
}

// BlobSource supplies the bytes of a single blob by hash; StoreSource
// adapts internal/store.Store to it.
type BlobSource interface {
	Size(hash string) (int64, error)
	Open(hash string) (io.ReadCloser, error)
}

// WriteBlobs streams every hash in order as a start/chunk*/done run of
// frames. It stops at the first error, sending a frameError for the hash
// that failed rather than closing the stream abruptly, so the receiver can
// attribute the failure. onChunk, if non-nil, is called with the size of
// every chunk written, feeding the sender's Speed Tracker (spec.md §4.3
// step 7).
func WriteBlobs(s network.Stream, src BlobSource, hashes []string, onChunk func(n int64)) error {
	enc := json.NewEncoder(s)
	for _, h := range hashes {
		size, err := src.Size(h)
		if err != nil {
			return enc.Encode(Frame{Type: frameError, Hash: h, Message: err.Error()})
		}
		if err := enc.Encode(Frame{Type: frameStart, Hash: h, Size: size}); err != nil {
			return fmt.Errorf("write start frame: %w", err)
		}

		r, err := src.Open(h)
		if err != nil {
			return enc.Encode(Frame{Type: frameError, Hash: h, Message: err.Error()})
		}
		sendErr := streamChunks(enc, h, r, onChunk)
		r.Close()
		if sendErr != nil {
			return enc.Encode(Frame{Type: frameError, Hash: h, Message: sendErr.Error()})
		}
		if err := enc.Encode(Frame{Type: frameDone, Hash: h}); err != nil {
			return fmt.Errorf("write done frame: %w", err)
		}
	}
	return nil
}

func streamChunks(enc *json.Encoder, hash string, r io.Reader, onChunk func(n int64)) error {
	buf := make([]byte, chunkSize)
	var offset int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if encErr := enc.Encode(Frame{Type: frameChunk, Hash: hash, Offset: offset, Data: chunk}); encErr != nil {
				return fmt.Errorf("write chunk frame: %w", encErr)
			}
			offset += int64(n)
			if onChunk != nil {
				onChunk(int64(n))
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read blob: %w", err)
		}
	}
}

// BlobSink receives the bytes of a single blob; StoreSink adapts
// internal/store.Store to it through Store.PutFromReader.
type BlobSink interface {
	Create(hash string, size int64) (io.WriteCloser, error)
}

// ReadBlobs decodes the frame stream WriteBlobs produces, writing each
// blob's bytes to sink. onChunk, if non-nil, is called with the size of
// every chunk received (feeding the receiver's Speed Tracker); onDone is
// called after every successful blob so callers can advance the cumulative
// base (spec.md §4.4 step 9). It returns on the first frameError or after
// len(wantHashes) blobs have completed.
func ReadBlobs(s network.Stream, sink BlobSink, wantHashes []string, onChunk func(n int64), onDone func(hash string, size int64)) error {
	dec := json.NewDecoder(s)
	remaining := make(map[string]struct{}, len(wantHashes))
	for _, h := range wantHashes {
		remaining[h] = struct{}{}
	}

	var w io.WriteCloser
	var activeHash string
	var activeSize int64

	for len(remaining) > 0 {
		var f Frame
		if err := dec.Decode(&f); err != nil {
			if err == io.EOF {
				return fmt.Errorf("stream closed with %d blob(s) outstanding", len(remaining))
			}
			return fmt.Errorf("read frame: %w", err)
		}

		switch f.Type {
		case frameStart:
			wc, err := sink.Create(f.Hash, f.Size)
			if err != nil {
				return fmt.Errorf("create blob sink for %s: %w", f.Hash, err)
			}
			w, activeHash, activeSize = wc, f.Hash, f.Size
		case frameChunk:
			if w == nil || f.Hash != activeHash {
				return fmt.Errorf("chunk frame for %s without matching start", f.Hash)
			}
			if _, err := w.Write(f.Data); err != nil {
				return fmt.Errorf("write blob %s: %w", f.Hash, err)
			}
			if onChunk != nil {
				onChunk(int64(len(f.Data)))
			}
		case frameDone:
			if w == nil || f.Hash != activeHash {
				return fmt.Errorf("done frame for %s without matching start", f.Hash)
			}
			if err := w.Close(); err != nil {
				return fmt.Errorf("finalize blob %s: %w", f.Hash, err)
			}
			if onDone != nil {
				onDone(f.Hash, activeSize)
			}
			delete(remaining, f.Hash)
			w, activeHash, activeSize = nil, "", 0
		case frameError:
			return fmt.Errorf("peer reported error for blob %s: %s", f.Hash, f.Message)
		default:
			return fmt.Errorf("unknown frame type %q", f.Type)
		}
	}
	return nil
}
