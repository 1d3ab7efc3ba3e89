package transport

import (
	"fmt"
	"io"

	"github.com/MrBloodrune/tuit/internal/store"
)

// StoreSource adapts a *store.Store to BlobSource, letting the Send Task's
// stream handler serve any locally-held blob by its string hash.
type StoreSource struct {
	Store *store.Store
}

func (s StoreSource) Size(hash string) (int64, error) {
	h, err := store.ParseHash(hash)
	if err != nil {
		return 0, fmt.Errorf("parse requested hash: %w", err)
	}
	return s.Store.Size(h)
}

func (s StoreSource) Open(hash string) (io.ReadCloser, error) {
	h, err := store.ParseHash(hash)
	if err != nil {
		return nil, fmt.Errorf("parse requested hash: %w", err)
	}
	return s.Store.OpenReader(h)
}

// StoreSink adapts a *store.Store to BlobSink, verifying each incoming
// blob's hash before it lands in the store (spec.md §4.4 step 9's
// fetch/verify contract).
type StoreSink struct {
	Store *store.Store
}

func (s StoreSink) Create(hash string, _ int64) (io.WriteCloser, error) {
	h, err := store.ParseHash(hash)
	if err != nil {
		return nil, fmt.Errorf("parse incoming hash: %w", err)
	}
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		tag, putErr := s.Store.PutFromReader(h, pr)
		if putErr == nil {
			tag.Release()
		}
		done <- putErr
	}()
	return &pipedWriteCloser{pw: pw, done: done}, nil
}

type pipedWriteCloser struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *pipedWriteCloser) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *pipedWriteCloser) Close() error {
	_ = w.pw.Close()
	return <-w.done
}
