package transport

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

// newLocalEndpoint binds to loopback TCP only, skipping QUIC/hole-punching
// setup so tests run fast and don't touch the network beyond localhost.
func newLocalEndpoint(t *testing.T) *Endpoint {
	t.Helper()
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return &Endpoint{Host: h}
}

func TestEndpointConnectAndIsRelayed(t *testing.T) {
	a := newLocalEndpoint(t)
	b := newLocalEndpoint(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Online(ctx, time.Second))

	err := b.Connect(ctx, a.AddrInfo(), 5*time.Second)
	require.NoError(t, err)

	require.False(t, b.IsRelayed(a.Host.ID()), "direct loopback connection should not classify as relayed")
}

func TestEndpointWaitFirstConnection(t *testing.T) {
	a := newLocalEndpoint(t)
	b := newLocalEndpoint(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan peer.ID, 1)
	go func() {
		pid, err := a.WaitFirstConnection(ctx)
		require.NoError(t, err)
		done <- pid
	}()

	require.NoError(t, b.Connect(ctx, a.AddrInfo(), 5*time.Second))

	select {
	case pid := <-done:
		require.Equal(t, b.Host.ID(), pid)
	case <-ctx.Done():
		t.Fatal("timed out waiting for connection notification")
	}
}

type memSource struct {
	blobs map[string][]byte
}

func (m memSource) Size(hash string) (int64, error) { return int64(len(m.blobs[hash])), nil }
func (m memSource) Open(hash string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.blobs[hash])), nil
}

type memSink struct {
	out map[string][]byte
}

type memWriteCloser struct {
	hash string
	buf  *bytes.Buffer
	sink *memSink
}

func (w *memWriteCloser) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *memWriteCloser) Close() error {
	w.sink.out[w.hash] = w.buf.Bytes()
	return nil
}

func (m *memSink) Create(hash string, size int64) (io.WriteCloser, error) {
	return &memWriteCloser{hash: hash, buf: new(bytes.Buffer), sink: m}, nil
}

func TestProtocolRoundTripOverRealStream(t *testing.T) {
	sender := newLocalEndpoint(t)
	receiver := newLocalEndpoint(t)

	src := memSource{blobs: map[string][]byte{
		"h1": bytes.Repeat([]byte("a"), chunkSize+17),
		"h2": []byte("small blob"),
	}}

	sender.Host.SetStreamHandler(ProtocolID, func(s network.Stream) {
		defer s.Close()
		req, err := ReadGetRequest(s)
		if err != nil {
			return
		}
		_ = WriteBlobs(s, src, req.WantHashes, nil)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, receiver.Connect(ctx, sender.AddrInfo(), 5*time.Second))

	stream, err := receiver.Host.NewStream(ctx, sender.Host.ID(), ProtocolID)
	require.NoError(t, err)
	defer stream.Close()

	want := []string{"h1", "h2"}
	require.NoError(t, WriteGetRequest(stream, GetRequest{WantHashes: want}))

	sink := &memSink{out: map[string][]byte{}}
	var completed []string
	var totalChunkBytes int64
	err = ReadBlobs(stream, sink, want, func(n int64) {
		totalChunkBytes += n
	}, func(hash string, size int64) {
		completed = append(completed, hash)
	})
	require.Positive(t, totalChunkBytes)
	require.NoError(t, err)
	require.ElementsMatch(t, want, completed)
	require.Equal(t, src.blobs["h1"], sink.out["h1"])
	require.Equal(t, src.blobs["h2"], sink.out["h2"])
}
