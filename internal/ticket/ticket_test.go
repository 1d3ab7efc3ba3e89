package ticket

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/MrBloodrune/tuit/internal/store"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	priv, pub, err := crypto.GenerateEd25519Key(nil)
	require.NoError(t, err)
	_ = priv
	pid, err := peer.IDFromPublicKey(pub)
	require.NoError(t, err)

	addr, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/udp/4242/quic-v1")
	require.NoError(t, err)

	h, err := store.HashBytes([]byte("root"))
	require.NoError(t, err)

	want := Ticket{
		Format: wireFormat,
		Hash:   h,
		Peer:   peer.AddrInfo{ID: pid, Addrs: []multiaddr.Multiaddr{addr}},
	}

	tok, err := Encode(want)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	got, err := Decode(tok)
	require.NoError(t, err)
	require.Equal(t, want.Hash, got.Hash)
	require.Equal(t, want.Peer.ID, got.Peer.ID)
	require.Len(t, got.Peer.Addrs, 1)
	require.Equal(t, addr.String(), got.Peer.Addrs[0].String())
}

func TestDecodeMalformedTicket(t *testing.T) {
	_, err := Decode("not a valid ticket at all!!")
	require.Error(t, err)
}
