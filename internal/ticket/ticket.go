// Package ticket encodes and decodes the printable token described in
// spec.md §3/§4.3 step 4: a content hash plus an addressable peer record,
// everything a receiver needs to locate and verify a collection. Framing
// follows the JSON-envelope-then-encode idiom pkg/relay/protocol.go uses
// for its RelayMessage payloads in the teacher repo; the peer address
// itself is a go-libp2p peer.AddrInfo, the pack's closest real analogue to
// an iroh NodeAddr.
package ticket

import (
	"encoding/base32"
	"encoding/json"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/MrBloodrune/tuit/internal/store"
)

// wireFormat is the current (and only) hash-sequence format tag; it exists
// so a future wire change can be detected and rejected cleanly instead of
// silently misparsed.
const wireFormat = 1

// Ticket is the opaque, printable token a Send Task publishes and a
// Receive Task consumes.
type Ticket struct {
	Format int
	Hash   store.Hash
	Peer   peer.AddrInfo
}

// New builds a Ticket for the current wire format, the constructor the
// Send Task calls once its endpoint is online (spec.md §4.3 step 4).
func New(h store.Hash, p peer.AddrInfo) Ticket {
	return Ticket{Format: wireFormat, Hash: h, Peer: p}
}

type wireTicket struct {
	Format int      `json:"format"`
	Hash   string   `json:"hash"`
	PeerID string   `json:"peer_id"`
	Addrs  []string `json:"addrs"`
}

// Encode renders t as a printable token.
func Encode(t Ticket) (string, error) {
	addrs := make([]string, 0, len(t.Peer.Addrs))
	for _, a := range t.Peer.Addrs {
		addrs = append(addrs, a.String())
	}
	w := wireTicket{
		Format: wireFormat,
		Hash:   t.Hash.String(),
		PeerID: t.Peer.ID.String(),
		Addrs:  addrs,
	}
	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encode ticket: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(data), nil
}

// Decode parses a token produced by Encode. A malformed token is reported
// as a single error; spec.md §7 requires this to become a synthetic
// Failed record with no endpoint ever bound.
func Decode(token string) (Ticket, error) {
	data, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(token)
	if err != nil {
		return Ticket{}, fmt.Errorf("malformed ticket: %w", err)
	}
	var w wireTicket
	if err := json.Unmarshal(data, &w); err != nil {
		return Ticket{}, fmt.Errorf("malformed ticket: %w", err)
	}
	if w.Format != wireFormat {
		return Ticket{}, fmt.Errorf("malformed ticket: unsupported format %d", w.Format)
	}

	h, err := store.ParseHash(w.Hash)
	if err != nil {
		return Ticket{}, fmt.Errorf("malformed ticket: %w", err)
	}
	pid, err := peer.Decode(w.PeerID)
	if err != nil {
		return Ticket{}, fmt.Errorf("malformed ticket: %w", err)
	}
	addrs := make([]multiaddr.Multiaddr, 0, len(w.Addrs))
	for _, s := range w.Addrs {
		a, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return Ticket{}, fmt.Errorf("malformed ticket: invalid address %q: %w", s, err)
		}
		addrs = append(addrs, a)
	}

	return Ticket{
		Format: w.Format,
		Hash:   h,
		Peer:   peer.AddrInfo{ID: pid, Addrs: addrs},
	}, nil
}
