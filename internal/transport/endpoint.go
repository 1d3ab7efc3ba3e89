// Package transport binds the peer endpoint spec.md calls an "Endpoint":
// a go-libp2p host configured for hole-punching with a relay fallback, the
// pack's closest real analogue to an iroh Endpoint/NodeAddr. go-libp2p is
// already a direct dependency of the teacher repo, used there for peer
// identity and protocol framing in pkg/relay/protocol.go and
// pkg/announce/dht.
package transport

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// Endpoint is one bound peer identity and its listening sockets. Per
// spec.md's design note, the Receive Task binds a fresh Endpoint on every
// receive rather than reusing one across receives — a deliberate privacy
// choice, not a performance one.
type Endpoint struct {
	Host host.Host
}

// Bind creates a new Endpoint with a freshly generated identity, listening
// on ephemeral QUIC ports and configured for hole-punching with relay
// fallback (spec.md §1's NAT-traversal requirement).
func Bind(ctx context.Context) (*Endpoint, error) {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate endpoint identity: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(
			"/ip4/0.0.0.0/udp/0/quic-v1",
			"/ip6/::/udp/0/quic-v1",
		),
		libp2p.EnableHolePunching(),
		libp2p.EnableRelay(),
		libp2p.NATPortMap(),
	)
	if err != nil {
		return nil, fmt.Errorf("create endpoint: %w", err)
	}
	return &Endpoint{Host: h}, nil
}

// AddrInfo returns this endpoint's current address record, the payload a
// Ticket carries.
func (e *Endpoint) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: e.Host.ID(), Addrs: e.Host.Addrs()}
}

// Online blocks until the endpoint has at least one advertised address or
// timeout elapses. Per spec.md §4.3 step 3, a timeout here is logged by the
// caller but is not fatal — actual reachability surfaces later through lack
// of incoming connections, not through this wait.
func (e *Endpoint) Online(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if len(e.Host.Addrs()) > 0 {
			return nil
		}
		if !time.Now().Before(deadline) {
			return context.DeadlineExceeded
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Connect dials pi with the given timeout (spec.md §5's 30s receiver
// connect timeout).
func (e *Endpoint) Connect(ctx context.Context, pi peer.AddrInfo, timeout time.Duration) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := e.Host.Connect(cctx, pi); err != nil {
		return fmt.Errorf("connect to peer %s: %w", pi.ID, err)
	}
	return nil
}

// IsRelayed reports whether any live connection to p traverses a circuit
// relay, the classification the Receive Task reports as Connected{is_relay}
// (spec.md §4.4 step 1; default true if unknown).
func (e *Endpoint) IsRelayed(p peer.ID) bool {
	conns := e.Host.Network().ConnsToPeer(p)
	if len(conns) == 0 {
		return true
	}
	for _, c := range conns {
		if isCircuitAddr(c.RemoteMultiaddr()) {
			return true
		}
	}
	return false
}

func isCircuitAddr(addr multiaddr.Multiaddr) bool {
	for _, p := range addr.Protocols() {
		if p.Code == multiaddr.P_CIRCUIT {
			return true
		}
	}
	return false
}

// Close shuts down the endpoint, releasing its listening ports. The Send
// and Receive Tasks close their endpoint with a deferred call, so the ports
// are released only after the task's terminal event has been sent.
func (e *Endpoint) Close() error {
	return e.Host.Close()
}

// WaitFirstConnection blocks until some peer opens a connection to this
// endpoint, or ctx is cancelled. Used by the Send Task's Connecting phase:
// the sender has no dial to wait on, only an incoming connection from
// whoever redeemed its ticket.
func (e *Endpoint) WaitFirstConnection(ctx context.Context) (peer.ID, error) {
	h := e.Host
	connected := make(chan peer.ID, 1)
	notifiee := &network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			select {
			case connected <- c.RemotePeer():
			default:
			}
		},
	}
	h.Network().Notify(notifiee)
	defer h.Network().StopNotify(notifiee)

	// A peer may already be connected by the time we subscribe.
	if peers := h.Network().Peers(); len(peers) > 0 {
		return peers[0], nil
	}

	select {
	case pid := <-connected:
		return pid, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
