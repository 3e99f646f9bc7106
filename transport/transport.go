// Package transport implements the Transport external interface
// (spec.md §6): connect/read_frame/write_frame/close over either a
// clearnet TCP socket or a Tor onion service, so the Maker state machine
// and Taker orchestrator never see the difference between the two.
package transport

import (
	"context"
	"io"

	"github.com/lightninglabs/coinswap/build"
	"github.com/lightninglabs/coinswap/swap"
)

var log = build.NewSubLogger("TRSP")

// Conn is one peer connection. It is an io.ReadWriteCloser so the
// swapwire codec's ReadMessage/WriteMessage work directly against it —
// framing is swapwire's job, not the transport's; Conn only delivers
// bytes reliably and in order, exactly as a net.Conn would.
type Conn interface {
	io.ReadWriteCloser

	// RemoteAddr identifies who's on the other end, for logging and
	// for bad_makers bookkeeping.
	RemoteAddr() swap.MakerAddress
}

// Listener accepts inbound Conns, used by a Maker.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() swap.MakerAddress
}

// Transport is the external interface spec.md §6 names: connect(addr),
// and (for a Maker) a listener to accept inbound swaps.
type Transport interface {
	// Connect dials addr, returning a Conn once the underlying
	// transport handshake (TCP, or Tor circuit build) completes or ctx
	// is cancelled.
	Connect(ctx context.Context, addr swap.MakerAddress) (Conn, error)

	// Listen starts accepting inbound connections, advertising
	// whatever address a Maker should publish via
	// market.DirectoryClient.PostAddress.
	Listen(ctx context.Context) (Listener, error)

	// Start performs one-time setup (NAT traversal, Tor controller
	// bootstrap). Stop tears it down.
	Start() error
	Stop() error
}
