// Package maker implements the Maker state machine (spec.md §4.D): a
// long-running service that accepts inbound Transport connections from
// Takers (or upstream Makers) and walks each one through the 12-state
// table in state.go, enforcing the contract-signing and fee policies in
// policy.go before it ever signs anything.
//
// The accept loop and per-connection dispatch are modeled on peer.go's
// server/peer split: Maker.Serve owns the Listener and spawns one conn
// per accepted Transport.Conn, and conn.readHandler is peer.go's
// readHandler collapsed to coinswap's much smaller message set.
package maker

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/lightninglabs/coinswap/build"
	"github.com/lightninglabs/coinswap/chainclient"
	"github.com/lightninglabs/coinswap/coinswaperr"
	"github.com/lightninglabs/coinswap/journal"
	"github.com/lightninglabs/coinswap/swap"
	"github.com/lightninglabs/coinswap/swapwire"
	"github.com/lightninglabs/coinswap/transport"
	"github.com/lightninglabs/coinswap/walletrpc"
	"github.com/lightninglabs/coinswap/watchtower"
)

var log = build.NewSubLogger("MAKR")

// ProtocolVersion is the only version this implementation speaks.
// MakerHello reports it; a mismatched TakerHello is rejected with a
// ProtocolError rather than negotiated down, as spec.md §4.B names no
// fallback behavior.
const ProtocolVersion = 1

// Config bundles everything one running Maker needs, every field an
// external interface from spec.md §6 so tests can substitute fakes for
// all of them.
type Config struct {
	Wallet     walletrpc.Wallet
	Chain      chainclient.ChainClient
	Watchtower *watchtower.Watchtower
	Journal    journal.ControlTower
	Transport  transport.Transport

	Offer               swapwire.Offer
	FundingPriv         *btcec.PrivateKey
	MinIncomingTimelock uint32

	// Behavior selects fault injection for the test suite; production
	// callers always leave it at the zero value, Normal.
	Behavior Behavior
}

// Maker runs the accept loop and owns every live connection's state.
type Maker struct {
	cfg Config

	listener transport.Listener

	mu    sync.Mutex
	conns map[swap.SwapID]*conn

	quit chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Maker from cfg. Call Start to begin accepting
// connections.
func New(cfg Config) *Maker {
	return &Maker{
		cfg:   cfg,
		conns: make(map[swap.SwapID]*conn),
		quit:  make(chan struct{}),
	}
}

// Start brings up the underlying Transport and begins accepting inbound
// swap connections in a background goroutine.
func (m *Maker) Start() error {
	if err := m.cfg.Transport.Start(); err != nil {
		return coinswaperr.Wrap(err)
	}

	ln, err := m.cfg.Transport.Listen(context.Background())
	if err != nil {
		return coinswaperr.Wrap(err)
	}
	m.listener = ln

	m.wg.Add(1)
	go m.acceptLoop()

	log.Infof("maker listening on %v", ln.Addr())
	return nil
}

// Stop closes the listener, every live connection, and tears down the
// Transport.
func (m *Maker) Stop() error {
	close(m.quit)

	if m.listener != nil {
		m.listener.Close()
	}

	m.mu.Lock()
	for _, c := range m.conns {
		c.transportConn.Close()
	}
	m.mu.Unlock()

	m.wg.Wait()

	return m.cfg.Transport.Stop()
}

func (m *Maker) acceptLoop() {
	defer m.wg.Done()

	for {
		tc, err := m.listener.Accept()
		if err != nil {
			select {
			case <-m.quit:
				return
			default:
				log.Errorf("accept failed: %v", err)
				return
			}
		}

		c := newConn(m, tc)

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			c.readHandler()
		}()
	}
}

func (m *Maker) registerConn(id swap.SwapID, c *conn) {
	m.mu.Lock()
	m.conns[id] = c
	m.mu.Unlock()
}

func (m *Maker) unregisterConn(id swap.SwapID) {
	m.mu.Lock()
	delete(m.conns, id)
	m.mu.Unlock()
}

// persistPhase journals ctx's current snapshot, logging but not failing
// the connection on a journal error — a missed journal write only
// degrades crash recovery, it does not risk funds (spec.md §7).
func (m *Maker) persistPhase(ctx *swap.SwapContext) {
	if m.cfg.Journal == nil {
		return
	}
	if err := m.cfg.Journal.Put(ctx); err != nil {
		log.Errorf("failed to journal swap %x: %v", ctx.ID, err)
	}
}
