package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/lightningnetwork/lnd/tor"
	"golang.org/x/net/proxy"

	"github.com/lightninglabs/coinswap/coinswaperr"
	"github.com/lightninglabs/coinswap/swap"
)

// OnionTransport carries coinswap frames over Tor: inbound, via a v2
// onion service created through the Tor control port; outbound, via a
// SOCKS5 dial routed through the local Tor daemon, the same pairing
// breez-lightninglib's daemon uses for cfg.Tor.Active nodes.
type OnionTransport struct {
	controlAddr string
	socksAddr   string
	privKeyPath string
	listenPort  int

	controller *tor.Controller
}

// NewOnionTransport talks to the Tor daemon's control port at
// controlAddr and routes outbound dials through the SOCKS5 proxy at
// socksAddr; privKeyPath persists the onion service's key across
// restarts so the Maker's .onion address stays stable.
func NewOnionTransport(controlAddr, socksAddr, privKeyPath string, listenPort int) *OnionTransport {
	return &OnionTransport{
		controlAddr: controlAddr,
		socksAddr:   socksAddr,
		privKeyPath: privKeyPath,
		listenPort:  listenPort,
	}
}

func (t *OnionTransport) Start() error {
	t.controller = tor.NewController(t.controlAddr)
	if err := t.controller.Start(); err != nil {
		return coinswaperr.Wrap(err)
	}
	return nil
}

func (t *OnionTransport) Stop() error {
	if t.controller != nil {
		t.controller.Stop()
	}
	return nil
}

// Connect dials addr.Host (an ".onion:port" string) through the local
// Tor SOCKS5 proxy. It never resolves the hostname itself — Tor does
// that inside the circuit, which is the entire point.
func (t *OnionTransport) Connect(ctx context.Context, addr swap.MakerAddress) (Conn, error) {
	dialer, err := proxy.SOCKS5("tcp", t.socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, coinswaperr.Wrap(err)
	}

	type dialResult struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		conn, err := dialer.Dial("tcp", addr.Host)
		resultCh <- dialResult{conn, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, coinswaperr.Wrap(res.err)
		}
		return &tcpConn{Conn: res.conn, remote: addr}, nil
	case <-ctx.Done():
		return nil, &coinswaperr.Timeout{Op: "OnionTransport.Connect"}
	}
}

// Listen creates (or reuses, from privKeyPath) a v2 onion service
// mapping its virtual listenPort to a locally bound TCP listener, per
// breez-lightninglib daemon/server.go's initTorController.
func (t *OnionTransport) Listen(ctx context.Context) (Listener, error) {
	localLn, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", t.listenPort))
	if err != nil {
		return nil, coinswaperr.Wrap(err)
	}

	virtToTargPorts := tor.VirtToTargPorts{
		t.listenPort: map[int]struct{}{t.listenPort: {}},
	}
	addrs, err := t.controller.AddOnionV2(t.privKeyPath, virtToTargPorts)
	if err != nil {
		localLn.Close()
		return nil, coinswaperr.Wrap(err)
	}
	if len(addrs) == 0 {
		localLn.Close()
		return nil, fmt.Errorf("transport: Tor returned no onion address")
	}

	onionAddr, ok := addrs[0].(*tor.OnionAddr)
	if !ok {
		localLn.Close()
		return nil, fmt.Errorf("transport: unexpected onion address type %T", addrs[0])
	}

	return &onionListener{
		ln: localLn,
		addr: swap.MakerAddress{
			Network: "onion",
			Host:    net.JoinHostPort(onionAddr.OnionService, strconv.Itoa(onionAddr.Port)),
		},
	}, nil
}

type onionListener struct {
	ln   net.Listener
	addr swap.MakerAddress
}

func (l *onionListener) Accept() (Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, coinswaperr.Wrap(err)
	}
	return &tcpConn{Conn: conn, remote: l.addr}, nil
}

func (l *onionListener) Close() error { return l.ln.Close() }

func (l *onionListener) Addr() swap.MakerAddress { return l.addr }
