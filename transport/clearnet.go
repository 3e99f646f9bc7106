package transport

import (
	"context"
	"net"
	"time"

	upnp "github.com/NebulousLabs/go-upnp"
	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"

	"github.com/lightninglabs/coinswap/coinswaperr"
	"github.com/lightninglabs/coinswap/swap"
)

// dialTimeout bounds ClearnetTransport.Connect, long enough for a slow
// peer across the public internet without hanging the Taker's whole
// route-negotiation phase on one dead Maker.
const dialTimeout = 15 * time.Second

// natMappingDuration is the lease requested for a port mapping. A UPnP
// mapping is renewed every half lease for as long as the Transport runs;
// a NAT-PMP mapping is requested once and is not renewed.
const natMappingDuration = 20 * time.Minute

// ClearnetTransport carries coinswap frames over plain TCP, optionally
// punching a port forward through a home router via UPnP or NAT-PMP so a
// Maker behind NAT can still accept inbound connections.
type ClearnetTransport struct {
	listenAddr string
	extPort    int

	upnpIGD  *upnp.IGD
	natpmpGW *natpmp.Client

	quit chan struct{}
}

// NewClearnetTransport listens/dials on listenAddr (e.g. ":9735"),
// attempting to map extPort externally via whatever NAT traversal method
// is available on Start.
func NewClearnetTransport(listenAddr string, extPort int) *ClearnetTransport {
	return &ClearnetTransport{
		listenAddr: listenAddr,
		extPort:    extPort,
		quit:       make(chan struct{}),
	}
}

// Start attempts UPnP port mapping first, falling back to NAT-PMP, and
// otherwise proceeds unmapped — a Maker operator on a public IP or who
// already configured manual port forwarding isn't blocked by either
// failing.
func (t *ClearnetTransport) Start() error {
	if igd, err := upnp.Discover(); err == nil {
		if mapErr := igd.Forward(uint16(t.extPort), "coinswap"); mapErr == nil {
			t.upnpIGD = igd
			log.Infof("mapped external port %d via UPnP", t.extPort)
			go t.renewUPnP()
			return nil
		}
		log.Debugf("UPnP discovered but port mapping failed: %v", err)
	}

	gatewayIP, err := gateway.DiscoverGateway()
	if err == nil {
		client := natpmp.NewClient(gatewayIP)
		if _, mapErr := client.AddPortMapping("tcp", t.extPort, t.extPort,
			int(natMappingDuration.Seconds())); mapErr == nil {

			t.natpmpGW = client
			log.Infof("mapped external port %d via NAT-PMP", t.extPort)
			return nil
		}
	}

	log.Warnf("no NAT traversal method succeeded; assuming port %d is "+
		"already reachable", t.extPort)
	return nil
}

func (t *ClearnetTransport) renewUPnP() {
	ticker := time.NewTicker(natMappingDuration / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := t.upnpIGD.Forward(uint16(t.extPort), "coinswap"); err != nil {
				log.Warnf("failed to renew UPnP port mapping: %v", err)
			}
		case <-t.quit:
			return
		}
	}
}

func (t *ClearnetTransport) Stop() error {
	close(t.quit)
	if t.upnpIGD != nil {
		return t.upnpIGD.Clear(uint16(t.extPort))
	}
	return nil
}

func (t *ClearnetTransport) Connect(ctx context.Context, addr swap.MakerAddress) (Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr.Host)
	if err != nil {
		return nil, coinswaperr.Wrap(err)
	}
	return &tcpConn{Conn: conn, remote: addr}, nil
}

func (t *ClearnetTransport) Listen(ctx context.Context) (Listener, error) {
	ln, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return nil, coinswaperr.Wrap(err)
	}
	return &tcpListener{ln: ln}, nil
}

// tcpConn adapts a net.Conn to the Conn interface.
type tcpConn struct {
	net.Conn
	remote swap.MakerAddress
}

func (c *tcpConn) RemoteAddr() swap.MakerAddress { return c.remote }

type tcpListener struct {
	ln net.Listener
}

func (l *tcpListener) Accept() (Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, coinswaperr.Wrap(err)
	}
	remote := swap.MakerAddress{Network: "tcp", Host: conn.RemoteAddr().String()}
	return &tcpConn{Conn: conn, remote: remote}, nil
}

func (l *tcpListener) Close() error { return l.ln.Close() }

func (l *tcpListener) Addr() swap.MakerAddress {
	return swap.MakerAddress{Network: "tcp", Host: l.ln.Addr().String()}
}
