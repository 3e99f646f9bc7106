package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lightninglabs/coinswap/swap"
	"github.com/lightninglabs/coinswap/swapwire"
)

// TestClearnetTransportLoopback dials a listener started by the same
// transport and round-trips one swapwire message, verifying Conn
// satisfies the io.ReadWriteCloser contract swapwire.ReadMessage/
// WriteMessage expect.
func TestClearnetTransportLoopback(t *testing.T) {
	srv := NewClearnetTransport("127.0.0.1:0", 0)

	ln, err := srv.Listen(context.Background())
	require.NoError(t, err)
	defer ln.Close()

	acceptedCh := make(chan Conn, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		acceptedCh <- conn
	}()

	cli := NewClearnetTransport("", 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientConn, err := cli.Connect(ctx, swap.MakerAddress{
		Network: "tcp",
		Host:    ln.Addr().Host,
	})
	require.NoError(t, err)
	defer clientConn.Close()

	serverConn := <-acceptedCh
	defer serverConn.Close()

	hello := &swapwire.TakerHello{ProtocolVersion: 1}
	_, err = swapwire.WriteMessage(clientConn, hello)
	require.NoError(t, err)

	got, err := swapwire.ReadMessage(serverConn)
	require.NoError(t, err)
	require.Equal(t, hello, got)
}
