package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lightninglabs/coinswap/build"
	"github.com/lightninglabs/coinswap/coinswaperr"
	"github.com/lightninglabs/coinswap/swap"
)

var log = build.NewSubLogger("MRKT")

// makerListMessage is the wire shape the directory server long-polls
// over its websocket: the full current list of active Makers.
type makerListMessage struct {
	Makers []swap.MakerAddress `json:"makers"`
}

// postAddressMessage is sent by a Maker to register (or refresh) its own
// listing.
type postAddressMessage struct {
	Addr swap.MakerAddress `json:"addr"`
}

// HTTPDirectoryClient implements DirectoryClient over a clearnet
// websocket long-poll connection to a directory server, the simplest of
// the three backends and the default for Takers and Makers not running
// behind Tor.
type HTTPDirectoryClient struct {
	url string

	mu     sync.RWMutex
	conn   *websocket.Conn
	latest []swap.MakerAddress
	quit   chan struct{}
	dialer *websocket.Dialer
}

// NewHTTPDirectoryClient targets the directory server at url (a
// ws:// or wss:// endpoint).
func NewHTTPDirectoryClient(url string) *HTTPDirectoryClient {
	return &HTTPDirectoryClient{
		url:    url,
		dialer: websocket.DefaultDialer,
		quit:   make(chan struct{}),
	}
}

func (c *HTTPDirectoryClient) Start() error {
	conn, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		return coinswaperr.Wrap(err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func (c *HTTPDirectoryClient) readLoop(conn *websocket.Conn) {
	for {
		var msg makerListMessage
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.quit:
				return
			default:
			}
			log.Errorf("directory connection lost: %v", err)
			return
		}

		c.mu.Lock()
		c.latest = msg.Makers
		c.mu.Unlock()
	}
}

func (c *HTTPDirectoryClient) Stop() error {
	close(c.quit)
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *HTTPDirectoryClient) ListMakers(ctx context.Context) ([]swap.MakerAddress, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]swap.MakerAddress(nil), c.latest...), nil
}

func (c *HTTPDirectoryClient) PostAddress(ctx context.Context, addr swap.MakerAddress) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("market: not connected to directory server")
	}

	payload, err := json.Marshal(postAddressMessage{Addr: addr})
	if err != nil {
		return err
	}

	deadline := time.Now().Add(10 * time.Second)
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return &coinswaperr.Timeout{Op: "PostAddress"}
	}
	return nil
}
