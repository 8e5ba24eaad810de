package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"service-dispatch/internal/connmgr"
)

// Dialer opens client connections to the dispatch endpoint.
type Dialer struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
}

var _ connmgr.Dialer = (*Dialer)(nil)

// Dial connects and passes the token both as query parameter and bearer header.
func (d *Dialer) Dial(ctx context.Context) (connmgr.Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", d.URL, err)
	}
	header := http.Header{}
	if d.Token != "" {
		q := u.Query()
		q.Set("token", d.Token)
		u.RawQuery = q.Encode()
		header.Set("Authorization", "Bearer "+d.Token)
	}

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = writeWait
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	c, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		target := *u
		target.RawQuery = ""
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", target.Redacted(), resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", target.Redacted(), err)
	}
	c.SetReadLimit(maxMessageSize)
	return &clientConn{c: c}, nil
}

type clientConn struct {
	c    *websocket.Conn
	once sync.Once
}

func (c *clientConn) ReadFrame() ([]byte, error) {
	_, raw, err := c.c.ReadMessage()
	return raw, err
}

func (c *clientConn) WriteFrame(raw []byte) error {
	_ = c.c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.c.WriteMessage(websocket.TextMessage, raw)
}

func (c *clientConn) Close() error {
	var err error
	c.once.Do(func() {
		closeWith(c.c, websocket.CloseNormalClosure, "bye")
		err = c.c.Close()
	})
	return err
}
