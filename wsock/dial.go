package wsock

import (
	"context"
	"time"

	"github.com/TheSmallBoat/socklink/socklib"
	"github.com/gorilla/websocket"
)

var DefaultHandshakeTimeout = 10 * time.Second

// Dial connects to a ws:// url, completes the upgrade handshake and returns a
// started Conn.
func Dial(ctx context.Context, url string) (*Conn, error) {
	socklib.InitNetwork()

	dialer := websocket.Dialer{
		NetDialContext:   socklib.DialContext,
		HandshakeTimeout: DefaultHandshakeTimeout,
	}

	ws, res, err := dialer.DialContext(ctx, url, nil)
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}
	if err != nil {
		return nil, &socklib.OpError{Op: "dial", Addr: url, Err: err}
	}

	conn := newConn(ws)
	if err := conn.Start(); err != nil {
		conn.Disconnect()
		return nil, err
	}
	return conn, nil
}
