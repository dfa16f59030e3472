package wsock

import (
	"sync"
	"sync/atomic"

	"github.com/TheSmallBoat/socklink/socklib"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type outbound struct {
	typ  int
	data []byte
}

// Conn is a message-oriented connection over an upgraded websocket. Like
// socklib.Conn it runs one reader and one writer goroutine, and any socket
// error leaves it disconnected with every blocked caller released.
type Conn struct {
	ws  *websocket.Conn
	log *zap.Logger

	state   atomic.Int32
	started atomic.Bool

	in  *socklib.PendingQueue[[]byte]
	out *socklib.PendingQueue[outbound]

	startMu   sync.Mutex
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:  ws,
		log: socklib.Logger("wsock").With(zap.Stringer("remote", ws.RemoteAddr())),
		in:  socklib.NewPendingQueue[[]byte](),
		out: socklib.NewPendingQueue[outbound](),
	}
	c.state.Store(int32(socklib.StateConnected))
	return c
}

func (c *Conn) State() socklib.State { return socklib.State(c.state.Load()) }
func (c *Conn) IsConnected() bool    { return c.State() == socklib.StateConnected }

func (c *Conn) Subprotocol() string { return c.ws.Subprotocol() }

// Start spawns the reader and writer of an accepted Conn.
func (c *Conn) Start() error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.started.Load() {
		return socklib.ErrAlreadyStarted
	}
	if !c.IsConnected() {
		return socklib.ErrNotConnected
	}
	c.started.Store(true)

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()

	return nil
}

func (c *Conn) readLoop() {
	defer c.wg.Done()

	for {
		typ, p, err := c.ws.ReadMessage()
		if err != nil {
			c.lost(err)
			return
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		c.in.Push(p)
	}
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()

	for {
		msg, ok := c.out.Pop()
		if !ok || !c.IsConnected() {
			return
		}
		if err := c.ws.WriteMessage(msg.typ, msg.data); err != nil {
			c.lost(err)
			return
		}
	}
}

// GetMessage blocks until a message arrives. Messages received before the
// connection dropped are still returned; false means disconnected and
// drained.
func (c *Conn) GetMessage() ([]byte, bool) {
	return c.in.Pop()
}

// PutMessage queues p as a binary message.
func (c *Conn) PutMessage(p []byte) bool {
	return c.put(websocket.BinaryMessage, p)
}

// PutText queues s as a text message.
func (c *Conn) PutText(s string) bool {
	return c.put(websocket.TextMessage, []byte(s))
}

func (c *Conn) put(typ int, p []byte) bool {
	data := make([]byte, len(p))
	copy(data, p)
	return c.out.Push(outbound{typ: typ, data: data}) && c.IsConnected()
}

// Disconnect sends a close frame, closes the socket, and waits for the reader
// and writer to exit.
func (c *Conn) Disconnect() {
	if socklib.State(c.state.Swap(int32(socklib.StateDisconnected))) == socklib.StateConnected {
		c.log.Debug("disconnected")
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline())
	}
	c.teardown()

	// wait out a concurrent Start so its goroutines are joined too
	c.startMu.Lock()
	c.startMu.Unlock()
	c.wg.Wait()
}

func (c *Conn) lost(err error) {
	if socklib.State(c.state.Swap(int32(socklib.StateDisconnected))) == socklib.StateConnected {
		c.log.Debug("connection lost", zap.Error(err))
	}
	c.teardown()
}

func (c *Conn) teardown() {
	c.in.Close()
	c.out.Close()
	c.closeOnce.Do(func() {
		if err := c.ws.Close(); err != nil {
			c.log.Debug("close socket", zap.Error(err))
		}
	})
}
