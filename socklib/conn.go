package socklib

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// InputInterceptor receives raw inbound bytes in place of the inbound queue.
// p is only valid for the duration of the call.
type InputInterceptor func(p []byte)

// Conn is a buffered, delimiter-framed byte stream over one TCP socket. A
// reader goroutine moves received bytes into the inbound queue and a writer
// goroutine drains the outbound queue onto the socket, so Put* calls never
// block on the network and Get* calls block only on the inbound queue.
type Conn struct {
	host string
	port int
	log  *zap.Logger

	state   atomic.Int32
	started atomic.Bool
	delim   atomic.Int32

	interceptor atomic.Pointer[InputInterceptor]

	connMu sync.Mutex // guards nc, closed and cancel
	nc     net.Conn
	closed bool
	cancel context.CancelFunc

	in     ByteQueue
	inCond sync.Cond

	out     ByteQueue
	outCond sync.Cond

	wg sync.WaitGroup // reader and writer
}

// NewConn returns an idle Conn that will connect to host:port.
func NewConn(host string, port int) *Conn {
	c := &Conn{host: host, port: port}
	c.init()
	return c
}

func newAcceptedConn(nc net.Conn) *Conn {
	host, port := splitHostPort(nc.RemoteAddr())

	c := &Conn{host: host, port: port, nc: nc}
	c.init()
	c.state.Store(int32(StateConnected))
	return c
}

func (c *Conn) init() {
	c.log = Logger("conn").With(zap.String("remote", HostAddr(c.host, c.port)))
	c.delim.Store(int32(DefaultDelimiter))
	c.inCond.L = &c.in.mu
	c.outCond.L = &c.out.mu
}

func (c *Conn) Addr() string { return c.host }
func (c *Conn) Port() int    { return c.port }

func (c *Conn) State() State       { return State(c.state.Load()) }
func (c *Conn) IsConnected() bool  { return c.State() == StateConnected }
func (c *Conn) IsConnecting() bool { return c.State() == StateConnecting }

func (c *Conn) alive() bool {
	s := c.State()
	return s == StateConnecting || s == StateConnected
}

func (c *Conn) LocalAddr() net.Addr {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.nc == nil {
		return nil
	}
	return c.nc.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.nc == nil {
		return nil
	}
	return c.nc.RemoteAddr()
}

// Connect resolves the remote address and starts establishing the connection
// in the background. Only resolution errors and misuse are reported; a failed
// dial leaves the Conn disconnected.
func (c *Conn) Connect() error {
	if err := c.checkIdle(); err != nil {
		return err
	}

	InitNetwork()

	addr, err := resolveTCP(c.host, c.port)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return c.checkIdle()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.started.Store(true)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		nc, ok := c.establish(ctx, addr)
		if !ok {
			return
		}

		c.wg.Add(1)
		go c.readLoop(nc)

		c.writeLoop(nc)
	}()

	return nil
}

func (c *Conn) checkIdle() error {
	switch c.State() {
	case StateIdle:
		return nil
	case StateDisconnected:
		return ErrDisconnected
	}
	return ErrAlreadyConnected
}

func (c *Conn) establish(ctx context.Context, addr *net.TCPAddr) (net.Conn, bool) {
	nc, err := dialTCP(ctx, addr)
	if err != nil {
		c.lost(err)
		return nil, false
	}

	c.connMu.Lock()
	if c.State() != StateConnecting {
		c.connMu.Unlock()
		_ = shutdownAndClose(nc)
		return nil, false
	}
	c.nc = nc
	c.connMu.Unlock()

	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
		return nil, false
	}

	c.log.Debug("connected", zap.Stringer("local", nc.LocalAddr()))
	c.wakeAll()

	return nc, true
}

// Start spawns the reader and writer of a Conn handed out by a Server.
func (c *Conn) Start() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.started.Load() {
		return ErrAlreadyStarted
	}
	if c.State() != StateConnected || c.nc == nil {
		return ErrNotConnected
	}
	c.started.Store(true)

	c.wg.Add(2)
	go c.readLoop(c.nc)
	go func(nc net.Conn) {
		defer c.wg.Done()
		c.writeLoop(nc)
	}(c.nc)

	return nil
}

// Disconnect closes the socket, releases every blocked caller and waits for
// the reader and writer to exit. It must not be called from an
// InputInterceptor.
func (c *Conn) Disconnect() {
	for {
		s := c.State()
		if s == StateIdle {
			return
		}
		if s == StateDisconnected {
			break
		}
		if c.state.CompareAndSwap(int32(s), int32(StateDisconnected)) {
			stats.disconnects.Add(1)
			c.log.Debug("disconnected")
			break
		}
	}

	c.connMu.Lock()
	cancel := c.cancel
	c.connMu.Unlock()
	if cancel != nil {
		cancel()
	}

	c.closeSocket()
	c.wakeAll()
	c.wg.Wait()
}

// lost handles a failed dial, read or write.
func (c *Conn) lost(err error) {
	if State(c.state.Swap(int32(StateDisconnected))) != StateDisconnected {
		stats.disconnects.Add(1)
		c.log.Debug("connection lost", zap.Error(err))
	}
	c.closeSocket()
	c.wakeAll()
}

func (c *Conn) closeSocket() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.nc == nil || c.closed {
		return
	}
	c.closed = true

	if err := shutdownAndClose(c.nc); err != nil {
		c.log.Debug("close socket", zap.Error(err))
	}
}

func (c *Conn) wakeAll() {
	c.in.mu.Lock()
	c.inCond.Broadcast()
	c.in.mu.Unlock()

	c.out.mu.Lock()
	c.outCond.Broadcast()
	c.out.mu.Unlock()
}

func shutdownAndClose(nc net.Conn) error {
	var err error
	if tc, ok := nc.(*net.TCPConn); ok {
		err = multierr.Append(tc.CloseRead(), tc.CloseWrite())
	}
	return multierr.Append(err, nc.Close())
}

func (c *Conn) readLoop(nc net.Conn) {
	defer c.wg.Done()

	stats.readers.Add(1)
	defer stats.readers.Add(-1)

	buf := chunkPool.acquire()
	defer chunkPool.release(buf)

	for {
		n, err := nc.Read(buf.b[:])
		if n > 0 {
			stats.bytesRead.Add(uint64(n))
			c.deliver(buf.b[:n])
		}
		if err != nil {
			c.lost(err)
			return
		}
	}
}

func (c *Conn) deliver(p []byte) {
	if fn := c.interceptor.Load(); fn != nil {
		(*fn)(p)
		return
	}

	c.in.mu.Lock()
	c.in.append(p)
	c.inCond.Broadcast()
	c.in.mu.Unlock()
}

func (c *Conn) writeLoop(nc net.Conn) {
	buf := chunkPool.acquire()
	defer chunkPool.release(buf)

	for {
		c.out.mu.Lock()
		for c.out.len() == 0 && c.IsConnected() {
			c.outCond.Wait()
		}
		if !c.IsConnected() {
			c.out.mu.Unlock()
			return
		}
		n := c.out.len()
		if n > ChunkSize {
			n = ChunkSize
		}
		c.out.peek(buf.b[:n])
		c.out.mu.Unlock()

		if _, err := nc.Write(buf.b[:n]); err != nil {
			c.lost(err)
			return
		}
		stats.bytesWritten.Add(uint64(n))

		c.out.mu.Lock()
		c.out.skip(n)
		c.outCond.Broadcast()
		c.out.mu.Unlock()
	}
}

// awaitInbound waits on the inbound queue until ready reports true or the
// Conn stops. c.in.mu must be held.
func (c *Conn) awaitInbound(ready func() bool) bool {
	for !ready() {
		if !c.alive() {
			return false
		}
		c.inCond.Wait()
	}
	return true
}

// GetBytes blocks until len(dst) bytes have been received, then moves them
// into dst. It reports false if the Conn disconnected first.
func (c *Conn) GetBytes(dst []byte) bool {
	c.in.mu.Lock()
	defer c.in.mu.Unlock()

	if !c.awaitInbound(func() bool { return c.in.len() >= len(dst) }) {
		return false
	}
	return c.in.take(dst)
}

// PeekBytes is like GetBytes but leaves the bytes queued.
func (c *Conn) PeekBytes(dst []byte) bool {
	c.in.mu.Lock()
	defer c.in.mu.Unlock()

	if !c.awaitInbound(func() bool { return c.in.len() >= len(dst) }) {
		return false
	}
	return c.in.peek(dst)
}

func (c *Conn) SkipBytes(n int) bool {
	if n < 0 {
		return false
	}

	c.in.mu.Lock()
	defer c.in.mu.Unlock()

	if !c.awaitInbound(func() bool { return c.in.len() >= n }) {
		return false
	}
	return c.in.skip(n)
}

// GetMessage blocks until a delimiter arrives and returns everything before
// it. The delimiter is consumed but not returned.
func (c *Conn) GetMessage() (string, bool) {
	delim := c.Delimiter()

	c.in.mu.Lock()
	defer c.in.mu.Unlock()

	idx := -1
	if !c.awaitInbound(func() bool { idx = c.in.indexByte(delim); return idx >= 0 }) {
		return "", false
	}

	msg := make([]byte, idx)
	c.in.take(msg)
	c.in.skip(1)
	return string(msg), true
}

// PutBytes queues p for sending. The bytes are queued regardless, but false
// is returned if the Conn is neither connected nor connecting, since they
// will never be sent.
func (c *Conn) PutBytes(p []byte) bool {
	c.out.mu.Lock()
	c.out.append(p)
	c.outCond.Broadcast()
	c.out.mu.Unlock()

	return c.alive()
}

// PutMessage queues msg followed by the delimiter.
func (c *Conn) PutMessage(msg string) bool {
	delim := [1]byte{c.Delimiter()}

	c.out.mu.Lock()
	c.out.append([]byte(msg))
	c.out.append(delim[:])
	c.outCond.Broadcast()
	c.out.mu.Unlock()

	return c.alive()
}

// Flush blocks until every queued outbound byte has been written to the
// socket. It reports false if the Conn disconnected first.
func (c *Conn) Flush() bool {
	c.out.mu.Lock()
	defer c.out.mu.Unlock()

	for c.out.len() > 0 {
		if !c.alive() {
			return false
		}
		c.outCond.Wait()
	}
	return true
}

func (c *Conn) Delimiter() byte { return byte(c.delim.Load()) }

// SetDelimiter changes the message delimiter. Change it only between
// messages.
func (c *Conn) SetDelimiter(b byte) { c.delim.Store(int32(b)) }

// InterceptInput routes inbound bytes to fn instead of the inbound queue
// until UninterceptInput is called. fn runs on the reader goroutine.
func (c *Conn) InterceptInput(fn InputInterceptor) {
	if fn == nil {
		c.interceptor.Store(nil)
		return
	}
	c.interceptor.Store(&fn)
}

func (c *Conn) UninterceptInput() { c.interceptor.Store(nil) }

// Buffered returns the number of received bytes not yet consumed.
func (c *Conn) Buffered() int { return c.in.Len() }

// Pending returns the number of queued bytes not yet written.
func (c *Conn) Pending() int { return c.out.Len() }
