package socklib

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDelimiter separates messages sent with PutMessage.
const DefaultDelimiter byte = '\n'

const keepAlivePeriod = 15 * time.Second

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

type network struct {
	dialer net.Dialer
	lc     net.ListenConfig
}

var networkOnce = sync.OnceValue(func() *network {
	n := &network{
		dialer: net.Dialer{KeepAlive: keepAlivePeriod, Control: dialControl},
		lc:     net.ListenConfig{KeepAlive: keepAlivePeriod, Control: listenControl},
	}
	Logger("net").Debug("network initialized")
	return n
})

// InitNetwork prepares the process-wide dialer and listener configuration.
// Connect and Listen call it lazily; calling it more than once is harmless.
func InitNetwork() { networkOnce() }

func HostAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func resolveTCP(host string, port int) (*net.TCPAddr, error) {
	addr := HostAddr(host, port)
	if port < 0 || port > 65535 {
		return nil, &OpError{Op: "resolve", Addr: addr, Err: ErrInvalidPort}
	}
	resolved, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, &OpError{Op: "resolve", Addr: addr, Err: err}
	}
	return resolved, nil
}

func dialTCP(ctx context.Context, addr *net.TCPAddr) (net.Conn, error) {
	conn, err := DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, &OpError{Op: "dial", Addr: addr.String(), Err: err}
	}
	return conn, nil
}

// DialContext dials with the transport's socket options. Its signature
// matches the NetDialContext hooks of HTTP and websocket dialers.
func DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := networkOnce().dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	ConfigureConn(conn)
	return conn, nil
}

// ListenTCP binds host:port with the transport's socket options. It is shared
// by Server and the websocket acceptor.
func ListenTCP(host string, port int) (net.Listener, error) {
	InitNetwork()

	addr, err := resolveTCP(host, port)
	if err != nil {
		return nil, err
	}
	ln, err := networkOnce().lc.Listen(context.Background(), "tcp", addr.String())
	if err != nil {
		return nil, &OpError{Op: "listen", Addr: addr.String(), Err: err}
	}
	return ln, nil
}

// ConfigureConn disables Nagle, enables keep-alive and clears any deadline so
// reads and writes block until data moves or the socket closes.
func ConfigureConn(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			Logger("net").Debug("set no-delay", zap.Error(err))
		}
		if err := tc.SetKeepAlive(true); err != nil {
			Logger("net").Debug("set keep-alive", zap.Error(err))
		}
	}
	_ = conn.SetDeadline(time.Time{})
}

func splitHostPort(addr net.Addr) (string, int) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String(), tcp.Port
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	p, _ := strconv.Atoi(port)
	return host, p
}
