package wsock

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheSmallBoat/socklink/socklib"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const closeGracePeriod = 1 * time.Second

func deadline() time.Time { return time.Now().Add(closeGracePeriod) }

// Server accepts websocket connections. Each inbound TCP connection must
// complete the HTTP upgrade handshake on Path before it is queued; queued
// conns are connected but not started.
type Server struct {
	Path            string // defaults to "/"
	ReadBufferSize  int
	WriteBufferSize int
	Subprotocols    []string
	CheckOrigin     func(r *http.Request) bool

	mu        sync.Mutex // guards ln, srv, pending and closed
	ln        net.Listener
	srv       *http.Server
	pending   *socklib.PendingQueue[*Conn]
	closed    bool
	listening atomic.Bool

	wg sync.WaitGroup
}

func (s *Server) Listen(host string, port int) error {
	if s.Listening() {
		return socklib.ErrAlreadyListening
	}

	ln, err := socklib.ListenTCP(host, port)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		_ = ln.Close()
		return socklib.ErrServerClosed
	}
	if s.listening.Load() {
		_ = ln.Close()
		return socklib.ErrAlreadyListening
	}

	path := s.Path
	if path == "" {
		path = "/"
	}

	upgrader := &websocket.Upgrader{
		ReadBufferSize:  s.ReadBufferSize,
		WriteBufferSize: s.WriteBufferSize,
		Subprotocols:    s.Subprotocols,
		CheckOrigin:     s.CheckOrigin,
	}

	pending := socklib.NewPendingQueue[*Conn]()

	mux := http.NewServeMux()
	mux.Handle(path, s.upgradeHandler(upgrader, pending))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ConnState: func(nc net.Conn, state http.ConnState) {
			if state == http.StateNew {
				socklib.ConfigureConn(nc)
			}
		},
	}

	s.ln = ln
	s.srv = srv
	s.pending = pending
	s.listening.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			socklib.Logger("wsock").Warn("serve", zap.Error(err))
		}
	}()

	socklib.Logger("wsock").Info("listening", zap.Stringer("addr", ln.Addr()), zap.String("path", path))
	return nil
}

func (s *Server) upgradeHandler(upgrader *websocket.Upgrader, pending *socklib.PendingQueue[*Conn]) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Listening() {
			http.Error(w, "server closed", http.StatusServiceUnavailable)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			socklib.Logger("wsock").Debug("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}

		conn := newConn(ws)
		if !pending.Push(conn) {
			conn.Disconnect()
			return
		}
		socklib.Logger("wsock").Debug("accepted", zap.String("remote", r.RemoteAddr))
	})
}

// Close stops listening, releases AwaitPendingConnection callers and waits for
// the HTTP server to stop. Upgraded conns still pending are disconnected.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	if !s.listening.CompareAndSwap(true, false) {
		s.mu.Unlock()
		return nil
	}
	ln, srv, pending := s.ln, s.srv, s.pending
	s.mu.Unlock()

	pending.Close()

	var err error
	if cerr := srv.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = multierr.Append(err, cerr)
	}
	s.wg.Wait()

	leftover := pending.Drain()
	for _, conn := range leftover {
		conn.Disconnect()
	}

	socklib.Logger("wsock").Info("closed", zap.Stringer("addr", ln.Addr()), zap.Int("dropped", len(leftover)))
	return err
}

func (s *Server) Listening() bool { return s.listening.Load() }

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) queue() *socklib.PendingQueue[*Conn] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Server) HasPendingConnections() bool {
	q := s.queue()
	return q != nil && q.Len() > 0
}

func (s *Server) NextPendingConnection() *Conn {
	q := s.queue()
	if q == nil {
		return nil
	}
	conn, _ := q.TryPop()
	return conn
}

func (s *Server) AwaitPendingConnection() *Conn {
	q := s.queue()
	if q == nil {
		return nil
	}
	conn, _ := q.Pop()
	return conn
}
