package socklib

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Server accepts inbound TCP connections on a dedicated goroutine and queues
// them until the application picks them up. Queued conns are connected but
// not started: call Start on each one to begin streaming.
type Server struct {
	// Delimiter is given to every accepted Conn. Zero means DefaultDelimiter.
	Delimiter byte

	// AcceptBackoff paces retries after a failed Accept. Nil uses 5ms growing
	// to 1s.
	AcceptBackoff *backoff.Backoff

	mu        sync.Mutex // guards ln, pending and done
	ln        net.Listener
	pending   *PendingQueue[*Conn]
	done      chan struct{}
	listening atomic.Bool

	wg sync.WaitGroup
}

// Listen binds host:port and starts the accept loop.
func (s *Server) Listen(host string, port int) error {
	if s.Listening() {
		return ErrAlreadyListening
	}

	ln, err := ListenTCP(host, port)
	if err != nil {
		return err
	}

	if err := s.start(ln); err != nil {
		_ = ln.Close()
		return err
	}

	Logger("server").Info("listening", zap.Stringer("addr", ln.Addr()))
	return nil
}

// Serve runs the accept loop on ln until Close is called. It blocks.
func (s *Server) Serve(ln net.Listener) error {
	InitNetwork()

	if err := s.start(ln); err != nil {
		return err
	}
	s.wg.Wait()
	return nil
}

func (s *Server) start(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		if s.listening.Load() {
			return ErrAlreadyListening
		}
		return ErrServerClosed
	}

	s.ln = ln
	s.pending = NewPendingQueue[*Conn]()
	s.done = make(chan struct{})
	s.listening.Store(true)

	s.wg.Add(1)
	go s.acceptLoop(ln, s.pending, s.done)

	return nil
}

func (s *Server) acceptLoop(ln net.Listener, pending *PendingQueue[*Conn], done chan struct{}) {
	defer s.wg.Done()

	log := Logger("server")

	b := s.AcceptBackoff
	if b == nil {
		b = &backoff.Backoff{Min: 5 * time.Millisecond, Max: 1 * time.Second, Factor: 2}
	}

	for s.listening.Load() {
		nc, err := ln.Accept()
		if err != nil {
			if !s.listening.Load() {
				return
			}

			delay := b.Duration()
			log.Debug("accept failed", zap.Error(err), zap.Duration("retry", delay))

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-done:
				timer.Stop()
				return
			}
			continue
		}
		b.Reset()

		ConfigureConn(nc)
		conn := newAcceptedConn(nc)
		if s.Delimiter != 0 {
			conn.SetDelimiter(s.Delimiter)
		}

		stats.accepted.Add(1)
		log.Debug("accepted", zap.Stringer("remote", nc.RemoteAddr()))

		if !pending.Push(conn) {
			conn.Disconnect()
			return
		}
	}
}

// Close stops listening, wakes every AwaitPendingConnection caller, and waits
// for the accept loop to exit. Connections still pending are disconnected.
func (s *Server) Close() error {
	s.mu.Lock()
	if !s.listening.CompareAndSwap(true, false) {
		if s.done == nil {
			s.done = make(chan struct{})
			close(s.done)
		}
		s.mu.Unlock()
		return nil
	}
	ln, pending, done := s.ln, s.pending, s.done
	s.mu.Unlock()

	close(done)
	pending.Close()
	leftover := pending.Drain()

	var err error
	if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = multierr.Append(err, cerr)
	}

	s.wg.Wait()

	for _, conn := range leftover {
		conn.Disconnect()
	}

	Logger("server").Info("closed", zap.Stringer("addr", ln.Addr()), zap.Int("dropped", len(leftover)))
	return err
}

// Shutdown is Close without the error.
func (s *Server) Shutdown() { _ = s.Close() }

func (s *Server) Listening() bool { return s.listening.Load() }

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) queue() *PendingQueue[*Conn] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Server) HasPendingConnections() bool {
	q := s.queue()
	return q != nil && q.Len() > 0
}

// Pending returns the number of accepted conns not yet handed out.
func (s *Server) Pending() int {
	q := s.queue()
	if q == nil {
		return 0
	}
	return q.Len()
}

// NextPendingConnection returns the oldest accepted Conn, or nil if none is
// waiting.
func (s *Server) NextPendingConnection() *Conn {
	q := s.queue()
	if q == nil {
		return nil
	}
	conn, _ := q.TryPop()
	return conn
}

// AwaitPendingConnection blocks until a Conn has been accepted or the Server
// is closed, in which case it returns nil.
func (s *Server) AwaitPendingConnection() *Conn {
	q := s.queue()
	if q == nil {
		return nil
	}
	conn, _ := q.Pop()
	return conn
}
