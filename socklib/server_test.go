package socklib

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestServerShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := &Server{}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		require.Eventually(t, srv.Listening, 5*time.Second, time.Millisecond)
		srv.Shutdown()
	}()

	require.NoError(t, srv.Serve(ln))
	require.False(t, srv.Listening())
	require.ErrorIs(t, srv.Serve(ln), ErrServerClosed)
}

func TestServerAcceptOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := listen(t)
	defer srv.Close()

	port := srv.Addr().(*net.TCPAddr).Port

	var clients []*Conn
	defer func() {
		for _, c := range clients {
			c.Disconnect()
		}
	}()

	for i := 0; i < 4; i++ {
		c := NewConn("127.0.0.1", port)
		require.NoError(t, c.Connect())
		clients = append(clients, c)

		require.Eventually(t, func() bool { return srv.Pending() == i+1 && c.IsConnected() },
			5*time.Second, time.Millisecond)
	}

	require.True(t, srv.HasPendingConnections())

	for _, c := range clients {
		peer := srv.NextPendingConnection()
		require.NotNil(t, peer)
		require.Equal(t, c.LocalAddr().String(), peer.RemoteAddr().String())
		require.Equal(t, StateConnected, peer.State())
		peer.Disconnect()
	}

	require.False(t, srv.HasPendingConnections())
	require.Nil(t, srv.NextPendingConnection())
}

func TestServerCloseReleasesAwait(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := listen(t)

	done := make(chan *Conn)
	go func() {
		done <- srv.AwaitPendingConnection()
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, srv.Close())

	select {
	case conn := <-done:
		require.Nil(t, conn)
	case <-time.After(5 * time.Second):
		t.Fatal("await pending connection was not released by close")
	}

	require.Nil(t, srv.AwaitPendingConnection())
}

func TestServerCloseDropsPending(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := listen(t)

	client := NewConn("127.0.0.1", srv.Addr().(*net.TCPAddr).Port)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	require.Eventually(t, srv.HasPendingConnections, 5*time.Second, time.Millisecond)
	require.NoError(t, srv.Close())
	require.False(t, srv.HasPendingConnections())

	_, ok := client.GetMessage()
	require.False(t, ok)
}

func TestServerCloseIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	var never Server
	require.NoError(t, never.Close())
	require.NoError(t, never.Close())
	require.Nil(t, never.AwaitPendingConnection())
	require.ErrorIs(t, never.Listen("127.0.0.1", 0), ErrServerClosed)

	srv := listen(t)
	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())
	require.False(t, srv.Listening())
}

func TestServerListenErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := listen(t)
	defer srv.Close()

	require.ErrorIs(t, srv.Listen("127.0.0.1", 0), ErrAlreadyListening)

	var other Server
	err := other.Listen("127.0.0.1", srv.Addr().(*net.TCPAddr).Port)
	require.Error(t, err)

	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	require.Equal(t, "listen", opErr.Op)
	require.False(t, other.Listening())

	require.ErrorIs(t, other.Listen("127.0.0.1", -1), ErrInvalidPort)
}

func TestServerDelimiter(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := &Server{Delimiter: ';'}
	require.NoError(t, srv.Listen("127.0.0.1", 0))
	defer srv.Close()

	client, peer := connect(t, srv)
	defer client.Disconnect()
	defer peer.Disconnect()

	require.Equal(t, byte(';'), peer.Delimiter())

	require.True(t, client.PutBytes([]byte("a\nb;")))
	msg, ok := peer.GetMessage()
	require.True(t, ok)
	require.Equal(t, "a\nb", msg)
}

func TestServerStats(t *testing.T) {
	defer goleak.VerifyNone(t)

	before := Stats()

	srv := listen(t)
	defer srv.Close()

	client, peer := connect(t, srv)
	defer client.Disconnect()
	defer peer.Disconnect()

	require.True(t, client.PutMessage("count me"))
	_, ok := peer.GetMessage()
	require.True(t, ok)

	after := Stats()
	require.Greater(t, after.Accepted, before.Accepted)
	require.GreaterOrEqual(t, after.BytesRead-before.BytesRead, uint64(9))
	require.GreaterOrEqual(t, after.BytesWritten-before.BytesWritten, uint64(9))
	t.Logf("Transport => %s", after)
}
