package socklib

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestUnmarshalFrame(t *testing.T) {
	buf := AppendFrame(nil, []byte("hello"))
	buf = AppendFrame(buf, nil)
	require.Len(t, buf, 2*FrameHeaderSize+5)

	payload, buf, err := UnmarshalFrame(buf)
	require.NoError(t, err)
	require.EqualValues(t, "hello", payload)

	payload, buf, err = UnmarshalFrame(buf)
	require.NoError(t, err)
	require.Empty(t, payload)
	require.Empty(t, buf)

	_, _, err = UnmarshalFrame([]byte{0, 0})
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, _, err = UnmarshalFrame([]byte{0, 0, 0, 9, 'a'})
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestConnFrames(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := listen(t)
	defer srv.Close()

	client, peer := connect(t, srv)
	defer client.Disconnect()
	defer peer.Disconnect()

	n := 256

	go func() {
		for i := 0; i < n; i++ {
			client.PutFrame(bytes.Repeat([]byte(fmt.Sprintf("%d\n", i)), i))
		}
	}()

	for i := 0; i < n; i++ {
		payload, ok := peer.GetFrame()
		require.True(t, ok)
		require.Equal(t, bytes.Repeat([]byte(fmt.Sprintf("%d\n", i)), i), payload)
	}
}

func TestConnOversizedFrameDropsConnection(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := listen(t)
	defer srv.Close()

	client, peer := connect(t, srv)
	defer client.Disconnect()
	defer peer.Disconnect()

	require.True(t, client.PutBytes([]byte{0xff, 0xff, 0xff, 0xff}))

	_, ok := peer.GetFrame()
	require.False(t, ok)
	require.False(t, peer.IsConnected())
}

func TestFrameTooLarge(t *testing.T) {
	require.False(t, frameTooLarge(0))
	require.False(t, frameTooLarge(uint32(MaxFrameSize)))
	require.True(t, frameTooLarge(uint32(MaxFrameSize)+1))
	require.True(t, frameTooLarge(1<<31))
	require.True(t, frameTooLarge(math.MaxUint32))

	defer func(prev int) { MaxFrameSize = prev }(MaxFrameSize)
	MaxFrameSize = math.MaxInt32
	require.False(t, frameTooLarge(math.MaxInt32))
	require.True(t, frameTooLarge(1<<31))
}

func TestConnFrameHeaderInPieces(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := listen(t)
	defer srv.Close()

	client, peer := connect(t, srv)
	defer client.Disconnect()
	defer peer.Disconnect()

	frame := AppendFrame(nil, []byte("split"))

	done := make(chan []byte, 1)
	go func() {
		payload, ok := peer.GetFrame()
		if ok {
			done <- payload
		}
		close(done)
	}()

	for _, b := range frame {
		require.True(t, client.PutBytes([]byte{b}))
		require.True(t, client.Flush())
		time.Sleep(time.Millisecond)
	}

	select {
	case payload, ok := <-done:
		require.True(t, ok)
		require.EqualValues(t, "split", payload)
	case <-time.After(5 * time.Second):
		t.Fatal("get frame never returned")
	}

	// announced length with the top bit set
	require.True(t, client.PutBytes([]byte{0x80, 0, 0, 0}))
	_, ok := peer.GetFrame()
	require.False(t, ok)
	require.False(t, peer.IsConnected())
}
