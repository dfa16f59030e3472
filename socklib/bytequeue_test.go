package socklib

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestByteQueue(t *testing.T) {
	var q ByteQueue

	require.Equal(t, 0, q.Len())
	require.Equal(t, -1, q.IndexByte('\n'))
	require.True(t, q.Take(nil))
	require.False(t, q.Take(make([]byte, 1)))

	q.Append([]byte("hello\nworld"))
	require.Equal(t, 11, q.Len())
	require.Equal(t, 5, q.IndexByte('\n'))

	buf := make([]byte, 5)
	require.True(t, q.Peek(buf))
	require.EqualValues(t, "hello", buf)
	require.Equal(t, 11, q.Len())

	require.True(t, q.Take(buf))
	require.EqualValues(t, "hello", buf)
	require.True(t, q.Skip(1))
	require.Equal(t, 5, q.Len())

	big := make([]byte, 6)
	copy(big, "xxxxxx")
	require.False(t, q.Take(big))
	require.EqualValues(t, "xxxxxx", big)
	require.False(t, q.Skip(6))
	require.False(t, q.Skip(-1))

	require.True(t, q.Take(buf))
	require.EqualValues(t, "world", buf)
	require.Equal(t, 0, q.Len())

	q.Append([]byte("abc"))
	q.Reset()
	require.Equal(t, 0, q.Len())
}

func TestByteQueueConcurrentAppend(t *testing.T) {
	var q ByteQueue

	n := 8
	m := 1024

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < m; j++ {
				q.Append([]byte{1, 2, 3})
			}
		}()
	}
	wg.Wait()

	require.Equal(t, n*m*3, q.Len())

	chunk := make([]byte, 3)
	for i := 0; i < n*m; i++ {
		require.True(t, q.Take(chunk))
		require.EqualValues(t, []byte{1, 2, 3}, chunk)
	}
}

func TestByteQueueIndexByteAcrossAppends(t *testing.T) {
	var q ByteQueue

	q.Append([]byte("abc"))
	require.Equal(t, -1, q.IndexByte('\n'))
	q.Append([]byte("de\nfg"))
	require.Equal(t, 5, q.IndexByte('\n'))
	require.Equal(t, 1, q.IndexByte('b'))

	require.True(t, q.Skip(2))
	require.Equal(t, 3, q.IndexByte('\n'))
	require.Equal(t, -1, q.IndexByte('b'))

	msg := make([]byte, 3)
	require.True(t, q.Take(msg))
	require.EqualValues(t, "cde", msg)
	require.True(t, q.Skip(1))
	require.Equal(t, -1, q.IndexByte('\n'))

	q.Append([]byte("h\n"))
	require.Equal(t, 3, q.IndexByte('\n'))

	rest := make([]byte, 4)
	require.True(t, q.Take(rest))
	require.EqualValues(t, "fgh\n", rest)
	require.Equal(t, 0, q.Len())
}

func TestByteQueueDrainInSmallSlices(t *testing.T) {
	var q ByteQueue

	size := 16 << 20
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	q.Append(payload)

	start := time.Now()

	got := make([]byte, 0, size)
	chunk := make([]byte, 1024)
	for q.Len() > 0 {
		require.True(t, q.Take(chunk))
		got = append(got, chunk...)
	}

	require.Less(t, time.Since(start), 2*time.Second)
	require.True(t, bytes.Equal(payload, got))
}

func TestByteQueueInterleavedAppendAndTake(t *testing.T) {
	var q ByteQueue

	var next byte
	var want byte

	buf := make([]byte, 7)
	for i := 0; i < 4096; i++ {
		in := make([]byte, 11)
		for j := range in {
			in[j] = next
			next++
		}
		q.Append(in)

		for q.Len() >= len(buf) && q.Len() > 32 {
			require.True(t, q.Take(buf))
			for _, b := range buf {
				require.Equal(t, want, b)
				want++
			}
		}
	}

	rest := make([]byte, q.Len())
	require.True(t, q.Take(rest))
	for _, b := range rest {
		require.Equal(t, want, b)
		want++
	}
	require.Equal(t, next, want)
}
