package socklib

import (
	"bytes"
	"sync"

	"github.com/valyala/bytebufferpool"
)

var queueBufferPool bytebufferpool.Pool

// ByteQueue is an ordered buffer of bytes safe for concurrent use. Bytes are
// appended at the tail and taken, peeked at or skipped from the head.
type ByteQueue struct {
	mu  sync.Mutex
	buf *bytebufferpool.ByteBuffer
	off int // head of the queue within buf.B

	// buf.B[off:scan] is known not to contain scanFor.
	scan    int
	scanFor byte
}

func (q *ByteQueue) Append(p []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.append(p)
}

// Take copies len(dst) bytes from the head of the queue into dst and removes
// them. It reports false, leaving dst untouched, if fewer bytes are queued.
func (q *ByteQueue) Take(dst []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.take(dst)
}

// Peek is like Take but leaves the bytes queued.
func (q *ByteQueue) Peek(dst []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.peek(dst)
}

func (q *ByteQueue) Skip(n int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.skip(n)
}

// IndexByte returns the offset of the first c in the queue, or -1.
func (q *ByteQueue) IndexByte(c byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexByte(c)
}

func (q *ByteQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.len()
}

// Reset drops every queued byte and hands the backing buffer back to the pool.
func (q *ByteQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.release()
}

// The lowercase variants expect q.mu to be held. Conn uses them so that its
// condition variables can share the queue's lock.

func (q *ByteQueue) append(p []byte) {
	if len(p) == 0 {
		return
	}
	if q.buf == nil {
		q.buf = queueBufferPool.Get()
	}
	q.buf.B = append(q.buf.B, p...)
}

func (q *ByteQueue) take(dst []byte) bool {
	if !q.peek(dst) {
		return false
	}
	return q.skip(len(dst))
}

func (q *ByteQueue) peek(dst []byte) bool {
	if q.len() < len(dst) {
		return false
	}
	if len(dst) > 0 {
		copy(dst, q.buf.B[q.off:])
	}
	return true
}

// skip advances the head. The consumed prefix is reclaimed once it makes up
// more than half of the buffer, so draining costs amortised O(1) per byte.
func (q *ByteQueue) skip(n int) bool {
	if n < 0 || q.len() < n {
		return false
	}
	if n == 0 {
		return true
	}
	q.off += n
	if q.off == len(q.buf.B) {
		q.release()
		return true
	}
	if q.off > len(q.buf.B)/2 {
		q.compact()
	}
	return true
}

func (q *ByteQueue) compact() {
	q.buf.B = q.buf.B[:copy(q.buf.B, q.buf.B[q.off:])]
	if q.scan > q.off {
		q.scan -= q.off
	} else {
		q.scan = 0
	}
	q.off = 0
}

// indexByte resumes scanning where the previous search for c stopped.
func (q *ByteQueue) indexByte(c byte) int {
	if q.buf == nil {
		return -1
	}
	from := q.off
	if q.scanFor == c && q.scan > from {
		from = q.scan
	}
	if i := bytes.IndexByte(q.buf.B[from:], c); i >= 0 {
		q.scan, q.scanFor = from+i, c
		return from + i - q.off
	}
	q.scan, q.scanFor = len(q.buf.B), c
	return -1
}

func (q *ByteQueue) len() int {
	if q.buf == nil {
		return 0
	}
	return len(q.buf.B) - q.off
}

func (q *ByteQueue) release() {
	q.off, q.scan = 0, 0
	if q.buf == nil {
		return
	}
	queueBufferPool.Put(q.buf)
	q.buf = nil
}
