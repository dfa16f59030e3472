package socklib

import (
	"io"
	"math"

	"github.com/lithdew/bytesutil"
)

// FrameHeaderSize is the size of the big-endian length prefix written in
// front of every frame.
const FrameHeaderSize = 4

// MaxFrameSize bounds the payload accepted by GetFrame.
var MaxFrameSize = 16 << 20

func AppendFrame(dst, payload []byte) []byte {
	dst = bytesutil.AppendUint32BE(dst, uint32(len(payload)))
	dst = append(dst, payload...)
	return dst
}

// UnmarshalFrame splits one frame off the front of buf.
func UnmarshalFrame(buf []byte) (payload, leftover []byte, err error) {
	if len(buf) < FrameHeaderSize {
		return nil, buf, io.ErrUnexpectedEOF
	}
	size := bytesutil.Uint32BE(buf[:FrameHeaderSize])
	buf = buf[FrameHeaderSize:]
	if uint64(len(buf)) < uint64(size) {
		return nil, buf, io.ErrUnexpectedEOF
	}
	return buf[:size], buf[size:], nil
}

// PutFrame queues payload behind a length prefix.
func (c *Conn) PutFrame(payload []byte) bool {
	if uint64(len(payload)) > math.MaxUint32 {
		return false
	}
	var hdr [FrameHeaderSize]byte
	bytesutil.AppendUint32BE(hdr[:0], uint32(len(payload)))

	c.out.mu.Lock()
	c.out.append(hdr[:])
	c.out.append(payload)
	c.outCond.Broadcast()
	c.out.mu.Unlock()

	return c.alive()
}

// GetFrame blocks until a whole length-prefixed frame has been received and
// returns its payload. A frame announcing more than MaxFrameSize bytes drops
// the connection.
func (c *Conn) GetFrame() ([]byte, bool) {
	c.in.mu.Lock()

	var hdr [FrameHeaderSize]byte
	var (
		headerRead bool
		tooLarge   bool
		size       int
	)

	ready := func() bool {
		if !headerRead {
			if !c.in.peek(hdr[:]) {
				return false
			}
			headerRead = true
			announced := bytesutil.Uint32BE(hdr[:])
			if tooLarge = frameTooLarge(announced); !tooLarge {
				size = int(announced)
			}
		}
		return tooLarge || c.in.len() >= FrameHeaderSize+size
	}

	if !c.awaitInbound(ready) {
		c.in.mu.Unlock()
		return nil, false
	}

	if tooLarge {
		c.in.mu.Unlock()
		c.log.Debug("frame too large")
		c.lost(io.ErrShortBuffer)
		return nil, false
	}

	payload := make([]byte, size)
	c.in.skip(FrameHeaderSize)
	c.in.take(payload)
	c.in.mu.Unlock()

	return payload, true
}

// frameTooLarge compares in uint64 so the check holds where int is 32 bits.
func frameTooLarge(announced uint32) bool {
	return uint64(announced) > uint64(max(MaxFrameSize, 0))
}
