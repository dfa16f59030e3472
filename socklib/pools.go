package socklib

import (
	"fmt"
	"sync/atomic"
)

func StartPoolMetrics() {
	chunkPool.m.start()
}

func ReleasePoolMetrics() {
	chunkPool.m.release()
}

func JsonStringPoolMetrics() string {
	return fmt.Sprintf("{\"chunkPool\" = %s}", chunkPool.m.metricsString())
}

// TransportStats are process-wide totals across every Conn and Server.
type TransportStats struct {
	BytesRead     uint64
	BytesWritten  uint64
	Accepted      uint64
	Disconnects   uint64
	ActiveReaders int64
}

var stats struct {
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
	accepted     atomic.Uint64
	disconnects  atomic.Uint64
	readers      atomic.Int64
}

func Stats() TransportStats {
	return TransportStats{
		BytesRead:     stats.bytesRead.Load(),
		BytesWritten:  stats.bytesWritten.Load(),
		Accepted:      stats.accepted.Load(),
		Disconnects:   stats.disconnects.Load(),
		ActiveReaders: stats.readers.Load(),
	}
}

func (s TransportStats) String() string {
	return fmt.Sprintf("{\"read\" = %d, \"written\" = %d, \"accepted\" = %d, \"disconnects\" = %d, \"readers\" = %d}",
		s.BytesRead, s.BytesWritten, s.Accepted, s.Disconnects, s.ActiveReaders)
}
