package socklib

import "sync"

// ChunkSize is the size of the scratch buffer each reader and writer loop
// moves bytes through.
const ChunkSize = 4096

var chunkPool = &ChunkPool{m: newPoolMetrics()}

type chunk struct {
	b [ChunkSize]byte
}

type ChunkPool struct {
	sp sync.Pool
	m  *PoolMetrics
}

func (p *ChunkPool) acquire() *chunk {
	v := p.sp.Get()
	if v == nil {
		p.m.allocated()
		return &chunk{}
	}
	p.m.reused()
	return v.(*chunk)
}

func (p *ChunkPool) release(c *chunk) {
	p.sp.Put(c)
	p.m.returned()
}
