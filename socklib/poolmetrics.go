package socklib

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var DefaultTickerDuration = 1 * time.Second

// PoolMetrics counts pool traffic. The live counters are folded into the
// accumulated totals on every tick while the metrics are started.
//
// na + nr equal the number of acquires since the last tick.
// na + nr - np equal the number of items still out of the pool.
type PoolMetrics struct {
	na uint32 // number of new allocations
	nr uint32 // number of reuses from the pool
	np uint32 // number of puts back to the pool

	naa uint64 // accumulative
	nra uint64 // accumulative
	npa uint64 // accumulative

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

func newPoolMetrics() *PoolMetrics {
	return &PoolMetrics{}
}

func (p *PoolMetrics) allocated() { atomic.AddUint32(&p.na, 1) }
func (p *PoolMetrics) reused()    { atomic.AddUint32(&p.nr, 1) }
func (p *PoolMetrics) returned()  { atomic.AddUint32(&p.np, 1) }

func (p *PoolMetrics) start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		return
	}
	p.done = make(chan struct{})

	ticker := time.NewTicker(DefaultTickerDuration)

	p.wg.Add(1)
	go func(done chan struct{}) {
		defer p.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.accumulate()
			case <-done:
				p.accumulate()
				return
			}
		}
	}(p.done)
}

func (p *PoolMetrics) release() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done == nil {
		return
	}
	close(p.done)
	p.done = nil
	p.wg.Wait()
}

func (p *PoolMetrics) accumulate() {
	atomic.AddUint64(&p.naa, uint64(atomic.SwapUint32(&p.na, 0)))
	atomic.AddUint64(&p.nra, uint64(atomic.SwapUint32(&p.nr, 0)))
	atomic.AddUint64(&p.npa, uint64(atomic.SwapUint32(&p.np, 0)))
}

// Totals returns new allocations, reuses and put-backs including the counts
// not yet folded in by a tick.
func (p *PoolMetrics) Totals() (allocs, reuses, puts uint64) {
	allocs = atomic.LoadUint64(&p.naa) + uint64(atomic.LoadUint32(&p.na))
	reuses = atomic.LoadUint64(&p.nra) + uint64(atomic.LoadUint32(&p.nr))
	puts = atomic.LoadUint64(&p.npa) + uint64(atomic.LoadUint32(&p.np))
	return allocs, reuses, puts
}

func (p *PoolMetrics) metricsString() string {
	return fmt.Sprintf("[ %v|%v|%v, %v|%v|%v ]",
		atomic.LoadUint32(&p.na), atomic.LoadUint32(&p.nr), atomic.LoadUint32(&p.np),
		atomic.LoadUint64(&p.naa), atomic.LoadUint64(&p.nra), atomic.LoadUint64(&p.npa))
}
