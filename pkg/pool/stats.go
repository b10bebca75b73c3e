package pool

import (
	"sync/atomic"
	"time"
)

// Statistics is a point-in-time snapshot of pool usage. Counters start at
// zero when the pool is constructed. Fields are read independently, so a
// snapshot taken under concurrent load is only eventually consistent.
type Statistics struct {
	Size      int           `json:"size" yaml:"size"`
	Idle      int           `json:"idle" yaml:"idle"`
	InUse     int64         `json:"in_use" yaml:"in_use"`
	PeakInUse int64         `json:"peak_in_use" yaml:"peak_in_use"`
	Borrows   int64         `json:"borrows" yaml:"borrows"`
	Returns   int64         `json:"returns" yaml:"returns"`
	Timeouts  int64         `json:"timeouts" yaml:"timeouts"`
	Created   int64         `json:"created" yaml:"created"`
	Discarded int64         `json:"discarded" yaml:"discarded"`
	Retries   int64         `json:"retries" yaml:"retries"`
	WaitTotal time.Duration `json:"wait_total_ns" yaml:"wait_total"`
}

// AverageWait returns the mean time a successful Acquire waited.
func (s Statistics) AverageWait() time.Duration {
	if s.Borrows == 0 {
		return 0
	}
	return s.WaitTotal / time.Duration(s.Borrows)
}

type counters struct {
	size      int64
	inUse     atomic.Int64
	peak      atomic.Int64
	borrows   atomic.Int64
	returns   atomic.Int64
	timeouts  atomic.Int64
	created   atomic.Int64
	discarded atomic.Int64
	retries   atomic.Int64
	waitNanos atomic.Int64
}

// borrowed records a successful acquisition and returns the new in-use count.
func (c *counters) borrowed(wait time.Duration) int64 {
	c.borrows.Add(1)
	c.waitNanos.Add(int64(wait))
	n := c.inUse.Add(1)
	for {
		peak := c.peak.Load()
		if n <= peak || c.peak.CompareAndSwap(peak, n) {
			return n
		}
	}
}

// returned records a release and returns the new in-use count.
func (c *counters) returned() int64 {
	c.returns.Add(1)
	return c.inUse.Add(-1)
}

// Stats returns a snapshot of the pool counters. It never blocks.
func (p *Pool) Stats() Statistics {
	return Statistics{
		Size:      int(p.stats.size),
		Idle:      len(p.idle),
		InUse:     p.stats.inUse.Load(),
		PeakInUse: p.stats.peak.Load(),
		Borrows:   p.stats.borrows.Load(),
		Returns:   p.stats.returns.Load(),
		Timeouts:  p.stats.timeouts.Load(),
		Created:   p.stats.created.Load(),
		Discarded: p.stats.discarded.Load(),
		Retries:   p.stats.retries.Load(),
		WaitTotal: time.Duration(p.stats.waitNanos.Load()),
	}
}
