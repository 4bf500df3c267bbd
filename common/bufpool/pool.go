// Package bufpool provides size-tiered byte-slice pools so hot paths like
// the external-client tunnel copy don't churn the GC on every read.
package bufpool

import "sync"

// DefaultSize is the buffer size used by LargePool, sized for a typical
// TCP read.
const DefaultSize = 64 * 1024

// Pool is a sync.Pool of fixed-size byte slices.
type Pool struct {
	pool sync.Pool
}

func NewPool(size int) *Pool {
	return &Pool{
		pool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		},
	}
}

func (p *Pool) Get() []byte {
	bufPtr := p.pool.Get().(*[]byte)
	return *bufPtr
}

func (p *Pool) Put(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	p.pool.Put(&buf)
}

var (
	SmallPool  = NewPool(4 * 1024)
	MediumPool = NewPool(16 * 1024)
	LargePool  = NewPool(DefaultSize)
	HugePool   = NewPool(128 * 1024)
)

// Get returns a zeroed buffer of exactly size bytes from whichever tier
// fits it.
func Get(size int) []byte {
	switch {
	case size <= 4*1024:
		return SmallPool.Get()[:size]
	case size <= 16*1024:
		return MediumPool.Get()[:size]
	case size <= 64*1024:
		return LargePool.Get()[:size]
	default:
		return HugePool.Get()[:size]
	}
}

// Put returns buf to the tier matching its length.
func Put(buf []byte) {
	n := len(buf)
	switch {
	case n <= 4*1024:
		SmallPool.Put(buf[:n])
	case n <= 16*1024:
		MediumPool.Put(buf[:n])
	case n <= 64*1024:
		LargePool.Put(buf[:n])
	default:
		HugePool.Put(buf[:n])
	}
}
