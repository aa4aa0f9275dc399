package cryptokernel

import (
	"sync"
	"sync/atomic"
)

// BufferPool provides thread-safe pooling of byte buffers for the sizes the
// kernel churns through most: nonces (24 B), keys (32 B), and chunk-sized
// buffers. Buffers are zeroized before returning to the pool since they may
// have held key material or plaintext.
type BufferPool struct {
	pool24     *sync.Pool // 24-byte buffers (XChaCha20-Poly1305 nonces)
	pool32     *sync.Pool // 32-byte buffers (content keys, hashes)
	poolChunks *sync.Pool // chunk-sized buffers

	chunkSize int

	hits24, misses24         int64
	hits32, misses32         int64
	hitsChunk, missesChunk   int64
}

// NewBufferPool creates a buffer pool sized for the given chunk size.
func NewBufferPool(chunkSize int) *BufferPool {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	p := &BufferPool{chunkSize: chunkSize}
	p.pool24 = &sync.Pool{}
	p.pool32 = &sync.Pool{}
	p.poolChunks = &sync.Pool{}
	return p
}

// Get returns a buffer of at least the requested size.
func (p *BufferPool) Get(size int) []byte {
	switch {
	case size == 24:
		if buf := p.pool24.Get(); buf != nil {
			atomic.AddInt64(&p.hits24, 1)
			return buf.([]byte)
		}
		atomic.AddInt64(&p.misses24, 1)
		return make([]byte, 24)
	case size == 32:
		if buf := p.pool32.Get(); buf != nil {
			atomic.AddInt64(&p.hits32, 1)
			return buf.([]byte)
		}
		atomic.AddInt64(&p.misses32, 1)
		return make([]byte, 32)
	case size <= p.chunkSize+tagSize:
		if buf := p.poolChunks.Get(); buf != nil {
			atomic.AddInt64(&p.hitsChunk, 1)
			b := buf.([]byte)
			if cap(b) >= size {
				return b[:size]
			}
		}
		atomic.AddInt64(&p.missesChunk, 1)
		return make([]byte, size)
	default:
		return make([]byte, size)
	}
}

// Put returns a buffer to the matching pool after zeroizing it.
func (p *BufferPool) Put(buf []byte) {
	c := cap(buf)
	for i := range buf {
		buf[i] = 0
	}
	switch {
	case c == 24:
		p.pool24.Put(buf[:24])
	case c == 32:
		p.pool32.Put(buf[:32])
	case c >= p.chunkSize && c <= p.chunkSize+tagSize:
		p.poolChunks.Put(buf[:cap(buf)])
	}
}

// Metrics returns current pool hit/miss counters.
func (p *BufferPool) Metrics() BufferPoolMetrics {
	return BufferPoolMetrics{
		Hits24:      atomic.LoadInt64(&p.hits24),
		Misses24:    atomic.LoadInt64(&p.misses24),
		Hits32:      atomic.LoadInt64(&p.hits32),
		Misses32:    atomic.LoadInt64(&p.misses32),
		HitsChunk:   atomic.LoadInt64(&p.hitsChunk),
		MissesChunk: atomic.LoadInt64(&p.missesChunk),
	}
}

// BufferPoolMetrics snapshots pool performance.
type BufferPoolMetrics struct {
	Hits24, Misses24         int64
	Hits32, Misses32         int64
	HitsChunk, MissesChunk   int64
}
