// Package chunkio pools the byte buffers used to carry chunk payloads
// across the proxy<->server RPC boundary, so a steady stream of chunked
// uploads doesn't churn the allocator on every call. Grounded on
// the teacher's internal/buffer.BytePool, trimmed to the single chunk size
// this protocol actually uses and with the global singleton removed (the
// proxy engine owns one pool, constructed at startup, and draws its upload
// chunks from it; the server allocates its chunk buffers directly).
package chunkio

import "sync"

// Pool hands out byte slices sized for wire.Chunk payloads.
type Pool struct {
	chunkSize int
	pool      sync.Pool
}

// NewPool creates a Pool whose buffers are sized for chunkSize-byte
// payloads (see wire.DefaultChunkSize).
func NewPool(chunkSize int) *Pool {
	p := &Pool{chunkSize: chunkSize}
	p.pool.New = func() interface{} {
		return make([]byte, chunkSize)
	}
	return p
}

// Get returns a buffer of exactly p.chunkSize bytes. Callers needing fewer
// bytes should slice the result; Get never returns a buffer shorter than
// chunkSize.
func (p *Pool) Get() []byte {
	buf := p.pool.Get().([]byte)
	if cap(buf) < p.chunkSize {
		return make([]byte, p.chunkSize)
	}
	return buf[:p.chunkSize]
}

// Put returns buf to the pool. Buffers whose capacity doesn't match the
// pool's chunk size are dropped rather than pooled, to avoid gradually
// replacing all pooled buffers with mismatched ones.
func (p *Pool) Put(buf []byte) {
	if cap(buf) != p.chunkSize {
		return
	}
	p.pool.Put(buf[:p.chunkSize]) //nolint:staticcheck // sync.Pool.Put requires interface{}
}
