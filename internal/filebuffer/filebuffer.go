package filebuffer

import (
	"github.com/valyala/bytebufferpool"

	"github.com/mocaca/mocaca/internal/pool"
)

// ChunkSize is the largest amount of data requested from a file in a single
// read call.
const ChunkSize = 8 * 1024

// BufferPool holds the buffers used to accumulate a requested span before it
// is written to the client.
var BufferPool bytebufferpool.Pool

// GetBuffer gets a buffer from the pool
func GetBuffer() *bytebufferpool.ByteBuffer {
	return BufferPool.Get()
}

// ReleaseBuffer returns a buffer to the pool
func ReleaseBuffer(buf *bytebufferpool.ByteBuffer) {
	buf.Reset()
	BufferPool.Put(buf)
}

var chunkPool = pool.NewWithReset(func() *[]byte {
	b := make([]byte, ChunkSize)
	return &b
}, func(b *[]byte) bool {
	if cap(*b) < ChunkSize {
		return false
	}
	*b = (*b)[:ChunkSize]
	return true
})

// GetChunk gets a ChunkSize read buffer from the pool.
func GetChunk() *[]byte {
	return chunkPool.Get()
}

// ReleaseChunk returns a read buffer to the pool.
func ReleaseChunk(b *[]byte) {
	if b == nil {
		return
	}
	chunkPool.Put(b)
}
