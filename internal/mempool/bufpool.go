package mempool

import (
	"bytes"
	"sync"
)

// A simple pool for byte buffers to reduce allocations on encode hot paths
// (tile PNG encoding happens once per tile per inference call).

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// maxRetainedBytes caps the size of buffers returned to the pool so a
// single oversized image does not pin memory for the process lifetime.
const maxRetainedBytes = 8 << 20

// GetBuffer retrieves an empty buffer from the pool.
// The caller must return it via PutBuffer when done.
func GetBuffer() *bytes.Buffer {
	buf, ok := bufPool.Get().(*bytes.Buffer)
	if !ok {
		return new(bytes.Buffer)
	}
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool. It is safe to pass nil.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxRetainedBytes {
		return
	}
	bufPool.Put(buf)
}
