package indexes

import "sync"

// Pooled buffers for assembling prefix + encoded-key + record-id entry
// keys. Buffers are handed out empty; capacity grows monotonically with
// the largest key seen, so the multi-index insert path stops allocating
// after warm-up.
var entryKeyPool = &sync.Pool{
	New: func() any {
		b := make([]byte, 0, 1024)
		return &b
	},
}

func getEntryKeyBuffer() *[]byte {
	b := entryKeyPool.Get().(*[]byte)
	*b = (*b)[:0]
	return b
}

func putEntryKeyBuffer(b *[]byte) {
	entryKeyPool.Put(b)
}
