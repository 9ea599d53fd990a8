package docdb

import (
	"bytes"
	"slices"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

const memBucketSep = "\x00"

var errMemTxNotWritable = errors.New("tx not writable")

// memStorage is a transient in-memory storage. Every transaction sees a
// snapshot of the bucket set; a write transaction copies a bucket the first
// time it modifies it, and publishes its bucket set on commit. Writers are
// serialized.
type memStorage struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]*memBucket
	closed  bool
	writer  bool
}

func newMemStorage() storage {
	s := &memStorage{buckets: make(map[string]*memBucket)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, ErrClosed
		}
		s.writer = true
	}

	snap := make(map[string]*memBucket, len(s.buckets))
	for k, b := range s.buckets {
		snap[k] = b
	}
	tx := &memTx{
		writable: writable,
		base:     s,
		buckets:  snap,
	}
	if writable {
		tx.owned = make(map[*memBucket]bool)
	}
	return tx, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	s.cond.Broadcast()
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	buckets  map[string]*memBucket
	owned    map[*memBucket]bool
	closed   bool
}

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) Bucket(name, sub string) storageBucket {
	if tx.closed {
		panic("tx is closed")
	}
	key := memBucketKey(name, sub)
	if tx.buckets[key] == nil {
		return nil
	}
	return memBucketHandle{tx: tx, key: key}
}

func (tx *memTx) CreateBucket(name, sub string) (storageBucket, error) {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return nil, errMemTxNotWritable
	}

	// Bolt creates the root for nested buckets too.
	rootKey := memBucketKey(name, "")
	if tx.buckets[rootKey] == nil {
		tx.buckets[rootKey] = tx.own(&memBucket{})
	}
	key := memBucketKey(name, sub)
	if tx.buckets[key] == nil {
		tx.buckets[key] = tx.own(&memBucket{})
	}
	return memBucketHandle{tx: tx, key: key}, nil
}

func (tx *memTx) own(b *memBucket) *memBucket {
	tx.owned[b] = true
	return b
}

// mutable returns a bucket this transaction may modify in place.
func (tx *memTx) mutable(key string) *memBucket {
	b := tx.buckets[key]
	if !tx.owned[b] {
		b = tx.own(b.clone())
		tx.buckets[key] = b
	}
	return b
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return errMemTxNotWritable
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return ErrClosed
	}
	tx.base.buckets = tx.buckets
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

func memBucketKey(name, sub string) string {
	return name + memBucketSep + sub
}

type memBucket struct {
	items []memKV // sorted by key
}

// clone copies the item list; keys and values are never modified in place,
// so they are shared.
func (b *memBucket) clone() *memBucket {
	return &memBucket{items: slices.Clone(b.items)}
}

func (b *memBucket) find(key []byte) (idx int, ok bool) {
	items := b.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
	return i, i < len(items) && bytes.Equal(items[i].key, key)
}

type memKV struct {
	key   []byte
	value []byte
}

type memBucketHandle struct {
	tx  *memTx
	key string
}

func (h memBucketHandle) bucket() *memBucket {
	return h.tx.buckets[h.key]
}

func (h memBucketHandle) Get(key []byte) []byte {
	b := h.bucket()
	i, ok := b.find(key)
	if !ok {
		return nil
	}
	return b.items[i].value
}

func (h memBucketHandle) Put(key, value []byte) error {
	if !h.tx.writable {
		return errMemTxNotWritable
	}
	if len(key) == 0 {
		return errors.New("key required")
	}
	b := h.tx.mutable(h.key)
	key = slices.Clone(key)
	value = append([]byte{}, value...)

	i, ok := b.find(key)
	if ok {
		b.items[i].value = value
		return nil
	}
	b.items = slices.Insert(b.items, i, memKV{key: key, value: value})
	return nil
}

func (h memBucketHandle) Delete(key []byte) error {
	if !h.tx.writable {
		return errMemTxNotWritable
	}
	if _, ok := h.bucket().find(key); !ok {
		return nil
	}
	b := h.tx.mutable(h.key)
	i, _ := b.find(key)
	b.items = slices.Delete(b.items, i, i+1)
	return nil
}

func (h memBucketHandle) Cursor() storageCursor {
	return &memCursor{h: h, pos: -1}
}

func (h memBucketHandle) Stats() bucketStats {
	b := h.bucket()
	var inuse int64
	for _, kv := range b.items {
		inuse += int64(len(kv.key) + len(kv.value))
	}
	return bucketStats{
		KeyN:      len(b.items),
		LeafInuse: inuse,
		LeafAlloc: inuse,
	}
}

// memCursor tracks its position by key, so it stays valid when the bucket is
// modified (or copied) during iteration.
type memCursor struct {
	h   memBucketHandle
	pos int
	key []byte
}

func (c *memCursor) at(i int) ([]byte, []byte) {
	items := c.h.bucket().items
	c.pos = i
	if i >= len(items) {
		c.key = nil
		return nil, nil
	}
	kv := items[i]
	c.key = kv.key
	return kv.key, kv.value
}

func (c *memCursor) First() ([]byte, []byte) {
	return c.at(0)
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	i, _ := c.h.bucket().find(seek)
	return c.at(i)
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.pos < 0 {
		return c.First()
	}
	if c.key == nil {
		return nil, nil
	}
	i, ok := c.h.bucket().find(c.key)
	if ok {
		i++
	}
	return c.at(i)
}
