package docdb

import (
	"slices"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

const defaultIndexCacheSize = 1024

type collectionKey struct {
	db, coll string
}

// collectionIndexes is what the index cache knows about a collection: the
// promoted fields (physical columns minus system ones, in creation order)
// and the compound indexes. Values are immutable once cached.
type collectionIndexes struct {
	Fields  []string
	Indexes []indexInfo
}

func (ci *collectionIndexes) isPromoted(field string) bool {
	return slices.Contains(ci.Fields, field)
}

// indexCache remembers the promoted fields of recently used collections. It
// is authoritative: misses are filled from storage metadata, and the store
// reloads an entry whenever it changes the collection's columns or indexes.
type indexCache struct {
	eng     engine
	entries *lru.Cache
}

func newIndexCache(eng engine, size int) (*indexCache, error) {
	if size <= 0 {
		size = defaultIndexCacheSize
	}
	entries, err := lru.New(size)
	if err != nil {
		return nil, errors.WithMessage(err, "index cache")
	}
	return &indexCache{eng: eng, entries: entries}, nil
}

func (c *indexCache) get(db, coll string) (*collectionIndexes, error) {
	if v, ok := c.entries.Get(collectionKey{db, coll}); ok {
		return v.(*collectionIndexes), nil
	}
	return c.reload(db, coll)
}

func (c *indexCache) reload(db, coll string) (*collectionIndexes, error) {
	rel := relationName(db, coll)
	cols, err := c.eng.Columns(rel)
	if err != nil {
		c.forget(db, coll)
		return nil, storageErr("reading columns of "+rel, err)
	}
	indexes, err := c.eng.Indexes(rel)
	if err != nil {
		c.forget(db, coll)
		return nil, storageErr("reading indexes of "+rel, err)
	}
	ci := &collectionIndexes{
		Fields:  slices.DeleteFunc(cols, isSystemColumn),
		Indexes: indexes,
	}
	c.entries.Add(collectionKey{db, coll}, ci)
	indexCacheLoads.Inc()
	return ci, nil
}

func (c *indexCache) forget(db, coll string) {
	c.entries.Remove(collectionKey{db, coll})
}

func (c *indexCache) purge() {
	c.entries.Purge()
}
