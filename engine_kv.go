package docdb

import (
	"bytes"
	"slices"
	"time"

	"github.com/pkg/errors"
)

// kvEngine implements relations on an ordered key-value storage.
//
// Layout: a root bucket "databases" holds the catalog (one key per database).
// Every relation is a root bucket holding the relationState under "_meta", a
// "data" sub-bucket mapping the id to a rowValue, and an "i_<index name>"
// sub-bucket per compound index mapping indexEntryKey to the id.
type kvEngine struct {
	st  storage
	now func() time.Time
}

func newKVEngine(st storage) *kvEngine {
	return &kvEngine{st: st, now: time.Now}
}

func (e *kvEngine) write(f func(tx storageTx) error) error {
	tx, err := e.st.BeginTx(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := f(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (e *kvEngine) read(f func(tx storageTx) error) error {
	tx, err := e.st.BeginTx(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return f(tx)
}

func (e *kvEngine) Close() error {
	return e.st.Close()
}

type catalogEntry struct {
	Created time.Time `msgpack:"t"`
}

func (e *kvEngine) EnsureCatalog() error {
	return e.write(func(tx storageTx) error {
		_, err := tx.CreateBucket(catalogRelation, "")
		return err
	})
}

func (e *kvEngine) RegisterDatabase(name string) error {
	return e.write(func(tx storageTx) error {
		b := tx.Bucket(catalogRelation, "")
		if b == nil {
			return errors.New("catalog does not exist")
		}
		if b.Get([]byte(name)) != nil {
			return nil
		}
		raw, err := encodeMeta(&catalogEntry{Created: e.now().UTC()})
		if err != nil {
			return err
		}
		return b.Put([]byte(name), raw)
	})
}

func (e *kvEngine) Databases() ([]string, error) {
	var names []string
	err := e.read(func(tx storageTx) error {
		b := tx.Bucket(catalogRelation, "")
		if b == nil {
			return errors.New("catalog does not exist")
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			names = append(names, string(k))
		}
		return nil
	})
	return names, err
}

func (e *kvEngine) EnsureRelation(rel string) error {
	return e.write(func(tx storageTx) error {
		if _, err := tx.CreateBucket(rel, dataBucketName); err != nil {
			return err
		}
		root := tx.Bucket(rel, "")
		if root.Get(relationStateKey) != nil {
			return nil
		}
		return newRelationState(e.now()).save(root)
	})
}

func (e *kvEngine) Columns(rel string) ([]string, error) {
	var cols []string
	err := e.read(func(tx storageTx) error {
		rs, _, err := loadRelationState(tx, rel)
		if err != nil {
			return err
		}
		cols = append(slices.Clone(systemColumns), rs.Columns...)
		return nil
	})
	return cols, err
}

func (e *kvEngine) AddColumn(rel, col string) error {
	return e.write(func(tx storageTx) error {
		rs, root, err := loadRelationState(tx, rel)
		if err != nil {
			return err
		}
		if rs.hasColumn(col) || isSystemColumn(col) {
			return errors.Errorf("%s: duplicate column name %s", rel, col)
		}
		rs.Columns = append(rs.Columns, col)
		return rs.save(root)
	})
}

func (e *kvEngine) Replace(rel string, r *row) error {
	return e.write(func(tx storageTx) error {
		rs, _, err := loadRelationState(tx, rel)
		if err != nil {
			return err
		}
		for c := range r.Values {
			if !rs.hasColumn(c) {
				return errors.Errorf("%s: no such column %s", rel, c)
			}
		}
		data := tx.Bucket(rel, dataBucketName)
		key := []byte(r.ID)

		var modCount uint64
		newRows := rs.indexRowsFor(r.ID, r.Values)
		if old := data.Get(key); old != nil {
			var ov rowValue
			if err := ov.decode(old); err != nil {
				return err
			}
			modCount = ov.ModCount
			err := findRemovedIndexKeys(slices.Clone(ov.Index), newRows, func(ord uint64, key []byte) error {
				is := rs.indexesByOrd[ord]
				if is == nil {
					return nil
				}
				return tx.Bucket(rel, is.bucketName()).Delete(key)
			})
			if err != nil {
				return err
			}
		}
		for _, ir := range newRows {
			is := rs.indexesByOrd[ir.IndexOrd]
			if err := tx.Bucket(rel, is.bucketName()).Put(ir.KeyRaw, key); err != nil {
				return err
			}
		}
		return data.Put(key, encodeRowValue(modCount+1, r, rs.Columns, newRows))
	})
}

func (e *kvEngine) Scan(rel string, req scanRequest) ([]*row, []byte, error) {
	var rows []*row
	var next []byte
	err := e.read(func(tx storageTx) error {
		rs, _, err := loadRelationState(tx, rel)
		if err != nil {
			return err
		}
		data := tx.Bucket(rel, dataBucketName)

		// emit reports whether the page is full.
		emit := func(id, raw []byte) (bool, error) {
			var rv rowValue
			if err := rv.decode(raw); err != nil {
				return false, err
			}
			blob, values, err := rv.fields()
			if err != nil {
				return false, err
			}
			r := &row{ID: string(id), Values: make(map[string][]byte, len(req.Columns))}
			if !req.NoBlob {
				r.Blob = slices.Clone(blob)
			}
			for _, c := range req.Columns {
				if v := values[c]; v != nil {
					r.Values[c] = slices.Clone(v)
				}
			}
			rows = append(rows, r)
			if req.Limit > 0 && len(rows) >= req.Limit {
				next = slices.Clone(id)
				return true, nil
			}
			return false, nil
		}

		if req.Index == nil {
			c := data.Cursor()
			k, v := seekAfter(c, req.After)
			for ; k != nil; k, v = c.Next() {
				if full, err := emit(k, v); err != nil || full {
					return err
				}
			}
			return nil
		}

		is := rs.Indexes[req.Index.Name]
		if is == nil {
			return errors.Errorf("%s: no such index %s", rel, req.Index.Name)
		}
		// Index entries are ordered by column values, which a caller may
		// change between pages, so pages are cut by id like full scans.
		prefix := bytes.Join(req.Prefix, nil)
		var ids [][]byte
		c := tx.Bucket(rel, is.bucketName()).Cursor()
		for k, id := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, id = c.Next() {
			if req.After == nil || bytes.Compare(id, req.After) > 0 {
				ids = append(ids, id)
			}
		}
		slices.SortFunc(ids, bytes.Compare)
		for _, id := range ids {
			raw := data.Get(id)
			if raw == nil {
				return dataErrf(id, 0, nil, "%s: index %s points to missing row %s", rel, is.name, id)
			}
			if full, err := emit(id, raw); err != nil || full {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return rows, next, nil
}

// seekAfter positions c at the first key past after, or at the first key
// when after is nil.
func seekAfter(c storageCursor, after []byte) ([]byte, []byte) {
	if after == nil {
		return c.First()
	}
	k, v := c.Seek(after)
	if k != nil && bytes.Equal(k, after) {
		return c.Next()
	}
	return k, v
}

func (e *kvEngine) CreateIndex(rel, name string, cols []string) error {
	return e.write(func(tx storageTx) error {
		rs, root, err := loadRelationState(tx, rel)
		if err != nil {
			return err
		}
		if rs.Indexes[name] != nil {
			return nil
		}
		for _, c := range cols {
			if !rs.hasColumn(c) {
				return errors.Errorf("%s: no such column %s", rel, c)
			}
		}
		is := rs.addIndex(name, cols)
		ib, err := tx.CreateBucket(rel, is.bucketName())
		if err != nil {
			return err
		}

		data := tx.Bucket(rel, dataBucketName)
		var ids [][]byte
		c := data.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			ids = append(ids, slices.Clone(k))
		}

		// Rewrite every row so that its index key records include the new index.
		for _, id := range ids {
			var rv rowValue
			if err := rv.decode(data.Get(id)); err != nil {
				return err
			}
			blob, values, err := rv.fields()
			if err != nil {
				return err
			}
			if err := ib.Put(indexEntryKey(is.Columns, values, string(id)), id); err != nil {
				return err
			}
			r := &row{ID: string(id), Blob: blob, Values: values}
			newVal := encodeRowValue(rv.ModCount, r, rs.Columns, rs.indexRowsFor(r.ID, values))
			if err := data.Put(id, newVal); err != nil {
				return err
			}
		}
		return rs.save(root)
	})
}

func (e *kvEngine) Indexes(rel string) ([]indexInfo, error) {
	var result []indexInfo
	err := e.read(func(tx storageTx) error {
		rs, _, err := loadRelationState(tx, rel)
		if err != nil {
			return err
		}
		for _, is := range rs.sortedIndexes() {
			result = append(result, is.info())
		}
		return nil
	})
	return result, err
}

func (e *kvEngine) Stats(rel string) (CollectionStats, error) {
	var result CollectionStats
	err := e.read(func(tx storageTx) error {
		rs, _, err := loadRelationState(tx, rel)
		if err != nil {
			return err
		}
		bs := tx.Bucket(rel, dataBucketName).Stats()
		result.Rows = bs.KeyN
		result.DataSize = bs.LeafInuse
		result.DataAlloc = bs.TotalAlloc()
		for _, is := range rs.sortedIndexes() {
			bs := tx.Bucket(rel, is.bucketName()).Stats()
			result.IndexRows += bs.KeyN
			result.IndexSize += bs.LeafInuse
			result.IndexAlloc += bs.TotalAlloc()
		}
		return nil
	})
	return result, err
}
