package docdb

import (
	"bytes"
	"cmp"
	"slices"
	"time"

	"github.com/jgraettinger/cockroach-encoding/encoding"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// relationState is the meta document the KV engine keeps per relation. It
// records the user columns in creation order and assigns an ordinal to every
// compound index. Ordinals are never reused.
type relationState struct {
	Columns          []string               `msgpack:"c"`
	LastIndexOrdinal uint64                 `msgpack:"li"`
	Indexes          map[string]*indexState `msgpack:"i"`
	Created          time.Time              `msgpack:"t"`

	indexesByOrd map[uint64]*indexState
}

type indexState struct {
	Ordinal uint64   `msgpack:"o"`
	Columns []string `msgpack:"c"`

	name string
}

func (is *indexState) bucketName() string {
	return indexBucketPrefix + is.name
}

func (is *indexState) info() indexInfo {
	return indexInfo{Name: is.name, Columns: slices.Clone(is.Columns)}
}

const (
	dataBucketName    = "data"
	indexBucketPrefix = "i_"
)

var relationStateKey = []byte("_meta")

func newRelationState(now time.Time) *relationState {
	rs := &relationState{Created: now.UTC()}
	rs.init()
	return rs
}

func (rs *relationState) init() {
	if rs.Indexes == nil {
		rs.Indexes = make(map[string]*indexState)
	}
	rs.indexesByOrd = make(map[uint64]*indexState, len(rs.Indexes))
	for name, is := range rs.Indexes {
		is.name = name
		rs.indexesByOrd[is.Ordinal] = is
	}
}

func loadRelationState(tx storageTx, rel string) (*relationState, storageBucket, error) {
	root := tx.Bucket(rel, "")
	if root == nil {
		return nil, nil, errors.Errorf("relation %s does not exist", rel)
	}
	raw := root.Get(relationStateKey)
	if raw == nil {
		return nil, nil, errors.Errorf("relation %s has no state", rel)
	}
	rs := new(relationState)
	if err := decodeMeta(raw, rs); err != nil {
		return nil, nil, errors.WithMessagef(err, "relation %s state", rel)
	}
	rs.init()
	return rs, root, nil
}

func (rs *relationState) save(root storageBucket) error {
	raw, err := encodeMeta(rs)
	if err != nil {
		return err
	}
	return root.Put(relationStateKey, raw)
}

func (rs *relationState) hasColumn(col string) bool {
	return slices.Contains(rs.Columns, col)
}

func (rs *relationState) addIndex(name string, cols []string) *indexState {
	rs.LastIndexOrdinal++
	is := &indexState{Ordinal: rs.LastIndexOrdinal, Columns: slices.Clone(cols), name: name}
	rs.Indexes[name] = is
	rs.indexesByOrd[is.Ordinal] = is
	return is
}

func (rs *relationState) sortedIndexes() []*indexState {
	result := make([]*indexState, 0, len(rs.Indexes))
	for _, is := range rs.Indexes {
		result = append(result, is)
	}
	slices.SortFunc(result, func(a, b *indexState) int {
		return cmp.Compare(a.Ordinal, b.Ordinal)
	})
	return result
}

// indexRowsFor computes the index entries of a row, ordered by ordinal.
func (rs *relationState) indexRowsFor(id string, values map[string][]byte) indexRows {
	idx := rs.sortedIndexes()
	rows := make(indexRows, 0, len(idx))
	for _, is := range idx {
		rows = append(rows, indexRow{is.Ordinal, indexEntryKey(is.Columns, values, id)})
	}
	return rows
}

// indexEntryKey is the concatenation of the row's column encodings (an
// unpopulated column contributes a bare absent tag) followed by the id.
func indexEntryKey(cols []string, values map[string][]byte, id string) []byte {
	var buf bytes.Buffer
	for _, c := range cols {
		if v := values[c]; v != nil {
			buf.Write(v)
		} else {
			buf.WriteByte(byte(KindAbsent))
		}
	}
	return encoding.EncodeStringAscending(buf.Bytes(), id)
}

func encodeMeta(v any) ([]byte, error) {
	var bb bytesBuilder
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to encode %T using msgpack", v)
	}
	return bb.Buf, nil
}

func decodeMeta(raw []byte, v any) error {
	var r bytes.Reader
	r.Reset(raw)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.Decode(v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(raw, 0, err, "failed to decode msgpack into %T", v)
	}
	return nil
}
