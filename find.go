package docdb

import (
	"github.com/sirupsen/logrus"
)

// findPlan describes how a query is executed against one collection.
type findPlan struct {
	db, coll, rel string
	q             *query

	// columns are the promoted fields, projected and overlaid onto every
	// decoded document.
	columns []string

	// prefilter is set when every queried field can be read from the row
	// without decoding the blob.
	prefilter bool

	index  *indexInfo
	prefix [][]byte
}

// Find returns a cursor over the documents of db.coll matching q. Rows are
// fetched in pages as the cursor advances, so no storage transaction stays
// open between documents and the caller may write to the store while
// iterating.
func (s *Store) Find(db, coll string, q Document) (*Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.prepareLocked(db, coll); err != nil {
		return nil, err
	}
	cq, err := compileQuery(q)
	if err != nil {
		return nil, collErrf(db, coll, "", err, "")
	}
	ci, err := s.cache.get(db, coll)
	if err != nil {
		return nil, collErrf(db, coll, "", err, "")
	}
	p := planFind(db, coll, cq, ci)
	if p.index != nil {
		indexScansTotal.Inc()
	}
	s.log.WithFields(logrus.Fields{
		"database":   db,
		"collection": coll,
		"prefilter":  p.prefilter,
		"index":      p.indexName(),
	}).Debug("docdb: find")
	return newCursor(s.findSource(p)), nil
}

// FindOne returns the first document matching q, or ErrNotFound.
func (s *Store) FindOne(db, coll string, q Document) (Document, error) {
	c, err := s.Find(db, coll, q)
	if err != nil {
		return nil, err
	}
	if c.Next() {
		return c.Doc(), nil
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return nil, collErrf(db, coll, "", ErrNotFound, "")
}

func planFind(db, coll string, q *query, ci *collectionIndexes) *findPlan {
	p := &findPlan{
		db:      db,
		coll:    coll,
		rel:     relationName(db, coll),
		q:       q,
		columns: ci.Fields,
	}
	if q.isEmpty() {
		return p
	}
	for _, f := range q.fields {
		if f != idColumn && !ci.isPromoted(f) {
			return p
		}
	}
	p.prefilter = true
	p.index, p.prefix = chooseIndex(q, ci)
	return p
}

func (p *findPlan) indexName() string {
	if p.index == nil {
		return ""
	}
	return p.index.Name
}

// chooseIndex picks the index whose leading columns are bound by the most
// equality conditions. Only kinds whose equal values always have identical
// encodings are used; numbers are excluded because 1 equals 1.0.
func chooseIndex(q *query, ci *collectionIndexes) (*indexInfo, [][]byte) {
	bound := make(map[string]Value, len(q.eqs))
	for _, c := range q.eqs {
		if isExactKeyKind(c.value.Kind()) {
			bound[c.field] = c.value
		}
	}
	if len(bound) == 0 {
		return nil, nil
	}

	var best *indexInfo
	var bestPrefix [][]byte
	for i := range ci.Indexes {
		idx := &ci.Indexes[i]
		var prefix [][]byte
		for _, col := range idx.Columns {
			v, found := bound[col]
			if !found {
				break
			}
			enc, err := encodeValueKey(v)
			if err != nil {
				break
			}
			prefix = append(prefix, enc)
		}
		if len(prefix) > len(bestPrefix) {
			best, bestPrefix = idx, prefix
		}
	}
	return best, bestPrefix
}

func isExactKeyKind(k Kind) bool {
	switch k {
	case KindNull, KindBool, KindString, KindBytes, KindTime, KindObjectId:
		return true
	default:
		return false
	}
}

func (s *Store) findSource(p *findPlan) docSource {
	var (
		page  []*row
		after []byte
		done  bool
	)
	return func() (Document, error) {
		for {
			for len(page) > 0 {
				r := page[0]
				page = page[1:]
				doc, err := s.matchRow(p, r)
				if err != nil {
					page, done = nil, true
					return nil, err
				}
				if doc != nil {
					return doc, nil
				}
			}
			if done {
				return nil, nil
			}
			var err error
			page, after, err = s.fetchPage(p, after)
			if err != nil {
				done = true
				return nil, err
			}
			if after == nil {
				done = true
			}
		}
	}
}

func (s *Store) fetchPage(p *findPlan, after []byte) ([]*row, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, nil, err
	}
	rows, next, err := s.eng.Scan(p.rel, scanRequest{
		Columns: p.columns,
		Index:   p.index,
		Prefix:  p.prefix,
		After:   after,
		Limit:   s.batchSize,
	})
	if err != nil {
		return nil, nil, collErrf(p.db, p.coll, "", storageErr("scan "+p.rel, err), "")
	}
	rowsScannedTotal.Add(float64(len(rows)))
	return rows, next, nil
}

// matchRow returns the document stored in r if it matches the query, and nil
// otherwise.
func (s *Store) matchRow(p *findPlan, r *row) (Document, error) {
	decided := false
	if p.prefilter {
		get, ok, err := rowLookup(r, p.q.fields)
		if err != nil {
			return nil, collErrf(p.db, p.coll, r.ID, err, "")
		}
		// A column left unpopulated by an interrupted backfill is not
		// authoritative, so such rows are evaluated on the blob.
		if ok {
			matched, err := p.q.match(get)
			if err != nil {
				return nil, collErrf(p.db, p.coll, r.ID, err, "")
			}
			if !matched {
				blobDecodesSkippedTotal.Inc()
				return nil, nil
			}
			decided = true
		}
	}

	doc, err := rowDocument(r, p.columns)
	if err != nil {
		return nil, collErrf(p.db, p.coll, r.ID, err, "")
	}
	if !decided {
		matched, err := p.q.match(documentLookup(doc))
		if err != nil {
			return nil, collErrf(p.db, p.coll, r.ID, err, "")
		}
		if !matched {
			return nil, nil
		}
	}
	return doc, nil
}

// rowLookup reads the given fields from the columns of r. It reports false
// if some column is unpopulated.
func rowLookup(r *row, fields []string) (valueLookup, bool, error) {
	values := make(map[string]Value, len(fields))
	for _, f := range fields {
		if f == idColumn {
			id, err := ParseObjectId(r.ID)
			if err != nil {
				return nil, false, storageErr("decode id", err)
			}
			values[f] = valueOfNormalized(id)
			continue
		}
		raw := r.Values[f]
		if raw == nil {
			return nil, false, nil
		}
		v, err := decodeColumnValue(raw)
		if err != nil {
			return nil, false, storageErr("decode column "+f, err)
		}
		values[f] = v
	}
	return func(field string) (Value, bool) {
		v, found := values[field]
		return v, found
	}, true, nil
}

// rowDocument reconstructs the document stored in r: the decoded blob,
// overlaid with the populated columns, with _id attached.
func rowDocument(r *row, columns []string) (Document, error) {
	doc, err := decodeBlob(r.Blob)
	if err != nil {
		return nil, storageErr("decode blob", err)
	}
	blobDecodesTotal.Inc()
	for _, c := range columns {
		raw := r.Values[c]
		if raw == nil {
			continue
		}
		v, err := decodeColumnValue(raw)
		if err != nil {
			return nil, storageErr("decode column "+c, err)
		}
		doc[c] = v.Interface()
	}
	id, err := ParseObjectId(r.ID)
	if err != nil {
		return nil, storageErr("decode id", err)
	}
	doc[idColumn] = id
	return doc, nil
}
