package docdb

import (
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// InsertOne writes doc to db.coll and returns its id. A document without an
// _id gets a fresh one; a document whose _id already exists replaces the
// stored document entirely. doc itself is not modified.
func (s *Store) InsertOne(db, coll string, doc Document) (ObjectId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.prepareLocked(db, coll); err != nil {
		return ObjectId{}, err
	}
	return s.insertLocked(db, coll, doc)
}

// InsertMany inserts docs one by one, each committed on its own. It stops at
// the first failure, returning the ids of the documents written before it.
func (s *Store) InsertMany(db, coll string, docs []Document) ([]ObjectId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.prepareLocked(db, coll); err != nil {
		return nil, err
	}
	ids := make([]ObjectId, 0, len(docs))
	for i, doc := range docs {
		id, err := s.insertLocked(db, coll, doc)
		if err != nil {
			return ids, errors.WithMessagef(err, "document %d of %d", i+1, len(docs))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) insertLocked(db, coll string, doc Document) (ObjectId, error) {
	id, err := s.putLocked(db, coll, doc)
	if err != nil {
		insertsTotal.WithLabelValues(metricsFail).Inc()
		return id, err
	}
	insertsTotal.WithLabelValues(metricsOk).Inc()
	return id, nil
}

func (s *Store) putLocked(db, coll string, doc Document) (ObjectId, error) {
	id, doc, err := prepareDocument(doc)
	if err != nil {
		return ObjectId{}, collErrf(db, coll, "", err, "invalid document")
	}
	ci, err := s.cache.get(db, coll)
	if err != nil {
		return ObjectId{}, collErrf(db, coll, id.Hex(), err, "")
	}
	r, err := buildRow(id, doc, ci.Fields, s.codec)
	if err != nil {
		return ObjectId{}, collErrf(db, coll, id.Hex(), err, "")
	}

	rel := relationName(db, coll)
	if err := s.eng.Replace(rel, r); err != nil {
		return ObjectId{}, collErrf(db, coll, id.Hex(), storageErr("replace in "+rel, err), "")
	}

	fields := logrus.Fields{
		"database":   db,
		"collection": coll,
		"id":         id,
		"blob_size":  len(r.Blob),
	}
	if s.verbose {
		fields["doc"] = loggableDoc(doc)
	}
	s.log.WithFields(fields).Debug("docdb: put")
	return id, nil
}

// prepareDocument normalizes a copy of doc and resolves its id.
func prepareDocument(doc Document) (ObjectId, Document, error) {
	if _, found := doc[blobColumn]; found {
		return ObjectId{}, nil, errors.WithMessagef(ErrReservedField, "%s", blobColumn)
	}
	doc, err := Normalize(doc)
	if err != nil {
		return ObjectId{}, nil, err
	}

	var id ObjectId
	switch v := doc[idColumn].(type) {
	case nil:
		id = NewObjectId()
	case ObjectId:
		id = v
	case string:
		id, err = ParseObjectId(v)
		if err != nil {
			return ObjectId{}, nil, err
		}
	default:
		return ObjectId{}, nil, errors.WithMessagef(ErrInvalidID, "%T", v)
	}
	doc[idColumn] = id
	return id, doc, nil
}

// buildRow encodes doc into a row holding its blob and the value of every
// promoted field.
func buildRow(id ObjectId, doc Document, fields []string, opt codecOptions) (*row, error) {
	blob, err := encodeBlob(doc, opt)
	if err != nil {
		return nil, err
	}
	r := &row{
		ID:     id.Hex(),
		Blob:   blob,
		Values: make(map[string][]byte, len(fields)),
	}
	for _, f := range fields {
		v, found := doc[f]
		if !found {
			return nil, errors.WithMessagef(ErrFieldMissing, "indexed field %q", f)
		}
		r.Values[f], err = encodeValueKey(valueOfNormalized(v))
		if err != nil {
			return nil, errors.WithMessagef(err, "indexed field %q", f)
		}
	}
	return r, nil
}

func loggableDoc(doc Document) string {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return string(raw)
}
