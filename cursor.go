package docdb

import (
	"iter"
	"slices"

	"github.com/pkg/errors"
)

// docSource yields documents one at a time. It returns a nil document once
// exhausted.
type docSource func() (Document, error)

// Cursor iterates over the result of a query.
//
// A fresh cursor is lazy and single-pass: documents are fetched as Next is
// called. Count, All and Sort materialize the remaining documents; a
// materialized cursor can be iterated any number of times, each exhausted
// pass rewinding it.
type Cursor struct {
	src docSource

	docs         []Document
	materialized bool
	pos          int

	cur Document
	err error
}

func newCursor(src docSource) *Cursor {
	return &Cursor{src: src}
}

func newMaterializedCursor(docs []Document) *Cursor {
	return &Cursor{docs: docs, materialized: true}
}

// Next advances to the next document, returning false at the end of the
// sequence or on error.
func (c *Cursor) Next() bool {
	c.cur = nil
	if c.err != nil {
		return false
	}
	if c.materialized {
		if c.pos < len(c.docs) {
			c.cur = c.docs[c.pos]
			c.pos++
			return true
		}
		c.pos = 0
		return false
	}
	if c.src == nil {
		return false
	}
	doc, err := c.src()
	if err != nil {
		c.err = err
		c.src = nil
		return false
	}
	if doc == nil {
		c.src = nil
		return false
	}
	c.cur = doc
	return true
}

// Doc returns the current document.
func (c *Cursor) Doc() Document {
	return c.cur
}

func (c *Cursor) Err() error {
	return c.err
}

// Seq adapts the cursor to a range-over-func loop. Iteration stops after
// yielding an error.
func (c *Cursor) Seq() iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		for c.Next() {
			if !yield(c.cur, nil) {
				return
			}
		}
		if c.err != nil {
			yield(nil, c.err)
		}
	}
}

func (c *Cursor) materialize() error {
	if c.err != nil {
		return c.err
	}
	if c.materialized {
		return nil
	}
	var docs []Document
	for c.Next() {
		docs = append(docs, c.cur)
	}
	c.cur = nil
	if c.err != nil {
		return c.err
	}
	c.docs, c.materialized, c.pos = docs, true, 0
	return nil
}

// All materializes the cursor and returns its documents.
func (c *Cursor) All() ([]Document, error) {
	if err := c.materialize(); err != nil {
		return nil, err
	}
	return slices.Clone(c.docs), nil
}

// Count materializes the cursor and returns the number of documents.
func (c *Cursor) Count() (int, error) {
	if err := c.materialize(); err != nil {
		return 0, err
	}
	return len(c.docs), nil
}

// Sort returns a new materialized cursor over the documents ordered
// ascending by field. Ties keep their original order.
func (c *Cursor) Sort(field string) (*Cursor, error) {
	if err := c.materialize(); err != nil {
		return nil, err
	}
	docs := slices.Clone(c.docs)
	for _, doc := range docs {
		if _, found := doc[field]; !found {
			return nil, errors.WithMessagef(ErrFieldMissing, "sort field %q", field)
		}
	}
	var sortErr error
	slices.SortStableFunc(docs, func(a, b Document) int {
		r, err := Compare(valueOfNormalized(a[field]), valueOfNormalized(b[field]))
		if err != nil && sortErr == nil {
			sortErr = errors.WithMessagef(err, "sort field %q", field)
		}
		return r
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return newMaterializedCursor(docs), nil
}
