package docdb

import (
	"slices"
	"strings"

	"github.com/pkg/errors"
)

const (
	opLess    = "$lt"
	opGreater = "$gt"
)

// query is a compiled query document. Every field named by the query must
// be present in a matching document; a missing field is an error rather than
// a mismatch.
//
// Conditions are evaluated in a fixed order: presence of all fields, then
// equality conditions by field name, then operator conditions by field name.
// Equality never fails, so a document that mismatches on an equality
// condition never reports an operator error.
type query struct {
	fields []string
	eqs    []eqCondition
	ops    []opCondition
}

type eqCondition struct {
	field string
	value Value
}

type opCondition struct {
	field   string
	op      string
	operand Value
}

// compileQuery parses a query document. A value is an operator object when it
// is a non-empty map whose keys all start with "$"; any other value is a
// literal matched by equality.
func compileQuery(q Document) (*query, error) {
	c := &query{fields: make([]string, 0, len(q))}
	for field, raw := range q {
		if field == "" {
			return nil, errors.WithMessage(ErrInvalidQuery, "empty field name")
		}
		c.fields = append(c.fields, field)

		norm, err := normalizeValue(raw)
		if err != nil {
			return nil, errors.WithMessagef(ErrInvalidQuery, "field %q: %v", field, err)
		}
		ops, isOp, err := operatorObject(norm)
		if err != nil {
			return nil, errors.WithMessagef(err, "field %q", field)
		}
		if !isOp {
			if norm, err = resolveQueryID(field, norm); err != nil {
				return nil, err
			}
			c.eqs = append(c.eqs, eqCondition{field, valueOfNormalized(norm)})
			continue
		}
		for op, operand := range ops {
			if operand, err = resolveQueryID(field, operand); err != nil {
				return nil, err
			}
			c.ops = append(c.ops, opCondition{field, op, valueOfNormalized(operand)})
		}
	}
	slices.Sort(c.fields)
	slices.SortFunc(c.eqs, func(a, b eqCondition) int {
		return strings.Compare(a.field, b.field)
	})
	slices.SortFunc(c.ops, func(a, b opCondition) int {
		if r := strings.Compare(a.field, b.field); r != 0 {
			return r
		}
		return strings.Compare(a.op, b.op)
	})
	return c, nil
}

// resolveQueryID accepts the hex form of an _id operand, like insert does.
func resolveQueryID(field string, v any) (any, error) {
	str, ok := v.(string)
	if field != idColumn || !ok {
		return v, nil
	}
	id, err := ParseObjectId(str)
	if err != nil {
		return nil, errors.WithMessagef(err, "field %q", field)
	}
	return id, nil
}

func operatorObject(v any) (Document, bool, error) {
	m, ok := v.(Document)
	if !ok || len(m) == 0 {
		return nil, false, nil
	}
	var ops, plain int
	for k := range m {
		if strings.HasPrefix(k, "$") {
			ops++
		} else {
			plain++
		}
	}
	switch {
	case ops == 0:
		return nil, false, nil
	case plain != 0:
		return nil, false, errors.WithMessage(ErrInvalidQuery, "operators mixed with plain keys")
	}
	for k := range m {
		if k != opLess && k != opGreater {
			return nil, false, errors.WithMessagef(ErrInvalidQuery, "unsupported operator %s", k)
		}
	}
	return m, true, nil
}

// valueLookup returns the value of a field and whether the field is present.
type valueLookup func(field string) (Value, bool)

func documentLookup(doc Document) valueLookup {
	return func(field string) (Value, bool) {
		v, found := doc[field]
		if !found {
			return absentValue, false
		}
		return valueOfNormalized(v), true
	}
}

func (q *query) isEmpty() bool {
	return len(q.fields) == 0
}

func (q *query) match(get valueLookup) (bool, error) {
	for _, f := range q.fields {
		if _, found := get(f); !found {
			return false, errors.WithMessagef(ErrFieldMissing, "queried field %q", f)
		}
	}
	for _, c := range q.eqs {
		v, _ := get(c.field)
		if !Equal(v, c.value) {
			return false, nil
		}
	}
	for _, c := range q.ops {
		v, _ := get(c.field)
		r, err := Compare(v, c.operand)
		if err != nil {
			return false, errors.WithMessagef(err, "%s %s", c.field, c.op)
		}
		switch c.op {
		case opLess:
			if r >= 0 {
				return false, nil
			}
		case opGreater:
			if r <= 0 {
				return false, nil
			}
		}
	}
	return true, nil
}

// Match reports whether doc satisfies the query document q.
func Match(q, doc Document) (bool, error) {
	c, err := compileQuery(q)
	if err != nil {
		return false, err
	}
	doc, err = Normalize(doc)
	if err != nil {
		return false, err
	}
	return c.match(documentLookup(doc))
}
