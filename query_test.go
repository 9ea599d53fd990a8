package docdb

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	date := time.Date(2009, 11, 12, 11, 14, 0, 0, time.UTC)
	doc := Document{
		"author": "Mike",
		"n":      10,
		"f":      2.5,
		"date":   date,
		"tags":   []any{"bulk", "insert"},
		"meta":   Document{"a": 1},
		"none":   nil,
	}
	tests := []struct {
		q    Document
		want bool
	}{
		{Document{}, true},
		{Document{"author": "Mike"}, true},
		{Document{"author": "Eliot"}, false},
		{Document{"author": 1}, false},
		{Document{"n": 10.0}, true},
		{Document{"n": Document{"$gt": 5}}, true},
		{Document{"n": Document{"$gt": 10}}, false},
		{Document{"n": Document{"$gt": 5, "$lt": 11.5}}, true},
		{Document{"n": Document{"$gt": 5, "$lt": 10}}, false},
		{Document{"f": Document{"$lt": 3}}, true},
		{Document{"date": Document{"$lt": date.Add(time.Second)}}, true},
		{Document{"date": Document{"$lt": date}}, false},
		{Document{"tags": []string{"bulk", "insert"}}, true},
		{Document{"tags": []string{"bulk"}}, false},
		{Document{"meta": Document{"a": 1.0}}, true},
		{Document{"none": nil}, true},
		{Document{"author": "Mike", "n": 10}, true},
		{Document{"author": "Mike", "n": 11}, false},
	}
	for _, tt := range tests {
		got, err := Match(tt.q, doc)
		require.NoError(t, err, "%v", tt.q)
		require.Equal(t, tt.want, got, "%v", tt.q)
	}
}

func TestMatch_FieldMissing(t *testing.T) {
	doc := Document{"a": 1}
	_, err := Match(Document{"b": 1}, doc)
	require.True(t, errors.Is(err, ErrFieldMissing), "%v", err)

	// presence is checked before any condition
	_, err = Match(Document{"a": 2, "b": 1}, doc)
	require.True(t, errors.Is(err, ErrFieldMissing), "%v", err)

	_, err = Match(Document{"z": Document{"$lt": 1}}, doc)
	require.True(t, errors.Is(err, ErrFieldMissing), "%v", err)
}

func TestMatch_TypeMismatch(t *testing.T) {
	doc := Document{"a": "x", "b": 1, "c": nil}
	for _, q := range []Document{
		{"a": Document{"$lt": 1}},
		{"b": Document{"$gt": "0"}},
		{"c": Document{"$gt": nil}},
	} {
		_, err := Match(q, doc)
		require.True(t, errors.Is(err, ErrTypeMismatch), "%v: %v", q, err)
	}

	// an equality mismatch decides before operators are evaluated
	ok, err := Match(Document{"a": "y", "b": Document{"$gt": "0"}}, doc)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompileQuery_Invalid(t *testing.T) {
	for _, q := range []Document{
		{"a": Document{"$ne": 1}},
		{"a": Document{"$lt": 1, "b": 2}},
		{"": 1},
		{"a": make(chan int)},
	} {
		_, err := compileQuery(q)
		require.True(t, errors.Is(err, ErrInvalidQuery), "%v: %v", q, err)
	}
}

func TestCompileQuery_Order(t *testing.T) {
	q, err := compileQuery(Document{
		"b": Document{"$lt": 1, "$gt": 0},
		"a": 1,
		"c": "x",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, q.fields)
	require.Len(t, q.eqs, 2)
	require.Equal(t, "a", q.eqs[0].field)
	require.Equal(t, "c", q.eqs[1].field)
	require.Len(t, q.ops, 2)
	require.Equal(t, opGreater, q.ops[0].op)
	require.Equal(t, opLess, q.ops[1].op)
}

func TestMatch_HexID(t *testing.T) {
	id := NewObjectId()
	doc := Document{"_id": id, "a": 1}

	ok, err := Match(Document{"_id": id.Hex()}, doc)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Match(Document{"_id": Document{"$gt": ObjectId{}.Hex()}}, doc)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Match(Document{"_id": NewObjectId().Hex()}, doc)
	require.NoError(t, err)
	require.False(t, ok)

	// other fields keep plain string semantics
	ok, err = Match(Document{"a": id.Hex()}, doc)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = Match(Document{"_id": "nope"}, doc)
	require.True(t, errors.Is(err, ErrInvalidID), "%v", err)
}
