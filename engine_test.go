package docdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type engineFactory struct {
	name string
	open func(t *testing.T) engine
}

var engineFactories = []engineFactory{
	{"bolt", func(t *testing.T) engine {
		st, err := openBoltStorage(filepath.Join(t.TempDir(), "test.db"), Options{IsTesting: true})
		require.NoError(t, err)
		return newKVEngine(st)
	}},
	{"mem", func(t *testing.T) engine {
		return newKVEngine(newMemStorage())
	}},
	{"sqlite", func(t *testing.T) engine {
		e, err := openSQLiteEngine(MemoryPath, Options{IsTesting: true})
		require.NoError(t, err)
		return e
	}},
}

func forEachEngine(t *testing.T, f func(t *testing.T, e engine)) {
	for _, ef := range engineFactories {
		t.Run(ef.name, func(t *testing.T) {
			e := ef.open(t)
			t.Cleanup(func() { e.Close() })
			require.NoError(t, e.EnsureCatalog())
			f(t, e)
		})
	}
}

func testRowID(i int) string {
	return ObjectId{0, byte(i)}.Hex()
}

func encodedString(t testing.TB, s string) []byte {
	return must(encodeValueKey(mustValue(t, s)))
}

func scanIDs(t *testing.T, e engine, rel string, req scanRequest) []string {
	var ids []string
	for {
		rows, next, err := e.Scan(rel, req)
		require.NoError(t, err)
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
		if next == nil {
			return ids
		}
		req.After = next
	}
}

func TestEngine_Catalog(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e engine) {
		require.NoError(t, e.EnsureCatalog())
		require.NoError(t, e.RegisterDatabase("blog"))
		require.NoError(t, e.RegisterDatabase("app"))
		require.NoError(t, e.RegisterDatabase("blog"))
		names, err := e.Databases()
		require.NoError(t, err)
		require.Equal(t, []string{"app", "blog"}, names)
	})
}

func TestEngine_Columns(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e engine) {
		const rel = "collection_blog__posts"
		_, err := e.Columns(rel)
		require.Error(t, err)

		require.NoError(t, e.EnsureRelation(rel))
		require.NoError(t, e.EnsureRelation(rel))
		cols, err := e.Columns(rel)
		require.NoError(t, err)
		require.Equal(t, []string{"_id", "_blob"}, cols)

		require.NoError(t, e.AddColumn(rel, "author"))
		require.NoError(t, e.AddColumn(rel, "date"))
		require.Error(t, e.AddColumn(rel, "author"))
		cols, err = e.Columns(rel)
		require.NoError(t, err)
		require.Equal(t, []string{"_id", "_blob", "author", "date"}, cols)
	})
}

func TestEngine_ReplaceAndScan(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e engine) {
		const rel = "collection_blog__posts"
		require.NoError(t, e.EnsureRelation(rel))
		require.NoError(t, e.AddColumn(rel, "author"))

		for i := 5; i >= 1; i-- {
			r := &row{ID: testRowID(i), Blob: []byte{byte(i)}, Values: map[string][]byte{}}
			if i%2 == 1 {
				r.Values["author"] = encodedString(t, "odd")
			}
			require.NoError(t, e.Replace(rel, r))
		}
		// replace keeps a single row per id
		require.NoError(t, e.Replace(rel, &row{ID: testRowID(3), Blob: []byte{33}, Values: map[string][]byte{"author": encodedString(t, "three")}}))

		rows, next, err := e.Scan(rel, scanRequest{Columns: []string{"author"}})
		require.NoError(t, err)
		require.Nil(t, next)
		require.Len(t, rows, 5)
		for i, r := range rows {
			require.Equal(t, testRowID(i+1), r.ID)
		}
		require.Equal(t, []byte{33}, rows[2].Blob)
		require.Equal(t, encodedString(t, "three"), rows[2].Values["author"])
		require.Equal(t, encodedString(t, "odd"), rows[0].Values["author"])
		require.Nil(t, rows[1].Values["author"])

		ids := scanIDs(t, e, rel, scanRequest{NoBlob: true, Limit: 2})
		require.Equal(t, []string{testRowID(1), testRowID(2), testRowID(3), testRowID(4), testRowID(5)}, ids)

		rows, _, err = e.Scan(rel, scanRequest{NoBlob: true, Limit: 1})
		require.NoError(t, err)
		require.Nil(t, rows[0].Blob)

		st, err := e.Stats(rel)
		require.NoError(t, err)
		require.Equal(t, 5, st.Rows)
	})
}

func TestEngine_Indexes(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e engine) {
		const rel = "collection_blog__posts"
		const idx = "index_blog__posts__author"
		require.NoError(t, e.EnsureRelation(rel))
		require.NoError(t, e.AddColumn(rel, "author"))
		require.NoError(t, e.AddColumn(rel, "n"))

		authors := []string{"", "mike", "eliot", "mike", "eliot", "mike"}
		for i := 1; i <= 5; i++ {
			require.NoError(t, e.Replace(rel, &row{ID: testRowID(i), Blob: []byte{byte(i)}, Values: map[string][]byte{
				"author": encodedString(t, authors[i]),
			}}))
		}

		require.NoError(t, e.CreateIndex(rel, idx, []string{"author"}))
		require.NoError(t, e.CreateIndex(rel, idx, []string{"author"}))
		require.NoError(t, e.CreateIndex(rel, "index_blog__posts__n__author", []string{"n", "author"}))
		indexes, err := e.Indexes(rel)
		require.NoError(t, err)
		require.Equal(t, []indexInfo{
			{Name: idx, Columns: []string{"author"}},
			{Name: "index_blog__posts__n__author", Columns: []string{"n", "author"}},
		}, indexes)
		info := &indexes[0]

		mike := scanIDs(t, e, rel, scanRequest{Index: info, Prefix: [][]byte{encodedString(t, "mike")}, Limit: 1})
		require.Equal(t, []string{testRowID(1), testRowID(3), testRowID(5)}, mike)

		// rows written after the index was built are indexed, and their
		// stale entries are removed
		require.NoError(t, e.Replace(rel, &row{ID: testRowID(3), Blob: []byte{3}, Values: map[string][]byte{
			"author": encodedString(t, "eliot"),
		}}))
		require.NoError(t, e.Replace(rel, &row{ID: testRowID(6), Blob: []byte{6}, Values: map[string][]byte{
			"author": encodedString(t, "mike"),
		}}))

		mike = scanIDs(t, e, rel, scanRequest{Index: info, Prefix: [][]byte{encodedString(t, "mike")}})
		require.Equal(t, []string{testRowID(1), testRowID(5), testRowID(6)}, mike)
		eliot := scanIDs(t, e, rel, scanRequest{Index: info, Prefix: [][]byte{encodedString(t, "eliot")}, Limit: 2})
		require.Equal(t, []string{testRowID(2), testRowID(3), testRowID(4)}, eliot)
		nobody := scanIDs(t, e, rel, scanRequest{Index: info, Prefix: [][]byte{encodedString(t, "nobody")}})
		require.Empty(t, nobody)

		st, err := e.Stats(rel)
		require.NoError(t, err)
		require.Equal(t, 6, st.Rows)
		require.Equal(t, 12, st.IndexRows)
	})
}

func TestEngine_IndexScanPagesByID(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e engine) {
		const rel = "collection_app__items"
		require.NoError(t, e.EnsureRelation(rel))
		require.NoError(t, e.AddColumn(rel, "a"))
		require.NoError(t, e.AddColumn(rel, "b"))
		put := func(i int, b string) {
			require.NoError(t, e.Replace(rel, &row{ID: testRowID(i), Blob: []byte{byte(i)}, Values: map[string][]byte{
				"a": encodedString(t, "x"),
				"b": encodedString(t, b),
			}}))
		}
		put(1, "3")
		put(2, "2")
		put(3, "1")
		require.NoError(t, e.CreateIndex(rel, "index_app__items__a__b", []string{"a", "b"}))
		info := &indexInfo{Name: "index_app__items__a__b", Columns: []string{"a", "b"}}
		req := scanRequest{Index: info, Prefix: [][]byte{encodedString(t, "x")}, NoBlob: true, Limit: 2}

		rows, next, err := e.Scan(rel, req)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		require.Equal(t, testRowID(1), rows[0].ID)
		require.Equal(t, testRowID(2), rows[1].ID)
		require.NotNil(t, next)

		// moving already returned rows around within the prefix does not
		// bring them back
		put(1, "9")
		put(2, "0")
		req.After = next
		rows, _, err = e.Scan(rel, req)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Equal(t, testRowID(3), rows[0].ID)
	})
}
