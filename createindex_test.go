package docdb

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func requirePopulated(t *testing.T, s *Store, db, coll string, cols ...string) {
	t.Helper()
	rows, _, err := s.eng.Scan(relationName(db, coll), scanRequest{Columns: cols, NoBlob: true})
	require.NoError(t, err)
	for _, r := range rows {
		for _, c := range cols {
			require.NotNil(t, r.Values[c], "%s.%s on %s", coll, c, r.ID)
		}
	}
}

func TestCreateIndex_RepairsInterruptedBackfill(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		for i := 0; i < 4; i++ {
			_, err := s.InsertOne("app", "items", Document{"a": i, "b": "x"})
			require.NoError(t, err)
		}
		// a column added right before a crash, with nothing backfilled
		require.NoError(t, s.eng.AddColumn(relationName("app", "items"), "a"))

		require.NoError(t, s.CreateIndex("app", "items", "a"))
		requirePopulated(t, s, "app", "items", "a")

		docs := findAll(t, s, "app", "items", Document{"a": Document{"$gt": 1}})
		require.Len(t, docs, 2)
		for _, d := range docs {
			require.Equal(t, "x", d["b"])
		}
	})
}

func TestCreateIndex_BackfillFailure(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		_, err := s.InsertOne("app", "items", Document{"a": 1})
		require.NoError(t, err)
		id, err := s.InsertOne("app", "items", Document{"b": 2})
		require.NoError(t, err)

		err = s.CreateIndex("app", "items", "a")
		require.True(t, errors.Is(err, ErrFieldMissing), "%v", err)

		// the column stays, the index does not get built
		fields, err := s.IndexedFields("app", "items")
		require.NoError(t, err)
		require.Equal(t, []string{"a"}, fields)
		indexes, err := s.eng.Indexes(relationName("app", "items"))
		require.NoError(t, err)
		require.Empty(t, indexes)

		_, err = s.InsertOne("app", "items", Document{"_id": id, "a": 2, "b": 2})
		require.NoError(t, err)
		require.NoError(t, s.CreateIndex("app", "items", "a"))
		requirePopulated(t, s, "app", "items", "a")

		indexes, err = s.eng.Indexes(relationName("app", "items"))
		require.NoError(t, err)
		require.Len(t, indexes, 1)

		doc, err := s.FindOne("app", "items", Document{"a": 2})
		require.NoError(t, err)
		require.Equal(t, Document{"_id": id, "a": int64(2), "b": int64(2)}, doc)
	})
}

func TestCreateIndex_EmptyCollection(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		require.NoError(t, s.CreateIndex("app", "items", "a", "b"))
		_, err := s.InsertOne("app", "items", Document{"a": "k", "b": true})
		require.NoError(t, err)
		doc, err := s.FindOne("app", "items", Document{"a": "k", "b": true})
		require.NoError(t, err)
		require.Equal(t, "k", doc["a"])
	})
}

func TestCreateIndex_Metrics(t *testing.T) {
	s := setup(t, storeFactories[1])
	for i := 0; i < 5; i++ {
		_, err := s.InsertOne("app", "items", Document{"name": "n", "i": i})
		require.NoError(t, err)
	}

	backfilled := testutil.ToFloat64(backfilledRowsTotal)
	added := testutil.ToFloat64(columnsAddedTotal)
	require.NoError(t, s.CreateIndex("app", "items", "name", "i"))
	require.Equal(t, backfilled+5, testutil.ToFloat64(backfilledRowsTotal))
	require.Equal(t, added+2, testutil.ToFloat64(columnsAddedTotal))

	scans := testutil.ToFloat64(indexScansTotal)
	require.Len(t, findAll(t, s, "app", "items", Document{"name": "n"}), 5)
	require.Equal(t, scans+1, testutil.ToFloat64(indexScansTotal))

	// numbers never drive an index scan, but are still checked without
	// decoding the blob
	skipped := testutil.ToFloat64(blobDecodesSkippedTotal)
	require.Len(t, findAll(t, s, "app", "items", Document{"i": Document{"$gt": 2}}), 2)
	require.Equal(t, scans+1, testutil.ToFloat64(indexScansTotal))
	require.Equal(t, skipped+3, testutil.ToFloat64(blobDecodesSkippedTotal))

	failed := testutil.ToFloat64(insertsTotal.WithLabelValues(metricsFail))
	_, err := s.InsertOne("app", "items", Document{"name": "n"})
	require.Error(t, err)
	require.Equal(t, failed+1, testutil.ToFloat64(insertsTotal.WithLabelValues(metricsFail)))
}
