package docdb

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
)

type DumpFlags uint64

const (
	DumpHeaders = DumpFlags(1 << iota)
	DumpRows
	DumpStats
	DumpIndices
	DumpColumns

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Stats returns the physical footprint of db.coll.
func (s *Store) Stats(db, coll string) (CollectionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.prepareLocked(db, coll); err != nil {
		return CollectionStats{}, err
	}
	return s.statsLocked(db, coll)
}

func (s *Store) statsLocked(db, coll string) (CollectionStats, error) {
	rel := relationName(db, coll)
	st, err := s.eng.Stats(rel)
	if err != nil {
		return st, collErrf(db, coll, "", storageErr("stats of "+rel, err), "")
	}
	return st, nil
}

// Dump renders db.coll as text for debugging and tests: a header, stats, the
// promoted columns and compound indexes, and one line per row with the
// reconstructed document as JSON. Rows that fail to decode are reported
// inline.
func (s *Store) Dump(db, coll string, f DumpFlags) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.prepareLocked(db, coll); err != nil {
		return "", err
	}
	ci, err := s.cache.get(db, coll)
	if err != nil {
		return "", collErrf(db, coll, "", err, "")
	}
	st, err := s.statsLocked(db, coll)
	if err != nil {
		return "", err
	}

	prefix := db + "." + coll
	var w strings.Builder
	if f.Contains(DumpHeaders) {
		fmt.Fprintln(&w, dumpSep1)
		fmt.Fprintf(&w, "%s (%d rows)\n", prefix, st.Rows)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(&w, "%s.stats: index_rows = %d, data_size = %s, data_alloc = %s, index_size = %s, index_alloc = %s, total_alloc = %s\n",
			prefix, st.IndexRows,
			humanize.IBytes(uint64(st.DataSize)), humanize.IBytes(uint64(st.DataAlloc)),
			humanize.IBytes(uint64(st.IndexSize)), humanize.IBytes(uint64(st.IndexAlloc)),
			humanize.IBytes(uint64(st.TotalAlloc())))
	}
	if f.Contains(DumpColumns) {
		fmt.Fprintf(&w, "%s.columns: %s\n", prefix, strings.Join(ci.Fields, ", "))
	}
	if f.Contains(DumpIndices) {
		for _, idx := range ci.Indexes {
			fmt.Fprintf(&w, "%s.i.%s: %s\n", prefix, idx.Name, strings.Join(idx.Columns, ", "))
		}
	}

	if f.Contains(DumpRows) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(&w, dumpSep2)
		}
		rel := relationName(db, coll)
		var after []byte
		var rowPos int
		for {
			rows, next, err := s.eng.Scan(rel, scanRequest{
				Columns: ci.Fields,
				After:   after,
				Limit:   s.batchSize,
			})
			if err != nil {
				return w.String(), collErrf(db, coll, "", storageErr("scan "+rel, err), "")
			}
			for _, r := range rows {
				rowPos++
				dumpRow(&w, prefix, rowPos, r, ci.Fields)
			}
			if next == nil {
				break
			}
			after = next
		}
	}
	return w.String(), nil
}

func dumpRow(w *strings.Builder, prefix string, rowPos int, r *row, cols []string) {
	doc, err := rowDocument(r, cols)
	if err != nil {
		fmt.Fprintf(w, "%s.%d = %s ** ERROR: %v\n", prefix, rowPos, r.ID, err)
		return
	}
	delete(doc, idColumn)
	raw, err := json.Marshal(doc)
	if err != nil {
		fmt.Fprintf(w, "%s.%d = %s ** ERROR: %v\n", prefix, rowPos, r.ID, err)
		return
	}
	fmt.Fprintf(w, "%s.%d = %s %s\n", prefix, rowPos, r.ID, raw)
}
