package docdb

import (
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const backfillLogInterval = 10000

// CreateIndex promotes fields to columns of db.coll and builds a compound
// index over them, in the given order.
//
// Fields that are not columns yet are added, then every existing document is
// rewritten so that the new columns get populated. The steps commit
// separately; if CreateIndex fails midway, calling it again completes the
// job, because a column that is unpopulated on some row is populated anew.
// Creating an index that already exists is a no-op.
func (s *Store) CreateIndex(db, coll string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.prepareLocked(db, coll); err != nil {
		return err
	}
	if err := validateIndexFields(fields); err != nil {
		return collErrf(db, coll, "", err, "")
	}

	rel := relationName(db, coll)
	log := s.log.WithFields(logrus.Fields{
		"database":   db,
		"collection": coll,
		"fields":     fields,
	})
	start := time.Now()

	added, err := s.addColumnsLocked(db, coll, fields)
	if err != nil {
		return err
	}
	// Columns may have been added by an earlier, interrupted call from
	// another Store, so the cached entry is not trusted here.
	ci, err := s.cache.reload(db, coll)
	if err != nil {
		return collErrf(db, coll, "", err, "")
	}

	existing := slices.DeleteFunc(slices.Clone(fields), func(f string) bool {
		return slices.Contains(added, f)
	})
	stale, err := s.findStaleColumnsLocked(db, coll, existing)
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		log.WithField("stale", stale).Warn("docdb: repairing partially populated columns")
	}

	if refill := append(slices.Clone(added), stale...); len(refill) > 0 {
		if err := s.backfillLocked(db, coll, ci, refill, log); err != nil {
			return err
		}
	}

	name := indexName(db, coll, fields)
	if err := s.eng.CreateIndex(rel, name, fields); err != nil {
		return collErrf(db, coll, "", storageErr("create index "+name, err), "")
	}
	if _, err := s.cache.reload(db, coll); err != nil {
		return collErrf(db, coll, "", err, "")
	}
	log.WithFields(logrus.Fields{
		"index":   name,
		"added":   added,
		"elapsed": time.Since(start),
	}).Info("docdb: index ready")
	return nil
}

func validateIndexFields(fields []string) error {
	if len(fields) == 0 {
		return errors.WithMessage(ErrInvalidName, "no fields to index")
	}
	for i, f := range fields {
		if err := validateFieldName(f); err != nil {
			return err
		}
		for _, g := range fields[:i] {
			if strings.EqualFold(f, g) {
				return errors.WithMessagef(ErrInvalidName, "field %q listed twice", f)
			}
		}
	}
	return nil
}

// addColumnsLocked adds a column for every field that lacks one, returning
// the added fields. Column names are compared case-insensitively, like SQL
// identifiers, so "Date" cannot be added next to "date".
func (s *Store) addColumnsLocked(db, coll string, fields []string) ([]string, error) {
	rel := relationName(db, coll)
	cols, err := s.eng.Columns(rel)
	if err != nil {
		return nil, collErrf(db, coll, "", storageErr("read columns of "+rel, err), "")
	}
	var added []string
	for _, f := range fields {
		if slices.Contains(cols, f) {
			continue
		}
		for _, c := range cols {
			if strings.EqualFold(c, f) {
				return added, collErrf(db, coll, "", errors.WithMessagef(ErrInvalidName, "field %q clashes with column %q", f, c), "")
			}
		}
		if err := s.eng.AddColumn(rel, f); err != nil {
			return added, collErrf(db, coll, "", storageErr("add column "+f, err), "")
		}
		columnsAddedTotal.Inc()
		cols = append(cols, f)
		added = append(added, f)
	}
	return added, nil
}

// findStaleColumnsLocked returns the columns among cols that are unpopulated
// on at least one row, which happens when a backfill was interrupted.
func (s *Store) findStaleColumnsLocked(db, coll string, cols []string) ([]string, error) {
	if len(cols) == 0 {
		return nil, nil
	}
	rel := relationName(db, coll)
	stale := make(map[string]bool)
	var after []byte
	for {
		rows, next, err := s.eng.Scan(rel, scanRequest{
			Columns: cols,
			NoBlob:  true,
			After:   after,
			Limit:   s.batchSize,
		})
		if err != nil {
			return nil, collErrf(db, coll, "", storageErr("scan "+rel, err), "")
		}
		for _, r := range rows {
			for _, c := range cols {
				if r.Values[c] == nil {
					stale[c] = true
				}
			}
		}
		if next == nil || len(stale) == len(cols) {
			break
		}
		after = next
	}

	var result []string
	for _, c := range cols {
		if stale[c] {
			result = append(result, c)
		}
	}
	return result, nil
}

// backfillLocked rewrites every document of db.coll through the insert path,
// populating the refill columns. Documents are rebuilt from their blob and
// the columns that are known to be populated.
func (s *Store) backfillLocked(db, coll string, ci *collectionIndexes, refill []string, log logrus.FieldLogger) error {
	rel := relationName(db, coll)
	populated := slices.DeleteFunc(slices.Clone(ci.Fields), func(f string) bool {
		return slices.Contains(refill, f)
	})

	log = log.WithField("refill", refill)
	log.Info("docdb: backfill started")
	var count int
	var after []byte
	for {
		rows, next, err := s.eng.Scan(rel, scanRequest{
			Columns: populated,
			After:   after,
			Limit:   s.batchSize,
		})
		if err != nil {
			return collErrf(db, coll, "", storageErr("scan "+rel, err), "backfill")
		}
		for _, r := range rows {
			doc, err := rowDocument(r, populated)
			if err != nil {
				return collErrf(db, coll, r.ID, err, "backfill")
			}
			if _, err := s.insertLocked(db, coll, doc); err != nil {
				return errors.WithMessage(err, "backfill")
			}
			backfilledRowsTotal.Inc()
			count++
			if count%backfillLogInterval == 0 {
				log.WithField("rows", count).Info("docdb: backfill progress")
			}
		}
		if next == nil {
			break
		}
		after = next
	}
	log.WithField("rows", count).Info("docdb: backfill done")
	return nil
}
