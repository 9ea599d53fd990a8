package docdb

import "github.com/sirupsen/logrus"

// ensureDatabaseLocked registers db in the catalog. Containers are never
// removed, so each name is registered at most once per Store.
func (s *Store) ensureDatabaseLocked(db string) error {
	if err := validateDatabaseName(db); err != nil {
		return err
	}
	if s.ensuredDBs[db] {
		return nil
	}
	if err := s.eng.RegisterDatabase(db); err != nil {
		return storageErr("register database "+db, err)
	}
	s.ensuredDBs[db] = true
	s.log.WithField("database", db).Debug("docdb: database ensured")
	return nil
}

// ensureCollectionLocked creates the relation backing db.coll, with just the
// _id and _blob columns, unless it exists.
func (s *Store) ensureCollectionLocked(db, coll string) error {
	if err := validateCollectionName(coll); err != nil {
		return err
	}
	if err := s.ensureDatabaseLocked(db); err != nil {
		return err
	}
	key := collectionKey{db, coll}
	if s.ensured[key] {
		return nil
	}
	rel := relationName(db, coll)
	if err := s.eng.EnsureRelation(rel); err != nil {
		return collErrf(db, coll, "", storageErr("ensure relation "+rel, err), "")
	}
	s.ensured[key] = true
	s.log.WithFields(logrus.Fields{
		"database":   db,
		"collection": coll,
		"relation":   rel,
	}).Debug("docdb: collection ensured")
	return nil
}
