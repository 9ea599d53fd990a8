package docdb

// Database is a handle to a registered database. Handles are memoized by
// the Store and stay valid until it is closed.
type Database struct {
	store *Store
	name  string
}

// Collection is a handle to an existing collection.
type Collection struct {
	store *Store
	db    string
	name  string
}

// Database returns the handle of the named database, registering it on
// first use.
func (s *Store) Database(name string) (*Database, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	if d := s.databases[name]; d != nil {
		return d, nil
	}
	if err := s.ensureDatabaseLocked(name); err != nil {
		return nil, err
	}
	d := &Database{store: s, name: name}
	s.databases[name] = d
	return d, nil
}

// Collection returns the handle of db.name, creating the collection on first
// use.
func (s *Store) Collection(db, name string) (*Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	key := collectionKey{db, name}
	if c := s.collections[key]; c != nil {
		return c, nil
	}
	if err := s.ensureCollectionLocked(db, name); err != nil {
		return nil, err
	}
	c := &Collection{store: s, db: db, name: name}
	s.collections[key] = c
	return c, nil
}

func (d *Database) Name() string { return d.name }

func (d *Database) Collection(name string) (*Collection, error) {
	return d.store.Collection(d.name, name)
}

func (c *Collection) Name() string     { return c.name }
func (c *Collection) Database() string { return c.db }

func (c *Collection) InsertOne(doc Document) (ObjectId, error) {
	return c.store.InsertOne(c.db, c.name, doc)
}

func (c *Collection) InsertMany(docs []Document) ([]ObjectId, error) {
	return c.store.InsertMany(c.db, c.name, docs)
}

func (c *Collection) Find(query Document) (*Cursor, error) {
	return c.store.Find(c.db, c.name, query)
}

func (c *Collection) FindOne(query Document) (Document, error) {
	return c.store.FindOne(c.db, c.name, query)
}

func (c *Collection) CreateIndex(fields ...string) error {
	return c.store.CreateIndex(c.db, c.name, fields...)
}

func (c *Collection) IndexedFields() ([]string, error) {
	return c.store.IndexedFields(c.db, c.name)
}

func (c *Collection) Stats() (CollectionStats, error) {
	return c.store.Stats(c.db, c.name)
}
