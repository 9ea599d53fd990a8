package docdb

import (
	"slices"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const defaultScanBatchSize = 256

// Compression selects how document blobs are compressed.
type Compression int

const (
	NoCompression Compression = iota
	Snappy
	Zstd
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	default:
		return "compression(" + strconv.Itoa(int(c)) + ")"
	}
}

func (c *Compression) UnmarshalText(b []byte) error {
	switch string(b) {
	case "", "none":
		*c = NoCompression
	case "snappy":
		*c = Snappy
	case "zstd":
		*c = Zstd
	default:
		return errors.Errorf("unknown compression %q", b)
	}
	return nil
}

type Options struct {
	Engine EngineKind

	Compression Compression
	// CompressionThreshold is the smallest encoded document that gets
	// compressed. Defaults to 512 bytes.
	CompressionThreshold int

	IndexCacheSize int
	ScanBatchSize  int

	Logger logrus.FieldLogger
	// Verbose logs the contents of every written document at debug level.
	Verbose bool

	IsTesting bool
	MmapSize  int
}

// Store is a document store on top of a relational engine. Its methods are
// safe for concurrent use; multi-step operations are serialized.
type Store struct {
	eng       engine
	cache     *indexCache
	codec     codecOptions
	log       logrus.FieldLogger
	verbose   bool
	batchSize int

	mu          sync.Mutex
	closed      bool
	databases   map[string]*Database
	collections map[collectionKey]*Collection
	ensured     map[collectionKey]bool
	ensuredDBs  map[string]bool
}

// Open opens the store at path, creating it if needed. Pass MemoryPath for a
// store that lives only until Close.
func Open(path string, opt Options) (*Store, error) {
	if opt.Logger == nil {
		opt.Logger = logrus.StandardLogger()
	}
	if opt.CompressionThreshold <= 0 {
		opt.CompressionThreshold = defaultCompressionThreshold
	}
	if opt.ScanBatchSize <= 0 {
		opt.ScanBatchSize = defaultScanBatchSize
	}

	eng, err := openEngine(path, opt)
	if err != nil {
		return nil, storageErr("open "+path, err)
	}
	if err := eng.EnsureCatalog(); err != nil {
		eng.Close()
		return nil, storageErr("ensure catalog", err)
	}
	cache, err := newIndexCache(eng, opt.IndexCacheSize)
	if err != nil {
		eng.Close()
		return nil, err
	}

	s := &Store{
		eng:   eng,
		cache: cache,
		codec: codecOptions{
			Compression:          opt.Compression,
			CompressionThreshold: opt.CompressionThreshold,
		},
		log:         opt.Logger,
		verbose:     opt.Verbose,
		batchSize:   opt.ScanBatchSize,
		databases:   make(map[string]*Database),
		collections: make(map[collectionKey]*Collection),
		ensured:     make(map[collectionKey]bool),
		ensuredDBs:  make(map[string]bool),
	}
	s.log.WithFields(logrus.Fields{
		"path":   path,
		"engine": opt.Engine,
	}).Debug("docdb: opened")
	return s, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cache.purge()
	return storageErr("close", s.eng.Close())
}

func (s *Store) checkOpenLocked() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Databases lists the registered databases in name order.
func (s *Store) Databases() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	names, err := s.eng.Databases()
	if err != nil {
		return nil, storageErr("list databases", err)
	}
	slices.Sort(names)
	return names, nil
}

// IndexedFields returns the fields promoted to columns of the collection, in
// the order they were promoted.
func (s *Store) IndexedFields(db, coll string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.prepareLocked(db, coll); err != nil {
		return nil, err
	}
	ci, err := s.cache.get(db, coll)
	if err != nil {
		return nil, collErrf(db, coll, "", err, "")
	}
	return slices.Clone(ci.Fields), nil
}

// prepareLocked validates the names and makes sure the collection exists.
func (s *Store) prepareLocked(db, coll string) error {
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	return s.ensureCollectionLocked(db, coll)
}
