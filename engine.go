package docdb

import (
	"strings"

	"github.com/pkg/errors"
)

// EngineKind selects the relational engine backing a Store.
type EngineKind int

const (
	// EngineBolt keeps relations as buckets of a Bolt file (or of a
	// transient in-memory storage for MemoryPath).
	EngineBolt EngineKind = iota
	// EngineSQLite keeps relations as SQLite tables.
	EngineSQLite
)

func (k EngineKind) String() string {
	switch k {
	case EngineBolt:
		return "bolt"
	case EngineSQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

func (k *EngineKind) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "", "bolt":
		*k = EngineBolt
	case "sqlite", "sqlite3":
		*k = EngineSQLite
	default:
		return errors.Errorf("unknown engine %q", b)
	}
	return nil
}

// engine is the relational contract the store is built on. Relations have an
// _id primary key column, a _blob column, and user columns added over time.
// Every mutating call commits before returning.
type engine interface {
	EnsureCatalog() error
	RegisterDatabase(name string) error
	Databases() ([]string, error)

	EnsureRelation(rel string) error
	// Columns lists all physical columns, system columns included, in
	// creation order.
	Columns(rel string) ([]string, error)
	AddColumn(rel, col string) error

	// Replace writes a row, replacing any row with the same id. Columns
	// missing from r.Values are left unpopulated.
	Replace(rel string, r *row) error
	// Scan returns up to req.Limit rows ordered by id, plus a token to pass
	// as req.After to continue; the token is nil when the scan is known to
	// be exhausted. Index scans are ordered by id too, so rows rewritten
	// between pages are never returned twice.
	Scan(rel string, req scanRequest) ([]*row, []byte, error)

	// CreateIndex builds a compound index unless one with this name exists.
	CreateIndex(rel, name string, cols []string) error
	Indexes(rel string) ([]indexInfo, error)

	Stats(rel string) (CollectionStats, error)
	Close() error
}

type row struct {
	ID   string
	Blob []byte
	// Values holds encoded column values; a nil entry is an unpopulated
	// column.
	Values map[string][]byte
}

type scanRequest struct {
	Columns []string
	NoBlob  bool

	// Index, when set, restricts the scan to rows whose leading index
	// columns equal the encoded values in Prefix.
	Index  *indexInfo
	Prefix [][]byte

	After []byte
	Limit int
}

type indexInfo struct {
	Name    string
	Columns []string
}

// CollectionStats describes the physical footprint of a collection. Sizes are
// only reported by the Bolt engine.
type CollectionStats struct {
	Rows      int
	IndexRows int

	DataSize   int64
	DataAlloc  int64
	IndexSize  int64
	IndexAlloc int64
}

func (s *CollectionStats) TotalSize() int64 {
	return s.DataSize + s.IndexSize
}

func (s *CollectionStats) TotalAlloc() int64 {
	return s.DataAlloc + s.IndexAlloc
}

// MemoryPath opens an ephemeral store that lives until Close.
const MemoryPath = ":memory:"

func openEngine(path string, opt Options) (engine, error) {
	switch opt.Engine {
	case EngineBolt:
		if path == MemoryPath {
			return newKVEngine(newMemStorage()), nil
		}
		st, err := openBoltStorage(path, opt)
		if err != nil {
			return nil, err
		}
		return newKVEngine(st), nil
	case EngineSQLite:
		return openSQLiteEngine(path, opt)
	default:
		return nil, errors.Errorf("unknown engine %v", opt.Engine)
	}
}
