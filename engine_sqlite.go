package docdb

import (
	"database/sql"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// sqliteEngine implements relations as SQLite tables. Promoted columns are
// untyped and hold the order-preserving column encoding as BLOBs, so SQLite
// equality matches value equality within a kind.
type sqliteEngine struct {
	db *sql.DB
}

func openSQLiteEngine(path string, opt Options) (*sqliteEngine, error) {
	var dsn string
	if path == MemoryPath {
		dsn = MemoryPath
	} else {
		q := url.Values{
			"_busy_timeout": {"10000"},
			"_journal_mode": {"WAL"},
		}
		if opt.IsTesting {
			q.Set("_synchronous", "OFF")
		} else {
			q.Set("_synchronous", "FULL")
		}
		dsn = "file:" + path + "?" + q.Encode()
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.WithMessage(err, "opening SQLite DB")
	}
	// A single connection keeps a :memory: database alive for the lifetime of
	// the store, and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.WithMessage(err, "opening SQLite DB")
	}
	return &sqliteEngine{db: db}, nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func (e *sqliteEngine) Close() error {
	return e.db.Close()
}

func (e *sqliteEngine) EnsureCatalog() error {
	_, err := e.db.Exec(`CREATE TABLE IF NOT EXISTS ` + catalogRelation + ` (name VARCHAR(64) PRIMARY KEY)`)
	return errors.WithMessage(err, "creating catalog")
}

func (e *sqliteEngine) RegisterDatabase(name string) error {
	_, err := e.db.Exec(`INSERT OR IGNORE INTO `+catalogRelation+` (name) VALUES (?)`, name)
	return errors.WithMessagef(err, "registering database %s", name)
}

func (e *sqliteEngine) Databases() ([]string, error) {
	rows, err := e.db.Query(`SELECT name FROM ` + catalogRelation + ` ORDER BY name`)
	if err != nil {
		return nil, errors.WithMessage(err, "listing databases")
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (e *sqliteEngine) EnsureRelation(rel string) error {
	_, err := e.db.Exec(`CREATE TABLE IF NOT EXISTS ` + quoteIdent(rel) + ` (` + idColumn + ` CHAR(32) PRIMARY KEY, ` + blobColumn + ` BLOB NOT NULL)`)
	return errors.WithMessagef(err, "creating %s", rel)
}

func (e *sqliteEngine) Columns(rel string) ([]string, error) {
	rows, err := e.db.Query(`PRAGMA table_info(` + quoteIdent(rel) + `)`)
	if err != nil {
		return nil, errors.WithMessagef(err, "inspecting %s", rel)
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, errors.Errorf("relation %s does not exist", rel)
	}
	return cols, nil
}

func (e *sqliteEngine) AddColumn(rel, col string) error {
	_, err := e.db.Exec(`ALTER TABLE ` + quoteIdent(rel) + ` ADD COLUMN ` + quoteIdent(col))
	return errors.WithMessagef(err, "adding column %s to %s", col, rel)
}

func (e *sqliteEngine) Replace(rel string, r *row) error {
	cols := []string{idColumn, blobColumn}
	args := []any{r.ID, r.Blob}
	for c, v := range r.Values {
		if v != nil {
			cols = append(cols, quoteIdent(c))
			args = append(args, v)
		}
	}
	q := `REPLACE INTO ` + quoteIdent(rel) + ` (` + strings.Join(cols, ", ") + `) VALUES (?` + strings.Repeat(", ?", len(cols)-1) + `)`
	_, err := e.db.Exec(q, args...)
	return errors.WithMessagef(err, "replacing %s in %s", r.ID, rel)
}

func (e *sqliteEngine) Scan(rel string, req scanRequest) ([]*row, []byte, error) {
	var q strings.Builder
	q.WriteString(`SELECT ` + idColumn)
	if !req.NoBlob {
		q.WriteString(", " + blobColumn)
	}
	for _, c := range req.Columns {
		q.WriteString(", " + quoteIdent(c))
	}
	q.WriteString(` FROM ` + quoteIdent(rel) + ` WHERE 1`)

	var args []any
	if req.Index != nil {
		if len(req.Prefix) > len(req.Index.Columns) {
			return nil, nil, errors.Errorf("%s: %d values for index %s", rel, len(req.Prefix), req.Index.Name)
		}
		for i, v := range req.Prefix {
			q.WriteString(` AND ` + quoteIdent(req.Index.Columns[i]) + ` = ?`)
			args = append(args, v)
		}
	}
	if req.After != nil {
		q.WriteString(` AND ` + idColumn + ` > ?`)
		args = append(args, string(req.After))
	}
	q.WriteString(` ORDER BY ` + idColumn)
	if req.Limit > 0 {
		q.WriteString(` LIMIT ` + strconv.Itoa(req.Limit))
	}

	rows, err := e.db.Query(q.String(), args...)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "scanning %s", rel)
	}
	defer rows.Close()

	var result []*row
	for rows.Next() {
		r := &row{Values: make(map[string][]byte, len(req.Columns))}
		values := make([][]byte, len(req.Columns))
		dest := make([]any, 0, 2+len(req.Columns))
		dest = append(dest, &r.ID)
		if !req.NoBlob {
			dest = append(dest, &r.Blob)
		}
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, errors.WithMessagef(err, "scanning %s", rel)
		}
		for i, c := range req.Columns {
			if values[i] != nil {
				r.Values[c] = values[i]
			}
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, errors.WithMessagef(err, "scanning %s", rel)
	}

	var next []byte
	if req.Limit > 0 && len(result) >= req.Limit {
		next = []byte(result[len(result)-1].ID)
	}
	return result, next, nil
}

func (e *sqliteEngine) CreateIndex(rel, name string, cols []string) error {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	_, err := e.db.Exec(`CREATE INDEX IF NOT EXISTS ` + quoteIdent(name) + ` ON ` + quoteIdent(rel) + ` (` + strings.Join(quoted, ", ") + `)`)
	return errors.WithMessagef(err, "creating index %s", name)
}

func (e *sqliteEngine) Indexes(rel string) ([]indexInfo, error) {
	rows, err := e.db.Query(`SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND sql IS NOT NULL ORDER BY rowid`, rel)
	if err != nil {
		return nil, errors.WithMessagef(err, "listing indexes of %s", rel)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]indexInfo, 0, len(names))
	for _, name := range names {
		cols, err := e.indexColumns(name)
		if err != nil {
			return nil, err
		}
		result = append(result, indexInfo{Name: name, Columns: cols})
	}
	return result, nil
}

func (e *sqliteEngine) indexColumns(name string) ([]string, error) {
	rows, err := e.db.Query(`PRAGMA index_info(` + quoteIdent(name) + `)`)
	if err != nil {
		return nil, errors.WithMessagef(err, "inspecting index %s", name)
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var seqno, cid int
		var col string
		if err := rows.Scan(&seqno, &cid, &col); err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (e *sqliteEngine) Stats(rel string) (CollectionStats, error) {
	var result CollectionStats
	if err := e.db.QueryRow(`SELECT count(*) FROM ` + quoteIdent(rel)).Scan(&result.Rows); err != nil {
		return result, errors.WithMessagef(err, "counting %s", rel)
	}
	indexes, err := e.Indexes(rel)
	if err != nil {
		return result, err
	}
	result.IndexRows = result.Rows * len(indexes)
	return result, nil
}
