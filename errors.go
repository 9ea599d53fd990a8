package docdb

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned by FindOne when no document matches.
	ErrNotFound = errors.New("not found")

	// ErrFieldMissing means a document lacks a field that a query or a
	// promoted column requires.
	ErrFieldMissing = errors.New("field missing")

	// ErrTypeMismatch means an ordering comparison got incomparable values.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrStorage marks failures of the underlying storage engine, including
	// blobs that fail to decode.
	ErrStorage = errors.New("storage failure")

	ErrInvalidName      = errors.New("invalid name")
	ErrInvalidID        = errors.New("invalid _id")
	ErrReservedField    = errors.New("reserved field")
	ErrUnsupportedValue = errors.New("unsupported value")
	ErrInvalidQuery     = errors.New("invalid query")
	ErrClosed           = errors.New("store closed")
)

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		}
		return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
	}
	p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
	}
	return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
}

// StorageError wraps an error reported by the storage engine. It matches
// ErrStorage under errors.Is.
type StorageError struct {
	Op  string
	Err error
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{op, err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrStorage, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// CollectionError attaches the database, collection and document id to an
// error raised while working on a collection.
type CollectionError struct {
	Database   string
	Collection string
	ID         string
	Msg        string
	Err        error
}

func collErrf(db, coll, id string, err error, format string, args ...any) error {
	return &CollectionError{db, coll, id, fmt.Sprintf(format, args...), err}
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

func (e *CollectionError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Database)
	buf.WriteByte('.')
	buf.WriteString(e.Collection)
	if e.ID != "" {
		buf.WriteByte('/')
		buf.WriteString(e.ID)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}
