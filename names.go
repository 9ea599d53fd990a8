package docdb

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	maxNameLen = 64

	catalogRelation = "databases"
	relationPrefix  = "collection_"
	indexPrefix     = "index_"
	nameSep         = "__"

	idColumn   = "_id"
	blobColumn = "_blob"
)

var systemColumns = []string{idColumn, blobColumn}

func isSystemColumn(name string) bool {
	return name == idColumn || name == blobColumn
}

// Names are 1 to 64 bytes of ASCII letters and digits, optionally split into
// segments by single underscores. Database and collection names must be
// lowercase. Since no name contains "__", physical names joined with "__" are
// unambiguous, and no name can collide with a system column.

func validateDatabaseName(name string) error {
	return validateName("database", name, true)
}

func validateCollectionName(name string) error {
	return validateName("collection", name, true)
}

func validateFieldName(name string) error {
	if isSystemColumn(name) {
		return errors.WithMessagef(ErrReservedField, "%q cannot be promoted", name)
	}
	return validateName("field", name, false)
}

func validateName(what, name string, lower bool) error {
	if name == "" {
		return errors.WithMessagef(ErrInvalidName, "empty %s name", what)
	}
	if len(name) > maxNameLen {
		return errors.WithMessagef(ErrInvalidName, "%s name %q is longer than %d bytes", what, name, maxNameLen)
	}
	prevSep := true
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			prevSep = false
		case c >= 'A' && c <= 'Z' && !lower:
			prevSep = false
		case c == '_' && !prevSep:
			prevSep = true
		default:
			return errors.WithMessagef(ErrInvalidName, "%s name %q has invalid character at %d", what, name, i)
		}
	}
	if prevSep {
		return errors.WithMessagef(ErrInvalidName, "%s name %q ends with an underscore", what, name)
	}
	return nil
}

func relationName(db, coll string) string {
	return relationPrefix + db + nameSep + coll
}

func indexName(db, coll string, fields []string) string {
	return indexPrefix + db + nameSep + coll + nameSep + strings.Join(fields, nameSep)
}
