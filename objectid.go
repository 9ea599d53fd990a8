package docdb

import (
	"bytes"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ObjectId identifies a document within a collection. It is 128 bits of
// randomness rendered as 32 lowercase hex digits.
type ObjectId [16]byte

const objectIdHexLen = 32

// NewObjectId returns a fresh random identifier.
func NewObjectId() ObjectId {
	return ObjectId(uuid.New())
}

// ParseObjectId parses the canonical 32-char lowercase hex form.
func ParseObjectId(s string) (ObjectId, error) {
	var id ObjectId
	if len(s) != objectIdHexLen {
		return id, errors.WithMessagef(ErrInvalidID, "%q: expected %d hex chars", s, objectIdHexLen)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, errors.WithMessagef(ErrInvalidID, "%q: %v", s, err)
	}
	if id.Hex() != s {
		return id, errors.WithMessagef(ErrInvalidID, "%q: not lowercase", s)
	}
	return id, nil
}

func (id ObjectId) IsZero() bool {
	return id == ObjectId{}
}

func (id ObjectId) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id ObjectId) String() string {
	return id.Hex()
}

func (id ObjectId) Compare(other ObjectId) int {
	return bytes.Compare(id[:], other[:])
}

func (id ObjectId) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

func (id *ObjectId) UnmarshalText(b []byte) error {
	v, err := ParseObjectId(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
