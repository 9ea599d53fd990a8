package docdb

import (
	"bytes"
	"encoding/binary"
)

// indexRow is an index entry contributed by a row. Rows remember their
// entries so that stale ones can be deleted when the row is replaced.
type indexRow struct {
	IndexOrd uint64
	KeyRaw   []byte
}

// indexRows are ordered by ordinal, then key.
type indexRows []indexRow

func appendIndexKeys(buf []byte, rows indexRows) []byte {
	var total = binary.MaxVarintLen32 + len(rows)*(binary.MaxVarintLen64+binary.MaxVarintLen32)
	for _, row := range rows {
		total += len(row.KeyRaw)
	}

	w := prealloc(buf, total)
	w.AppendUvarinti(len(rows))
	for _, row := range rows {
		w.AppendUvarint(row.IndexOrd)
		w.AppendVarBytes(row.KeyRaw)
	}
	return w.Trimmed()
}

func decodeIndexKeys(data []byte, f func(ord uint64, key []byte) error) error {
	d := makeByteDecoder(data)
	n, err := d.Uvarinti()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		ord, err := d.Uvarint()
		if err != nil {
			return err
		}
		key, err := d.VarBytes()
		if err != nil {
			return err
		}
		if err := f(ord, key); err != nil {
			return err
		}
	}
	return nil
}

type indexDiffer struct {
	newRows indexRows
}

func (d *indexDiffer) checkOldKey(oldOrd uint64, oldKey []byte) bool {
	// Look for a new row that's >= old row.
	for len(d.newRows) > 0 {
		newOrd := d.newRows[0].IndexOrd
		if oldOrd < newOrd {
			return false
		} else if oldOrd == newOrd {
			c := bytes.Compare(oldKey, d.newRows[0].KeyRaw)
			if c < 0 {
				return false
			} else if c == 0 {
				return true // found exact match
			}
		}
		d.newRows = d.newRows[1:] // shift to next new row and compare again
	}
	return false // no more new rows, so remaining old rows have been deleted
}

// findRemovedIndexKeys calls removed for every entry of the encoded old
// records that is not among newRows.
func findRemovedIndexKeys(oldData []byte, newRows indexRows, removed func(ord uint64, key []byte) error) error {
	d := indexDiffer{newRows}
	return decodeIndexKeys(oldData, func(ord uint64, key []byte) error {
		if !d.checkOldKey(ord, key) {
			return removed(ord, key)
		}
		return nil
	})
}
