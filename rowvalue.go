package docdb

import (
	"encoding/binary"
	"fmt"
)

type valueFlags uint64

const (
	vfVerBit0 = valueFlags(1 << iota)
	vfVerBit1
	vfVerBit2
	vfVerBit3

	vfVerMask       = (vfVerBit0 | vfVerBit1 | vfVerBit2 | vfVerBit3)
	vfVer1          = vfVerBit0
	vfSupportedMask = vfVer1
	vfDefault       = vfVer1

	minValueSize       = 4
	maxValueHeaderSize = binary.MaxVarintLen64 * 4
)

func (vf valueFlags) ver() valueFlags {
	return vf & vfVerMask
}

// rowValue is the value stored under a document id in a relation's data
// bucket: header, row data, then index key records.
//
// Header: flags, mod count, data size, index size (all uvarints).
//
// Row data: the blob (varbytes), the number of populated columns (uvarint),
// then a name (varbytes) and an encoded value (varbytes) per populated column.
// Columns that were never written for the row are left out.
type rowValue struct {
	Flags    valueFlags
	ModCount uint64
	Data     []byte
	Index    []byte
}

func encodeRowValue(modCount uint64, r *row, columns []string, idx indexRows) []byte {
	size := maxValueHeaderSize + binary.MaxVarintLen64*2 + len(r.Blob)
	for _, c := range columns {
		size += 2*binary.MaxVarintLen64 + len(c) + len(r.Values[c])
	}
	_, buf := grow(make([]byte, 0, size), maxValueHeaderSize)

	buf = appendVarbytes(buf, r.Blob)
	var n int
	for _, c := range columns {
		if r.Values[c] != nil {
			n++
		}
	}
	buf = appendUvarint(buf, uint64(n))
	for _, c := range columns {
		if v := r.Values[c]; v != nil {
			buf = appendVarbytes(buf, []byte(c))
			buf = appendVarbytes(buf, v)
		}
	}
	indexOff := len(buf)
	buf = appendIndexKeys(buf, idx)
	return putValueHeader(buf, vfDefault, modCount, indexOff)
}

func putValueHeader(buf []byte, flags valueFlags, modCount uint64, indexOff int) []byte {
	if indexOff > len(buf) {
		panic(fmt.Errorf("invalid indexOff=%d", indexOff)) // sanity check
	}
	if (flags &^ vfSupportedMask) != 0 {
		panic(fmt.Errorf("invalid flags %x", flags))
	}
	dataSize := indexOff - maxValueHeaderSize
	indexSize := len(buf) - indexOff

	var off = 0
	off += binary.PutUvarint(buf[off:], uint64(flags))
	off += binary.PutUvarint(buf[off:], modCount)
	off += binary.PutUvarint(buf[off:], uint64(dataSize))
	off += binary.PutUvarint(buf[off:], uint64(indexSize))
	headerSize := off
	if headerSize < maxValueHeaderSize {
		// move the header closer to data
		start := maxValueHeaderSize - headerSize
		copy(buf[start:maxValueHeaderSize], buf[:headerSize])
		return buf[start:]
	}
	return buf
}

func (vle *rowValue) decode(data []byte) error {
	d := makeByteDecoder(data)
	if len(data) < minValueSize {
		return dataErrf(data, 0, nil, "invalid row value: at least %d bytes required", minValueSize)
	}

	v, err := d.Uvarint()
	if err != nil {
		return err
	}
	if (v & ^uint64(vfSupportedMask)) != 0 {
		return dataErrf(data, 0, nil, "invalid row value: unsupported flags %x", v)
	}
	vle.Flags = valueFlags(v)

	if vle.ModCount, err = d.Uvarint(); err != nil {
		return err
	}
	dataSize, err := d.Uvarinti()
	if err != nil {
		return err
	}
	indexSize, err := d.Uvarinti()
	if err != nil {
		return err
	}
	if len(d.Buf) != dataSize+indexSize {
		return dataErrf(data, d.Off(), nil, "invalid row value: got %d bytes for data+index, expected %d bytes", len(d.Buf), dataSize+indexSize)
	}
	vle.Data = d.Buf[:dataSize]
	vle.Index = d.Buf[dataSize:]
	return nil
}

// fields splits row data into the blob and the populated column values.
func (vle *rowValue) fields() ([]byte, map[string][]byte, error) {
	d := makeByteDecoder(vle.Data)
	blob, err := d.VarBytes()
	if err != nil {
		return nil, nil, err
	}
	n, err := d.Uvarinti()
	if err != nil {
		return nil, nil, err
	}
	if n > len(d.Buf) {
		return nil, nil, dataErrf(vle.Data, d.Off(), nil, "invalid row data: %d columns", n)
	}
	values := make(map[string][]byte, n)
	for i := 0; i < n; i++ {
		name, err := d.VarString()
		if err != nil {
			return nil, nil, err
		}
		v, err := d.VarBytes()
		if err != nil {
			return nil, nil, err
		}
		values[name] = v
	}
	if len(d.Buf) != 0 {
		return nil, nil, dataErrf(vle.Data, d.Off(), nil, "invalid row data: %d trailing bytes", len(d.Buf))
	}
	return blob, values, nil
}
