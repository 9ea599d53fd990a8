package docdb

import (
	"bytes"
	"encoding/binary"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

const (
	extObjectId int8 = 1
	extTime     int8 = 2

	timeExtLen = 12

	maxTreeDepth = 256
	maxBlobData  = 1 << 30

	// Snappy expands at most 64 bytes out of a 3-byte copy element.
	maxSnappyRatio = 22
	// zstdPreallocLimit caps the output buffer sized from the unverified
	// header; DecodeAll grows it past the limit as needed.
	zstdPreallocLimit = 1 << 20

	defaultCompressionThreshold = 512
)

type blobFlags uint64

const (
	bfVerBit0 = blobFlags(1 << iota)
	bfVerBit1
	bfVerBit2
	bfVerBit3
	bfCompressionBit0
	bfCompressionBit1

	bfVerMask         = (bfVerBit0 | bfVerBit1 | bfVerBit2 | bfVerBit3)
	bfVer1            = bfVerBit0
	bfCompressionMask = (bfCompressionBit0 | bfCompressionBit1)
	bfSnappy          = bfCompressionBit0
	bfZstd            = bfCompressionBit1
	bfSupportedMask   = (bfVer1 | bfCompressionMask)

	minBlobSize = 3 + 8
)

func (bf blobFlags) ver() blobFlags {
	return bf & bfVerMask
}

func (bf blobFlags) compression() Compression {
	switch bf & bfCompressionMask {
	case bfSnappy:
		return Snappy
	case bfZstd:
		return Zstd
	default:
		return NoCompression
	}
}

type codecOptions struct {
	Compression          Compression
	CompressionThreshold int
}

// encodeBlob serializes everything but _id. The result is self-describing:
// a header carrying the format version, compression method, uncompressed
// size and checksum, followed by the (possibly compressed) msgpack tree.
func encodeBlob(doc Document, opt codecOptions) ([]byte, error) {
	var data bytesBuilder
	enc := msgpack.GetEncoder()
	enc.Reset(&data)
	err := encodeTreeMap(enc, doc, idColumn, 0)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, err
	}

	flags := blobFlags(bfVer1)
	payload := data.Buf
	if opt.Compression != NoCompression && len(payload) >= opt.CompressionThreshold {
		compressed, cflags := compressBlob(opt.Compression, payload)
		if len(compressed) < len(payload) {
			payload, flags = compressed, flags|cflags
		}
	}

	var bb bytesBuilder
	bb.EnsureExtra(2*binary.MaxVarintLen64 + 8 + len(payload))
	bb.AppendUvarint(uint64(flags))
	bb.AppendUvarint(uint64(len(data.Buf)))
	bb.AppendFixedUint64(xxhash.Sum64(data.Buf))
	_, _ = bb.Write(payload)
	return bb.Buf, nil
}

// decodeBlob returns the document stored in blob, without _id.
func decodeBlob(blob []byte) (Document, error) {
	d := makeByteDecoder(blob)
	if len(blob) < minBlobSize {
		return nil, dataErrf(blob, 0, nil, "invalid blob: at least %d bytes required", minBlobSize)
	}
	v, err := d.Uvarint()
	if err != nil {
		return nil, err
	}
	flags := blobFlags(v)
	if (flags &^ bfSupportedMask) != 0 {
		return nil, dataErrf(blob, 0, nil, "invalid blob: unsupported flags %x", v)
	}
	if flags.ver() != bfVer1 {
		return nil, dataErrf(blob, 0, nil, "invalid blob: unsupported version %d", flags.ver())
	}
	if flags&bfCompressionMask == bfCompressionMask {
		return nil, dataErrf(blob, 0, nil, "invalid blob: conflicting compression flags %x", v)
	}

	dataSize, err := d.Uvarint()
	if err != nil {
		return nil, err
	}
	if dataSize > maxBlobData {
		return nil, dataErrf(blob, d.Off(), nil, "invalid blob: data size %d", dataSize)
	}
	sumRaw, err := d.Raw(8)
	if err != nil {
		return nil, err
	}
	sum := binary.BigEndian.Uint64(sumRaw)

	data := d.Buf
	if c := flags.compression(); c != NoCompression {
		data, err = decompressBlob(c, data, int(dataSize))
		if err != nil {
			return nil, dataErrf(blob, d.Off(), err, "invalid blob: cannot decompress %v", c)
		}
	}
	if uint64(len(data)) != dataSize {
		return nil, dataErrf(blob, d.Off(), nil, "invalid blob: got %d bytes of data, expected %d bytes", len(data), dataSize)
	}
	if actual := xxhash.Sum64(data); actual != sum {
		return nil, dataErrf(blob, d.Off(), nil, "invalid blob: checksum %016x, expected %016x", actual, sum)
	}

	tree, err := decodeTree(data)
	if err != nil {
		return nil, dataErrf(data, 0, err, "invalid blob data")
	}
	doc, ok := tree.(Document)
	if !ok {
		return nil, dataErrf(data, 0, nil, "invalid blob data: top level is %T, not a map", tree)
	}
	return doc, nil
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder) {
	zstdOnce.Do(func() {
		zstdEncoder = must(zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)))
		zstdDecoder = must(zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBlobData)))
	})
	return zstdEncoder, zstdDecoder
}

func compressBlob(c Compression, data []byte) ([]byte, blobFlags) {
	switch c {
	case Snappy:
		return snappy.Encode(nil, data), bfSnappy
	case Zstd:
		enc, _ := zstdCodecs()
		return enc.EncodeAll(data, nil), bfZstd
	default:
		return data, 0
	}
}

func decompressBlob(c Compression, data []byte, size int) ([]byte, error) {
	switch c {
	case Snappy:
		if n, err := snappy.DecodedLen(data); err != nil {
			return nil, err
		} else if n != size {
			return nil, errors.Errorf("decoded length %d, expected %d", n, size)
		} else if n > maxSnappyRatio*len(data) {
			return nil, errors.Errorf("decoded length %d out of %d bytes", n, len(data))
		}
		return snappy.Decode(nil, data)
	case Zstd:
		_, dec := zstdCodecs()
		return dec.DecodeAll(data, make([]byte, 0, min(size, zstdPreallocLimit)))
	default:
		return data, nil
	}
}

// appendTree appends the msgpack rendition of a normalized value.
func appendTree(buf []byte, v any) ([]byte, error) {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	err := encodeTree(enc, v, 0)
	msgpack.PutEncoder(enc)
	return bb.Buf, err
}

func encodeTree(enc *msgpack.Encoder, v any, depth int) error {
	if depth > maxTreeDepth {
		return errors.WithMessagef(ErrUnsupportedValue, "nesting deeper than %d", maxTreeDepth)
	}
	switch v := v.(type) {
	case nil:
		return enc.EncodeNil()
	case bool:
		return enc.EncodeBool(v)
	case int64:
		return enc.EncodeInt(v)
	case float64:
		return enc.EncodeFloat64(v)
	case string:
		return enc.EncodeString(v)
	case []byte:
		return enc.EncodeBytes(v)
	case time.Time:
		var b [timeExtLen]byte
		binary.BigEndian.PutUint64(b[:8], uint64(v.Unix()))
		binary.BigEndian.PutUint32(b[8:], uint32(v.Nanosecond()))
		if err := enc.EncodeExtHeader(extTime, len(b)); err != nil {
			return err
		}
		_, err := enc.Writer().Write(b[:])
		return err
	case ObjectId:
		if err := enc.EncodeExtHeader(extObjectId, len(v)); err != nil {
			return err
		}
		_, err := enc.Writer().Write(v[:])
		return err
	case []any:
		if err := enc.EncodeArrayLen(len(v)); err != nil {
			return err
		}
		for _, e := range v {
			if err := encodeTree(enc, e, depth+1); err != nil {
				return err
			}
		}
		return nil
	case Document:
		return encodeTreeMap(enc, v, "", depth)
	default:
		return errors.WithMessagef(ErrUnsupportedValue, "%T", v)
	}
}

// encodeTreeMap writes m with sorted keys, leaving out the skip key.
func encodeTreeMap(enc *msgpack.Encoder, m Document, skip string, depth int) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		if skip != "" && k == skip {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	if err := enc.EncodeMapLen(len(keys)); err != nil {
		return err
	}
	for _, k := range keys {
		if err := enc.EncodeString(k); err != nil {
			return err
		}
		if err := encodeTree(enc, m[k], depth+1); err != nil {
			return errors.WithMessagef(err, "field %q", k)
		}
	}
	return nil
}

func decodeTree(data []byte) (any, error) {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	v, err := decodeTreeValue(dec, 0)
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, errors.Errorf("%d trailing bytes", r.Len())
	}
	return v, nil
}

func decodeTreeValue(dec *msgpack.Decoder, depth int) (any, error) {
	if depth > maxTreeDepth {
		return nil, errors.Errorf("nesting deeper than %d", maxTreeDepth)
	}
	c, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}
	switch {
	case c == msgpcode.Nil:
		return nil, dec.DecodeNil()
	case c == msgpcode.False || c == msgpcode.True:
		return dec.DecodeBool()
	case c == msgpcode.Uint64:
		n, err := dec.DecodeUint64()
		if err != nil {
			return nil, err
		}
		if n > math.MaxInt64 {
			return nil, errors.Errorf("integer %d overflows int64", n)
		}
		return int64(n), nil
	case msgpcode.IsFixedNum(c), c >= msgpcode.Uint8 && c <= msgpcode.Uint32, c >= msgpcode.Int8 && c <= msgpcode.Int64:
		return dec.DecodeInt64()
	case c == msgpcode.Float:
		f, err := dec.DecodeFloat32()
		return float64(f), err
	case c == msgpcode.Double:
		return dec.DecodeFloat64()
	case msgpcode.IsString(c):
		return dec.DecodeString()
	case msgpcode.IsBin(c):
		b, err := dec.DecodeBytes()
		if b == nil && err == nil {
			b = []byte{}
		}
		return b, err
	case msgpcode.IsExt(c):
		return decodeTreeExt(dec)
	case msgpcode.IsFixedArray(c), c == msgpcode.Array16, c == msgpcode.Array32:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		out := make([]any, n)
		for i := range out {
			out[i], err = decodeTreeValue(dec, depth+1)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	case msgpcode.IsFixedMap(c), c == msgpcode.Map16, c == msgpcode.Map32:
		n, err := dec.DecodeMapLen()
		if err != nil {
			return nil, err
		}
		out := make(Document, n)
		for i := 0; i < n; i++ {
			k, err := dec.DecodeString()
			if err != nil {
				return nil, err
			}
			out[k], err = decodeTreeValue(dec, depth+1)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return nil, errors.Errorf("unexpected msgpack code %x", c)
	}
}

func decodeTreeExt(dec *msgpack.Decoder) (any, error) {
	id, n, err := dec.DecodeExtHeader()
	if err != nil {
		return nil, err
	}
	switch {
	case id == extObjectId && n == len(ObjectId{}):
		var oid ObjectId
		if err := dec.ReadFull(oid[:]); err != nil {
			return nil, err
		}
		return oid, nil
	case id == extTime && n == timeExtLen:
		var b [timeExtLen]byte
		if err := dec.ReadFull(b[:]); err != nil {
			return nil, err
		}
		sec := int64(binary.BigEndian.Uint64(b[:8]))
		nsec := int64(binary.BigEndian.Uint32(b[8:]))
		if nsec >= int64(time.Second) {
			return nil, errors.Errorf("invalid nanoseconds %d", nsec)
		}
		return time.Unix(sec, nsec).UTC(), nil
	default:
		return nil, errors.Errorf("unsupported ext %d of %d bytes", id, n)
	}
}
