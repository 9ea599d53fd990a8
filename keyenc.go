package docdb

import (
	"math"
	"time"

	"github.com/jgraettinger/cockroach-encoding/encoding"
	"github.com/pkg/errors"
)

// Column values (and the index keys built from them) use a kind tag byte
// followed by an encoding of the payload. Scalar kinds are order-preserving:
// within a kind, the byte order of two encodings matches Compare. Arrays and
// maps are stored as a msgpack tree, which only supports equality. Equal
// values of a non-numeric kind always have identical encodings. Every
// encoding is self-delimiting, so encodings can be concatenated into
// compound keys.

const objectIdLen = len(ObjectId{})

func encodeValueKey(v Value) ([]byte, error) {
	return appendValueKey(nil, v)
}

func appendValueKey(b []byte, v Value) ([]byte, error) {
	b = append(b, byte(v.kind))
	switch v.kind {
	case KindAbsent, KindNull:
		return b, nil
	case KindBool:
		if v.boolean() {
			return append(b, 1), nil
		}
		return append(b, 0), nil
	case KindInt:
		return encoding.EncodeVarintAscending(b, v.int()), nil
	case KindFloat:
		return encoding.EncodeUint64Ascending(b, orderedFloatBits(v.float())), nil
	case KindString:
		return encoding.EncodeStringAscending(b, v.str()), nil
	case KindBytes:
		return encoding.EncodeBytesAscending(b, v.bytes()), nil
	case KindTime:
		t := v.time()
		b = encoding.EncodeVarintAscending(b, t.Unix())
		return encoding.EncodeUint64Ascending(b, uint64(t.Nanosecond())), nil
	case KindObjectId:
		id := v.oid()
		return append(b, id[:]...), nil
	case KindArray, KindMap:
		data, err := appendTree(nil, v.raw)
		if err != nil {
			return nil, err
		}
		return encoding.EncodeBytesAscending(b, data), nil
	default:
		return nil, errors.WithMessagef(ErrUnsupportedValue, "%v", v.kind)
	}
}

func decodeValueKey(b []byte) ([]byte, Value, error) {
	orig := b
	if len(b) == 0 {
		return nil, absentValue, dataErrf(orig, 0, nil, "empty column value")
	}
	kind := Kind(b[0])
	b = b[1:]

	var err error
	switch kind {
	case KindAbsent:
		return b, absentValue, nil
	case KindNull:
		return b, Value{KindNull, nil}, nil
	case KindBool:
		if len(b) < 1 || b[0] > 1 {
			break
		}
		return b[1:], Value{KindBool, b[0] == 1}, nil
	case KindInt:
		var n int64
		if b, n, err = encoding.DecodeVarintAscending(b); err == nil {
			return b, Value{KindInt, n}, nil
		}
	case KindFloat:
		var u uint64
		if b, u, err = encoding.DecodeUint64Ascending(b); err == nil {
			return b, Value{KindFloat, floatFromOrderedBits(u)}, nil
		}
	case KindString:
		var raw []byte
		if b, raw, err = encoding.DecodeBytesAscending(b, nil); err == nil {
			return b, Value{KindString, string(raw)}, nil
		}
	case KindBytes:
		var raw []byte
		if b, raw, err = encoding.DecodeBytesAscending(b, nil); err == nil {
			if raw == nil {
				raw = []byte{}
			}
			return b, Value{KindBytes, raw}, nil
		}
	case KindTime:
		var sec int64
		var nsec uint64
		if b, sec, err = encoding.DecodeVarintAscending(b); err != nil {
			break
		}
		if b, nsec, err = encoding.DecodeUint64Ascending(b); err != nil {
			break
		}
		if nsec >= 1e9 {
			break
		}
		return b, valueOfNormalized(normalizeTime(time.Unix(sec, int64(nsec)))), nil
	case KindObjectId:
		if len(b) < objectIdLen {
			break
		}
		var id ObjectId
		copy(id[:], b)
		return b[objectIdLen:], Value{KindObjectId, id}, nil
	case KindArray, KindMap:
		var raw []byte
		if b, raw, err = encoding.DecodeBytesAscending(b, nil); err != nil {
			break
		}
		var tree any
		if tree, err = decodeTree(raw); err != nil {
			break
		}
		v := valueOfNormalized(tree)
		if v.kind != kind {
			return nil, absentValue, dataErrf(orig, 0, nil, "column value tagged %v holds %v", kind, v.kind)
		}
		return b, v, nil
	}
	return nil, absentValue, dataErrf(orig, len(orig)-len(b), err, "invalid %v column value", kind)
}

// decodeColumnValue decodes a single stored column value. A nil input is an
// absent column.
func decodeColumnValue(b []byte) (Value, error) {
	if b == nil {
		return absentValue, nil
	}
	rest, v, err := decodeValueKey(b)
	if err != nil {
		return absentValue, err
	}
	if len(rest) != 0 {
		return absentValue, dataErrf(b, len(b)-len(rest), nil, "trailing bytes after column value")
	}
	return v, nil
}

// orderedFloatBits maps a float onto a uint64 whose unsigned order matches
// the numeric order of the float.
func orderedFloatBits(f float64) uint64 {
	if f == 0 {
		f = 0 // -0
	}
	u := math.Float64bits(f)
	if u&(1<<63) != 0 {
		return ^u
	}
	return u | (1 << 63)
}

func floatFromOrderedBits(u uint64) float64 {
	if u&(1<<63) != 0 {
		return math.Float64frombits(u &^ (1 << 63))
	}
	return math.Float64frombits(^u)
}
