// Package encoding provides the binary primitives used by the snapshot
// manifest codec.
//
// Multi-byte fixed integers are little-endian. Varints use 7-bit groups with
// the MSB as continuation bit; signed values are zigzag encoded.
package encoding

import (
	"encoding/binary"
	"errors"
)

// MaxVarint64Length is the maximum number of bytes a varint64 can occupy.
const MaxVarint64Length = 10

var (
	// ErrBufferTooSmall is returned when the input ends mid-value.
	ErrBufferTooSmall = errors.New("encoding: buffer too small")

	// ErrVarintOverflow is returned when a varint exceeds 64 bits.
	ErrVarintOverflow = errors.New("encoding: varint overflow")

	// ErrVarintTermination is returned when a varint does not terminate.
	ErrVarintTermination = errors.New("encoding: varint not terminated")
)

// -----------------------------------------------------------------------------
// Append helpers
// -----------------------------------------------------------------------------

// AppendFixed16 appends a little-endian uint16.
func AppendFixed16(dst []byte, value uint16) []byte {
	return binary.LittleEndian.AppendUint16(dst, value)
}

// AppendFixed64 appends a little-endian uint64.
func AppendFixed64(dst []byte, value uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, value)
}

// AppendVarint64 appends value as a varint.
func AppendVarint64(dst []byte, value uint64) []byte {
	for value >= 0x80 {
		dst = append(dst, byte(value)|0x80)
		value >>= 7
	}
	return append(dst, byte(value))
}

// AppendVarsignedint64 appends a signed value using zigzag + varint encoding.
func AppendVarsignedint64(dst []byte, v int64) []byte {
	return AppendVarint64(dst, (uint64(v)<<1)^uint64(v>>63))
}

// AppendLengthPrefixedSlice appends [varint length][bytes].
func AppendLengthPrefixedSlice(dst []byte, value []byte) []byte {
	dst = AppendVarint64(dst, uint64(len(value)))
	return append(dst, value...)
}

// AppendLengthPrefixedString is AppendLengthPrefixedSlice for strings.
func AppendLengthPrefixedString(dst []byte, value string) []byte {
	dst = AppendVarint64(dst, uint64(len(value)))
	return append(dst, value...)
}

// VarintLength returns the number of bytes needed to encode v as a varint.
func VarintLength(v uint64) int {
	length := 1
	for v >= 0x80 {
		v >>= 7
		length++
	}
	return length
}

// DecodeVarint64 decodes a varint from src and returns the value and the
// number of bytes consumed.
func DecodeVarint64(src []byte) (value uint64, bytesRead int, err error) {
	for shift := uint(0); shift < 64; shift += 7 {
		if bytesRead >= len(src) {
			return 0, 0, ErrVarintTermination
		}
		b := src[bytesRead]
		bytesRead++
		if b < 0x80 {
			if shift == 63 && b > 1 {
				return 0, 0, ErrVarintOverflow
			}
			return value | uint64(b)<<shift, bytesRead, nil
		}
		value |= uint64(b&0x7f) << shift
	}
	return 0, 0, ErrVarintOverflow
}

// -----------------------------------------------------------------------------
// Sequential reader
// -----------------------------------------------------------------------------

// Reader consumes values from a byte slice front to back. The first failure
// is sticky: later reads return zero values and Err reports it.
type Reader struct {
	data []byte
	pos  int
	err  error
}

// NewReader creates a Reader over data. The returned slices alias data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Err returns the first decoding error, if any.
func (r *Reader) Err() error {
	return r.err
}

// Fixed16 reads a little-endian uint16.
func (r *Reader) Fixed16() uint16 {
	if r.err != nil {
		return 0
	}
	if r.Remaining() < 2 {
		r.err = ErrBufferTooSmall
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

// Fixed64 reads a little-endian uint64.
func (r *Reader) Fixed64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.Remaining() < 8 {
		r.err = ErrBufferTooSmall
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

// Byte reads a single byte.
func (r *Reader) Byte() byte {
	if r.err != nil {
		return 0
	}
	if r.Remaining() < 1 {
		r.err = ErrBufferTooSmall
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

// Varint64 reads a varint.
func (r *Reader) Varint64() uint64 {
	if r.err != nil {
		return 0
	}
	v, n, err := DecodeVarint64(r.data[r.pos:])
	if err != nil {
		r.err = err
		return 0
	}
	r.pos += n
	return v
}

// Varsignedint64 reads a zigzag-encoded varint.
func (r *Reader) Varsignedint64() int64 {
	u := r.Varint64()
	return int64(u>>1) ^ -int64(u&1)
}

// LengthPrefixed reads a [varint length][bytes] value.
func (r *Reader) LengthPrefixed() []byte {
	n := r.Varint64()
	if r.err != nil {
		return nil
	}
	if uint64(r.Remaining()) < n {
		r.err = ErrBufferTooSmall
		return nil
	}
	v := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return v
}

// Bytes reads exactly n raw bytes.
func (r *Reader) Bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.err = ErrBufferTooSmall
		return nil
	}
	v := r.data[r.pos : r.pos+n]
	r.pos += n
	return v
}
