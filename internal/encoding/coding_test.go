package encoding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarint64RoundTripBoundaries(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 16383, 16384, 1<<32 - 1, 1 << 35, math.MaxUint64}
	for _, v := range values {
		buf := AppendVarint64(nil, v)
		assert.Len(t, buf, VarintLength(v), "length of %d", v)

		got, n, err := DecodeVarint64(buf)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, len(buf), n)
	}
}

func TestDecodeVarint64Errors(t *testing.T) {
	_, _, err := DecodeVarint64([]byte{0x80, 0x80})
	assert.ErrorIs(t, err, ErrVarintTermination)

	tooLong := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f}
	_, _, err = DecodeVarint64(tooLong)
	assert.ErrorIs(t, err, ErrVarintOverflow)
}

func TestReaderSequence(t *testing.T) {
	var buf []byte
	buf = AppendFixed16(buf, 0xBEEF)
	buf = append(buf, 7)
	buf = AppendVarint64(buf, 300)
	buf = AppendVarsignedint64(buf, -42)
	buf = AppendLengthPrefixedString(buf, "segment")
	buf = AppendFixed64(buf, 0x0102030405060708)

	r := NewReader(buf)
	assert.Equal(t, uint16(0xBEEF), r.Fixed16())
	assert.Equal(t, byte(7), r.Byte())
	assert.Equal(t, uint64(300), r.Varint64())
	assert.Equal(t, int64(-42), r.Varsignedint64())
	assert.Equal(t, "segment", string(r.LengthPrefixed()))
	assert.Equal(t, uint64(0x0102030405060708), r.Fixed64())
	require.NoError(t, r.Err())
	assert.Zero(t, r.Remaining())
}

func TestReaderStickyError(t *testing.T) {
	buf := AppendVarint64(nil, 10) // claims 10 bytes, provides none
	r := NewReader(buf)

	assert.Nil(t, r.LengthPrefixed())
	assert.ErrorIs(t, r.Err(), ErrBufferTooSmall)

	// Every later read is a zero value with the original error kept.
	assert.Zero(t, r.Varint64())
	assert.Zero(t, r.Fixed64())
	assert.Nil(t, r.Bytes(1))
	assert.ErrorIs(t, r.Err(), ErrBufferTooSmall)
}
