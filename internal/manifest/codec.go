// codec.go implements the snapshot manifest frame and body encoding.
//
// Frame layout:
//
//	magic "FSNP" | format version (fixed16) | compression (u8) |
//	checksum type (u8) | body length (varint) | body | checksum (fixed64)
//
// The checksum covers every byte before it.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/aalhour/fusesnap/internal/checksum"
	"github.com/aalhour/fusesnap/internal/compression"
	"github.com/aalhour/fusesnap/internal/encoding"
)

// Errors returned while decoding a manifest.
var (
	ErrBadMagic             = errors.New("manifest: bad magic")
	ErrUnsupportedVersion   = errors.New("manifest: unsupported format version")
	ErrChecksumMismatch     = errors.New("manifest: checksum mismatch")
	ErrUnexpectedEndOfInput = errors.New("manifest: unexpected end of input")
	ErrUnknownRequiredTag   = errors.New("manifest: unknown required tag")
	ErrInvalidField         = errors.New("manifest: invalid field")
)

var magic = []byte("FSNP")

// frameHeaderMin is magic + version + compression + checksum type + 1-byte length.
const frameHeaderMin = 4 + 2 + 1 + 1 + 1

// EncodeOptions controls how a manifest frame is written.
type EncodeOptions struct {
	Compression compression.Type
	Checksum    checksum.Type
}

// DefaultEncodeOptions returns uncompressed, XXH3-checksummed frames.
func DefaultEncodeOptions() EncodeOptions {
	return EncodeOptions{
		Compression: compression.NoCompression,
		Checksum:    checksum.TypeXXH3,
	}
}

// Encode serializes a snapshot into a manifest frame.
func Encode(s *Snapshot, opts EncodeOptions) ([]byte, error) {
	if !opts.Compression.IsSupported() {
		return nil, fmt.Errorf("manifest: unsupported compression %s", opts.Compression)
	}
	if !opts.Checksum.IsSupported() {
		return nil, fmt.Errorf("manifest: unsupported checksum %s", opts.Checksum)
	}

	body, err := compression.Compress(opts.Compression, encodeBody(nil, s))
	if err != nil {
		return nil, fmt.Errorf("manifest: compress body: %w", err)
	}

	dst := make([]byte, 0, frameHeaderMin+encoding.MaxVarint64Length+len(body)+8)
	dst = append(dst, magic...)
	dst = encoding.AppendFixed16(dst, FormatVersion)
	dst = append(dst, byte(opts.Compression), byte(opts.Checksum))
	dst = encoding.AppendVarint64(dst, uint64(len(body)))
	dst = append(dst, body...)
	dst = encoding.AppendFixed64(dst, checksum.Compute(opts.Checksum, dst))
	return dst, nil
}

// Decode parses and verifies a manifest frame.
func Decode(data []byte) (*Snapshot, error) {
	if len(data) < frameHeaderMin+8 {
		return nil, ErrUnexpectedEndOfInput
	}
	if !bytes.Equal(data[:4], magic) {
		return nil, ErrBadMagic
	}

	r := encoding.NewReader(data[4:])
	version := r.Fixed16()
	compType := compression.Type(r.Byte())
	sumType := checksum.Type(r.Byte())
	bodyLen := r.Varint64()
	if r.Err() != nil {
		return nil, ErrUnexpectedEndOfInput
	}
	if version == 0 || version > FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	if !compType.IsSupported() {
		return nil, fmt.Errorf("%w: compression %s", ErrInvalidField, compType)
	}
	if !sumType.IsSupported() {
		return nil, fmt.Errorf("%w: checksum %s", ErrInvalidField, sumType)
	}
	if uint64(r.Remaining()) != bodyLen+8 {
		return nil, fmt.Errorf("%w: body length %d, have %d bytes", ErrUnexpectedEndOfInput, bodyLen, r.Remaining())
	}
	body := r.Bytes(int(bodyLen))
	stored := r.Fixed64()
	if sumType != checksum.TypeNoChecksum {
		if got := checksum.Compute(sumType, data[:len(data)-8]); got != stored {
			return nil, fmt.Errorf("%w: stored %#x, computed %#x", ErrChecksumMismatch, stored, got)
		}
	}

	raw, err := compression.Decompress(compType, body)
	if err != nil {
		return nil, fmt.Errorf("manifest: decompress body: %w", err)
	}
	s, err := decodeBody(raw)
	if err != nil {
		return nil, err
	}
	s.FormatVersion = version
	return s, nil
}

func appendTime(dst []byte, t time.Time) []byte {
	return encoding.AppendVarsignedint64(dst, t.UnixMicro())
}

func readTime(r *encoding.Reader) time.Time {
	return time.UnixMicro(r.Varsignedint64()).UTC()
}

func encodeBody(dst []byte, s *Snapshot) []byte {
	dst = encoding.AppendVarint64(dst, uint64(TagSnapshotID))
	dst = encoding.AppendLengthPrefixedSlice(dst, s.ID[:])

	dst = encoding.AppendVarint64(dst, uint64(TagSequence))
	dst = encoding.AppendVarint64(dst, s.Sequence)

	dst = encoding.AppendVarint64(dst, uint64(TagTimestamp))
	dst = appendTime(dst, s.Timestamp)

	if s.PreviousID != nil {
		dst = encoding.AppendVarint64(dst, uint64(TagPrevious))
		dst = encoding.AppendLengthPrefixedSlice(dst, s.PreviousID[:])
		dst = encoding.AppendLengthPrefixedString(dst, s.PreviousLocation)
	}

	if s.SchemaVersion != 0 {
		dst = encoding.AppendVarint64(dst, uint64(TagSchemaVersion))
		dst = encoding.AppendVarint64(dst, s.SchemaVersion)
	}

	for _, seg := range s.Segments {
		dst = encoding.AppendVarint64(dst, uint64(TagSegment))
		dst = encoding.AppendLengthPrefixedSlice(dst, encodeSegment(nil, seg))
	}

	dst = encoding.AppendVarint64(dst, uint64(TagSummary))
	dst = encoding.AppendVarint64(dst, s.Summary.RowCount)
	dst = encoding.AppendVarint64(dst, s.Summary.ByteSize)
	dst = encoding.AppendVarint64(dst, s.Summary.SegmentCount)

	if s.Writer != "" {
		dst = encoding.AppendVarint64(dst, uint64(TagWriter))
		dst = encoding.AppendLengthPrefixedString(dst, s.Writer)
	}
	return dst
}

func encodeSegment(dst []byte, seg *Segment) []byte {
	dst = encoding.AppendVarint64(dst, uint64(SegmentTagLocation))
	dst = encoding.AppendLengthPrefixedString(dst, seg.Location)

	dst = encoding.AppendVarint64(dst, uint64(SegmentTagRowCount))
	dst = encoding.AppendVarint64(dst, seg.RowCount)

	dst = encoding.AppendVarint64(dst, uint64(SegmentTagByteSize))
	dst = encoding.AppendVarint64(dst, seg.ByteSize)

	// Column stats are written in column order so equal segments encode equally.
	cols := make([]uint32, 0, len(seg.ColumnStats))
	for id := range seg.ColumnStats {
		cols = append(cols, id)
	}
	slices.Sort(cols)
	for _, id := range cols {
		cs := seg.ColumnStats[id]
		dst = encoding.AppendVarint64(dst, uint64(SegmentTagColumn))
		dst = encoding.AppendVarint64(dst, uint64(id))
		dst = encoding.AppendLengthPrefixedSlice(dst, cs.Min)
		dst = encoding.AppendLengthPrefixedSlice(dst, cs.Max)
		dst = encoding.AppendVarint64(dst, cs.NullCount)
	}

	if !seg.CreatedAt.IsZero() {
		dst = encoding.AppendVarint64(dst, uint64(SegmentTagCreatedAt))
		dst = appendTime(dst, seg.CreatedAt)
	}

	if seg.ContentHash != "" {
		dst = encoding.AppendVarint64(dst, uint64(SegmentTagContentHash))
		dst = encoding.AppendLengthPrefixedString(dst, seg.ContentHash)
	}
	return dst
}

func readUUID(r *encoding.Reader) (uuid.UUID, error) {
	raw := r.LengthPrefixed()
	if r.Err() != nil {
		return uuid.Nil, ErrUnexpectedEndOfInput
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}
	return id, nil
}

func decodeBody(data []byte) (*Snapshot, error) {
	s := &Snapshot{}
	var haveID, haveSummary bool

	r := encoding.NewReader(data)
	for r.Remaining() > 0 {
		tag := Tag(r.Varint64())
		if r.Err() != nil {
			return nil, ErrUnexpectedEndOfInput
		}

		switch tag {
		case TagSnapshotID:
			id, err := readUUID(r)
			if err != nil {
				return nil, err
			}
			s.ID = id
			haveID = true

		case TagSequence:
			s.Sequence = r.Varint64()

		case TagTimestamp:
			s.Timestamp = readTime(r)

		case TagPrevious:
			prev, err := readUUID(r)
			if err != nil {
				return nil, err
			}
			s.PreviousID = &prev
			s.PreviousLocation = string(r.LengthPrefixed())

		case TagSchemaVersion:
			s.SchemaVersion = r.Varint64()

		case TagSegment:
			raw := r.LengthPrefixed()
			if r.Err() != nil {
				return nil, ErrUnexpectedEndOfInput
			}
			seg, err := decodeSegment(raw)
			if err != nil {
				return nil, err
			}
			s.Segments = append(s.Segments, seg)

		case TagSummary:
			s.Summary.RowCount = r.Varint64()
			s.Summary.ByteSize = r.Varint64()
			s.Summary.SegmentCount = r.Varint64()
			haveSummary = true

		case TagWriter:
			s.Writer = string(r.LengthPrefixed())

		default:
			if !tag.IsSafeToIgnore() {
				return nil, fmt.Errorf("%w: %d", ErrUnknownRequiredTag, tag)
			}
			_ = r.LengthPrefixed()
		}

		if r.Err() != nil {
			return nil, ErrUnexpectedEndOfInput
		}
	}

	if !haveID || !haveSummary {
		return nil, fmt.Errorf("%w: missing snapshot id or summary", ErrInvalidField)
	}
	return s, nil
}

func decodeSegment(data []byte) (*Segment, error) {
	seg := &Segment{}
	r := encoding.NewReader(data)
	for r.Remaining() > 0 {
		tag := SegmentTag(r.Varint64())
		if r.Err() != nil {
			return nil, ErrUnexpectedEndOfInput
		}

		switch tag {
		case SegmentTagLocation:
			seg.Location = string(r.LengthPrefixed())
		case SegmentTagRowCount:
			seg.RowCount = r.Varint64()
		case SegmentTagByteSize:
			seg.ByteSize = r.Varint64()
		case SegmentTagColumn:
			id := r.Varint64()
			cs := ColumnStats{
				Min: bytes.Clone(r.LengthPrefixed()),
				Max: bytes.Clone(r.LengthPrefixed()),
			}
			cs.NullCount = r.Varint64()
			if id > uint64(^uint32(0)) {
				return nil, fmt.Errorf("%w: column id %d", ErrInvalidField, id)
			}
			if seg.ColumnStats == nil {
				seg.ColumnStats = make(map[uint32]ColumnStats)
			}
			seg.ColumnStats[uint32(id)] = cs
		case SegmentTagCreatedAt:
			seg.CreatedAt = readTime(r)
		case SegmentTagContentHash:
			seg.ContentHash = string(r.LengthPrefixed())
		default:
			if !tag.IsSafeToIgnore() {
				return nil, fmt.Errorf("%w: segment tag %d", ErrUnknownRequiredTag, tag)
			}
			_ = r.LengthPrefixed()
		}

		if r.Err() != nil {
			return nil, ErrUnexpectedEndOfInput
		}
	}
	if seg.Location == "" {
		return nil, fmt.Errorf("%w: segment without location", ErrInvalidField)
	}
	return seg, nil
}
