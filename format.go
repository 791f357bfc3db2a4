package gstate

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/google/uuid"

	"github.com/gogpu/gstate/variant"
)

// FileExtension is the extension of persisted collections.
const FileExtension = ".graphicsstate"

// FormatVersion is the newest file format this package reads and the one it writes.
const FormatVersion uint16 = 1

// File layout (format version 1):
//
//	magic     4 bytes  "GSTC"
//	format    uint16   little endian
//	flags     uint16   little endian, 0
//	id        16 bytes collection UUID
//	version   varint   collection version
//	count     uvarint  number of records
//	record*   uvarint length + descriptor record
//	crc32     uint32   little endian, IEEE over all preceding bytes
const (
	fileMagic   = "GSTC"
	headerSize  = len(fileMagic) + 2 + 2 + 16
	trailerSize = 4

	maxFileSize = 64 << 20
)

// Header describes a persisted collection.
type Header struct {
	Format  uint16
	Flags   uint16
	ID      uuid.UUID
	Version int64
	Count   int
}

// encodeCollection writes the file encoding of the given records.
// records must already be the canonical encodings of distinct descriptors.
func encodeCollection(w io.Writer, id uuid.UUID, version int64, records [][]byte) (int64, error) {
	size := headerSize + 2*binary.MaxVarintLen64 + trailerSize
	for _, r := range records {
		size += binary.MaxVarintLen64 + len(r)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, fileMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, FormatVersion)
	buf = binary.LittleEndian.AppendUint16(buf, 0)
	buf = append(buf, id[:]...)
	buf = binary.AppendVarint(buf, version)
	buf = binary.AppendUvarint(buf, uint64(len(records)))
	for _, r := range records {
		buf = binary.AppendUvarint(buf, uint64(len(r)))
		buf = append(buf, r...)
	}
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
	if len(buf) > maxFileSize {
		return 0, fmt.Errorf("%w: %d bytes, max %d", ErrTooLarge, len(buf), maxFileSize)
	}

	n, err := w.Write(buf)
	return int64(n), err
}

// decodeCollection reads and verifies a whole file. On any error no
// descriptors are returned.
func decodeCollection(r io.Reader) (Header, []variant.Descriptor, int64, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxFileSize+1))
	n := int64(len(data))
	if err != nil {
		return Header{}, nil, n, err
	}
	if len(data) > maxFileSize {
		return Header{}, nil, n, fmt.Errorf("%w: file exceeds %d bytes", ErrCorrupt, maxFileSize)
	}

	h, descs, err := decodeBytes(data)
	return h, descs, n, err
}

func decodeBytes(data []byte) (Header, []variant.Descriptor, error) {
	var h Header

	if len(data) < len(fileMagic) || !bytes.Equal(data[:len(fileMagic)], []byte(fileMagic)) {
		return h, nil, ErrBadMagic
	}
	if len(data) < headerSize+trailerSize {
		return h, nil, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}

	h.Format = binary.LittleEndian.Uint16(data[4:])
	h.Flags = binary.LittleEndian.Uint16(data[6:])
	if h.Format == 0 || h.Format > FormatVersion {
		return h, nil, fmt.Errorf("%w: %d", ErrUnsupportedFormat, h.Format)
	}

	body := data[:len(data)-trailerSize]
	want := binary.LittleEndian.Uint32(data[len(data)-trailerSize:])
	if got := crc32.ChecksumIEEE(body); got != want {
		return h, nil, fmt.Errorf("%w: got %08x, want %08x", ErrChecksum, got, want)
	}

	copy(h.ID[:], data[8:headerSize])
	p := body[headerSize:]

	version, n := binary.Varint(p)
	if n <= 0 {
		return h, nil, fmt.Errorf("%w: bad version", ErrCorrupt)
	}
	p = p[n:]
	h.Version = version

	count, n := binary.Uvarint(p)
	if n <= 0 {
		return h, nil, fmt.Errorf("%w: bad record count", ErrCorrupt)
	}
	p = p[n:]
	// Every record takes at least two bytes, which bounds count by the data left.
	if count > uint64(len(p)) {
		return h, nil, fmt.Errorf("%w: record count %d exceeds file size", ErrCorrupt, count)
	}
	h.Count = int(count)

	descs := make([]variant.Descriptor, 0, h.Count)
	for i := range h.Count {
		size, n := binary.Uvarint(p)
		if n <= 0 || size > variant.MaxRecordSize || size > uint64(len(p)-n) {
			return h, nil, fmt.Errorf("%w: record %d truncated", ErrCorrupt, i)
		}
		p = p[n:]

		var d variant.Descriptor
		if err := d.UnmarshalBinary(p[:size]); err != nil {
			return h, nil, fmt.Errorf("%w: record %d: %w", ErrCorrupt, i, err)
		}
		descs = append(descs, d)
		p = p[size:]
	}
	if len(p) != 0 {
		return h, nil, fmt.Errorf("%w: %d unexpected bytes after records", ErrCorrupt, len(p))
	}

	return h, descs, nil
}

// ReadHeader decodes and verifies a persisted collection and returns its
// header without building a collection.
func ReadHeader(r io.Reader) (Header, error) {
	h, _, _, err := decodeCollection(r)
	if err != nil {
		return Header{}, err
	}
	return h, nil
}
