package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/rumgo/internal/hash"
)

// RecordType identifies the type of WAL record.
type RecordType uint8

const (
	RecordTypePageImages RecordType = 1
	RecordTypeCheckpoint RecordType = 2
)

const (
	flagCompressed byte = 1

	headerSize       = 4 + 1 + 1 + 8 + 4
	compressMinBytes = 512
	maxRecordBytes   = 100 * 1024 * 1024
)

var (
	ErrInvalidCRC     = errors.New("invalid WAL record checksum")
	ErrInvalidType    = errors.New("invalid WAL record type")
	ErrShortRead      = errors.New("short read in WAL record")
	ErrRecordTooLarge = errors.New("WAL record too large")
)

// PageImage is the full content of one page after a unit.
type PageImage struct {
	ID   uint32
	Data []byte
}

// Record represents one WAL entry.
type Record struct {
	LSN   uint64
	Type  RecordType
	Pages []PageImage
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
)

func codecs() (*zstd.Encoder, *zstd.Decoder) {
	zstdOnce.Do(func() {
		zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		zstdDec, _ = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec
}

func (r *Record) payload() []byte {
	n := binary.MaxVarintLen64
	for _, p := range r.Pages {
		n += 4 + binary.MaxVarintLen64 + len(p.Data)
	}
	buf := make([]byte, 0, n)
	buf = binary.AppendUvarint(buf, uint64(len(r.Pages)))
	for _, p := range r.Pages {
		buf = binary.LittleEndian.AppendUint32(buf, p.ID)
		buf = binary.AppendUvarint(buf, uint64(len(p.Data)))
		buf = append(buf, p.Data...)
	}
	return buf
}

// Encode writes the record to w and returns the number of bytes written.
// Payloads of at least 512 bytes are zstd-compressed when that shrinks them.
func (r *Record) Encode(w io.Writer) (int64, error) {
	return r.encode(w, true)
}

func (r *Record) encode(w io.Writer, compress bool) (int64, error) {
	payload := r.payload()
	var flags byte
	if compress && len(payload) >= compressMinBytes {
		enc, _ := codecs()
		if c := enc.EncodeAll(payload, nil); len(c) < len(payload) {
			payload = c
			flags |= flagCompressed
		}
	}
	if len(payload) > maxRecordBytes {
		return 0, ErrRecordTooLarge
	}

	buf := make([]byte, headerSize, headerSize+len(payload))
	buf[4] = byte(r.Type)
	buf[5] = flags
	binary.LittleEndian.PutUint64(buf[6:], r.LSN)
	binary.LittleEndian.PutUint32(buf[14:], uint32(len(payload)))
	buf = append(buf, payload...)
	binary.LittleEndian.PutUint32(buf[0:], hash.CRC32C(buf[4:]))

	n, err := w.Write(buf)
	return int64(n), err
}

// Decode reads a record from r. It returns the bytes consumed.
func Decode(r io.Reader) (*Record, int64, error) {
	header := make([]byte, headerSize)
	n, err := io.ReadFull(r, header)
	if err != nil {
		if err == io.ErrUnexpectedEOF {
			err = ErrShortRead
		}
		return nil, int64(n), err
	}

	checksum := binary.LittleEndian.Uint32(header[0:])
	rec := &Record{
		Type: RecordType(header[4]),
		LSN:  binary.LittleEndian.Uint64(header[6:]),
	}
	flags := header[5]
	length := binary.LittleEndian.Uint32(header[14:])
	if length > maxRecordBytes {
		return nil, headerSize, ErrRecordTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, headerSize, ErrShortRead
	}
	consumed := int64(headerSize) + int64(length)

	if hash.Update(hash.CRC32C(header[4:]), payload) != checksum {
		return nil, consumed, ErrInvalidCRC
	}

	switch rec.Type {
	case RecordTypeCheckpoint:
		return rec, consumed, nil
	case RecordTypePageImages:
	default:
		return nil, consumed, ErrInvalidType
	}

	if flags&flagCompressed != 0 {
		_, dec := codecs()
		payload, err = dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, consumed, fmt.Errorf("wal: decompress: %w", err)
		}
	}
	if err := parsePages(payload, rec); err != nil {
		return nil, consumed, err
	}
	return rec, consumed, nil
}

func parsePages(payload []byte, rec *Record) error {
	count, n := binary.Uvarint(payload)
	if n <= 0 {
		return ErrShortRead
	}
	off := n
	rec.Pages = make([]PageImage, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(payload) < off+4 {
			return ErrShortRead
		}
		id := binary.LittleEndian.Uint32(payload[off:])
		off += 4
		size, n := binary.Uvarint(payload[off:])
		if n <= 0 {
			return ErrShortRead
		}
		off += n
		if uint64(len(payload)-off) < size {
			return ErrShortRead
		}
		data := make([]byte, size)
		copy(data, payload[off:off+int(size)])
		off += int(size)
		rec.Pages = append(rec.Pages, PageImage{ID: id, Data: data})
	}
	return nil
}
