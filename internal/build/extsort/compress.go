package extsort

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the block codec of spill runs.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionZstd
	CompressionSnappy
)

// String returns the codec name.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	case CompressionSnappy:
		return "snappy"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ErrBlock reports a damaged spill block.
var ErrBlock = errors.New("extsort: bad block")

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// blockHeaderSize covers [uncompressed uint32][stored uint32]. A stored
// size of zero means the block is kept raw.
const blockHeaderSize = 8

func compressBlock(data []byte, c Compression) ([]byte, error) {
	var (
		packed []byte
		err    error
	)
	switch c {
	case CompressionLZ4:
		packed = make([]byte, lz4.CompressBlockBound(len(data)))
		var n int
		n, err = lz4.CompressBlock(data, packed, nil)
		packed = packed[:n]
	case CompressionZstd:
		enc := getZstdEncoder()
		packed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	case CompressionSnappy:
		packed = snappy.Encode(nil, data)
	}
	if err != nil {
		return nil, err
	}

	out := make([]byte, blockHeaderSize, blockHeaderSize+len(data))
	binary.LittleEndian.PutUint32(out, uint32(len(data)))
	if len(packed) == 0 || len(packed) >= len(data) {
		return append(out, data...), nil
	}
	binary.LittleEndian.PutUint32(out[4:], uint32(len(packed)))
	return append(out, packed...), nil
}

// blockSizes reads a block header.
func blockSizes(h []byte) (raw, stored int) {
	raw = int(binary.LittleEndian.Uint32(h))
	stored = int(binary.LittleEndian.Uint32(h[4:]))
	if stored == 0 {
		stored = raw
	}
	return raw, stored
}

func decompressBlock(h, body []byte, c Compression) ([]byte, error) {
	raw := int(binary.LittleEndian.Uint32(h))
	if binary.LittleEndian.Uint32(h[4:]) == 0 {
		return body, nil
	}
	switch c {
	case CompressionLZ4:
		out := make([]byte, raw)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBlock, err)
		}
		if n != raw {
			return nil, fmt.Errorf("%w: size mismatch", ErrBlock)
		}
		return out, nil
	case CompressionZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(body, make([]byte, 0, raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBlock, err)
		}
		if len(out) != raw {
			return nil, fmt.Errorf("%w: size mismatch", ErrBlock)
		}
		return out, nil
	case CompressionSnappy:
		out, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBlock, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: compressed block without codec", ErrBlock)
}
