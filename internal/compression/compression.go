// Package compression compresses table file payloads.
//
// A 1-byte algorithm id is stored alongside each compressed payload so files
// remain readable regardless of the options the database is reopened with.
// The id values follow RocksDB's CompressionType enum; 0x3 (bzip2) and 0x6
// (xpress) are reserved and unsupported.
package compression

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies a compression algorithm.
type Type uint8

const (
	// None stores payloads uncompressed.
	None Type = 0x0

	// Snappy uses Google Snappy block compression.
	Snappy Type = 0x1

	// Zlib uses zlib compression.
	Zlib Type = 0x2

	// LZ4 uses LZ4 fast compression.
	LZ4 Type = 0x4

	// LZ4HC uses LZ4 high-compression mode.
	LZ4HC Type = 0x5

	// Zstd uses Zstandard at its default level.
	Zstd Type = 0x7
)

// String returns the name of the compression type.
func (t Type) String() string {
	switch t {
	case None:
		return "None"
	case Snappy:
		return "Snappy"
	case Zlib:
		return "Zlib"
	case LZ4:
		return "LZ4"
	case LZ4HC:
		return "LZ4HC"
	case Zstd:
		return "Zstd"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// IsSupported reports whether this build can compress and decompress t.
func (t Type) IsSupported() bool {
	switch t {
	case None, Snappy, Zlib, LZ4, LZ4HC, Zstd:
		return true
	default:
		return false
	}
}

// Compress compresses data with the given algorithm.
func Compress(t Type, data []byte) ([]byte, error) {
	switch t {
	case None:
		return data, nil

	case Snappy:
		return snappy.Encode(nil, data), nil

	case Zlib:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("zlib write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("zlib close: %w", err)
		}
		return buf.Bytes(), nil

	case LZ4:
		return compressLZ4(data, lz4.Fast)

	case LZ4HC:
		return compressLZ4(data, lz4.Level9)

	case Zstd:
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return encoder.EncodeAll(data, nil), nil

	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
}

func compressLZ4(data []byte, level lz4.CompressionLevel) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(level)); err != nil {
		return nil, fmt.Errorf("lz4 apply level: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress for the given algorithm.
func Decompress(t Type, data []byte) ([]byte, error) {
	switch t {
	case None:
		return data, nil

	case Snappy:
		return snappy.Decode(nil, data)

	case Zlib:
		// Tolerate both header styles: zlib-wrapped and raw deflate.
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			fr := flate.NewReader(bytes.NewReader(data))
			defer func() { _ = fr.Close() }()
			result, ferr := io.ReadAll(fr)
			if ferr != nil {
				return nil, fmt.Errorf("zlib decompress: %w", err)
			}
			return result, nil
		}
		defer func() { _ = r.Close() }()
		return io.ReadAll(r)

	case LZ4, LZ4HC:
		r := lz4.NewReader(bytes.NewReader(data))
		return io.ReadAll(r)

	case Zstd:
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		defer decoder.Close()
		return decoder.DecodeAll(data, nil)

	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
}
