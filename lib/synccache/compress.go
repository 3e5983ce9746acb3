// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package synccache

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the codec applied to the snapshot before
// encryption. The numeric value is written into the file header.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression maps a configuration name to a Compression. The
// empty string selects zstd.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("synccache: unknown compression %q (want zstd, lz4, or none)", name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("synccache: zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("synccache: zstd decoder: " + err.Error())
	}
}

// compress returns the encoded payload and the codec actually used.
// Data that does not shrink is stored uncompressed.
func compress(data []byte, requested Compression) ([]byte, Compression, error) {
	switch requested {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("synccache: lz4: %w", err)
		}
		if written == 0 || written >= len(data) {
			return data, CompressionNone, nil
		}
		return destination[:written], CompressionLZ4, nil
	case CompressionZstd:
		encoded := zstdEncoder.EncodeAll(data, nil)
		if len(encoded) >= len(data) {
			return data, CompressionNone, nil
		}
		return encoded, CompressionZstd, nil
	default:
		return nil, 0, fmt.Errorf("synccache: unsupported compression %s", requested)
	}
}

func decompress(data []byte, used Compression, size int) ([]byte, error) {
	switch used {
	case CompressionNone:
		if len(data) != size {
			return nil, fmt.Errorf("synccache: stored size %d, header says %d", len(data), size)
		}
		return data, nil
	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(data, destination)
		if err != nil {
			return nil, fmt.Errorf("synccache: lz4: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("synccache: lz4 produced %d bytes, header says %d", read, size)
		}
		return destination, nil
	case CompressionZstd:
		decoded, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("synccache: zstd: %w", err)
		}
		if len(decoded) != size {
			return nil, fmt.Errorf("synccache: zstd produced %d bytes, header says %d", len(decoded), size)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("synccache: unsupported compression %s", used)
	}
}
