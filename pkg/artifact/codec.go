package artifact

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// Codec names the compression applied to an external payload.
type Codec string

const (
	CodecNone Codec = "none"
	CodecZstd Codec = "zstd"
	CodecLZ4  Codec = "lz4"
)

// ParseCodec validates a configured codec name.
func ParseCodec(s string) (Codec, error) {
	switch c := Codec(s); c {
	case CodecNone, CodecZstd, CodecLZ4:
		return c, nil
	case "":
		return CodecZstd, nil
	default:
		return "", fmt.Errorf("unsupported artifact codec %q", s)
	}
}

// errIncompressible is returned by a compressor whose output would not be
// smaller than its input.
var errIncompressible = errors.New("data is incompressible")

// ErrCorrupt is returned when a payload does not match its recorded digest.
var ErrCorrupt = errors.New("artifact payload does not match its digest")

// zstd.Encoder and zstd.Decoder are safe for concurrent use, so one of each
// is shared.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("artifact: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("artifact: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode compresses data with codec. When compression does not pay off the
// data is returned as is with CodecNone.
func Encode(codec Codec, data []byte) ([]byte, Codec, error) {
	var (
		out []byte
		err error
	)
	switch codec {
	case CodecNone:
		return data, CodecNone, nil
	case CodecZstd:
		out, err = compressZstd(data)
	case CodecLZ4:
		out, err = compressLZ4(data)
	default:
		return nil, "", fmt.Errorf("unsupported artifact codec %q", codec)
	}
	if errors.Is(err, errIncompressible) {
		return data, CodecNone, nil
	}
	if err != nil {
		return nil, "", err
	}
	return out, codec, nil
}

// Decode reverses Encode. size is the original payload length.
func Decode(codec Codec, data []byte, size int64) ([]byte, error) {
	switch codec {
	case CodecNone, "":
		if int64(len(data)) != size {
			return nil, fmt.Errorf("payload is %d bytes, expected %d", len(data), size)
		}
		return data, nil
	case CodecZstd:
		return decompressZstd(data, size)
	case CodecLZ4:
		return decompressLZ4(data, size)
	default:
		return nil, fmt.Errorf("unsupported artifact codec %q", codec)
	}
}

// Digest returns the blake3 digest of data as "blake3:<hex>".
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return "blake3:" + hex.EncodeToString(sum[:])
}

// Verify checks data against a digest produced by Digest.
func Verify(data []byte, digest string) error {
	if Digest(data) != digest {
		return ErrCorrupt
	}
	return nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int64) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if int64(len(out)) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
	}
	return out, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

func decompressLZ4(compressed []byte, size int64) ([]byte, error) {
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(compressed, out)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if int64(n) != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
	}
	return out, nil
}
