package storage

import (
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Compression represents the compression format of a dataset file.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionBzip2
	CompressionXZ
	CompressionZstd
	CompressionLZ4
)

// String returns the string representation of Compression.
func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionBzip2:
		return "bz2"
	case CompressionXZ:
		return "xz"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "none"
	}
}

// Magic byte signatures for compression detection
var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte{0x42, 0x5a, 0x68}
	xzMagic    = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}
	zstdMagic  = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic   = []byte{0x04, 0x22, 0x4d, 0x18}
)

// compressionExtensions maps file extensions to their Compression.
var compressionExtensions = map[string]Compression{
	".gz":   CompressionGzip,
	".gzip": CompressionGzip,
	".bz2":  CompressionBzip2,
	".xz":   CompressionXZ,
	".zst":  CompressionZstd,
	".zstd": CompressionZstd,
	".lz4":  CompressionLZ4,
}

// Detection says how the codec is chosen when no codec is named.
type Detection int

const (
	// DetectOff keeps the payload as stored.
	DetectOff Detection = iota
	// DetectExtension looks at the file extension only, like pandas'
	// compression="infer".
	DetectExtension
	// DetectContent looks at the extension, then the payload's magic bytes.
	DetectContent
)

// ParseCompression maps a codec name to a Compression. "infer" and the empty
// string detect by extension, "detect" also sniffs the magic bytes.
func ParseCompression(name string) (Compression, Detection, error) {
	switch strings.ToLower(name) {
	case "", "infer":
		return CompressionNone, DetectExtension, nil
	case "detect":
		return CompressionNone, DetectContent, nil
	case "none":
		return CompressionNone, DetectOff, nil
	case "gzip", "gz":
		return CompressionGzip, DetectOff, nil
	case "bz2", "bzip2":
		return CompressionBzip2, DetectOff, nil
	case "xz":
		return CompressionXZ, DetectOff, nil
	case "zstd", "zst":
		return CompressionZstd, DetectOff, nil
	case "lz4":
		return CompressionLZ4, DetectOff, nil
	default:
		return CompressionNone, DetectOff, fmt.Errorf("unsupported compression: %s", name)
	}
}

// DetectCompressionByExtension looks at the last extension of name.
func DetectCompressionByExtension(name string) Compression {
	ext := strings.ToLower(path.Ext(name))
	if c, ok := compressionExtensions[ext]; ok {
		return c
	}
	return CompressionNone
}

// DetectCompressionByMagic checks the leading bytes of a payload.
func DetectCompressionByMagic(header []byte) Compression {
	switch {
	case bytes.HasPrefix(header, gzipMagic):
		return CompressionGzip
	case bytes.HasPrefix(header, bzip2Magic):
		return CompressionBzip2
	case bytes.HasPrefix(header, xzMagic):
		return CompressionXZ
	case bytes.HasPrefix(header, zstdMagic):
		return CompressionZstd
	case bytes.HasPrefix(header, lz4Magic):
		return CompressionLZ4
	}
	return CompressionNone
}

// NewDecompressingReader wraps r with the decoder for c.
func NewDecompressingReader(r io.Reader, c Compression) (io.ReadCloser, error) {
	switch c {
	case CompressionNone:
		return io.NopCloser(r), nil
	case CompressionGzip:
		gzReader, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gzReader, nil
	case CompressionBzip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	case CompressionXZ:
		xzReader, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		return io.NopCloser(xzReader), nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unsupported compression type: %v", c)
	}
}

// Decompress reads the whole of r through the decoder for c.
func Decompress(r io.Reader, c Compression) ([]byte, error) {
	rc, err := NewDecompressingReader(r, c)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("decompression failed (%s): %w", c, err)
	}
	return buf.Bytes(), nil
}
