// Package core provides the core types and interfaces for the dataset ingestion helper.
package core

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// ErrUnsupportedFormat is returned when a format tag is not one of the registered formats.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Format is a dataset format tag. Tags are matched case-insensitively.
type Format string

const (
	// FormatCSV selects the delimited-text loader.
	FormatCSV Format = "csv"

	// FormatJSON selects the JSON loader.
	FormatJSON Format = "json"

	// FormatFeather selects the Feather (Arrow IPC file) loader.
	FormatFeather Format = "feather"

	// FormatParquet selects the Parquet loader.
	FormatParquet Format = "parquet"

	// FormatPickle selects the serialized-object (pickle) loader.
	FormatPickle Format = "df"

	// FormatHuggingFace selects the structured-dataset loader for directories
	// written by the datasets library's save_to_disk.
	FormatHuggingFace Format = "huggingface"
)

// Formats returns every built-in format tag in sorted order.
func Formats() []Format {
	formats := []Format{FormatCSV, FormatJSON, FormatFeather, FormatParquet, FormatPickle, FormatHuggingFace}
	sort.Slice(formats, func(i, j int) bool { return formats[i] < formats[j] })
	return formats
}

// NormalizeFormat lowercases a user supplied tag.
func NormalizeFormat(tag string) Format {
	return Format(strings.ToLower(tag))
}

// Options are caller-supplied loader options, forwarded verbatim to the loader
// that decodes them into its native configuration.
type Options map[string]any

// Loader loads a complete dataset into memory.
type Loader interface {
	// Load reads the whole dataset and returns it as a single record.
	// The caller owns the record and must release it.
	Load(ctx context.Context) (arrow.Record, error)
}

// Blob is a readable handle to a dataset file, local or remote.
type Blob interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer

	// Size returns the size of the blob in bytes.
	Size() int64
}

// Storage opens dataset files by path or URI.
type Storage interface {
	// Open opens the named resource for reading. compression is one of the
	// codec names understood by the storage package ("infer", "detect", "none", "gzip", ...).
	Open(ctx context.Context, path string, compression string) (Blob, error)
}

// LoaderConfig provides configuration for creating a loader.
type LoaderConfig struct {
	// Type is the normalized format tag of the loader.
	Type Format

	// Path is the path or URI of the dataset.
	Path string

	// Options are the loader specific options.
	Options Options

	// Storage resolves Path. Loaders fall back to local files when nil.
	Storage Storage
}

// DatasetWriter defines an interface for writing data to various destinations.
type DatasetWriter interface {
	// Write writes a record to the destination.
	Write(ctx context.Context, record arrow.Record) error

	// Close closes the writer and flushes any pending data.
	Close() error
}

// WriterConfig provides configuration for creating a writer.
type WriterConfig struct {
	// Type is the type of the writer.
	Type string

	// Path is the path to the output file. Writers that support it
	// write to Output when Path is empty.
	Path string

	// Output is an optional destination used instead of Path.
	Output io.Writer
}
