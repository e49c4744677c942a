package upload

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Default limits.
const (
	DefaultMaxBytes  int64 = 50 << 20
	DefaultMaxRows         = 200_000
	DefaultBatchSize       = 500
)

var (
	ErrUnsupportedType = errors.New("upload: unsupported file type")
	ErrFileTooLarge    = errors.New("upload: file too large")
	ErrTooManyRows     = errors.New("upload: too many rows")
	ErrEmptyFile       = errors.New("upload: file has no data rows")
)

// Limits bounds what a single upload may contain.
type Limits struct {
	MaxBytes  int64
	MaxRows   int
	BatchSize int
}

// DefaultLimits returns the standard limits.
func DefaultLimits() Limits {
	return Limits{MaxBytes: DefaultMaxBytes, MaxRows: DefaultMaxRows, BatchSize: DefaultBatchSize}
}

func (l Limits) withDefaults() Limits {
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxBytes
	}
	if l.MaxRows <= 0 {
		l.MaxRows = DefaultMaxRows
	}
	if l.BatchSize <= 0 {
		l.BatchSize = DefaultBatchSize
	}
	return l
}

// Format is the detected workbook format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
)

// DetectFormat checks the file name and the sniffed content type and
// returns the workbook format. Both must agree.
func DetectFormat(filename string, content []byte, limits Limits) (Format, error) {
	limits = limits.withDefaults()
	if int64(len(content)) > limits.MaxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(content), limits.MaxBytes)
	}
	if len(content) == 0 {
		return "", ErrEmptyFile
	}
	ext := strings.ToLower(filepath.Ext(filename))
	mt := mimetype.Detect(content)
	switch ext {
	case ".xlsx":
		if mt.Is("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet") || mt.Is("application/zip") {
			return FormatXLSX, nil
		}
	case ".xls":
		if mt.Is("application/vnd.ms-excel") || mt.Is("application/x-ole-storage") {
			return FormatXLS, nil
		}
	default:
		return "", fmt.Errorf("%w: extension %q", ErrUnsupportedType, ext)
	}
	return "", fmt.Errorf("%w: %s content in %s file", ErrUnsupportedType, mt.String(), ext)
}
