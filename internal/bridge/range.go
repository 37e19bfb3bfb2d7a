package bridge

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMalformedRange rejects a Range header before any backend call.
	ErrMalformedRange = errors.New("bridge: malformed range header")
	// ErrUnsatisfiableRange means the range lies wholly outside the file.
	ErrUnsatisfiableRange = errors.New("bridge: unsatisfiable range")
)

// ByteRange is an inclusive byte span within a file of known size.
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Length() int64 { return r.End - r.Start + 1 }

// ParseRange interprets a single-span "bytes=" Range header against the
// file size. An empty header returns (nil, nil): the caller serves the
// whole file. Multi-span ranges are rejected as malformed. An end past
// the last byte is clamped, as RFC 7233 requires.
func ParseRange(header string, size int64) (*ByteRange, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformedRange, header)
	}
	if strings.Contains(spec, ",") {
		return nil, fmt.Errorf("%w: multiple spans not supported", ErrMalformedRange)
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformedRange, header)
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	// suffix form: bytes=-N requests the final N bytes
	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrMalformedRange, header)
		}
		if size == 0 {
			return nil, fmt.Errorf("%w: empty file", ErrUnsatisfiableRange)
		}
		start := size - n
		if start < 0 {
			start = 0
		}
		return &ByteRange{Start: start, End: size - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMalformedRange, header)
	}
	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return nil, fmt.Errorf("%w: %q", ErrMalformedRange, header)
		}
		if end > size-1 {
			end = size - 1
		}
	}
	if start >= size {
		return nil, fmt.Errorf("%w: start %d beyond size %d", ErrUnsatisfiableRange, start, size)
	}
	return &ByteRange{Start: start, End: end}, nil
}
