// Package contentrange parses the byte-range descriptors sent with resumable
// upload requests.
package contentrange

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var pattern = regexp.MustCompile(`^bytes\s+(\d+)-(\d+)/(\d+)$`)

var ErrMalformed = errors.New("malformed Content-Range")

// Range is an inclusive byte range within a file of Total bytes.
type Range struct {
	Start int64
	End   int64
	Total int64
}

// Len is the number of bytes the range covers.
func (r Range) Len() int64 {
	return r.End - r.Start + 1
}

// Parse reads a "bytes <start>-<end>/<total>" header value.
func Parse(header string) (Range, error) {
	m := pattern.FindStringSubmatch(header)
	if m == nil {
		return Range{}, fmt.Errorf("%w: %q", ErrMalformed, header)
	}

	var r Range
	var err error
	if r.Start, err = strconv.ParseInt(m[1], 10, 64); err != nil {
		return Range{}, fmt.Errorf("%w: start: %v", ErrMalformed, err)
	}
	if r.End, err = strconv.ParseInt(m[2], 10, 64); err != nil {
		return Range{}, fmt.Errorf("%w: end: %v", ErrMalformed, err)
	}
	if r.Total, err = strconv.ParseInt(m[3], 10, 64); err != nil {
		return Range{}, fmt.Errorf("%w: total: %v", ErrMalformed, err)
	}

	if r.End < r.Start {
		return Range{}, fmt.Errorf("%w: end %d before start %d", ErrMalformed, r.End, r.Start)
	}
	if r.End >= r.Total {
		return Range{}, fmt.Errorf("%w: end %d beyond total %d", ErrMalformed, r.End, r.Total)
	}
	return r, nil
}

// Format renders a range in the header syntax understood by Parse.
func Format(start, end, total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", start, end, total)
}
