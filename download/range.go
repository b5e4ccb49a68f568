// Package download serves stored files behind download tokens, with single byte-range support.
package download

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/moyoez/localvault/types"
)

// Range is an inclusive byte range.
type Range struct {
	Start int64
	End   int64
}

// Len returns the number of bytes in the range.
func (r Range) Len() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats the Content-Range header value for a file of size bytes.
func (r Range) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// ParseRange parses "bytes=<start>-<end>" where end is optional and defaults to size-1.
// The range is satisfiable iff 0 <= start <= end < size. Suffix ranges ("bytes=-500"),
// multiple ranges and anything else unparsable are reported as unsatisfiable.
func ParseRange(header string, size int64) (Range, error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return Range{}, types.ErrUnsatisfiableRange
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return Range{}, types.ErrUnsatisfiableRange
	}
	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil {
		return Range{}, types.ErrUnsatisfiableRange
	}
	end := size - 1
	if endStr = strings.TrimSpace(endStr); endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return Range{}, types.ErrUnsatisfiableRange
		}
	}
	if start < 0 || start > end || end >= size {
		return Range{}, types.ErrUnsatisfiableRange
	}
	return Range{Start: start, End: end}, nil
}
