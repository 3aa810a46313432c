package upload

import (
	"regexp"
	"strconv"

	"github.com/stefando/scormhost/internal/apperr"
)

// contentRangeRe captures Content-Range header ranges, e.g.
// "bytes 0-19999999/69221159".
var contentRangeRe = regexp.MustCompile(`(\d{1,11})-(\d{1,11})/(\d{1,11})`)

// Range is the byte range one chunk covers.
type Range struct {
	Start int64
	End   int64
	Size  int64

	// Whole marks a request without a Content-Range header: the body is the
	// complete archive.
	Whole bool
}

// WholeRange is reported for uploads sent in a single request.
var WholeRange = Range{Start: 0, End: 1, Size: 2, Whole: true}

// Final reports whether this chunk completes the upload.
func (r Range) Final() bool {
	return r.Whole || r.End == r.Size-1
}

// ParseRange parses a Content-Range header value. An empty header means the
// request carries the whole archive.
func ParseRange(header string) (Range, error) {
	if header == "" {
		return WholeRange, nil
	}

	m := contentRangeRe.FindStringSubmatch(header)
	if m == nil {
		return Range{}, apperr.New(apperr.KindInvalidRange, "malformed Content-Range header: "+header)
	}

	// the regex bounds each group to 11 digits, so these cannot overflow
	start, _ := strconv.ParseInt(m[1], 10, 64)
	end, _ := strconv.ParseInt(m[2], 10, 64)
	size, _ := strconv.ParseInt(m[3], 10, 64)

	if start > end || end >= size {
		return Range{}, apperr.New(apperr.KindInvalidRange, "inconsistent Content-Range header: "+header)
	}
	return Range{Start: start, End: end, Size: size}, nil
}
