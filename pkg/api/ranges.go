package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ContentRange is a parsed Content-Range request header. Two forms are
// accepted:
//
//	bytes <from>-<to>/<total>   a chunk write
//	bytes */<total>             a status query (IsStatus true)
type ContentRange struct {
	From  uint64
	To    uint64
	Total uint64

	// IsStatus marks the "bytes */<total>" form.
	IsStatus bool
}

var errMalformedContentRange = errors.New("malformed Content-Range header")

// ParseContentRange parses a Content-Range header value.
func ParseContentRange(value string) (ContentRange, error) {
	rest, found := strings.CutPrefix(value, "bytes ")
	if !found {
		return ContentRange{}, fmt.Errorf("%w: %q", errMalformedContentRange, value)
	}

	rangePart, totalPart, found := strings.Cut(rest, "/")
	if !found {
		return ContentRange{}, fmt.Errorf("%w: %q", errMalformedContentRange, value)
	}

	total, err := strconv.ParseUint(totalPart, 10, 64)
	if err != nil {
		return ContentRange{}, fmt.Errorf("%w: total %q", errMalformedContentRange, totalPart)
	}

	if rangePart == "*" {
		return ContentRange{Total: total, IsStatus: true}, nil
	}

	fromPart, toPart, found := strings.Cut(rangePart, "-")
	if !found {
		return ContentRange{}, fmt.Errorf("%w: %q", errMalformedContentRange, value)
	}
	from, err := strconv.ParseUint(fromPart, 10, 64)
	if err != nil {
		return ContentRange{}, fmt.Errorf("%w: from %q", errMalformedContentRange, fromPart)
	}
	to, err := strconv.ParseUint(toPart, 10, 64)
	if err != nil {
		return ContentRange{}, fmt.Errorf("%w: to %q", errMalformedContentRange, toPart)
	}

	if to < from || to >= total {
		return ContentRange{}, fmt.Errorf("%w: range %d-%d/%d", errMalformedContentRange, from, to, total)
	}

	return ContentRange{From: from, To: to, Total: total}, nil
}

// rangeHeader formats the Range response header advertising the accepted
// prefix. Empty when no bytes are staged yet; the header is omitted then.
func rangeHeader(bytesReceived uint64) string {
	if bytesReceived == 0 {
		return ""
	}
	return fmt.Sprintf("bytes=0-%d", bytesReceived-1)
}
