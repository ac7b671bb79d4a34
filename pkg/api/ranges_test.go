package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContentRange(t *testing.T) {
	cr, err := ParseContentRange("bytes 0-3/4")
	require.NoError(t, err)
	assert.Equal(t, ContentRange{From: 0, To: 3, Total: 4}, cr)

	cr, err = ParseContentRange("bytes 100-134696/134697")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), cr.From)
	assert.Equal(t, uint64(134696), cr.To)

	cr, err = ParseContentRange("bytes */8")
	require.NoError(t, err)
	assert.True(t, cr.IsStatus)
	assert.Equal(t, uint64(8), cr.Total)
}

func TestParseContentRangeRejections(t *testing.T) {
	values := []string{
		"",
		"bytes",
		"bytes 0-3",
		"bytes 0-3/four",
		"bytes a-3/4",
		"bytes 0-b/4",
		"bytes 3-0/4",
		"bytes 0-4/4",
		"bits 0-3/4",
		"bytes -1-3/4",
	}
	for _, value := range values {
		_, err := ParseContentRange(value)
		assert.Error(t, err, "value %q", value)
	}
}

func TestRangeHeader(t *testing.T) {
	assert.Equal(t, "", rangeHeader(0))
	assert.Equal(t, "bytes=0-0", rangeHeader(1))
	assert.Equal(t, "bytes=0-3", rangeHeader(4))
}
