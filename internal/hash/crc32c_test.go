package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksumMatchesStreaming(t *testing.T) {
	a := []byte("page header")
	b := []byte("page body")

	h := NewCRC32C()
	h.Write(a)
	h.Write(b)

	assert.Equal(t, h.Sum32(), Checksum(a, b))
	assert.Equal(t, CRC32C(append(append([]byte{}, a...), b...)), Checksum(a, b))
	assert.NotEqual(t, Checksum(a, b), Checksum(b, a))
}
