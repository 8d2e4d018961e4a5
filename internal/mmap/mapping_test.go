package mmap

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.pages")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestOpenReadClose(t *testing.T) {
	m, err := Open(writeFile(t, []byte("Hello, Mmap!")))
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 12, m.Size())
	assert.Equal(t, []byte("Hello, Mmap!"), m.Bytes())

	buf := make([]byte, 5)
	n, err := m.ReadAt(buf, 7)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "Mmap!", string(buf))

	n, err = m.ReadAt(make([]byte, 10), 100)
	assert.Zero(t, n)
	assert.Equal(t, io.EOF, err)

	tail := make([]byte, 10)
	n, err = m.ReadAt(tail, 7)
	assert.Equal(t, 5, n)
	assert.Equal(t, io.EOF, err)

	_, err = m.ReadAt(buf, -1)
	assert.ErrorIs(t, err, ErrInvalidOffset)
}

func TestEmptyFile(t *testing.T) {
	m, err := Open(writeFile(t, nil))
	require.NoError(t, err)
	defer m.Close()

	assert.Zero(t, m.Size())
	n, err := m.Pages(512)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPages(t *testing.T) {
	data := append(bytes.Repeat([]byte{1}, 512), bytes.Repeat([]byte{2}, 512)...)
	m, err := Open(writeFile(t, data))
	require.NoError(t, err)
	defer m.Close()

	n, err := m.Pages(512)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	_, err = m.Pages(1000)
	assert.ErrorIs(t, err, ErrPageSize)

	img, err := m.Page(1, 512)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{2}, 512), img)

	_, err = m.Page(2, 512)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	require.NoError(t, m.Advise(AccessSequential))
}

func TestRegionAfterClose(t *testing.T) {
	m, err := Open(writeFile(t, make([]byte, 1024)))
	require.NoError(t, err)

	r, err := m.Region(100, 200)
	require.NoError(t, err)
	assert.Len(t, r.Bytes(), 200)
	require.NoError(t, r.Advise(AccessRandom))

	_, err = m.Region(-1, 0)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = m.Region(1000, 100)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Nil(t, m.Bytes())
	assert.Nil(t, r.Bytes())
	assert.ErrorIs(t, r.Advise(AccessDefault), ErrClosed)
	assert.ErrorIs(t, m.Advise(AccessRandom), ErrClosed)
	_, err = m.Region(0, 1)
	assert.ErrorIs(t, err, ErrClosed)
}
