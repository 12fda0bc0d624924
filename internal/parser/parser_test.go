package parser

import (
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestFile creates a temporary file with given content
func createTestFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	filePath := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(filePath, content, 0644))
	return filePath
}

func createGzipFile(t *testing.T, content string) string {
	t.Helper()
	filePath := filepath.Join(t.TempDir(), "test.log.gz")
	f, err := os.Create(filePath)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return filePath
}

func TestReadLines(t *testing.T) {
	path := createTestFile(t, "test.log", []byte("a\r\nb\n\nc"))

	lines, stats, err := ReadLines(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "", "c"}, lines)
	assert.Equal(t, 4, stats.Lines)
	assert.Equal(t, 0, stats.Dropped)
	assert.False(t, stats.Compressed)
}

func TestReadLines_DropsInvalidUTF8(t *testing.T) {
	path := createTestFile(t, "test.log", []byte("ok\n\xff\xfe broken\nfine\n"))

	lines, stats, err := ReadLines(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok", "fine"}, lines)
	assert.Equal(t, 1, stats.Dropped)
	assert.Equal(t, 2, stats.Lines)
}

func TestReadLines_Gzip(t *testing.T) {
	path := createGzipFile(t, "first line\nsecond line\n")

	lines, stats, err := ReadLines(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"first line", "second line"}, lines)
	assert.True(t, stats.Compressed)
}

func TestReadLines_Progress(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 250000; i++ {
		fmt.Fprintf(&sb, "line %d\n", i)
	}
	path := createTestFile(t, "big.log", []byte(sb.String()))

	var calls []int
	var lastBytes, total int64
	lines, _, err := ReadLines(path, func(n int, bytesRead, totalBytes int64) {
		calls = append(calls, n)
		lastBytes, total = bytesRead, totalBytes
	})
	require.NoError(t, err)
	assert.Len(t, lines, 250000)
	assert.Equal(t, []int{100000, 200000, 250000}, calls)
	assert.Equal(t, total, lastBytes)
	assert.Equal(t, int64(sb.Len()), total)
}

func TestReadLines_MissingFile(t *testing.T) {
	_, _, err := ReadLines(filepath.Join(t.TempDir(), "nope.log"), nil)
	assert.Error(t, err)
}

func TestReadLines_LongLine(t *testing.T) {
	path := createTestFile(t, "long.log", []byte(strings.Repeat("x", maxLineBytes+10)+"\n"))
	_, _, err := ReadLines(path, nil)
	assert.Error(t, err)
}

func TestReadLinesFrom(t *testing.T) {
	lines, stats, err := ReadLinesFrom(strings.NewReader("x y\r\nz\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x y", "z"}, lines)
	assert.Equal(t, int64(7), stats.Bytes)
}

func TestSample(t *testing.T) {
	path := createTestFile(t, "test.log", []byte("1\n2\n3\n4\n"))
	lines, err := Sample(path, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, lines)

	gz := createGzipFile(t, "a\nb\n")
	lines, err = Sample(gz, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)
}
