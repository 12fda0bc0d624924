package parser

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"strings"
	"unicode/utf8"
)

// ProgressCallback is called periodically while reading to report progress.
// For gzip files bytesProcessed counts compressed bytes so it stays
// comparable with totalBytes.
type ProgressCallback func(linesProcessed int, bytesProcessed int64, totalBytes int64)

// ReadStats summarizes one ReadLines call.
type ReadStats struct {
	Lines      int   `json:"lines"`
	Dropped    int   `json:"dropped"`
	Bytes      int64 `json:"bytes"`
	Compressed bool  `json:"compressed"`
}

const (
	// maxLineBytes bounds a single log line.
	maxLineBytes = 1024 * 1024 // 1MB

	progressEvery = 100000
)

var gzipMagic = []byte{0x1f, 0x8b}

func isGzip(r *bufio.Reader) bool {
	magic, _ := r.Peek(len(gzipMagic))
	return bytes.Equal(magic, gzipMagic)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// ReadLines loads every line of a log file in order, transparently
// decompressing gzip input. Lines that are not valid UTF-8 are dropped and
// counted in ReadStats.Dropped. A trailing carriage return is stripped.
func ReadLines(filePath string, onProgress ProgressCallback) ([]string, ReadStats, error) {
	var stats ReadStats

	file, err := os.Open(filePath)
	if err != nil {
		return nil, stats, err
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return nil, stats, err
	}
	totalBytes := fileInfo.Size()

	counter := &countingReader{r: file}
	buffered := bufio.NewReaderSize(counter, 64*1024)

	var src io.Reader = buffered
	if isGzip(buffered) {
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			return nil, stats, err
		}
		defer gz.Close()
		src = gz
		stats.Compressed = true
	}

	lines, err := scanLines(src, &stats, func(n int) {
		if onProgress != nil {
			onProgress(n, counter.n, totalBytes)
		}
	})
	if err != nil {
		return nil, stats, err
	}

	// Final progress update
	if onProgress != nil {
		onProgress(stats.Lines, counter.n, totalBytes)
	}
	return lines, stats, nil
}

// ReadLinesFrom is ReadLines for an already-open plain text stream.
func ReadLinesFrom(r io.Reader) ([]string, ReadStats, error) {
	var stats ReadStats
	lines, err := scanLines(r, &stats, nil)
	return lines, stats, err
}

func scanLines(r io.Reader, stats *ReadStats, progress func(int)) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var lines []string
	seen := 0
	for scanner.Scan() {
		seen++
		raw := scanner.Bytes()
		stats.Bytes += int64(len(raw)) + 1 // +1 for newline

		if !utf8.Valid(raw) {
			stats.Dropped++
			continue
		}
		lines = append(lines, strings.TrimSuffix(string(raw), "\r"))

		if progress != nil && seen%progressEvery == 0 {
			progress(seen)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	stats.Lines = len(lines)
	return lines, nil
}

// Sample returns up to n leading lines of a log file, used for format
// detection before the full read.
func Sample(filePath string, n int) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	buffered := bufio.NewReader(file)
	var src io.Reader = buffered
	if isGzip(buffered) {
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		src = gz
	}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	out := make([]string, 0, n)
	for len(out) < n && scanner.Scan() {
		if utf8.Valid(scanner.Bytes()) {
			out = append(out, strings.TrimSuffix(scanner.Text(), "\r"))
		}
	}
	return out, scanner.Err()
}
