package exporter

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// RawRecord is one line of the raw book ticker stream. Prices stay as
// the exchange's decimal strings so the artifact is lossless.
type RawRecord struct {
	TS     string `json:"ts"`
	Symbol string `json:"symbol"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
}

// RawBookTickerName returns the artifact file name for the configured
// compression mode.
func RawBookTickerName(gzipEnabled bool) string {
	if gzipEnabled {
		return "raw_bookticker.jsonl.gz"
	}
	return "raw_bookticker.jsonl"
}

// RawWriter appends raw book ticker records as JSON lines, optionally
// gzip-compressed. Append mode keeps earlier ticks on resume.
type RawWriter struct {
	file *os.File
	gz   *gzip.Writer
	buf  *bufio.Writer
}

// NewRawWriter opens (creating if needed) the raw stream for append.
func NewRawWriter(runDir string, gzipEnabled bool) (*RawWriter, error) {
	path := filepath.Join(runDir, RawBookTickerName(gzipEnabled))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open raw stream: %w", err)
	}

	w := &RawWriter{file: file}
	if gzipEnabled {
		w.gz = gzip.NewWriter(file)
		w.buf = bufio.NewWriter(w.gz)
	} else {
		w.buf = bufio.NewWriter(file)
	}
	return w, nil
}

// Write appends one record as a JSON line.
func (w *RawWriter) Write(record RawRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal raw record: %w", err)
	}
	if _, err := w.buf.Write(data); err != nil {
		return fmt.Errorf("write raw record: %w", err)
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("write raw record: %w", err)
	}
	return nil
}

// Flush pushes buffered records to disk so a timed-out stage still
// leaves its completed ticks behind.
func (w *RawWriter) Flush() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush raw stream: %w", err)
	}
	if w.gz != nil {
		if err := w.gz.Flush(); err != nil {
			return fmt.Errorf("flush raw stream: %w", err)
		}
	}
	return nil
}

// Close flushes and closes the stream. Closing twice is a no-op.
func (w *RawWriter) Close() error {
	if w.file == nil {
		return nil
	}
	defer func() { w.file = nil }()
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("flush raw stream: %w", err)
	}
	if w.gz != nil {
		if err := w.gz.Close(); err != nil {
			w.file.Close()
			return fmt.Errorf("close gzip stream: %w", err)
		}
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close raw stream: %w", err)
	}
	return nil
}

// ReadRawRecords streams the raw artifact back, calling fn per record.
// Unparseable lines are skipped and counted so one corrupt line never
// discards a whole sampling window.
func ReadRawRecords(path string, fn func(RawRecord)) (skipped int, err error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open raw stream: %w", err)
	}
	defer file.Close()

	var reader io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return 0, fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record RawRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil || record.Symbol == "" {
			skipped++
			continue
		}
		fn(record)
	}
	if err := scanner.Err(); err != nil {
		return skipped, fmt.Errorf("scan raw stream: %w", err)
	}
	return skipped, nil
}
