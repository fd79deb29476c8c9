// Package csvfile streams weather observations out of a delimited text file.
package csvfile

import (
	"bufio"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/couchcryptid/weather-data-pipeline/internal/domain"
)

// maxLineBytes caps a single line; anything longer is treated as a read error.
const maxLineBytes = 1 << 20

// Reader yields parsed records from one file, exactly once. Rows that fail to
// parse are logged and skipped; only errors reading the file itself are
// reported by Err.
type Reader struct {
	path   string
	file   *os.File
	logger *slog.Logger

	used    atomic.Bool
	parsed  atomic.Int64
	skipped atomic.Int64
	err     error
}

// Open opens path for reading. A missing or unreadable file fails here, so
// callers can surface it synchronously.
func Open(path string, logger *slog.Logger) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat csv file: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("open csv file: %s is a directory", path)
	}
	return &Reader{path: path, file: f, logger: logger}, nil
}

// Path returns the file the reader was opened on.
func (r *Reader) Path() string { return r.path }

// Records returns the lazy sequence of parsed records. The first line is
// skipped as a header and blank lines are ignored. The file is closed when the
// sequence ends, the consumer stops early, or ctx is cancelled. Calling
// Records a second time yields nothing.
func (r *Reader) Records(ctx context.Context) iter.Seq[domain.Record] {
	return func(yield func(domain.Record) bool) {
		if !r.used.CompareAndSwap(false, true) {
			return
		}
		defer r.file.Close()

		scanner := bufio.NewScanner(r.file)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

		lineNo := 0
		for scanner.Scan() {
			lineNo++
			if lineNo == 1 {
				continue
			}
			if err := ctx.Err(); err != nil {
				r.err = err
				return
			}

			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}

			rec, err := domain.ParseCSVLine(line)
			if err != nil {
				r.skipped.Add(1)
				r.logger.Warn("skipping malformed row",
					"path", r.path, "line", lineNo, "row", line, "error", err)
				continue
			}

			r.parsed.Add(1)
			if !yield(rec) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			r.err = fmt.Errorf("read csv file %s at line %d: %w", r.path, lineNo+1, err)
		}
	}
}

// Err returns the error that ended the sequence early, if any. It is only
// meaningful once the sequence has finished.
func (r *Reader) Err() error { return r.err }

// Parsed is the number of records yielded so far.
func (r *Reader) Parsed() int64 { return r.parsed.Load() }

// Skipped is the number of malformed rows skipped so far.
func (r *Reader) Skipped() int64 { return r.skipped.Load() }

// Close releases the file if the sequence was never consumed.
func (r *Reader) Close() error {
	if r.used.CompareAndSwap(false, true) {
		return r.file.Close()
	}
	return nil
}
