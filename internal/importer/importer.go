// Package importer loads crawl targets from a text file, one URL per line.
package importer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/gentlevisitor/internal/visitor"
)

const (
	// DefaultBatchSize is the number of targets written per BulkInsert call.
	DefaultBatchSize = 500
	// MaxLineLength bounds a single line; longer lines are reported and skipped.
	MaxLineLength = 1 << 20
)

// ErrLineTooLong marks a line longer than MaxLineLength.
var ErrLineTooLong = errors.New("line too long")

// Inserter is the part of visitor.TargetStore the importer needs.
type Inserter interface {
	BulkInsert(ctx context.Context, targets []visitor.Target) error
}

// LineError describes a line that could not be parsed as a URL.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// LoadFile imports the targets listed in path and returns how many were stored.
func LoadFile(ctx context.Context, path string, store Inserter) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Load(ctx, f, store)
}

// Load imports targets from r. Blank lines and lines starting with '#' are skipped.
// Malformed or oversized lines do not stop the import; they are joined into the
// returned error. Cancelling ctx stops the import at the next batch boundary.
func Load(ctx context.Context, r io.Reader, store Inserter) (int, error) {
	var (
		reader   = bufio.NewReader(r)
		batch    = make([]visitor.Target, 0, DefaultBatchSize)
		imported int
		lineErrs []error
		lineNo   int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("import stopped at line %d: %w", lineNo, err)
		}
		if err := store.BulkInsert(ctx, batch); err != nil {
			return fmt.Errorf("insert batch ending at line %d: %w", lineNo, err)
		}
		imported += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		raw, tooLong, err := readLine(reader, MaxLineLength)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return imported, fmt.Errorf("read targets: %w", err)
		}
		lineNo++
		if tooLong {
			lineErrs = append(lineErrs, &LineError{Line: lineNo, Text: truncate(raw), Err: ErrLineTooLong})
			continue
		}
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		target, err := visitor.ParseTarget(line)
		if err != nil {
			lineErrs = append(lineErrs, &LineError{Line: lineNo, Text: line, Err: err})
			continue
		}
		batch = append(batch, target)
		if len(batch) == DefaultBatchSize {
			if err := flush(); err != nil {
				return imported, err
			}
		}
	}
	if err := flush(); err != nil {
		return imported, err
	}
	return imported, errors.Join(lineErrs...)
}

// readLine returns the next line without its terminator. A line longer than
// limit is consumed to its end and reported with tooLong set; only its first
// limit bytes are returned. io.EOF is returned once r is exhausted.
func readLine(r *bufio.Reader, limit int) (string, bool, error) {
	var (
		buf     []byte
		tooLong bool
		read    int
	)
	for {
		chunk, err := r.ReadSlice('\n')
		read += len(chunk)
		if !tooLong {
			if len(buf)+len(chunk) > limit {
				tooLong = true
				buf = append(buf, chunk[:limit-len(buf)]...)
			} else {
				buf = append(buf, chunk...)
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if read == 0 {
				return "", false, io.EOF
			}
		case err != nil:
			return "", false, err
		}
		return strings.TrimRight(string(buf), "\r\n"), tooLong, nil
	}
}

func truncate(line string) string {
	const keep = 80
	if len(line) <= keep {
		return line
	}
	return line[:keep] + "..."
}
