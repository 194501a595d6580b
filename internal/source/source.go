// Package source reads pipe-delimited input files one line at a time.
package source

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/file-ingester/internal/ingesterrors"
	"github.com/file-ingester/internal/model"
)

const (
	readBufferSize = 64 * 1024
	// MaxLineSize bounds the bytes kept for one line. Longer lines are skipped and reported with
	// RawLine.TooLong set.
	MaxLineSize = 1024 * 1024
)

// LineSource yields the non-blank lines of a stream in order. It is read-once: after Next has
// returned io.EOF every further call returns io.EOF.
type LineSource struct {
	closer      io.Closer
	reader      *bufio.Reader
	buf         []byte
	maxLineSize int
	lineNumber  int
	done        bool
}

// Open opens the file at path. A missing or unreadable file is an InitializationError.
func Open(path string) (*LineSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ingesterrors.InitializationError{Component: "source", Err: errors.WithStack(err)}
	}
	s := NewLineSource(f)
	s.closer = f
	return s, nil
}

// NewLineSource reads lines from r. The caller keeps ownership of r.
func NewLineSource(r io.Reader) *LineSource {
	return &LineSource{reader: bufio.NewReaderSize(r, readBufferSize), maxLineSize: MaxLineSize}
}

// Next returns the next non-blank line. Blank lines are skipped but still advance the physical
// line number so that error messages point at the right place in the file. A line over the size
// limit is returned with TooLong set instead of failing the read.
func (s *LineSource) Next(ctx context.Context) (model.RawLine, error) {
	for {
		if s.done {
			return model.RawLine{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return model.RawLine{}, err
		}
		line, length, err := s.readLine()
		if err == io.EOF {
			s.done = true
			return model.RawLine{}, io.EOF
		}
		if err != nil {
			s.done = true
			return model.RawLine{}, errors.Wrapf(err, "reading line %d", s.lineNumber+1)
		}
		s.lineNumber++
		if length > s.maxLineSize {
			return model.RawLine{LineNumber: s.lineNumber, TooLong: true, Length: length}, nil
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return model.RawLine{Text: string(line), LineNumber: s.lineNumber}, nil
	}
}

// readLine reads up to the next "\n", "\r\n" or bare "\r". Bytes past maxLineSize are counted
// but not kept. It returns io.EOF only when no bytes were left.
func (s *LineSource) readLine() ([]byte, int, error) {
	s.buf = s.buf[:0]
	length := 0
	for {
		c, err := s.reader.ReadByte()
		if err != nil {
			if err == io.EOF && length > 0 {
				return s.buf, length, nil
			}
			return nil, length, err
		}
		switch c {
		case '\n':
			return s.buf, length, nil
		case '\r':
			if next, err := s.reader.Peek(1); err == nil && next[0] == '\n' {
				_, _ = s.reader.ReadByte()
			}
			return s.buf, length, nil
		}
		length++
		if length <= s.maxLineSize {
			s.buf = append(s.buf, c)
		}
	}
}

// LinesScanned is the number of physical lines consumed so far, blank ones included.
func (s *LineSource) LinesScanned() int {
	return s.lineNumber
}

func (s *LineSource) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

// CountRecords makes a separate full pass over the file and returns the number of non-blank lines,
// which is the number of lines the main pass will hand to the pipeline.
func CountRecords(ctx context.Context, path string) (int64, error) {
	s, err := Open(path)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	var total int64
	for {
		_, err := s.Next(ctx)
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		total++
	}
}
