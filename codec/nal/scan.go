/*
NAME
  scan.go

DESCRIPTION
  A shared Annex-B style start-code scanner (0x000001 prefixed units),
  used by both the H.262 and H.264 analyzers to walk a byte-stream-format
  elementary stream and locate unit boundaries without buffering the
  whole file.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

// Package nal scans byte-stream-format elementary streams (H.262 and
// H.264) for start-code-delimited units.
package nal

import (
	"bufio"
	"io"
)

// Unit is one start-code-delimited unit: its start-code byte (the byte
// immediately following 0x000001), the stream offset of the first byte
// after it (where Data begins), and its payload (everything after the
// start-code byte, up to but not including the next start code).
type Unit struct {
	Code   byte
	Offset int64
	Data   []byte
}

// Scanner walks an elementary stream for start-code units.
type Scanner struct {
	r      *bufio.Reader
	off    int64
	pend   *Unit
	zeros  int
	done   bool
}

// NewScanner returns a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 1<<16)}
}

// Next returns the next unit, or io.EOF once the stream is exhausted.
func (s *Scanner) Next() (Unit, error) {
	if s.done {
		return Unit{}, io.EOF
	}

	var cur *Unit
	if s.pend != nil {
		cur = s.pend
		s.pend = nil
	}

	zeros := 0
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			s.done = true
			if cur != nil {
				return *cur, nil
			}
			return Unit{}, io.EOF
		}
		s.off++

		switch {
		case b == 0x00:
			zeros++
			continue
		case b == 0x01 && zeros >= 2:
			zeros = 0
			code, err := s.r.ReadByte()
			if err != nil {
				s.done = true
				if cur != nil {
					return *cur, nil
				}
				return Unit{}, io.EOF
			}
			s.off++
			next := &Unit{Code: code, Offset: s.off}
			if cur != nil {
				s.pend = next
				return *cur, nil
			}
			cur = next
			continue
		default:
			if cur != nil {
				cur.Data = append(cur.Data, zerosBytes(zeros)...)
				cur.Data = append(cur.Data, b)
			}
			zeros = 0
		}
	}
}

func zerosBytes(n int) []byte {
	if n == 0 {
		return nil
	}
	b := make([]byte, n)
	return b
}
