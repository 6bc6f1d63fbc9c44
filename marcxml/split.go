package marcxml

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

const (
	defaultBufferSize   = 1 << 16
	defaultMaxTokenSize = 1 << 26 // hard limit for a single record
)

var (
	ErrInvalidSplitter     = errors.New("invalid splitter")
	errInvalidSplitterFunc = func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		return 0, nil, ErrInvalidSplitter
	}
)

// TagSplitter returns a bufio.SplitFunc that yields complete, outermost
// elements of a given name, e.g. "record", without parsing the XML. Data
// between elements is skipped. The maximum element size is governed by the
// scanner buffer, cf. bufio.Scanner.Buffer.
func TagSplitter(tagName string) bufio.SplitFunc {
	if len(tagName) == 0 {
		return errInvalidSplitterFunc
	}
	openTag := "<" + tagName
	return func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		start, end := elementBounds(data, tagName)
		switch {
		case start >= 0 && end >= 0:
			return end, data[start:end], nil
		case atEOF:
			return 0, nil, nil
		case start >= 0:
			// Element started, but is not complete yet.
			return start, nil, nil
		default:
			// Keep a tail that may hold the beginning of an opening tag.
			if n := len(data) - len(openTag); n > 0 {
				return n, nil, nil
			}
			return 0, nil, nil
		}
	}
}

// elementBounds returns the offsets of the first complete, outermost element
// called name in data. End is -1, if the element starts but is not closed
// within data; both are -1, if no element starts.
func elementBounds(data []byte, name string) (start, end int) {
	var (
		openTag  = []byte("<" + name)
		closeTag = []byte("</" + name + ">")
	)
	if start = indexOpenTag(data, openTag, 0); start < 0 {
		return -1, -1
	}
	gt := bytes.IndexByte(data[start:], '>')
	if gt < 0 {
		return start, -1
	}
	pos := start + gt + 1
	if data[pos-2] == '/' {
		return start, pos
	}
	for depth := 1; depth > 0; {
		c := bytes.Index(data[pos:], closeTag)
		if c < 0 {
			return start, -1
		}
		c += pos
		// A nested element of the same name opens before the next close.
		if o := indexOpenTag(data[:c], openTag, pos); o >= 0 {
			depth++
			pos = o + len(openTag)
			continue
		}
		depth--
		pos = c + len(closeTag)
	}
	return start, pos
}

// indexOpenTag finds the next opening tag at or after from; longer names
// sharing the prefix, like <records, are skipped.
func indexOpenTag(data, open []byte, from int) int {
	for from < len(data) {
		i := bytes.Index(data[from:], open)
		if i < 0 {
			return -1
		}
		i += from
		if j := i + len(open); j == len(data) || isTagTerminator(data[j]) {
			return i
		}
		from = i + 1
	}
	return -1
}

func isTagTerminator(ch byte) bool {
	switch ch {
	case '>', ' ', '/', '\n', '\t', '\r':
		return true
	}
	return false
}

// CountRecords returns the number of complete MARCXML record elements in r.
func CountRecords(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, defaultBufferSize), defaultMaxTokenSize)
	scanner.Split(TagSplitter("record"))
	var n int
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}
