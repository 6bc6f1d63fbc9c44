package config

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// InputMode selects how records are supplied.
type InputMode string

const (
	IDs     InputMode = "ids"     // comma separated ids
	IDFile  InputMode = "id-file" // newline delimited ids, # comments
	MARCXML InputMode = "marcxml" // MARCXML file or directory
	MARC    InputMode = "marc"    // binary MARC, not supported
)

// aliases maps accepted input prefixes to modes.
var aliases = map[string]InputMode{
	"ids":        IDs,
	"bibids":     IDs,
	"id-file":    IDFile,
	"bibid-file": IDFile,
	"marcxml":    MARCXML,
	"marc":       MARC,
}

var reListSep = regexp.MustCompile(`,\s*`)

// Input is a parsed input specification.
type Input struct {
	Mode InputMode
	// Value is the raw value after the mode prefix.
	Value string
	// IDs for id and id-file input, in the given order, duplicates kept.
	IDs []string
	// Path of a MARCXML file or directory.
	Path string
}

// IsIDs reports whether records are fetched from the catalog.
func (in Input) IsIDs() bool {
	return in.Mode == IDs || in.Mode == IDFile
}

func (in Input) String() string {
	if in.Mode == "" {
		return ""
	}
	return string(in.Mode) + ":" + in.Value
}

// ParseInput parses an input specification like "ids:1001,1002",
// "id-file:ids.txt" or "marcxml:dir". Files are read or checked here, so
// problems surface before any conversion starts.
func ParseInput(s string) (Input, error) {
	if strings.TrimSpace(s) == "" {
		return Input{}, ErrMissingInput
	}
	prefix, value, ok := strings.Cut(s, ":")
	mode, known := aliases[strings.TrimSpace(prefix)]
	if !ok || !known {
		return Input{}, fmt.Errorf("invalid input value: %q", s)
	}
	in := Input{Mode: mode, Value: value}
	switch mode {
	case IDs:
		in.IDs = SplitIDs(value)
	case IDFile:
		ids, err := ReadIDFile(value)
		if err != nil {
			return Input{}, err
		}
		in.IDs = ids
	case MARCXML:
		if _, err := os.Stat(value); err != nil {
			return Input{}, fmt.Errorf("marcxml input: %w", err)
		}
		in.Path = value
	case MARC:
		return Input{}, ErrUnsupportedInput
	}
	return in, nil
}

// SplitIDs splits a comma separated list; empty entries are dropped.
func SplitIDs(s string) (ids []string) {
	for _, v := range reListSep.Split(strings.TrimSpace(s), -1) {
		if v = strings.TrimSpace(v); v != "" {
			ids = append(ids, v)
		}
	}
	return ids
}

// ReadIDFile reads newline delimited ids, skipping blank lines and lines
// starting with #.
func ReadIDFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("id file: %w", err)
	}
	defer f.Close()
	var (
		ids     []string
		scanner = bufio.NewScanner(f)
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("id file: %w", err)
	}
	return ids, nil
}
