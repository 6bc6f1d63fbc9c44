package marcxml

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// MaxPrettyBytes is the largest document we pass to a formatter; xmllint
// keeps the whole tree in memory and larger batches are written as is.
const MaxPrettyBytes = 1 << 20

// Formatter pretty prints an XML document.
type Formatter interface {
	Format(ctx context.Context, doc []byte) ([]byte, error)
}

// XMLLint formats documents with "xmllint --format -".
type XMLLint struct {
	Path string // defaults to "xmllint"
}

func (x *XMLLint) Format(ctx context.Context, doc []byte) ([]byte, error) {
	path := x.Path
	if path == "" {
		path = "xmllint"
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "--format", "-")
	cmd.Stdin = bytes.NewReader(doc)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("xmllint: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Prettify formats doc, if a formatter is given and the document is small
// enough. On formatter errors the unformatted document is returned along with
// the error.
func Prettify(ctx context.Context, f Formatter, doc string) (string, error) {
	if f == nil || len(doc) > MaxPrettyBytes {
		return doc, nil
	}
	b, err := f.Format(ctx, []byte(doc))
	if err != nil {
		return doc, err
	}
	return string(b), nil
}
