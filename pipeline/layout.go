package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/miku/bfkit/config"
)

// Layout of a run directory, e.g.
//
//	data/2024-03-05-141516/marcxml/1001.xml
//	data/2024-03-05-141516/bibframe-saxon-rdfxml/1001.rdf
//	data/2024-03-05-141516/summary.json
type Layout struct {
	Root string
	// MARCXML is empty when records are not fetched.
	MARCXML  string
	BibFrame string
}

// NewLayout computes the directories for a run, nothing is created yet.
func NewLayout(c *config.Config, engine string) Layout {
	root := filepath.Join(c.DataDir, c.Timestamp())
	name := fmt.Sprintf("bibframe-%s-%s", engine, c.Format)
	if c.UseBnodes {
		name += "-bnodes"
	}
	l := Layout{
		Root:     root,
		BibFrame: filepath.Join(root, name),
	}
	if c.Input.IsIDs() {
		l.MARCXML = filepath.Join(root, "marcxml")
	}
	return l
}

// Create all directories.
func (l Layout) Create() error {
	for _, dir := range []string{l.Root, l.MARCXML, l.BibFrame} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("data directory: %w", err)
		}
	}
	return nil
}

// MARCXMLPath for a record id or "batch".
func (l Layout) MARCXMLPath(name string) string {
	return filepath.Join(l.MARCXML, safeName(name)+".xml")
}

// BibFramePath for a record id, "batch" or the basename of a MARCXML file.
func (l Layout) BibFramePath(name, ext string) string {
	return filepath.Join(l.BibFrame, safeName(name)+ext)
}

// SummaryPath is the location of the machine readable run summary.
func (l Layout) SummaryPath() string {
	return filepath.Join(l.Root, "summary.json")
}

var nameReplacer = strings.NewReplacer("/", "_", `\`, "_")

// safeName keeps ids from escaping the output directory.
func safeName(s string) string {
	s = nameReplacer.Replace(s)
	switch s {
	case "", ".", "..":
		return "_" + s
	}
	return s
}
