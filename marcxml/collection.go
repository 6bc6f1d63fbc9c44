// Package marcxml assembles MARCXML collection documents from records
// retrieved one by one, as the converter expects a single well-formed
// document with the MARC21 namespace declared once.
package marcxml

import (
	"regexp"
	"strings"
)

const (
	// Namespace of MARCXML, http://www.loc.gov/standards/marcxml/.
	Namespace = "http://www.loc.gov/MARC21/slim"
	// Declaration is written once, at the top of a collection.
	Declaration = `<?xml version="1.0" encoding="UTF-8"?>`
)

var (
	collectionOpen  = `<collection xmlns="` + Namespace + `">`
	collectionClose = `</collection>`

	reDeclaration = regexp.MustCompile(`<\?xml[^>]*\?>`)
	reNamespace   = regexp.MustCompile(`\s+xmlns=(?:'` + regexp.QuoteMeta(Namespace) + `'|"` + regexp.QuoteMeta(Namespace) + `")`)
)

// Strip removes XML declarations and default MARC21 namespace declarations
// from a record fragment, so it can be embedded into a collection.
func Strip(fragment string) string {
	s := reDeclaration.ReplaceAllString(fragment, "")
	s = reNamespace.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Wrap concatenates record fragments, in order, into a single collection
// document. Wrapping fragments one by one and wrapping their already
// stripped concatenation yields the same document.
func Wrap(fragments []string) string {
	var sb strings.Builder
	sb.WriteString(Declaration)
	sb.WriteString("\n")
	sb.WriteString(collectionOpen)
	sb.WriteString("\n")
	for _, f := range fragments {
		sb.WriteString(Strip(f))
	}
	sb.WriteString("\n")
	sb.WriteString(collectionClose)
	sb.WriteString("\n")
	return sb.String()
}
