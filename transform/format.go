package transform

import (
	"fmt"
	"strings"
)

// Format is an RDF serialization supported by marc2bibframe.
type Format string

const (
	// RDFXML is flattened RDF/XML, every resource has an identifier.
	RDFXML Format = "rdfxml"
	// RDFXMLRaw is verbose, cascaded RDF/XML.
	RDFXMLRaw Format = "rdfxml-raw"
	NTriples  Format = "ntriples"
	JSON      Format = "json"
)

// Formats lists all supported serializations.
var Formats = []Format{RDFXML, RDFXMLRaw, NTriples, JSON}

// ParseFormat returns the format for a name, or an error for unknown names.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.TrimSpace(s))
	for _, v := range Formats {
		if f == v {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format: %q (want one of: %s)", s, formatNames())
}

// Ext returns the file extension of output files, including the dot.
func (f Format) Ext() string {
	switch f {
	case NTriples:
		return ".nt"
	case JSON:
		return ".js"
	default:
		return ".rdf"
	}
}

// TextMethod reports whether the converter must serialize with the text
// output method, which is the case for all non-XML formats.
func (f Format) TextMethod() bool {
	return f == NTriples || f == JSON
}

func (f Format) String() string {
	return string(f)
}

func formatNames() string {
	var ss []string
	for _, f := range Formats {
		ss = append(ss, string(f))
	}
	return strings.Join(ss, ", ")
}
