// Package bfkit converts bibliographic records to BibFrame RDF, using
// MARCXML from a library catalog and an external marc2bibframe converter.
package bfkit

const (
	// AppName is used for cache and config directories.
	AppName = "bfkit"
	// Version of the toolkit.
	Version = "0.1.0"
)
