// Package transform runs the external marc2bibframe converter on MARCXML
// files. Two XQuery processors are supported, Saxon (via java) and Zorba,
// which differ only in how arguments are passed.
package transform

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Options are passed to the converter on every invocation.
type Options struct {
	BaseURI   string
	Format    Format
	UseBnodes bool
}

// Engine builds the command line for a single conversion.
type Engine interface {
	// Name is used in output directory names, e.g. "saxon".
	Name() string
	// Command returns a command that writes RDF for the MARCXML file at src
	// to its stdout.
	Command(ctx context.Context, src string, opts Options) *exec.Cmd
}

// Saxon runs marc2bibframe with the Saxon HE query processor.
type Saxon struct {
	Java   string // defaults to "java"
	Jar    string // path to saxon9he.jar
	XQuery string // path to xbin/saxon.xqy
}

// NewSaxon returns a Saxon engine for a marc2bibframe checkout.
func NewSaxon(jar, marc2bibframe string) *Saxon {
	return &Saxon{
		Java:   "java",
		Jar:    jar,
		XQuery: filepath.Join(marc2bibframe, "xbin", "saxon.xqy"),
	}
}

func (s *Saxon) Name() string { return "saxon" }

// Command, e.g. java -cp saxon9he.jar net.sf.saxon.Query !method=text
// xbin/saxon.xqy marcxmluri=a.xml baseuri=http://x/ serialization=ntriples
// usebnodes=false
func (s *Saxon) Command(ctx context.Context, src string, opts Options) *exec.Cmd {
	java := s.Java
	if java == "" {
		java = "java"
	}
	return exec.CommandContext(ctx, java, s.Args(src, opts)...)
}

// Args returns the arguments passed to java.
func (s *Saxon) Args(src string, opts Options) []string {
	args := []string{"-cp", s.Jar, "net.sf.saxon.Query"}
	if opts.Format.TextMethod() {
		args = append(args, "!method=text")
	}
	return append(args,
		s.XQuery,
		"marcxmluri="+src,
		"baseuri="+opts.BaseURI,
		"serialization="+opts.Format.String(),
		"usebnodes="+strconv.FormatBool(opts.UseBnodes),
	)
}

// Zorba runs marc2bibframe with a Zorba binary.
type Zorba struct {
	Path   string // zorba executable
	XQuery string // path to xbin/zorba.xqy
}

// NewZorba returns a Zorba engine for a marc2bibframe checkout.
func NewZorba(path, marc2bibframe string) *Zorba {
	return &Zorba{
		Path:   path,
		XQuery: filepath.Join(marc2bibframe, "xbin", "zorba.xqy"),
	}
}

func (z *Zorba) Name() string { return "zorba" }

func (z *Zorba) Command(ctx context.Context, src string, opts Options) *exec.Cmd {
	return exec.CommandContext(ctx, z.Path, z.Args(src, opts)...)
}

// Args returns the arguments passed to zorba; external variables are bound
// with -e name:=value.
func (z *Zorba) Args(src string, opts Options) []string {
	args := []string{"-i", "-f", "-q", z.XQuery}
	if opts.Format.TextMethod() {
		args = append(args, "--serialize-text")
	}
	return append(args,
		"-e", "marcxmluri:="+src,
		"-e", "baseuri:="+opts.BaseURI,
		"-e", "serialization:="+opts.Format.String(),
		"-e", "usebnodes:="+strconv.FormatBool(opts.UseBnodes),
	)
}

// NewEngine returns Saxon for the selector "saxon" (or empty), otherwise the
// selector is taken as the path to a zorba executable.
func NewEngine(selector, saxonJar, marc2bibframe string) (Engine, error) {
	switch selector {
	case "", "saxon":
		return NewSaxon(saxonJar, marc2bibframe), nil
	default:
		if filepath.Base(selector) == "." {
			return nil, fmt.Errorf("invalid xquery processor: %q", selector)
		}
		return NewZorba(selector, marc2bibframe), nil
	}
}
