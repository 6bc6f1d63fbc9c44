// Package exdep checks for external programs the converter shells out to.
package exdep

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Dep represents an external tool dependency
type Dep struct {
	// Name of an executable in PATH, or a path to an executable.
	Name  string
	Links []string
	Docs  string
	// File deps must exist, but need not be executable.
	File bool
}

var (
	Java = Dep{
		Name:  "java",
		Links: []string{"https://adoptium.net/"},
		Docs:  "required to run saxon",
	}
	Zorba = Dep{
		Name:  "zorba",
		Links: []string{"http://www.zorba.io/"},
		Docs:  "xquery processor, alternative to saxon",
	}
	XMLLint = Dep{
		Name:  "xmllint",
		Links: []string{"https://gitlab.gnome.org/GNOME/libxml2"},
		Docs:  "pretty printing, apt install libxml2-utils",
	}
)

// File is a required file or directory, like the saxon jar.
func File(path, docs string) Dep {
	return Dep{Name: path, Docs: docs, File: true}
}

func Check(deps []Dep) []error {
	var errors []error
	for _, dep := range deps {
		if err := check(dep); err != nil {
			errors = append(errors, err)
		}
	}
	return errors
}

func check(dep Dep) error {
	var err error
	if dep.File {
		_, err = os.Stat(dep.Name)
	} else {
		_, err = exec.LookPath(dep.Name)
	}
	if err != nil {
		return fmt.Errorf("%s: %w [%s, %s]",
			dep.Name, err, dep.Docs, strings.Join(dep.Links, ", "))
	}
	return nil
}
