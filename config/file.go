package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/miku/bfkit"
	"gopkg.in/yaml.v3"
)

// DefaultConfFile is looked up relative to the working directory.
var DefaultConfFile = filepath.Join("conf", "conf.yml")

// FindConfFile returns the config file to use. An explicitly given file must
// exist. Otherwise conf/conf.yml and $XDG_CONFIG_HOME/bfkit/conf.yml are
// tried, in that order; no file at all is fine.
func FindConfFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicit, nil
	}
	if _, err := os.Stat(DefaultConfFile); err == nil {
		return DefaultConfFile, nil
	}
	if p, err := xdg.SearchConfigFile(filepath.Join(bfkit.AppName, "conf.yml")); err == nil {
		return p, nil
	}
	return "", nil
}

// LoadFile reads a YAML config file into a layer. Unknown keys are errors.
func LoadFile(filename string) (Layer, error) {
	f, err := os.Open(filename)
	if err != nil {
		return Layer{}, err
	}
	defer f.Close()
	l, err := decodeLayer(f)
	if err != nil {
		return Layer{}, fmt.Errorf("config file %s: %w", filename, err)
	}
	return l, nil
}

func decodeLayer(r io.Reader) (Layer, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return Layer{}, err
	}
	var l Layer
	if len(bytes.TrimSpace(b)) == 0 {
		return l, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&l); err != nil {
		return Layer{}, err
	}
	return l, nil
}
