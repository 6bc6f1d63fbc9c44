// Package config resolves the settings of a conversion run from defaults, a
// YAML config file and command line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/miku/bfkit/transform"
)

// TimestampLayout names run directories and log files.
const TimestampLayout = "2006-01-02-150405"

var (
	ErrMissingInput     = errors.New("missing input value")
	ErrUnsupportedInput = errors.New("MARC input currently not supported")
)

// Config of a single run. It is not modified after Resolve returns.
type Config struct {
	// Input selects the records to convert.
	Input Input
	// BaseURI is the namespace for minting URIs in the converter.
	BaseURI string
	// Catalog is the base URL of the library catalog, records are fetched
	// from <Catalog>/<id>.marcxml.
	Catalog string
	// DataDir holds one subdirectory per run.
	DataDir string
	LogDir  string
	Logging Logging
	Format  transform.Format
	// Batch converts all ids into a single file; applies to id input only.
	Batch       bool
	PrettyPrint bool
	UseBnodes   bool
	Verbose     bool
	// XQuery is "saxon" or the path to a zorba executable.
	XQuery string
	// Marc2Bibframe is the location of the marc2bibframe checkout.
	Marc2Bibframe string
	// SaxonJar is the location of saxon9he.jar.
	SaxonJar         string
	FetchTimeout     time.Duration
	TransformTimeout time.Duration
	MaxRetries       int
	// Workers is the number of concurrent catalog requests.
	Workers int
	// CacheTTL enables the record cache, if positive.
	CacheTTL  time.Duration
	StartTime time.Time
	// ConfFile is the config file used, if any.
	ConfFile string
}

// Default returns the settings used when nothing else is specified.
func Default() Config {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return Config{
		DataDir:          filepath.Join(wd, "data"),
		LogDir:           filepath.Join(wd, "log"),
		Logging:          Logging{File: true, Stdout: true},
		Format:           transform.RDFXML,
		XQuery:           "saxon",
		Marc2Bibframe:    filepath.Join("lib", "marc2bibframe"),
		SaxonJar:         filepath.Join("lib", "saxon", "saxon9he.jar"),
		FetchTimeout:     30 * time.Second,
		TransformTimeout: transform.DefaultTimeout,
		MaxRetries:       3,
		Workers:          1,
		StartTime:        time.Now(),
	}
}

// Timestamp of the run, used for directory and log file names.
func (c *Config) Timestamp() string {
	return c.StartTime.Format(TimestampLayout)
}

// IDs returns the record ids to convert, if input is id based.
func (c *Config) IDs() []string {
	return c.Input.IDs
}

// Layer is a partial configuration; nil fields are left unchanged when
// applied. Field names follow the keys of the config file.
type Layer struct {
	Input            *string        `yaml:"input"`
	BaseURI          *string        `yaml:"baseuri"`
	Batch            *bool          `yaml:"batch"`
	Catalog          *string        `yaml:"catalog"`
	DataDir          *string        `yaml:"datadir"`
	Format           *string        `yaml:"format"`
	LogDir           *string        `yaml:"logdir"`
	Logging          *string        `yaml:"logging"`
	Marc2Bibframe    *string        `yaml:"marc2bibframe"`
	SaxonJar         *string        `yaml:"saxon"`
	PrettyPrint      *bool          `yaml:"prettyprint"`
	UseBnodes        *bool          `yaml:"usebnodes"`
	Verbose          *bool          `yaml:"verbose"`
	XQuery           *string        `yaml:"xquery"`
	FetchTimeout     *time.Duration `yaml:"fetch_timeout"`
	TransformTimeout *time.Duration `yaml:"transform_timeout"`
	MaxRetries       *int           `yaml:"retries"`
	Workers          *int           `yaml:"workers"`
	CacheTTL         *time.Duration `yaml:"cache_ttl"`
	// Timestamp overrides the run start time, e.g. to rerun into an existing
	// run directory; any format understood by dateparse.
	Timestamp *string `yaml:"-"`
}

// rawConfig carries the raw input value until all layers are merged, since only
// the winning value is read.
type rawConfig struct {
	Config
	inputSpec string
}

func (l *Layer) apply(c *rawConfig) error {
	if l.Input != nil {
		c.inputSpec = *l.Input
	}
	if l.BaseURI != nil {
		c.BaseURI = *l.BaseURI
	}
	if l.Batch != nil {
		c.Batch = *l.Batch
	}
	if l.Catalog != nil {
		c.Catalog = *l.Catalog
	}
	if l.DataDir != nil {
		c.DataDir = *l.DataDir
	}
	if l.Format != nil {
		f, err := transform.ParseFormat(*l.Format)
		if err != nil {
			return err
		}
		c.Format = f
	}
	if l.LogDir != nil {
		c.LogDir = *l.LogDir
	}
	if l.Logging != nil {
		lg, err := ParseLogging(*l.Logging)
		if err != nil {
			return err
		}
		c.Logging = lg
	}
	if l.Marc2Bibframe != nil {
		c.Marc2Bibframe = *l.Marc2Bibframe
	}
	if l.SaxonJar != nil {
		c.SaxonJar = *l.SaxonJar
	}
	if l.PrettyPrint != nil {
		c.PrettyPrint = *l.PrettyPrint
	}
	if l.UseBnodes != nil {
		c.UseBnodes = *l.UseBnodes
	}
	if l.Verbose != nil {
		c.Verbose = *l.Verbose
	}
	if l.XQuery != nil {
		c.XQuery = *l.XQuery
	}
	if l.FetchTimeout != nil {
		c.FetchTimeout = *l.FetchTimeout
	}
	if l.TransformTimeout != nil {
		c.TransformTimeout = *l.TransformTimeout
	}
	if l.MaxRetries != nil {
		c.MaxRetries = *l.MaxRetries
	}
	if l.Workers != nil {
		c.Workers = *l.Workers
	}
	if l.CacheTTL != nil {
		c.CacheTTL = *l.CacheTTL
	}
	if l.Timestamp != nil {
		t, err := dateparse.ParseStrict(*l.Timestamp)
		if err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
		c.StartTime = t
	}
	return nil
}

// Resolve merges layers over the defaults, lowest precedence first, reads the
// input and validates the result.
func Resolve(layers ...Layer) (*Config, error) {
	c := rawConfig{Config: Default()}
	for _, l := range layers {
		if err := l.apply(&c); err != nil {
			return nil, err
		}
	}
	input, err := ParseInput(c.inputSpec)
	if err != nil {
		return nil, err
	}
	c.Input = input
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c.Config, nil
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	switch c.Input.Mode {
	case "":
		return ErrMissingInput
	case MARC:
		return ErrUnsupportedInput
	case IDs, IDFile:
		if c.Catalog == "" {
			return errors.New("missing catalog URL, required for id input")
		}
	}
	if strings.TrimSpace(c.BaseURI) == "" {
		return errors.New("missing base URI")
	}
	if _, err := transform.ParseFormat(c.Format.String()); err != nil {
		return err
	}
	if c.DataDir == "" {
		return errors.New("missing data directory")
	}
	if c.Logging.File && c.LogDir == "" {
		return errors.New("file logging requires a log directory")
	}
	if c.XQuery == "" {
		return errors.New("missing xquery processor")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}

// Logging destinations; both may be off.
type Logging struct {
	File   bool
	Stdout bool
}

// ParseLogging parses a comma separated list of destinations: off, file,
// stdout or both.
func ParseLogging(s string) (Logging, error) {
	var lg Logging
	for _, v := range strings.Split(s, ",") {
		switch strings.TrimSpace(v) {
		case "", "off", "false":
		case "file":
			lg.File = true
		case "stdout":
			lg.Stdout = true
		case "both":
			lg.File, lg.Stdout = true, true
		default:
			return lg, fmt.Errorf("invalid logging option: %q (want off, file, stdout, both)", v)
		}
	}
	return lg, nil
}

func (lg Logging) String() string {
	var ss []string
	if lg.File {
		ss = append(ss, "file")
	}
	if lg.Stdout {
		ss = append(ss, "stdout")
	}
	if len(ss) == 0 {
		return "off"
	}
	return strings.Join(ss, ", ")
}
