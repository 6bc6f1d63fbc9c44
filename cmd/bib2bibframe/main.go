// bib2bibframe converts MARC records to BibFrame, using the marc2bibframe
// XQuery converter. Records are fetched from a library catalog by id or read
// from MARCXML files.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/miku/bfkit"
	"github.com/miku/bfkit/catalog"
	"github.com/miku/bfkit/config"
	"github.com/miku/bfkit/exdep"
	"github.com/miku/bfkit/marcxml"
	"github.com/miku/bfkit/pipeline"
	"github.com/miku/bfkit/runlog"
	"github.com/miku/bfkit/transform"
	log "github.com/sirupsen/logrus"
)

var docs = strings.TrimLeft(`
# bib2bibframe - convert MARC records to BibFrame

Fetches MARCXML records from a catalog, which serves records under
<catalog>/<id>.marcxml, and runs marc2bibframe on them. Output goes to a new
directory per run:

	data/2024-03-05-141516/marcxml/1001.xml
	data/2024-03-05-141516/bibframe-saxon-rdfxml/1001.rdf
	data/2024-03-05-141516/summary.json

## input

	-input ids:1001,1002          comma separated ids
	-input id-file:ids.txt        one id per line, # comments
	-input marcxml:records.xml    MARCXML file or directory of .xml files

## config

Settings are read from conf/conf.yml or $XDG_CONFIG_HOME/bfkit/conf.yml, if
present, and can be overridden by flags.

	catalog: https://catalog.example.edu/catalog
	baseuri: http://example.edu/resources/
	format: rdfxml
	batch: false

## external tools

$ sudo apt install default-jre libxml2-utils
$ git clone https://github.com/lcnetdev/marc2bibframe lib/marc2bibframe

## flags

`, "\n")

var defaults = config.Default()

var (
	input            = flag.String("input", "", "ids:..., id-file:..., marcxml:...")
	confFile         = flag.String("conf", "", "config file (default: conf/conf.yml)")
	baseURI          = flag.String("baseuri", "", "namespace for minting URIs")
	batch            = flag.Bool("batch", false, "convert all ids into a single file")
	catalogURL       = flag.String("catalog", "", "catalog base URL")
	dataDir          = flag.String("datadir", defaults.DataDir, "data directory")
	format           = flag.String("format", defaults.Format.String(), "output format: rdfxml, rdfxml-raw, ntriples, json")
	logDir           = flag.String("logdir", defaults.LogDir, "log directory")
	logging          = flag.String("logging", defaults.Logging.String(), "log destinations: off, file, stdout or both")
	marc2bibframe    = flag.String("marc2bibframe", defaults.Marc2Bibframe, "marc2bibframe checkout")
	saxonJar         = flag.String("saxon", defaults.SaxonJar, "saxon jar")
	prettyPrint      = flag.Bool("prettyprint", false, "pretty print MARCXML with xmllint")
	useBnodes        = flag.Bool("usebnodes", false, "use blank nodes")
	verbose          = flag.Bool("verbose", false, "verbose output, stdout only")
	xquery           = flag.String("xquery", defaults.XQuery, "saxon or path to zorba")
	numWorkers       = flag.Int("w", defaults.Workers, "parallel catalog requests")
	fetchTimeout     = flag.Duration("fetch-timeout", defaults.FetchTimeout, "catalog request timeout")
	transformTimeout = flag.Duration("transform-timeout", defaults.TransformTimeout, "converter timeout per file")
	maxRetries       = flag.Int("r", defaults.MaxRetries, "max retries for catalog requests")
	cacheTTL         = flag.Duration("cache-ttl", 0, "cache fetched records for a time, 0 disables the cache")
	timestamp        = flag.String("t", "", "run timestamp, e.g. to rerun into an existing directory")
	showVersion      = flag.Bool("version", false, "show version")
)

// flagLayer contains only flags given on the command line, so they do not
// shadow config file values with defaults.
func flagLayer() config.Layer {
	var l config.Layer
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			l.Input = input
		case "baseuri":
			l.BaseURI = baseURI
		case "batch":
			l.Batch = batch
		case "catalog":
			l.Catalog = catalogURL
		case "datadir":
			l.DataDir = dataDir
		case "format":
			l.Format = format
		case "logdir":
			l.LogDir = logDir
		case "logging":
			l.Logging = logging
		case "marc2bibframe":
			l.Marc2Bibframe = marc2bibframe
		case "saxon":
			l.SaxonJar = saxonJar
		case "prettyprint":
			l.PrettyPrint = prettyPrint
		case "usebnodes":
			l.UseBnodes = useBnodes
		case "verbose":
			l.Verbose = verbose
		case "xquery":
			l.XQuery = xquery
		case "w":
			l.Workers = numWorkers
		case "fetch-timeout":
			l.FetchTimeout = fetchTimeout
		case "transform-timeout":
			l.TransformTimeout = transformTimeout
		case "r":
			l.MaxRetries = maxRetries
		case "cache-ttl":
			l.CacheTTL = cacheTTL
		case "t":
			l.Timestamp = timestamp
		}
	})
	return l
}

// loadConfig resolves the run configuration; errors are configuration errors.
func loadConfig() (*config.Config, error) {
	filename, err := config.FindConfFile(*confFile)
	if err != nil {
		return nil, err
	}
	var layers []config.Layer
	if filename != "" {
		l, err := config.LoadFile(filename)
		if err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	c, err := config.Resolve(append(layers, flagLayer())...)
	if err != nil {
		return nil, err
	}
	c.ConfFile = filename
	return c, nil
}

// requiredDeps lists the external tools a configuration needs.
func requiredDeps(c *config.Config) []exdep.Dep {
	deps := []exdep.Dep{exdep.File(c.Marc2Bibframe, "marc2bibframe checkout")}
	if c.XQuery == "saxon" {
		deps = append(deps, exdep.Java, exdep.File(c.SaxonJar, "saxon HE jar"))
	} else {
		zorba := exdep.Zorba
		zorba.Name = c.XQuery
		deps = append(deps, zorba)
	}
	if c.PrettyPrint {
		deps = append(deps, exdep.XMLLint)
	}
	return deps
}

func main() {
	flag.Usage = func() {
		io.WriteString(os.Stderr, docs)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Println(bfkit.Version)
		os.Exit(0)
	}
	c, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bib2bibframe: %v\n", err)
		os.Exit(1)
	}
	log.SetLevel(log.WarnLevel)
	if c.Verbose && c.Logging.Stdout {
		log.SetLevel(log.DebugLevel)
	}
	if errs := exdep.Check(requiredDeps(c)); len(errs) > 0 {
		for _, err := range errs {
			log.Error(err)
		}
		log.Fatal("missing external dependencies")
	}
	engine, err := transform.NewEngine(c.XQuery, c.SaxonJar, c.Marc2Bibframe)
	if err != nil {
		log.Fatal(err)
	}
	opts := runlog.Options{
		Console:   c.Logging.Stdout,
		Verbose:   c.Verbose,
		StartTime: c.StartTime,
	}
	if c.Logging.File {
		opts.Dir = c.LogDir
	}
	logger, err := runlog.Open(opts)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Close()
	if c.ConfFile != "" {
		logger.Verbosef("config: %s", c.ConfFile)
	}
	p := &pipeline.Pipeline{
		Config: c,
		Transformer: &transform.Invoker{
			Engine: engine,
			Options: transform.Options{
				BaseURI:   c.BaseURI,
				Format:    c.Format,
				UseBnodes: c.UseBnodes,
			},
			Timeout: c.TransformTimeout,
		},
		Logger: logger,
	}
	if c.Input.IsIDs() {
		var fetcher catalog.Fetcher = catalog.NewHTTPFetcher(c.Catalog, c.MaxRetries, c.FetchTimeout)
		if c.CacheTTL > 0 {
			cache, err := catalog.NewCache(fetcher, c.Catalog, c.CacheTTL)
			if err != nil {
				log.Fatal(err)
			}
			fetcher = cache
		}
		p.Fetcher = fetcher
	}
	if c.PrettyPrint {
		p.Formatter = &marcxml.XMLLint{}
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	started := time.Now()
	if _, err := p.Run(ctx); err != nil {
		logger.Error(fmt.Sprintf("Conversion aborted: %v", err))
		logger.Close()
		log.Fatal(err)
	}
	log.Debugf("done after %s", time.Since(started))
}
