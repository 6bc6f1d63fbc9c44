// Package pipeline runs a conversion: records are fetched from a catalog by id
// or read from MARCXML files, then passed to the converter. Problems with
// single records are recorded in the result, only setup problems abort a run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/miku/bfkit/catalog"
	"github.com/miku/bfkit/config"
	"github.com/miku/bfkit/marcxml"
	"github.com/miku/bfkit/runlog"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// BatchName is used for the single MARCXML and output file in batch mode.
const BatchName = "batch"

// Transformer converts a MARCXML file into a BibFrame file.
type Transformer interface {
	// Name of the converter engine, e.g. "saxon".
	Name() string
	// Ext of output files, including the dot.
	Ext() string
	Transform(ctx context.Context, src, dst string) error
}

// Pipeline wires the collaborators of a run. Config, Transformer and, for id
// input, Fetcher are required.
type Pipeline struct {
	Config      *config.Config
	Fetcher     catalog.Fetcher
	Transformer Transformer
	// Formatter pretty prints fetched MARCXML, optional.
	Formatter marcxml.Formatter
	Logger    *runlog.Logger
}

// Run converts all input. The result is returned even if a setup error
// occurs midway.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	var (
		c      = p.Config
		layout = NewLayout(c, p.Transformer.Name())
		result = &Result{Mode: c.Input.Mode}
	)
	if p.Logger == nil {
		l, err := runlog.Open(runlog.Options{StartTime: c.StartTime})
		if err != nil {
			return nil, err
		}
		p.Logger = l
	}
	if c.Input.IsIDs() && p.Fetcher == nil {
		return nil, errors.New("id input requires a fetcher")
	}
	if err := layout.Create(); err != nil {
		return nil, err
	}
	p.Logger.Start()
	p.Logger.Verbosef("input: %s", c.Input)
	p.Logger.Verbosef("output: %s", layout.BibFrame)
	var (
		started = time.Now()
		err     error
	)
	switch c.Input.Mode {
	case config.IDs, config.IDFile:
		result.Batch = c.Batch
		result.Total = len(c.IDs())
		if c.Batch {
			err = p.runBatch(ctx, layout, result)
		} else {
			err = p.runIDs(ctx, layout, result)
		}
	case config.MARCXML:
		err = p.runMARCXML(ctx, layout, result)
	case config.MARC:
		err = config.ErrUnsupportedInput
	default:
		err = config.ErrMissingInput
	}
	if err != nil {
		return result, err
	}
	elapsed := time.Since(started)
	p.Logger.Summary(result.Tally(elapsed))
	summary := &Summary{
		Input:     c.Input.String(),
		Format:    c.Format.String(),
		Engine:    p.Transformer.Name(),
		BaseURI:   c.BaseURI,
		UseBnodes: c.UseBnodes,
		Started:   c.StartTime,
		Elapsed:   elapsed.Round(time.Millisecond).String(),
		Result:    result,
	}
	if err := writeSummary(layout.SummaryPath(), summary); err != nil {
		return result, fmt.Errorf("summary: %w", err)
	}
	return result, nil
}

// fetched is the outcome of a single catalog request.
type fetched struct {
	record string
	err    error
}

// fetchAll requests all ids, with at most Config.Workers requests in flight.
// Outcomes are returned in input order.
func (p *Pipeline) fetchAll(ctx context.Context, ids []string) ([]fetched, error) {
	var (
		results = make([]fetched, len(ids))
		g       errgroup.Group
	)
	g.SetLimit(max(p.Config.Workers, 1))
	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].err = err
				return nil
			}
			p.Logger.Verbosef("fetching %s", id)
			results[i].record, results[i].err = p.Fetcher.Fetch(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// notFound records an id without a usable record; transport errors count as
// misses as well.
func (p *Pipeline) notFound(r *Result, id string, err error) {
	r.NotFound = append(r.NotFound, id)
	p.Logger.Logf("No bib record found for id %s.", id)
	if !errors.Is(err, catalog.ErrNotFound) {
		log.Warnf("fetch %s: %v", id, err)
	}
	p.Logger.Verbosef("%s: %v", id, err)
}

func (p *Pipeline) failed(r *Result, name string, err error) {
	r.Failed = append(r.Failed, Failure{Name: name, Err: err.Error()})
	p.Logger.Error(fmt.Sprintf("Conversion of %s failed: %v", name, err))
}

// writeCollection wraps records into a collection and writes it to filename.
func (p *Pipeline) writeCollection(ctx context.Context, filename string, records []string) error {
	doc := marcxml.Wrap(records)
	if p.Config.PrettyPrint {
		var err error
		if doc, err = marcxml.Prettify(ctx, p.Formatter, doc); err != nil {
			log.Warnf("pretty print %s: %v", filename, err)
		}
	}
	if err := writeFileAtomic(filename, []byte(doc)); err != nil {
		return fmt.Errorf("write marcxml: %w", err)
	}
	return nil
}

// runIDs converts each record on its own. With a single worker, a record is
// converted before the next one is fetched; otherwise all records are
// fetched in parallel first.
func (p *Pipeline) runIDs(ctx context.Context, layout Layout, r *Result) error {
	ids := p.Config.IDs()
	if p.Config.Workers > 1 {
		results, err := p.fetchAll(ctx, ids)
		if err != nil {
			return err
		}
		for i, id := range ids {
			if err := p.convertRecord(ctx, layout, r, id, results[i]); err != nil {
				return err
			}
		}
		return nil
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.Logger.Verbosef("fetching %s", id)
		var f fetched
		f.record, f.err = p.Fetcher.Fetch(ctx, id)
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.convertRecord(ctx, layout, r, id, f); err != nil {
			return err
		}
	}
	return nil
}

// convertRecord writes and converts a single fetched record. Only setup
// errors and cancellation are returned.
func (p *Pipeline) convertRecord(ctx context.Context, layout Layout, r *Result, id string, f fetched) error {
	if f.err != nil {
		p.notFound(r, id, f.err)
		return nil
	}
	src := layout.MARCXMLPath(id)
	if err := p.writeCollection(ctx, src, []string{f.record}); err != nil {
		return err
	}
	dst := layout.BibFramePath(id, p.Transformer.Ext())
	r.Invocations++
	if err := p.Transformer.Transform(ctx, src, dst); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.failed(r, id, err)
		return nil
	}
	r.Converted = append(r.Converted, id)
	p.Logger.Verbosef("%s: %s", id, dst)
	return nil
}

// runBatch converts all found records with a single converter run.
func (p *Pipeline) runBatch(ctx context.Context, layout Layout, r *Result) error {
	ids := p.Config.IDs()
	results, err := p.fetchAll(ctx, ids)
	if err != nil {
		return err
	}
	var found, records []string
	for i, id := range ids {
		if results[i].err != nil {
			p.notFound(r, id, results[i].err)
			continue
		}
		found = append(found, id)
		records = append(records, results[i].record)
	}
	if len(found) == 0 {
		p.Logger.Log("No records found, nothing to convert.")
		return nil
	}
	src := layout.MARCXMLPath(BatchName)
	if err := p.writeCollection(ctx, src, records); err != nil {
		return err
	}
	dst := layout.BibFramePath(BatchName, p.Transformer.Ext())
	r.Invocations++
	if err := p.Transformer.Transform(ctx, src, dst); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.Logger.Error(fmt.Sprintf("Conversion of %s failed: %v", BatchName, err))
		for _, id := range found {
			r.Failed = append(r.Failed, Failure{Name: id, Err: err.Error()})
		}
		return nil
	}
	r.Converted = append(r.Converted, found...)
	p.Logger.Verbosef("%d records: %s", len(found), dst)
	return nil
}

// runMARCXML converts a MARCXML file or all MARCXML files in a directory.
func (p *Pipeline) runMARCXML(ctx context.Context, layout Layout, r *Result) error {
	files, err := MARCXMLFiles(p.Config.Input.Path)
	if err != nil {
		return err
	}
	ext := p.Transformer.Ext()
	for _, src := range files {
		if n, err := countRecords(src); err != nil {
			log.Warnf("count records %s: %v", src, err)
		} else {
			r.Records += n
			p.Logger.Verbosef("%s: %d records", src, n)
		}
		base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		dst := layout.BibFramePath(base, ext)
		r.Files++
		r.Invocations++
		if err := p.Transformer.Transform(ctx, src, dst); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.failed(r, src, err)
			continue
		}
		p.Logger.Verbosef("%s: %s", src, dst)
	}
	return nil
}

// MARCXMLFiles returns path itself, if it is a file, or the files directly
// in path ending with ".xml", sorted by name.
func MARCXMLFiles(path string) ([]string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".xml") {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func countRecords(filename string) (int, error) {
	f, err := os.Open(filename)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return marcxml.CountRecords(f)
}
