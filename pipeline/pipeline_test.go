package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/miku/bfkit/catalog"
	"github.com/miku/bfkit/config"
	"github.com/miku/bfkit/runlog"
)

const testRecord = `<?xml version="1.0" encoding="UTF-8"?>
<record xmlns="http://www.loc.gov/MARC21/slim"><controlfield tag="001">%s</controlfield></record>`

// fakeFetcher serves records from a map.
type fakeFetcher struct {
	mu      sync.Mutex
	records map[string]string
	delay   map[string]time.Duration
	calls   []string
}

func newFakeFetcher(ids ...string) *fakeFetcher {
	f := &fakeFetcher{records: make(map[string]string)}
	for _, id := range ids {
		f.records[id] = fmt.Sprintf(testRecord, id)
	}
	return f
}

func (f *fakeFetcher) Fetch(ctx context.Context, id string) (string, error) {
	if d, ok := f.delay[id]; ok {
		time.Sleep(d)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if rec, ok := f.records[id]; ok {
		return rec, nil
	}
	return "", catalog.ErrNotFound
}

// fakeTransformer writes a fixed document, or fails for selected inputs.
type fakeTransformer struct {
	ext   string
	fail  map[string]bool // by basename of src
	calls []string
}

func (t *fakeTransformer) Name() string { return "fake" }

func (t *fakeTransformer) Ext() string {
	if t.ext == "" {
		return ".rdf"
	}
	return t.ext
}

func (t *fakeTransformer) Transform(ctx context.Context, src, dst string) error {
	t.calls = append(t.calls, filepath.Base(src))
	if t.fail[filepath.Base(src)] {
		return errors.New("exit status 2")
	}
	return os.WriteFile(dst, []byte("<rdf:RDF/>"), 0644)
}

func testConfig(t *testing.T, input string, batch bool) *config.Config {
	t.Helper()
	c, err := config.Resolve(config.Layer{
		Input:     &input,
		Batch:     &batch,
		BaseURI:   strp("http://example.org/"),
		Catalog:   strp("https://catalog.example.edu/catalog"),
		DataDir:   strp(t.TempDir()),
		Logging:   strp("off"),
		Timestamp: strp("2024-03-05 14:15:16"),
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func strp(s string) *string { return &s }

func testLogger(t *testing.T, buf *bytes.Buffer) *runlog.Logger {
	t.Helper()
	l, err := runlog.Open(runlog.Options{Console: true, Stdout: buf})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func exists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

func TestRunEndToEnd(t *testing.T) {
	var (
		buf         bytes.Buffer
		c           = testConfig(t, "ids:1001,1002", false)
		fetcher     = newFakeFetcher("1001")
		transformer = &fakeTransformer{}
		p           = &Pipeline{
			Config:      c,
			Fetcher:     fetcher,
			Transformer: transformer,
			Logger:      testLogger(t, &buf),
		}
	)
	r, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(fetcher.calls) != 2 {
		t.Errorf("got %d fetch calls, want 2", len(fetcher.calls))
	}
	if diff := cmp.Diff([]string{"1001.xml"}, transformer.calls); diff != "" {
		t.Errorf("invocations mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"1001"}, r.Converted); diff != "" {
		t.Errorf("converted mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"1002"}, r.NotFound); diff != "" {
		t.Errorf("not found mismatch (-want +got):\n%s", diff)
	}
	for _, s := range []string{
		"2 bib ids processed.",
		"1 record found and converted to bibframe.",
		"1 id without a bib record: 1002.",
		"Batch mode: off.",
		"Run time: 00:00:0",
	} {
		if !strings.Contains(buf.String(), s) {
			t.Errorf("log does not contain %q:\n%s", s, buf.String())
		}
	}
	layout := NewLayout(c, "fake")
	if want := filepath.Join(c.DataDir, "2024-03-05-141516", "bibframe-fake-rdfxml"); layout.BibFrame != want {
		t.Errorf("got %v, want %v", layout.BibFrame, want)
	}
	b, err := os.ReadFile(layout.MARCXMLPath("1001"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `<collection xmlns="http://www.loc.gov/MARC21/slim">`) {
		t.Errorf("record not wrapped: %s", b)
	}
	if strings.Count(string(b), "<?xml") != 1 {
		t.Errorf("expected a single declaration: %s", b)
	}
	if exists(layout.MARCXMLPath("1002")) {
		t.Errorf("no marcxml must be written for a missing record")
	}
	if !exists(layout.BibFramePath("1001", ".rdf")) {
		t.Errorf("missing output file")
	}
	s, err := ReadSummary(layout.SummaryPath())
	if err != nil {
		t.Fatal(err)
	}
	if s.RunID == "" || s.Engine != "fake" || s.Input != "ids:1001,1002" {
		t.Errorf("unexpected summary: %+v", s)
	}
	if diff := cmp.Diff(r, s.Result); diff != "" {
		t.Errorf("summary result mismatch (-want +got):\n%s", diff)
	}
}

func TestRunNotFound(t *testing.T) {
	c := testConfig(t, "ids:99999999", false)
	transformer := &fakeTransformer{}
	p := &Pipeline{Config: c, Fetcher: newFakeFetcher(), Transformer: transformer}
	r, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"99999999"}, r.NotFound); diff != "" {
		t.Errorf("not found mismatch (-want +got):\n%s", diff)
	}
	if len(r.Converted) != 0 || len(transformer.calls) != 0 {
		t.Errorf("got converted %v, calls %v", r.Converted, transformer.calls)
	}
	if exists(NewLayout(c, "fake").MARCXMLPath("99999999")) {
		t.Errorf("no marcxml must be written for a missing record")
	}
}

func TestRunBatch(t *testing.T) {
	var (
		buf         bytes.Buffer
		c           = testConfig(t, "ids:1001,1002,1003", true)
		transformer = &fakeTransformer{ext: ".nt"}
		p           = &Pipeline{
			Config:      c,
			Fetcher:     newFakeFetcher("1003", "1001"),
			Transformer: transformer,
			Logger:      testLogger(t, &buf),
		}
	)
	r, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"batch.xml"}, transformer.calls); diff != "" {
		t.Errorf("invocations mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"1001", "1003"}, r.Converted); diff != "" {
		t.Errorf("converted mismatch (-want +got):\n%s", diff)
	}
	layout := NewLayout(c, "fake")
	b, err := os.ReadFile(layout.MARCXMLPath(BatchName))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(b), "<record"); n != 2 {
		t.Errorf("got %d records in batch, want 2", n)
	}
	if i, j := strings.Index(string(b), ">1001<"), strings.Index(string(b), ">1003<"); i > j {
		t.Errorf("batch must keep input order")
	}
	if !exists(layout.BibFramePath(BatchName, ".nt")) {
		t.Errorf("missing batch output")
	}
	if !strings.Contains(buf.String(), "Batch mode: on.") {
		t.Errorf("missing batch mode line:\n%s", buf.String())
	}
}

func TestRunBatchAllMissing(t *testing.T) {
	c := testConfig(t, "ids:1,2,3", true)
	transformer := &fakeTransformer{}
	p := &Pipeline{Config: c, Fetcher: newFakeFetcher(), Transformer: transformer}
	r, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(transformer.calls) != 0 {
		t.Errorf("got %d invocations, want 0", len(transformer.calls))
	}
	if len(r.NotFound) != 3 {
		t.Errorf("got not found %v", r.NotFound)
	}
	if exists(NewLayout(c, "fake").MARCXMLPath(BatchName)) {
		t.Errorf("no batch file must be written")
	}
}

func TestRunEmptyIDFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "ids.txt")
	if err := os.WriteFile(p, []byte("# nothing\n\n# to see\n"), 0644); err != nil {
		t.Fatal(err)
	}
	var (
		buf         bytes.Buffer
		fetcher     = newFakeFetcher()
		transformer = &fakeTransformer{}
		pl          = &Pipeline{
			Config:      testConfig(t, "id-file:"+p, false),
			Fetcher:     fetcher,
			Transformer: transformer,
			Logger:      testLogger(t, &buf),
		}
	)
	r, err := pl.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(fetcher.calls) != 0 || len(transformer.calls) != 0 {
		t.Errorf("expected a no-op run, got fetches %v, invocations %v", fetcher.calls, transformer.calls)
	}
	if r.Total != 0 {
		t.Errorf("got total %d", r.Total)
	}
	if !strings.Contains(buf.String(), "0 bib ids processed.") {
		t.Errorf("unexpected log:\n%s", buf.String())
	}
}

func TestRunTransformFailure(t *testing.T) {
	var (
		buf         bytes.Buffer
		c           = testConfig(t, "ids:1001,1002", false)
		transformer = &fakeTransformer{fail: map[string]bool{"1001.xml": true}}
		p           = &Pipeline{
			Config:      c,
			Fetcher:     newFakeFetcher("1001", "1002"),
			Transformer: transformer,
			Logger:      testLogger(t, &buf),
		}
	)
	r, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"1002"}, r.Converted); diff != "" {
		t.Errorf("converted mismatch (-want +got):\n%s", diff)
	}
	if len(r.Failed) != 1 || r.Failed[0].Name != "1001" {
		t.Errorf("got failed %v", r.Failed)
	}
	if exists(NewLayout(c, "fake").BibFramePath("1001", ".rdf")) {
		t.Errorf("failed conversion must not leave output")
	}
	if !strings.Contains(buf.String(), "1 id failed to convert: 1001.") {
		t.Errorf("unexpected log:\n%s", buf.String())
	}
}

func TestRunBatchTransformFailure(t *testing.T) {
	transformer := &fakeTransformer{fail: map[string]bool{"batch.xml": true}}
	p := &Pipeline{
		Config:      testConfig(t, "ids:1,2,3", true),
		Fetcher:     newFakeFetcher("1", "3"),
		Transformer: transformer,
	}
	r, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Converted) != 0 || len(r.Failed) != 2 || len(r.NotFound) != 1 {
		t.Errorf("got %+v", r)
	}
}

func TestRunEveryIDClassifiedOnce(t *testing.T) {
	var cases = []struct {
		input string
		found []string
		batch bool
	}{
		{"ids:1", nil, false},
		{"ids:1,2,3,4", []string{"2", "4"}, false},
		{"ids:1,1,2", []string{"1"}, false},
		{"ids:1,2,3,4", []string{"1", "2", "3", "4"}, true},
		{"ids:a,b", []string{"b"}, true},
	}
	for _, c := range cases {
		transformer := &fakeTransformer{}
		p := &Pipeline{
			Config:      testConfig(t, c.input, c.batch),
			Fetcher:     newFakeFetcher(c.found...),
			Transformer: transformer,
		}
		r, err := p.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got := len(r.Converted) + len(r.NotFound) + len(r.Failed); got != r.Total {
			t.Errorf("%s: classified %d ids, want %d", c.input, got, r.Total)
		}
		switch {
		case c.batch && len(transformer.calls) > 1:
			t.Errorf("%s: got %d invocations in batch mode", c.input, len(transformer.calls))
		case !c.batch && len(transformer.calls) != len(r.Converted):
			t.Errorf("%s: got %d invocations, want %d", c.input, len(transformer.calls), len(r.Converted))
		}
	}
}

func TestRunParallelKeepsOrder(t *testing.T) {
	var (
		ids     []string
		fetcher = newFakeFetcher()
	)
	fetcher.delay = make(map[string]time.Duration)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("%04d", i)
		ids = append(ids, id)
		fetcher.delay[id] = time.Duration(20-i) * time.Millisecond
		if i%3 != 0 {
			fetcher.records[id] = fmt.Sprintf(testRecord, id)
		}
	}
	c := testConfig(t, "ids:"+strings.Join(ids, ","), false)
	c.Workers = 8
	p := &Pipeline{Config: c, Fetcher: fetcher, Transformer: &fakeTransformer{}}
	r, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var converted, notFound []string
	for i, id := range ids {
		if i%3 != 0 {
			converted = append(converted, id)
		} else {
			notFound = append(notFound, id)
		}
	}
	if diff := cmp.Diff(converted, r.Converted); diff != "" {
		t.Errorf("converted mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(notFound, r.NotFound); diff != "" {
		t.Errorf("not found mismatch (-want +got):\n%s", diff)
	}
}

func TestRunMARCXMLDirectory(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"b.xml":     "<collection><record>1</record></collection>",
		"a.xml":     "<collection><record>1</record><record>2</record></collection>",
		"notes.txt": "not a record",
		"a.xml.bak": "<record/>",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.xml"), 0755); err != nil {
		t.Fatal(err)
	}
	var (
		buf         bytes.Buffer
		c           = testConfig(t, "marcxml:"+dir, false)
		transformer = &fakeTransformer{ext: ".js"}
		p           = &Pipeline{Config: c, Transformer: transformer, Logger: testLogger(t, &buf)}
	)
	r, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a.xml", "b.xml"}, transformer.calls); diff != "" {
		t.Errorf("invocations mismatch (-want +got):\n%s", diff)
	}
	if r.Files != 2 || r.Records != 3 {
		t.Errorf("got %d files, %d records", r.Files, r.Records)
	}
	layout := NewLayout(c, "fake")
	if layout.MARCXML != "" {
		t.Errorf("marcxml input must not create a marcxml directory")
	}
	for _, name := range []string{"a", "b"} {
		if !exists(layout.BibFramePath(name, ".js")) {
			t.Errorf("missing output for %s", name)
		}
	}
	if !strings.Contains(buf.String(), "2 marcxml files converted to bibframe.") {
		t.Errorf("unexpected log:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "Batch mode") {
		t.Errorf("batch mode does not apply to marcxml input")
	}
}

func TestRunMARCXMLFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "records.marcxml")
	if err := os.WriteFile(p, []byte("<record/>"), 0644); err != nil {
		t.Fatal(err)
	}
	transformer := &fakeTransformer{}
	pl := &Pipeline{Config: testConfig(t, "marcxml:"+p, false), Transformer: transformer}
	r, err := pl.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r.Files != 1 || len(transformer.calls) != 1 {
		t.Errorf("got %d files, calls %v", r.Files, transformer.calls)
	}
	if !exists(NewLayout(pl.Config, "fake").BibFramePath("records", ".rdf")) {
		t.Errorf("missing output")
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Pipeline{
		Config:      testConfig(t, "ids:1,2", false),
		Fetcher:     newFakeFetcher("1", "2"),
		Transformer: &fakeTransformer{},
	}
	if _, err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestLayout(t *testing.T) {
	c := testConfig(t, "ids:1", false)
	c.UseBnodes = true
	l := NewLayout(c, "zorba")
	if got := filepath.Base(l.BibFrame); got != "bibframe-zorba-rdfxml-bnodes" {
		t.Errorf("got %v", got)
	}
	if got := filepath.Base(l.MARCXMLPath("a/b")); got != "a_b.xml" {
		t.Errorf("got %v", got)
	}
	if got := filepath.Base(l.BibFramePath("..", ".nt")); got != "_...nt" {
		t.Errorf("got %v", got)
	}
	if err := l.Create(); err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{l.Root, l.MARCXML, l.BibFrame} {
		if !exists(dir) {
			t.Errorf("missing %s", dir)
		}
	}
}

// eventLog records fetches and conversions in the order they happen.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, s)
}

type loggingFetcher struct {
	*fakeFetcher
	log *eventLog
}

func (f *loggingFetcher) Fetch(ctx context.Context, id string) (string, error) {
	f.log.add("fetch:" + id)
	return f.fakeFetcher.Fetch(ctx, id)
}

type loggingTransformer struct {
	*fakeTransformer
	log *eventLog
}

func (t *loggingTransformer) Transform(ctx context.Context, src, dst string) error {
	t.log.add("transform:" + strings.TrimSuffix(filepath.Base(src), ".xml"))
	return t.fakeTransformer.Transform(ctx, src, dst)
}

func TestRunSequentialConvertsBeforeNextFetch(t *testing.T) {
	var (
		events eventLog
		c      = testConfig(t, "ids:1001,1002,1003", false)
		p      = &Pipeline{
			Config:      c,
			Fetcher:     &loggingFetcher{fakeFetcher: newFakeFetcher("1001", "1003"), log: &events},
			Transformer: &loggingTransformer{fakeTransformer: &fakeTransformer{}, log: &events},
		}
	)
	if c.Workers != 1 {
		t.Fatalf("got %d workers, want default 1", c.Workers)
	}
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"fetch:1001", "transform:1001",
		"fetch:1002",
		"fetch:1003", "transform:1003",
	}
	if diff := cmp.Diff(want, events.events); diff != "" {
		t.Errorf("event order mismatch (-want +got):\n%s", diff)
	}
}

func TestRunSequentialCancelKeepsEarlierOutput(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var (
		c       = testConfig(t, "ids:1001,1002", false)
		fetcher = &cancelingFetcher{fakeFetcher: newFakeFetcher("1001", "1002"), cancelOn: "1002", cancel: cancel}
		p       = &Pipeline{Config: c, Fetcher: fetcher, Transformer: &fakeTransformer{}}
	)
	r, err := p.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if diff := cmp.Diff([]string{"1001"}, r.Converted); diff != "" {
		t.Errorf("converted mismatch (-want +got):\n%s", diff)
	}
	if !exists(NewLayout(c, "fake").BibFramePath("1001", ".rdf")) {
		t.Errorf("output written before cancellation must remain")
	}
}

// cancelingFetcher cancels the run when a given id is requested.
type cancelingFetcher struct {
	*fakeFetcher
	cancelOn string
	cancel   context.CancelFunc
}

func (f *cancelingFetcher) Fetch(ctx context.Context, id string) (string, error) {
	if id == f.cancelOn {
		f.cancel()
		return "", ctx.Err()
	}
	return f.fakeFetcher.Fetch(ctx, id)
}
