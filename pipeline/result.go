package pipeline

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/miku/bfkit"
	"github.com/miku/bfkit/config"
	"github.com/miku/bfkit/runlog"
	"github.com/segmentio/encoding/json"
)

// Failure of the converter for an id or a file.
type Failure struct {
	Name string `json:"name"`
	Err  string `json:"error"`
}

// Result of a run. Id lists keep input order, duplicates included.
type Result struct {
	Mode      config.InputMode `json:"mode"`
	Batch     bool             `json:"batch"`
	Total     int              `json:"total"`
	Converted []string         `json:"converted"`
	NotFound  []string         `json:"not_found"`
	Failed    []Failure        `json:"failed"`
	// Files is the number of MARCXML files passed to the converter.
	Files int `json:"files"`
	// Records found in MARCXML files.
	Records     int `json:"records"`
	Invocations int `json:"invocations"`
}

// Tally returns the view of the result the run log needs.
func (r *Result) Tally(elapsed time.Duration) runlog.Tally {
	t := runlog.Tally{
		IDs:       r.Mode == config.IDs || r.Mode == config.IDFile,
		Total:     r.Total,
		Converted: r.Converted,
		NotFound:  r.NotFound,
		Files:     r.Files,
		Batch:     r.Batch,
		Elapsed:   elapsed,
	}
	for _, f := range r.Failed {
		t.Failed = append(t.Failed, f.Name)
	}
	return t
}

// Summary is written as summary.json into the run directory.
type Summary struct {
	RunID     string    `json:"run_id"`
	Version   string    `json:"version"`
	Input     string    `json:"input"`
	Format    string    `json:"format"`
	Engine    string    `json:"engine"`
	BaseURI   string    `json:"base_uri"`
	UseBnodes bool      `json:"use_bnodes"`
	Started   time.Time `json:"started"`
	Elapsed   string    `json:"elapsed"`
	Result    *Result   `json:"result"`
}

func writeSummary(filename string, s *Summary) error {
	if s.RunID == "" {
		s.RunID = uuid.New().String()
	}
	s.Version = bfkit.Version
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filename, append(b, '\n'))
}

// ReadSummary reads a summary.json file.
func ReadSummary(filename string) (*Summary, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var s Summary
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func writeFileAtomic(filename string, b []byte) error {
	wip := filename + ".wip"
	if err := os.WriteFile(wip, b, 0644); err != nil {
		return err
	}
	return os.Rename(wip, filename)
}
