package runlog

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Tally is the outcome of a run, as far as the summary is concerned.
type Tally struct {
	// IDs is true for runs on record ids, false for MARCXML files.
	IDs       bool
	Total     int
	Converted []string
	NotFound  []string
	// Failed lists ids or files the converter failed on.
	Failed  []string
	Files   int
	Batch   bool
	Elapsed time.Duration
}

// Summarize renders the summary of a run. Every id is reported as either
// converted, not found or failed.
func Summarize(t Tally) []string {
	var lines []string
	if t.IDs {
		lines = append(lines,
			fmt.Sprintf("%s processed.", SingularOrPlural(t.Total, "bib id")),
			fmt.Sprintf("%s found and converted to bibframe.", SingularOrPlural(len(t.Converted), "record")),
			listLine(SingularOrPlural(len(t.NotFound), "id")+" without a bib record", t.NotFound),
		)
	} else {
		lines = append(lines, fmt.Sprintf("%s converted to bibframe.", SingularOrPlural(t.Files, "marcxml file")))
	}
	if len(t.Failed) > 0 {
		noun := "file"
		if t.IDs {
			noun = "id"
		}
		lines = append(lines, listLine(SingularOrPlural(len(t.Failed), noun)+" failed to convert", t.Failed))
	}
	if t.IDs {
		mode := "off"
		if t.Batch {
			mode = "on"
		}
		lines = append(lines, fmt.Sprintf("Batch mode: %s.", mode))
	}
	lines = append(lines, fmt.Sprintf("Run time: %s.", FormatDuration(t.Elapsed)))
	return lines
}

// listLine appends a comma separated list, if there are any values.
func listLine(prefix string, vs []string) string {
	if len(vs) == 0 {
		return prefix + "."
	}
	return prefix + ": " + strings.Join(vs, ", ") + "."
}

// SingularOrPlural, e.g. "1 record", "2 records", "0 records".
func SingularOrPlural(count int, noun string) string {
	s := strconv.Itoa(count) + " " + noun
	if count != 1 {
		s += "s"
	}
	return s
}

// FormatDuration renders a duration as hh:mm:ss.
func FormatDuration(d time.Duration) string {
	secs := int(math.Round(d.Seconds()))
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}
