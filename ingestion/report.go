package ingestion

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// Status is the outcome of ingesting a single document.
type Status string

const (
	// StatusIndexed means every chunk of the document was indexed.
	StatusIndexed Status = "indexed"
	// StatusPartial means some chunks failed to embed or index.
	StatusPartial Status = "partial"
	// StatusFailed means nothing from the document reached the index.
	StatusFailed Status = "failed"
	// StatusUnchanged means the document matched its manifest and was skipped.
	StatusUnchanged Status = "unchanged"
)

// DocumentResult records what happened to one document.
type DocumentResult struct {
	DocumentID string
	Subject    string
	Status     Status
	Chunks     int // Chunks produced by the chunker
	Indexed    int // Chunks written to the index
	Failed     int // Chunks lost to embedding or index failures
	Pruned     int // Stale chunks removed from an earlier, longer version
	Err        error
	Duration   time.Duration
}

// Totals aggregates the document results of a run.
type Totals struct {
	Documents int
	Indexed   int
	Partial   int
	Failed    int
	Unchanged int
	Chunks    int
}

// Report summarises an ingestion run.
type Report struct {
	RunID     string
	Started   time.Time
	Elapsed   time.Duration
	Documents []DocumentResult
}

// HardFailed reports whether the run should be treated as failed: a document
// could not be loaded, or no document succeeded at all.
func (r *Report) HardFailed() bool {
	if len(r.Documents) == 0 {
		return true
	}
	allFailed := true
	for _, d := range r.Documents {
		var loadErr *DocumentLoadError
		if errors.As(d.Err, &loadErr) {
			return true
		}
		if d.Status != StatusFailed {
			allFailed = false
		}
	}
	return allFailed
}

// Totals counts documents by status and indexed chunks.
func (r *Report) Totals() Totals {
	t := Totals{Documents: len(r.Documents)}
	for _, d := range r.Documents {
		switch d.Status {
		case StatusIndexed:
			t.Indexed++
		case StatusPartial:
			t.Partial++
		case StatusFailed:
			t.Failed++
		case StatusUnchanged:
			t.Unchanged++
		}
		t.Chunks += d.Indexed
	}
	return t
}

// WriteSummary prints a per-document table followed by the run totals.
func (r *Report) WriteSummary(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DOCUMENT\tSUBJECT\tSTATUS\tCHUNKS\tINDEXED\tFAILED\tPRUNED\tERROR")
	for _, d := range r.Documents {
		errText := ""
		if d.Err != nil {
			errText = d.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			d.DocumentID, d.Subject, d.Status, d.Chunks, d.Indexed, d.Failed, d.Pruned, errText)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	t := r.Totals()
	_, err := fmt.Fprintf(w, "\nrun %s: %d documents (%d indexed, %d partial, %d failed, %d unchanged), %d chunks in %s\n",
		r.RunID, t.Documents, t.Indexed, t.Partial, t.Failed, t.Unchanged, t.Chunks, r.Elapsed.Round(time.Millisecond))
	return err
}
