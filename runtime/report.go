package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pithecene-io/taskmanager/metrics"
	"github.com/pithecene-io/taskmanager/types"
)

// BatchRunReport is the structured JSON report written by --report.
type BatchRunReport struct {
	BatchRunID        string       `json:"batch_run_id"`
	Batch             string       `json:"batch"`
	Attempt           int          `json:"attempt"`
	Status            types.Status `json:"status"`
	Message           string       `json:"message"`
	ExitCode          int          `json:"exit_code"`
	NeedsIntervention bool         `json:"needs_intervention"`
	Start             *time.Time   `json:"start,omitempty"`
	End               *time.Time   `json:"end,omitempty"`
	DurationMs        int64        `json:"duration_ms"`

	Runs    []ReportRun       `json:"runs"`
	Metrics *metrics.Snapshot `json:"metrics"`
}

// ReportRun is the latest run of one task in the report.
type ReportRun struct {
	Task    string       `json:"task"`
	Index   int          `json:"index"`
	Status  types.Status `json:"status"`
	Message string       `json:"message,omitempty"`
}

// BuildReport composes a report from a finished batch run, its outcome and
// a metrics snapshot.
func BuildReport(br *types.BatchRun, outcome *Outcome, snap metrics.Snapshot) *BatchRunReport {
	report := &BatchRunReport{
		BatchRunID:        br.ID,
		Batch:             br.Batch,
		Attempt:           br.Attempt,
		Status:            outcome.Status,
		Message:           outcome.Message,
		ExitCode:          outcome.ExitCode,
		NeedsIntervention: outcome.NeedsIntervention,
		Runs:              make([]ReportRun, 0, len(br.Runs)),
		Metrics:           &snap,
	}

	start, end := br.Start(), br.End()
	if !start.IsZero() {
		report.Start = &start
	}
	if !end.IsZero() {
		report.End = &end
		if !start.IsZero() {
			report.DurationMs = end.Sub(start).Milliseconds()
		}
	}

	for _, r := range types.Latest(br.Runs) {
		report.Runs = append(report.Runs, ReportRun{
			Task:    r.Task.String(),
			Index:   r.Index,
			Status:  r.Status,
			Message: r.Message,
		})
	}
	return report
}

// WriteReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteReport(report *BatchRunReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	if path == "-" {
		if err := writeReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// writeReportTo writes report JSON to any writer (for testing).
func writeReportTo(report *BatchRunReport, w io.Writer) error {
	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func marshalReport(report *BatchRunReport) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}
