// Package repository persists finished runs and publishes run events.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"stressjudge/internal/stress/worker"
	appErr "stressjudge/pkg/errors"
)

// RunRecord is one row of run history.
type RunRecord struct {
	ID          int64  `json:"id"`
	RunID       string `json:"runId"`
	TestType    string `json:"testType"`
	FilePath    string `json:"filePath"`
	ProjectName string `json:"projectName,omitempty"`
	// TestCount is the requested count, also for stopped runs.
	TestCount   int `json:"testCount"`
	PassedTests int `json:"passedTests"`
	FailedTests int `json:"failedTests"`
	// TotalTime is the wall time of the run in seconds.
	TotalTime float64 `json:"totalTime"`
	// Timestamp is RFC 3339.
	Timestamp string `json:"timestamp"`
	// TestDetails is a JSON array of per-test results.
	TestDetails json.RawMessage `json:"testDetails,omitempty"`
	// FilesSnapshot is zstd-compressed JSON, see EncodeFilesSnapshot.
	FilesSnapshot []byte `json:"-"`
}

// RunMeta describes what a run was executed against.
type RunMeta struct {
	FilePath    string
	ProjectName string
	Snapshot    []byte
}

// NewRunRecord converts a finished report into a record.
func NewRunRecord(report *worker.Report, meta RunMeta) (RunRecord, error) {
	if report == nil {
		return RunRecord{}, appErr.ValidationError("report", "required")
	}
	details, err := json.Marshal(report.Results)
	if err != nil {
		return RunRecord{}, appErr.Wrapf(err, appErr.PersistenceFailed, "encode test details")
	}
	finished := report.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	var elapsed time.Duration
	if !report.StartedAt.IsZero() && finished.After(report.StartedAt) {
		elapsed = finished.Sub(report.StartedAt)
	}
	return RunRecord{
		RunID:         report.RunID,
		TestType:      report.Mode,
		FilePath:      meta.FilePath,
		ProjectName:   meta.ProjectName,
		TestCount:     report.Requested,
		PassedTests:   report.Stats.Passed,
		FailedTests:   report.Stats.Failed,
		TotalTime:     elapsed.Seconds(),
		Timestamp:     finished.UTC().Format(time.RFC3339),
		TestDetails:   details,
		FilesSnapshot: meta.Snapshot,
	}, nil
}

// RunStore is the persistence sink for finished runs.
type RunStore interface {
	SaveRun(ctx context.Context, rec RunRecord) (int64, error)
	// GetRun looks a record up by its run id.
	GetRun(ctx context.Context, runID string) (RunRecord, error)
	// ListRuns returns the newest records first, without details or snapshot.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

const defaultListLimit = 50

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func validateRecord(rec RunRecord) error {
	if rec.RunID == "" {
		return appErr.ValidationError("run_id", "required")
	}
	if rec.TestType == "" {
		return appErr.ValidationError("test_type", "required")
	}
	return nil
}
