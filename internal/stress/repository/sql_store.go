package repository

import (
	"context"

	"stressjudge/internal/common/db"
	appErr "stressjudge/pkg/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS test_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL UNIQUE,
	test_type TEXT NOT NULL,
	file_path TEXT NOT NULL,
	project_name TEXT NOT NULL DEFAULT '',
	test_count INTEGER NOT NULL,
	passed_tests INTEGER NOT NULL,
	failed_tests INTEGER NOT NULL,
	total_time REAL NOT NULL,
	timestamp TEXT NOT NULL,
	test_details TEXT,
	files_snapshot BLOB
)`

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS test_results (
	id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	run_id VARCHAR(36) NOT NULL,
	test_type VARCHAR(64) NOT NULL,
	file_path VARCHAR(1024) NOT NULL,
	project_name VARCHAR(255) NOT NULL DEFAULT '',
	test_count INT NOT NULL,
	passed_tests INT NOT NULL,
	failed_tests INT NOT NULL,
	total_time DOUBLE NOT NULL,
	timestamp VARCHAR(40) NOT NULL,
	test_details LONGTEXT,
	files_snapshot LONGBLOB,
	UNIQUE KEY uk_run_id (run_id)
)`

const (
	insertRunSQL = `INSERT INTO test_results
	(run_id, test_type, file_path, project_name, test_count, passed_tests, failed_tests, total_time, timestamp, test_details, files_snapshot)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectRunSQL = `SELECT id, run_id, test_type, file_path, project_name, test_count, passed_tests, failed_tests,
	total_time, timestamp, test_details, files_snapshot FROM test_results WHERE run_id = ?`
	listRunsSQL = `SELECT id, run_id, test_type, file_path, project_name, test_count, passed_tests, failed_tests,
	total_time, timestamp FROM test_results ORDER BY id DESC LIMIT ?`
)

// SQLStore persists runs in the test_results table of a sqlite or mysql database.
type SQLStore struct {
	database db.Database
}

// NewSQLStore creates the table when missing.
func NewSQLStore(ctx context.Context, database db.Database) (*SQLStore, error) {
	if database == nil {
		return nil, appErr.New(appErr.DatabaseError).WithMessage("database is required")
	}
	schema := sqliteSchema
	if database.Driver() == db.DriverMySQL {
		schema = mysqlSchema
	}
	if _, err := database.Exec(ctx, schema); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "create test_results table")
	}
	return &SQLStore{database: database}, nil
}

func (s *SQLStore) SaveRun(ctx context.Context, rec RunRecord) (int64, error) {
	if err := validateRecord(rec); err != nil {
		return 0, err
	}
	var details interface{}
	if len(rec.TestDetails) > 0 {
		details = string(rec.TestDetails)
	}
	res, err := s.database.Exec(ctx, insertRunSQL,
		rec.RunID, rec.TestType, rec.FilePath, rec.ProjectName,
		rec.TestCount, rec.PassedTests, rec.FailedTests, rec.TotalTime,
		rec.Timestamp, details, rec.FilesSnapshot)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return 0, appErr.Newf(appErr.PersistenceFailed, "run %s already saved", rec.RunID)
		}
		return 0, appErr.Wrapf(err, appErr.PersistenceFailed, "insert run %s", rec.RunID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.PersistenceFailed, "read inserted id")
	}
	return id, nil
}

func (s *SQLStore) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	var rec RunRecord
	var details *string
	err := s.database.QueryRow(ctx, selectRunSQL, runID).Scan(
		&rec.ID, &rec.RunID, &rec.TestType, &rec.FilePath, &rec.ProjectName,
		&rec.TestCount, &rec.PassedTests, &rec.FailedTests, &rec.TotalTime,
		&rec.Timestamp, &details, &rec.FilesSnapshot)
	if err != nil {
		if db.IsNoRows(err) {
			return RunRecord{}, appErr.Newf(appErr.RunNotFound, "run %s not found", runID)
		}
		return RunRecord{}, appErr.Wrapf(err, appErr.DatabaseError, "load run %s", runID)
	}
	if details != nil {
		rec.TestDetails = []byte(*details)
	}
	return rec, nil
}

func (s *SQLStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.database.Query(ctx, listRunsSQL, normalizeLimit(limit))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list runs")
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.TestType, &rec.FilePath, &rec.ProjectName,
			&rec.TestCount, &rec.PassedTests, &rec.FailedTests, &rec.TotalTime, &rec.Timestamp,
		); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan run")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate runs")
	}
	return out, nil
}

func (s *SQLStore) Close() error {
	return s.database.Close()
}
