package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"convoflow/runtime"
)

// SQLiteStore is a Store backed by SQLite.
//
// It expects an *sql.DB opened with a SQLite driver; the caller imports the
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the schema in the given database and returns
// a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS flow_definitions (
			flow_id TEXT NOT NULL,
			version TEXT NOT NULL,
			definition BLOB NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (flow_id, version)
		);
		CREATE TABLE IF NOT EXISTS flow_runs (
			id TEXT PRIMARY KEY,
			flow_id TEXT NOT NULL,
			flow_version TEXT NOT NULL,
			session_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_state TEXT NOT NULL,
			context BLOB,
			error TEXT,
			started_at TEXT NOT NULL,
			completed_at TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_flow_runs_session ON flow_runs (session_id, status);
		CREATE TABLE IF NOT EXISTS flow_run_steps (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			flow_run_id TEXT NOT NULL,
			state_name TEXT NOT NULL,
			status TEXT NOT NULL,
			input_snapshot BLOB,
			output_snapshot BLOB,
			error TEXT,
			attempts INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_flow_run_steps_run ON flow_run_steps (flow_run_id);
		CREATE TABLE IF NOT EXISTS version_assignments (
			flow_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			version TEXT NOT NULL,
			PRIMARY KEY (flow_id, session_id)
		);
		CREATE TABLE IF NOT EXISTS version_outcomes (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			flow_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			version TEXT NOT NULL,
			converted INTEGER NOT NULL,
			metric TEXT,
			recorded_at TEXT NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteStore) SaveDefinition(def *runtime.FlowDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("error encoding definition: %w", err)
	}
	// Versions are immutable; re-saving a stored version is a no-op so that
	// startup can replay the flows directory unconditionally.
	_, err = s.db.Exec(`
		INSERT INTO flow_definitions (flow_id, version, definition, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (flow_id, version) DO NOTHING`,
		def.ID, def.Version, data, encodeTime(time.Now().UTC()),
	)
	return err
}

func (s *SQLiteStore) GetDefinition(flowID, version string) (*runtime.FlowDefinition, error) {
	var data []byte
	err := s.db.QueryRow(`
		SELECT definition FROM flow_definitions WHERE flow_id = ? AND version = ?`,
		flowID, version,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDefinitionNotFound
	}
	if err != nil {
		return nil, err
	}

	var def runtime.FlowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("error decoding definition: %w", err)
	}
	return &def, nil
}

func (s *SQLiteStore) ListDefinitions() ([]*runtime.FlowDefinition, error) {
	rows, err := s.db.Query(`SELECT definition FROM flow_definitions ORDER BY created_at, flow_id, version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*runtime.FlowDefinition
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var def runtime.FlowDefinition
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("error decoding definition: %w", err)
		}
		defs = append(defs, &def)
	}
	return defs, rows.Err()
}

func (s *SQLiteStore) SaveRun(run *runtime.FlowRun) error {
	_, err := s.db.Exec(`
		INSERT INTO flow_runs (id, flow_id, flow_version, session_id, status, current_state, context, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.FlowID, run.FlowVersion, run.SessionID,
		string(run.Status), run.CurrentState, run.ContextSnapshot, run.Error,
		encodeTime(run.StartedAt), encodeTimePtr(run.CompletedAt),
	)
	return err
}

func (s *SQLiteStore) UpdateRun(run *runtime.FlowRun) error {
	res, err := s.db.Exec(`
		UPDATE flow_runs
		SET status = ?, current_state = ?, context = ?, error = ?, completed_at = ?
		WHERE id = ?`,
		string(run.Status), run.CurrentState, run.ContextSnapshot, run.Error,
		encodeTimePtr(run.CompletedAt), run.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return runtime.ErrRunNotFound
	}
	return nil
}

const runColumns = `id, flow_id, flow_version, session_id, status, current_state, context, error, started_at, completed_at`

func (s *SQLiteStore) GetRun(id string) (*runtime.FlowRun, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM flow_runs WHERE id = ?`, id)
	return scanRun(row)
}

func (s *SQLiteStore) ActiveRun(sessionID, flowID string) (*runtime.FlowRun, error) {
	row := s.db.QueryRow(`
		SELECT `+runColumns+` FROM flow_runs
		WHERE session_id = ? AND flow_id = ? AND status IN ('running', 'suspended')
		ORDER BY started_at DESC LIMIT 1`,
		sessionID, flowID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ActiveSessionRun(sessionID string) (*runtime.FlowRun, error) {
	row := s.db.QueryRow(`
		SELECT `+runColumns+` FROM flow_runs
		WHERE session_id = ? AND status IN ('running', 'suspended')
		ORDER BY started_at DESC LIMIT 1`,
		sessionID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(filter RunFilter) ([]*runtime.FlowRun, error) {
	query := `SELECT ` + runColumns + ` FROM flow_runs`
	var clauses []string
	var args []any

	if filter.FlowID != "" {
		clauses = append(clauses, "flow_id = ?")
		args = append(args, filter.FlowID)
	}
	if filter.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY started_at"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*runtime.FlowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) AppendStep(step *runtime.FlowRunStep) error {
	input, err := encodeSnapshot(step.InputSnapshot)
	if err != nil {
		return err
	}
	output, err := encodeSnapshot(step.OutputSnapshot)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO flow_run_steps (flow_run_id, state_name, status, input_snapshot, output_snapshot, error, attempts, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.FlowRunID, step.StateName, string(step.Status),
		input, output, step.Error, step.Attempts,
		encodeTime(step.StartedAt), encodeTime(step.CompletedAt),
	)
	return err
}

func (s *SQLiteStore) ListSteps(runID string) ([]*runtime.FlowRunStep, error) {
	rows, err := s.db.Query(`
		SELECT flow_run_id, state_name, status, input_snapshot, output_snapshot, error, attempts, started_at, completed_at
		FROM flow_run_steps
		WHERE flow_run_id = ?
		ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*runtime.FlowRunStep
	for rows.Next() {
		var step runtime.FlowRunStep
		var statusStr, startedAt, completedAt string
		var input, output []byte
		if err := rows.Scan(&step.FlowRunID, &step.StateName, &statusStr, &input, &output, &step.Error, &step.Attempts, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		step.Status = runtime.StepStatus(statusStr)
		if step.InputSnapshot, err = decodeSnapshot(input); err != nil {
			return nil, err
		}
		if step.OutputSnapshot, err = decodeSnapshot(output); err != nil {
			return nil, err
		}
		if step.StartedAt, err = decodeTime(startedAt); err != nil {
			return nil, err
		}
		if step.CompletedAt, err = decodeTime(completedAt); err != nil {
			return nil, err
		}
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}

func (s *SQLiteStore) Assignment(flowID, sessionID string) (string, bool, error) {
	var version string
	err := s.db.QueryRow(`
		SELECT version FROM version_assignments WHERE flow_id = ? AND session_id = ?`,
		flowID, sessionID,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return version, true, nil
}

func (s *SQLiteStore) PutAssignment(flowID, sessionID, version string) error {
	// First write wins: an assignment is never reassigned mid-run.
	_, err := s.db.Exec(`
		INSERT INTO version_assignments (flow_id, session_id, version)
		VALUES (?, ?, ?)
		ON CONFLICT (flow_id, session_id) DO NOTHING`,
		flowID, sessionID, version,
	)
	return err
}

func (s *SQLiteStore) RecordOutcome(flowID, sessionID, version string, converted bool, metric string) error {
	convertedInt := 0
	if converted {
		convertedInt = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO version_outcomes (flow_id, session_id, version, converted, metric, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		flowID, sessionID, version, convertedInt, metric, encodeTime(time.Now().UTC()),
	)
	return err
}

func (s *SQLiteStore) Results(flowID string) (map[string]runtime.VersionStats, error) {
	results := make(map[string]runtime.VersionStats)

	rows, err := s.db.Query(`
		SELECT version, COUNT(*) FROM version_assignments WHERE flow_id = ? GROUP BY version`,
		flowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var version string
		var sessions int64
		if err := rows.Scan(&version, &sessions); err != nil {
			return nil, err
		}
		stats := results[version]
		stats.Sessions = sessions
		results[version] = stats
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	outcomeRows, err := s.db.Query(`
		SELECT version, COUNT(*), COALESCE(SUM(converted), 0)
		FROM version_outcomes WHERE flow_id = ? GROUP BY version`,
		flowID,
	)
	if err != nil {
		return nil, err
	}
	defer outcomeRows.Close()
	for outcomeRows.Next() {
		var version string
		var outcomes, converted int64
		if err := outcomeRows.Scan(&version, &outcomes, &converted); err != nil {
			return nil, err
		}
		stats := results[version]
		stats.Outcomes = outcomes
		stats.Converted = converted
		results[version] = stats
	}
	return results, outcomeRows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*runtime.FlowRun, error) {
	var run runtime.FlowRun
	var statusStr, startedAt string
	var completedAt sql.NullString
	err := row.Scan(
		&run.ID, &run.FlowID, &run.FlowVersion, &run.SessionID,
		&statusStr, &run.CurrentState, &run.ContextSnapshot, &run.Error,
		&startedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, runtime.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	run.Status = runtime.RunStatus(statusStr)
	if run.StartedAt, err = decodeTime(startedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid && completedAt.String != "" {
		t, err := decodeTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		run.CompletedAt = &t
	}
	return &run, nil
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func encodeSnapshot(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("error encoding snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("error decoding snapshot: %w", err)
	}
	return m, nil
}
