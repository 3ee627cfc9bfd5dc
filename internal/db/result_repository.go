package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tOgg1/jumpshell/internal/models"
)

// Result repository errors.
var (
	ErrRunNotFound    = errors.New("run not found")
	ErrResultNotFound = errors.New("task result not found")
	ErrInvalidRun     = errors.New("run id is required")
	ErrAmbiguousRun   = errors.New("run id prefix is ambiguous")
)

const resultColumns = `task_id, run_id, host, port, description, jump_host, status, error,
	authenticated_as, vendor, server_version, prompt_json, commands_json, parameters_json,
	collection_json, history, started_at, finished_at`

// ResultRepository stores runs and their per-task results.
type ResultRepository struct {
	db *DB
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(db *DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// SaveRun writes a run and all of its results in one transaction. Existing
// rows with the same IDs are replaced.
func (r *ResultRepository) SaveRun(ctx context.Context, run *models.Run, results []*models.TaskResult) error {
	if run == nil || run.ID == "" {
		return ErrInvalidRun
	}
	return r.db.TransactionWithRetry(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO runs (id, started_at, finished_at, task_count, failed_count, source)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, run.StartedAt.UTC().Format(timeLayout), formatTime(run.FinishedAt),
			run.TaskCount, run.Failed, run.Source)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		for i, res := range results {
			res.RunID = run.ID
			if err := insertResult(ctx, tx, i, res); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertResult(ctx context.Context, ex execer, position int, res *models.TaskResult) error {
	promptJSON, err := marshalOptional(res.Prompt)
	if err != nil {
		return fmt.Errorf("failed to marshal prompt: %w", err)
	}
	if res.Prompt == nil {
		promptJSON = nil
	}
	commands := res.Commands
	if commands == nil {
		commands = []models.CommandResult{}
	}
	commandsJSON, err := json.Marshal(commands)
	if err != nil {
		return fmt.Errorf("failed to marshal commands: %w", err)
	}
	paramsJSON, err := marshalOptional(res.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}
	collectionJSON, err := marshalOptional(res.Collection)
	if err != nil {
		return fmt.Errorf("failed to marshal collection: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT OR REPLACE INTO task_results (
			`+resultColumns+`, position
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		res.TaskID, nullIfEmpty(res.RunID), res.Host, res.Port, res.Description, res.JumpHost,
		string(res.Status), res.Error, res.AuthenticatedAs, res.Vendor, res.ServerVersion,
		promptJSON, string(commandsJSON), paramsJSON, collectionJSON, res.History,
		formatTime(res.StartedAt), formatTime(res.FinishedAt), position,
	)
	if err != nil {
		return fmt.Errorf("failed to insert result for %s: %w", res.Host, err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (r *ResultRepository) GetRun(ctx context.Context, id string) (*models.Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, task_count, failed_count, source FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// ResolveRunID expands a run ID prefix to the full ID.
func (r *ResultRepository) ResolveRunID(ctx context.Context, prefix string) (string, error) {
	if prefix == "" {
		return "", ErrInvalidRun
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM runs WHERE substr(id, 1, ?) = ? LIMIT 2`, len(prefix), prefix)
	if err != nil {
		return "", fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", ErrRunNotFound
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousRun, prefix)
	}
}

// ListRuns returns the most recent runs first.
func (r *ResultRepository) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, task_count, failed_count, source
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Get retrieves one task result.
func (r *ResultRepository) Get(ctx context.Context, taskID string) (*models.TaskResult, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM task_results WHERE task_id = ?`, taskID)
	res, err := r.scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	return res, err
}

// ListByRun returns a run's results in submission order.
func (r *ResultRepository) ListByRun(ctx context.Context, runID string) ([]*models.TaskResult, error) {
	return r.listResults(ctx, `
		SELECT `+resultColumns+` FROM task_results WHERE run_id = ? ORDER BY position
	`, runID)
}

// ListByHost returns the latest results for a host, newest first.
func (r *ResultRepository) ListByHost(ctx context.Context, host string, limit int) ([]*models.TaskResult, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.listResults(ctx, `
		SELECT `+resultColumns+` FROM task_results WHERE host = ? ORDER BY finished_at DESC LIMIT ?
	`, host, limit)
}

// DeleteRunsBefore removes runs started before t, with their results.
func (r *ResultRepository) DeleteRunsBefore(ctx context.Context, t time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, t.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return result.RowsAffected()
}

func (r *ResultRepository) listResults(ctx context.Context, query string, args ...any) ([]*models.TaskResult, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []*models.TaskResult
	for rows.Next() {
		res, err := r.scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return out, nil
}

func scanRun(s scanner) (*models.Run, error) {
	var run models.Run
	var started string
	var finished, source sql.NullString
	if err := s.Scan(&run.ID, &started, &finished, &run.TaskCount, &run.Failed, &source); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.StartedAt = parseTime(started)
	run.FinishedAt = parseTime(finished.String)
	run.Source = source.String
	return &run, nil
}

func (r *ResultRepository) scanResult(s scanner) (*models.TaskResult, error) {
	var res models.TaskResult
	var runID, description, jumpHost, errMsg, authUser, vendor, version sql.NullString
	var promptJSON, paramsJSON, collectionJSON, started, finished sql.NullString
	var status, commandsJSON string

	err := s.Scan(
		&res.TaskID, &runID, &res.Host, &res.Port, &description, &jumpHost, &status, &errMsg,
		&authUser, &vendor, &version, &promptJSON, &commandsJSON, &paramsJSON,
		&collectionJSON, &res.History, &started, &finished,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan result: %w", err)
	}

	res.RunID = runID.String
	res.Description = description.String
	res.JumpHost = jumpHost.String
	res.Status = models.TaskStatus(status)
	res.Error = errMsg.String
	res.AuthenticatedAs = authUser.String
	res.Vendor = vendor.String
	res.ServerVersion = version.String
	res.StartedAt = parseTime(started.String)
	res.FinishedAt = parseTime(finished.String)

	log := r.db.logger.With().Str("task_id", res.TaskID).Logger()
	if err := json.Unmarshal([]byte(commandsJSON), &res.Commands); err != nil {
		log.Warn().Err(err).Msg("failed to parse commands")
	}
	if promptJSON.Valid {
		res.Prompt = &models.PromptInfo{}
		if err := json.Unmarshal([]byte(promptJSON.String), res.Prompt); err != nil {
			log.Warn().Err(err).Msg("failed to parse prompt")
		}
	}
	if paramsJSON.Valid {
		if err := json.Unmarshal([]byte(paramsJSON.String), &res.Parameters); err != nil {
			log.Warn().Err(err).Msg("failed to parse parameters")
		}
	}
	if collectionJSON.Valid {
		if err := json.Unmarshal([]byte(collectionJSON.String), &res.Collection); err != nil {
			log.Warn().Err(err).Msg("failed to parse collection")
		}
	}
	return &res, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
