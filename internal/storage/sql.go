package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/seqflow/internal/log"
	"github.com/ignatij/seqflow/pkg/models"
	"github.com/ignatij/seqflow/pkg/storage"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	PostgresDriver = "postgres"
	SQLiteDriver   = "sqlite"
)

func init() {
	sqlx.BindDriver(SQLiteDriver, sqlx.QUESTION)
}

// SQLStore implements storage.Store on Postgres or SQLite. Queries are
// written with ? placeholders and rebound for the active driver.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
}

var _ storage.Store = (*SQLStore)(nil)

func NewPostgresStore(connStr string) (*SQLStore, error) {
	db, err := sqlx.Open(PostgresDriver, connStr)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return newSQLStore(db, PostgresDriver), nil
}

// NewSQLiteStore opens (or creates) the database file at path.
func NewSQLiteStore(path string) (*SQLStore, error) {
	db, err := sqlx.Open(SQLiteDriver, sqliteDSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// a single connection serializes writers and keeps pragmas in effect
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}
	return newSQLStore(db, SQLiteDriver), nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func newSQLStore(db *sqlx.DB, driver string) *SQLStore {
	return &SQLStore{
		db:     db,
		driver: driver,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// DB exposes the underlying connection, e.g. for migrations.
func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

func (s *SQLStore) Driver() string {
	return s.driver
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on success.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				log.GetLogger().Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			log.GetLogger().Errorf("Failed to commit: %v", commitErr)
			err = errors.Wrap(commitErr, "commit")
		}
	}()
	return fn(tx)
}

type stepRow struct {
	ID     string   `db:"id"`
	Kind   string   `db:"kind"`
	Label  string   `db:"label"`
	Order  int      `db:"step_order"`
	PosX   *float64 `db:"pos_x"`
	PosY   *float64 `db:"pos_y"`
	Config string   `db:"config"`
}

func (r stepRow) toStep() (models.Step, error) {
	kind := models.StepKind(r.Kind)
	cfg, err := models.DecodeStepConfig(kind, json.RawMessage(r.Config))
	if err != nil {
		return models.Step{}, errors.Wrapf(err, "decode step %s", r.ID)
	}
	step := models.Step{ID: r.ID, Kind: kind, Label: r.Label, Order: r.Order, Config: cfg}
	if r.PosX != nil && r.PosY != nil {
		step.Position = &models.Position{X: *r.PosX, Y: *r.PosY}
	}
	return step, nil
}

type executionRow struct {
	ID           string                 `db:"id"`
	SequenceID   string                 `db:"sequence_id"`
	Status       models.ExecutionStatus `db:"status"`
	Input        sql.NullString         `db:"input"`
	ErrorMessage string                 `db:"error_message"`
	StartedAt    time.Time              `db:"started_at"`
	CompletedAt  *time.Time             `db:"completed_at"`
	DurationMs   int64                  `db:"duration_ms"`
}

func (r executionRow) toExecution() (models.Execution, error) {
	exec := models.Execution{
		ID:           r.ID,
		SequenceID:   r.SequenceID,
		Status:       r.Status,
		ErrorMessage: r.ErrorMessage,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
		DurationMs:   r.DurationMs,
	}
	if r.Input.Valid && r.Input.String != "" && r.Input.String != "null" {
		if err := json.Unmarshal([]byte(r.Input.String), &exec.InputData); err != nil {
			return models.Execution{}, errors.Wrapf(err, "decode input of execution %s", r.ID)
		}
	}
	return exec, nil
}

const sequenceColumns = "id, name, description, active, last_run_at, created_at, updated_at"

const executionColumns = "id, sequence_id, status, input, error_message, started_at, completed_at, duration_ms"

// SaveSequence creates a sequence with its steps and returns its ID.
func (s *SQLStore) SaveSequence(ctx context.Context, seq models.Sequence) (string, error) {
	if seq.ID == "" {
		seq.ID = uuid.NewString()
	}
	now := s.now()
	if seq.CreatedAt.IsZero() {
		seq.CreatedAt = now
	}
	seq.UpdatedAt = now

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(
			"INSERT INTO sequences ("+sequenceColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)"),
			seq.ID, seq.Name, seq.Description, seq.Active, seq.LastRunAt, seq.CreatedAt, seq.UpdatedAt)
		if err != nil {
			return errors.Wrapf(err, "save sequence %s", seq.ID)
		}
		return insertSteps(ctx, tx, seq.ID, seq.Steps)
	})
	if err != nil {
		return "", err
	}
	return seq.ID, nil
}

func insertSteps(ctx context.Context, tx *sqlx.Tx, sequenceID string, steps []models.Step) error {
	query := tx.Rebind(`INSERT INTO sequence_steps (sequence_id, id, idx, kind, label, step_order, pos_x, pos_y, config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for i, step := range steps {
		cfg, err := models.EncodeStepConfig(step.Config)
		if err != nil {
			return errors.Wrapf(err, "encode config of step %s", step.ID)
		}
		var posX, posY *float64
		if step.Position != nil {
			posX, posY = &step.Position.X, &step.Position.Y
		}
		if _, err := tx.ExecContext(ctx, query,
			sequenceID, step.ID, i, string(step.Kind), step.Label, step.Order, posX, posY, string(cfg)); err != nil {
			return errors.Wrapf(err, "save step %s", step.ID)
		}
	}
	return nil
}

// GetSequence retrieves a sequence with its steps in insertion order.
func (s *SQLStore) GetSequence(ctx context.Context, id string) (models.Sequence, error) {
	var seq models.Sequence
	err := s.db.GetContext(ctx, &seq, s.db.Rebind("SELECT "+sequenceColumns+" FROM sequences WHERE id = ?"), id)
	if err == sql.ErrNoRows {
		return models.Sequence{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Sequence{}, errors.Wrapf(err, "get sequence %s", id)
	}

	var rows []stepRow
	err = s.db.SelectContext(ctx, &rows, s.db.Rebind(
		"SELECT id, kind, label, step_order, pos_x, pos_y, config FROM sequence_steps WHERE sequence_id = ? ORDER BY idx"), id)
	if err != nil {
		return models.Sequence{}, errors.Wrapf(err, "get steps of sequence %s", id)
	}
	seq.Steps = make([]models.Step, 0, len(rows))
	for _, row := range rows {
		step, err := row.toStep()
		if err != nil {
			return models.Sequence{}, err
		}
		seq.Steps = append(seq.Steps, step)
	}
	return seq, nil
}

func (s *SQLStore) ListSequences(ctx context.Context) ([]models.Sequence, error) {
	sequences := []models.Sequence{}
	err := s.db.SelectContext(ctx, &sequences, "SELECT "+sequenceColumns+
		", (SELECT COUNT(*) FROM sequence_steps WHERE sequence_steps.sequence_id = sequences.id) AS step_count"+
		" FROM sequences ORDER BY created_at DESC")
	if err != nil {
		return nil, errors.Wrap(err, "list sequences")
	}
	return sequences, nil
}

// UpdateSequence replaces the metadata and steps of a sequence.
func (s *SQLStore) UpdateSequence(ctx context.Context, seq models.Sequence) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(
			"UPDATE sequences SET name = ?, description = ?, active = ?, updated_at = ? WHERE id = ?"),
			seq.Name, seq.Description, seq.Active, s.now(), seq.ID)
		if err != nil {
			return errors.Wrapf(err, "update sequence %s", seq.ID)
		}
		if err := expectRow(res); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM sequence_steps WHERE sequence_id = ?"), seq.ID); err != nil {
			return errors.Wrapf(err, "clear steps of sequence %s", seq.ID)
		}
		return insertSteps(ctx, tx, seq.ID, seq.Steps)
	})
}

func (s *SQLStore) SetSequenceActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE sequences SET active = ?, updated_at = ? WHERE id = ?"), active, s.now(), id)
	if err != nil {
		return errors.Wrapf(err, "set sequence %s active", id)
	}
	return expectRow(res)
}

func (s *SQLStore) MarkSequenceRun(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE sequences SET last_run_at = ? WHERE id = ?"), at.UTC(), id)
	if err != nil {
		return errors.Wrapf(err, "mark sequence %s run", id)
	}
	return expectRow(res)
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreateExecution stores a new execution without step results.
func (s *SQLStore) CreateExecution(ctx context.Context, exec models.Execution) (string, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind("SELECT COUNT(*) FROM sequences WHERE id = ?"), exec.SequenceID); err != nil {
		return "", errors.Wrapf(err, "check sequence %s", exec.SequenceID)
	}
	if count == 0 {
		return "", storage.ErrNotFound
	}

	input, err := json.Marshal(exec.InputData)
	if err != nil {
		return "", errors.Wrap(err, "encode execution input")
	}
	exec.ID = uuid.NewString()
	if exec.StartedAt.IsZero() {
		exec.StartedAt = s.now()
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		"INSERT INTO executions ("+executionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)"),
		exec.ID, exec.SequenceID, exec.Status, string(input), exec.ErrorMessage, exec.StartedAt.UTC(), exec.CompletedAt, exec.DurationMs)
	if err != nil {
		return "", errors.Wrapf(err, "create execution for sequence %s", exec.SequenceID)
	}
	return exec.ID, nil
}

// lockExecution loads a running execution inside tx. On Postgres the row is
// locked until tx ends, so concurrent appends and finalization serialize;
// SQLite already serializes through its single connection.
func lockExecution(ctx context.Context, tx *sqlx.Tx, id string) (executionRow, error) {
	query := "SELECT " + executionColumns + " FROM executions WHERE id = ?"
	if tx.DriverName() == PostgresDriver {
		query += " FOR UPDATE"
	}
	var row executionRow
	err := tx.GetContext(ctx, &row, tx.Rebind(query), id)
	if err == sql.ErrNoRows {
		return executionRow{}, storage.ErrNotFound
	}
	if err != nil {
		return executionRow{}, errors.Wrapf(err, "get execution %s", id)
	}
	if row.Status.IsTerminal() {
		return executionRow{}, errors.Errorf("execution %s is already %s", id, row.Status)
	}
	return row, nil
}

// AppendStepResult adds a result after the ones already recorded.
func (s *SQLStore) AppendStepResult(ctx context.Context, executionID string, result models.StepResult) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := lockExecution(ctx, tx, executionID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO step_results
			(execution_id, seq, step_id, step_kind, status, result, error, started_at, completed_at, duration_ms)
			VALUES (?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM step_results WHERE execution_id = ?), ?, ?, ?, ?, ?, ?, ?, ?)`),
			executionID, executionID, result.StepID, string(result.StepKind), string(result.Status),
			result.Result, result.Error, result.StartedAt.UTC(), result.CompletedAt.UTC(), result.DurationMs)
		if err != nil {
			return errors.Wrapf(err, "append result of step %s", result.StepID)
		}
		return nil
	})
}

// FinalizeExecution moves a running execution to a terminal status.
func (s *SQLStore) FinalizeExecution(ctx context.Context, executionID string, status models.ExecutionStatus, errorMessage string, completedAt time.Time) error {
	if !status.IsTerminal() {
		return errors.Errorf("cannot finalize execution with status %s", status)
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		row, err := lockExecution(ctx, tx, executionID)
		if err != nil {
			return err
		}
		duration := completedAt.Sub(row.StartedAt).Milliseconds()
		_, err = tx.ExecContext(ctx, tx.Rebind(
			"UPDATE executions SET status = ?, error_message = ?, completed_at = ?, duration_ms = ? WHERE id = ?"),
			string(status), errorMessage, completedAt.UTC(), duration, executionID)
		if err != nil {
			return errors.Wrapf(err, "finalize execution %s", executionID)
		}
		return nil
	})
}

func (s *SQLStore) GetExecution(ctx context.Context, id string) (models.Execution, error) {
	var row executionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind("SELECT "+executionColumns+" FROM executions WHERE id = ?"), id)
	if err == sql.ErrNoRows {
		return models.Execution{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Execution{}, errors.Wrapf(err, "get execution %s", id)
	}
	return s.withResults(ctx, row)
}

// ListExecutions returns the sequence's executions, newest first.
func (s *SQLStore) ListExecutions(ctx context.Context, sequenceID string) ([]models.Execution, error) {
	var rows []executionRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		"SELECT "+executionColumns+" FROM executions WHERE sequence_id = ? ORDER BY started_at DESC"), sequenceID)
	if err != nil {
		return nil, errors.Wrapf(err, "list executions of sequence %s", sequenceID)
	}
	executions := make([]models.Execution, 0, len(rows))
	for _, row := range rows {
		exec, err := s.withResults(ctx, row)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	return executions, nil
}

func (s *SQLStore) withResults(ctx context.Context, row executionRow) (models.Execution, error) {
	exec, err := row.toExecution()
	if err != nil {
		return models.Execution{}, err
	}
	exec.StepResults = []models.StepResult{}
	err = s.db.SelectContext(ctx, &exec.StepResults, s.db.Rebind(`SELECT step_id, step_kind, status, result, error, started_at, completed_at, duration_ms
		FROM step_results WHERE execution_id = ? ORDER BY seq`), row.ID)
	if err != nil {
		return models.Execution{}, errors.Wrapf(err, "get step results of execution %s", row.ID)
	}
	return exec, nil
}
