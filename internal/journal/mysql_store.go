package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "tokenflow/internal/errors"

	"github.com/go-sql-driver/mysql"
)

// MySQLConfig describes the MySQL connection of the journal.
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MySQLStore records runs in the workflow_runs and workflow_steps tables.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore connects, applies pending migrations and returns the store.
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "migrate journal schema")
	}
	return &MySQLStore{db: db}, nil
}

func openDatabase(ctx context.Context, cfg MySQLConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN must not be empty")
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "open MySQL")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "ping MySQL")
	}
	return db, nil
}

// Create implements Store.
func (s *MySQLStore) Create(ctx context.Context, run *Run) error {
	if err := validateRun(run); err != nil {
		return err
	}
	now := time.Now().Unix()
	if run.CreatedAt == 0 {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	attrs, err := marshalAttributes(run.Attributes)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode run attributes")
	}

	const stmt = `INSERT INTO workflow_runs
        (id, network, state, status, attributes, error_code, last_error, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, '', '', ?, ?)`
	_, err = s.db.ExecContext(ctx, stmt,
		run.ID,
		run.Network,
		run.State,
		run.Status,
		attrs,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrRunConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert run")
	}
	return nil
}

// Transition appends step and moves the run to step.To in one transaction.
func (s *MySQLStore) Transition(ctx context.Context, id string, step Step) error {
	if step.At == 0 {
		step.At = time.Now().Unix()
	}
	stepAttrs, err := marshalAttributes(step.Attributes)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode step attributes")
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockAttributes(ctx, tx, id)
		if err != nil {
			return err
		}
		merged, err := marshalAttributes(mergeAttributes(current, step.Attributes))
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode run attributes")
		}
		const insertStep = `INSERT INTO workflow_steps (run_id, from_state, to_state, elapsed_ms, attributes, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, insertStep, id, step.From, step.To, step.ElapsedMillis, stepAttrs, step.At); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert step")
		}
		const updateRun = `UPDATE workflow_runs SET state = ?, attributes = ?, updated_at = ? WHERE id = ?`
		if _, err := tx.ExecContext(ctx, updateRun, step.To, merged, time.Now().Unix(), id); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "update run state")
		}
		return nil
	})
}

// Finish records the outcome of the run.
func (s *MySQLStore) Finish(ctx context.Context, id string, done Completion) error {
	if !IsValidStatus(done.Status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "unknown run status "+string(done.Status))
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockAttributes(ctx, tx, id)
		if err != nil {
			return err
		}
		merged, err := marshalAttributes(mergeAttributes(current, done.Attributes))
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode run attributes")
		}
		const stmt = `UPDATE workflow_runs SET status = ?, state = COALESCE(NULLIF(?, ''), state), error_code = ?, last_error = ?,
        attributes = ?, updated_at = ? WHERE id = ?`
		if _, err := tx.ExecContext(ctx, stmt,
			done.Status,
			done.State,
			string(done.ErrorCode),
			done.LastError,
			merged,
			time.Now().Unix(),
			id,
		); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "finish run")
		}
		return nil
	})
}

const selectRun = `SELECT id, network, state, status, attributes, error_code, last_error, created_at, updated_at
        FROM workflow_runs`

// Get returns the run with its steps in order.
func (s *MySQLStore) Get(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}

	const selectSteps = `SELECT from_state, to_state, elapsed_ms, attributes, created_at
        FROM workflow_steps WHERE run_id = ? ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, selectSteps, id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query steps")
	}
	defer rows.Close()
	for rows.Next() {
		var step Step
		var attrs sql.NullString
		if err := rows.Scan(&step.From, &step.To, &step.ElapsedMillis, &attrs, &step.At); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan step")
		}
		if step.Attributes, err = unmarshalAttributes(attrs); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode step attributes")
		}
		run.Steps = append(run.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate steps")
	}
	return run, nil
}

// List returns the most recently updated runs first, without their steps.
func (s *MySQLStore) List(ctx context.Context, limit int) ([]*Run, error) {
	limit = normalizeLimit(limit)
	rows, err := s.db.QueryContext(ctx, selectRun+` ORDER BY updated_at DESC, created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query runs")
	}
	defer rows.Close()

	runs := make([]*Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate runs")
	}
	return runs, nil
}

// Close closes the database handle.
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *MySQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "commit transaction")
	}
	return nil
}

func lockAttributes(ctx context.Context, tx *sql.Tx, id string) (map[string]string, error) {
	var raw sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT attributes FROM workflow_runs WHERE id = ? FOR UPDATE`, id).Scan(&raw)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "lock run")
	}
	attrs, err := unmarshalAttributes(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode run attributes")
	}
	return attrs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var attrs, lastError sql.NullString
	if err := row.Scan(
		&run.ID,
		&run.Network,
		&run.State,
		&run.Status,
		&attrs,
		&run.ErrorCode,
		&lastError,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan run")
	}
	run.LastError = lastError.String
	decoded, err := unmarshalAttributes(attrs)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode run attributes")
	}
	run.Attributes = decoded
	return &run, nil
}

func marshalAttributes(attrs map[string]string) (sql.NullString, error) {
	if len(attrs) == 0 {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func unmarshalAttributes(raw sql.NullString) (map[string]string, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var attrs map[string]string
	if err := json.Unmarshal([]byte(raw.String), &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

var _ Store = (*MySQLStore)(nil)
