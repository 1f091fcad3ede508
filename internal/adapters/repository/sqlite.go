package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/okian/mimic/internal/domain/model"
	"github.com/okian/mimic/pkg/metrics"
)

const schemaVersion = 1

// timeLayout is fixed width so timestamp columns sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const pipelineColumns = `id, transcript, selected_models, status, persona_analysis, system_prompt,
	evaluation_results, best_model, judge_comments, error_message, created_at, updated_at`

var schemaStatements = []string{ //nolint:gochecknoglobals // schema
	`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS pipelines (
		id                 TEXT PRIMARY KEY,
		transcript         TEXT NOT NULL,
		selected_models    TEXT NOT NULL,
		status             TEXT NOT NULL,
		persona_analysis   TEXT,
		system_prompt      TEXT,
		evaluation_results TEXT,
		best_model         TEXT,
		judge_comments     TEXT,
		error_message      TEXT,
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pipelines_created_at ON pipelines(created_at)`,
}

// SQLiteStore persists pipelines in a single SQLite table. Nested values
// are stored as JSON columns.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  config
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// The special path ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if path == "" {
		return nil, persistenceError("open", errors.New("sqlite path is empty"))
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, persistenceError("open", fmt.Errorf("create data dir: %w", err))
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, persistenceError("open", fmt.Errorf("open sqlite db: %w", err))
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, persistenceError("open", fmt.Errorf("apply pragma %q: %w", pragma, execErr))
		}
	}

	s := &SQLiteStore{db: db, path: path, cfg: cfg}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, persistenceError("open", err)
	}
	metrics.UpdatePipelinesStored(s.Count(ctx))
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	var version int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version != schemaVersion:
		return fmt.Errorf("%w: database has %d, want %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// Path returns the database location.
func (s *SQLiteStore) Path() string { return s.path }

// Create inserts a new pending pipeline.
func (s *SQLiteStore) Create(ctx context.Context, in model.NewPipeline) (*model.Pipeline, error) {
	defer observe("create", time.Now())

	now := s.cfg.now()
	p := &model.Pipeline{
		ID:             s.cfg.newID(),
		Transcript:     in.Transcript,
		SelectedModels: append([]string(nil), in.SelectedModels...),
		Status:         model.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	row, err := encodeRow(p)
	if err != nil {
		metrics.RecordStoreError("create")
		return nil, persistenceError("create", err)
	}

	err = retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO pipelines (`+pipelineColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.args()...)
		return execErr
	})
	if err != nil {
		metrics.RecordStoreError("create")
		return nil, persistenceError("create", fmt.Errorf("insert pipeline: %w", err))
	}
	metrics.UpdatePipelinesStored(s.Count(ctx))
	return p, nil
}

// Get loads the pipeline with id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Pipeline, error) {
	defer observe("get", time.Now())

	p, err := scanPipeline(s.db.QueryRowContext(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.RecordStoreError("get")
		return nil, persistenceError("get", err)
	}
	return p, nil
}

// Update applies patch inside a transaction so the read and write are atomic.
func (s *SQLiteStore) Update(ctx context.Context, id string, patch model.Patch) (*model.Pipeline, error) {
	defer observe("update", time.Now())

	var out *model.Pipeline
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		p, err := scanPipeline(tx.QueryRowContext(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = ?`, id))
		if err != nil {
			return err
		}
		if err := checkTransition(p.Status, patch); err != nil {
			return err
		}
		patch.Apply(p)
		p.UpdatedAt = s.cfg.now()

		row, err := encodeRow(p)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE pipelines
			 SET status = ?, persona_analysis = ?, system_prompt = ?, evaluation_results = ?,
			     best_model = ?, judge_comments = ?, error_message = ?, updated_at = ?
			 WHERE id = ?`,
			row.status, row.personaAnalysis, row.systemPrompt, row.evaluationResults,
			row.bestModel, row.judgeComments, row.errorMessage, row.updatedAt, row.id)
		if err != nil {
			return fmt.Errorf("update pipeline: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		out = p
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if errors.Is(err, ErrInvalidTransition) {
		return nil, err
	}
	if err != nil {
		metrics.RecordStoreError("update")
		return nil, persistenceError("update", err)
	}
	return out, nil
}

// List returns every pipeline, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]*model.Pipeline, error) {
	defer observe("list", time.Now())

	rows, err := s.db.QueryContext(ctx, `SELECT `+pipelineColumns+` FROM pipelines ORDER BY created_at DESC, id ASC`)
	if err != nil {
		metrics.RecordStoreError("list")
		return nil, persistenceError("list", err)
	}
	defer rows.Close()

	var out []*model.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			metrics.RecordStoreError("list")
			return nil, persistenceError("list", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		metrics.RecordStoreError("list")
		return nil, persistenceError("list", err)
	}
	return out, nil
}

// Count returns the number of stored pipelines, or 0 when the query fails.
func (s *SQLiteStore) Count(ctx context.Context) int {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pipelines`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// pipelineRow is the column encoding of a pipeline.
type pipelineRow struct {
	id                string
	transcript        string
	selectedModels    string
	status            string
	personaAnalysis   sql.NullString
	systemPrompt      sql.NullString
	evaluationResults sql.NullString
	bestModel         sql.NullString
	judgeComments     sql.NullString
	errorMessage      sql.NullString
	createdAt         string
	updatedAt         string
}

func (r pipelineRow) args() []any {
	return []any{
		r.id, r.transcript, r.selectedModels, r.status, r.personaAnalysis, r.systemPrompt,
		r.evaluationResults, r.bestModel, r.judgeComments, r.errorMessage, r.createdAt, r.updatedAt,
	}
}

func encodeRow(p *model.Pipeline) (pipelineRow, error) {
	models, err := json.Marshal(nonNil(p.SelectedModels))
	if err != nil {
		return pipelineRow{}, fmt.Errorf("encode selected models: %w", err)
	}
	row := pipelineRow{
		id:             p.ID,
		transcript:     p.Transcript,
		selectedModels: string(models),
		status:         string(p.Status),
		systemPrompt:   nullable(p.SystemPrompt),
		bestModel:      nullable(p.BestModel),
		judgeComments:  nullable(p.JudgeComments),
		errorMessage:   nullable(p.ErrorMessage),
		createdAt:      p.CreatedAt.UTC().Format(timeLayout),
		updatedAt:      p.UpdatedAt.UTC().Format(timeLayout),
	}
	if p.PersonaAnalysis != nil {
		b, err := json.Marshal(p.PersonaAnalysis)
		if err != nil {
			return pipelineRow{}, fmt.Errorf("encode persona analysis: %w", err)
		}
		row.personaAnalysis = sql.NullString{String: string(b), Valid: true}
	}
	if p.EvaluationResults != nil {
		b, err := json.Marshal(p.EvaluationResults)
		if err != nil {
			return pipelineRow{}, fmt.Errorf("encode evaluation results: %w", err)
		}
		row.evaluationResults = sql.NullString{String: string(b), Valid: true}
	}
	return row, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPipeline(sc rowScanner) (*model.Pipeline, error) {
	var r pipelineRow
	if err := sc.Scan(
		&r.id, &r.transcript, &r.selectedModels, &r.status, &r.personaAnalysis, &r.systemPrompt,
		&r.evaluationResults, &r.bestModel, &r.judgeComments, &r.errorMessage, &r.createdAt, &r.updatedAt,
	); err != nil {
		return nil, err
	}

	p := &model.Pipeline{
		ID:            r.id,
		Transcript:    r.transcript,
		Status:        model.Status(r.status),
		SystemPrompt:  fromNullable(r.systemPrompt),
		BestModel:     fromNullable(r.bestModel),
		JudgeComments: fromNullable(r.judgeComments),
		ErrorMessage:  fromNullable(r.errorMessage),
	}
	if err := json.Unmarshal([]byte(r.selectedModels), &p.SelectedModels); err != nil {
		return nil, fmt.Errorf("decode selected models: %w", err)
	}
	if r.personaAnalysis.Valid {
		var a model.PersonaAnalysis
		if err := json.Unmarshal([]byte(r.personaAnalysis.String), &a); err != nil {
			return nil, fmt.Errorf("decode persona analysis: %w", err)
		}
		p.PersonaAnalysis = &a
	}
	if r.evaluationResults.Valid {
		if err := json.Unmarshal([]byte(r.evaluationResults.String), &p.EvaluationResults); err != nil {
			return nil, fmt.Errorf("decode evaluation results: %w", err)
		}
	}
	var err error
	if p.CreatedAt, err = time.Parse(timeLayout, r.createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(timeLayout, r.updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	return p, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
