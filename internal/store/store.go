// Package store persists jobs, analyses and label candidates in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"callsense/internal/model"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	file_path   TEXT NOT NULL,
	format      TEXT NOT NULL,
	status      TEXT NOT NULL,
	transcript  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

CREATE TABLE IF NOT EXISTS analyses (
	id            TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL UNIQUE REFERENCES jobs(id),
	product_names TEXT NOT NULL DEFAULT '[]',
	sentiment     TEXT NOT NULL,
	category      TEXT NOT NULL,
	summary       TEXT NOT NULL,
	detail        TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS labels (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	kind    TEXT NOT NULL,
	name    TEXT NOT NULL,
	active  INTEGER NOT NULL DEFAULT 1,
	UNIQUE(kind, name)
);
`

// Store is the SQLite-backed persistence collaborator.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (and migrates) the database at path. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	// pragmas in the DSN apply to every pooled connection
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) stamp() int64 { return s.now().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

// CreateJob inserts a new PENDING job. An empty ID gets a fresh UUID.
func (s *Store) CreateJob(ctx context.Context, job model.Job) (model.Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Format == "" {
		job.Format = model.FormatOf(job.FilePath)
	}
	job.Status = model.StatusPending
	now := s.stamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, file_path, format, status, transcript, error, created_at, updated_at) VALUES (?, ?, ?, ?, ?, '', ?, ?)`,
		job.ID, job.FilePath, job.Format, string(job.Status), job.Transcript, now, now)
	if err != nil {
		return model.Job{}, fmt.Errorf("insert job: %w", err)
	}
	job.CreatedAt, job.UpdatedAt = fromMillis(now), fromMillis(now)
	return job, nil
}

const jobColumns = `id, file_path, format, status, transcript, error, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (model.Job, error) {
	var (
		j                model.Job
		status           string
		created, updated int64
	)
	if err := row.Scan(&j.ID, &j.FilePath, &j.Format, &status, &j.Transcript, &j.Error, &created, &updated); err != nil {
		return model.Job{}, err
	}
	j.Status = model.Status(status)
	j.CreatedAt, j.UpdatedAt = fromMillis(created), fromMillis(updated)
	return j, nil
}

// GetJob returns ErrNotFound for unknown ids.
func (s *Store) GetJob(ctx context.Context, id string) (model.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, status model.Status, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateStatus sets a job's status. detail is stored for FAILED jobs and
// cleared otherwise.
func (s *Store) UpdateStatus(ctx context.Context, id string, status model.Status, detail string) error {
	if !status.Valid() {
		return fmt.Errorf("status %q: %w", status, ErrInvalidTransition)
	}
	if status != model.StatusFailed {
		detail = ""
	}
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), detail, s.stamp(), id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return mustAffect(res, id)
}

// SaveTranscript records the transcript produced for a job.
func (s *Store) SaveTranscript(ctx context.Context, id, transcript string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET transcript = ?, updated_at = ? WHERE id = ?`, transcript, s.stamp(), id)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return mustAffect(res, id)
}

// ResetJob moves a FAILED job back to PENDING. With force, ANALYZING jobs
// left behind by a crashed worker are reset too.
func (s *Store) ResetJob(ctx context.Context, id string, force bool) error {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case job.Status == model.StatusFailed:
	case force && job.Status == model.StatusAnalyzing:
	default:
		return fmt.Errorf("job %s is %s: %w", id, job.Status, ErrInvalidTransition)
	}
	return s.UpdateStatus(ctx, id, model.StatusPending, "")
}

func mustAffect(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

const analysisColumns = `id, job_id, product_names, sentiment, category, summary, detail, source, created_at, updated_at`

func scanAnalysis(row scanner) (model.Analysis, error) {
	var (
		a                model.Analysis
		products         string
		sentiment        string
		created, updated int64
	)
	if err := row.Scan(&a.ID, &a.JobID, &products, &sentiment, &a.Category, &a.Summary, &a.Detail, &a.Source, &created, &updated); err != nil {
		return model.Analysis{}, err
	}
	if err := json.Unmarshal([]byte(products), &a.ProductNames); err != nil {
		return model.Analysis{}, fmt.Errorf("decode product names: %w", err)
	}
	a.Sentiment = model.Sentiment(sentiment)
	a.CreatedAt, a.UpdatedAt = fromMillis(created), fromMillis(updated)
	return a, nil
}

// GetAnalysis returns the analysis of a job or ErrNotFound.
func (s *Store) GetAnalysis(ctx context.Context, jobID string) (model.Analysis, error) {
	a, err := scanAnalysis(s.db.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE job_id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Analysis{}, fmt.Errorf("analysis for job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return model.Analysis{}, fmt.Errorf("get analysis: %w", err)
	}
	return a, nil
}

// HasAnalysis reports whether a job already has an analysis.
func (s *Store) HasAnalysis(ctx context.Context, jobID string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM analyses WHERE job_id = ?`, jobID).Scan(&n); err != nil {
		return false, fmt.Errorf("count analyses: %w", err)
	}
	return n > 0, nil
}

// UpsertAnalysis creates or overwrites the analysis of a.JobID inside one
// transaction and returns it with its id. The transaction is rolled back on
// any error.
func (s *Store) UpsertAnalysis(ctx context.Context, a model.Analysis) (out model.Analysis, err error) {
	products := a.ProductNames
	if products == nil {
		products = []string{}
	}
	encoded, err := json.Marshal(products)
	if err != nil {
		return model.Analysis{}, fmt.Errorf("encode product names: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Analysis{}, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.stamp()
	var (
		existingID string
		created    int64
	)
	err = tx.QueryRowContext(ctx, `SELECT id, created_at FROM analyses WHERE job_id = ?`, a.JobID).Scan(&existingID, &created)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		created = now
		_, err = tx.ExecContext(ctx,
			`INSERT INTO analyses (`+analysisColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.JobID, string(encoded), string(a.Sentiment), a.Category, a.Summary, a.Detail, a.Source, now, now)
	case err == nil:
		a.ID = existingID
		_, err = tx.ExecContext(ctx,
			`UPDATE analyses SET product_names = ?, sentiment = ?, category = ?, summary = ?, detail = ?, source = ?, updated_at = ? WHERE id = ?`,
			string(encoded), string(a.Sentiment), a.Category, a.Summary, a.Detail, a.Source, now, a.ID)
	}
	if err != nil {
		return model.Analysis{}, fmt.Errorf("upsert analysis: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return model.Analysis{}, fmt.Errorf("commit: %w", err)
	}
	a.ProductNames = products
	a.CreatedAt, a.UpdatedAt = fromMillis(created), fromMillis(now)
	return a, nil
}

// AnalysisRow pairs an analysis with its job for reporting.
type AnalysisRow struct {
	Job      model.Job
	Analysis model.Analysis
}

// ListAnalyses returns every analysis with its job, newest first.
func (s *Store) ListAnalyses(ctx context.Context) ([]AnalysisRow, error) {
	cols := make([]string, 0, 18)
	for _, c := range strings.Split(analysisColumns, ", ") {
		cols = append(cols, "a."+c)
	}
	for _, c := range strings.Split(jobColumns, ", ") {
		cols = append(cols, "j."+c)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+strings.Join(cols, ", ")+` FROM analyses a JOIN jobs j ON j.id = a.job_id ORDER BY a.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()
	var out []AnalysisRow
	for rows.Next() {
		var (
			r                   AnalysisRow
			products, sentiment string
			aCreated, aUpdated  int64
			status              string
			jCreated, jUpdated  int64
		)
		if err := rows.Scan(
			&r.Analysis.ID, &r.Analysis.JobID, &products, &sentiment, &r.Analysis.Category, &r.Analysis.Summary,
			&r.Analysis.Detail, &r.Analysis.Source, &aCreated, &aUpdated,
			&r.Job.ID, &r.Job.FilePath, &r.Job.Format, &status, &r.Job.Transcript, &r.Job.Error, &jCreated, &jUpdated,
		); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		if err := json.Unmarshal([]byte(products), &r.Analysis.ProductNames); err != nil {
			return nil, fmt.Errorf("decode product names: %w", err)
		}
		r.Analysis.Sentiment = model.Sentiment(sentiment)
		r.Analysis.CreatedAt, r.Analysis.UpdatedAt = fromMillis(aCreated), fromMillis(aUpdated)
		r.Job.Status = model.Status(status)
		r.Job.CreatedAt, r.Job.UpdatedAt = fromMillis(jCreated), fromMillis(jUpdated)
		out = append(out, r)
	}
	return out, rows.Err()
}
