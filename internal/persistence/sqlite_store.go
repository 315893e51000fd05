package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MimeLyc/srt-translator/internal/jobs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore persists jobs, their results and chunk checkpoints.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename ("001_init.sql" -> 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

const jobColumns = `id, name, source_path, target_language, origin, dedupe_key, retry_of, status, progress,
	error, error_kind, chunks, source_language, output_path, result, created_at, updated_at, started_at, finished_at`

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.TranslationJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.TranslationJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// GetJob returns one job, or false when it does not exist.
func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*jobs.TranslationJob, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*jobs.TranslationJob, error) {
	var item jobs.TranslationJob
	var status string
	var startedAt, finishedAt sql.NullTime
	if err := row.Scan(
		&item.ID,
		&item.Name,
		&item.SourcePath,
		&item.TargetLanguage,
		&item.Origin,
		&item.DedupeKey,
		&item.RetryOf,
		&status,
		&item.Progress,
		&item.Error,
		&item.ErrorKind,
		&item.Chunks,
		&item.SourceLanguage,
		&item.OutputPath,
		&item.Result,
		&item.CreatedAt,
		&item.UpdatedAt,
		&startedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}
	parsed, err := jobs.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", item.ID, err)
	}
	item.Status = parsed
	if startedAt.Valid {
		t := startedAt.Time
		item.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		item.FinishedAt = &t
	}
	return &item, nil
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

// UpsertJob writes a job row. A row that already reached completed or failed
// is final and later writes for it are ignored.
func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.TranslationJob) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			source_path=excluded.source_path,
			target_language=excluded.target_language,
			origin=excluded.origin,
			dedupe_key=excluded.dedupe_key,
			retry_of=excluded.retry_of,
			status=excluded.status,
			progress=excluded.progress,
			error=excluded.error,
			error_kind=excluded.error_kind,
			chunks=excluded.chunks,
			source_language=excluded.source_language,
			output_path=excluded.output_path,
			result=excluded.result,
			updated_at=excluded.updated_at,
			started_at=excluded.started_at,
			finished_at=excluded.finished_at
		WHERE jobs.status NOT IN ('completed', 'failed')`,
		job.ID,
		job.Name,
		job.SourcePath,
		job.TargetLanguage,
		job.Origin,
		job.DedupeKey,
		job.RetryOf,
		job.Status.String(),
		job.Progress,
		job.Error,
		job.ErrorKind,
		job.Chunks,
		job.SourceLanguage,
		job.OutputPath,
		job.Result,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
		nullTime(job.StartedAt),
		nullTime(job.FinishedAt),
	)
	return err
}

func (s *SQLiteStore) SaveChunkCheckpoint(ctx context.Context, cp ChunkCheckpoint) error {
	payload, err := json.Marshal(cp.Entries)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO job_chunk_checkpoints (job_id, ordinal, first_index, entry_count, entries_json, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id, ordinal) DO UPDATE SET
			first_index=excluded.first_index,
			entry_count=excluded.entry_count,
			entries_json=excluded.entries_json,
			updated_at=excluded.updated_at`,
		cp.JobID,
		cp.Ordinal,
		cp.FirstIndex,
		cp.Count,
		string(payload),
		time.Now().UTC(),
	)
	return err
}

func (s *SQLiteStore) LoadChunkCheckpoints(ctx context.Context, jobID string) ([]ChunkCheckpoint, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT job_id, ordinal, first_index, entry_count, entries_json, updated_at
		 FROM job_chunk_checkpoints
		 WHERE job_id = ?
		 ORDER BY ordinal ASC`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]ChunkCheckpoint, 0)
	for rows.Next() {
		var item ChunkCheckpoint
		var entriesJSON string
		if err := rows.Scan(&item.JobID, &item.Ordinal, &item.FirstIndex, &item.Count, &entriesJSON, &item.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(entriesJSON), &item.Entries); err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// DeleteJobData removes the chunk checkpoints of a job.
func (s *SQLiteStore) DeleteJobData(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM job_chunk_checkpoints WHERE job_id = ?`, jobID)
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
