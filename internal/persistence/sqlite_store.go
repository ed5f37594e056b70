package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/subtitle-batch-translator/internal/engine"
	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/subtitle"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
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
		content, err := migrationFiles.ReadFile(path.Join("migrations", entry.Name()))
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

// migrationVersion extracts the leading integer from a migration filename ("001_jobs.sql" → 1).
func migrationVersion(name string) int {
	end := strings.IndexFunc(name, func(r rune) bool { return r < '0' || r > '9' })
	if end == 0 {
		return 0
	}
	if end < 0 {
		end = len(name)
	}
	n, _ := strconv.Atoi(name[:end])
	return n
}

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.TranslationJob, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, session_id, source, dedupe_key, target_language, prompt, provider, status, error, created_at, updated_at
		 FROM jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.TranslationJob, 0)
	for rows.Next() {
		var item jobs.TranslationJob
		var status string
		if err := rows.Scan(
			&item.ID,
			&item.SessionID,
			&item.Source,
			&item.DedupeKey,
			&item.Payload.TargetLanguage,
			&item.Payload.Prompt,
			&item.Payload.Provider,
			&status,
			&item.Error,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		item.Status = jobs.Status(status)
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.TranslationJob) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
			id, session_id, source, dedupe_key, target_language, prompt, provider, status, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id=excluded.session_id,
			source=excluded.source,
			dedupe_key=excluded.dedupe_key,
			target_language=excluded.target_language,
			prompt=excluded.prompt,
			provider=excluded.provider,
			status=excluded.status,
			error=excluded.error,
			updated_at=excluded.updated_at`,
		job.ID,
		job.SessionID,
		job.Source,
		job.DedupeKey,
		job.Payload.TargetLanguage,
		job.Payload.Prompt,
		job.Payload.Provider,
		string(job.Status),
		job.Error,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) AppendJobEvent(ctx context.Context, event JobEvent) error {
	createdAt := event.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO job_events (job_id, kind, detail, created_at) VALUES (?, ?, ?, ?)`,
		event.JobID,
		event.Kind,
		event.Detail,
		createdAt,
	)
	return err
}

func (s *SQLiteStore) ListJobEvents(ctx context.Context, jobID string) ([]JobEvent, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT job_id, kind, detail, created_at
		 FROM job_events
		 WHERE job_id = ?
		 ORDER BY id ASC`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]JobEvent, 0)
	for rows.Next() {
		var ev JobEvent
		if err := rows.Scan(&ev.JobID, &ev.Kind, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ret = append(ret, ev)
	}
	return ret, rows.Err()
}

// DeleteJobData removes the events recorded for a job.
func (s *SQLiteStore) DeleteJobData(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM job_events WHERE job_id = ?`, jobID)
	return err
}

func (s *SQLiteStore) SaveSession(ctx context.Context, rec SessionRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sessions (
			id, file_name, format, target_language, prompt, provider, source_language, message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_name=excluded.file_name,
			format=excluded.format,
			target_language=excluded.target_language,
			prompt=excluded.prompt,
			provider=excluded.provider,
			source_language=excluded.source_language,
			message=excluded.message,
			updated_at=excluded.updated_at`,
		rec.ID,
		rec.FileName,
		string(rec.Format),
		rec.TargetLanguage,
		rec.Prompt,
		rec.Provider,
		rec.SourceLanguage,
		rec.Message,
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
	)
	return err
}

// SaveItems replaces the stored items of a session in one transaction.
func (s *SQLiteStore) SaveItems(ctx context.Context, sessionID string, items []engine.Item) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM session_items WHERE session_id = ?`, sessionID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO session_items (
		session_id, item_id, start_ms, end_ms, source_text, translated_text, status, error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err = stmt.ExecContext(
			ctx,
			sessionID,
			it.ID,
			it.StartTime.Duration().Milliseconds(),
			it.EndTime.Duration().Milliseconds(),
			it.SourceText,
			it.TranslatedText,
			string(it.Status),
			it.Error,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadSessions(ctx context.Context) ([]SessionRecord, error) {
	return s.querySessions(ctx, `SELECT id, file_name, format, target_language, prompt, provider, source_language, message, created_at, updated_at
		 FROM sessions
		 ORDER BY created_at ASC`)
}

// ListIdleSessions returns sessions not updated since before.
func (s *SQLiteStore) ListIdleSessions(ctx context.Context, before time.Time) ([]SessionRecord, error) {
	return s.querySessions(ctx, `SELECT id, file_name, format, target_language, prompt, provider, source_language, message, created_at, updated_at
		 FROM sessions
		 WHERE updated_at < ?
		 ORDER BY updated_at ASC`, before.UTC())
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...any) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]SessionRecord, 0)
	for rows.Next() {
		var rec SessionRecord
		var format string
		if err := rows.Scan(
			&rec.ID,
			&rec.FileName,
			&format,
			&rec.TargetLanguage,
			&rec.Prompt,
			&rec.Provider,
			&rec.SourceLanguage,
			&rec.Message,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rec.Format = subtitle.Format(format)
		ret = append(ret, rec)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) LoadItems(ctx context.Context, sessionID string) ([]engine.Item, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT item_id, start_ms, end_ms, source_text, translated_text, status, error
		 FROM session_items
		 WHERE session_id = ?
		 ORDER BY item_id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]engine.Item, 0)
	for rows.Next() {
		var (
			it             engine.Item
			startMs, endMs int64
			status         string
		)
		if err := rows.Scan(&it.ID, &startMs, &endMs, &it.SourceText, &it.TranslatedText, &status, &it.Error); err != nil {
			return nil, err
		}
		it.StartTime = subtitle.Timestamp(time.Duration(startMs) * time.Millisecond)
		it.EndTime = subtitle.Timestamp(time.Duration(endMs) * time.Millisecond)
		it.Status = engine.Status(status)
		if !it.Status.Valid() {
			return nil, fmt.Errorf("item %d of session %s has invalid status %q", it.ID, sessionID, status)
		}
		ret = append(ret, it)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (SessionRecord, bool, error) {
	recs, err := s.querySessions(ctx, `SELECT id, file_name, format, target_language, prompt, provider, source_language, message, created_at, updated_at
		 FROM sessions
		 WHERE id = ?`, id)
	if err != nil {
		return SessionRecord{}, false, err
	}
	if len(recs) == 0 {
		return SessionRecord{}, false, nil
	}
	return recs[0], true, nil
}

// DeleteSession removes a session and its items.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM session_items WHERE session_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = ErrSessionNotFound
		return err
	}
	return tx.Commit()
}

var ErrSessionNotFound = errors.New("session not found")
