// Package logstore keeps the append-only record of every model exchange in a
// workspace, one SQLite row per step plus a readable transcript per step.
package logstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joss/genie/internal/domain"
	"github.com/joss/genie/internal/logging"
)

const (
	// DirName is the log directory below the workspace memory root.
	DirName = "logs"
	dbName  = "entries.db"
	// ArchiveLayout formats the suffix of archived log directories.
	ArchiveLayout = "2006-01-02-15-04-05"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("log store is closed")

// Entry is one recorded exchange.
type Entry struct {
	ID        string            `json:"id"`
	Seq       int               `json:"seq"`
	Step      string            `json:"step"`
	Model     string            `json:"model"`
	Messages  []domain.Message  `json:"messages"`
	Usage     domain.TokenUsage `json:"usage"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Store is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	dir    string
	db     *sql.DB
	now    func() time.Time
	logger *logging.Logger
}

// Dir returns <memoryRoot>/logs.
func Dir(memoryRoot string) string {
	return filepath.Join(memoryRoot, DirName)
}

// Open opens (creating if needed) the log directory dir.
func Open(dir string) (*Store, error) {
	s := &Store{dir: dir, now: time.Now, logger: logging.New("logstore")}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) open() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	db, err := sql.Open(driverName, dsn(filepath.Join(s.dir, dbName)))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	s.db = db
	return nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL UNIQUE,
		step TEXT NOT NULL,
		model TEXT NOT NULL,
		messages_json TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		image_tokens INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_step ON entries(step);
	`
	_, err := db.Exec(schema)
	return err
}

// Path returns the live log directory.
func (s *Store) Path() string { return s.dir }

// Close releases the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Append commits e before returning and fills in its ID, Seq and CreatedAt.
// The step transcript is written afterwards; failing to write it is logged
// and not returned.
func (s *Store) Append(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	if e.Step == "" {
		return errors.New("entry step is required")
	}

	msgs, err := json.Marshal(e.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM entries`).Scan(&seq); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	created := s.now().UTC()
	id := ulid.MustNew(ulid.Timestamp(created), ulid.DefaultEntropy()).String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (id, seq, step, model, messages_json, prompt_tokens, completion_tokens, image_tokens, cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, seq, e.Step, e.Model, string(msgs), e.Usage.PromptTokens, e.Usage.CompletionTokens, e.Usage.ImageTokens, e.Usage.Cost, created.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	e.ID, e.Seq, e.CreatedAt = id, seq, created
	if err := s.writeTranscript(e); err != nil {
		s.logger.Warn("transcript_write_failed", map[string]interface{}{"step": e.Step}, err)
	}
	return nil
}

func (s *Store) writeTranscript(e *Entry) error {
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(e.Step) + ".txt"
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(Transcript(e))
	return err
}

// List returns every entry in append order.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, step, model, messages_json, prompt_tokens, completion_tokens, image_tokens, cost, created_at
		FROM entries ORDER BY seq
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var msgs string
		var created int64
		if err := rows.Scan(&e.ID, &e.Seq, &e.Step, &e.Model, &msgs,
			&e.Usage.PromptTokens, &e.Usage.CompletionTokens, &e.Usage.ImageTokens, &e.Usage.Cost, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(msgs), &e.Messages); err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", e.ID, err)
		}
		e.Usage.Model = e.Model
		e.CreatedAt = time.UnixMilli(created).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n)
	return n, err
}

// ArchiveIfNonEmpty moves the current log directory aside as
// logs_<timestamp> and reopens an empty one. An empty log is left alone.
func (s *Store) ArchiveIfNonEmpty(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return "", false, ErrClosed
	}

	n, err := s.count(ctx)
	if err != nil {
		return "", false, fmt.Errorf("count entries: %w", err)
	}
	if n == 0 {
		return "", false, nil
	}

	if err := s.db.Close(); err != nil {
		return "", false, fmt.Errorf("close database: %w", err)
	}
	s.db = nil

	target := s.archiveName()
	if err := os.Rename(s.dir, target); err != nil {
		if reopenErr := s.open(); reopenErr != nil {
			return "", false, errors.Join(err, reopenErr)
		}
		return "", false, fmt.Errorf("archive logs: %w", err)
	}
	if err := s.open(); err != nil {
		return target, true, err
	}
	s.logger.Info("logs_archived", map[string]interface{}{"path": target, "entries": n})
	return target, true, nil
}

func (s *Store) archiveName() string {
	base := fmt.Sprintf("%s_%s", s.dir, s.now().Format(ArchiveLayout))
	name := base
	for i := 1; ; i++ {
		if _, err := os.Stat(name); os.IsNotExist(err) {
			return name
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}

// Transcript renders an entry the way it is written to <step>.txt.
func Transcript(e *Entry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== %s #%d %s (%s) ===\n", e.Step, e.Seq, e.CreatedAt.Format(time.RFC3339), e.Model)
	for _, m := range e.Messages {
		fmt.Fprintf(&sb, "\n%s:\n%s\n", m.Role, m.Text())
		for _, img := range m.Images() {
			fmt.Fprintf(&sb, "[image %s]\n", img.Path)
		}
	}
	fmt.Fprintf(&sb, "\n--- tokens: prompt=%d completion=%d image=%d cost=%s ---\n\n",
		e.Usage.PromptTokens, e.Usage.CompletionTokens, e.Usage.ImageTokens, domain.FormatCost(e.Usage.Cost))
	return sb.String()
}
