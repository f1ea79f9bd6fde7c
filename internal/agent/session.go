package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joss/genie/internal/domain"
	"github.com/joss/genie/internal/logging"
	"github.com/joss/genie/internal/logstore"
	"github.com/joss/genie/internal/workspace"
)

// Session is one process run against one workspace. It owns the log store
// and the usage ledger; nothing is shared across sessions.
type Session struct {
	ID        uuid.UUID
	Workspace *workspace.Workspace
	Logs      *logstore.Store
	Ledger    *domain.Ledger
	StartedAt time.Time

	// Archived is the directory the previous log was moved to, if any.
	Archived string

	logger *logging.Logger
}

// OpenSession opens the workspace log store and archives a non-empty log
// from an earlier session.
func OpenSession(ctx context.Context, ws *workspace.Workspace) (*Session, error) {
	logs, err := logstore.Open(logstore.Dir(ws.MemoryDir()))
	if err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}

	id := uuid.New()
	s := &Session{
		ID:        id,
		Workspace: ws,
		Logs:      logs,
		Ledger:    domain.NewLedger(),
		StartedAt: time.Now().UTC(),
		logger:    logging.New("agent").WithSession(id.String()),
	}

	archived, ok, err := logs.ArchiveIfNonEmpty(ctx)
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("archive previous logs: %w", err)
	}
	if ok {
		s.Archived = archived
	}
	s.logger.Info("session_open", map[string]interface{}{
		"workspace": ws.Root,
		"archived":  archived,
	})
	return s, nil
}

// Logger returns the session-scoped logger.
func (s *Session) Logger() *logging.Logger { return s.logger }

// Close releases the log store.
func (s *Session) Close() error {
	total := s.Ledger.Total()
	s.logger.Info("session_close", map[string]interface{}{
		"tokens": total.TotalTokens(),
		"cost":   total.Cost,
	})
	return s.Logs.Close()
}

// record appends one exchange. msgs must already include the reply.
func (s *Session) record(ctx context.Context, step string, msgs []domain.Message, usage domain.TokenUsage) error {
	e := &logstore.Entry{Step: step, Model: usage.Model, Messages: msgs, Usage: usage}
	if err := s.Logs.Append(ctx, e); err != nil {
		return fmt.Errorf("record %s: %w", step, err)
	}
	return nil
}
