package agent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/genie/internal/domain"
	"github.com/joss/genie/internal/logstore"
	"github.com/joss/genie/internal/workspace"
)

func TestOpenSession_ArchivesPreviousLog(t *testing.T) {
	ctx := context.Background()
	ws, err := workspace.Open(t.TempDir())
	require.NoError(t, err)

	first, err := OpenSession(ctx, ws)
	require.NoError(t, err)
	assert.Empty(t, first.Archived, "nothing to archive on a fresh workspace")
	require.NoError(t, first.record(ctx, StepGenerate, []domain.Message{domain.User("hi")}, domain.TokenUsage{Model: "gpt-4o", PromptTokens: 1}))
	require.NoError(t, first.Close())

	second, err := OpenSession(ctx, ws)
	require.NoError(t, err)
	defer second.Close()

	assert.NotEqual(t, first.ID, second.ID)
	require.NotEmpty(t, second.Archived)
	entries, err := second.Logs.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	archives, err := filepath.Glob(filepath.Join(ws.MemoryDir(), logstore.DirName+"_*"))
	require.NoError(t, err)
	assert.Equal(t, []string{second.Archived}, archives)

	old, err := logstore.Open(second.Archived)
	require.NoError(t, err)
	defer old.Close()
	oldEntries, err := old.List(ctx)
	require.NoError(t, err)
	require.Len(t, oldEntries, 1)
	assert.Equal(t, StepGenerate, oldEntries[0].Step)
}

func TestSessionRecordAfterClose(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.Logs.Close())
	err := s.record(context.Background(), StepImprove, nil, domain.TokenUsage{})
	assert.ErrorIs(t, err, logstore.ErrClosed)
}
