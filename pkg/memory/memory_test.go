package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_StoreAndRecallScopedByTenantAndAgent(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	require.NoError(t, f.Store(ctx, "tenant-a", "agent-1", "conv-1", []string{"the sky is blue"}))
	require.NoError(t, f.Store(ctx, "tenant-b", "agent-1", "conv-1", []string{"the sky is blue too"}))

	snippets, err := f.Recall(ctx, "tenant-a", "agent-1", "sky", 10)
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, "the sky is blue", snippets[0].Text)
}

func TestFake_RecallRanksMatchesAboveNonMatches(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	require.NoError(t, f.Store(ctx, "tenant-a", "agent-1", "conv-1", []string{
		"unrelated note",
		"favorite color is green",
	}))

	snippets, err := f.Recall(ctx, "tenant-a", "agent-1", "color", 10)
	require.NoError(t, err)
	require.Len(t, snippets, 2)

	var matched bool
	for _, s := range snippets {
		if s.Text == "favorite color is green" {
			matched = true
			assert.Equal(t, 1.0, s.Score)
		}
	}
	assert.True(t, matched)
}

func TestFake_RecallRespectsLimit(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	require.NoError(t, f.Store(ctx, "tenant-a", "agent-1", "conv-1", []string{"one", "two", "three"}))

	snippets, err := f.Recall(ctx, "tenant-a", "agent-1", "", 2)
	require.NoError(t, err)
	assert.Len(t, snippets, 2)
}

func TestFake_ClearRemovesOnlyThatConversation(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	require.NoError(t, f.Store(ctx, "tenant-a", "agent-1", "conv-1", []string{"keep me out"}))
	require.NoError(t, f.Store(ctx, "tenant-a", "agent-1", "conv-2", []string{"stays"}))

	require.NoError(t, f.Clear(ctx, "tenant-a", "agent-1", "conv-1"))

	snippets, err := f.Recall(ctx, "tenant-a", "agent-1", "", 10)
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, "stays", snippets[0].Text)
}

func TestFake_SatisfiesStoreInterface(t *testing.T) {
	var _ Store = NewFake()
}
