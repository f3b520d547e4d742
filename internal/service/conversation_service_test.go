package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"galaxy-chat/internal/config"
	"galaxy-chat/internal/llm/mock"
	"galaxy-chat/internal/thread"
)

func TestTranscriptFollowsSelections(t *testing.T) {
	env := newTestEnv(t, mock.New(), config.AIConfig{})
	ctx := context.Background()
	root := sendHello(t, env)

	var branches []string
	for i := 0; i < 3; i++ {
		events, err := env.chat.Regenerate(ctx, RegenerateRequest{UserID: 1, PairID: root.PairID})
		require.NoError(t, err)
		r := drain(t, events)
		require.NoError(t, r.err)
		branches = append(branches, r.completion.PairID)
	}

	resp, err := env.convs.Transcript(ctx, 1, root.ConversationID, thread.Selections{root.PairID: 1})
	require.NoError(t, err)
	require.Len(t, resp.Records, 4)
	require.Equal(t, root.PairID+"-user", resp.Records[0].ID)
	require.Equal(t, 0, resp.Records[0].BranchCount)
	require.Equal(t, branches[1]+"-assistant", resp.Records[3].ID)
	require.Equal(t, 1, resp.Records[3].BranchIndex)
	require.Equal(t, 3, resp.Records[3].BranchCount)

	// 越界的选择被截断到最后一个分支
	resp, err = env.convs.Transcript(ctx, 1, root.ConversationID, thread.Selections{root.PairID: 9})
	require.NoError(t, err)
	require.Equal(t, branches[2], resp.Records[2].PairID)

	_, err = env.convs.Transcript(ctx, 2, root.ConversationID, nil)
	require.ErrorIs(t, err, ErrNoPermission)
	_, err = env.convs.Transcript(ctx, 1, "missing", nil)
	require.ErrorIs(t, err, ErrConversationNotFound)
}

func TestBranchesListsPairThenBranches(t *testing.T) {
	env := newTestEnv(t, mock.New(), config.AIConfig{})
	ctx := context.Background()
	root := sendHello(t, env)

	var ids []string
	for i := 0; i < 2; i++ {
		events, err := env.chat.Regenerate(ctx, RegenerateRequest{UserID: 1, PairID: root.PairID})
		require.NoError(t, err)
		ids = append(ids, drain(t, events).completion.PairID)
	}

	pairs, err := env.convs.Branches(ctx, 1, root.PairID)
	require.NoError(t, err)
	require.Len(t, pairs, 3)
	require.Equal(t, root.PairID, pairs[0].ID)
	require.Equal(t, ids, []string{pairs[1].ID, pairs[2].ID})

	_, err = env.convs.Branches(ctx, 2, root.PairID)
	require.ErrorIs(t, err, ErrNoPermission)

	n, err := env.convs.ChildCount(ctx, 1, root.ConversationID, root.PairID)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	n, err = env.convs.ChildCount(ctx, 1, root.ConversationID, ids[0])
	require.NoError(t, err)
	require.Zero(t, n)
	_, err = env.convs.ChildCount(ctx, 1, root.ConversationID, "missing")
	require.ErrorIs(t, err, ErrPairNotFound)
}

func TestEditInPlaceKeepsFirstOriginal(t *testing.T) {
	env := newTestEnv(t, mock.New(), config.AIConfig{})
	ctx := context.Background()
	root := sendHello(t, env)

	_, err := env.convs.EditInPlace(ctx, 1, root.PairID, "  ")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.convs.EditInPlace(ctx, 1, root.PairID, "Hello again")
	require.NoError(t, err)
	pair, err := env.convs.EditInPlace(ctx, 1, root.PairID, "Hello third")
	require.NoError(t, err)
	require.Equal(t, "Hello third", pair.Query)
	require.Equal(t, "Hello", *pair.OriginalQuery)
	require.True(t, pair.IsEdited)
}

func TestConversationLifecycle(t *testing.T) {
	env := newTestEnv(t, mock.New(), config.AIConfig{})
	ctx := context.Background()

	conv, err := env.convs.Create(ctx, 1, "", "gpt-4o")
	require.NoError(t, err)
	require.Equal(t, "New Chat", conv.Title)

	require.ErrorIs(t, env.convs.Rename(ctx, 1, conv.ID, " "), ErrInvalidInput)
	require.NoError(t, env.convs.Rename(ctx, 1, conv.ID, "Trip plans"))
	require.ErrorIs(t, env.convs.Rename(ctx, 2, conv.ID, "mine"), ErrNoPermission)

	list, err := env.convs.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "Trip plans", list[0].Title)

	require.NoError(t, env.convs.SetArchived(ctx, 1, conv.ID, true))
	list, err = env.convs.List(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, list)

	require.ErrorIs(t, env.convs.Delete(ctx, 2, conv.ID), ErrNoPermission)
	require.NoError(t, env.convs.Delete(ctx, 1, conv.ID))
	require.ErrorIs(t, env.convs.Delete(ctx, 1, conv.ID), ErrConversationNotFound)
}
