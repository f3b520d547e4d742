package mongostore

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"galaxy-chat/internal/model"
)

// 需要真实的 MongoDB，未设置 MONGO_TEST_URI 时跳过
func openTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := Open(ctx, uri, "galaxy_test_"+uuid.NewString()[:8])
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx := context.Background()
		_ = s.Drop(ctx)
		_ = s.Close(ctx)
	})
	return s
}

func TestMongoAddBranchConcurrent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pairs := s.Pairs()

	parent := &model.MessagePair{ID: uuid.NewString(), ConversationID: "c1", Query: "q"}
	require.NoError(t, pairs.Create(ctx, parent))

	children := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	var wg sync.WaitGroup
	errs := make(chan error, len(children)*2)
	for _, id := range children {
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				errs <- pairs.AddBranch(ctx, parent.ID, id)
			}(id)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := pairs.GetByID(ctx, parent.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, children, got.BranchIDs)
}

func TestMongoUpdateQueryAndCascade(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	convs, pairs := s.Conversations(), s.Pairs()

	require.NoError(t, convs.Create(ctx, &model.Conversation{ID: "c1", UserID: 1, Title: "t"}))
	p := &model.MessagePair{ID: uuid.NewString(), ConversationID: "c1", Query: "$first"}
	require.NoError(t, pairs.Create(ctx, p))

	require.NoError(t, pairs.UpdateQuery(ctx, p.ID, "$second"))
	require.NoError(t, pairs.UpdateQuery(ctx, p.ID, "third"))

	got, err := pairs.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "third", got.Query)
	require.Equal(t, "$first", *got.OriginalQuery)
	require.True(t, got.IsEdited)

	require.NoError(t, convs.Touch(ctx, "c1", time.Now(), 7, "gpt-4o"))
	conv, err := convs.GetByID(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, int64(7), conv.TotalTokens)

	require.NoError(t, convs.Delete(ctx, "c1"))
	left, err := pairs.ListByConversationID(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, left)
}
