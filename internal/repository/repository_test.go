package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"galaxy-chat/internal/config"
	"galaxy-chat/internal/model"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenDatabase(config.DatabaseConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "test.db"),
	}, "release")
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newPair(convID string, parent *model.MessagePair, offset int) *model.MessagePair {
	p := &model.MessagePair{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Query:          "query",
		Response:       "response",
		Attachments:    []model.Attachment{{URL: "https://x/a.png", Type: "image/png"}},
		CreatedAt:      t0.Add(time.Duration(offset) * time.Second),
	}
	if parent != nil {
		p.ParentID = &parent.ID
		p.Depth = parent.Depth + 1
	}
	return p
}

func TestAddBranchIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewPairRepository(setupTestDB(t))

	parent := newPair("c1", nil, 0)
	child := newPair("c1", parent, 1)
	require.NoError(t, repo.Create(ctx, parent))
	require.NoError(t, repo.Create(ctx, child))

	require.NoError(t, repo.AddBranch(ctx, parent.ID, child.ID))
	once, err := repo.GetByID(ctx, parent.ID)
	require.NoError(t, err)

	require.NoError(t, repo.AddBranch(ctx, parent.ID, child.ID))
	twice, err := repo.GetByID(ctx, parent.ID)
	require.NoError(t, err)

	require.Equal(t, []string{child.ID}, once.BranchIDs)
	require.Equal(t, once.BranchIDs, twice.BranchIDs)
}

func TestAddBranchConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := NewPairRepository(setupTestDB(t))

	parent := newPair("c1", nil, 0)
	require.NoError(t, repo.Create(ctx, parent))

	const n = 8
	children := make([]string, n)
	for i := 0; i < n; i++ {
		c := newPair("c1", parent, i+1)
		require.NoError(t, repo.Create(ctx, c))
		children[i] = c.ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, n*2)
	for i := 0; i < n; i++ {
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				errs <- repo.AddBranch(ctx, parent.ID, id)
			}(children[i])
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := repo.GetByID(ctx, parent.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, children, got.BranchIDs)
}

func TestListByConversationID(t *testing.T) {
	ctx := context.Background()
	repo := NewPairRepository(setupTestDB(t))

	b := newPair("c1", nil, 2)
	a := newPair("c1", nil, 1)
	other := newPair("c2", nil, 0)
	for _, p := range []*model.MessagePair{b, a, other} {
		require.NoError(t, repo.Create(ctx, p))
	}
	require.NoError(t, repo.AddArtifact(ctx, a.ID, "img-1"))

	pairs, err := repo.ListByConversationID(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	require.Equal(t, a.ID, pairs[0].ID)
	require.Equal(t, b.ID, pairs[1].ID)
	require.Equal(t, []string{"img-1"}, pairs[0].GeneratedArtifacts)
	require.Empty(t, pairs[1].BranchIDs)
	require.Len(t, pairs[0].Attachments, 1)
	require.True(t, pairs[0].Attachments[0].IsImage())
}

func TestGetByIDNotFound(t *testing.T) {
	repo := NewPairRepository(setupTestDB(t))
	got, err := repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestUpdateQueryKeepsFirstOriginal(t *testing.T) {
	ctx := context.Background()
	repo := NewPairRepository(setupTestDB(t))

	p := newPair("c1", nil, 0)
	p.Query = "first"
	require.NoError(t, repo.Create(ctx, p))

	require.NoError(t, repo.UpdateQuery(ctx, p.ID, "second"))
	require.NoError(t, repo.UpdateQuery(ctx, p.ID, "third"))

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "third", got.Query)
	require.True(t, got.IsEdited)
	require.NotNil(t, got.OriginalQuery)
	require.Equal(t, "first", *got.OriginalQuery)
}

func TestConversationTouchAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepository(setupTestDB(t))

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, &model.Conversation{
			ID:            fmt.Sprintf("conv-%d", i),
			UserID:        7,
			Title:         "t",
			LastMessageAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.Create(ctx, &model.Conversation{ID: "foreign", UserID: 8, Title: "t"}))
	require.NoError(t, repo.SetArchived(ctx, "conv-1", true))

	require.NoError(t, repo.Touch(ctx, "conv-0", t0.Add(time.Hour), 10, "gpt-4o"))
	require.NoError(t, repo.Touch(ctx, "conv-0", t0.Add(time.Hour), 5, ""))

	list, err := repo.ListByUserID(ctx, 7, 50)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "conv-0", list[0].ID)
	require.Equal(t, int64(15), list[0].TotalTokens)
	require.Equal(t, "gpt-4o", list[0].Model)
	require.Equal(t, "conv-2", list[1].ID)

	require.NoError(t, repo.Rename(ctx, "conv-2", "renamed"))
	got, err := repo.GetByID(ctx, "conv-2")
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Title)
}

func TestConversationDeleteCascades(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	convs := NewConversationRepository(db)
	pairs := NewPairRepository(db)

	require.NoError(t, convs.Create(ctx, &model.Conversation{ID: "c1", UserID: 1, Title: "t"}))
	root := newPair("c1", nil, 0)
	child := newPair("c1", root, 1)
	keep := newPair("c2", nil, 0)
	for _, p := range []*model.MessagePair{root, child, keep} {
		require.NoError(t, pairs.Create(ctx, p))
	}
	require.NoError(t, pairs.AddBranch(ctx, root.ID, child.ID))
	require.NoError(t, pairs.AddArtifact(ctx, child.ID, "img"))

	require.NoError(t, convs.Delete(ctx, "c1"))

	conv, err := convs.GetByID(ctx, "c1")
	require.NoError(t, err)
	require.Nil(t, conv)

	left, err := pairs.ListByConversationID(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, left)

	var branchCount, artifactCount int64
	require.NoError(t, db.Model(&model.PairBranch{}).Count(&branchCount).Error)
	require.NoError(t, db.Model(&model.PairArtifact{}).Count(&artifactCount).Error)
	require.Zero(t, branchCount)
	require.Zero(t, artifactCount)

	still, err := pairs.GetByID(ctx, keep.ID)
	require.NoError(t, err)
	require.NotNil(t, still)
}

func TestImageListByUserID(t *testing.T) {
	ctx := context.Background()
	repo := NewImageRepository(setupTestDB(t))

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, &model.GeneratedImage{
			ID:         fmt.Sprintf("img-%d", i),
			UserID:     1,
			Prompt:     "cat",
			URL:        "/files/x.png",
			StorageKey: "x.png",
			CreatedAt:  t0.Add(time.Duration(i) * time.Second),
		}))
	}

	images, err := repo.ListByUserID(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, images, 2)
	require.Equal(t, "img-2", images[0].ID)
}
