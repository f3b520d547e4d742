// Package mongostore 基于 MongoDB 的会话、消息对和图片存储
// 分支列表内嵌在消息对文档中，通过 $addToSet 原子追加
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"galaxy-chat/internal/model"
	"galaxy-chat/internal/repository"
)

const (
	conversationsCollection = "conversations"
	pairsCollection         = "message_pairs"
	imagesCollection        = "generated_images"
)

// Store 持有 MongoDB 连接，提供三个存储接口的实现
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open 连接 MongoDB 并创建索引
// 参数:
//   - ctx: 上下文
//   - uri: 连接串
//   - database: 数据库名称
//
// 返回:
//   - *Store: 存储实例
//   - error: 连接或建索引错误
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := &Store{client: client, db: client.Database(database)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// Close 断开连接
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping 探活，健康检查使用
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Drop 删除整个数据库，测试清理使用
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(conversationsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "archived", Value: 1}, {Key: "last_message_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create conversation index: %w", err)
	}
	_, err = s.db.Collection(pairsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "parent_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create pair index: %w", err)
	}
	_, err = s.db.Collection(imagesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create image index: %w", err)
	}
	return nil
}

// Conversations 返回会话存储
func (s *Store) Conversations() repository.ConversationStore {
	return &conversationStore{db: s.db}
}

// Pairs 返回消息对存储
func (s *Store) Pairs() repository.PairStore {
	return &pairStore{coll: s.db.Collection(pairsCollection)}
}

// Images 返回图片存储
func (s *Store) Images() repository.ImageStore {
	return &imageStore{coll: s.db.Collection(imagesCollection)}
}

// ==================== 会话 ====================

type conversationDoc struct {
	ID            string    `bson:"_id"`
	UserID        int64     `bson:"user_id"`
	Title         string    `bson:"title"`
	Model         string    `bson:"model"`
	TotalTokens   int64     `bson:"total_tokens"`
	LastMessageAt time.Time `bson:"last_message_at"`
	Archived      bool      `bson:"archived"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

type conversationStore struct {
	db *mongo.Database
}

func (s *conversationStore) coll() *mongo.Collection {
	return s.db.Collection(conversationsCollection)
}

func (s *conversationStore) Create(ctx context.Context, conv *model.Conversation) error {
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	_, err := s.coll().InsertOne(ctx, conversationDoc{
		ID:            conv.ID,
		UserID:        conv.UserID,
		Title:         conv.Title,
		Model:         conv.Model,
		TotalTokens:   conv.TotalTokens,
		LastMessageAt: conv.LastMessageAt,
		Archived:      conv.Archived,
		CreatedAt:     conv.CreatedAt,
		UpdatedAt:     conv.UpdatedAt,
	})
	return err
}

func (s *conversationStore) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	var doc conversationDoc
	err := s.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	conv := doc.toModel()
	return &conv, nil
}

func (s *conversationStore) ListByUserID(ctx context.Context, userID int64, limit int) ([]model.Conversation, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "last_message_at", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.coll().Find(ctx, bson.M{"user_id": userID, "archived": false}, opts)
	if err != nil {
		return nil, err
	}
	var docs []conversationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.Conversation, len(docs))
	for i, d := range docs {
		out[i] = d.toModel()
	}
	return out, nil
}

func (s *conversationStore) Rename(ctx context.Context, id, title string) error {
	return s.set(ctx, id, bson.M{"title": title})
}

func (s *conversationStore) SetArchived(ctx context.Context, id string, archived bool) error {
	return s.set(ctx, id, bson.M{"archived": archived})
}

func (s *conversationStore) set(ctx context.Context, id string, fields bson.M) error {
	fields["updated_at"] = time.Now()
	_, err := s.coll().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	return err
}

// Touch 使用 $inc 累加 token 数
func (s *conversationStore) Touch(ctx context.Context, id string, at time.Time, tokens int, modelName string) error {
	set := bson.M{"last_message_at": at, "updated_at": time.Now()}
	if modelName != "" {
		set["model"] = modelName
	}
	_, err := s.coll().UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": set,
		"$inc": bson.M{"total_tokens": tokens},
	})
	return err
}

// Delete 先删消息对再删会话
// 分支和图片关联内嵌在消息对文档中，随消息对一起删除
func (s *conversationStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Collection(pairsCollection).DeleteMany(ctx, bson.M{"conversation_id": id}); err != nil {
		return err
	}
	_, err := s.coll().DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (d conversationDoc) toModel() model.Conversation {
	return model.Conversation{
		ID:            d.ID,
		UserID:        d.UserID,
		Title:         d.Title,
		Model:         d.Model,
		TotalTokens:   d.TotalTokens,
		LastMessageAt: d.LastMessageAt,
		Archived:      d.Archived,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

// ==================== 消息对 ====================

type pairDoc struct {
	ID                 string             `bson:"_id"`
	ConversationID     string             `bson:"conversation_id"`
	Query              string             `bson:"query"`
	OriginalQuery      *string            `bson:"original_query,omitempty"`
	IsEdited           bool               `bson:"is_edited"`
	Response           string             `bson:"response"`
	Attachments        []model.Attachment `bson:"attachments"`
	ParentID           *string            `bson:"parent_id"`
	BranchIDs          []string           `bson:"branch_ids"`
	GeneratedArtifacts []string           `bson:"generated_artifacts"`
	Depth              int                `bson:"depth"`
	TokenCount         int                `bson:"token_count"`
	Model              string             `bson:"model"`
	FinishReason       string             `bson:"finish_reason"`
	CreatedAt          time.Time          `bson:"created_at"`
	UpdatedAt          time.Time          `bson:"updated_at"`
}

type pairStore struct {
	coll *mongo.Collection
}

func (s *pairStore) Create(ctx context.Context, pair *model.MessagePair) error {
	now := time.Now()
	if pair.CreatedAt.IsZero() {
		pair.CreatedAt = now
	}
	pair.UpdatedAt = now
	doc := pairDoc{
		ID:                 pair.ID,
		ConversationID:     pair.ConversationID,
		Query:              pair.Query,
		OriginalQuery:      pair.OriginalQuery,
		IsEdited:           pair.IsEdited,
		Response:           pair.Response,
		Attachments:        pair.Attachments,
		ParentID:           pair.ParentID,
		BranchIDs:          nonNil(pair.BranchIDs),
		GeneratedArtifacts: nonNil(pair.GeneratedArtifacts),
		Depth:              pair.Depth,
		TokenCount:         pair.TokenCount,
		Model:              pair.Model,
		FinishReason:       pair.FinishReason,
		CreatedAt:          pair.CreatedAt,
		UpdatedAt:          pair.UpdatedAt,
	}
	if doc.Attachments == nil {
		doc.Attachments = []model.Attachment{}
	}
	_, err := s.coll.InsertOne(ctx, doc)
	return err
}

func (s *pairStore) GetByID(ctx context.Context, id string) (*model.MessagePair, error) {
	var doc pairDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return doc.toModel(), nil
}

func (s *pairStore) ListByConversationID(ctx context.Context, conversationID string) ([]*model.MessagePair, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []pairDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*model.MessagePair, len(docs))
	for i, d := range docs {
		out[i] = d.toModel()
	}
	return out, nil
}

// AddBranch 使用 $addToSet，重复登记不会产生重复元素
func (s *pairStore) AddBranch(ctx context.Context, parentID, branchID string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": parentID},
		bson.M{"$addToSet": bson.M{"branch_ids": branchID}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("parent pair %s not found", parentID)
	}
	return nil
}

// UpdateQuery 使用聚合管道更新，original_query 只在为空时取旧的 query
func (s *pairStore) UpdateQuery(ctx context.Context, id, query string) error {
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "original_query", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$original_query", "$query"}}}},
			{Key: "query", Value: bson.D{{Key: "$literal", Value: query}}},
			{Key: "is_edited", Value: true},
			{Key: "updated_at", Value: time.Now()},
		}}},
	}
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

func (s *pairStore) AddArtifact(ctx context.Context, pairID, imageID string) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": pairID},
		bson.M{"$addToSet": bson.M{"generated_artifacts": imageID}},
	)
	return err
}

func (d pairDoc) toModel() *model.MessagePair {
	return &model.MessagePair{
		ID:                 d.ID,
		ConversationID:     d.ConversationID,
		Query:              d.Query,
		OriginalQuery:      d.OriginalQuery,
		IsEdited:           d.IsEdited,
		Response:           d.Response,
		Attachments:        d.Attachments,
		ParentID:           d.ParentID,
		BranchIDs:          nonNil(d.BranchIDs),
		GeneratedArtifacts: nonNil(d.GeneratedArtifacts),
		Depth:              d.Depth,
		TokenCount:         d.TokenCount,
		Model:              d.Model,
		FinishReason:       d.FinishReason,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ==================== 图片 ====================

type imageDoc struct {
	ID         string    `bson:"_id"`
	UserID     int64     `bson:"user_id"`
	PairID     *string   `bson:"pair_id,omitempty"`
	Prompt     string    `bson:"prompt"`
	URL        string    `bson:"url"`
	StorageKey string    `bson:"storage_key"`
	Model      string    `bson:"model"`
	Format     string    `bson:"format"`
	CreatedAt  time.Time `bson:"created_at"`
}

type imageStore struct {
	coll *mongo.Collection
}

func (s *imageStore) Create(ctx context.Context, img *model.GeneratedImage) error {
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now()
	}
	_, err := s.coll.InsertOne(ctx, imageDoc{
		ID:         img.ID,
		UserID:     img.UserID,
		PairID:     img.PairID,
		Prompt:     img.Prompt,
		URL:        img.URL,
		StorageKey: img.StorageKey,
		Model:      img.Model,
		Format:     img.Format,
		CreatedAt:  img.CreatedAt,
	})
	return err
}

func (s *imageStore) ListByUserID(ctx context.Context, userID int64, limit int) ([]model.GeneratedImage, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.coll.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []imageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.GeneratedImage, len(docs))
	for i, d := range docs {
		out[i] = model.GeneratedImage{
			ID:         d.ID,
			UserID:     d.UserID,
			PairID:     d.PairID,
			Prompt:     d.Prompt,
			URL:        d.URL,
			StorageKey: d.StorageKey,
			Model:      d.Model,
			Format:     d.Format,
			CreatedAt:  d.CreatedAt,
		}
	}
	return out, nil
}
