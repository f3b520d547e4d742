// Package service 提供业务逻辑层的实现
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"galaxy-chat/internal/config"
	"galaxy-chat/internal/logger"
	"galaxy-chat/internal/model"
	"galaxy-chat/internal/repository"
	"galaxy-chat/internal/storage"
)

const (
	maxPromptLength = 2000
	maxImageBytes   = 20 << 20
	imageListLimit  = 100
)

// ImageService 图片生成服务
// 从生成地址下载图片，写入对象存储并记录到数据库
type ImageService struct {
	images        repository.ImageStore
	pairs         repository.PairStore
	conversations repository.ConversationStore
	blobs         storage.BlobStore
	cfg           config.ImageConfig
	httpClient    *http.Client
	log           *logger.Logger
}

// NewImageService 创建 ImageService 实例
func NewImageService(
	images repository.ImageStore,
	pairs repository.PairStore,
	conversations repository.ConversationStore,
	blobs storage.BlobStore,
	cfg config.ImageConfig,
	log *logger.Logger,
) *ImageService {
	if log == nil {
		log = logger.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ImageService{
		images:        images,
		pairs:         pairs,
		conversations: conversations,
		blobs:         blobs,
		cfg:           cfg,
		httpClient:    &http.Client{Timeout: timeout},
		log:           log.With("service", "ImageService"),
	}
}

// GenerateImageRequest 图片生成请求
type GenerateImageRequest struct {
	Prompt string  `json:"prompt"`
	PairID *string `json:"pair_id,omitempty"`
}

// Generate 生成图片
// 参数:
//   - ctx: 上下文
//   - userID: 用户ID
//   - req: 提示词和可选的关联消息对
//
// 返回:
//   - *model.GeneratedImage: 图片记录
//   - error: 参数错误、消息对不存在或生成失败
func (s *ImageService) Generate(ctx context.Context, userID int64, req GenerateImageRequest) (*model.GeneratedImage, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if len([]rune(prompt)) > maxPromptLength {
		return nil, ErrPromptTooLong
	}
	if req.PairID != nil {
		pair, err := s.pairs.GetByID(ctx, *req.PairID)
		if err != nil {
			return nil, err
		}
		if pair == nil {
			return nil, ErrPairNotFound
		}
		if _, err := ownedConversation(ctx, s.conversations, userID, pair.ConversationID); err != nil {
			return nil, err
		}
	}

	data, contentType, err := s.fetch(ctx, prompt)
	if err != nil {
		s.log.Warn("image generation failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrImageGeneration, err)
	}

	format := formatFor(contentType)
	id := uuid.NewString()
	key := fmt.Sprintf("user_%d/generated/%s.%s", userID, id, format)
	publicURL, err := s.blobs.Put(ctx, key, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	img := &model.GeneratedImage{
		ID:         id,
		UserID:     userID,
		PairID:     req.PairID,
		Prompt:     prompt,
		URL:        publicURL,
		StorageKey: key,
		Model:      s.cfg.Model,
		Format:     format,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.images.Create(ctx, img); err != nil {
		return nil, err
	}
	if req.PairID != nil {
		if err := s.pairs.AddArtifact(ctx, *req.PairID, img.ID); err != nil {
			s.log.Warn("link image to pair failed", "pair_id", *req.PairID, "error", err)
		}
	}
	return img, nil
}

// List 获取用户的图片，最新的在前
func (s *ImageService) List(ctx context.Context, userID int64, limit int) ([]model.GeneratedImage, error) {
	if limit <= 0 || limit > imageListLimit {
		limit = imageListLimit
	}
	images, err := s.images.ListByUserID(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if images == nil {
		images = []model.GeneratedImage{}
	}
	return images, nil
}

// fetch 请求生成地址并读取图片内容
func (s *ImageService) fetch(ctx context.Context, prompt string) ([]byte, string, error) {
	target := s.cfg.GeneratorURL
	if strings.Contains(target, "%s") {
		target = fmt.Sprintf(target, url.PathEscape(prompt))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	httpReq.Header.Set("User-Agent", "galaxy-chat/1.0")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("generator status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	contentType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	}
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("generator returned %s", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty image")
	}
	return data, contentType, nil
}

func formatFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}
