// Package storage 保存生成图片等二进制对象
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"galaxy-chat/internal/config"
)

// BlobStore 对象存储接口
type BlobStore interface {
	// Put 写入对象并返回对外访问地址
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	// URL 返回对象的访问地址
	URL(key string) string
}

// New 按配置创建存储
func New(ctx context.Context, cfg config.StorageConfig) (BlobStore, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocal(cfg.Dir, cfg.PublicBaseURL)
	case "gcs":
		return NewGCS(ctx, cfg.Bucket, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

// ==================== 本地目录 ====================

// Local 把对象写到本地目录，由 HTTP 服务以静态文件方式提供
type Local struct {
	dir     string
	baseURL string
}

// NewLocal 创建本地存储，目录不存在时自动创建
func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Local{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir 返回存储目录
func (l *Local) Dir() string {
	return l.dir
}

// Put 先写临时文件再重命名，读者不会看到写了一半的文件
func (l *Local) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	key = cleanKey(key)
	if key == "" {
		return "", fmt.Errorf("empty storage key")
	}
	path := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, readerWithContext(ctx, r)); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return l.URL(key), nil
}

// URL 返回访问地址
func (l *Local) URL(key string) string {
	return l.baseURL + "/" + cleanKey(key)
}

// ==================== Google Cloud Storage ====================

// GCS 把对象写到 GCS bucket
type GCS struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

// NewGCS 创建 GCS 存储，凭据来自默认的应用凭据
func NewGCS(ctx context.Context, bucket, baseURL string, opts ...option.ClientOption) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("missing storage bucket")
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put 上传对象
func (g *GCS) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	key = cleanKey(key)
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	if ct := ContentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return g.URL(key), nil
}

// URL 返回访问地址，未配置前缀时使用公开的 storage.googleapis.com 地址
func (g *GCS) URL(key string) string {
	key = cleanKey(key)
	if g.baseURL != "" && strings.HasPrefix(g.baseURL, "http") {
		return fmt.Sprintf("%s/%s", g.baseURL, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, key)
}

// Close 关闭客户端
func (g *GCS) Close() error {
	return g.client.Close()
}

// ContentTypeForKey 根据扩展名推断 MIME 类型
func ContentTypeForKey(key string) string {
	s := strings.ToLower(key)
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".gif"):
		return "image/gif"
	default:
		return ""
	}
}

// cleanKey 去掉前导斜杠和 .. 片段
func cleanKey(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	parts := strings.Split(key, "/")
	out := parts[:0]
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, "/")
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
