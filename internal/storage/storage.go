// Package storage はS3互換オブジェクトストレージ（MinIO）へのアクセスを提供する。
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore は音声ファイルの実体を扱うオブジェクトストレージのインターフェース。
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Config はオブジェクトストレージの接続設定。
type Config struct {
	Endpoint      string // host:port
	UseSSL        bool
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	PresignExpiry time.Duration
}

// Client はminio-goによるObjectStoreの実装。
type Client struct {
	mc            *minio.Client
	bucket        string
	region        string
	presignExpiry time.Duration
}

// NewClient はClientを生成する。接続は最初のリクエストまで行わない。
func NewClient(cfg Config) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}

	return &Client{
		mc:            mc,
		bucket:        cfg.Bucket,
		region:        cfg.Region,
		presignExpiry: expiry,
	}, nil
}

// EnsureBucket はバケットが存在しなければ作成する。
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", c.bucket, err)
	}
	if exists {
		return nil
	}

	if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: c.region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", c.bucket, err)
	}
	slog.Info("bucket created", slog.String("bucket", c.bucket))
	return nil
}

// Put はオブジェクトを保存する。
func (c *Client) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := c.mc.PutObject(ctx, c.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// PresignGet は期限付きのダウンロードURLを生成する。ネットワークアクセスは発生しない。
func (c *Client) PresignGet(ctx context.Context, key string) (string, error) {
	u, err := c.mc.PresignedGetObject(ctx, c.bucket, key, c.presignExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign object %s: %w", key, err)
	}
	return u.String(), nil
}

// Delete はオブジェクトを削除する。存在しないキーの削除は成功として扱われる。
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.mc.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove object %s: %w", key, err)
	}
	return nil
}

// compile-time interface check
var _ ObjectStore = (*Client)(nil)
