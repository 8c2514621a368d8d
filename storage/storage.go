// Package storage uploads post and profile media to the S3 compatible object
// store and hands out the public URLs they are served from.
package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"bunnyup/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"
)

type Storage struct {
	bucket    string
	publicURL *url.URL
	client    *minio.Client
}

func New(cfg config.TomlStorage) (*Storage, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("storage endpoint is not configured")
	}

	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	base := cfg.PublicURL
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + endpoint
	}
	publicURL, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid storage public url: %w", err)
	}

	return &Storage{
		bucket:    cfg.Bucket,
		publicURL: publicURL,
		client:    client,
	}, nil
}

// EnsureBucket creates the bucket when it does not exist yet
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// ObjectKey names a new object in folder, keeping the file extension of
// localPath
func (s *Storage) ObjectKey(folder, localPath string) string {
	ext := strings.ToLower(filepath.Ext(localPath))
	if ext == "" {
		ext = ".png"
	}
	return path.Join(folder, fmt.Sprintf("%d%s", time.Now().UnixNano(), ext))
}

// Upload stores the file at localPath under folder and returns its public URL
func (s *Storage) Upload(ctx context.Context, folder, localPath string) (string, error) {
	key := s.ObjectKey(folder, localPath)

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", localPath, err)
	}

	log.WithFields(log.Fields{
		"key":  key,
		"size": info.Size,
	}).Info("Uploaded media")

	return s.PublicURL(key), nil
}

// PublicURL returns the URL a public object is served from
func (s *Storage) PublicURL(key string) string {
	return s.publicURL.JoinPath(s.bucket, key).String()
}

// Key returns the object key behind a public URL produced by PublicURL. A
// bare key is returned as is.
func (s *Storage) Key(ref string) (string, error) {
	if !strings.Contains(ref, "://") {
		return strings.TrimPrefix(ref, "/"), nil
	}
	prefix := s.publicURL.JoinPath(s.bucket).String() + "/"
	if !strings.HasPrefix(ref, prefix) {
		return "", fmt.Errorf("%s is not served from bucket %s", ref, s.bucket)
	}
	return strings.TrimPrefix(ref, prefix), nil
}

// Download fetches the object behind ref, a key or public URL, to localPath
func (s *Storage) Download(ctx context.Context, ref, localPath string) error {
	key, err := s.Key(ref)
	if err != nil {
		return err
	}
	if err := s.client.FGetObject(ctx, s.bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("failed to download %s: %w", key, err)
	}
	return nil
}

// Remove deletes the object behind ref
func (s *Storage) Remove(ctx context.Context, ref string) error {
	key, err := s.Key(ref)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}
