// Package storage keeps profile avatars in an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dimitrije/mise-api/internal/config"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxAvatarSize is the largest accepted avatar body in bytes.
const MaxAvatarSize = 5 << 20

var ErrUnsupportedType = errors.New("unsupported image type")

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

type AvatarStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

func NewAvatarStore(cfg config.StorageConfig) (*AvatarStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("storage endpoint missing")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: "us-east-1",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	publicURL := strings.TrimSuffix(cfg.PublicURL, "/")
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)
	}

	return &AvatarStore{client: mc, bucket: cfg.Bucket, publicURL: publicURL}, nil
}

// EnsureBucket creates the bucket unless it already exists.
func (s *AvatarStore) EnsureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, xerr := s.client.BucketExists(ctx, s.bucket)
		if xerr != nil || !exists {
			return fmt.Errorf("failed to ensure bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Upload stores an avatar for userID and returns its public URL.
func (s *AvatarStore) Upload(ctx context.Context, userID uuid.UUID, r io.Reader, size int64, contentType string) (string, error) {
	key, err := ObjectKey(userID, contentType)
	if err != nil {
		return "", err
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload avatar: %w", err)
	}

	return s.publicURL + "/" + s.bucket + "/" + key, nil
}

// IsSupportedType reports whether contentType is an accepted image type.
func IsSupportedType(contentType string) bool {
	_, ok := extensions[mediaType(contentType)]
	return ok
}

// ObjectKey names a new avatar object: avatars/<user-id>/<random>.<ext>.
func ObjectKey(userID uuid.UUID, contentType string) (string, error) {
	ext, ok := extensions[mediaType(contentType)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	return fmt.Sprintf("avatars/%s/%s.%s", userID, uuid.New(), ext), nil
}

func mediaType(contentType string) string {
	return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
}
