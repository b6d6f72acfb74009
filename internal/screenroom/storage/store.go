package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"screenroom/internal/screenroom/validation"
	"screenroom/pkg/config"
	"screenroom/pkg/errors"
	"screenroom/pkg/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	keyPrefix   = "recordings/"
	contentType = "video/mp4"
	objectExt   = ".mp4"
)

// ObjectClient is the slice of the minio client the store uses. *minio.Client
// satisfies it; tests substitute a fake.
type ObjectClient interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	BucketExists(ctx context.Context, bucketName string) (bool, error)
}

// Store moves finalized recordings into the remote object store and
// mediates all later access to them. Every entry point validates the
// session id before any network call.
type Store struct {
	client ObjectClient
	cfg    *config.Config
	log    *logger.Logger
}

// NewStore builds a store backed by the configured S3-compatible endpoint.
func NewStore(cfg *config.Config) (*Store, error) {
	if cfg.Storage.Endpoint == "" {
		return nil, fmt.Errorf("storage endpoint not configured")
	}

	client, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		Secure: cfg.Storage.UseSSL,
		Region: cfg.Storage.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	return NewStoreWithClient(client, cfg), nil
}

// NewStoreWithClient wires an existing client; used by tests.
func NewStoreWithClient(client ObjectClient, cfg *config.Config) *Store {
	return &Store{
		client: client,
		cfg:    cfg,
		log:    logger.WithField("component", "recording-storage"),
	}
}

// ObjectKey derives the date-partitioned key for a session's recording.
// The session id is assumed validated; keys never leave the reserved prefix.
func ObjectKey(sessionID string, uploadedAt time.Time) string {
	return fmt.Sprintf("%s%04d/%02d/%02d/%s%s",
		keyPrefix, uploadedAt.Year(), uploadedAt.Month(), uploadedAt.Day(), sessionID, objectExt)
}

// Upload pushes a finalized local recording to the object store and, when
// configured, removes the local copy on success. Transport failures come
// back wrapped in ErrUploadFailed with the local file left intact so a
// retry or manual recovery stays possible.
func (s *Store) Upload(ctx context.Context, sessionID, localPath string) (string, error) {
	if err := validation.SessionID(sessionID); err != nil {
		return "", err
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("local recording unavailable: %w", err)
	}

	key := ObjectKey(sessionID, time.Now().UTC())
	log := s.log.WithFields("sessionId", sessionID, "objectKey", key, "sizeBytes", info.Size())

	_, err = s.client.FPutObject(ctx, s.cfg.Storage.Bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"session-id":  sessionID,
			"uploaded-at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		log.Warn("upload failed, local file retained", "error", err)
		return "", fmt.Errorf("%w: %v", errors.ErrUploadFailed, err)
	}

	if s.cfg.Storage.DeleteAfterUpload {
		if err := os.Remove(localPath); err != nil {
			log.Warn("could not remove local recording after upload", "error", err)
		}
	}

	log.Info("recording uploaded")
	return key, nil
}

// DownloadURL issues a time-limited presigned URL for the session's most
// recent stored recording. ttl <= 0 falls back to the configured default.
// Returns ErrRecordingNotFound when nothing is stored for the session.
func (s *Store) DownloadURL(ctx context.Context, sessionID string, ttl time.Duration) (string, error) {
	if err := validation.SessionID(sessionID); err != nil {
		return "", err
	}

	if ttl <= 0 {
		ttl = s.cfg.Storage.PresignTTL
	}

	keys, err := s.sessionObjects(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("%w: session %s", errors.ErrRecordingNotFound, sessionID)
	}

	// newest upload wins
	u, err := s.client.PresignedGetObject(ctx, s.cfg.Storage.Bucket, keys[0].Key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", keys[0].Key, err)
	}

	s.log.Debug("issued download url", "sessionId", sessionID, "objectKey", keys[0].Key, "ttl", ttl)
	return u.String(), nil
}

// Delete removes every stored recording for the session. Used by retention
// sweeps and explicit requests; returns false, not an error, when nothing
// existed.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	if err := validation.SessionID(sessionID); err != nil {
		return false, err
	}

	keys, err := s.sessionObjects(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if len(keys) == 0 {
		return false, nil
	}

	for _, obj := range keys {
		if err := s.client.RemoveObject(ctx, s.cfg.Storage.Bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return false, fmt.Errorf("remove %s: %w", obj.Key, err)
		}
		s.log.Info("stored recording deleted", "sessionId", sessionID, "objectKey", obj.Key)
	}

	return true, nil
}

// DeleteOlderThan removes stored recordings uploaded before cutoff and
// returns how many were deleted.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0

	for obj := range s.client.ListObjects(ctx, s.cfg.Storage.Bucket, minio.ListObjectsOptions{
		Prefix:    keyPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return deleted, fmt.Errorf("list recordings: %w", obj.Err)
		}
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		if err := s.client.RemoveObject(ctx, s.cfg.Storage.Bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return deleted, fmt.Errorf("remove %s: %w", obj.Key, err)
		}
		deleted++
		s.log.Info("expired recording deleted", "objectKey", obj.Key)
	}

	return deleted, nil
}

// Ping verifies the configured bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.cfg.Storage.Bucket)
	if err != nil {
		return fmt.Errorf("bucket check: %w", err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", s.cfg.Storage.Bucket)
	}
	return nil
}

// sessionObjects lists the session's stored recordings, newest first.
// Lookups stay inside the reserved prefix; the validated session id cannot
// widen the match.
func (s *Store) sessionObjects(ctx context.Context, sessionID string) ([]minio.ObjectInfo, error) {
	want := sessionID + objectExt
	var matches []minio.ObjectInfo

	for obj := range s.client.ListObjects(ctx, s.cfg.Storage.Bucket, minio.ListObjectsOptions{
		Prefix:    keyPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list recordings: %w", obj.Err)
		}
		if !strings.HasPrefix(obj.Key, keyPrefix) {
			continue
		}
		if path.Base(obj.Key) == want {
			matches = append(matches, obj)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].LastModified.After(matches[j].LastModified)
	})

	return matches, nil
}
