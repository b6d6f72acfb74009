// Package storagefakes provides an in-memory ObjectClient for tests.
package storagefakes

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
)

// FakeObjectClient keeps uploaded objects in memory and counts the calls
// the store makes against it.
type FakeObjectClient struct {
	mu      sync.Mutex
	objects map[string]minio.ObjectInfo

	// PutErr, when set, makes every FPutObject fail with it.
	PutErr error

	presignCount int
	listCalls    int
}

func NewFakeObjectClient() *FakeObjectClient {
	return &FakeObjectClient{objects: make(map[string]minio.ObjectInfo)}
}

func (f *FakeObjectClient) FPutObject(_ context.Context, _, objectName, filePath string, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PutErr != nil {
		return minio.UploadInfo{}, f.PutErr
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return minio.UploadInfo{}, err
	}

	f.objects[objectName] = minio.ObjectInfo{
		Key:          objectName,
		Size:         info.Size(),
		LastModified: time.Now(),
	}
	return minio.UploadInfo{Key: objectName, Size: info.Size()}, nil
}

func (f *FakeObjectClient) ListObjects(_ context.Context, _ string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	f.mu.Lock()
	f.listCalls++
	infos := make([]minio.ObjectInfo, 0, len(f.objects))
	for key, info := range f.objects {
		if opts.Prefix == "" || (len(key) >= len(opts.Prefix) && key[:len(opts.Prefix)] == opts.Prefix) {
			infos = append(infos, info)
		}
	}
	f.mu.Unlock()

	ch := make(chan minio.ObjectInfo, len(infos))
	for _, info := range infos {
		ch <- info
	}
	close(ch)
	return ch
}

func (f *FakeObjectClient) PresignedGetObject(_ context.Context, bucketName, objectName string, expires time.Duration, _ url.Values) (*url.URL, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.objects[objectName]; !ok {
		return nil, fmt.Errorf("object %s not found", objectName)
	}

	f.presignCount++
	return url.Parse(fmt.Sprintf("https://store.example/%s/%s?sig=%d&expires=%d",
		bucketName, objectName, f.presignCount, int(expires.Seconds())))
}

func (f *FakeObjectClient) RemoveObject(_ context.Context, _, objectName string, _ minio.RemoveObjectOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.objects, objectName)
	return nil
}

func (f *FakeObjectClient) BucketExists(context.Context, string) (bool, error) {
	return true, nil
}

// Object returns the stored info for a key.
func (f *FakeObjectClient) Object(key string) (minio.ObjectInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.objects[key]
	return info, ok
}

// Keys returns every stored object key.
func (f *FakeObjectClient) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	return keys
}

// SetLastModified rewrites an object's timestamp, for retention tests.
func (f *FakeObjectClient) SetLastModified(key string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if info, ok := f.objects[key]; ok {
		info.LastModified = at
		f.objects[key] = info
	}
}

// PresignCount returns how many presigned URLs were issued.
func (f *FakeObjectClient) PresignCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presignCount
}

// ListCalls returns how many list operations were made.
func (f *FakeObjectClient) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}
