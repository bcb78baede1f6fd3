package qart

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	data     []byte
	artifact Artifact
}

// MemoryStore keeps artifacts in process memory. Presigned URLs use the
// memory:// scheme and are not fetchable.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memObject
}

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: make(map[string]memObject)}
}

func (s *MemoryStore) EnsureBucket(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string, metadata map[string]string) (*Artifact, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	art := Artifact{
		Key:          key,
		Bucket:       s.bucket,
		Size:         int64(len(data)),
		ContentType:  contentType,
		LastModified: time.Now(),
		Metadata:     metadata,
	}

	s.mu.Lock()
	s.objects[key] = memObject{data: data, artifact: art}
	s.mu.Unlock()

	return &art, nil
}

func (s *MemoryStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemoryStore) GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	u := url.URL{Scheme: "memory", Host: s.bucket, Path: "/" + key}
	return u.String(), nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Artifact
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			art := obj.artifact
			out = append(out, &art)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) DeletePrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
