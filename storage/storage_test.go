package storage_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"bunnyup/config"
	"bunnyup/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicURL(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.TomlStorage
		expected string
	}{
		{
			name:     "served from the endpoint",
			cfg:      config.TomlStorage{Endpoint: "localhost:9000", Bucket: "uploads"},
			expected: "http://localhost:9000/uploads/postImages/1.png",
		},
		{
			name:     "tls endpoint",
			cfg:      config.TomlStorage{Endpoint: "https://s3.example.com", Bucket: "uploads", UseSSL: true},
			expected: "https://s3.example.com/uploads/postImages/1.png",
		},
		{
			name: "separate public base",
			cfg: config.TomlStorage{
				Endpoint:  "project.storage.example.com",
				Bucket:    "uploads",
				UseSSL:    true,
				PublicURL: "https://project.example.com/storage/v1/object/public/",
			},
			expected: "https://project.example.com/storage/v1/object/public/uploads/postImages/1.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := storage.New(tt.cfg)
			require.NoError(t, err)

			url := s.PublicURL("postImages/1.png")
			assert.Equal(t, tt.expected, url)

			key, err := s.Key(url)
			require.NoError(t, err)
			assert.Equal(t, "postImages/1.png", key)
		})
	}
}

func TestKey(t *testing.T) {
	s, err := storage.New(config.TomlStorage{Endpoint: "localhost:9000", Bucket: "uploads"})
	require.NoError(t, err)

	key, err := s.Key("/profiles/me.jpg")
	require.NoError(t, err)
	assert.Equal(t, "profiles/me.jpg", key)

	_, err = s.Key("https://elsewhere.example.com/uploads/a.png")
	assert.Error(t, err)

	assert.Error(t, s.Download(context.Background(), "https://elsewhere.example.com/x.png", t.TempDir()+"/x.png"))
}

func TestObjectKey(t *testing.T) {
	s, err := storage.New(config.TomlStorage{Endpoint: "localhost:9000", Bucket: "uploads"})
	require.NoError(t, err)

	assert.Regexp(t, `^postImages/\d+\.jpg$`, s.ObjectKey("postImages", "/tmp/Cat.JPG"))
	assert.Regexp(t, `^postImages/\d+\.png$`, s.ObjectKey("postImages", "/tmp/noext"))
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := storage.New(config.TomlStorage{Bucket: "uploads"})
	assert.Error(t, err)
}

// fakeS3 keeps buckets and objects in memory and answers the path style
// requests the object store client makes
type fakeS3 struct {
	mu       sync.Mutex
	buckets  map[string]bool
	objects  map[string][]byte
	types    map[string]string
	requests []string
}

func newFakeS3(t *testing.T, buckets ...string) (*fakeS3, *httptest.Server) {
	t.Helper()
	fake := &fakeS3{buckets: map[string]bool{}, objects: map[string][]byte{}, types: map[string]string{}}
	for _, b := range buckets {
		fake.buckets[b] = true
	}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, srv
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	if key == "" {
		switch r.Method {
		case http.MethodHead:
			if !f.buckets[bucket] {
				w.WriteHeader(http.StatusNotFound)
			}
		case http.MethodPut:
			f.buckets[bucket] = true
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
		return
	}

	if !f.buckets[bucket] {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	name := bucket + "/" + key

	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.objects[name] = data
		f.types[name] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag-1"`)
	case http.MethodHead, http.MethodGet:
		data, ok := f.objects[name]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				_, _ = fmt.Fprintf(w, "<Error><Code>NoSuchKey</Code><Key>%s</Key></Error>", key)
			}
			return
		}
		w.Header().Set("ETag", `"etag-1"`)
		w.Header().Set("Last-Modified", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Format(http.TimeFormat))
		w.Header().Set("Content-Type", f.types[name])
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	case http.MethodDelete:
		delete(f.objects, name)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (f *fakeS3) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func newStorage(t *testing.T, srv *httptest.Server) *storage.Storage {
	t.Helper()
	s, err := storage.New(config.TomlStorage{
		Endpoint: srv.URL,
		Region:   "us-east-1",
		Bucket:   "uploads",
	})
	require.NoError(t, err)
	return s
}

func TestEnsureBucket(t *testing.T) {
	fake, srv := newFakeS3(t)
	s := newStorage(t, srv)
	ctx := context.Background()

	require.NoError(t, s.EnsureBucket(ctx))
	assert.Equal(t, []string{"HEAD /uploads", "PUT /uploads"}, fake.calls())

	require.NoError(t, s.EnsureBucket(ctx))
	assert.Equal(t, []string{"HEAD /uploads", "PUT /uploads", "HEAD /uploads"}, fake.calls())
}

func TestUploadDownloadRemove(t *testing.T) {
	fake, srv := newFakeS3(t, "uploads")
	s := newStorage(t, srv)
	ctx := context.Background()

	dir := t.TempDir()
	local := filepath.Join(dir, "cat.JPG")
	require.NoError(t, os.WriteFile(local, []byte("not really a jpeg"), 0o644))

	ref, err := s.Upload(ctx, "postImages", local)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, srv.URL+"/uploads/postImages/"), ref)
	assert.Regexp(t, `/\d+\.jpg$`, ref)

	key, err := s.Key(ref)
	require.NoError(t, err)
	fake.mu.Lock()
	assert.Equal(t, []byte("not really a jpeg"), fake.objects["uploads/"+key])
	assert.Equal(t, "image/jpeg", fake.types["uploads/"+key])
	fake.mu.Unlock()

	copied := filepath.Join(dir, "copy.jpg")
	require.NoError(t, s.Download(ctx, ref, copied))
	data, err := os.ReadFile(copied)
	require.NoError(t, err)
	assert.Equal(t, "not really a jpeg", string(data))

	require.NoError(t, s.Remove(ctx, ref))
	fake.mu.Lock()
	assert.Empty(t, fake.objects)
	fake.mu.Unlock()

	err = s.Download(ctx, ref, filepath.Join(dir, "gone.jpg"))
	assert.ErrorContains(t, err, "failed to download")
}

func TestUploadMissingFile(t *testing.T) {
	fake, srv := newFakeS3(t, "uploads")
	s := newStorage(t, srv)

	_, err := s.Upload(context.Background(), "postImages", filepath.Join(t.TempDir(), "missing.png"))
	assert.ErrorContains(t, err, "failed to upload")
	assert.Empty(t, fake.calls())
}
