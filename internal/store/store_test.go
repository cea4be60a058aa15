package store

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/burnline/burnline/internal/models"
	"github.com/burnline/burnline/internal/retry"
	"github.com/google/uuid"
)

// fakeBucket is an in-memory object store speaking the same HTTP surface the
// client expects: PUT writes, GET reads, HEAD checks existence.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	fails   int // number of 503s to return before succeeding
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string][]byte)}
}

func (b *fakeBucket) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.fails > 0 {
			b.fails--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		key := r.URL.Path

		switch r.Method {
		case http.MethodPut:
			body := make([]byte, r.ContentLength)
			r.Body.Read(body)
			b.objects[key] = body
			w.WriteHeader(http.StatusOK)
		case http.MethodHead:
			if _, ok := b.objects[key]; ok {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		case http.MethodGet:
			data, ok := b.objects[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(data)
		}
	}
}

func newTestStore(t *testing.T, b *fakeBucket) *Store {
	t.Helper()

	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	s := New(srv.URL, "test-key", "clips")
	// Keep test retries fast
	s.policy = retry.Policy{MaxAttempts: 3, BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond}
	return s
}

func TestArtifactRoundTrip(t *testing.T) {
	bucket := newFakeBucket()
	s := newTestStore(t, bucket)
	ctx := context.Background()
	projectID := uuid.New()

	exists, err := s.ExistsArtifact(ctx, projectID, 0)
	if err != nil {
		t.Fatalf("exists check failed: %v", err)
	}
	if exists {
		t.Fatal("artifact should not exist yet")
	}

	key, err := s.PutArtifact(ctx, projectID, 0, []byte("clip-bytes"))
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if key != ArtifactKey(projectID, 0) {
		t.Errorf("unexpected key %q", key)
	}

	exists, err = s.ExistsArtifact(ctx, projectID, 0)
	if err != nil {
		t.Fatalf("exists check failed: %v", err)
	}
	if !exists {
		t.Fatal("artifact should exist after put")
	}

	data, err := s.GetArtifact(ctx, projectID, 0)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(data) != "clip-bytes" {
		t.Errorf("got %q after round trip", data)
	}
}

func TestManifestRoundTrip(t *testing.T) {
	bucket := newFakeBucket()
	s := newTestStore(t, bucket)
	ctx := context.Background()

	m := models.NewManifest(uuid.New(), "audio/a.mp3", []models.SegmentInput{
		{StartTime: 0, EndTime: 3, ImageKeys: []string{"a.jpg"}},
		{StartTime: 3, EndTime: 7, ImageKeys: []string{"b.jpg"}},
	})
	m.Segments[1].Status = models.RenderStatusRendered
	m.Segments[1].RenderedVia = models.RenderPathLocal

	if err := s.PutManifest(ctx, m); err != nil {
		t.Fatalf("put manifest failed: %v", err)
	}

	got, err := s.GetManifest(ctx, m.ProjectID)
	if err != nil {
		t.Fatalf("get manifest failed: %v", err)
	}

	if got.ProjectID != m.ProjectID {
		t.Errorf("project id mismatch: %s vs %s", got.ProjectID, m.ProjectID)
	}
	if len(got.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(got.Segments))
	}
	if got.Segments[1].RenderedVia != models.RenderPathLocal {
		t.Errorf("render path not preserved: %s", got.Segments[1].RenderedVia)
	}
}

func TestUploadRetriesTransientFailure(t *testing.T) {
	bucket := newFakeBucket()
	bucket.fails = 2
	s := newTestStore(t, bucket)

	_, err := s.PutArtifact(context.Background(), uuid.New(), 5, []byte("x"))
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
}

func TestUploadExhaustsRetryBudget(t *testing.T) {
	bucket := newFakeBucket()
	bucket.fails = 10
	s := newTestStore(t, bucket)

	_, err := s.PutArtifact(context.Background(), uuid.New(), 5, []byte("x"))
	if err == nil {
		t.Fatal("expected failure after retry budget exhausted")
	}
}

func TestDistinctKeysNeverConflict(t *testing.T) {
	projectID := uuid.New()
	a := ArtifactKey(projectID, 3)
	b := ArtifactKey(projectID, 4)
	if a == b {
		t.Errorf("adjacent segments share a key: %q", a)
	}

	if ArtifactKey(projectID, 0) == ManifestKey(projectID) {
		t.Error("artifact and manifest keys collide")
	}
}
