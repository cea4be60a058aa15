package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/burnline/burnline/internal/models"
	"github.com/google/uuid"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "test-key", 1920, 1080, 24)
}

func testRequest() models.RenderRequest {
	return models.RenderRequest{
		ProjectID:    uuid.New(),
		SegmentIndex: 7,
		ImageKeys:    []string{"images/p/7_0.jpg"},
		Duration:     5.5,
	}
}

func TestRenderSuccess(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		json.NewDecoder(r.Body).Decode(&req)

		if req["schema_version"].(float64) != SchemaVersion {
			t.Errorf("expected schema_version %d, got %v", SchemaVersion, req["schema_version"])
		}
		if req["segment_index"].(float64) != 7 {
			t.Errorf("expected segment_index 7, got %v", req["segment_index"])
		}

		json.NewEncoder(w).Encode(renderResponse{
			Success:     true,
			ArtifactKey: "artifacts/p/7.mp4",
			Duration:    5.5,
		})
	})

	result, err := adapter.Render(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ArtifactKey != "artifacts/p/7.mp4" {
		t.Errorf("unexpected artifact key %q", result.ArtifactKey)
	}
	if result.SegmentIndex != 7 {
		t.Errorf("unexpected segment index %d", result.SegmentIndex)
	}
}

func TestRenderClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          renderResponse
		wantRetryable bool
		wantFatal     bool
	}{
		{"throttled", http.StatusTooManyRequests, renderResponse{}, true, false},
		{"server fault", http.StatusInternalServerError, renderResponse{}, true, false},
		{"bad gateway", http.StatusBadGateway, renderResponse{}, true, false},
		{"bad request", http.StatusBadRequest, renderResponse{}, false, true},
		{"unauthorized", http.StatusUnauthorized, renderResponse{}, false, true},
		{
			"application throttle",
			http.StatusOK,
			renderResponse{Success: false, ErrorCode: "throttled", ErrorMessage: "slow down"},
			true, false,
		},
		{
			"application no asset",
			http.StatusOK,
			renderResponse{Success: false, ErrorCode: "no_asset", ErrorMessage: "no image for segment"},
			false, true,
		},
		{
			"success without artifact",
			http.StatusOK,
			renderResponse{Success: true},
			false, true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(tt.body)
			})

			_, err := adapter.Render(context.Background(), testRequest())
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := IsRetryable(err); got != tt.wantRetryable {
				t.Errorf("IsRetryable = %v, want %v (err: %v)", got, tt.wantRetryable, err)
			}
			if got := IsFatal(err); got != tt.wantFatal {
				t.Errorf("IsFatal = %v, want %v (err: %v)", got, tt.wantFatal, err)
			}
		})
	}
}

func TestRenderNoAssetShortCircuits(t *testing.T) {
	called := false
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := testRequest()
	req.ImageKeys = nil

	_, err := adapter.Render(context.Background(), req)
	if !IsFatal(err) {
		t.Fatalf("expected fatal error for missing asset, got %v", err)
	}
	if called {
		t.Error("backend must not be invoked for a request with no visual asset")
	}
}

func TestRenderTimeoutIsRetryable(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := adapter.Render(ctx, testRequest())
	if !IsRetryable(err) {
		t.Fatalf("expected retryable error for timeout, got %v", err)
	}
}

func TestRenderMalformedResponseIsFatal(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})

	_, err := adapter.Render(context.Background(), testRequest())
	if !IsFatal(err) {
		t.Fatalf("expected fatal error for malformed response, got %v", err)
	}
}
