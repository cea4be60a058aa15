package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/burnline/burnline/internal/models"
)

// SchemaVersion tags every request crossing the remote boundary so a backend
// rollout can reject payloads it no longer understands at the edge instead of
// deep inside rendering.
const SchemaVersion = 1

// RetryableError marks a remote failure worth retrying with backoff:
// timeouts, throttling, transient backend faults.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return fmt.Sprintf("retryable remote error: %v", e.Err) }
func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError marks a permanently invalid render request: malformed payload,
// missing visual asset. Retrying cannot help; the caller should fall back
// immediately without consuming retry budget.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal remote error: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// IsRetryable reports whether err should participate in the backoff loop.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsFatal reports whether err short-circuits straight to local fallback.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// renderRequest is the wire shape sent to the rendering backend.
type renderRequest struct {
	SchemaVersion int      `json:"schema_version"`
	ProjectID     string   `json:"project_id"`
	SegmentIndex  int      `json:"segment_index"`
	ImageKeys     []string `json:"image_keys"`
	Duration      float64  `json:"duration"`
	Options       options  `json:"options"`
}

type options struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	FPS    int `json:"fps"`
}

// renderResponse is the backend's tagged success/failure variant.
type renderResponse struct {
	Success      bool    `json:"success"`
	ArtifactKey  string  `json:"artifact_key,omitempty"`
	Duration     float64 `json:"duration,omitempty"`
	ErrorCode    string  `json:"error_code,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// Adapter is the thin contract to the external, horizontally-scalable
// rendering backend. One call renders one segment; the backend writes the
// artifact to the shared store and returns its key.
type Adapter struct {
	endpoint string
	apiKey   string
	width    int
	height   int
	fps      int
	client   *http.Client
}

func New(endpoint, apiKey string, width, height, fps int) *Adapter {
	return &Adapter{
		endpoint: endpoint,
		apiKey:   apiKey,
		width:    width,
		height:   height,
		fps:      fps,
		// Per-call deadlines come from the caller's context; the client
		// timeout only guards against a wedged transport.
		client: &http.Client{Timeout: 10 * time.Minute},
	}
}

// Disabled is a stand-in adapter for deployments without a render backend.
// Every call fails fatally, which sends each segment straight to the local
// fallback without burning retry attempts.
type Disabled struct{}

func (Disabled) Render(ctx context.Context, req models.RenderRequest) (*models.RenderResult, error) {
	return nil, &FatalError{Err: fmt.Errorf("remote rendering disabled")}
}

// Render submits one segment's render request and classifies the outcome.
// The returned error, if any, is always a *RetryableError or *FatalError.
func (a *Adapter) Render(ctx context.Context, req models.RenderRequest) (*models.RenderResult, error) {
	if len(req.ImageKeys) == 0 {
		return nil, &FatalError{Err: fmt.Errorf("segment %d has no visual asset", req.SegmentIndex)}
	}
	if req.Duration <= 0 {
		return nil, &FatalError{Err: fmt.Errorf("segment %d has non-positive duration %.3f", req.SegmentIndex, req.Duration)}
	}

	body, err := json.Marshal(renderRequest{
		SchemaVersion: SchemaVersion,
		ProjectID:     req.ProjectID.String(),
		SegmentIndex:  req.SegmentIndex,
		ImageKeys:     req.ImageKeys,
		Duration:      req.Duration,
		Options:       options{Width: a.width, Height: a.height, FPS: a.fps},
	})
	if err != nil {
		return nil, &FatalError{Err: fmt.Errorf("failed to marshal render request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, &FatalError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		// Network faults and deadline expiry are transient by definition:
		// the backend may simply be scaling up.
		return nil, &RetryableError{Err: fmt.Errorf("render call failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RetryableError{Err: fmt.Errorf("failed to read render response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	var rr renderResponse
	if err := json.Unmarshal(respBody, &rr); err != nil {
		return nil, &FatalError{Err: fmt.Errorf("malformed render response: %w (body: %s)", err, truncate(string(respBody), 200))}
	}

	if !rr.Success {
		return nil, classifyBackendError(rr)
	}

	if rr.ArtifactKey == "" {
		return nil, &FatalError{Err: fmt.Errorf("render response reported success without an artifact key")}
	}

	log.Printf("[Remote] Segment %d rendered remotely (artifact=%s, duration=%.2fs)", req.SegmentIndex, rr.ArtifactKey, rr.Duration)

	return &models.RenderResult{
		SegmentIndex: req.SegmentIndex,
		ArtifactKey:  rr.ArtifactKey,
		Duration:     rr.Duration,
	}, nil
}

// classifyStatus maps HTTP-level failures onto the error taxonomy.
// Throttling and server faults are retryable; anything the backend rejects
// outright is a bad request and will stay bad.
func classifyStatus(status int, body []byte) error {
	err := fmt.Errorf("backend returned status %d: %s", status, truncate(string(body), 200))

	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return &RetryableError{Err: err}
	default:
		return &FatalError{Err: err}
	}
}

// classifyBackendError maps an application-level failure (HTTP 200 with
// success=false) onto the error taxonomy using the backend's error code.
func classifyBackendError(rr renderResponse) error {
	err := fmt.Errorf("backend render failed (%s): %s", rr.ErrorCode, rr.ErrorMessage)

	switch rr.ErrorCode {
	case "throttled", "capacity", "timeout", "transient":
		return &RetryableError{Err: err}
	default:
		// bad_request, no_asset, unsupported_media and anything unknown
		return &FatalError{Err: err}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
