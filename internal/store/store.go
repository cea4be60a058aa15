package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/burnline/burnline/internal/models"
	"github.com/burnline/burnline/internal/retry"
	"github.com/google/uuid"
)

const (
	// Upload timeout per attempt, generous for multi-MB rendered clips
	uploadTimeout = 180 * time.Second

	// Download timeout
	downloadTimeout = 120 * time.Second

	// Existence-check timeout; a HEAD carries no body
	existsTimeout = 15 * time.Second
)

// Store is the durable artifact and manifest store, addressed by
// (project id, segment index) for artifacts and by project id for manifests.
// It is the idempotency boundary: callers check existence before doing work,
// and distinct keys never conflict under concurrent writers. It does not
// arbitrate same-key races; the dispatcher serializes those.
type Store struct {
	url        string
	serviceKey string
	Bucket     string
	policy     retry.Policy
	client     *http.Client
}

func New(url, serviceKey, bucket string) *Store {
	return &Store{
		url:        url,
		serviceKey: serviceKey,
		Bucket:     bucket,
		policy:     retry.Storage,
		client: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Key layout

// ArtifactKey addresses one segment's rendered clip.
func ArtifactKey(projectID uuid.UUID, segmentIndex int) string {
	return fmt.Sprintf("artifacts/%s/%d.mp4", projectID, segmentIndex)
}

// ManifestKey addresses a project's manifest.
func ManifestKey(projectID uuid.UUID) string {
	return fmt.Sprintf("manifests/%s.json", projectID)
}

// FinalKey addresses a project's assembled output.
func FinalKey(projectID uuid.UUID) string {
	return fmt.Sprintf("videos/%s_final.mp4", projectID)
}

// Artifact operations

// ExistsArtifact reports whether a segment's artifact is already stored.
// Used for idempotent skip before invoking any renderer.
func (s *Store) ExistsArtifact(ctx context.Context, projectID uuid.UUID, segmentIndex int) (bool, error) {
	return s.exists(ctx, ArtifactKey(projectID, segmentIndex))
}

// PutArtifact stores a segment's rendered clip. Overwriting an existing key
// is intentional: the dispatcher only calls this after confirming the segment
// is not already terminal.
func (s *Store) PutArtifact(ctx context.Context, projectID uuid.UUID, segmentIndex int, data []byte) (string, error) {
	key := ArtifactKey(projectID, segmentIndex)
	if err := s.upload(ctx, key, data, "video/mp4"); err != nil {
		return "", err
	}
	return key, nil
}

// PutArtifactFile stores a rendered clip from a local path.
func (s *Store) PutArtifactFile(ctx context.Context, projectID uuid.UUID, segmentIndex int, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read artifact file %s: %w", localPath, err)
	}
	return s.PutArtifact(ctx, projectID, segmentIndex, data)
}

// GetArtifact fetches a segment's rendered clip.
func (s *Store) GetArtifact(ctx context.Context, projectID uuid.UUID, segmentIndex int) ([]byte, error) {
	return s.download(ctx, ArtifactKey(projectID, segmentIndex))
}

// Manifest operations

// PutManifest stores the project manifest. Called on every terminal segment
// transition so a crash mid-run loses no completed work.
func (s *Store) PutManifest(ctx context.Context, m *models.Manifest) error {
	m.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	return s.upload(ctx, ManifestKey(m.ProjectID), data, "application/json")
}

// GetManifest fetches and parses the project manifest.
func (s *Store) GetManifest(ctx context.Context, projectID uuid.UUID) (*models.Manifest, error) {
	data, err := s.download(ctx, ManifestKey(projectID))
	if err != nil {
		return nil, err
	}

	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	return &m, nil
}

// Final output / audio

// PutFinalFile uploads the assembled output from a local path and returns its key.
func (s *Store) PutFinalFile(ctx context.Context, projectID uuid.UUID, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read final output %s: %w", localPath, err)
	}

	key := FinalKey(projectID)
	if err := s.upload(ctx, key, data, "video/mp4"); err != nil {
		return "", err
	}
	return key, nil
}

// Get fetches an arbitrary object by key (audio source, image assets).
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	return s.download(ctx, key)
}

// GetPublicURL returns the public URL for a stored object.
func (s *Store) GetPublicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.Bucket, key)
}

// Low-level transport with bounded retry. Exhausting the retry budget here is
// fatal for the run: the manifest must not silently diverge from reality.

func (s *Store) exists(ctx context.Context, key string) (bool, error) {
	url := s.objectURL(key)

	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		if err := s.policy.Wait(ctx, attempt); err != nil {
			return false, err
		}

		headCtx, cancel := context.WithTimeout(ctx, existsTimeout)
		req, err := http.NewRequestWithContext(headCtx, http.MethodHead, url, nil)
		if err != nil {
			cancel()
			return false, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)

		resp, err := s.client.Do(req)
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("existence check failed: %w", err)
			if isRetryableError(err) {
				log.Printf("[Store] Exists attempt %d failed (retryable): %v", attempt, err)
				continue
			}
			return false, lastErr
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return true, nil
		case resp.StatusCode == http.StatusNotFound:
			return false, nil
		case isRetryableStatus(resp.StatusCode):
			lastErr = fmt.Errorf("existence check returned status %d", resp.StatusCode)
			log.Printf("[Store] Exists attempt %d returned status %d (retryable)", attempt, resp.StatusCode)
			continue
		default:
			return false, fmt.Errorf("existence check returned status %d", resp.StatusCode)
		}
	}

	return false, fmt.Errorf("existence check failed after %d attempts: %w", s.policy.MaxAttempts, lastErr)
}

func (s *Store) upload(ctx context.Context, key string, data []byte, contentType string) error {
	url := s.objectURL(key)

	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		if err := s.policy.Wait(ctx, attempt); err != nil {
			return err
		}
		if attempt > 1 {
			log.Printf("[Store] Upload retry %d/%d for %s...", attempt-1, s.policy.MaxAttempts-1, key)
		}

		// Each attempt gets its own generous timeout, independent of caller's ctx
		uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)

		req, err := http.NewRequestWithContext(uploadCtx, http.MethodPut, url, bytes.NewReader(data))
		if err != nil {
			cancel()
			return fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Content-Length", fmt.Sprintf("%d", len(data)))
		req.Header.Set("x-upsert", "true")

		resp, err := s.client.Do(req)
		if err != nil {
			cancel()
			lastErr = fmt.Errorf("failed to upload: %w", err)
			if isRetryableError(err) {
				log.Printf("[Store] Upload attempt %d failed (retryable): %v", attempt, err)
				continue
			}
			return lastErr
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			if attempt > 1 {
				log.Printf("[Store] Upload succeeded on attempt %d for %s", attempt, key)
			}
			return nil
		}

		lastErr = fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))

		if isRetryableStatus(resp.StatusCode) {
			log.Printf("[Store] Upload attempt %d returned status %d (retryable)", attempt, resp.StatusCode)
			continue
		}

		// Non-retryable status (400, 401, 403, 404, 413, etc.)
		return lastErr
	}

	return fmt.Errorf("upload failed after %d attempts: %w", s.policy.MaxAttempts, lastErr)
}

func (s *Store) download(ctx context.Context, key string) ([]byte, error) {
	url := s.objectURL(key)

	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		if err := s.policy.Wait(ctx, attempt); err != nil {
			return nil, err
		}
		if attempt > 1 {
			log.Printf("[Store] Download retry %d/%d for %s...", attempt-1, s.policy.MaxAttempts-1, key)
		}

		dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)

		req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, url, nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)

		resp, err := s.client.Do(req)
		if err != nil {
			cancel()
			lastErr = fmt.Errorf("failed to download: %w", err)
			if isRetryableError(err) {
				log.Printf("[Store] Download attempt %d failed (retryable): %v", attempt, err)
				continue
			}
			return nil, lastErr
		}

		if resp.StatusCode == http.StatusOK {
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			cancel()
			if err != nil {
				lastErr = fmt.Errorf("failed to read download body: %w", err)
				log.Printf("[Store] Download attempt %d read failed: %v", attempt, err)
				continue
			}
			return data, nil
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()

		lastErr = fmt.Errorf("download failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))

		if isRetryableStatus(resp.StatusCode) {
			log.Printf("[Store] Download attempt %d returned status %d (retryable)", attempt, resp.StatusCode)
			continue
		}

		return nil, lastErr
	}

	return nil, fmt.Errorf("download failed after %d attempts: %w", s.policy.MaxAttempts, lastErr)
}

func (s *Store) objectURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, key)
}

// isRetryableError checks if a network-level error is worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

// isRetryableStatus checks if an HTTP status code is worth retrying
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || // 429
		status == http.StatusRequestTimeout || // 408
		status == http.StatusBadGateway || // 502
		status == http.StatusServiceUnavailable || // 503
		status == http.StatusGatewayTimeout // 504
}

// truncate limits a string to maxLen characters for log output
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
