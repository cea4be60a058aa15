package dispatch

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/burnline/burnline/internal/effects"
	"github.com/burnline/burnline/internal/models"
	"github.com/burnline/burnline/internal/remote"
	"github.com/burnline/burnline/internal/retry"
	"github.com/burnline/burnline/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// RemoteRenderer renders one segment on the elastic backend.
type RemoteRenderer interface {
	Render(ctx context.Context, req models.RenderRequest) (*models.RenderResult, error)
}

// LocalRenderer renders one segment in-process with a fixed effect selection.
type LocalRenderer interface {
	Render(ctx context.Context, req models.RenderRequest, sel effects.Selection) (*models.RenderResult, error)
}

// ResultStore is the slice of the result store the dispatcher needs: the
// idempotency check and manifest persistence.
type ResultStore interface {
	ExistsArtifact(ctx context.Context, projectID uuid.UUID, segmentIndex int) (bool, error)
	PutManifest(ctx context.Context, m *models.Manifest) error
}

// Dispatcher orchestrates a project's pending segments against the remote
// backend under a bounded concurrency policy, with per-call timeout, bounded
// retry with backoff, and local fallback on exhaustion.
type Dispatcher struct {
	remote        RemoteRenderer
	local         LocalRenderer
	store         ResultStore
	policy        retry.Policy
	remoteTimeout time.Duration

	// localSem bounds concurrent local fallback renders to available local
	// compute; local work never counts against the remote concurrency cap.
	localSem chan struct{}
}

// Option tweaks dispatcher construction.
type Option func(*Dispatcher)

// WithRetryPolicy overrides the remote retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithRemoteTimeout overrides the per-call remote timeout.
func WithRemoteTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.remoteTimeout = t }
}

// WithLocalSlots overrides how many local fallback renders may run at once.
func WithLocalSlots(n int) Option {
	return func(d *Dispatcher) {
		if n < 1 {
			n = 1
		}
		d.localSem = make(chan struct{}, n)
	}
}

func New(remoteRenderer RemoteRenderer, localRenderer LocalRenderer, resultStore ResultStore, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		remote:        remoteRenderer,
		local:         localRenderer,
		store:         resultStore,
		policy:        retry.Default,
		remoteTimeout: 3 * time.Minute,
		localSem:      make(chan struct{}, runtime.NumCPU()),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// concurrencyBound computes the remote concurrency cap from segment count.
// The cap bounds resource pressure on this process, not the backend, which
// scales horizontally.
func concurrencyBound(segmentCount int) int {
	switch {
	case segmentCount <= 10:
		return segmentCount
	case segmentCount <= 50:
		return 25
	default:
		return 50
	}
}

// Run processes every segment of the manifest that does not yet hold an
// artifact. Segments already Rendered in the manifest are untouched; Pending
// segments whose artifact already exists in the store are marked Rendered
// without invoking any renderer. Every terminal transition is persisted to
// the manifest immediately, so a crash mid-run loses no completed work.
//
// A manifest write failure aborts the run: the manifest is the correctness
// anchor and must not silently diverge from stored artifacts.
func (d *Dispatcher) Run(ctx context.Context, m *models.Manifest) (models.DispatchSummary, error) {
	var (
		mu      sync.Mutex
		summary models.DispatchSummary
	)

	// Idempotent skip pass: resolve already-done work before any renderer
	// is involved.
	var toRender []int
	manifestDirty := false

	for i := range m.Segments {
		seg := &m.Segments[i]

		if seg.Status == models.RenderStatusRendered {
			summary.Skipped++
			continue
		}

		exists, err := d.store.ExistsArtifact(ctx, m.ProjectID, seg.Index)
		if err != nil {
			return summary, fmt.Errorf("artifact existence check for segment %d: %w", seg.Index, err)
		}

		if exists {
			seg.Status = models.RenderStatusRendered
			seg.ArtifactKey = store.ArtifactKey(m.ProjectID, seg.Index)
			if seg.RenderedVia == models.RenderPathNone {
				seg.RenderedVia = models.RenderPathRemote
			}
			summary.Skipped++
			manifestDirty = true
			log.Printf("[Dispatch] Segment %d already has an artifact, skipping", seg.Index)
			continue
		}

		toRender = append(toRender, i)
	}

	if manifestDirty {
		if err := d.store.PutManifest(ctx, m); err != nil {
			return summary, fmt.Errorf("failed to persist manifest after skip pass: %w", err)
		}
	}

	if len(toRender) == 0 {
		return summary, nil
	}

	bound := concurrencyBound(len(toRender))
	log.Printf("[Dispatch] Rendering %d segment(s) for project %s (remote concurrency %d)", len(toRender), m.ProjectID, bound)

	sem := semaphore.NewWeighted(int64(bound))
	g, gctx := errgroup.WithContext(ctx)

	for _, idx := range toRender {
		seg := &m.Segments[idx]

		g.Go(func() error {
			mu.Lock()
			seg.Status = models.RenderStatusRendering
			mu.Unlock()

			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}

			result, via, attempts, renderErr := d.renderRemoteWithRetry(gctx, m, seg)
			sem.Release(1)

			var sel effects.Selection
			if renderErr != nil {
				// Remote path exhausted or fatally rejected: local fallback
				// on the bounded local lane, outside the remote cap.
				result, via, sel, renderErr = d.renderLocalFallback(gctx, m, seg)
			}

			mu.Lock()
			defer mu.Unlock()

			seg.Attempts += attempts

			if renderErr != nil {
				seg.Status = models.RenderStatusFailed
				seg.RenderedVia = models.RenderPathNone
				seg.ErrorMessage = renderErr.Error()
				summary.Failed++
				log.Printf("[Dispatch] Segment %d failed: %v", seg.Index, renderErr)
			} else if seg.Status == models.RenderStatusRendered {
				// Same-segment race: another writer won while we rendered.
				// Rendered is a terminal fact; discard this result.
				log.Printf("[Dispatch] Segment %d already rendered, discarding duplicate %s result", seg.Index, via)
				return nil
			} else {
				seg.Status = models.RenderStatusRendered
				seg.RenderedVia = via
				seg.ArtifactKey = result.ArtifactKey
				seg.ErrorMessage = ""
				switch via {
				case models.RenderPathRemote:
					summary.Remote++
				case models.RenderPathLocal:
					summary.Local++
					// Record the selection with the artifact so a later
					// re-render reproduces the identical trajectory.
					seg.Effect = string(sel.Effect)
					seg.EffectSeed = sel.Seed
					seg.PaletteVersion = sel.PaletteVersion
					seg.Reroll = false
				}
			}

			if err := d.store.PutManifest(gctx, m); err != nil {
				return fmt.Errorf("failed to persist manifest after segment %d: %w", seg.Index, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, err
	}

	log.Printf("[Dispatch] Project %s pass complete: %d skipped, %d remote, %d local, %d failed",
		m.ProjectID, summary.Skipped, summary.Remote, summary.Local, summary.Failed)

	return summary, nil
}

// renderRemoteWithRetry drives one segment through the remote path: bounded
// attempts with backoff on retryable errors, immediate abort on fatal ones.
// Returns how many attempts were consumed so the caller can record them.
func (d *Dispatcher) renderRemoteWithRetry(ctx context.Context, m *models.Manifest, seg *models.Segment) (*models.RenderResult, models.RenderPath, int, error) {
	req := models.RenderRequest{
		ProjectID:    m.ProjectID,
		SegmentIndex: seg.Index,
		ImageKeys:    seg.ImageKeys,
		Duration:     seg.Duration(),
		StartTime:    seg.StartTime,
		EndTime:      seg.EndTime,
	}

	attempts := 0

	var lastErr error
	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		if err := d.policy.Wait(ctx, attempt); err != nil {
			return nil, models.RenderPathNone, attempts, err
		}

		attempts++

		callCtx, cancel := context.WithTimeout(ctx, d.remoteTimeout)
		result, err := d.remote.Render(callCtx, req)
		cancel()

		if err == nil {
			return result, models.RenderPathRemote, attempts, nil
		}

		lastErr = err

		if remote.IsFatal(err) {
			// Permanently invalid for the backend; retrying cannot help.
			log.Printf("[Dispatch] Segment %d rejected by backend, falling back to local: %v", seg.Index, err)
			return nil, models.RenderPathNone, attempts, err
		}

		if ctx.Err() != nil {
			return nil, models.RenderPathNone, attempts, ctx.Err()
		}

		log.Printf("[Dispatch] Segment %d remote attempt %d/%d failed: %v", seg.Index, attempt, d.policy.MaxAttempts, err)
	}

	return nil, models.RenderPathNone, attempts, fmt.Errorf("remote render exhausted after %d attempts: %w", d.policy.MaxAttempts, lastErr)
}

// renderLocalFallback renders one segment on the local lane. The effect
// selection is reproduced from the manifest when recorded, freshly seeded on
// first render, and rerolled only when the segment explicitly asks for it.
func (d *Dispatcher) renderLocalFallback(ctx context.Context, m *models.Manifest, seg *models.Segment) (*models.RenderResult, models.RenderPath, effects.Selection, error) {
	select {
	case d.localSem <- struct{}{}:
	case <-ctx.Done():
		return nil, models.RenderPathNone, effects.Selection{}, ctx.Err()
	}
	defer func() { <-d.localSem }()

	sel := d.effectSelection(m.ProjectID, seg)

	req := models.RenderRequest{
		ProjectID:    m.ProjectID,
		SegmentIndex: seg.Index,
		ImageKeys:    seg.ImageKeys,
		Duration:     seg.Duration(),
		StartTime:    seg.StartTime,
		EndTime:      seg.EndTime,
	}

	result, err := d.local.Render(ctx, req, sel)
	if err != nil {
		return nil, models.RenderPathNone, sel, err
	}

	return result, models.RenderPathLocal, sel, nil
}

// effectSelection resolves a segment's effect: reproduce a recorded
// selection, reroll on explicit request, or derive the default seed.
func (d *Dispatcher) effectSelection(projectID uuid.UUID, seg *models.Segment) effects.Selection {
	if seg.Reroll {
		return effects.Reroll()
	}

	if seg.Effect != "" && seg.PaletteVersion == effects.PaletteVersion {
		return effects.Selection{
			Effect:         effects.Effect(seg.Effect),
			Seed:           seg.EffectSeed,
			PaletteVersion: seg.PaletteVersion,
		}
	}

	return effects.Pick(effects.SeedFor(projectID.String(), seg.Index))
}
