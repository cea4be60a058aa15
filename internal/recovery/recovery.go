// Package recovery reconciles a project after a dispatch pass: it verifies
// the manifest against the artifacts actually present in the result store,
// drives one additional render pass over anything still missing, and decides
// whether the project clears its acceptance threshold.
package recovery

import (
	"context"
	"fmt"
	"log"

	"github.com/burnline/burnline/internal/models"
	"github.com/burnline/burnline/internal/store"
	"github.com/google/uuid"
)

// Runner re-renders a manifest's pending segments. Satisfied by
// dispatch.Dispatcher.
type Runner interface {
	Run(ctx context.Context, m *models.Manifest) (models.DispatchSummary, error)
}

// ResultStore is the slice of the result store the controller needs.
type ResultStore interface {
	ExistsArtifact(ctx context.Context, projectID uuid.UUID, segmentIndex int) (bool, error)
	PutManifest(ctx context.Context, m *models.Manifest) error
}

// Controller owns the reconcile pass for a project.
type Controller struct {
	store     ResultStore
	runner    Runner
	threshold float64
}

func New(resultStore ResultStore, runner Runner, threshold float64) *Controller {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.6
	}
	return &Controller{store: resultStore, runner: runner, threshold: threshold}
}

// Reconcile audits the manifest against the store, retries whatever is still
// missing through one more dispatch pass, and reports the final verdict.
//
// Audit before retry: a segment the manifest believes is rendered but whose
// artifact is gone from the store is demoted back to pending, so a corrupted
// or partially-deleted bucket never yields a final video with silent holes.
// Failed segments also get exactly one more chance here; the dispatch pass
// carries its own per-segment retry budget, so this does not loop forever.
func (c *Controller) Reconcile(ctx context.Context, m *models.Manifest) (models.ReconcileReport, error) {
	var report models.ReconcileReport

	demoted := 0
	retriable := 0
	for i := range m.Segments {
		seg := &m.Segments[i]

		switch seg.Status {
		case models.RenderStatusRendered:
			exists, err := c.store.ExistsArtifact(ctx, m.ProjectID, seg.Index)
			if err != nil {
				return report, fmt.Errorf("artifact audit for segment %d: %w", seg.Index, err)
			}
			if !exists {
				log.Printf("[Recovery] Segment %d marked rendered but artifact missing, re-queueing", seg.Index)
				seg.Status = models.RenderStatusPending
				seg.RenderedVia = models.RenderPathNone
				seg.ArtifactKey = ""
				demoted++
			}
		case models.RenderStatusFailed, models.RenderStatusRendering:
			// Rendering here means a previous run died mid-flight.
			seg.Status = models.RenderStatusPending
			seg.ErrorMessage = ""
			retriable++
		}
	}

	if demoted > 0 || retriable > 0 {
		log.Printf("[Recovery] Project %s: %d artifact(s) missing from store, %d segment(s) retriable", m.ProjectID, demoted, retriable)
		if err := c.store.PutManifest(ctx, m); err != nil {
			return report, fmt.Errorf("failed to persist manifest after audit: %w", err)
		}
		if _, err := c.runner.Run(ctx, m); err != nil {
			return report, fmt.Errorf("recovery render pass: %w", err)
		}
	}

	report = c.report(m)

	if report.Accepted {
		log.Printf("[Recovery] Project %s accepted: %d/%d segments rendered (%.0f%%)",
			m.ProjectID, report.Rendered, report.Total, report.Fraction*100)
	} else {
		log.Printf("[Recovery] Project %s below threshold: %d/%d segments rendered (%.0f%% < %.0f%%), missing %v",
			m.ProjectID, report.Rendered, report.Total, report.Fraction*100, c.threshold*100, report.Missing)
	}

	return report, nil
}

// report computes the verdict from the manifest's current state. A project
// is accepted when its rendered fraction meets the threshold; meeting it
// exactly counts.
func (c *Controller) report(m *models.Manifest) models.ReconcileReport {
	total := len(m.Segments)
	rendered := m.RenderedCount()

	var fraction float64
	if total > 0 {
		fraction = float64(rendered) / float64(total)
	}

	return models.ReconcileReport{
		Rendered: rendered,
		Total:    total,
		Fraction: fraction,
		Missing:  m.MissingIndexes(),
		Accepted: fraction >= c.threshold,
	}
}

// VerifyArtifacts confirms every rendered segment's artifact key matches the
// canonical layout. Used by assembly as a final structural check before any
// clip is fetched.
func VerifyArtifacts(m *models.Manifest) error {
	for i := range m.Segments {
		seg := &m.Segments[i]
		if seg.Status != models.RenderStatusRendered {
			continue
		}
		if seg.ArtifactKey == "" {
			return fmt.Errorf("segment %d is rendered but has no artifact key", seg.Index)
		}
		if want := store.ArtifactKey(m.ProjectID, seg.Index); seg.ArtifactKey != want {
			return fmt.Errorf("segment %d artifact key %q does not match layout %q", seg.Index, seg.ArtifactKey, want)
		}
	}
	return nil
}
