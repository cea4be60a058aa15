package recovery

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/burnline/burnline/internal/models"
	"github.com/burnline/burnline/internal/store"
	"github.com/google/uuid"
)

type fakeStore struct {
	missing map[int]bool
	puts    int
}

func (f *fakeStore) ExistsArtifact(ctx context.Context, projectID uuid.UUID, segmentIndex int) (bool, error) {
	return !f.missing[segmentIndex], nil
}

func (f *fakeStore) PutManifest(ctx context.Context, m *models.Manifest) error {
	f.puts++
	return nil
}

type fakeRunner struct {
	runs int
	err  error
	// onRun mutates the manifest the way a real dispatch pass would.
	onRun func(m *models.Manifest)
}

func (f *fakeRunner) Run(ctx context.Context, m *models.Manifest) (models.DispatchSummary, error) {
	f.runs++
	if f.err != nil {
		return models.DispatchSummary{}, f.err
	}
	if f.onRun != nil {
		f.onRun(m)
	}
	return models.DispatchSummary{}, nil
}

func manifestWith(statuses ...models.RenderStatus) *models.Manifest {
	m := &models.Manifest{ProjectID: uuid.New()}
	for i, st := range statuses {
		seg := models.Segment{
			Index:     i,
			StartTime: float64(i) * 4,
			EndTime:   float64(i+1) * 4,
			ImageKeys: []string{"images/a.jpg"},
			Status:    st,
		}
		if st == models.RenderStatusRendered {
			seg.ArtifactKey = store.ArtifactKey(m.ProjectID, i)
			seg.RenderedVia = models.RenderPathRemote
		}
		m.Segments = append(m.Segments, seg)
	}
	return m
}

func TestReconcileCleanManifestSkipsRenderPass(t *testing.T) {
	st := &fakeStore{}
	runner := &fakeRunner{}
	c := New(st, runner, 0.6)

	m := manifestWith(
		models.RenderStatusRendered,
		models.RenderStatusRendered,
		models.RenderStatusRendered,
	)

	report, err := c.Reconcile(context.Background(), m)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if runner.runs != 0 {
		t.Errorf("render pass invoked %d times on a clean manifest, want 0", runner.runs)
	}
	if !report.Accepted || report.Rendered != 3 || report.Fraction != 1.0 {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(report.Missing) != 0 {
		t.Errorf("missing = %v, want none", report.Missing)
	}
}

func TestReconcileDemotesMissingArtifacts(t *testing.T) {
	st := &fakeStore{missing: map[int]bool{1: true}}
	runner := &fakeRunner{onRun: func(m *models.Manifest) {
		// Recovery pass succeeds on the re-queued segment.
		m.Segments[1].Status = models.RenderStatusRendered
		m.Segments[1].ArtifactKey = store.ArtifactKey(m.ProjectID, 1)
		m.Segments[1].RenderedVia = models.RenderPathLocal
	}}
	c := New(st, runner, 0.6)

	m := manifestWith(
		models.RenderStatusRendered,
		models.RenderStatusRendered,
		models.RenderStatusRendered,
	)

	report, err := c.Reconcile(context.Background(), m)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if runner.runs != 1 {
		t.Fatalf("render pass invoked %d times, want 1", runner.runs)
	}
	if !report.Accepted || report.Rendered != 3 {
		t.Errorf("unexpected report after recovery: %+v", report)
	}
	if st.puts == 0 {
		t.Error("audit demotion was not persisted before the render pass")
	}
}

func TestReconcileRetriesFailedAndStuckSegments(t *testing.T) {
	st := &fakeStore{}
	var sawPending []int
	runner := &fakeRunner{onRun: func(m *models.Manifest) {
		for i := range m.Segments {
			if m.Segments[i].Status == models.RenderStatusPending {
				sawPending = append(sawPending, i)
			}
		}
	}}
	c := New(st, runner, 0.6)

	m := manifestWith(
		models.RenderStatusRendered,
		models.RenderStatusFailed,
		models.RenderStatusRendering, // stale from a crashed run
	)
	m.Segments[1].ErrorMessage = "remote render exhausted"

	if _, err := c.Reconcile(context.Background(), m); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if !reflect.DeepEqual(sawPending, []int{1, 2}) {
		t.Errorf("render pass saw pending segments %v, want [1 2]", sawPending)
	}
	if m.Segments[1].ErrorMessage != "" {
		t.Error("stale error message survived the re-queue")
	}
}

func TestReconcileThresholdVerdicts(t *testing.T) {
	tests := []struct {
		name      string
		rendered  int
		total     int
		threshold float64
		accepted  bool
	}{
		{"all rendered", 57, 57, 0.6, true},
		{"above threshold", 48, 57, 0.6, true},
		{"exactly at threshold", 6, 10, 0.6, true},
		{"below threshold", 20, 57, 0.6, false},
		{"nothing rendered", 0, 10, 0.6, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			statuses := make([]models.RenderStatus, tt.total)
			for i := range statuses {
				if i < tt.rendered {
					statuses[i] = models.RenderStatusRendered
				} else {
					statuses[i] = models.RenderStatusFailed
				}
			}

			// The runner makes no progress, so the verdict reflects the
			// incoming counts.
			c := New(&fakeStore{}, &fakeRunner{}, tt.threshold)
			report, err := c.Reconcile(context.Background(), manifestWith(statuses...))
			if err != nil {
				t.Fatalf("Reconcile: %v", err)
			}

			if report.Accepted != tt.accepted {
				t.Errorf("accepted = %v, want %v (report %+v)", report.Accepted, tt.accepted, report)
			}
			if report.Rendered != tt.rendered || report.Total != tt.total {
				t.Errorf("counts = %d/%d, want %d/%d", report.Rendered, report.Total, tt.rendered, tt.total)
			}
			if wantMissing := tt.total - tt.rendered; len(report.Missing) != wantMissing {
				t.Errorf("missing = %v, want %d indexes", report.Missing, wantMissing)
			}
		})
	}
}

func TestReconcileRenderPassFailureSurfaces(t *testing.T) {
	c := New(&fakeStore{}, &fakeRunner{err: errors.New("store unavailable")}, 0.6)

	m := manifestWith(models.RenderStatusRendered, models.RenderStatusFailed)
	if _, err := c.Reconcile(context.Background(), m); err == nil {
		t.Fatal("expected error when the recovery render pass fails")
	}
}

func TestVerifyArtifacts(t *testing.T) {
	m := manifestWith(models.RenderStatusRendered, models.RenderStatusRendered)
	if err := VerifyArtifacts(m); err != nil {
		t.Fatalf("VerifyArtifacts on a clean manifest: %v", err)
	}

	m.Segments[1].ArtifactKey = "artifacts/wrong/path.mp4"
	if err := VerifyArtifacts(m); err == nil {
		t.Error("expected error for an off-layout artifact key")
	}

	m.Segments[1].ArtifactKey = ""
	if err := VerifyArtifacts(m); err == nil {
		t.Error("expected error for a rendered segment with no artifact key")
	}
}
