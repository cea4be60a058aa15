// Package assemble turns a project's rendered segment artifacts into the
// final video: clips concatenated strictly by segment index, original audio
// muxed back in, output validated and uploaded to the result store.
package assemble

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/burnline/burnline/internal/models"
	"github.com/burnline/burnline/internal/recovery"
	"github.com/burnline/burnline/internal/renderer"
	"github.com/google/uuid"
)

// GapPolicy decides what happens to segments that never produced an artifact
// on an accepted partial run.
type GapPolicy string

const (
	// GapPlaceholder fills each missing segment with a black clip of the
	// segment's duration, preserving audio/video alignment end to end.
	GapPlaceholder GapPolicy = "placeholder"

	// GapSkip drops missing segments entirely. The video shortens and audio
	// drifts ahead of the imagery after each gap; only appropriate when the
	// imagery is decorative.
	GapSkip GapPolicy = "skip"
)

// AssemblyError marks a failure inside the assembly stage proper (concat,
// mux, or validation), as opposed to fetch or upload faults.
type AssemblyError struct {
	Err error
}

func (e *AssemblyError) Error() string { return fmt.Sprintf("assembly error: %v", e.Err) }
func (e *AssemblyError) Unwrap() error { return e.Err }

// ResultStore is the slice of the result store assembly needs.
type ResultStore interface {
	GetArtifact(ctx context.Context, projectID uuid.UUID, segmentIndex int) ([]byte, error)
	Get(ctx context.Context, key string) ([]byte, error)
	PutFinalFile(ctx context.Context, projectID uuid.UUID, localPath string) (string, error)
}

// Assembler builds the final deliverable for an accepted project.
type Assembler struct {
	store  ResultStore
	ffmpeg *renderer.FFmpeg
	policy GapPolicy
}

func New(resultStore ResultStore, ffmpeg *renderer.FFmpeg, policy GapPolicy) *Assembler {
	if policy != GapSkip {
		policy = GapPlaceholder
	}
	return &Assembler{store: resultStore, ffmpeg: ffmpeg, policy: policy}
}

// clipPlan is one entry of the assembly order: either a rendered artifact to
// fetch or a gap to fill per policy.
type clipPlan struct {
	index    int
	duration float64
	gap      bool
}

// planAssembly produces the clip order for a manifest. Clips are sequenced
// strictly by ascending segment index regardless of which path rendered them
// or in what order they finished.
func planAssembly(m *models.Manifest, policy GapPolicy) ([]clipPlan, error) {
	if len(m.Segments) == 0 {
		return nil, fmt.Errorf("manifest has no segments")
	}

	ordered := make([]*models.Segment, 0, len(m.Segments))
	for i := range m.Segments {
		ordered = append(ordered, &m.Segments[i])
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var plan []clipPlan
	rendered := 0
	for _, seg := range ordered {
		if seg.Status == models.RenderStatusRendered {
			plan = append(plan, clipPlan{index: seg.Index, duration: seg.Duration()})
			rendered++
			continue
		}
		if policy == GapPlaceholder {
			plan = append(plan, clipPlan{index: seg.Index, duration: seg.Duration(), gap: true})
		}
	}

	if rendered == 0 {
		return nil, fmt.Errorf("no rendered segments to assemble")
	}

	return plan, nil
}

// Assemble builds, validates, and uploads the final video for an accepted
// project, returning the machine-readable run summary.
func (a *Assembler) Assemble(ctx context.Context, m *models.Manifest, report models.ReconcileReport) (*models.FinalOutput, error) {
	if !report.Accepted {
		return nil, fmt.Errorf("project %s not accepted for assembly: %d/%d rendered", m.ProjectID, report.Rendered, report.Total)
	}
	if err := recovery.VerifyArtifacts(m); err != nil {
		return nil, fmt.Errorf("artifact verification: %w", err)
	}

	plan, err := planAssembly(m, a.policy)
	if err != nil {
		return nil, err
	}

	log.Printf("[Assemble] Project %s: %d clip(s), %d gap(s), policy %s", m.ProjectID, len(plan), countGaps(plan), a.policy)

	var tempFiles []string
	defer func() { a.ffmpeg.Cleanup(tempFiles...) }()

	// Materialize each clip locally in plan order.
	clipPaths := make([]string, 0, len(plan))
	for _, clip := range plan {
		path := a.ffmpeg.TempPath(fmt.Sprintf("%s_clip_%03d.mp4", m.ProjectID, clip.index))
		tempFiles = append(tempFiles, path)

		if clip.gap {
			if err := a.ffmpeg.RenderPlaceholder(ctx, path, clip.duration); err != nil {
				return nil, fmt.Errorf("placeholder for segment %d: %w", clip.index, err)
			}
		} else {
			data, err := a.store.GetArtifact(ctx, m.ProjectID, clip.index)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch artifact for segment %d: %w", clip.index, err)
			}
			if err := os.WriteFile(path, data, 0644); err != nil {
				return nil, fmt.Errorf("failed to write clip for segment %d: %w", clip.index, err)
			}
		}
		clipPaths = append(clipPaths, path)
	}

	concatPath := a.ffmpeg.TempPath(fmt.Sprintf("%s_concat.mp4", m.ProjectID))
	tempFiles = append(tempFiles, concatPath)
	if err := a.ffmpeg.Concat(ctx, clipPaths, concatPath); err != nil {
		return nil, &AssemblyError{Err: fmt.Errorf("concat failed: %w", err)}
	}

	finalPath := concatPath
	if m.AudioKey != "" {
		audioData, err := a.store.Get(ctx, m.AudioKey)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch audio %s: %w", m.AudioKey, err)
		}
		audioPath := a.ffmpeg.TempPath(fmt.Sprintf("%s_audio", m.ProjectID))
		tempFiles = append(tempFiles, audioPath)
		if err := os.WriteFile(audioPath, audioData, 0644); err != nil {
			return nil, fmt.Errorf("failed to write audio: %w", err)
		}

		muxedPath := a.ffmpeg.TempPath(fmt.Sprintf("%s_final.mp4", m.ProjectID))
		tempFiles = append(tempFiles, muxedPath)
		if err := a.ffmpeg.MuxAudio(ctx, concatPath, audioPath, muxedPath); err != nil {
			return nil, &AssemblyError{Err: fmt.Errorf("audio mux failed: %w", err)}
		}
		finalPath = muxedPath
	}

	duration, err := a.validate(ctx, finalPath, m.AudioKey != "")
	if err != nil {
		return nil, &AssemblyError{Err: fmt.Errorf("final output validation: %w", err)}
	}

	outputKey, err := a.store.PutFinalFile(ctx, m.ProjectID, finalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to upload final video: %w", err)
	}

	out := &models.FinalOutput{
		ProjectID:      m.ProjectID,
		Status:         models.ProjectStatusComplete,
		OutputKey:      outputKey,
		Duration:       duration,
		SegmentCount:   report.Total,
		MissingIndexes: report.Missing,
	}
	if report.Rendered < report.Total {
		out.Status = models.ProjectStatusPartiallyDone
	}
	for i := range m.Segments {
		switch m.Segments[i].RenderedVia {
		case models.RenderPathRemote:
			out.RemoteCount++
		case models.RenderPathLocal:
			out.LocalCount++
		}
	}

	log.Printf("[Assemble] Project %s final video uploaded: %s (%.1fs, %d remote, %d local)",
		m.ProjectID, outputKey, duration, out.RemoteCount, out.LocalCount)

	return out, nil
}

// validate probes the assembled file: it must carry a video stream, an audio
// stream when audio was muxed, and a non-zero duration.
func (a *Assembler) validate(ctx context.Context, path string, wantAudio bool) (float64, error) {
	hasVideo, hasAudio, err := a.ffmpeg.StreamTypes(ctx, path)
	if err != nil {
		return 0, err
	}
	if !hasVideo {
		return 0, fmt.Errorf("output has no video stream")
	}
	if wantAudio && !hasAudio {
		return 0, fmt.Errorf("output has no audio stream")
	}

	duration, err := a.ffmpeg.Duration(ctx, path)
	if err != nil {
		return 0, err
	}
	if duration <= 0 {
		return 0, fmt.Errorf("output duration %.3f is not positive", duration)
	}

	return duration, nil
}

func countGaps(plan []clipPlan) int {
	n := 0
	for _, c := range plan {
		if c.gap {
			n++
		}
	}
	return n
}
