package renderer

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/burnline/burnline/internal/effects"
	"github.com/burnline/burnline/internal/models"
	"github.com/burnline/burnline/internal/store"
)

// minSecondsPerImage bounds how briefly a single still may stay on screen
// when a segment carries several images; beyond that the cut becomes a flicker.
const minSecondsPerImage = 2.0

// Local is the in-process deterministic fallback renderer: one segment's
// still image(s) plus an effect selection in, one fixed-resolution clip out.
// It writes the finished artifact to the result store like the remote path
// does, so downstream components never care which path produced a clip.
type Local struct {
	store  *store.Store
	ffmpeg *FFmpeg
}

func NewLocal(st *store.Store, ff *FFmpeg) *Local {
	return &Local{store: st, ffmpeg: ff}
}

// Render renders one segment locally with the given effect selection and
// stores the artifact. The selection is chosen by the caller (reproduced from
// the manifest or explicitly rerolled); this renderer is fully deterministic
// for a given (request, selection) pair.
//
// A segment with several images splits its duration evenly across them, each
// sub-clip getting its own trajectory derived from the selection seed, then
// concatenates the sub-clips. Encoding errors are RenderFailure and terminal.
func (l *Local) Render(ctx context.Context, req models.RenderRequest, sel effects.Selection) (*models.RenderResult, error) {
	if len(req.ImageKeys) == 0 {
		return nil, &RenderFailure{Err: fmt.Errorf("segment %d has no visual asset", req.SegmentIndex)}
	}
	if req.Duration <= 0 {
		return nil, &RenderFailure{Err: fmt.Errorf("segment %d has non-positive duration %.3f", req.SegmentIndex, req.Duration)}
	}

	imageKeys := req.ImageKeys
	if perImage := req.Duration / float64(len(imageKeys)); perImage < minSecondsPerImage {
		maxImages := int(req.Duration / minSecondsPerImage)
		if maxImages < 1 {
			maxImages = 1
		}
		if maxImages < len(imageKeys) {
			imageKeys = imageKeys[:maxImages]
		}
	}

	log.Printf("[Local] Rendering segment %d (%d image(s), %.2fs, effect=%s)", req.SegmentIndex, len(imageKeys), req.Duration, sel.Effect)

	outputPath := l.ffmpeg.TempPath(fmt.Sprintf("local_%s_%d.mp4", req.ProjectID, req.SegmentIndex))
	defer l.ffmpeg.Cleanup(outputPath)

	if len(imageKeys) == 1 {
		if err := l.renderOne(ctx, req, imageKeys[0], sel, req.Duration, outputPath); err != nil {
			return nil, err
		}
	} else {
		if err := l.renderSequence(ctx, req, imageKeys, sel, outputPath); err != nil {
			return nil, err
		}
	}

	artifactKey, err := l.store.PutArtifactFile(ctx, req.ProjectID, req.SegmentIndex, outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to store local artifact for segment %d: %w", req.SegmentIndex, err)
	}

	duration := req.Duration
	if measured, err := l.ffmpeg.Duration(ctx, outputPath); err == nil {
		duration = measured
	}

	return &models.RenderResult{
		SegmentIndex: req.SegmentIndex,
		ArtifactKey:  artifactKey,
		Duration:     duration,
	}, nil
}

// renderOne renders a single still into a clip of the given duration.
func (l *Local) renderOne(ctx context.Context, req models.RenderRequest, imageKey string, sel effects.Selection, durationSec float64, outputPath string) error {
	imageData, err := l.store.Get(ctx, imageKey)
	if err != nil {
		return fmt.Errorf("failed to fetch image %s: %w", imageKey, err)
	}

	imagePath := l.ffmpeg.TempPath(fmt.Sprintf("image_%s_%d_%s", req.ProjectID, req.SegmentIndex, sanitize(imageKey)))
	defer l.ffmpeg.Cleanup(imagePath)

	if err := os.WriteFile(imagePath, imageData, 0644); err != nil {
		return fmt.Errorf("failed to write image file: %w", err)
	}

	filter := effects.FilterExpr(sel.Effect, int(durationSec*1000), OutputWidth, OutputHeight, OutputFPS)
	return l.ffmpeg.RenderStill(ctx, imagePath, outputPath, filter, durationSec)
}

// renderSequence splits the segment across several stills, one sub-clip per
// image, then concatenates. Sub-clip trajectories derive deterministically
// from the recorded seed so re-renders reproduce the full sequence.
func (l *Local) renderSequence(ctx context.Context, req models.RenderRequest, imageKeys []string, sel effects.Selection, outputPath string) error {
	perImage := req.Duration / float64(len(imageKeys))

	var subClips []string
	defer func() { l.ffmpeg.Cleanup(subClips...) }()

	for i, key := range imageKeys {
		subSel := effects.Pick(sel.Seed + int64(i))
		subPath := l.ffmpeg.TempPath(fmt.Sprintf("local_%s_%d_part%d.mp4", req.ProjectID, req.SegmentIndex, i))

		if err := l.renderOne(ctx, req, key, subSel, perImage, subPath); err != nil {
			return err
		}
		subClips = append(subClips, subPath)
	}

	if err := l.ffmpeg.Concat(ctx, subClips, outputPath); err != nil {
		return &RenderFailure{Err: err}
	}
	return nil
}

// sanitize flattens an object key into a safe temp-file name component.
func sanitize(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
