package effects

import (
	"math"
	"strings"
	"testing"
)

func TestPickDeterministic(t *testing.T) {
	a := Pick(42)
	b := Pick(42)

	if a != b {
		t.Errorf("same seed produced different selections: %+v vs %+v", a, b)
	}

	if a.PaletteVersion != PaletteVersion {
		t.Errorf("expected palette version %d, got %d", PaletteVersion, a.PaletteVersion)
	}
}

func TestSeedForStablePerSegment(t *testing.T) {
	s1 := SeedFor("project-a", 3)
	s2 := SeedFor("project-a", 3)
	if s1 != s2 {
		t.Error("seed for the same segment is not stable")
	}

	if SeedFor("project-a", 3) == SeedFor("project-a", 4) {
		t.Error("adjacent segments got identical seeds")
	}
	if SeedFor("project-a", 3) == SeedFor("project-b", 3) {
		t.Error("different projects got identical seeds")
	}
}

func TestAtBounds(t *testing.T) {
	const duration = 8.0

	for _, e := range Palette {
		for i := 0; i <= 192; i++ {
			tm := duration * float64(i) / 192
			w := At(e, tm, duration)

			if w.Zoom < 1.0-breathAmplitude {
				t.Errorf("%s at t=%.2f: zoom %.3f below window minimum", e, tm, w.Zoom)
			}
			if w.X < 0 || w.X > 1 {
				t.Errorf("%s at t=%.2f: x %.3f outside [0,1]", e, tm, w.X)
			}
			if w.Y < 0 || w.Y > 1 {
				t.Errorf("%s at t=%.2f: y %.3f outside [0,1]", e, tm, w.Y)
			}
		}
	}
}

// The trajectory must be a smooth function of t: adjacent frames at 24fps may
// move the window only by a small bounded step, never jump.
func TestAtSmoothAcrossFrames(t *testing.T) {
	const (
		duration = 5.0
		fps      = 24.0
	)

	for _, e := range Palette {
		prev := At(e, 0, duration)
		for frame := 1; frame <= int(duration*fps); frame++ {
			tm := float64(frame) / fps
			cur := At(e, tm, duration)

			if dz := math.Abs(cur.Zoom - prev.Zoom); dz > 0.02 {
				t.Fatalf("%s: zoom jumped %.4f between frames at t=%.3f", e, dz, tm)
			}
			if dx := math.Abs(cur.X - prev.X); dx > 0.02 {
				t.Fatalf("%s: x jumped %.4f between frames at t=%.3f", e, dx, tm)
			}
			if dy := math.Abs(cur.Y - prev.Y); dy > 0.02 {
				t.Fatalf("%s: y jumped %.4f between frames at t=%.3f", e, dy, tm)
			}

			prev = cur
		}
	}
}

func TestAtPanDirection(t *testing.T) {
	const duration = 4.0

	// pan_down moves the window top to bottom, monotonically.
	prev := At(EffectPanDown, 0, duration)
	for i := 1; i <= 16; i++ {
		cur := At(EffectPanDown, duration*float64(i)/16, duration)
		if cur.Y < prev.Y {
			t.Fatalf("pan_down not monotonic: y went %.3f -> %.3f", prev.Y, cur.Y)
		}
		prev = cur
	}

	start := At(EffectPanLeft, 0, duration)
	end := At(EffectPanLeft, duration, duration)
	if !(start.X > end.X) {
		t.Errorf("pan_left should move right to left, got x %.3f -> %.3f", start.X, end.X)
	}
}

func TestAtZoomDirection(t *testing.T) {
	const duration = 6.0

	// Compare at breath-period multiples so the oscillation term cancels out.
	zStart := At(EffectZoomIn, 0, duration).Zoom
	zEnd := At(EffectZoomIn, duration, duration).Zoom
	if zEnd <= zStart {
		t.Errorf("zoom_in should increase zoom, got %.3f -> %.3f", zStart, zEnd)
	}

	zStart = At(EffectZoomOut, 0, duration).Zoom
	zEnd = At(EffectZoomOut, duration, duration).Zoom
	if zEnd >= zStart {
		t.Errorf("zoom_out should decrease zoom, got %.3f -> %.3f", zStart, zEnd)
	}
}

func TestFilterExpr(t *testing.T) {
	expr := FilterExpr(EffectZoomIn, 8000, 1920, 1080, 24)

	if !strings.HasPrefix(expr, "zoompan=") {
		t.Errorf("expected zoompan filter, got %q", expr)
	}
	if !strings.Contains(expr, "s=1920x1080") {
		t.Errorf("expected output size in filter, got %q", expr)
	}
	if !strings.Contains(expr, "fps=24") {
		t.Errorf("expected fps in filter, got %q", expr)
	}
	// 8s at 24fps plus the 2s buffer
	if !strings.Contains(expr, "d=240") {
		t.Errorf("expected frame count 240, got %q", expr)
	}
}

func TestFilterExprMinimumDuration(t *testing.T) {
	// A degenerate duration still produces at least one second of frames.
	expr := FilterExpr(EffectPanUp, 0, 1920, 1080, 24)
	if !strings.Contains(expr, "d=48") {
		// 0ms + 2s buffer = 48 frames
		t.Errorf("expected buffered frame count, got %q", expr)
	}
}
