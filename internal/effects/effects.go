package effects

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
)

// ---------------------------------------------------------------------------
// Effect palette: a fixed, versioned set of named pan/zoom trajectories.
// Every renderer selects by id from this palette; no renderer carries its own
// motion math.
// ---------------------------------------------------------------------------

// Effect identifies one named trajectory in the palette.
type Effect string

const (
	EffectZoomIn         Effect = "zoom_in"           // Push toward center
	EffectZoomOut        Effect = "zoom_out"          // Starts zoomed, pulls back wide
	EffectPanDown        Effect = "pan_down"          // Drifts top to bottom
	EffectPanUp          Effect = "pan_up"            // Drifts bottom to top
	EffectPanLeft        Effect = "pan_left"          // Drifts right to left
	EffectPanRight       Effect = "pan_right"         // Drifts left to right
	EffectZoomInPanUp    Effect = "zoom_in_pan_up"    // Zoom in while drifting up
	EffectZoomInPanDown  Effect = "zoom_in_pan_down"  // Zoom in while drifting down
	EffectZoomInPanLeft  Effect = "zoom_in_pan_left"  // Zoom in while drifting left
	EffectZoomInPanRight Effect = "zoom_in_pan_right" // Zoom in while drifting right
)

// PaletteVersion is bumped whenever the palette contents or any trajectory
// math changes, so a recorded selection always reproduces the same motion.
const PaletteVersion = 1

// Palette is the pool from which a seeded selection is made.
var Palette = []Effect{
	EffectZoomIn,
	EffectZoomOut,
	EffectPanDown,
	EffectPanUp,
	EffectPanLeft,
	EffectPanRight,
	EffectZoomInPanUp,
	EffectZoomInPanDown,
	EffectZoomInPanLeft,
	EffectZoomInPanRight,
}

// Motion constants. Zoom ranges match the headroom of the source stills; the
// breathing pulse is a subtle sine oscillation layered on the primary motion
// so a centered subject appears to gently pulse while background edges shift.
const (
	zoomInStart  = 1.0
	zoomInEnd    = 1.5
	zoomOutStart = 1.5
	zoomOutEnd   = 1.0
	panZoom      = 1.3 // fixed zoom while panning, 30% crop
	comboZoomEnd = 1.4 // zoom+pan combos: 1.0 → 1.4

	breathAmplitude = 0.03 // ±3% zoom oscillation
	breathPeriodSec = 2.0  // one full breath every ~2 seconds
)

// Selection records which effect a segment was rendered with. Stored in the
// manifest so a re-render reproduces the identical trajectory.
type Selection struct {
	Effect         Effect `json:"effect"`
	Seed           int64  `json:"seed"`
	PaletteVersion int    `json:"palette_version"`
}

// SeedFor derives the default selection seed for a segment. Deriving from
// (project id, segment index) makes first renders deterministic per segment
// while still varying across a project's timeline.
func SeedFor(projectID string, segmentIndex int) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s/%d", projectID, segmentIndex)
	return int64(h.Sum64())
}

// Pick makes a deterministic selection from the palette for the given seed.
func Pick(seed int64) Selection {
	rng := rand.New(rand.NewSource(seed))
	return Selection{
		Effect:         Palette[rng.Intn(len(Palette))],
		Seed:           seed,
		PaletteVersion: PaletteVersion,
	}
}

// Reroll makes a fresh, non-reproducible selection. Used only when a segment
// explicitly asks for new motion on re-render.
func Reroll() Selection {
	return Pick(rand.Int63())
}

// Window is the crop window at one instant: Zoom is the magnification
// (>= 1.0) and X/Y are the normalized pan position of the crop origin within
// the available pan range, each in [0, 1].
type Window struct {
	Zoom float64
	X    float64
	Y    float64
}

// At evaluates the trajectory for an effect at output time t over
// [0, duration]. Every component is a smooth closed-form function of t
// (linear progress plus a sinusoidal breathing term), never an incremental
// per-frame accumulator, so there are no motion discontinuities across frame
// boundaries.
func At(e Effect, t, duration float64) Window {
	if duration <= 0 {
		return Window{Zoom: zoomInStart, X: 0.5, Y: 0.5}
	}

	p := t / duration
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}

	breath := breathAmplitude * math.Sin(2*math.Pi*t/breathPeriodSec)

	w := Window{X: 0.5, Y: 0.5}

	switch e {
	case EffectZoomIn:
		w.Zoom = zoomInStart + (zoomInEnd-zoomInStart)*p
	case EffectZoomOut:
		w.Zoom = zoomOutStart + (zoomOutEnd-zoomOutStart)*p
	case EffectPanDown:
		w.Zoom = panZoom
		w.Y = p
	case EffectPanUp:
		w.Zoom = panZoom
		w.Y = 1 - p
	case EffectPanRight:
		w.Zoom = panZoom
		w.X = p
	case EffectPanLeft:
		w.Zoom = panZoom
		w.X = 1 - p
	case EffectZoomInPanUp:
		w.Zoom = zoomInStart + (comboZoomEnd-zoomInStart)*p
		w.Y = 1 - p
	case EffectZoomInPanDown:
		w.Zoom = zoomInStart + (comboZoomEnd-zoomInStart)*p
		w.Y = p
	case EffectZoomInPanRight:
		w.Zoom = zoomInStart + (comboZoomEnd-zoomInStart)*p
		w.X = p
	case EffectZoomInPanLeft:
		w.Zoom = zoomInStart + (comboZoomEnd-zoomInStart)*p
		w.X = 1 - p
	default:
		w.Zoom = zoomInStart + (comboZoomEnd-zoomInStart)*p
	}

	w.Zoom += breath
	return w
}

// FilterExpr builds the ffmpeg zoompan filter realizing the effect's
// trajectory for a clip of the given duration. The z/x/y expressions are the
// same closed-form curves At evaluates, expressed in zoompan's frame counter
// `on` over the total frame count.
func FilterExpr(e Effect, durationMs, width, height, fps int) string {
	// 2-second frame buffer so zoompan always produces enough frames;
	// -shortest trims to the audio/duration downstream.
	totalFrames := (durationMs * fps / 1000) + fps*2
	if totalFrames < fps {
		totalFrames = fps
	}

	// Breathing as a function of the frame counter: 2π/(period*fps) rad/frame.
	breathExpr := fmt.Sprintf("%.3f*sin(on*%.4f)", breathAmplitude, 2*math.Pi/(breathPeriodSec*float64(fps)))

	// Center expressions (reused):
	//   cx = "iw/2-(iw/zoom/2)": horizontally centered
	//   cy = "ih/2-(ih/zoom/2)": vertically centered
	const (
		cx = "iw/2-(iw/zoom/2)"
		cy = "ih/2-(ih/zoom/2)"
	)

	var zExpr, xExpr, yExpr string

	switch e {
	case EffectZoomIn:
		zExpr = fmt.Sprintf("%.1f+%.1f*on/%d+%s", zoomInStart, zoomInEnd-zoomInStart, totalFrames, breathExpr)
		xExpr, yExpr = cx, cy

	case EffectZoomOut:
		zExpr = fmt.Sprintf("%.1f-%.1f*on/%d+%s", zoomOutStart, zoomOutStart-zoomOutEnd, totalFrames, breathExpr)
		xExpr, yExpr = cx, cy

	case EffectPanDown:
		zExpr = fmt.Sprintf("%.1f+%s", panZoom, breathExpr)
		xExpr = cx
		yExpr = fmt.Sprintf("(ih-ih/zoom)*on/%d", totalFrames)

	case EffectPanUp:
		zExpr = fmt.Sprintf("%.1f+%s", panZoom, breathExpr)
		xExpr = cx
		yExpr = fmt.Sprintf("(ih-ih/zoom)*(1-on/%d)", totalFrames)

	case EffectPanRight:
		zExpr = fmt.Sprintf("%.1f+%s", panZoom, breathExpr)
		xExpr = fmt.Sprintf("(iw-iw/zoom)*on/%d", totalFrames)
		yExpr = cy

	case EffectPanLeft:
		zExpr = fmt.Sprintf("%.1f+%s", panZoom, breathExpr)
		xExpr = fmt.Sprintf("(iw-iw/zoom)*(1-on/%d)", totalFrames)
		yExpr = cy

	case EffectZoomInPanUp:
		zExpr = fmt.Sprintf("%.1f+%.1f*on/%d+%s", zoomInStart, comboZoomEnd-zoomInStart, totalFrames, breathExpr)
		xExpr = cx
		yExpr = fmt.Sprintf("max(0,(ih-ih/zoom)*(1-on/%d))", totalFrames)

	case EffectZoomInPanDown:
		zExpr = fmt.Sprintf("%.1f+%.1f*on/%d+%s", zoomInStart, comboZoomEnd-zoomInStart, totalFrames, breathExpr)
		xExpr = cx
		yExpr = fmt.Sprintf("min(ih-ih/zoom,(ih-ih/zoom)*on/%d)", totalFrames)

	case EffectZoomInPanRight:
		zExpr = fmt.Sprintf("%.1f+%.1f*on/%d+%s", zoomInStart, comboZoomEnd-zoomInStart, totalFrames, breathExpr)
		xExpr = fmt.Sprintf("min(iw-iw/zoom,(iw-iw/zoom)*on/%d)", totalFrames)
		yExpr = cy

	case EffectZoomInPanLeft:
		zExpr = fmt.Sprintf("%.1f+%.1f*on/%d+%s", zoomInStart, comboZoomEnd-zoomInStart, totalFrames, breathExpr)
		xExpr = fmt.Sprintf("max(0,(iw-iw/zoom)*(1-on/%d))", totalFrames)
		yExpr = cy

	default:
		zExpr = fmt.Sprintf("%.1f+%.1f*on/%d+%s", zoomInStart, comboZoomEnd-zoomInStart, totalFrames, breathExpr)
		xExpr, yExpr = cx, cy
	}

	return fmt.Sprintf(
		"zoompan=z='%s':x='%s':y='%s':d=%d:s=%dx%d:fps=%d",
		zExpr, xExpr, yExpr,
		totalFrames,
		width, height,
		fps,
	)
}
