package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Enums
type ProjectStatus string

const (
	ProjectStatusPending       ProjectStatus = "pending"
	ProjectStatusInProgress    ProjectStatus = "in_progress"
	ProjectStatusPartiallyDone ProjectStatus = "partially_complete"
	ProjectStatusComplete      ProjectStatus = "complete"
	ProjectStatusFailed        ProjectStatus = "failed"
)

type RenderStatus string

const (
	RenderStatusPending   RenderStatus = "pending"
	RenderStatusRendering RenderStatus = "rendering"
	RenderStatusRendered  RenderStatus = "rendered"
	RenderStatusFailed    RenderStatus = "failed"
)

// RenderPath records which renderer produced a segment's artifact.
type RenderPath string

const (
	RenderPathNone   RenderPath = "none"
	RenderPathRemote RenderPath = "remote"
	RenderPathLocal  RenderPath = "local"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// contiguityTolerance is the allowed gap/overlap between adjacent segment
// boundaries, in seconds. Transcription timestamps come in with millisecond
// precision, so up to 1ms of float drift is expected.
const contiguityTolerance = 0.001

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Models

// Segment is one time-bounded unit of the timeline, rendered independently.
// Index order is the only valid assembly order.
type Segment struct {
	Index       int          `json:"index"`
	StartTime   float64      `json:"start_time"`
	EndTime     float64      `json:"end_time"`
	ImageKeys   []string     `json:"image_keys"`
	Status      RenderStatus `json:"status"`
	Attempts    int          `json:"attempts"`
	RenderedVia RenderPath   `json:"rendered_via"`
	ArtifactKey string       `json:"artifact_key,omitempty"`

	// Effect selection recorded at first render so a later re-render of the
	// same segment reproduces the same trajectory. Reroll requests a fresh
	// selection explicitly.
	Effect         string `json:"effect,omitempty"`
	EffectSeed     int64  `json:"effect_seed,omitempty"`
	PaletteVersion int    `json:"palette_version,omitempty"`
	Reroll         bool   `json:"reroll,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// Duration returns the segment's length in seconds.
func (s *Segment) Duration() float64 {
	return s.EndTime - s.StartTime
}

type Project struct {
	ID           uuid.UUID     `json:"id"`
	Title        string        `json:"title"`
	AudioKey     string        `json:"audio_key"`
	SegmentCount int           `json:"segment_count"`
	Status       ProjectStatus `json:"status"`
	Options      JSONB         `json:"options,omitempty"`
	OutputKey    *string       `json:"output_key,omitempty"`
	ErrorCode    *string       `json:"error_code,omitempty"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Manifest is the durable snapshot of a project's segment states, written to
// the result store. It is the source of truth for resuming or auditing a run.
type Manifest struct {
	ProjectID uuid.UUID `json:"project_id"`
	AudioKey  string    `json:"audio_key"`
	Segments  []Segment `json:"segments"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RenderedCount returns how many segments currently hold an artifact.
func (m *Manifest) RenderedCount() int {
	n := 0
	for i := range m.Segments {
		if m.Segments[i].Status == RenderStatusRendered {
			n++
		}
	}
	return n
}

// MissingIndexes returns the indexes of segments without an artifact,
// in ascending order.
func (m *Manifest) MissingIndexes() []int {
	var missing []int
	for i := range m.Segments {
		if m.Segments[i].Status != RenderStatusRendered {
			missing = append(missing, m.Segments[i].Index)
		}
	}
	return missing
}

// DeriveStatus computes the project status from segment states. Status is
// never set independently; it always reflects the manifest.
func (m *Manifest) DeriveStatus(acceptThreshold float64) ProjectStatus {
	total := len(m.Segments)
	if total == 0 {
		return ProjectStatusFailed
	}

	rendered := m.RenderedCount()
	switch {
	case rendered == total:
		return ProjectStatusComplete
	case float64(rendered)/float64(total) >= acceptThreshold:
		return ProjectStatusPartiallyDone
	default:
		return ProjectStatusFailed
	}
}

// RenderRequest carries one segment's inputs to a renderer. Ephemeral; never
// persisted beyond the call.
type RenderRequest struct {
	ProjectID    uuid.UUID `json:"project_id"`
	SegmentIndex int       `json:"segment_index"`
	ImageKeys    []string  `json:"image_keys"`
	Duration     float64   `json:"duration"`
	StartTime    float64   `json:"start_time"`
	EndTime      float64   `json:"end_time"`
}

// RenderResult is a renderer's successful outcome for one segment.
type RenderResult struct {
	SegmentIndex int     `json:"segment_index"`
	ArtifactKey  string  `json:"artifact_key"`
	Duration     float64 `json:"duration"`
}

// DispatchSummary reports what a dispatcher pass did, per render path.
type DispatchSummary struct {
	Skipped int `json:"skipped"`
	Remote  int `json:"remote"`
	Local   int `json:"local"`
	Failed  int `json:"failed"`
}

func (s DispatchSummary) Total() int {
	return s.Skipped + s.Remote + s.Local + s.Failed
}

// ReconcileReport is the recovery controller's verdict on a project.
type ReconcileReport struct {
	Rendered int     `json:"rendered"`
	Total    int     `json:"total"`
	Fraction float64 `json:"fraction"`
	Missing  []int   `json:"missing"`
	Accepted bool    `json:"accepted"`
}

// FinalOutput is the machine-readable summary reported after assembly.
type FinalOutput struct {
	ProjectID      uuid.UUID     `json:"project_id"`
	Status         ProjectStatus `json:"status"`
	OutputKey      string        `json:"output_key"`
	Duration       float64       `json:"duration"`
	SegmentCount   int           `json:"segment_count"`
	RemoteCount    int           `json:"remote_count"`
	LocalCount     int           `json:"local_count"`
	MissingIndexes []int         `json:"missing_indexes,omitempty"`
}

// DTOs for API requests/responses

// SegmentInput is one timeline segment as submitted by the upstream
// content-analysis pipeline: resolved time bounds plus image asset keys.
type SegmentInput struct {
	StartTime float64  `json:"start_time"`
	EndTime   float64  `json:"end_time"`
	ImageKeys []string `json:"image_keys"`
}

type CreateProjectRequest struct {
	Title    string         `json:"title"`
	AudioKey string         `json:"audio_key"`
	Segments []SegmentInput `json:"segments"`
	Options  JSONB          `json:"options,omitempty"`
}

type CreateProjectResponse struct {
	ProjectID uuid.UUID     `json:"project_id"`
	Status    ProjectStatus `json:"status"`
}

type ListProjectsResponse struct {
	Projects []Project `json:"projects"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

type Job struct {
	ID           uuid.UUID  `json:"id"`
	ProjectID    uuid.UUID  `json:"project_id"`
	Type         string     `json:"type"`
	Status       JobStatus  `json:"status"`
	Attempts     int        `json:"attempts"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ValidateTimeline checks that submitted segments form a contiguous,
// non-overlapping timeline: each segment must end after it starts, and each
// boundary must meet the next segment's start within tolerance.
func ValidateTimeline(segments []SegmentInput) error {
	if len(segments) == 0 {
		return fmt.Errorf("timeline has no segments")
	}

	for i, seg := range segments {
		if seg.EndTime <= seg.StartTime {
			return fmt.Errorf("segment %d: end_time %.3f must be greater than start_time %.3f", i, seg.EndTime, seg.StartTime)
		}

		if i > 0 {
			gap := seg.StartTime - segments[i-1].EndTime
			if math.Abs(gap) > contiguityTolerance {
				return fmt.Errorf("segment %d: start_time %.3f does not meet previous end_time %.3f (gap %.4fs)", i, seg.StartTime, segments[i-1].EndTime, gap)
			}
		}
	}

	return nil
}

// NewManifest builds the initial manifest for a freshly submitted timeline.
// All segments start Pending with no render path.
func NewManifest(projectID uuid.UUID, audioKey string, segments []SegmentInput) *Manifest {
	now := time.Now().UTC()

	m := &Manifest{
		ProjectID: projectID,
		AudioKey:  audioKey,
		Segments:  make([]Segment, len(segments)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	for i, in := range segments {
		m.Segments[i] = Segment{
			Index:       i,
			StartTime:   in.StartTime,
			EndTime:     in.EndTime,
			ImageKeys:   in.ImageKeys,
			Status:      RenderStatusPending,
			RenderedVia: RenderPathNone,
		}
	}

	return m
}
