package export

import (
	"errors"
	"fmt"
	"time"

	"github.com/heimdex/heimdex-editor/internal/timeline"
)

var (
	ErrEmptyTimeline = errors.New("nothing to export: timeline has no clips")
	ErrCancelled     = errors.New("export cancelled")
)

// Mode selects the encoder path for one invocation.
type Mode string

const (
	ModeCopy     Mode = "copy"
	ModeReencode Mode = "reencode"
)

// ResultKind classifies an encoder invocation once, at the subprocess boundary.
type ResultKind int

const (
	ResultOK ResultKind = iota
	// ResultRetryableCopyFailure means stream copy cannot serve this input; the
	// same step should be retried with re-encoding.
	ResultRetryableCopyFailure
	ResultFatal
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultRetryableCopyFailure:
		return "retryable_copy_failure"
	default:
		return "fatal"
	}
}

// Result is the outcome of one encoder process.
type Result struct {
	Kind       ResultKind
	Detail     string
	ExitCode   int
	StderrTail string
	Duration   time.Duration
}

func (r Result) OK() bool { return r.Kind == ResultOK }

// Role says how a segment enters the final output.
type Role string

const (
	// RoleProgram segments come from base-track clips and are concatenated.
	RoleProgram Role = "program"
	// RoleGap segments are black with silence and fill the program wherever
	// the base track is empty.
	RoleGap Role = "gap"
	// RoleOverlay segments are composited over the program with their transform.
	RoleOverlay Role = "overlay"
	// RoleAudio segments are mixed under the program at their timeline start.
	RoleAudio Role = "audio"
)

// Segment is one trimmed standalone file produced per clip.
type Segment struct {
	Index         int                `json:"index"`
	Role          Role               `json:"role"`
	ClipID        string             `json:"clip_id,omitempty"`
	AssetID       string             `json:"asset_id,omitempty"`
	Kind          timeline.AssetKind `json:"kind,omitempty"`
	Source        string             `json:"source,omitempty"`
	SourceStartMs int64              `json:"source_start_ms"`
	StartMs       int64              `json:"start_ms"`
	DurationMs    int64              `json:"duration_ms"`
	TrackIndex    int                `json:"track_index"`
	Layer         int                `json:"layer"`
	Transform     timeline.Transform `json:"transform"`
	Output        string             `json:"output"`
}

// Still reports whether the segment is rendered from a still image.
func (s Segment) Still() bool { return s.Kind == timeline.AssetImage }

// Generated reports whether the segment has no compressed source to copy.
func (s Segment) Generated() bool { return s.Still() || s.Role == RoleGap }

// Layered reports whether the segment is applied on top of the program
// rather than concatenated into it.
func (s Segment) Layered() bool { return s.Role == RoleOverlay || s.Role == RoleAudio }

// MixJob composites overlay segments over a concatenated program and mixes
// audio segments under it.
type MixJob struct {
	Program    string
	Layers     []Segment
	DurationMs int64
	Output     string
}

type Phase string

const (
	PhaseSegmenting    Phase = "segmenting"
	PhaseConcatenating Phase = "concatenating"
	PhaseMixing        Phase = "mixing"
	PhaseFinalizing    Phase = "finalizing"
	PhaseDone          Phase = "done"
	PhaseFailed        Phase = "failed"
	PhaseCancelled     Phase = "cancelled"
)

// Terminal reports whether no further events follow this phase.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed || p == PhaseCancelled
}

// Event is one entry in the ordered progress stream of an export.
type Event struct {
	Phase         Phase  `json:"phase"`
	Detail        string `json:"detail,omitempty"`
	Segment       int    `json:"segment,omitempty"`
	Total         int    `json:"total,omitempty"`
	OutputPath    string `json:"output_path,omitempty"`
	FileSizeBytes int64  `json:"file_size_bytes,omitempty"`
	Error         string `json:"error,omitempty"`
}

// EventFunc receives progress events in order.
type EventFunc func(Event)

// Output describes a finished export.
type Output struct {
	Path          string        `json:"path"`
	FileSizeBytes int64         `json:"file_size_bytes"`
	Segments      int           `json:"segments"`
	Reencoded     int           `json:"reencoded"`
	Duration      time.Duration `json:"duration"`
}

// SegmentError names the segment whose extraction failed on both paths.
type SegmentError struct {
	Segment Segment
	Result  Result
}

func (e *SegmentError) Error() string {
	if e.Segment.Role == RoleGap {
		return fmt.Sprintf("segment %d (gap at %dms): %s", e.Segment.Index+1, e.Segment.StartMs, e.Result.Detail)
	}
	return fmt.Sprintf("segment %d (clip %s, %s): %s", e.Segment.Index+1, e.Segment.ClipID, e.Segment.Source, e.Result.Detail)
}

// StepError names a non-segment step that failed.
type StepError struct {
	Step   string
	Path   string
	Result Result
	Err    error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Step, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Step, e.Path, e.Result.Detail)
}

func (e *StepError) Unwrap() error { return e.Err }
