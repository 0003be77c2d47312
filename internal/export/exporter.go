package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/heimdex/heimdex-editor/internal/logging"
	"github.com/heimdex/heimdex-editor/internal/timeline"
)

const (
	manifestName = "concat.txt"
	programName  = "program.mp4"
)

// Exporter renders a timeline snapshot to a single file through an Encoder.
// It never touches the live playback state.
type Exporter struct {
	enc     Encoder
	workDir string
	logger  *slog.Logger
}

// NewExporter creates an exporter whose scratch directories live under workDir
// (the system temp dir when empty).
func NewExporter(enc Encoder, workDir string, logger *slog.Logger) *Exporter {
	return &Exporter{enc: enc, workDir: workDir, logger: logging.WithComponent(logging.OrDiscard(logger), "exporter")}
}

// Run exports snap to outputPath. Segments are extracted sequentially, copy
// first with one re-encode retry. The program segments are then concatenated
// the same way; when overlay or audio-track segments exist a final re-encode
// pass lays them over the program. Every exit path removes the segment files;
// failure and cancellation also remove any partial output. The final event is
// always terminal.
func (x *Exporter) Run(ctx context.Context, snap *timeline.Timeline, outputPath string, emit EventFunc) (out Output, err error) {
	if emit == nil {
		emit = func(Event) {}
	}
	start := time.Now()
	partial := partialPath(outputPath)

	defer func() {
		if err == nil {
			return
		}
		_ = os.Remove(partial)
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ErrCancelled, err)
			emit(Event{Phase: PhaseCancelled, Error: err.Error()})
			return
		}
		emit(Event{Phase: PhaseFailed, Error: err.Error()})
	}()

	if x.workDir != "" {
		if err := os.MkdirAll(x.workDir, 0755); err != nil {
			return Output{}, fmt.Errorf("create work dir: %w", err)
		}
	}
	work, err := os.MkdirTemp(x.workDir, "export-*")
	if err != nil {
		return Output{}, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(work)

	segs, err := Plan(snap, work)
	if err != nil {
		return Output{}, err
	}
	out.Segments = len(segs)

	emit(Event{Phase: PhaseSegmenting, Detail: fmt.Sprintf("extracting %d segments", len(segs)), Total: len(segs)})
	for _, seg := range segs {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		reencoded, err := x.extract(ctx, seg, emit, len(segs))
		if err != nil {
			return Output{}, err
		}
		if reencoded {
			out.Reencoded++
		}
		emit(Event{Phase: PhaseSegmenting, Detail: fmt.Sprintf("segment %d of %d done", seg.Index+1, len(segs)), Segment: seg.Index + 1, Total: len(segs)})
	}

	program, layers := splitProgram(segs)
	manifest := filepath.Join(work, manifestName)
	if err := WriteManifest(manifest, program); err != nil {
		return Output{}, &StepError{Step: "write manifest", Path: manifest, Err: err}
	}

	emit(Event{Phase: PhaseConcatenating, Detail: fmt.Sprintf("joining %d segments", len(program)), Total: len(segs)})
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return Output{}, &StepError{Step: "create output dir", Path: filepath.Dir(outputPath), Err: err}
	}
	joined := partial
	if len(layers) > 0 {
		joined = filepath.Join(work, programName)
	}
	res := x.enc.Concat(ctx, manifest, joined, ModeCopy)
	if res.Kind == ResultRetryableCopyFailure {
		x.logger.Info("concat stream copy failed, re-encoding", "detail", res.Detail)
		emit(Event{Phase: PhaseConcatenating, Detail: "stream copy failed, re-encoding"})
		res = x.enc.Concat(ctx, manifest, joined, ModeReencode)
	}
	if !res.OK() {
		if ctx.Err() != nil {
			return Output{}, ctx.Err()
		}
		return Output{}, &StepError{Step: "concat", Path: logging.SanitizePath(outputPath), Result: res}
	}

	if len(layers) > 0 {
		var durationMs int64
		for _, p := range program {
			durationMs += p.DurationMs
		}
		emit(Event{Phase: PhaseMixing, Detail: fmt.Sprintf("layering %d clips over the program", len(layers)), Total: len(segs)})
		res := x.enc.Mix(ctx, MixJob{Program: joined, Layers: layers, DurationMs: durationMs, Output: partial})
		if !res.OK() {
			if ctx.Err() != nil {
				return Output{}, ctx.Err()
			}
			return Output{}, &StepError{Step: "mix", Path: logging.SanitizePath(outputPath), Result: res}
		}
	}

	emit(Event{Phase: PhaseFinalizing, Detail: "moving output into place"})
	if err := os.Rename(partial, outputPath); err != nil {
		return Output{}, &StepError{Step: "finalize", Path: outputPath, Err: err}
	}
	info, err := os.Stat(outputPath)
	if err != nil {
		return Output{}, &StepError{Step: "stat output", Path: outputPath, Err: err}
	}

	out.Path = outputPath
	out.FileSizeBytes = info.Size()
	out.Duration = time.Since(start)
	x.logger.Info("export complete",
		"output", logging.SanitizePath(outputPath),
		"segments", out.Segments,
		"reencoded", out.Reencoded,
		"size_bytes", out.FileSizeBytes,
		"duration_ms", out.Duration.Milliseconds(),
	)
	emit(Event{Phase: PhaseDone, OutputPath: outputPath, FileSizeBytes: out.FileSizeBytes, Total: out.Segments, Segment: out.Segments})
	return out, nil
}

// extract runs one segment, retrying once with re-encoding when stream copy
// is not possible. Stills and gaps go straight to re-encoding.
func (x *Exporter) extract(ctx context.Context, seg Segment, emit EventFunc, total int) (reencoded bool, err error) {
	mode := ModeCopy
	if seg.Generated() {
		mode = ModeReencode
	}
	res := x.enc.ExtractSegment(ctx, seg, mode)
	if res.Kind == ResultRetryableCopyFailure {
		x.logger.Info("segment stream copy failed, re-encoding",
			"segment", seg.Index+1, "clip_id", seg.ClipID, "detail", res.Detail)
		emit(Event{Phase: PhaseSegmenting, Detail: fmt.Sprintf("segment %d: stream copy failed, re-encoding", seg.Index+1), Segment: seg.Index + 1, Total: total})
		mode = ModeReencode
		res = x.enc.ExtractSegment(ctx, seg, mode)
	}
	if !res.OK() {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, &SegmentError{Segment: seg, Result: res}
	}
	return mode == ModeReencode, nil
}

// WriteManifest writes a concat demuxer list of the segment outputs, in order.
func WriteManifest(path string, segs []Segment) error {
	var b strings.Builder
	for _, s := range segs {
		abs, err := filepath.Abs(s.Output)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(abs))
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}

func escapeConcatPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

// partialPath keeps the container extension so the encoder can infer the format.
func partialPath(outputPath string) string {
	dir, base := filepath.Split(outputPath)
	ext := filepath.Ext(base)
	return filepath.Join(dir, "."+strings.TrimSuffix(base, ext)+".partial"+ext)
}

// IsCancelled reports whether err ended an export because its context was cancelled.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
