package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/heimdex/heimdex-editor/internal/logging"
	"github.com/heimdex/heimdex-editor/internal/proc"
)

// Encoder is the external encoder boundary. Implementations decide the result
// class of every invocation; callers never inspect tool output.
type Encoder interface {
	// ExtractSegment writes seg.Output covering exactly the segment's source interval.
	ExtractSegment(ctx context.Context, seg Segment, mode Mode) Result

	// Concat joins the files listed in the concat manifest into output.
	Concat(ctx context.Context, manifest, output string, mode Mode) Result

	// Mix renders job.Output from the program and its layers. It always
	// re-encodes, so any failure is fatal.
	Mix(ctx context.Context, job MixJob) Result
}

// EncoderConfig holds the ffmpeg encoder's configuration.
type EncoderConfig struct {
	FFmpegPath string        // path to ffmpeg binary; empty = "ffmpeg" on PATH
	Timeout    time.Duration // per-process limit; a hung encoder is killed
	FrameRate  float64       // output rate for re-encoded segments
	Width      int           // canvas size for re-encoded segments
	Height     int
	Logger     *slog.Logger
}

// FFmpegEncoder runs one ffmpeg process per call.
type FFmpegEncoder struct {
	cfg EncoderConfig
}

func NewFFmpegEncoder(cfg EncoderConfig) *FFmpegEncoder {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Minute
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 1920, 1080
	}
	cfg.Logger = logging.WithComponent(logging.OrDiscard(cfg.Logger), "encoder")
	return &FFmpegEncoder{cfg: cfg}
}

// SegmentArgs builds the ffmpeg argument list for one segment.
func (e *FFmpegEncoder) SegmentArgs(seg Segment, mode Mode) []string {
	dur := seconds(seg.DurationMs)
	silence := ffmpeg.Input("anullsrc=channel_layout=stereo:sample_rate=48000", ffmpeg.KwArgs{"f": "lavfi", "t": dur})

	switch {
	case seg.Role == RoleGap:
		black := ffmpeg.Input(fmt.Sprintf("color=c=black:s=%dx%d:r=%s", e.cfg.Width, e.cfg.Height, e.rate()),
			ffmpeg.KwArgs{"f": "lavfi", "t": dur})
		kw := e.reencodeArgs(e.canvasFilter())
		kw["t"] = dur
		return ffmpeg.Output([]*ffmpeg.Stream{black, silence}, seg.Output, kw).OverWriteOutput().GetArgs()

	case seg.Still():
		img := ffmpeg.Input(seg.Source, ffmpeg.KwArgs{"loop": "1", "t": dur})
		kw := e.reencodeArgs(e.segmentFilter(seg))
		kw["t"] = dur
		return ffmpeg.Output([]*ffmpeg.Stream{img, silence}, seg.Output, kw).OverWriteOutput().GetArgs()
	}

	in := ffmpeg.Input(seg.Source, ffmpeg.KwArgs{"ss": seconds(seg.SourceStartMs), "t": dur})
	if seg.Role == RoleAudio {
		kw := audioArgs()
		if mode == ModeCopy {
			kw = ffmpeg.KwArgs{"c": "copy"}
		}
		return in.Audio().Output(seg.Output, kw).OverWriteOutput().GetArgs()
	}
	var kw ffmpeg.KwArgs
	if mode == ModeCopy {
		kw = ffmpeg.KwArgs{"c": "copy", "avoid_negative_ts": "make_zero"}
	} else {
		kw = e.reencodeArgs(e.segmentFilter(seg))
	}
	return in.Output(seg.Output, kw).OverWriteOutput().GetArgs()
}

// ConcatArgs builds the ffmpeg argument list for the concat demuxer.
func (e *FFmpegEncoder) ConcatArgs(manifest, output string, mode Mode) []string {
	in := ffmpeg.Input(manifest, ffmpeg.KwArgs{"f": "concat", "safe": "0"})
	kw := ffmpeg.KwArgs{"c": "copy", "movflags": "+faststart"}
	if mode == ModeReencode {
		kw = e.reencodeArgs(e.canvasFilter())
		kw["movflags"] = "+faststart"
	}
	return in.Output(output, kw).OverWriteOutput().GetArgs()
}

// MixArgs builds the ffmpeg argument list that fits the program to the
// canvas, paints overlay layers back to front over it and mixes audio layers
// in at their timeline start.
func (e *FFmpegEncoder) MixArgs(job MixJob) []string {
	w, h := e.cfg.Width, e.cfg.Height
	program := ffmpeg.Input(job.Program)
	video := program.Video().
		Filter("scale", ffmpeg.Args{}, ffmpeg.KwArgs{"w": w, "h": h, "force_original_aspect_ratio": "decrease"}).
		Filter("pad", ffmpeg.Args{}, ffmpeg.KwArgs{"w": w, "h": h, "x": "(ow-iw)/2", "y": "(oh-ih)/2"}).
		Filter("setsar", ffmpeg.Args{"1"})
	audio := []*ffmpeg.Stream{program.Audio()}

	layers := append([]Segment(nil), job.Layers...)
	sort.SliceStable(layers, func(i, j int) bool {
		if layers[i].TrackIndex != layers[j].TrackIndex {
			return layers[i].TrackIndex < layers[j].TrackIndex
		}
		return layers[i].Layer < layers[j].Layer
	})
	for _, l := range layers {
		in := ffmpeg.Input(l.Output)
		if l.Role == RoleAudio {
			audio = append(audio, in.Audio().Filter("adelay", ffmpeg.Args{}, ffmpeg.KwArgs{"delays": l.StartMs, "all": 1}))
			continue
		}
		overlay, x, y := overlayStream(in, l)
		video = video.Overlay(overlay, "pass", ffmpeg.KwArgs{"x": x, "y": y})
	}

	mixed := audio[0]
	if len(audio) > 1 {
		mixed = ffmpeg.Filter(audio, "amix", ffmpeg.Args{}, ffmpeg.KwArgs{
			"inputs":             len(audio),
			"duration":           "first",
			"dropout_transition": 0,
			"normalize":          0,
		})
	}
	kw := e.reencodeArgs("")
	kw["t"] = seconds(job.DurationMs)
	kw["movflags"] = "+faststart"
	return ffmpeg.Output([]*ffmpeg.Stream{video, mixed}, job.Output, kw).OverWriteOutput().GetArgs()
}

// overlayStream delays an overlay segment to its timeline start and applies
// its transform. The returned position keeps a rotated overlay centred on
// its unrotated box.
func overlayStream(in *ffmpeg.Stream, l Segment) (*ffmpeg.Stream, string, string) {
	tf := l.Transform
	width, height := evenPixels(tf.Width), evenPixels(tf.Height)
	v := in.Video().
		Filter("setpts", ffmpeg.Args{fmt.Sprintf("PTS-STARTPTS+%s/TB", seconds(l.StartMs))}).
		Filter("scale", ffmpeg.Args{}, ffmpeg.KwArgs{"w": width, "h": height}).
		Filter("format", ffmpeg.Args{"rgba"})
	if tf.Opacity > 0 && tf.Opacity < 1 {
		v = v.Filter("colorchannelmixer", ffmpeg.Args{}, ffmpeg.KwArgs{"aa": strconv.FormatFloat(tf.Opacity, 'f', 3, 64)})
	}
	x := strconv.Itoa(int(math.Round(tf.X)))
	y := strconv.Itoa(int(math.Round(tf.Y)))
	if tf.Rotation != 0 {
		rad := strconv.FormatFloat(tf.Rotation*math.Pi/180, 'f', 6, 64)
		v = v.Filter("rotate", ffmpeg.Args{}, ffmpeg.KwArgs{
			"a":  rad,
			"c":  "none",
			"ow": "rotw(" + rad + ")",
			"oh": "roth(" + rad + ")",
		})
		x = fmt.Sprintf("%s+(%d-w)/2", x, width)
		y = fmt.Sprintf("%s+(%d-h)/2", y, height)
	}
	return v, x, y
}

// evenPixels rounds a canvas size to the even pixel count yuv420p requires.
func evenPixels(v float64) int {
	n := int(math.Round(v/2)) * 2
	if n < 2 {
		return 2
	}
	return n
}

// canvasFilter fits a frame inside the canvas, letterboxed.
func (e *FFmpegEncoder) canvasFilter() string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		e.cfg.Width, e.cfg.Height, e.cfg.Width, e.cfg.Height)
}

// segmentFilter keeps overlay segments at their natural size; the mix pass
// scales them into place.
func (e *FFmpegEncoder) segmentFilter(seg Segment) string {
	if seg.Role == RoleOverlay {
		return "scale=trunc(iw/2)*2:trunc(ih/2)*2"
	}
	return e.canvasFilter()
}

// reencodeArgs returns H.264/AAC output options; vf is omitted when empty.
func (e *FFmpegEncoder) reencodeArgs(vf string) ffmpeg.KwArgs {
	kw := audioArgs()
	kw["c:v"] = "libx264"
	kw["preset"] = "veryfast"
	kw["crf"] = "20"
	kw["pix_fmt"] = "yuv420p"
	kw["r"] = e.rate()
	if vf != "" {
		kw["vf"] = vf
	}
	return kw
}

func audioArgs() ffmpeg.KwArgs {
	return ffmpeg.KwArgs{
		"c:a": "aac",
		"b:a": "192k",
		"ar":  "48000",
		"ac":  "2",
	}
}

func (e *FFmpegEncoder) rate() string {
	return strconv.FormatFloat(e.cfg.FrameRate, 'f', -1, 64)
}

func (e *FFmpegEncoder) ExtractSegment(ctx context.Context, seg Segment, mode Mode) Result {
	if seg.Generated() {
		mode = ModeReencode
	}
	return e.run(ctx, mode, seg.Output, e.SegmentArgs(seg, mode))
}

func (e *FFmpegEncoder) Concat(ctx context.Context, manifest, output string, mode Mode) Result {
	return e.run(ctx, mode, output, e.ConcatArgs(manifest, output, mode))
}

func (e *FFmpegEncoder) Mix(ctx context.Context, job MixJob) Result {
	return e.run(ctx, ModeReencode, job.Output, e.MixArgs(job))
}

// run executes ffmpeg under a per-process timeout and classifies the outcome.
// In copy mode a non-zero exit, a timeout or an empty output is retryable with
// re-encoding; in re-encode mode it is fatal. A process that cannot start, or a
// cancelled parent context, is always fatal.
func (e *FFmpegEncoder) run(parent context.Context, mode Mode, outPath string, args []string) Result {
	start := time.Now()
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return Result{Kind: ResultFatal, Detail: err.Error(), ExitCode: -1, Duration: time.Since(start)}
	}

	ctx, cancel := context.WithTimeout(parent, e.cfg.Timeout)
	defer cancel()

	cmd := proc.Command(ctx, e.cfg.FFmpegPath, args...)
	stderr := proc.NewTailBuffer(proc.MaxStderrBytes)
	cmd.Stderr = stderr
	cmd.Stdout = io.Discard

	e.cfg.Logger.Debug("executing encoder command", "mode", string(mode), "args", args)

	err := cmd.Run()
	res := Result{Duration: time.Since(start), StderrTail: stderr.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.Kind = ResultOK
	case parent.Err() != nil:
		res.Kind, res.ExitCode, res.Detail = ResultFatal, -1, parent.Err().Error()
		return res
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.ExitCode = -1
		res.Detail = fmt.Sprintf("encoder timed out after %s", e.cfg.Timeout)
		res.Kind = failureKind(mode)
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		res.Detail = fmt.Sprintf("encoder exited %d: %s", res.ExitCode, proc.Truncate(res.StderrTail, 512))
		res.Kind = failureKind(mode)
	default:
		res.Kind, res.ExitCode, res.Detail = ResultFatal, -1, fmt.Sprintf("cannot start encoder: %v", err)
	}

	if res.Kind == ResultOK {
		if info, statErr := os.Stat(outPath); statErr != nil || info.Size() == 0 {
			res.Kind = failureKind(mode)
			res.Detail = "encoder produced no output"
		}
	}

	if res.Kind != ResultOK {
		_ = os.Remove(outPath)
		e.cfg.Logger.Warn("encoder command failed",
			"mode", string(mode),
			"result", res.Kind.String(),
			"exit_code", res.ExitCode,
			"duration_ms", res.Duration.Milliseconds(),
			"stderr_tail", proc.Truncate(res.StderrTail, 512),
		)
	} else {
		e.cfg.Logger.Debug("encoder command succeeded",
			"mode", string(mode),
			"duration_ms", res.Duration.Milliseconds(),
			"output", logging.SanitizePath(outPath),
		)
	}
	return res
}

func failureKind(mode Mode) ResultKind {
	if mode == ModeCopy {
		return ResultRetryableCopyFailure
	}
	return ResultFatal
}

func seconds(ms int64) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}
