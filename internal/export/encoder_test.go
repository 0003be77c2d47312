package export

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/heimdex/heimdex-editor/internal/timeline"
)

// fakeFFmpeg writes an executable shell script standing in for ffmpeg. The
// script sees the output file (the last argument other than -y) as $out.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script encoder not supported on windows")
	}
	script := "#!/bin/sh\nout=\"\"\nfor a in \"$@\"; do\n  if [ \"$a\" != \"-y\" ]; then out=\"$a\"; fi\ndone\n" + body + "\n"
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testSegment(t *testing.T) Segment {
	return Segment{
		ClipID:        "clip-1",
		Kind:          timeline.AssetVideo,
		Source:        "/media/in.mp4",
		SourceStartMs: 1500,
		DurationMs:    2000,
		Output:        filepath.Join(t.TempDir(), "seg_0000.mp4"),
	}
}

func hasPair(args []string, flag, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func TestSegmentArgs(t *testing.T) {
	enc := NewFFmpegEncoder(EncoderConfig{FrameRate: 25, Width: 1280, Height: 720})
	seg := testSegment(t)

	copyArgs := enc.SegmentArgs(seg, ModeCopy)
	for _, p := range [][2]string{{"-ss", "1.500"}, {"-t", "2.000"}, {"-i", "/media/in.mp4"}, {"-c", "copy"}} {
		if !hasPair(copyArgs, p[0], p[1]) {
			t.Errorf("copy args %q missing %s %s", copyArgs, p[0], p[1])
		}
	}
	if !strings.Contains(strings.Join(copyArgs, " "), seg.Output) {
		t.Errorf("copy args %q missing output", copyArgs)
	}

	reArgs := enc.SegmentArgs(seg, ModeReencode)
	if hasPair(reArgs, "-c", "copy") {
		t.Errorf("re-encode args %q still stream copy", reArgs)
	}
	for _, p := range [][2]string{{"-c:v", "libx264"}, {"-r", "25"}, {"-c:a", "aac"}} {
		if !hasPair(reArgs, p[0], p[1]) {
			t.Errorf("re-encode args %q missing %s %s", reArgs, p[0], p[1])
		}
	}
	if !strings.Contains(strings.Join(reArgs, " "), "scale=1280:720") {
		t.Errorf("re-encode args %q missing canvas scale", reArgs)
	}
}

func TestSegmentArgs_StillLoopsWithSilence(t *testing.T) {
	enc := NewFFmpegEncoder(EncoderConfig{})
	seg := testSegment(t)
	seg.Kind = timeline.AssetImage
	seg.Source = "/media/card.png"

	args := enc.SegmentArgs(seg, ModeCopy)
	joined := strings.Join(args, " ")
	if !hasPair(args, "-loop", "1") || !hasPair(args, "-i", "/media/card.png") {
		t.Errorf("still args %q do not loop the image", args)
	}
	if !strings.Contains(joined, "anullsrc") || !hasPair(args, "-f", "lavfi") {
		t.Errorf("still args %q missing silent audio", args)
	}
	if hasPair(args, "-c", "copy") {
		t.Errorf("still args %q use stream copy", args)
	}
}

func TestConcatArgs(t *testing.T) {
	enc := NewFFmpegEncoder(EncoderConfig{})
	args := enc.ConcatArgs("/work/concat.txt", "/out/final.mp4", ModeCopy)
	for _, p := range [][2]string{{"-f", "concat"}, {"-safe", "0"}, {"-i", "/work/concat.txt"}, {"-c", "copy"}} {
		if !hasPair(args, p[0], p[1]) {
			t.Errorf("concat args %q missing %s %s", args, p[0], p[1])
		}
	}
}

func TestRunClassification(t *testing.T) {
	tests := []struct {
		name     string
		script   string
		mode     Mode
		timeout  time.Duration
		wantKind ResultKind
		wantExit int
	}{
		{name: "copy ok", script: `printf 'data' > "$out"`, mode: ModeCopy, wantKind: ResultOK},
		{name: "copy non-zero exit", script: `echo "codec not supported" >&2; exit 1`, mode: ModeCopy, wantKind: ResultRetryableCopyFailure, wantExit: 1},
		{name: "reencode non-zero exit", script: `echo "decoder error" >&2; exit 3`, mode: ModeReencode, wantKind: ResultFatal, wantExit: 3},
		{name: "copy empty output", script: `: > "$out"`, mode: ModeCopy, wantKind: ResultRetryableCopyFailure},
		{name: "reencode missing output", script: `exit 0`, mode: ModeReencode, wantKind: ResultFatal},
		{name: "copy timeout", script: `exec sleep 5`, mode: ModeCopy, timeout: 200 * time.Millisecond, wantKind: ResultRetryableCopyFailure, wantExit: -1},
		{name: "reencode timeout", script: `exec sleep 5`, mode: ModeReencode, timeout: 200 * time.Millisecond, wantKind: ResultFatal, wantExit: -1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			enc := NewFFmpegEncoder(EncoderConfig{FFmpegPath: fakeFFmpeg(t, tc.script), Timeout: tc.timeout})
			seg := testSegment(t)

			res := enc.ExtractSegment(context.Background(), seg, tc.mode)
			if res.Kind != tc.wantKind {
				t.Fatalf("Kind = %s, want %s (detail %q)", res.Kind, tc.wantKind, res.Detail)
			}
			if tc.wantExit != 0 && res.ExitCode != tc.wantExit {
				t.Errorf("ExitCode = %d, want %d", res.ExitCode, tc.wantExit)
			}
			_, statErr := os.Stat(seg.Output)
			if res.OK() != (statErr == nil) {
				t.Errorf("output exists = %v, result ok = %v", statErr == nil, res.OK())
			}
		})
	}
}

func TestRun_StderrTailKept(t *testing.T) {
	enc := NewFFmpegEncoder(EncoderConfig{FFmpegPath: fakeFFmpeg(t, `echo "moov atom not found" >&2; exit 1`)})
	res := enc.ExtractSegment(context.Background(), testSegment(t), ModeCopy)
	if !strings.Contains(res.StderrTail, "moov atom not found") {
		t.Errorf("StderrTail = %q", res.StderrTail)
	}
	if !strings.Contains(res.Detail, "exited 1") {
		t.Errorf("Detail = %q", res.Detail)
	}
}

func TestRun_MissingBinaryIsFatal(t *testing.T) {
	enc := NewFFmpegEncoder(EncoderConfig{FFmpegPath: filepath.Join(t.TempDir(), "no-such-ffmpeg")})
	res := enc.ExtractSegment(context.Background(), testSegment(t), ModeCopy)
	if res.Kind != ResultFatal {
		t.Errorf("Kind = %s, want fatal", res.Kind)
	}
}

func TestRun_CancelledParentIsFatal(t *testing.T) {
	enc := NewFFmpegEncoder(EncoderConfig{FFmpegPath: fakeFFmpeg(t, `exec sleep 5`)})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res := enc.Concat(ctx, "/work/concat.txt", filepath.Join(t.TempDir(), "o.mp4"), ModeCopy)
	if res.Kind != ResultFatal {
		t.Errorf("Kind = %s, want fatal on cancel", res.Kind)
	}
}

func TestRun_TimeoutReturnsDespiteLingeringChild(t *testing.T) {
	// The background sleep keeps stderr open after the shell is killed.
	enc := NewFFmpegEncoder(EncoderConfig{FFmpegPath: fakeFFmpeg(t, `sleep 30 & exec sleep 30`), Timeout: 200 * time.Millisecond})

	start := time.Now()
	res := enc.ExtractSegment(context.Background(), testSegment(t), ModeCopy)
	if res.Kind != ResultRetryableCopyFailure {
		t.Errorf("Kind = %s, want retryable copy failure on timeout", res.Kind)
	}
	if elapsed := time.Since(start); elapsed > 15*time.Second {
		t.Errorf("ExtractSegment() returned after %v, want the wait bounded", elapsed)
	}
}

func TestSegmentArgs_Gap(t *testing.T) {
	enc := NewFFmpegEncoder(EncoderConfig{FrameRate: 25, Width: 1280, Height: 720})
	seg := Segment{Role: RoleGap, StartMs: 3000, DurationMs: 500, Output: "/work/seg_0001.mp4"}

	args := enc.SegmentArgs(seg, ModeCopy)
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "color=c=black:s=1280x720:r=25") || !strings.Contains(joined, "anullsrc") {
		t.Errorf("gap args %q missing black video or silence", args)
	}
	if hasPair(args, "-c", "copy") || !hasPair(args, "-t", "0.500") {
		t.Errorf("gap args %q", args)
	}
}

func TestSegmentArgs_AudioLayer(t *testing.T) {
	enc := NewFFmpegEncoder(EncoderConfig{})
	seg := testSegment(t)
	seg.Role = RoleAudio
	seg.Kind = timeline.AssetAudio
	seg.Source = "/media/song.wav"

	copyArgs := enc.SegmentArgs(seg, ModeCopy)
	if !hasPair(copyArgs, "-map", "0:a") || !hasPair(copyArgs, "-c", "copy") {
		t.Errorf("audio copy args %q", copyArgs)
	}
	reArgs := enc.SegmentArgs(seg, ModeReencode)
	if !hasPair(reArgs, "-c:a", "aac") || hasPair(reArgs, "-c:v", "libx264") {
		t.Errorf("audio re-encode args %q", reArgs)
	}
}

func TestSegmentArgs_OverlayStillKeepsNaturalSize(t *testing.T) {
	enc := NewFFmpegEncoder(EncoderConfig{Width: 1280, Height: 720})
	seg := testSegment(t)
	seg.Role = RoleOverlay
	seg.Kind = timeline.AssetImage

	joined := strings.Join(enc.SegmentArgs(seg, ModeReencode), " ")
	if strings.Contains(joined, "pad=1280:720") {
		t.Errorf("overlay args %q pad to the canvas", joined)
	}
}

func TestMixArgs(t *testing.T) {
	enc := NewFFmpegEncoder(EncoderConfig{Width: 1280, Height: 720})
	job := MixJob{
		Program:    "/work/program.mp4",
		DurationMs: 8000,
		Output:     "/out/.final.partial.mp4",
		Layers: []Segment{
			{Role: RoleAudio, StartMs: 1500, DurationMs: 4000, TrackIndex: 2, Output: "/work/seg_0002.m4a"},
			{Role: RoleOverlay, StartMs: 2000, DurationMs: 3000, TrackIndex: 1, Output: "/work/seg_0003.mp4",
				Transform: timeline.Transform{X: 880, Y: 480, Width: 384, Height: 216, Opacity: 0.5}},
		},
	}

	args := enc.MixArgs(job)
	joined := strings.Join(args, " ")
	for _, in := range []string{"/work/program.mp4", "/work/seg_0002.m4a", "/work/seg_0003.mp4"} {
		if !hasPair(args, "-i", in) {
			t.Errorf("mix args %q missing input %s", args, in)
		}
	}
	for _, want := range []string{"overlay", "eof_action=pass", "x=880", "y=480", "w=384", "h=216",
		"PTS-STARTPTS+2.000/TB", "colorchannelmixer", "adelay", "delays=1500", "amix", "inputs=2"} {
		if !strings.Contains(joined, want) {
			t.Errorf("mix args missing %q:\n%s", want, joined)
		}
	}
	if !hasPair(args, "-t", "8.000") || !hasPair(args, "-c:v", "libx264") || hasPair(args, "-c", "copy") {
		t.Errorf("mix args %q", args)
	}
	if args[len(args)-1] != job.Output && args[len(args)-2] != job.Output {
		t.Errorf("mix args %q do not end with the output", args)
	}
}

func TestMix_FailureIsFatal(t *testing.T) {
	enc := NewFFmpegEncoder(EncoderConfig{FFmpegPath: fakeFFmpeg(t, `exit 1`)})
	res := enc.Mix(context.Background(), MixJob{Program: "/work/p.mp4", Output: filepath.Join(t.TempDir(), "o.mp4"), DurationMs: 1000})
	if res.Kind != ResultFatal {
		t.Errorf("Kind = %s, want fatal", res.Kind)
	}
}
