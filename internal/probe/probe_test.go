package probe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

const videoJSON = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080,
     "r_frame_rate": "30000/1001", "avg_frame_rate": "30000/1001", "duration": "12.012"},
    {"codec_type": "audio", "codec_name": "aac", "sample_rate": "48000", "duration": "12.000"}
  ],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "12.012000", "bit_rate": "4500000"}
}`

const audioWithCoverJSON = `{
  "streams": [
    {"codec_type": "audio", "codec_name": "mp3", "sample_rate": "44100", "duration": "180.5"},
    {"codec_type": "video", "codec_name": "mjpeg", "width": 500, "height": 500,
     "disposition": {"attached_pic": 1}}
  ],
  "format": {"format_name": "mp3", "duration": "N/A"}
}`

func TestParseProbe(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		check   func(t *testing.T, r *Result)
		wantErr error
	}{
		{
			name:  "video with audio",
			input: videoJSON,
			check: func(t *testing.T, r *Result) {
				if !r.HasVideo || !r.HasAudio {
					t.Errorf("streams = video:%v audio:%v", r.HasVideo, r.HasAudio)
				}
				if r.DurationMs != 12012 || r.Width != 1920 || r.Height != 1080 {
					t.Errorf("result = %+v", r)
				}
				if r.FrameRate != 29.97 {
					t.Errorf("FrameRate = %v, want 29.97", r.FrameRate)
				}
				if r.Bitrate != 4500000 || r.SampleRate != 48000 || r.VideoCodec != "h264" {
					t.Errorf("result = %+v", r)
				}
			},
		},
		{
			name:  "cover art is not video",
			input: audioWithCoverJSON,
			check: func(t *testing.T, r *Result) {
				if r.HasVideo || !r.HasAudio {
					t.Errorf("streams = video:%v audio:%v", r.HasVideo, r.HasAudio)
				}
				if r.DurationMs != 180500 {
					t.Errorf("DurationMs = %d, want stream fallback 180500", r.DurationMs)
				}
			},
		},
		{
			name:    "no streams",
			input:   `{"streams": [], "format": {}}`,
			wantErr: ErrNoStreams,
		},
		{
			name:    "only data streams",
			input:   `{"streams": [{"codec_type": "data"}], "format": {}}`,
			wantErr: ErrNoStreams,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseProbe([]byte(tt.input))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseProbe() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseProbe() error = %v", err)
			}
			tt.check(t, r)
		})
	}

	if _, err := ParseProbe([]byte("not json")); err == nil {
		t.Error("ParseProbe(garbage) succeeded")
	}
}

func TestParseRate(t *testing.T) {
	tests := map[string]float64{
		"25/1":       25,
		"30000/1001": 29.97,
		"0/0":        0,
		"24":         24,
		"":           0,
	}
	for in, want := range tests {
		if got := parseRate(in); got != want {
			t.Errorf("parseRate(%q) = %v, want %v", in, got, want)
		}
	}
}

// fakeTool writes an executable shell script named name.
func fakeTool(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script tools not supported on windows")
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCLI_Probe(t *testing.T) {
	fixture := filepath.Join(t.TempDir(), "probe.json")
	if err := os.WriteFile(fixture, []byte(videoJSON), 0644); err != nil {
		t.Fatal(err)
	}
	ffprobe := fakeTool(t, "ffprobe", "cat "+fixture)

	c := NewCLI(Config{FFprobePath: ffprobe, Timeout: 5 * time.Second})
	r, err := c.Probe(context.Background(), "/media/clip.mp4")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if r.DurationMs != 12012 || !r.HasVideo {
		t.Errorf("Probe() = %+v", r)
	}
}

func TestCLI_ProbeFailure(t *testing.T) {
	ffprobe := fakeTool(t, "ffprobe", "echo 'moov atom not found' >&2; exit 1")
	c := NewCLI(Config{FFprobePath: ffprobe, Timeout: 5 * time.Second})
	_, err := c.Probe(context.Background(), "/media/broken.mp4")
	if err == nil || !strings.Contains(err.Error(), "moov atom not found") {
		t.Errorf("Probe() error = %v, want stderr tail", err)
	}
}

func TestCLI_ProbeTimeout(t *testing.T) {
	ffprobe := fakeTool(t, "ffprobe", "exec sleep 5")
	c := NewCLI(Config{FFprobePath: ffprobe, Timeout: 100 * time.Millisecond})
	_, err := c.Probe(context.Background(), "/media/slow.mp4")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Probe() error = %v, want deadline exceeded", err)
	}
}

func TestThumbnailArgs(t *testing.T) {
	c := NewCLI(Config{ThumbWidth: 240})
	args := strings.Join(c.ThumbnailArgs("/media/in.mp4", "/cache/thumb.jpg", 1500), " ")
	for _, want := range []string{"-ss 1.500", "-i /media/in.mp4", "-vframes 1", "scale=240:-2", "/cache/thumb.jpg"} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}

	still := strings.Join(c.ThumbnailArgs("/media/card.png", "/cache/card.jpg", 0), " ")
	if strings.Contains(still, "-ss") {
		t.Errorf("args %q seek into a still", still)
	}
}

func TestCLI_GenerateThumbnail(t *testing.T) {
	// The output path is the last argument before -y.
	ok := fakeTool(t, "ffmpeg", `out=""; for a in "$@"; do if [ "$a" != "-y" ]; then out="$a"; fi; done; printf jpeg > "$out"`)
	c := NewCLI(Config{FFmpegPath: ok, Timeout: 5 * time.Second})

	out := filepath.Join(t.TempDir(), "thumbs", "a.jpg")
	if err := c.GenerateThumbnail(context.Background(), "/media/in.mp4", out, 1000); err != nil {
		t.Fatalf("GenerateThumbnail() error = %v", err)
	}
	if data, err := os.ReadFile(out); err != nil || string(data) != "jpeg" {
		t.Errorf("thumbnail = %q, %v", data, err)
	}

	empty := fakeTool(t, "ffmpeg", "exit 0")
	c = NewCLI(Config{FFmpegPath: empty, Timeout: 5 * time.Second})
	out = filepath.Join(t.TempDir(), "b.jpg")
	if err := c.GenerateThumbnail(context.Background(), "/media/in.mp4", out, 0); err == nil {
		t.Error("GenerateThumbnail() succeeded without an image")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("failed thumbnail left %s behind", out)
	}
}

func TestCLI_RunDoctor(t *testing.T) {
	ffmpeg := fakeTool(t, "ffmpeg", `echo "ffmpeg version 6.1.1 Copyright (c) 2000-2023"`)
	c := NewCLI(Config{
		FFmpegPath:  ffmpeg,
		FFprobePath: filepath.Join(t.TempDir(), "missing-ffprobe"),
		Timeout:     5 * time.Second,
	})

	caps, err := c.RunDoctor(context.Background())
	if err != nil {
		t.Fatalf("RunDoctor() error = %v", err)
	}
	if !caps.FFmpeg.Available || caps.FFmpeg.Version != "6.1.1" || caps.FFmpeg.Path != ffmpeg {
		t.Errorf("FFmpeg = %+v", caps.FFmpeg)
	}
	if caps.FFprobe.Available || caps.FFprobe.Error == "" {
		t.Errorf("FFprobe = %+v, want unavailable with error", caps.FFprobe)
	}
	if !caps.CanExport || !caps.CanThumb || caps.CanProbe {
		t.Errorf("capabilities = %+v", caps)
	}
}

type fakeDoctor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeDoctor) RunDoctor(ctx context.Context) (*Capabilities, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Capabilities{CanProbe: true, ProbedAt: time.Now()}, nil
}

func TestCachedDoctor(t *testing.T) {
	fd := &fakeDoctor{}
	d := NewCachedDoctor(fd, time.Minute, nil)
	ctx := context.Background()

	if d.Peek() != nil {
		t.Error("Peek() before first probe is not nil")
	}
	first, err := d.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if second, _ := d.Get(ctx); second != first || fd.calls != 1 {
		t.Errorf("fresh cache re-probed: calls = %d", fd.calls)
	}

	// Past the TTL the doctor runs again.
	d.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := d.Get(ctx); err != nil || fd.calls != 2 {
		t.Errorf("expired cache: calls = %d, err = %v", fd.calls, err)
	}

	fd.err = errors.New("exec failed")
	stale, err := d.Refresh(ctx)
	if err != nil || stale == nil {
		t.Errorf("Refresh() with stale cache = %v, %v", stale, err)
	}

	d.Invalidate()
	if _, err := d.Get(ctx); err == nil {
		t.Error("Get() after Invalidate with a failing doctor succeeded")
	}
}
