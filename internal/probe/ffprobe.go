package probe

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/heimdex/heimdex-editor/internal/logging"
	"github.com/heimdex/heimdex-editor/internal/proc"
)

const defaultThumbSize = 320

var ErrNoStreams = errors.New("no decodable streams")

// Config holds the tool paths and limits.
type Config struct {
	FFmpegPath  string        // empty = "ffmpeg" on PATH
	FFprobePath string        // empty = "ffprobe" on PATH
	Timeout     time.Duration // per-process limit
	ThumbWidth  int           // thumbnail width in pixels, height keeps aspect
	Logger      *slog.Logger
}

// CLI is the production FFmpeg implementation backed by the command-line tools.
type CLI struct {
	cfg Config
}

func NewCLI(cfg Config) *CLI {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ThumbWidth <= 0 {
		cfg.ThumbWidth = defaultThumbSize
	}
	cfg.Logger = logging.WithComponent(logging.OrDiscard(cfg.Logger), "probe")
	return &CLI{cfg: cfg}
}

// Probe reads container and stream metadata with ffprobe.
func (c *CLI) Probe(ctx context.Context, filePath string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cmd := proc.Command(ctx, c.cfg.FFprobePath,
		"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", filePath)
	stderr := proc.NewTailBuffer(proc.MaxStderrBytes)
	cmd.Stderr = stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe %s: %w", logging.SanitizePath(filePath), ctx.Err())
		}
		return nil, fmt.Errorf("ffprobe %s: %w: %s", logging.SanitizePath(filePath), err, proc.Truncate(stderr.String(), 512))
	}

	res, err := ParseProbe(out)
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", logging.SanitizePath(filePath), err)
	}
	c.cfg.Logger.Debug("probed media",
		"path", logging.SanitizePath(filePath),
		"format", res.FormatName,
		"duration_ms", res.DurationMs,
		"video", res.HasVideo,
		"audio", res.HasAudio,
	)
	return res, nil
}

type probeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		SampleRate   string `json:"sample_rate"`
		Duration     string `json:"duration"`
		Disposition  struct {
			AttachedPic int `json:"attached_pic"`
		} `json:"disposition"`
	} `json:"streams"`
}

// ParseProbe decodes ffprobe's JSON output. Cover art attached to audio files
// does not count as a video stream. A missing container duration falls back to
// the longest stream.
func ParseProbe(data []byte) (*Result, error) {
	var p probeOutput
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}
	if len(p.Streams) == 0 {
		return nil, ErrNoStreams
	}

	res := &Result{
		FormatName: p.Format.FormatName,
		DurationMs: secondsToMs(p.Format.Duration),
	}
	res.Bitrate, _ = strconv.ParseInt(p.Format.BitRate, 10, 64)

	var longest int64
	for _, s := range p.Streams {
		if d := secondsToMs(s.Duration); d > longest {
			longest = d
		}
		switch s.CodecType {
		case "video":
			if s.Disposition.AttachedPic == 1 || res.HasVideo {
				continue
			}
			res.HasVideo = true
			res.VideoCodec = s.CodecName
			res.Width = s.Width
			res.Height = s.Height
			res.FrameRate = parseRate(s.AvgFrameRate)
			if res.FrameRate == 0 {
				res.FrameRate = parseRate(s.RFrameRate)
			}
		case "audio":
			if res.HasAudio {
				continue
			}
			res.HasAudio = true
			res.AudioCodec = s.CodecName
			res.SampleRate, _ = strconv.Atoi(s.SampleRate)
		}
	}
	if res.DurationMs == 0 {
		res.DurationMs = longest
	}
	if !res.HasVideo && !res.HasAudio {
		return nil, ErrNoStreams
	}
	return res, nil
}

func secondsToMs(s string) int64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return int64(math.Round(f * 1000))
}

// parseRate reads an ffprobe rational such as "30000/1001".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return math.Round(n/d*1000) / 1000
}

// ThumbnailArgs builds the ffmpeg argument list grabbing one frame at atMs.
func (c *CLI) ThumbnailArgs(filePath, outputPath string, atMs int64) []string {
	in := ffmpeg.KwArgs{}
	if atMs > 0 {
		in["ss"] = strconv.FormatFloat(float64(atMs)/1000, 'f', 3, 64)
	}
	return ffmpeg.Input(filePath, in).
		Output(outputPath, ffmpeg.KwArgs{"vframes": "1", "vf": fmt.Sprintf("scale=%d:-2", c.cfg.ThumbWidth)}).
		OverWriteOutput().
		GetArgs()
}

// GenerateThumbnail writes a poster frame taken atMs into the source.
func (c *CLI) GenerateThumbnail(ctx context.Context, filePath, outputPath string, atMs int64) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("cannot create thumbnail dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cmd := proc.Command(ctx, c.cfg.FFmpegPath, c.ThumbnailArgs(filePath, outputPath, atMs)...)
	stderr := proc.NewTailBuffer(proc.MaxStderrBytes)
	cmd.Stderr = stderr
	cmd.Stdout = io.Discard

	if err := cmd.Run(); err != nil {
		_ = os.Remove(outputPath)
		return fmt.Errorf("thumbnail %s: %w: %s", logging.SanitizePath(filePath), err, proc.Truncate(stderr.String(), 512))
	}
	if info, err := os.Stat(outputPath); err != nil || info.Size() == 0 {
		_ = os.Remove(outputPath)
		return fmt.Errorf("thumbnail %s: ffmpeg produced no image", logging.SanitizePath(filePath))
	}
	return nil
}

// RunDoctor checks that ffmpeg and ffprobe can be executed.
func (c *CLI) RunDoctor(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{
		FFmpeg:   c.toolVersion(ctx, c.cfg.FFmpegPath),
		FFprobe:  c.toolVersion(ctx, c.cfg.FFprobePath),
		ProbedAt: time.Now(),
	}
	caps.CanProbe = caps.FFprobe.Available
	caps.CanThumb = caps.FFmpeg.Available
	caps.CanExport = caps.FFmpeg.Available

	c.cfg.Logger.Info("doctor probe complete",
		"ffmpeg", caps.FFmpeg.Available,
		"ffmpeg_version", caps.FFmpeg.Version,
		"ffprobe", caps.FFprobe.Available,
		"ffprobe_version", caps.FFprobe.Version,
	)
	return caps, nil
}

// toolVersion runs `<bin> -version` and reads the version from its first line,
// e.g. "ffmpeg version 6.1.1 Copyright ...".
func (c *CLI) toolVersion(ctx context.Context, bin string) DepInfo {
	path, err := exec.LookPath(bin)
	if err != nil {
		return DepInfo{Error: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	out, err := proc.Command(ctx, path, "-version").Output()
	if err != nil {
		return DepInfo{Path: path, Error: err.Error()}
	}

	info := DepInfo{Available: true, Path: path}
	line, _, _ := bufio.NewReader(bytes.NewReader(out)).ReadLine()
	if fields := strings.Fields(string(line)); len(fields) >= 3 && fields[1] == "version" {
		info.Version = fields[2]
	}
	return info
}
