package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/heimdex/heimdex-editor/internal/api"
	"github.com/heimdex/heimdex-editor/internal/audiosync"
	"github.com/heimdex/heimdex-editor/internal/compositor"
	"github.com/heimdex/heimdex-editor/internal/config"
	"github.com/heimdex/heimdex-editor/internal/db"
	"github.com/heimdex/heimdex-editor/internal/export"
	"github.com/heimdex/heimdex-editor/internal/logging"
	"github.com/heimdex/heimdex-editor/internal/probe"
	"github.com/heimdex/heimdex-editor/internal/publish"
	"github.com/heimdex/heimdex-editor/internal/session"
	"github.com/heimdex/heimdex-editor/internal/store"
	"github.com/heimdex/heimdex-editor/internal/timeline"
)

const configDeviceID = "device_id"

// app holds what every command needs: configuration, logger and the library
// database.
type app struct {
	cfg    *config.EnvConfig
	logger *slog.Logger
	db     *db.DB
	repo   *store.SQLiteRepository
}

func openApp() (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.CacheDir(), cfg.ExportDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		db:     database,
		repo:   store.NewRepository(database.Conn()),
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", "error", err)
	}
}

func (a *app) tools() *probe.CLI {
	return probe.NewCLI(probe.Config{
		FFmpegPath:  a.cfg.FFmpegPath(),
		FFprobePath: a.cfg.FFprobePath(),
		Timeout:     a.cfg.ProbeTimeout(),
		Logger:      a.logger,
	})
}

func (a *app) exporter() *export.Exporter {
	enc := export.NewFFmpegEncoder(export.EncoderConfig{
		FFmpegPath: a.cfg.FFmpegPath(),
		Timeout:    a.cfg.EncoderTimeout(),
		FrameRate:  a.cfg.FrameRate(),
		Width:      a.cfg.CanvasWidth(),
		Height:     a.cfg.CanvasHeight(),
		Logger:     a.logger,
	})
	return export.NewExporter(enc, filepath.Join(a.cfg.CacheDir(), "exports"), a.logger)
}

// publisher uploads to S3 when a bucket is configured and keeps exports local
// otherwise.
func (a *app) publisher() (export.Publisher, error) {
	if a.cfg.S3Bucket() == "" {
		return publish.NewLocal(a.logger), nil
	}
	p, err := publish.NewS3(publish.S3Config{
		Bucket: a.cfg.S3Bucket(),
		Region: a.cfg.S3Region(),
		Prefix: a.cfg.S3Prefix(),
		Logger: a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure s3 publishing: %w", err)
	}
	a.logger.Info("s3 publishing enabled", "bucket", a.cfg.S3Bucket(), "region", a.cfg.S3Region())
	return p, nil
}

func (a *app) sessionOptions() session.Options {
	frame := time.Duration(float64(time.Second) / a.cfg.FrameRate())
	limits := timeline.DefaultLimits()
	limits.MinClipMs = a.cfg.MinClipMs()
	limits.ImageDurationMs = a.cfg.ImageDurationMs()
	limits.MaxImageDurationMs = a.cfg.MaxImageDurationMs()
	limits.MinTimelineMs = a.cfg.MinTimelineMs()
	return session.Options{
		Canvas: timeline.Canvas{Width: a.cfg.CanvasWidth(), Height: a.cfg.CanvasHeight()},
		Limits: limits,
		Compositor: compositor.Options{
			FrameInterval: frame,
			DriftMs:       a.cfg.VideoDriftMs(),
		},
		Sync: audiosync.Options{
			CoarseThresholdMs: a.cfg.CoarseThresholdMs(),
			DriftThresholdMs:  a.cfg.DriftThresholdMs(),
			Interval:          a.cfg.SyncInterval(),
		},
	}
}

// openSession creates a session and reopens projectID, or the last saved
// project when projectID is empty.
func (a *app) openSession(ctx context.Context, projectID string) (*session.Session, error) {
	sess := session.New(a.sessionOptions(), a.logger)
	if err := api.OpenProject(ctx, a.repo, sess, projectID); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

func ensureDeviceID(repo store.Repository) (string, error) {
	return ensureSecret(repo, configDeviceID, 16)
}

func ensureAuthToken(repo store.Repository) (string, error) {
	return ensureSecret(repo, api.ConfigAuthToken, 32)
}

// ensureSecret returns the stored value for key, generating n random bytes
// the first time.
func ensureSecret(repo store.Repository, key string, n int) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, key)
	if err == nil && existing != "" {
		return existing, nil
	}

	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	value := hex.EncodeToString(b)

	if err := repo.SetConfig(ctx, key, value); err != nil {
		return "", err
	}

	return value, nil
}
