package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-editor/internal/api"
	"github.com/heimdex/heimdex-editor/internal/config"
	"github.com/heimdex/heimdex-editor/internal/export"
	"github.com/heimdex/heimdex-editor/internal/ingest"
	"github.com/heimdex/heimdex-editor/internal/mediaserver"
	"github.com/heimdex/heimdex-editor/internal/probe"
	"github.com/heimdex/heimdex-editor/internal/session"
	"github.com/heimdex/heimdex-editor/internal/store"
	"github.com/heimdex/heimdex-editor/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local editing API server",
	Long: `Run the local editing API server on 127.0.0.1. The last saved project is
reopened on start and saved again on shutdown. A system tray icon offers
play/pause, export and quit unless HEIMDEX_EDITOR_HEADLESS is set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	startTime := time.Now()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger, repo := a.cfg, a.logger, a.repo
	logger.Info("starting heimdex editor", "version", config.Version, "data_dir", cfg.DataDir())

	deviceID, err := ensureDeviceID(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║  %-56s ║\n", "HEIMDEX EDITOR v"+config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Printf("║  Exports:    %-45s ║\n", truncateMiddle(cfg.ExportDir(), 45))
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	tools := a.tools()
	doctor := probe.NewCachedDoctor(tools, 0, logger)

	initCtx, initCancel := context.WithTimeout(context.Background(), cfg.ProbeTimeout())
	defer initCancel()
	if caps, err := doctor.Refresh(initCtx); err != nil {
		logger.Warn("initial tool check failed", "error", err)
	} else {
		logger.Info("media tools detected",
			"ffmpeg", caps.FFmpeg.Available,
			"ffprobe", caps.FFprobe.Available,
			"can_export", caps.CanExport,
		)
	}

	sess := session.New(a.sessionOptions(), logger)
	defer sess.Close()

	err = api.OpenProject(initCtx, repo, sess, "")
	switch {
	case errors.Is(err, api.ErrNoProject):
		logger.Info("no saved project, starting empty")
	case err != nil:
		logger.Warn("failed to reopen last project, starting empty", "error", err)
	default:
		state := sess.State()
		logger.Info("reopened project", "project_id", state.ProjectID, "name", state.ProjectName)
	}

	publisher, err := a.publisher()
	if err != nil {
		return err
	}
	exports := export.NewManager(a.exporter(), repo, publisher, logger)
	defer exports.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := sess.Run(ctx, cfg.TickInterval()); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("playback loop stopped", "error", err)
		}
	}()

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Port(),
		Session:    sess,
		Ingest:     ingest.NewService(tools, doctor, repo, sess, cfg.CacheDir(), logger),
		Repository: repo,
		Exports:    exports,
		Media:      mediaserver.NewServer(repo, logger),
		Doctor:     doctor,
		ExportDir:  cfg.ExportDir(),
		FrameRate:  cfg.FrameRate(),
		Logger:     logger,
		StartTime:  startTime,
		DeviceID:   deviceID,
	})

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
			quit()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			quit()
		case <-quitCh:
		}
	}()

	var tray *ui.Tray
	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray = ui.NewTray(ui.TrayConfig{
			Player:  sess,
			Exports: exports,
			Logger:  logger,
			OnExport: func() error {
				job, err := startExport(ctx, sess, exports, cfg.ExportDir())
				if err != nil {
					return err
				}
				logger.Info("export requested from tray", "job_id", job.ID)
				return nil
			},
			OnQuit: quit,
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	if tray != nil {
		tray.Quit()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	cancel()

	if p, err := api.SaveProject(shutdownCtx, repo, sess); err != nil {
		logger.Error("failed to save project on exit", "error", err)
	} else {
		logger.Info("project saved", "project_id", p.ID)
	}

	logger.Info("shutdown complete")
	return nil
}

// startExport exports the current timeline into dir, named after the project.
func startExport(ctx context.Context, sess *session.Session, exports *export.Manager, dir string) (*store.ExportJob, error) {
	state := sess.State()
	outputPath, err := export.ResolveOutputPath(dir, state.ProjectName)
	if err != nil {
		return nil, err
	}
	snap := sess.Snapshot()
	if _, err := export.Plan(snap, ""); err != nil {
		return nil, err
	}
	return exports.Start(ctx, snap, state.ProjectID, outputPath)
}

// truncateMiddle shortens s to n runes, eliding the middle.
func truncateMiddle(s string, n int) string {
	r := []rune(s)
	if len(r) <= n || n < 5 {
		return s
	}
	half := (n - 3) / 2
	return string(r[:half]) + "..." + string(r[len(r)-(n-3-half):])
}
