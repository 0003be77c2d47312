package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-editor/internal/export"
)

var (
	exportOutput    string
	exportEDL       bool
	exportPublish   bool
	exportFrameRate float64
)

var exportCmd = &cobra.Command{
	Use:   "export [project-id]",
	Short: "Export a saved project to a video file",
	Long: `Export a saved project without starting the server. The last saved project
is used when no id is given. Progress is printed as the segments are encoded.

With --edl a CMX3600 edit decision list of the base track is written instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var projectID string
		if len(args) > 0 {
			projectID = args[0]
		}
		return runExport(cmd.Context(), projectID)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default: <export dir>/<project name>.mp4)")
	exportCmd.Flags().BoolVar(&exportEDL, "edl", false, "write an edit decision list instead of rendering")
	exportCmd.Flags().BoolVar(&exportPublish, "publish", false, "publish the finished file (S3 when a bucket is configured)")
	exportCmd.Flags().Float64Var(&exportFrameRate, "fps", 0, "EDL timecode frame rate (default: configured rate)")
}

func runExport(ctx context.Context, projectID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.openSession(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to open project: %w", err)
	}
	defer sess.Close()
	state := sess.State()
	snap := sess.Snapshot()

	if exportEDL {
		fps := exportFrameRate
		if fps <= 0 {
			fps = a.cfg.FrameRate()
		}
		if len(snap.ClipsOnTrack(snap.BaseTrackID())) == 0 {
			return export.ErrEmptyTimeline
		}
		title := export.SanitizeName(state.ProjectName, 120)
		if title == "" {
			title = "heimdex_export"
		}
		outputPath := exportOutput
		if outputPath == "" {
			outputPath = filepath.Join(a.cfg.ExportDir(), title+".edl")
		}
		if err := os.WriteFile(outputPath, []byte(export.GenerateEDL(snap, title, fps)), 0o644); err != nil {
			return fmt.Errorf("failed to write edl: %w", err)
		}
		fmt.Println(outputPath)
		return nil
	}

	outputPath := exportOutput
	if outputPath == "" {
		if outputPath, err = export.ResolveOutputPath(a.cfg.ExportDir(), state.ProjectName); err != nil {
			return err
		}
	}
	if abs, err := filepath.Abs(outputPath); err == nil {
		outputPath = abs
	}
	out, err := a.exporter().Run(ctx, snap, outputPath, func(e export.Event) {
		switch {
		case e.Error != "":
			fmt.Fprintf(os.Stderr, "%-14s %s\n", e.Phase, e.Error)
		case e.Detail != "":
			fmt.Fprintf(os.Stderr, "%-14s %s\n", e.Phase, e.Detail)
		default:
			fmt.Fprintf(os.Stderr, "%s\n", e.Phase)
		}
	})
	if err != nil {
		return err
	}
	a.logger.Info("export finished", "segments", out.Segments, "reencoded", out.Reencoded, "size_bytes", out.FileSizeBytes)

	if exportPublish {
		publisher, err := a.publisher()
		if err != nil {
			return err
		}
		url, err := publisher.Publish(ctx, out.Path)
		if err != nil {
			return fmt.Errorf("publish failed: %w", err)
		}
		fmt.Println(url)
		return nil
	}
	fmt.Println(out.Path)
	return nil
}
