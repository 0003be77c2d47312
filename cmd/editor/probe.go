package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-editor/internal/ingest"
)

var probeCmd = &cobra.Command{
	Use:   "probe <file>...",
	Short: "Print the media metadata ingest would record",
	Long: `Run ffprobe on each file and print the kind, duration, dimensions and
streams ingest would record, as JSON. Unreadable files are reported and skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		tools := a.tools()

		type probed struct {
			Path  string `json:"path"`
			Kind  string `json:"kind,omitempty"`
			Meta  any    `json:"meta,omitempty"`
			Error string `json:"error,omitempty"`
		}
		var out []probed
		failed := 0
		for _, p := range args {
			res := probed{Path: p}
			if kind, ok := ingest.KindOf(p); ok {
				res.Kind = string(kind)
			}
			meta, err := tools.Probe(cmd.Context(), p)
			if err != nil {
				res.Error = err.Error()
				failed++
			} else {
				res.Meta = meta
			}
			out = append(out, res)
		}
		if err := printJSON(out); err != nil {
			return err
		}
		if failed == len(args) {
			return fmt.Errorf("no file could be probed")
		}
		return nil
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that ffmpeg and ffprobe are usable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		caps, err := a.tools().RunDoctor(cmd.Context())
		if err != nil {
			return err
		}
		if err := printJSON(caps); err != nil {
			return err
		}
		if !caps.CanExport {
			return fmt.Errorf("ffmpeg is not available; export is disabled")
		}
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
