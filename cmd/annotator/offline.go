package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/heimdex/window-annotator/internal/export"
	"github.com/heimdex/window-annotator/internal/filestamp"
	"github.com/heimdex/window-annotator/internal/session"
	"github.com/heimdex/window-annotator/internal/timegrid"
)

func newParseCmd() *cobra.Command {
	var (
		tz     string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "parse <file>...",
		Short: "Parse YYMMDD_HHMMSS_HHMMSS footage file names",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := loadLocation(tz)
			if err != nil {
				return err
			}
			stamps, err := filestamp.ParseBatch(args, loc)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, stamps)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDATE\tSTART\tEND\tSECONDS")
			for _, s := range stamps {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", s.Name, s.Date, s.StartClock, s.EndClock, s.EndAbs-s.StartAbs)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&tz, "tz", "Local", "IANA timezone the stamps are recorded in")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newWindowsCmd() *cobra.Command {
	var (
		videoID string
		tz      string
		step    int64
		start   int64
		end     int64
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "windows [file...]",
		Short: "Generate a snapshot with fixed windows",
		Long: "With file arguments, windows are generated on the wall-clock grid over the\n" +
			"footage coverage. Without, --start and --end (seconds) define a manual range.",
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := loadLocation(tz)
			if err != nil {
				return err
			}
			sess := session.New(videoID, loc)
			if len(args) > 0 {
				report, err := sess.IngestFiles(args, step)
				if err != nil {
					return err
				}
				if report.Notice != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), "notice:", report.Notice)
				}
				for _, g := range report.Gaps {
					fmt.Fprintf(cmd.ErrOrStderr(), "gap: %d-%d\n", g.Start, g.End)
				}
			} else {
				if !cmd.Flags().Changed("end") {
					return errors.New("--end is required without file arguments")
				}
				if err := sess.StartManual(videoID, start, end, step); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create snapshot file: %w", err)
				}
				defer f.Close()
				out = f
			}
			if err := writeJSON(out, sess.Snapshot()); err != nil {
				return err
			}
			if outPath != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d windows to %s\n", len(sess.Windows), outPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&videoID, "video-id", "", "video id (defaults to the first file's stem)")
	cmd.Flags().StringVar(&tz, "tz", "Local", "IANA timezone the stamps are recorded in")
	cmd.Flags().Int64Var(&step, "step", timegrid.DefaultStep, "window length in seconds")
	cmd.Flags().Int64Var(&start, "start", 0, "manual range start in seconds")
	cmd.Flags().Int64Var(&end, "end", 0, "manual range end in seconds")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the snapshot to a file instead of stdout")
	return cmd
}

func newExportCmd() *cobra.Command {
	var (
		kind   string
		outDir string
		tz     string
	)
	cmd := &cobra.Command{
		Use:   "export <snapshot.json>",
		Short: "Write a summary or detail CSV from a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := export.ParseKind(kind)
			if err != nil {
				return err
			}
			loc, err := loadLocation(tz)
			if err != nil {
				return err
			}
			sess, err := readSnapshotFile(args[0], loc)
			if err != nil {
				return err
			}
			if outDir == "-" {
				_, err := export.Write(cmd.OutOrStdout(), k, sess)
				return err
			}
			resp, err := export.WriteFile(outDir, k, sess)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", resp.Rows, resp.OutputPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(export.KindSummary), "summary or detail")
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "output directory, or - for stdout")
	cmd.Flags().StringVar(&tz, "tz", "Local", "timezone used to render wall-clock times")
	return cmd
}

func readSnapshotFile(path string, loc *time.Location) (*session.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return session.FromSnapshot(snap, loc)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
