package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/heimdex/window-annotator/internal/config"
	"github.com/heimdex/window-annotator/internal/media"
)

func newPullCmd() *cobra.Command {
	var (
		remote  remoteFlags
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "pull <video-id>",
		Short: "Download the stored snapshot for a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := remote.client().LoadSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if body == nil {
				return fmt.Errorf("no snapshot stored for %q", args[0])
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, body, "", "  "); err != nil {
				return fmt.Errorf("server returned invalid JSON: %w", err)
			}
			pretty.WriteByte('\n')
			if outPath == "" {
				_, err := cmd.OutOrStdout().Write(pretty.Bytes())
				return err
			}
			if err := os.WriteFile(outPath, pretty.Bytes(), 0o644); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "saved %s\n", outPath)
			return nil
		},
	}
	remote.bind(cmd)
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write to a file instead of stdout")
	return cmd
}

func newPushCmd() *cobra.Command {
	var remote remoteFlags
	cmd := &cobra.Command{
		Use:   "push <snapshot.json>",
		Short: "Upload a snapshot file to the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read snapshot: %w", err)
			}
			if !json.Valid(body) {
				return fmt.Errorf("%s is not valid JSON", args[0])
			}
			if err := remote.client().SaveSnapshot(cmd.Context(), body); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	remote.bind(cmd)
	return cmd
}

func newProbeCmd() *cobra.Command {
	var (
		remote remoteFlags
		local  bool
	)
	cmd := &cobra.Command{
		Use:   "probe <media>",
		Short: "Print a media file's duration in seconds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var d float64
			if local {
				runner, err := localRunner()
				if err != nil {
					return err
				}
				if d, err = runner.Probe(cmd.Context(), args[0]); err != nil {
					return err
				}
			} else {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				if d, err = remote.client().ProbeDuration(cmd.Context(), f, filepath.Base(args[0])); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.3f\n", d)
			return nil
		},
	}
	remote.bind(cmd)
	cmd.Flags().BoolVar(&local, "local", false, "run ffprobe here instead of on the server")
	return cmd
}

func newTranscodeCmd() *cobra.Command {
	var (
		remote  remoteFlags
		local   bool
		outPath string
		noWait  bool
	)
	cmd := &cobra.Command{
		Use:   "transcode <media>",
		Short: "Convert media to browser-friendly H.264/AAC MP4",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stderr := cmd.ErrOrStderr()
			progress := func(p float64) { fmt.Fprintf(stderr, "\rprogress %3.0f%%", p*100) }

			if local {
				if outPath == "" {
					outPath = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".web.mp4"
				}
				runner, err := localRunner()
				if err != nil {
					return err
				}
				d, _ := runner.Probe(ctx, args[0])
				if err := runner.Transcode(ctx, args[0], outPath, d, progress); err != nil {
					fmt.Fprintln(stderr)
					return err
				}
				fmt.Fprintln(stderr)
				fmt.Fprintln(cmd.OutOrStdout(), outPath)
				return nil
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			c := remote.client()
			job, err := c.StartTranscode(ctx, f, filepath.Base(args[0]))
			if err != nil {
				return err
			}
			if noWait {
				fmt.Fprintln(cmd.OutOrStdout(), job)
				return nil
			}
			status, err := c.WaitTranscode(ctx, job, progress)
			fmt.Fprintln(stderr)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(remote.server, "/")+status.URL)
			return nil
		},
	}
	remote.bind(cmd)
	cmd.Flags().BoolVar(&local, "local", false, "run ffmpeg here instead of on the server")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output path for --local (default <name>.web.mp4)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "print the job id and return immediately")
	return cmd
}

func localRunner() (media.Runner, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return media.NewRunner(media.Config{
		FFmpegPath:       cfg.FFmpegPath(),
		FFprobePath:      cfg.FFprobePath(),
		ProbeTimeout:     cfg.ProbeTimeout(),
		TranscodeTimeout: cfg.TranscodeTimeout(),
	}), nil
}
