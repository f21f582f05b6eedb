package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/capture"
)

func newRecordCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "record",
		Short: "Transcribe the microphone until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if v, _ := cmd.Flags().GetString("device"); v != "" {
				a.cfg.Audio.Device = v
			}
			if v, _ := cmd.Flags().GetString("input-format"); v != "" {
				a.cfg.Audio.InputFormat = v
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a.startHealth(ctx)

			p, err := a.newPipeline(capture.NewFFmpegSource(a.cfg.FFmpegConfig(), a.logger))
			if err != nil {
				return err
			}
			return a.runSession(ctx, p)
		},
	}
	c.Flags().String("device", "", "ffmpeg input device (default: platform microphone)")
	c.Flags().String("input-format", "", "ffmpeg input format: avfoundation, pulse, alsa, dshow")
	return c
}
