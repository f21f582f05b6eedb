package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/capture"
)

func newTranscribeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "transcribe FILE.wav",
		Short: "Transcribe a 16-bit PCM WAV file through the live pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			realtime, _ := cmd.Flags().GetBool("realtime")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a.startHealth(ctx)

			src := capture.NewWAVFileSource(args[0], a.cfg.Audio.FrameDuration, realtime)
			p, err := a.newPipeline(src)
			if err != nil {
				return err
			}
			return a.runSession(ctx, p)
		},
	}
	c.Flags().Bool("realtime", false, "pace frames at playback speed, as a live input would")
	return c
}
