package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drgolem/spatialaudio/pkg/backend/portaudio"
	"github.com/drgolem/spatialaudio/pkg/engine"
)

var (
	playDeviceIdx int
	playVerbose   bool
	playGain      float32
	playPriority  int
)

var playCmd = &cobra.Command{
	Use:   "play <audio_file>",
	Short: "Play a single audio file through one spatial Source",
	Long: `Opens a playback device, creates a Context and a single Source, loads
the file as a Buffer and plays it to completion.

Examples:
  spatialaudio play music.wav
  spatialaudio play -d 2 -g 0.5 music.flac`,
	Args: cobra.ExactArgs(1),
	Run:  runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)
	playCmd.Flags().IntVarP(&playDeviceIdx, "device", "d", 0, "Audio output device index")
	playCmd.Flags().Float32VarP(&playGain, "gain", "g", 1.0, "Source gain (0-1)")
	playCmd.Flags().IntVarP(&playPriority, "priority", "p", 1, "Source priority (eviction ranking)")
	playCmd.Flags().BoolVarP(&playVerbose, "verbose", "v", false, "Verbose debug logging")
}

func runPlay(cmd *cobra.Command, args []string) {
	configureLogging(playVerbose)
	fileName := args[0]

	if _, err := os.Stat(fileName); os.IsNotExist(err) {
		slog.Error("file not found", "path", fileName)
		os.Exit(1)
	}

	be := portaudio.New(playDeviceIdx)
	dev, err := engine.OpenDevice(be, "")
	if err != nil {
		slog.Error("failed to open device", "error", err)
		os.Exit(1)
	}
	defer dev.Close()

	ctx := dev.CreateContext(engine.DefaultContextConfig())
	if err := engine.MakeCurrent(ctx); err != nil {
		slog.Error("failed to make context current", "error", err)
		os.Exit(1)
	}
	defer engine.MakeCurrent(nil)

	slog.Info("loading buffer", "file", fileName)
	buf, err := ctx.GetBuffer(fileName)
	if err != nil {
		slog.Error("failed to load buffer", "error", err)
		os.Exit(1)
	}
	slog.Info("buffer ready",
		"channels", buf.ChannelConfig(),
		"sample_type", buf.SampleType(),
		"frequency", buf.Frequency(),
		"length_frames", buf.Length())

	handle, err := ctx.CreateSource()
	if err != nil {
		slog.Error("failed to create source", "error", err)
		os.Exit(1)
	}
	src, err := ctx.Source(handle)
	if err != nil {
		slog.Error("failed to resolve source", "error", err)
		os.Exit(1)
	}
	src.SetPriority(playPriority)
	src.SetGain(playGain)

	slog.Info("starting playback", "file", fileName)
	if err := src.Play(buf); err != nil {
		slog.Error("failed to start playback", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx.Update()
			if !src.IsPlaying() {
				slog.Info("playback finished")
				src.Destroy()
				if err := ctx.RemoveBuffer(fileName); err != nil {
					slog.Warn("failed to remove buffer from cache", "error", err)
				}
				return
			}
		case sig := <-sigChan:
			slog.Info("signal received, stopping", "signal", sig)
			src.Stop()
			src.Destroy()
			ctx.RemoveBuffer(fileName)
			return
		}
	}
}

func configureLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}
