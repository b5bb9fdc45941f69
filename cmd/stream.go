package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drgolem/spatialaudio/pkg/backend/portaudio"
	"github.com/drgolem/spatialaudio/pkg/decoder"
	"github.com/drgolem/spatialaudio/pkg/engine"
	"github.com/drgolem/spatialaudio/pkg/fileio"
)

var (
	streamDeviceIdx   int
	streamVerbose     bool
	streamChunkFrames int
	streamQueueLen    int
)

var streamCmd = &cobra.Command{
	Use:   "stream <audio_file>",
	Short: "Play a file via the incremental streaming Source path",
	Long: `Unlike play, stream never fully decodes the file into memory: it opens
a decoder directly and feeds the Source a rolling window of chunks via the
Context's background worker, exercising Source.PlayStreaming and the
worker's per-tick queue refill.`,
	Args: cobra.ExactArgs(1),
	Run:  runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)
	streamCmd.Flags().IntVarP(&streamDeviceIdx, "device", "d", 0, "Audio output device index")
	streamCmd.Flags().IntVar(&streamChunkFrames, "chunk-frames", 4096, "Frames decoded per streaming chunk")
	streamCmd.Flags().IntVar(&streamQueueLen, "queue-len", 4, "Chunks kept queued ahead of playback")
	streamCmd.Flags().BoolVarP(&streamVerbose, "verbose", "v", false, "Verbose debug logging")
}

func runStream(cmd *cobra.Command, args []string) {
	configureLogging(streamVerbose)
	fileName := args[0]

	stream, err := fileio.Open(fileName)
	if err != nil {
		slog.Error("failed to open file", "error", err)
		os.Exit(1)
	}

	dec, err := decoder.Open(stream)
	if err != nil {
		stream.Close()
		slog.Error("failed to recognize format", "error", err)
		os.Exit(1)
	}

	be := portaudio.New(streamDeviceIdx)
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

	slog.Info("starting streaming playback", "file", fileName, "chunk_frames", streamChunkFrames, "queue_len", streamQueueLen)
	if err := src.PlayStreaming(dec, streamChunkFrames, streamQueueLen); err != nil {
		slog.Error("failed to start streaming playback", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !src.IsPlaying() {
				slog.Info("stream finished")
				src.Destroy()
				return
			}
		case sig := <-sigChan:
			slog.Info("signal received, stopping", "signal", sig)
			src.Stop()
			src.Destroy()
			return
		}
	}
}
