package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/drgolem/spatialaudio/pkg/backend/portaudio"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List playback devices visible to the PortAudio backend",
	Run:   runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) {
	be := portaudio.New(0)
	infos, err := be.Devices()
	if err != nil {
		slog.Error("failed to enumerate devices", "error", err)
		os.Exit(1)
	}
	for _, d := range infos {
		fmt.Printf("[%d] %s (channels=%d, default_rate=%.0f)\n", d.Index, d.Name, d.MaxOutputChannels, d.DefaultSampleRate)
	}
}
