package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "spatialaudio",
	Short: "3D positional audio engine CLI",
	Long: `spatialaudio drives the engine package from the command line: device
enumeration and single/streaming-source playback through the PortAudio
backend.

Commands:
  - devices: list playback devices the backend can see
  - play: play one audio file through a single spatial Source
  - stream: play a file using the incremental streaming source path`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
