// Command floppysim runs the floppy-drive emulation core against a
// scripted in-process host or a serial/USB bench fixture.
package main

import (
	"fmt"

	"github.com/fluxcore/floppycore/config"
	"github.com/spf13/cobra"
)

const supportedImageFormatsText = `Supported image formats:
  *.adf          - Amiga Disk File
  *.hfe          - HxC Floppy Emulator
  *.img or *.ima - raw binary contents of the entire disk`

var rootCmd = &cobra.Command{
	Use:   "floppysim",
	Short: "Emulate a Shugart floppy drive from a disk image",
	Long: `floppysim mounts a disk image and emulates a Shugart-compatible floppy
drive against a scripted host or a bench fixture wired to a real one.
` + supportedImageFormatsText,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		switch cmd.Name() {
		case "run", "status":
			// These commands need the drive geometry from the config.
			break
		default:
			return
		}

		err := config.Initialize()
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to initialize config: %w", err))
		}
	},
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
