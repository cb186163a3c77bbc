package main

import (
	"fmt"

	"github.com/fluxcore/floppycore/config"
	"github.com/fluxcore/floppycore/hfe"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [IMAGE]",
	Short: "Show the configured drive and, optionally, an image's geometry",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Drive: %s\n", config.DriveName)
		fmt.Printf("  Cylinders: %d\n", config.Cyls)
		fmt.Printf("  Heads: %d\n", config.Heads)
		fmt.Printf("  RPM: %d\n", config.RPM)
		fmt.Printf("  Max data rate: %d kbit/s\n", config.MaxKBps)

		if len(args) == 0 {
			return
		}

		disk, err := hfe.Read(args[0])
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to read image: %w", err))
		}
		fmt.Printf("Image: %s (%s)\n", args[0], hfe.DetectImageFormat(args[0]))
		fmt.Printf("  Tracks: %d\n", disk.Header.NumberOfTrack)
		fmt.Printf("  Sides: %d\n", disk.Header.NumberOfSide)
		fmt.Printf("  Bit rate: %d kbit/s\n", disk.Header.BitRate)
		fmt.Printf("  RPM: %d\n", disk.Header.FloppyRPM)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
