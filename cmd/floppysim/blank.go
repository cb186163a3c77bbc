package main

import (
	"fmt"
	"os"

	"github.com/fluxcore/floppycore/images"

	"github.com/spf13/cobra"
)

var blankFormat string

var blankCmd = &cobra.Command{
	Use:   "blank FILE",
	Short: "Create a blank disk image",
	Long: `Create a blank disk image at FILE. The format flag selects the
geometry: 35dd (720K), 35hd (1.44M) or adf (Amiga 880K).`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var source string
		switch blankFormat {
		case "35dd":
			source = "blank35dd.img"
		case "35hd":
			source = "blank35hd.img"
		case "adf":
			source = "blank.adf"
		default:
			cobra.CheckErr(fmt.Errorf("unknown format %q (want 35dd, 35hd or adf)", blankFormat))
		}

		data, err := images.GetImage(source)
		if err != nil {
			cobra.CheckErr(err)
		}
		if err := os.WriteFile(args[0], data, 0644); err != nil {
			cobra.CheckErr(fmt.Errorf("failed to write %s: %w", args[0], err))
		}
		fmt.Printf("Created blank %s image at %s (%d bytes)\n", blankFormat, args[0], len(data))
	},
}

func init() {
	blankCmd.Flags().StringVar(&blankFormat, "format", "35dd", "blank image geometry (35dd, 35hd, adf)")
	rootCmd.AddCommand(blankCmd)
}
