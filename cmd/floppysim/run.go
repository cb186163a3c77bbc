package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fluxcore/floppycore/clock"
	"github.com/fluxcore/floppycore/config"
	"github.com/fluxcore/floppycore/core"
	"github.com/fluxcore/floppycore/hostlink"
	"github.com/fluxcore/floppycore/image"
	"github.com/fluxcore/floppycore/mfm"

	"github.com/spf13/cobra"
)

var (
	runFixture string
	runCyl     int
	runSide    int
	runRevs    int
)

var runCmd = &cobra.Command{
	Use:   "run IMAGE",
	Short: "Mount an image and emulate the drive",
	Long: `Mount IMAGE and emulate the drive. Without --fixture, a scripted host
selects the drive, steps to the requested cylinder, reads for the
requested number of revolutions and reports what it recovered from the
read-data line. With --fixture, the emulation runs against a bench
fixture until interrupted.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		drive := config.Drive{
			Name:    config.DriveName,
			Cyls:    config.Cyls,
			Heads:   config.Heads,
			RPM:     config.RPM,
			MaxKBps: config.MaxKBps,
		}

		img, err := image.Open(image.Slot{Path: args[0]})
		if err != nil {
			cobra.CheckErr(err)
		}

		switch runFixture {
		case "":
			cobra.CheckErr(runScripted(drive, img, args[0]))
		case "serial":
			bridge, err := hostlink.FindFixture()
			cobra.CheckErr(err)
			defer bridge.Close()
			cobra.CheckErr(runAgainstFixture(drive, img, args[0], bridge))
		case "usb":
			bridge, err := hostlink.FindUSBFixture()
			cobra.CheckErr(err)
			defer bridge.Close()
			cobra.CheckErr(runAgainstFixture(drive, img, args[0], bridge))
		default:
			cobra.CheckErr(fmt.Errorf("unknown fixture type %q (want serial or usb)", runFixture))
		}
	},
}

// runScripted plays the host side itself: select, step to the target
// cylinder, read, and report the recovered bitstream.
func runScripted(drive config.Drive, img image.Image, path string) error {
	sim := hostlink.NewSim()
	c := core.New(clock.Real{}, drive, hostlink.PinSet(sim))
	c.OnRData = sim.DriveRData

	if err := c.Mount(img, image.Slot{Path: path}); err != nil {
		return err
	}
	defer c.Eject()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hostlink.Attach(ctx, c, sim)

	sim.Select(true)
	sim.SetSide(runSide)
	for i := 0; i < runCyl; i++ {
		sim.Step(false)
		time.Sleep(20 * time.Millisecond)
	}

	fmt.Printf("Reading cylinder %d, head %d for %d revolutions...\n", runCyl, runSide, runRevs)
	sim.ClearCaptured()
	time.Sleep(time.Duration(runRevs) * 60 * time.Second / time.Duration(drive.RPM))

	pulses := sim.Captured()
	decoded := sim.DecodeCaptured(uint16(drive.MaxKBps))
	sectors := mfm.NewReader(decoded).CountSectorsIBMPC()

	fmt.Printf("Captured %d flux transitions, recovered %d MFM bytes, %d IBM-PC sectors\n",
		len(pulses), len(decoded), sectors)
	return nil
}

// runAgainstFixture hands the cable to a real host and runs until
// interrupted.
func runAgainstFixture(drive config.Drive, img image.Image, path string, link hostlink.HostLink) error {
	c := core.New(clock.Real{}, drive, hostlink.PinSet(link))

	if err := c.Mount(img, image.Slot{Path: path}); err != nil {
		return err
	}
	defer c.Eject()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Emulating %q on the fixture, ^C to stop\n", path)
	hostlink.Attach(ctx, c, link)
	return nil
}

func init() {
	runCmd.Flags().StringVar(&runFixture, "fixture", "", "drive a bench fixture instead of the scripted host (serial or usb)")
	runCmd.Flags().IntVar(&runCyl, "cyl", 0, "cylinder the scripted host steps to")
	runCmd.Flags().IntVar(&runSide, "side", 0, "side the scripted host selects (0 or 1)")
	runCmd.Flags().IntVar(&runRevs, "revs", 2, "revolutions the scripted host reads")
	rootCmd.AddCommand(runCmd)
}
