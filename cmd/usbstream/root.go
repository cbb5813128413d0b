package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ardnew/usbstream/host"
	"github.com/ardnew/usbstream/host/class/msc"
	"github.com/ardnew/usbstream/pkg"
	"github.com/ardnew/usbstream/pkg/prof"
)

// globalFlags holds the persistent flags shared by every command.
type globalFlags struct {
	logLevel  string
	logFormat string
	logFile   string

	timeout   time.Duration
	image     string
	blockSize int
	fifo      string
	bus       uint8
	dev       uint8
	lun       uint8
	partition int

	profile prof.Config
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "usbstream",
		Short: "Byte-stream access to USB mass-storage devices",
		Long: `usbstream talks Bulk-Only Transport to a USB mass-storage device through
Linux usbfs and exposes it as a seekable byte stream. A disk image given with
--image stands in for the device.

The device is chosen with --bus and --dev; without them, the only attached
mass-storage device is used. --fifo reaches an emulated device run by the
serve command in another process instead.`,
		SilenceUsage:      true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if err := g.setupLogging(); err != nil {
				return err
			}
			return prof.Start(g.profile)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.logLevel, "log-level", "warn", "log level: debug|info|warn|error")
	pf.StringVar(&g.logFormat, "log-format", "text", "log format: text|json|console")
	pf.StringVar(&g.logFile, "log-file", "", "write logs to a rotated file instead of stderr")
	pf.DurationVar(&g.timeout, "timeout", host.DefaultTimeout, "per-transfer timeout")
	pf.StringVar(&g.image, "image", "", "use a disk image instead of a USB device")
	pf.IntVar(&g.blockSize, "block-size", msc.DefaultBlockSize, "block size of --image")
	pf.StringVar(&g.fifo, "fifo", "", "use the emulated device served in this FIFO directory")
	pf.Uint8Var(&g.bus, "bus", 0, "USB bus number")
	pf.Uint8Var(&g.dev, "dev", 0, "USB device address")
	pf.Uint8Var(&g.lun, "lun", 0, "logical unit number")
	pf.IntVar(&g.partition, "partition", 0, "MBR partition (1-4) to use as stream origin; 0 for the whole device")
	pf.StringVar(&g.profile.CPUPath, "cpu-profile", "", "write a CPU profile (requires -tags profile)")
	pf.StringVar(&g.profile.HeapPath, "heap-profile", "", "write a heap profile on exit (requires -tags profile)")
	pf.StringVar(&g.profile.BlockPath, "block-profile", "", "write a block profile on exit (requires -tags profile)")
	pf.StringVar(&g.profile.Listen, "pprof-listen", "", "serve /debug/pprof/ on this address (requires -tags profile)")

	root.AddCommand(
		newListCmd(g),
		newInfoCmd(g),
		newMBRCmd(g),
		newReadCmd(g),
		newWriteCmd(g),
		newServeCmd(g),
	)
	return root
}

func (g *globalFlags) setupLogging() error {
	level, err := pkg.ParseLogLevel(g.logLevel)
	if err != nil {
		return err
	}
	format, err := pkg.ParseLogFormat(g.logFormat)
	if err != nil {
		return err
	}
	pkg.SetLogLevel(level)
	pkg.SetLogFormat(format)

	if g.logFile != "" {
		pkg.SetLogOutput(&lumberjack.Logger{
			Filename:   g.logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	} else {
		pkg.SetLogOutput(os.Stderr)
	}
	return nil
}

func (g *globalFlags) validate() error {
	if g.image != "" && (g.bus != 0 || g.dev != 0) {
		return fmt.Errorf("%w: --image excludes --bus and --dev", pkg.ErrInvalidParameter)
	}
	if g.fifo != "" && (g.image != "" || g.bus != 0 || g.dev != 0) {
		return fmt.Errorf("%w: --fifo excludes --image, --bus and --dev", pkg.ErrInvalidParameter)
	}
	if g.partition < 0 || g.partition > 4 {
		return fmt.Errorf("%w: --partition %d", pkg.ErrInvalidParameter, g.partition)
	}
	return nil
}
