package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/ardnew/usbstream/blockdev"
	"github.com/ardnew/usbstream/host/class/msc/msctarget"
	"github.com/ardnew/usbstream/host/hal/fifo"
	"github.com/ardnew/usbstream/pkg"
)

// dialRetry is the pause between attempts to reach a FIFO device that is
// between sessions.
const dialRetry = 20 * time.Millisecond

// dialFIFO connects to the device directory named by --fifo. A device
// still finishing another session is retried until the transfer timeout.
func (g *globalFlags) dialFIFO(ctx context.Context) (usbDevice, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	for {
		h, err := fifo.Dial(g.fifo)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, pkg.ErrNoDevice) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(dialRetry):
		}
	}
}

type serveFlags struct {
	busDir   string
	name     string
	readOnly bool
	once     bool
	vendor   string
	product  string
	revision string
	vid, pid uint16
}

func newServeCmd(g *globalFlags) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Emulate a mass-storage device backed by --image",
		Long: `serve exposes the disk image given with --image as a Bulk-Only mass-storage
device on a FIFO bus directory. Other processes reach it with --fifo pointing
at the device directory, <bus-dir>/device-<name>.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if g.image == "" {
				return fmt.Errorf("%w: serve requires --image", pkg.ErrInvalidParameter)
			}
			img, err := blockdev.OpenFile(g.image, g.blockSize, !f.readOnly)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, img.Close()) }()

			l, err := fifo.Listen(f.busDir, f.name)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			go func() {
				<-ctx.Done()
				_ = l.Close()
			}()
			defer func() { err = errors.Join(err, l.Close()) }()

			fmt.Fprintln(cmd.OutOrStdout(), l.Dir())
			return serveImage(ctx, l, img, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.busDir, "bus-dir", os.TempDir(), "directory holding device FIFO directories")
	fl.StringVar(&f.name, "name", fmt.Sprintf("%d", os.Getpid()), "device name under the bus directory")
	fl.BoolVar(&f.readOnly, "read-only", false, "report the medium as write-protected")
	fl.BoolVar(&f.once, "once", false, "exit after the first session")
	fl.StringVar(&f.vendor, "vendor", "usbstrm", "INQUIRY vendor identification")
	fl.StringVar(&f.product, "product", "Image Disk", "INQUIRY product identification")
	fl.StringVar(&f.revision, "revision", "1.00", "INQUIRY product revision")
	fl.Uint16Var(&f.vid, "vid", 0x1d6b, "USB vendor ID")
	fl.Uint16Var(&f.pid, "pid", 0x0104, "USB product ID")
	return cmd
}

// serveImage accepts sessions until the listener closes. Each session gets
// a fresh target so a host that vanished mid-command leaves no state behind.
func serveImage(ctx context.Context, l *fifo.Listener, img msctarget.Store, f *serveFlags) error {
	opts := []msctarget.Option{
		msctarget.WithIdentity(f.vendor, f.product, f.revision),
		msctarget.WithUSBIDs(f.vid, f.pid),
	}
	if f.readOnly {
		opts = append(opts, msctarget.WithReadOnly())
	}
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, fifo.ErrListenerClosed) {
				return nil
			}
			return err
		}
		tgt, err := msctarget.New(img, opts...)
		if err != nil {
			return errors.Join(err, conn.Close())
		}
		pkg.LogInfo(pkg.ComponentCLI, "session started", "dir", l.Dir())
		err = fifo.Serve(ctx, conn, tgt)
		pkg.LogInfo(pkg.ComponentCLI, "session ended", "dir", l.Dir(), "commands", tgt.Commands(), "error", err)
		if err := errors.Join(tgt.Close(), conn.Close()); err != nil {
			pkg.LogWarn(pkg.ComponentCLI, "session cleanup failed", "error", err)
		}
		if f.once || ctx.Err() != nil {
			return nil
		}
	}
}
