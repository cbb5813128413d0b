package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ardnew/usbstream/blockdev"
	"github.com/ardnew/usbstream/pkg"
	"github.com/ardnew/usbstream/pkg/mbr"
	"github.com/ardnew/usbstream/stream"
)

func newListCmd(g *globalFlags) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List attached mass-storage devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listDevices(cmd.OutOrStdout(), all)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list every USB device")
	return cmd
}

func newInfoCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show identity and capacity of the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			t, err := g.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, t.Close()) }()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "target:\t%s\n", t.name)
			if id := t.identity; id != nil {
				fmt.Fprintf(w, "usb id:\t%04x:%04x\n", t.device.VendorID, t.device.ProductID)
				if s := strings.TrimSpace(t.strings.Manufacturer + " " + t.strings.Product); s != "" {
					fmt.Fprintf(w, "name:\t%s\n", s)
				}
				if t.strings.SerialNumber != "" {
					fmt.Fprintf(w, "serial:\t%s\n", t.strings.SerialNumber)
				}
				fmt.Fprintf(w, "vendor:\t%s\n", id.Vendor())
				fmt.Fprintf(w, "product:\t%s\n", id.Product())
				fmt.Fprintf(w, "revision:\t%s\n", id.Revision())
				fmt.Fprintf(w, "removable:\t%t\n", id.Removable())
				fmt.Fprintf(w, "max lun:\t%d\n", t.maxLUN)
			}
			fmt.Fprintf(w, "block size:\t%d\n", t.BlockSize())
			if size, ok := blockdev.Capacity(t.Device); ok {
				fmt.Fprintf(w, "blocks:\t%d\n", size/int64(t.BlockSize()))
				fmt.Fprintf(w, "capacity:\t%s (%d bytes)\n", humanize.IBytes(uint64(size)), size)
			}
			return w.Flush()
		},
	}
}

func newMBRCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mbr",
		Short: "Print the MBR partition table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			t, err := g.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, t.Close()) }()

			tbl, err := mbr.Read(t)
			if err != nil {
				return err
			}
			bs := t.BlockSize()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "disk id %08x\n", tbl.DiskID)

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tboot\ttype\tstart\tsectors\toffset\tsize")
			for i, p := range tbl.Partitions {
				if p.Empty() {
					continue
				}
				boot := ""
				if p.Active() {
					boot = "*"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%s\n", i+1, boot, p.TypeName(),
					p.FirstLBA, p.Sectors, p.Offset(bs), humanize.IBytes(uint64(p.Size(bs))))
			}
			return w.Flush()
		},
	}
}

func newReadCmd(g *globalFlags) *cobra.Command {
	var (
		offset int64
		length int64
		out    string
	)
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read bytes from the stream and hex dump them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if offset < 0 || length <= 0 {
				return fmt.Errorf("%w: offset %d length %d", pkg.ErrInvalidParameter, offset, length)
			}
			t, s, err := g.openStream(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, closeStream(s, t)) }()

			if _, err := s.Seek(offset, io.SeekStart); err != nil {
				return err
			}

			var w io.Writer
			if out != "" {
				f, ferr := os.Create(out)
				if ferr != nil {
					return ferr
				}
				defer func() { err = errors.Join(err, f.Close()) }()
				w = f
			} else {
				d := hex.Dumper(cmd.OutOrStdout())
				defer func() { err = errors.Join(err, d.Close()) }()
				w = d
			}

			n, err := io.CopyN(w, s, length)
			if errors.Is(err, io.EOF) {
				pkg.LogWarn(pkg.ComponentCLI, "end of device reached", "requested", length, "read", n)
				err = nil
			}
			return err
		},
	}
	f := cmd.Flags()
	f.Int64Var(&offset, "offset", 0, "stream offset to start reading at")
	f.Int64Var(&length, "length", 512, "number of bytes to read")
	f.StringVarP(&out, "output", "o", "", "write raw bytes to a file instead of a hex dump")
	return cmd
}

func newWriteCmd(g *globalFlags) *cobra.Command {
	var (
		offset int64
		data   string
		file   string
	)
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write bytes into the stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if offset < 0 {
				return fmt.Errorf("%w: offset %d", pkg.ErrInvalidParameter, offset)
			}
			var src io.Reader = strings.NewReader(data)
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}

			t, s, err := g.openStream(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, closeStream(s, t)) }()

			if _, err := s.Seek(offset, io.SeekStart); err != nil {
				return err
			}
			n, err := io.Copy(s, src)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s at offset %d\n", humanize.IBytes(uint64(n)), offset)
			return nil
		},
	}
	f := cmd.Flags()
	f.Int64Var(&offset, "offset", 0, "stream offset to start writing at")
	f.StringVar(&data, "data", "", "bytes to write")
	f.StringVar(&file, "file", "", "file whose contents to write")
	cmd.MarkFlagsMutuallyExclusive("data", "file")
	cmd.MarkFlagsOneRequired("data", "file")
	return cmd
}

// closeStream flushes and closes s, then closes t.
func closeStream(s *stream.Stream, t *target) error {
	return errors.Join(s.Close(), t.Close())
}
