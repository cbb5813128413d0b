// Package msc implements the host side of the USB Mass Storage Class
// Bulk-Only Transport with the SCSI transparent command set.
//
// A [Client] wraps a bulk duplex channel and exposes the logical unit as a
// [blockdev.Device]:
//
//	read, write, err := host.FindDuplexPair(tree, host.MassStorageBulkOnly)
//	ch, err := host.NewDuplexChannel(transport, read, write)
//	c, err := msc.New(ch)
//	if err := c.Init(); err != nil { ... }
//	s, err := stream.New(c, 0)
//
// Each command is one CBW transfer, an optional data phase, and one CSW
// transfer. A CSW reporting failure is followed by REQUEST SENSE and
// surfaces as a [*CommandError].
package msc
