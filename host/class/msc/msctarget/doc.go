// Package msctarget simulates a USB flash drive: a Bulk-Only Transport
// mass-storage device answering SCSI commands from a block device.
//
// A [Target] implements the host-side transport interfaces of package hal,
// so the locator, the duplex channel and the msc client can be exercised
// end to end without hardware:
//
//	t, err := msctarget.New(blockdev.NewMemory(512, 2048))
//	tree := t.DescriptorTree()
//	read, write, err := host.FindDuplexPair(tree, host.MassStorageBulkOnly)
//	ch, err := host.NewDuplexChannel(t, read, write)
//
// Faults can be injected with [Target.Inject] to provoke stalls, protocol
// violations, medium errors and unresponsive pipes.
package msctarget
