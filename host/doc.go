// Package host implements the host side of a USB bulk storage link.
//
// It is platform-agnostic and moves bytes through the [hal.Transport]
// interface defined in the github.com/ardnew/usbstream/host/hal package.
//
// # Architecture
//
// The package is organized into three layers:
//
//   - Descriptor parsing builds a [DescriptorTree] from a raw descriptor
//     dump ([ParseDescriptorTree]) or from the default control pipe
//     ([ReadDescriptorTree])
//   - Endpoint discovery ([FindDuplexPair]) selects one read/write endpoint
//     pair from the first interface matching a [ClassTriple]
//   - [DuplexChannel] performs one ordered, timeout-bound transfer per call
//     over that pair
//
// # Example
//
//	tree, err := host.ParseDescriptorTree(raw)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	read, write, err := host.FindDuplexPair(tree, host.MassStorageBulkOnly)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ch, err := host.NewDuplexChannel(transport, read, write,
//	    host.WithTimeout(5*time.Second))
//
//	sink := pkg.NewTransferBuffer(13)
//	n, err := ch.InTransfer(sink)
//
// Block protocols built on a channel live under host/class.
package host
