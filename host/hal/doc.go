// Package hal defines the physical transport interfaces beneath the host
// stack.
//
// The host stack implements all USB protocol logic, leaving the HAL to
// handle only moving bytes over a pipe:
//
//   - [Transport] performs one bulk transfer per call, bounded by the
//     context deadline
//   - [ControlTransferer] reaches the default control pipe for descriptor
//     retrieval
//   - [Claimer] and [HaltClearer] are optional capabilities for platforms
//     that arbitrate interface ownership with a kernel
//
// # Implementing a HAL
//
//	type MyTransport struct {
//	    // Platform-specific fields
//	}
//
//	func (t *MyTransport) BulkTransfer(ctx context.Context, ep uint8, data []byte) (int, error) {
//	    // Submit the transfer, honoring ctx.Deadline()
//	    return 0, nil
//	}
//
// A Linux usbfs implementation is available in
// [github.com/ardnew/usbstream/host/hal/linux]. The
// [github.com/ardnew/usbstream/host/hal/fifo] package carries the same
// interfaces to an emulated device in another process.
package hal
