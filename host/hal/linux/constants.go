package linux

import "time"

// =============================================================================
// System Paths
// =============================================================================

// SysfsUSBPath is the base path for USB devices in sysfs.
const SysfsUSBPath = "/sys/bus/usb/devices"

// DevfsUSBPath is the base path for USB device nodes.
const DevfsUSBPath = "/dev/bus/usb"

// DevfsPathMaxLen is the maximum length of a devfs path.
const DevfsPathMaxLen = 64

// =============================================================================
// Transfer Limits
// =============================================================================

// MaxControlTransferSize is the maximum size for control transfer data phase.
const MaxControlTransferSize = 4096

// MaxDescriptorsSize bounds the cached descriptors read from a device node.
const MaxDescriptorsSize = 65536

// DefaultControlTimeout bounds control transfers whose context carries no
// deadline.
const DefaultControlTimeout = 5 * time.Second

// MaxInterfacesPerDevice is the maximum number of interfaces per device.
const MaxInterfacesPerDevice = 32

// =============================================================================
// Kernel Driver Names
// =============================================================================

// usbfsDriver is the name reported by GETDRIVER for interfaces claimed
// through usbfs.
const usbfsDriver = "usbfs"

// driverNameLen is the size of the driver name buffer in
// struct usbdevfs_getdriver.
const driverNameLen = 256
