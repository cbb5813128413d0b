//go:build linux

// Package usbid looks up vendor, product and class names in the usb.ids
// database shipped with most Linux distributions.
//
// Load the database once; lookups return "" for unknown IDs or when no
// database file was found:
//
//	db := usbid.New()
//	db.Load()
//	vendor := db.LookupVendor(0x0781)
//	class := db.LookupClass(0x08, 0x06, 0x50) // "Mass Storage / SCSI / Bulk-Only"
//
// The searched locations are listed in [DefaultPaths]. All methods are safe
// for concurrent use.
package usbid
