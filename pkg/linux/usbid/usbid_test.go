//go:build linux

package usbid

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

const sampleIDs = `# USB ID Database
# Comment line

0781  SanDisk Corp.
	5567  Cruzer Blade
	5581  Ultra
abcd  Test Vendor Two
	def0  Test Product Three

# List of known device classes, subclasses and protocols
C 03  Human Interface Device
	01  Boot Interface Subclass
		01  Keyboard
C 08  Mass Storage
	06  SCSI
		50  Bulk-Only
	05  SFF-8070i

# List of HID Usages
HUT 00  Undefined
	000  Undefined
`

func writeIDs(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "usb.ids")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// TestNew verifies that New() searches the default paths.
func TestNew(t *testing.T) {
	db := New()
	if len(db.paths) != len(DefaultPaths) {
		t.Errorf("len(paths) = %d, want %d", len(db.paths), len(DefaultPaths))
	}
}

// TestLoad_FileNotFound verifies that Load() handles missing files gracefully.
func TestLoad_FileNotFound(t *testing.T) {
	db := NewWithPaths([]string{"/nonexistent/path/usb.ids"})
	if db.Load() {
		t.Error("Load() = true, want false when no file exists")
	}
	if db.IsLoaded() {
		t.Error("IsLoaded() = true after failed Load()")
	}
}

// TestLoad_FirstPathWins verifies that missing paths are skipped.
func TestLoad_FirstPathWins(t *testing.T) {
	path := writeIDs(t, sampleIDs)
	other := writeIDs(t, "0781  Other Name\n")

	db := NewWithPaths([]string{"/nonexistent/usb.ids", path, other})
	if !db.Load() {
		t.Fatal("Load() = false")
	}
	if got := db.LookupVendor(0x0781); got != "SanDisk Corp." {
		t.Errorf("LookupVendor(0x0781) = %q, want %q", got, "SanDisk Corp.")
	}
}

// TestLoad_Concurrent verifies that concurrent loads parse the file once.
func TestLoad_Concurrent(t *testing.T) {
	db := NewWithPaths([]string{writeIDs(t, sampleIDs)})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !db.Load() {
				t.Error("Load() = false")
			}
			_ = db.LookupProduct(0x0781, 0x5567)
		}()
	}
	wg.Wait()

	if got := db.VendorCount(); got != 2 {
		t.Errorf("VendorCount() = %d, want 2", got)
	}
	if got := db.ProductCount(); got != 3 {
		t.Errorf("ProductCount() = %d, want 3", got)
	}
}

// TestParse verifies vendor and product lookups.
func TestParse(t *testing.T) {
	db := NewWithPaths(nil)
	db.Parse(strings.NewReader(sampleIDs))

	tests := []struct {
		name        string
		vid, pid    uint16
		wantVendor  string
		wantProduct string
	}{
		{"first product", 0x0781, 0x5567, "SanDisk Corp.", "Cruzer Blade"},
		{"second product", 0x0781, 0x5581, "SanDisk Corp.", "Ultra"},
		{"second vendor", 0xabcd, 0xdef0, "Test Vendor Two", "Test Product Three"},
		{"unknown vendor", 0xffff, 0x0000, "", ""},
		{"unknown product", 0x0781, 0xffff, "SanDisk Corp.", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := db.LookupVendor(tt.vid); got != tt.wantVendor {
				t.Errorf("LookupVendor(0x%04x) = %q, want %q", tt.vid, got, tt.wantVendor)
			}
			if got := db.LookupProduct(tt.vid, tt.pid); got != tt.wantProduct {
				t.Errorf("LookupProduct(0x%04x, 0x%04x) = %q, want %q", tt.vid, tt.pid, got, tt.wantProduct)
			}
		})
	}
}

// TestLookupClass verifies class, subclass and protocol names.
func TestLookupClass(t *testing.T) {
	db := NewWithPaths(nil)
	db.Parse(strings.NewReader(sampleIDs))

	tests := []struct {
		class, sub, proto uint8
		want              string
	}{
		{0x08, 0x06, 0x50, "Mass Storage / SCSI / Bulk-Only"},
		{0x08, 0x05, 0x50, "Mass Storage / SFF-8070i"},
		{0x08, 0x02, 0x00, "Mass Storage"},
		{0x03, 0x01, 0x01, "Human Interface Device / Boot Interface Subclass / Keyboard"},
		{0xff, 0x00, 0x00, ""},
	}

	for _, tt := range tests {
		if got := db.LookupClass(tt.class, tt.sub, tt.proto); got != tt.want {
			t.Errorf("LookupClass(%02x, %02x, %02x) = %q, want %q", tt.class, tt.sub, tt.proto, got, tt.want)
		}
	}
}

// TestMalformedLines verifies that malformed lines are skipped gracefully.
func TestMalformedLines(t *testing.T) {
	content := `1234  Valid Vendor
	5678  Valid Product
ZZZZ  Invalid VID (non-hex)
	YYYY  Invalid PID (non-hex)
12    Too short
	34    Too short
1234Valid Vendor No Space
	5678Valid Product No Space
9abc  Another Valid Vendor
	def0  Another Valid Product
`
	db := NewWithPaths(nil)
	db.Parse(strings.NewReader(content))

	if got := db.VendorCount(); got != 2 {
		t.Errorf("VendorCount() = %d, want 2", got)
	}
	if got := db.ProductCount(); got != 2 {
		t.Errorf("ProductCount() = %d, want 2", got)
	}
	if got := db.LookupProduct(0x9abc, 0xdef0); got != "Another Valid Product" {
		t.Errorf("LookupProduct(0x9abc, 0xdef0) = %q, want %q", got, "Another Valid Product")
	}
}
