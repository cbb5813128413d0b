//go:build linux

package usbid

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultPaths lists the standard locations for the USB ID database.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// Database caches vendor, product and class names from the USB ID database.
type Database struct {
	vendors  *xsync.MapOf[uint16, string] // VID
	products *xsync.MapOf[uint32, string] // VID<<16 | PID
	classes  *xsync.MapOf[uint32, string] // class<<16 | subclass<<8 | protocol, see classKey

	once  sync.Once
	found bool
	paths []string
}

// New creates a database that searches the default paths.
func New() *Database {
	return NewWithPaths(DefaultPaths)
}

// NewWithPaths creates a database that searches paths in order.
func NewWithPaths(paths []string) *Database {
	return &Database{
		vendors:  xsync.NewMapOf[uint16, string](),
		products: xsync.NewMapOf[uint32, string](),
		classes:  xsync.NewMapOf[uint32, string](),
		paths:    paths,
	}
}

// Load parses the first database file found. Only the first call reads a
// file; later calls report the same result.
//
// Returns false if no database file could be found.
func (db *Database) Load() bool {
	db.once.Do(func() {
		for _, path := range db.paths {
			file, err := os.Open(path)
			if err != nil {
				continue
			}
			db.Parse(file)
			_ = file.Close()
			db.found = true
			return
		}
	})
	return db.found
}

// IsLoaded reports whether Load found a database file.
func (db *Database) IsLoaded() bool {
	return db.Load()
}

// section tracks which top-level block of usb.ids the parser is in.
type section uint8

const (
	sectionNone section = iota
	sectionVendor
	sectionClass
)

// Parse reads entries in the usb.ids format from r. Vendor lines hold a
// 4-digit hex ID followed by two spaces; product lines are the same behind
// one tab. Class blocks start with "C xx" and nest subclasses and protocols
// behind one and two tabs. Other blocks are skipped.
func (db *Database) Parse(r io.Reader) {
	scanner := bufio.NewScanner(r)
	var (
		sec      section
		vid      uint16
		class    uint8
		subclass uint8
	)

	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		depth := 0
		for depth < len(line) && line[depth] == '\t' {
			depth++
		}
		line = line[depth:]

		switch {
		case depth == 0 && strings.HasPrefix(line, "C "):
			id, name, ok := splitEntry(line[2:], 2)
			if !ok {
				sec = sectionNone
				continue
			}
			sec, class = sectionClass, uint8(id)
			db.classes.Store(classKey(class, 0, 0, 1), name)

		case depth == 0:
			id, name, ok := splitEntry(line, 4)
			if !ok {
				sec = sectionNone
				continue
			}
			sec, vid = sectionVendor, uint16(id)
			db.vendors.Store(vid, name)

		case depth == 1 && sec == sectionVendor:
			if pid, name, ok := splitEntry(line, 4); ok {
				db.products.Store(uint32(vid)<<16|uint32(pid), name)
			}

		case depth == 1 && sec == sectionClass:
			if id, name, ok := splitEntry(line, 2); ok {
				subclass = uint8(id)
				db.classes.Store(classKey(class, subclass, 0, 2), name)
			}

		case depth == 2 && sec == sectionClass:
			if id, name, ok := splitEntry(line, 2); ok {
				db.classes.Store(classKey(class, subclass, uint8(id), 3), name)
			}
		}
	}
}

// splitEntry parses "<hex id>  <name>" where the ID has the given width.
func splitEntry(line string, width int) (uint64, string, bool) {
	if len(line) <= width+1 || line[width] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(line[:width], 16, width*4)
	if err != nil {
		return 0, "", false
	}
	name := strings.TrimLeft(line[width:], " ")
	return id, name, name != ""
}

// classKey packs a class path; level distinguishes a class entry from
// subclass 0 or protocol 0 of the same class.
func classKey(class, subclass, protocol, level uint8) uint32 {
	return uint32(level)<<24 | uint32(class)<<16 | uint32(subclass)<<8 | uint32(protocol)
}

// LookupVendor returns the vendor name for vid, or "" if unknown.
func (db *Database) LookupVendor(vid uint16) string {
	name, _ := db.vendors.Load(vid)
	return name
}

// LookupProduct returns the product name for vid and pid, or "" if unknown.
func (db *Database) LookupProduct(vid, pid uint16) string {
	name, _ := db.products.Load(uint32(vid)<<16 | uint32(pid))
	return name
}

// LookupClass returns the most specific known names for an interface class
// triple, joined with " / ", or "" if the class is unknown.
func (db *Database) LookupClass(class, subclass, protocol uint8) string {
	name, ok := db.classes.Load(classKey(class, 0, 0, 1))
	if !ok {
		return ""
	}
	if sub, ok := db.classes.Load(classKey(class, subclass, 0, 2)); ok {
		name += " / " + sub
		if proto, ok := db.classes.Load(classKey(class, subclass, protocol, 3)); ok {
			name += " / " + proto
		}
	}
	return name
}

// VendorCount returns the number of vendors in the database.
func (db *Database) VendorCount() int { return db.vendors.Size() }

// ProductCount returns the number of products in the database.
func (db *Database) ProductCount() int { return db.products.Size() }
