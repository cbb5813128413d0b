// Package mbr parses the classic master boot record partition table found
// in block 0 of most removable media.
package mbr

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ardnew/usbstream/blockdev"
)

// Layout of the boot sector.
const (
	SectorSize      = 512
	TableOffset     = 446
	EntrySize       = 16
	EntryCount      = 4
	SignatureOffset = 510
	Signature       = 0xAA55 // little-endian 0x55, 0xAA
)

// Status values.
const (
	StatusInactive = 0x00
	StatusActive   = 0x80
)

// Common partition types.
const (
	TypeEmpty     = 0x00
	TypeFAT12     = 0x01
	TypeFAT16     = 0x06
	TypeNTFS      = 0x07
	TypeFAT32CHS  = 0x0B
	TypeFAT32LBA  = 0x0C
	TypeFAT16LBA  = 0x0E
	TypeExtended  = 0x0F
	TypeLinux     = 0x83
	TypeGPTGuard  = 0xEE
	TypeEFISystem = 0xEF
)

// Partition table errors.
var (
	// ErrNoSignature indicates the sector does not end in 0x55 0xAA.
	ErrNoSignature = errors.New("mbr: missing boot signature")

	// ErrShortSector indicates a buffer smaller than one sector.
	ErrShortSector = errors.New("mbr: sector too short")

	// ErrNoPartition indicates an empty entry or a number outside 1-4.
	ErrNoPartition = errors.New("mbr: no such partition")

	// ErrPartitionRange indicates a partition extending past the device.
	ErrPartitionRange = errors.New("mbr: partition exceeds device")

	// ErrProtectiveMBR indicates a GPT protective entry.
	ErrProtectiveMBR = errors.New("mbr: protective MBR, disk uses GPT")
)

// Partition is one primary partition table entry.
type Partition struct {
	Status   uint8
	Type     uint8
	FirstLBA uint32
	Sectors  uint32
}

// Empty reports whether the entry is unused.
func (p Partition) Empty() bool { return p.Type == TypeEmpty || p.Sectors == 0 }

// Active reports whether the bootable flag is set.
func (p Partition) Active() bool { return p.Status&StatusActive != 0 }

// Offset returns the byte offset of the partition on a device with the
// given block size.
func (p Partition) Offset(blockSize int) int64 {
	return int64(p.FirstLBA) * int64(blockSize)
}

// Size returns the partition length in bytes.
func (p Partition) Size(blockSize int) int64 {
	return int64(p.Sectors) * int64(blockSize)
}

// TypeName returns a short description of the partition type.
func (p Partition) TypeName() string {
	switch p.Type {
	case TypeEmpty:
		return "empty"
	case TypeFAT12:
		return "FAT12"
	case TypeFAT16, TypeFAT16LBA:
		return "FAT16"
	case TypeNTFS:
		return "NTFS/exFAT"
	case TypeFAT32CHS, TypeFAT32LBA:
		return "FAT32"
	case TypeExtended:
		return "extended"
	case TypeLinux:
		return "Linux"
	case TypeGPTGuard:
		return "GPT protective"
	case TypeEFISystem:
		return "EFI system"
	default:
		return fmt.Sprintf("type %#02x", p.Type)
	}
}

// Table is a parsed partition table.
type Table struct {
	DiskID     uint32
	Partitions [EntryCount]Partition
}

// Parse decodes the partition table in a boot sector.
func Parse(sector []byte) (*Table, error) {
	if len(sector) < SectorSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortSector, len(sector))
	}
	if binary.LittleEndian.Uint16(sector[SignatureOffset:]) != Signature {
		return nil, ErrNoSignature
	}

	t := &Table{DiskID: binary.LittleEndian.Uint32(sector[440:444])}
	for i := range t.Partitions {
		e := sector[TableOffset+i*EntrySize:]
		t.Partitions[i] = Partition{
			Status:   e[0],
			Type:     e[4],
			FirstLBA: binary.LittleEndian.Uint32(e[8:12]),
			Sectors:  binary.LittleEndian.Uint32(e[12:16]),
		}
	}
	return t, nil
}

// Read reads and parses block 0 of dev. Devices with blocks larger than a
// sector keep the table in the first 512 bytes.
func Read(dev blockdev.Device) (*Table, error) {
	bs := dev.BlockSize()
	if bs < SectorSize {
		return nil, fmt.Errorf("%w: block size %d", ErrShortSector, bs)
	}
	buf := make([]byte, bs)
	if _, err := dev.ReadBlock(0, buf); err != nil {
		return nil, fmt.Errorf("read boot sector: %w", err)
	}
	return Parse(buf)
}

// MarshalTo writes the table and signature into a boot sector, leaving the
// boot code area untouched.
func (t *Table) MarshalTo(sector []byte) error {
	if len(sector) < SectorSize {
		return fmt.Errorf("%w: %d bytes", ErrShortSector, len(sector))
	}
	binary.LittleEndian.PutUint32(sector[440:444], t.DiskID)
	for i, p := range t.Partitions {
		e := sector[TableOffset+i*EntrySize : TableOffset+(i+1)*EntrySize]
		clear(e)
		e[0] = p.Status
		e[4] = p.Type
		binary.LittleEndian.PutUint32(e[8:12], p.FirstLBA)
		binary.LittleEndian.PutUint32(e[12:16], p.Sectors)
	}
	binary.LittleEndian.PutUint16(sector[SignatureOffset:], Signature)
	return nil
}

// Partition returns the 1-based partition n. It fails for empty entries,
// protective GPT entries, and entries extending past blocks when blocks is
// non-zero.
func (t *Table) Partition(n int, blocks uint64) (Partition, error) {
	if n < 1 || n > EntryCount {
		return Partition{}, fmt.Errorf("%w: %d", ErrNoPartition, n)
	}
	p := t.Partitions[n-1]
	switch {
	case p.Empty():
		return Partition{}, fmt.Errorf("%w: %d is empty", ErrNoPartition, n)
	case p.Type == TypeGPTGuard:
		return Partition{}, ErrProtectiveMBR
	case blocks != 0 && uint64(p.FirstLBA)+uint64(p.Sectors) > blocks:
		return Partition{}, fmt.Errorf("%w: %d ends at block %d of %d",
			ErrPartitionRange, n, uint64(p.FirstLBA)+uint64(p.Sectors), blocks)
	}
	return p, nil
}
