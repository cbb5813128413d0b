package msc

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/usbstream/pkg"
)

// CommandBlockWrapper represents a Command Block Wrapper in Bulk-Only Transport.
type CommandBlockWrapper struct {
	Signature          uint32   // Must be CBWSignature (0x43425355)
	Tag                uint32   // Command block tag, echoed by the CSW
	DataTransferLength uint32   // Number of bytes to transfer in data phase
	Flags              uint8    // Direction flag (bit 7: 0=Out, 1=In)
	LUN                uint8    // Logical Unit Number (bits 0-3)
	CBLength           uint8    // Command block length (1-16)
	CB                 [16]byte // Command block (SCSI CDB)
}

// NewCBW builds a wrapper for cdb. dataIn selects the data phase direction.
func NewCBW(tag uint32, lun uint8, cdb []byte, length uint32, dataIn bool) *CommandBlockWrapper {
	cbw := &CommandBlockWrapper{
		Signature:          CBWSignature,
		Tag:                tag,
		DataTransferLength: length,
		LUN:                lun & 0x0F,
	}
	if dataIn {
		cbw.Flags = CBWFlagDataIn
	}
	cbw.CBLength = uint8(copy(cbw.CB[:], cdb))
	return cbw
}

// ParseCBW parses a Command Block Wrapper from raw bytes.
func ParseCBW(data []byte) (CommandBlockWrapper, error) {
	var cbw CommandBlockWrapper
	if len(data) != CBWSize {
		return cbw, fmt.Errorf("%w: CBW length %d", pkg.ErrProtocol, len(data))
	}
	cbw.Signature = binary.LittleEndian.Uint32(data[0:4])
	if cbw.Signature != CBWSignature {
		return cbw, fmt.Errorf("%w: CBW signature %#08x", pkg.ErrProtocol, cbw.Signature)
	}
	cbw.Tag = binary.LittleEndian.Uint32(data[4:8])
	cbw.DataTransferLength = binary.LittleEndian.Uint32(data[8:12])
	cbw.Flags = data[12]
	cbw.LUN = data[13] & 0x0F
	cbw.CBLength = data[14] & 0x1F
	copy(cbw.CB[:], data[15:31])
	return cbw, nil
}

// MarshalTo writes the wrapper to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (cbw *CommandBlockWrapper) MarshalTo(buf []byte) int {
	if len(buf) < CBWSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], cbw.Signature)
	binary.LittleEndian.PutUint32(buf[4:8], cbw.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], cbw.DataTransferLength)
	buf[12] = cbw.Flags
	buf[13] = cbw.LUN & 0x0F
	buf[14] = cbw.CBLength & 0x1F
	copy(buf[15:31], cbw.CB[:])
	return CBWSize
}

// IsDataIn returns true if the data phase is device-to-host (IN).
func (cbw *CommandBlockWrapper) IsDataIn() bool {
	return cbw.Flags&CBWFlagDataIn != 0
}

// Opcode returns the SCSI operation code.
func (cbw *CommandBlockWrapper) Opcode() byte {
	return cbw.CB[0]
}

// CommandStatusWrapper represents a Command Status Wrapper in Bulk-Only Transport.
type CommandStatusWrapper struct {
	Signature   uint32 // Must be CSWSignature (0x53425355)
	Tag         uint32 // Must match the CBW tag
	DataResidue uint32 // Difference between expected and actual data transfer
	Status      uint8  // Command status (CSWStatus*)
}

// NewCSW creates a new Command Status Wrapper with the given parameters.
func NewCSW(tag uint32, residue uint32, status uint8) *CommandStatusWrapper {
	return &CommandStatusWrapper{
		Signature:   CSWSignature,
		Tag:         tag,
		DataResidue: residue,
		Status:      status,
	}
}

// ParseCSW parses a Command Status Wrapper, validating its length and
// signature.
func ParseCSW(data []byte) (CommandStatusWrapper, error) {
	var csw CommandStatusWrapper
	if len(data) != CSWSize {
		return csw, fmt.Errorf("%w: CSW length %d", pkg.ErrProtocol, len(data))
	}
	csw.Signature = binary.LittleEndian.Uint32(data[0:4])
	if csw.Signature != CSWSignature {
		return csw, fmt.Errorf("%w: CSW signature %#08x", pkg.ErrProtocol, csw.Signature)
	}
	csw.Tag = binary.LittleEndian.Uint32(data[4:8])
	csw.DataResidue = binary.LittleEndian.Uint32(data[8:12])
	csw.Status = data[12]
	return csw, nil
}

// MarshalTo writes the Command Status Wrapper to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (csw *CommandStatusWrapper) MarshalTo(buf []byte) int {
	if len(buf) < CSWSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], csw.Signature)
	binary.LittleEndian.PutUint32(buf[4:8], csw.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], csw.DataResidue)
	buf[12] = csw.Status
	return CSWSize
}
