package msc

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ardnew/usbstream/pkg"
)

// TestUnitReadyCDB returns a TEST UNIT READY command block.
func TestUnitReadyCDB() []byte {
	return make([]byte, 6)
}

// RequestSenseCDB returns a REQUEST SENSE command block asking for n bytes.
func RequestSenseCDB(n uint8) []byte {
	cdb := make([]byte, 6)
	cdb[0] = SCSIRequestSense
	cdb[4] = n
	return cdb
}

// InquiryCDB returns a standard INQUIRY command block asking for n bytes.
func InquiryCDB(n uint16) []byte {
	cdb := make([]byte, 6)
	cdb[0] = SCSIInquiry
	binary.BigEndian.PutUint16(cdb[3:5], n)
	return cdb
}

// ReadCapacity10CDB returns a READ CAPACITY (10) command block.
func ReadCapacity10CDB() []byte {
	cdb := make([]byte, 10)
	cdb[0] = SCSIReadCapacity10
	return cdb
}

// Read10CDB returns a READ (10) command block for count blocks at lba.
func Read10CDB(lba uint32, count uint16) []byte {
	return rw10(SCSIRead10, lba, count)
}

// Write10CDB returns a WRITE (10) command block for count blocks at lba.
func Write10CDB(lba uint32, count uint16) []byte {
	return rw10(SCSIWrite10, lba, count)
}

// SynchronizeCache10CDB returns a SYNCHRONIZE CACHE (10) command block
// covering the whole medium.
func SynchronizeCache10CDB() []byte {
	cdb := make([]byte, 10)
	cdb[0] = SCSISynchronizeCache10
	return cdb
}

func rw10(op byte, lba uint32, count uint16) []byte {
	cdb := make([]byte, 10)
	cdb[0] = op
	binary.BigEndian.PutUint32(cdb[2:6], lba)
	binary.BigEndian.PutUint16(cdb[7:9], count)
	return cdb
}

// DecodeRW10 extracts the LBA and transfer length of a READ/WRITE (10) CDB.
func DecodeRW10(cdb []byte) (lba uint32, count uint16) {
	return binary.BigEndian.Uint32(cdb[2:6]), binary.BigEndian.Uint16(cdb[7:9])
}

// InquiryResponse represents standard INQUIRY data.
type InquiryResponse struct {
	DeviceType       uint8    // Peripheral device type
	RMB              uint8    // Removable media bit (bit 7)
	Version          uint8    // SCSI version
	ResponseFormat   uint8    // Response data format
	AdditionalLength uint8    // Additional length (n-4)
	Flags            [3]uint8 // Various flags
	VendorID         [8]byte  // Vendor identification (ASCII)
	ProductID        [16]byte // Product identification (ASCII)
	ProductRev       [4]byte  // Product revision (ASCII)
}

// NewInquiryResponse creates a standard INQUIRY response.
func NewInquiryResponse(deviceType uint8, removable bool, vendor, product, revision string) *InquiryResponse {
	resp := &InquiryResponse{
		DeviceType:       deviceType,
		Version:          InquiryVersionSPC4,
		ResponseFormat:   InquiryResponseFormatSPC,
		AdditionalLength: InquiryStandardSize - 5,
	}
	if removable {
		resp.RMB = InquiryRMB
	}
	copy(resp.VendorID[:], padString(vendor, 8))
	copy(resp.ProductID[:], padString(product, 16))
	copy(resp.ProductRev[:], padString(revision, 4))
	return resp
}

// ParseInquiry decodes standard INQUIRY data.
func ParseInquiry(data []byte) (InquiryResponse, error) {
	var r InquiryResponse
	if len(data) < InquiryStandardSize {
		return r, fmt.Errorf("%w: INQUIRY data length %d", pkg.ErrProtocol, len(data))
	}
	r.DeviceType = data[0] & 0x1F
	r.RMB = data[1] & InquiryRMB
	r.Version = data[2]
	r.ResponseFormat = data[3] & 0x0F
	r.AdditionalLength = data[4]
	copy(r.Flags[:], data[5:8])
	copy(r.VendorID[:], data[8:16])
	copy(r.ProductID[:], data[16:32])
	copy(r.ProductRev[:], data[32:36])
	return r, nil
}

// MarshalTo writes the INQUIRY response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *InquiryResponse) MarshalTo(buf []byte) int {
	if len(buf) < InquiryStandardSize {
		return 0
	}
	buf[0] = r.DeviceType
	buf[1] = r.RMB
	buf[2] = r.Version
	buf[3] = r.ResponseFormat
	buf[4] = r.AdditionalLength
	copy(buf[5:8], r.Flags[:])
	copy(buf[8:16], r.VendorID[:])
	copy(buf[16:32], r.ProductID[:])
	copy(buf[32:36], r.ProductRev[:])
	return InquiryStandardSize
}

// Removable reports whether the medium is removable.
func (r InquiryResponse) Removable() bool { return r.RMB&InquiryRMB != 0 }

// Vendor returns the vendor identification without padding.
func (r InquiryResponse) Vendor() string { return trimField(r.VendorID[:]) }

// Product returns the product identification without padding.
func (r InquiryResponse) Product() string { return trimField(r.ProductID[:]) }

// Revision returns the product revision without padding.
func (r InquiryResponse) Revision() string { return trimField(r.ProductRev[:]) }

// ReadCapacity10Response represents READ CAPACITY (10) response.
type ReadCapacity10Response struct {
	LastLBA     uint32 // Last logical block address
	BlockLength uint32 // Block length in bytes
}

// ParseReadCapacity10 decodes READ CAPACITY (10) parameter data.
func ParseReadCapacity10(data []byte) (ReadCapacity10Response, error) {
	var r ReadCapacity10Response
	if len(data) < ReadCapacity10Size {
		return r, fmt.Errorf("%w: READ CAPACITY data length %d", pkg.ErrProtocol, len(data))
	}
	r.LastLBA = binary.BigEndian.Uint32(data[0:4])
	r.BlockLength = binary.BigEndian.Uint32(data[4:8])
	return r, nil
}

// MarshalTo writes the response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *ReadCapacity10Response) MarshalTo(buf []byte) int {
	if len(buf) < ReadCapacity10Size {
		return 0
	}
	binary.BigEndian.PutUint32(buf[0:4], r.LastLBA)
	binary.BigEndian.PutUint32(buf[4:8], r.BlockLength)
	return ReadCapacity10Size
}

// Blocks returns the number of addressable blocks.
func (r *ReadCapacity10Response) Blocks() uint64 { return uint64(r.LastLBA) + 1 }

// SenseData represents fixed-format REQUEST SENSE data.
type SenseData struct {
	ResponseCode     uint8  // Response code (0x70 = current, 0x71 = deferred)
	SenseKey         uint8  // Sense key (bits 0-3)
	Information      uint32 // Information field
	AdditionalLength uint8  // Additional sense length (n-7)
	ASC              uint8  // Additional sense code
	ASCQ             uint8  // Additional sense code qualifier
}

// NewSenseData creates current-error sense data.
func NewSenseData(key, asc, ascq uint8) SenseData {
	return SenseData{
		ResponseCode:     SenseResponseCodeCurrent,
		SenseKey:         key & 0x0F,
		AdditionalLength: SenseFixedSize - 8,
		ASC:              asc,
		ASCQ:             ascq,
	}
}

// ParseSense decodes fixed-format sense data.
func ParseSense(data []byte) (SenseData, error) {
	var s SenseData
	if len(data) < 14 {
		return s, fmt.Errorf("%w: sense data length %d", pkg.ErrProtocol, len(data))
	}
	s.ResponseCode = data[0] & 0x7F
	if s.ResponseCode != SenseResponseCodeCurrent && s.ResponseCode != SenseResponseCodeDeferred {
		return s, fmt.Errorf("%w: sense response code %#02x", pkg.ErrNotSupported, s.ResponseCode)
	}
	s.SenseKey = data[2] & 0x0F
	s.Information = binary.BigEndian.Uint32(data[3:7])
	s.AdditionalLength = data[7]
	s.ASC = data[12]
	s.ASCQ = data[13]
	return s, nil
}

// MarshalTo writes the sense data to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (s *SenseData) MarshalTo(buf []byte) int {
	if len(buf) < SenseFixedSize {
		return 0
	}
	clear(buf[:SenseFixedSize])
	buf[0] = s.ResponseCode
	buf[2] = s.SenseKey & 0x0F
	binary.BigEndian.PutUint32(buf[3:7], s.Information)
	buf[7] = s.AdditionalLength
	buf[12] = s.ASC
	buf[13] = s.ASCQ
	return SenseFixedSize
}

// String formats the sense key and additional codes.
func (s SenseData) String() string {
	return fmt.Sprintf("sense key %#02x (%s) asc %#02x ascq %#02x",
		s.SenseKey, senseKeyName(s.SenseKey), s.ASC, s.ASCQ)
}

func senseKeyName(key uint8) string {
	switch key {
	case SenseNoSense:
		return "no sense"
	case SenseRecoveredError:
		return "recovered error"
	case SenseNotReady:
		return "not ready"
	case SenseMediumError:
		return "medium error"
	case SenseHardwareError:
		return "hardware error"
	case SenseIllegalRequest:
		return "illegal request"
	case SenseUnitAttention:
		return "unit attention"
	case SenseDataProtect:
		return "data protect"
	case SenseAbortedCommand:
		return "aborted command"
	default:
		return "unknown"
	}
}

// padString pads or truncates a string to the specified length.
func padString(s string, length int) []byte {
	result := make([]byte, length)
	for i := range result {
		if i < len(s) {
			result[i] = s[i]
		} else {
			result[i] = ' '
		}
	}
	return result
}

func trimField(b []byte) string {
	return strings.TrimRight(string(b), " \x00")
}
