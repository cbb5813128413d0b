package msc

// Mass Storage Class codes.
const (
	ClassMSC         = 0x08 // Mass Storage Class
	SubclassSCSI     = 0x06 // SCSI Transparent Command Set
	ProtocolBulkOnly = 0x50 // Bulk-Only Transport (BOT)
)

// Bulk-Only Transport class request codes.
const (
	RequestBulkOnlyMassStorageReset = 0xFF // Reset the MSC device
	RequestGetMaxLUN                = 0xFE // Get maximum Logical Unit Number
)

// Command Block Wrapper (CBW) constants.
const (
	CBWSignature   = 0x43425355 // "USBC" signature
	CBWSize        = 31         // Fixed CBW size in bytes
	CBWFlagDataOut = 0x00       // Data transfer: host to device
	CBWFlagDataIn  = 0x80       // Data transfer: device to host
	MaxCDBLength   = 16         // Largest command block a CBW can carry
)

// Command Status Wrapper (CSW) constants.
const (
	CSWSignature        = 0x53425355 // "USBS" signature
	CSWSize             = 13         // Fixed CSW size in bytes
	CSWStatusGood       = 0x00       // Command passed
	CSWStatusFailed     = 0x01       // Command failed
	CSWStatusPhaseError = 0x02       // Phase error occurred
)

// SCSI operation codes used by the block client.
const (
	SCSITestUnitReady      = 0x00 // Test if unit is ready
	SCSIRequestSense       = 0x03 // Request sense data
	SCSIInquiry            = 0x12 // Get device information
	SCSIReadCapacity10     = 0x25 // Read capacity (10-byte)
	SCSIRead10             = 0x28 // Read blocks (10-byte)
	SCSIWrite10            = 0x2A // Write blocks (10-byte)
	SCSISynchronizeCache10 = 0x35 // Synchronize cache (10-byte)
)

// SCSI sense keys.
const (
	SenseNoSense        = 0x00 // No error
	SenseRecoveredError = 0x01 // Recovered error
	SenseNotReady       = 0x02 // Device not ready
	SenseMediumError    = 0x03 // Medium error
	SenseHardwareError  = 0x04 // Hardware error
	SenseIllegalRequest = 0x05 // Illegal request
	SenseUnitAttention  = 0x06 // Unit attention
	SenseDataProtect    = 0x07 // Data protect
	SenseAbortedCommand = 0x0B // Aborted command
)

// Additional Sense Codes (ASC).
const (
	ASCNoAdditionalInfo      = 0x00 // No additional sense information
	ASCUnrecoveredReadError  = 0x11 // Unrecovered read error
	ASCInvalidCommand        = 0x20 // Invalid command operation code
	ASCLBAOutOfRange         = 0x21 // Logical block address out of range
	ASCInvalidFieldInCDB     = 0x24 // Invalid field in CDB
	ASCLUNNotSupported       = 0x25 // Logical unit not supported
	ASCWriteProtected        = 0x27 // Write protected
	ASCNotReadyToReadyChange = 0x28 // Not ready to ready change
	ASCMediumNotPresent      = 0x3A // Medium not present
)

// SCSI peripheral device types.
const (
	DeviceTypeDisk  = 0x00 // Direct access block device (disk)
	DeviceTypeCDROM = 0x05 // CD-ROM device
)

// Response sizes.
const (
	InquiryStandardSize = 36 // Standard INQUIRY data length
	ReadCapacity10Size  = 8  // READ CAPACITY (10) parameter data length
	SenseFixedSize      = 18 // Fixed-format sense data length
)

// INQUIRY flags.
const (
	InquiryRMB                = 0x80 // Removable media bit
	InquiryVersionSPC4        = 0x06 // SPC-4 version
	InquiryResponseFormatSPC  = 0x02 // SPC-compliant response format
	SenseResponseCodeCurrent  = 0x70 // Current errors, fixed format
	SenseResponseCodeDeferred = 0x71 // Deferred errors, fixed format
)

// DefaultBlockSize is the logical block size of most disks.
const DefaultBlockSize = 512

// MaxTransferSize bounds the data phase of a single command (64 KiB).
const MaxTransferSize = 65536
