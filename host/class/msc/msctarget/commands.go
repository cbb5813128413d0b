package msctarget

import (
	"github.com/ardnew/usbstream/blockdev"
	"github.com/ardnew/usbstream/host/class/msc"
	"github.com/ardnew/usbstream/pkg"
)

// handleSCSICommand processes the current CBW when it has no data-OUT
// phase. Returns command status and data residue.
func (t *Target) handleSCSICommand() (status uint8, residue uint32) {
	cbw := &t.cbw
	opcode := cbw.Opcode()

	// REQUEST SENSE reports why a unit was rejected, so it answers any LUN.
	if opcode == msc.SCSIRequestSense {
		return t.handleRequestSense()
	}
	if cbw.LUN != 0 {
		t.setSense(msc.SenseIllegalRequest, msc.ASCLUNNotSupported, 0)
		return msc.CSWStatusFailed, cbw.DataTransferLength
	}

	switch opcode {
	case msc.SCSITestUnitReady:
		return t.handleTestUnitReady()

	case msc.SCSIInquiry:
		return t.handleInquiry()

	case msc.SCSIReadCapacity10:
		return t.handleReadCapacity10()

	case msc.SCSIRead10:
		return t.handleRead10()

	case msc.SCSISynchronizeCache10:
		return t.handleSynchronizeCache10()

	default:
		pkg.LogWarn(pkg.ComponentMSC, "unsupported SCSI command", "opcode", opcode)
		t.setSense(msc.SenseIllegalRequest, msc.ASCInvalidCommand, 0)
		return msc.CSWStatusFailed, cbw.DataTransferLength
	}
}

// handleDataOut processes the current CBW once its data-OUT phase is
// complete.
func (t *Target) handleDataOut() (uint8, uint32) {
	if t.cbw.LUN != 0 {
		t.setSense(msc.SenseIllegalRequest, msc.ASCLUNNotSupported, 0)
		return msc.CSWStatusFailed, t.cbw.DataTransferLength
	}
	if t.cbw.Opcode() != msc.SCSIWrite10 {
		t.setSense(msc.SenseIllegalRequest, msc.ASCInvalidCommand, 0)
		return msc.CSWStatusFailed, t.cbw.DataTransferLength
	}
	return t.handleWrite10()
}

// handleTestUnitReady processes TEST UNIT READY command.
func (t *Target) handleTestUnitReady() (uint8, uint32) {
	if t.faults.NotReady > 0 {
		t.faults.NotReady--
		t.setSense(msc.SenseUnitAttention, msc.ASCNotReadyToReadyChange, 0)
		return msc.CSWStatusFailed, 0
	}
	t.setSense(msc.SenseNoSense, msc.ASCNoAdditionalInfo, 0)
	return msc.CSWStatusGood, 0
}

// handleRequestSense processes REQUEST SENSE command. The reported sense
// is cleared.
func (t *Target) handleRequestSense() (uint8, uint32) {
	alloc := uint32(t.cbw.CB[4])
	var buf [msc.SenseFixedSize]byte
	n := uint32(t.sense.MarshalTo(buf[:]))
	send := min(alloc, n, t.cbw.DataTransferLength)
	t.sendData(buf[:send])
	t.setSense(msc.SenseNoSense, msc.ASCNoAdditionalInfo, 0)
	return msc.CSWStatusGood, t.cbw.DataTransferLength - send
}

// handleInquiry processes INQUIRY command.
func (t *Target) handleInquiry() (uint8, uint32) {
	// EVPD pages are not implemented.
	if t.cbw.CB[1]&0x01 != 0 {
		t.setSense(msc.SenseIllegalRequest, msc.ASCInvalidFieldInCDB, 0)
		return msc.CSWStatusFailed, t.cbw.DataTransferLength
	}
	alloc := uint32(t.cbw.CB[3])<<8 | uint32(t.cbw.CB[4])
	var buf [msc.InquiryStandardSize]byte
	n := uint32(t.inquiry.MarshalTo(buf[:]))
	send := min(alloc, n, t.cbw.DataTransferLength)
	t.sendData(buf[:send])
	t.setSense(msc.SenseNoSense, msc.ASCNoAdditionalInfo, 0)
	return msc.CSWStatusGood, t.cbw.DataTransferLength - send
}

// handleReadCapacity10 processes READ CAPACITY (10) command.
func (t *Target) handleReadCapacity10() (uint8, uint32) {
	blocks := t.store.BlockCount()
	if blocks == 0 {
		t.setSense(msc.SenseNotReady, msc.ASCMediumNotPresent, 0)
		return msc.CSWStatusFailed, t.cbw.DataTransferLength
	}
	resp := msc.ReadCapacity10Response{
		LastLBA:     uint32(min(blocks-1, 0xFFFFFFFF)),
		BlockLength: uint32(t.store.BlockSize()),
	}
	var buf [msc.ReadCapacity10Size]byte
	n := uint32(resp.MarshalTo(buf[:]))
	send := min(n, t.cbw.DataTransferLength)
	t.sendData(buf[:send])
	t.setSense(msc.SenseNoSense, msc.ASCNoAdditionalInfo, 0)
	return msc.CSWStatusGood, t.cbw.DataTransferLength - send
}

// checkRange validates the LBA range of a READ/WRITE (10) command and
// returns the byte length it covers.
func (t *Target) checkRange() (lba uint32, blocks uint16, length uint32, ok bool) {
	lba, blocks = msc.DecodeRW10(t.cbw.CB[:])
	if uint64(lba)+uint64(blocks) > t.store.BlockCount() {
		t.setSense(msc.SenseIllegalRequest, msc.ASCLBAOutOfRange, 0)
		return lba, blocks, 0, false
	}
	length = uint32(blocks) * uint32(t.store.BlockSize())
	if length > t.cbw.DataTransferLength {
		t.setSense(msc.SenseIllegalRequest, msc.ASCInvalidFieldInCDB, 0)
		return lba, blocks, 0, false
	}
	return lba, blocks, length, true
}

// handleRead10 processes READ (10) command.
func (t *Target) handleRead10() (uint8, uint32) {
	lba, blocks, _, ok := t.checkRange()
	if !ok {
		return msc.CSWStatusFailed, t.cbw.DataTransferLength
	}
	if t.faults.MediumError {
		t.setSense(msc.SenseMediumError, msc.ASCUnrecoveredReadError, 0)
		return msc.CSWStatusFailed, t.cbw.DataTransferLength
	}
	if t.faults.ShortRead && blocks > 0 {
		t.faults.ShortRead = false
		blocks--
	}

	pkg.LogDebug(pkg.ComponentMSC, "READ(10)", "lba", lba, "blocks", blocks)

	bs := t.store.BlockSize()
	data := make([]byte, int(blocks)*bs)
	for i := 0; i < int(blocks); i++ {
		off := (int64(lba) + int64(i)) * int64(bs)
		if _, err := t.store.ReadBlock(off, data[i*bs:(i+1)*bs]); err != nil {
			pkg.LogWarn(pkg.ComponentMSC, "read error", "error", err)
			t.setSense(msc.SenseMediumError, msc.ASCUnrecoveredReadError, 0)
			return msc.CSWStatusFailed, t.cbw.DataTransferLength
		}
	}
	t.sendData(data)
	t.setSense(msc.SenseNoSense, msc.ASCNoAdditionalInfo, 0)
	return msc.CSWStatusGood, t.cbw.DataTransferLength - uint32(len(data))
}

// handleWrite10 processes WRITE (10) command with its data received.
func (t *Target) handleWrite10() (uint8, uint32) {
	if t.readOnly {
		t.setSense(msc.SenseDataProtect, msc.ASCWriteProtected, 0)
		return msc.CSWStatusFailed, t.cbw.DataTransferLength
	}
	lba, blocks, length, ok := t.checkRange()
	if !ok {
		return msc.CSWStatusFailed, t.cbw.DataTransferLength
	}
	if t.faults.MediumError {
		t.setSense(msc.SenseMediumError, msc.ASCNoAdditionalInfo, 0)
		return msc.CSWStatusFailed, t.cbw.DataTransferLength
	}

	pkg.LogDebug(pkg.ComponentMSC, "WRITE(10)", "lba", lba, "blocks", blocks)

	bs := t.store.BlockSize()
	data := t.dataOut[:length]
	for i := 0; i < int(blocks); i++ {
		off := (int64(lba) + int64(i)) * int64(bs)
		if _, err := t.store.WriteBlock(off, data[i*bs:(i+1)*bs]); err != nil {
			pkg.LogWarn(pkg.ComponentMSC, "write error", "error", err)
			t.setSense(msc.SenseMediumError, msc.ASCNoAdditionalInfo, 0)
			return msc.CSWStatusFailed, t.cbw.DataTransferLength
		}
	}
	t.setSense(msc.SenseNoSense, msc.ASCNoAdditionalInfo, 0)
	return msc.CSWStatusGood, t.cbw.DataTransferLength - length
}

// handleSynchronizeCache10 processes SYNCHRONIZE CACHE (10) command.
func (t *Target) handleSynchronizeCache10() (uint8, uint32) {
	if s, ok := t.store.(blockdev.Syncer); ok {
		if err := s.Sync(); err != nil {
			t.setSense(msc.SenseHardwareError, msc.ASCNoAdditionalInfo, 0)
			return msc.CSWStatusFailed, 0
		}
	}
	t.setSense(msc.SenseNoSense, msc.ASCNoAdditionalInfo, 0)
	return msc.CSWStatusGood, 0
}

// setSense sets sense data for the next REQUEST SENSE command.
func (t *Target) setSense(key, asc, ascq uint8) {
	t.sense = msc.NewSenseData(key, asc, ascq)
}
