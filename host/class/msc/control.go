package msc

import (
	"context"
	"fmt"

	"github.com/ardnew/usbstream/host"
	"github.com/ardnew/usbstream/host/hal"
	"github.com/ardnew/usbstream/pkg"
)

const classInterfaceIn = host.RequestTypeIn | host.RequestTypeClass | host.RequestTypeInterface
const classInterfaceOut = host.RequestTypeOut | host.RequestTypeClass | host.RequestTypeInterface

// GetMaxLUN asks the interface for its highest logical unit number.
// Devices with a single unit may stall the request, which reads as 0.
func GetMaxLUN(ctx context.Context, ctrl hal.ControlTransferer, iface uint8) (uint8, error) {
	setup := hal.SetupPacket{
		RequestType: classInterfaceIn,
		Request:     RequestGetMaxLUN,
		Index:       uint16(iface),
		Length:      1,
	}
	var buf [1]byte
	n, err := ctrl.ControlTransfer(ctx, &setup, buf[:])
	if err != nil {
		if pkg.StatusOf(err) == pkg.TransferStatusStall {
			return 0, nil
		}
		return 0, fmt.Errorf("get max LUN: %w", err)
	}
	if n != 1 {
		return 0, fmt.Errorf("%w: get max LUN returned %d bytes", pkg.ErrProtocol, n)
	}
	pkg.LogDebug(pkg.ComponentMSC, "Get Max LUN", "interface", iface, "maxLUN", buf[0])
	return buf[0], nil
}

// ResetRecovery issues a Bulk-Only Mass Storage Reset on the interface and
// clears both bulk pipes of ch.
func ResetRecovery(ctx context.Context, ctrl hal.ControlTransferer, iface uint8, ch *host.DuplexChannel) error {
	setup := hal.SetupPacket{
		RequestType: classInterfaceOut,
		Request:     RequestBulkOnlyMassStorageReset,
		Index:       uint16(iface),
	}
	if _, err := ctrl.ControlTransfer(ctx, &setup, nil); err != nil {
		return fmt.Errorf("mass storage reset: %w", err)
	}
	pkg.LogDebug(pkg.ComponentMSC, "mass storage reset", "interface", iface)
	if err := ch.ClearHalt(host.DirectionIn); err != nil {
		return fmt.Errorf("clear IN halt: %w", err)
	}
	if err := ch.ClearHalt(host.DirectionOut); err != nil {
		return fmt.Errorf("clear OUT halt: %w", err)
	}
	return nil
}
