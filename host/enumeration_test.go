package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbstream/host/hal"
	"github.com/ardnew/usbstream/pkg"
)

// descriptorServer answers GET_DESCRIPTOR from a tree and string table.
type descriptorServer struct {
	tree    *DescriptorTree
	strings map[uint8]string
	calls   []hal.SetupPacket
}

func (d *descriptorServer) ControlTransfer(_ context.Context, setup *hal.SetupPacket, data []byte) (int, error) {
	d.calls = append(d.calls, *setup)
	if setup.Request != RequestGetDescriptor || !setup.IsIn() {
		return 0, pkg.ErrStall
	}
	typ, index := uint8(setup.Value>>8), uint8(setup.Value)

	var payload []byte
	switch typ {
	case DescriptorTypeDevice:
		payload = d.tree.Device.AppendTo(nil)
	case DescriptorTypeConfiguration:
		if int(index) >= len(d.tree.Configurations) {
			return 0, pkg.ErrStall
		}
		payload = d.tree.Configurations[index].Marshal()
	case DescriptorTypeString:
		s, ok := d.strings[index]
		if !ok {
			return 0, pkg.ErrStall
		}
		payload = EncodeStringDescriptor(s)
	default:
		return 0, pkg.ErrStall
	}
	return copy(data, payload), nil
}

func TestReadDescriptorTree(t *testing.T) {
	want := flashDrive()
	srv := &descriptorServer{tree: want}

	got, err := ReadDescriptorTree(context.Background(), srv)
	require.NoError(t, err)

	assert.Equal(t, want.Device, got.Device)
	require.Len(t, got.Configurations, 1)
	assert.Len(t, got.Configurations[0].Interfaces, 2)

	// device, config header, full config
	require.Len(t, srv.calls, 3)
	assert.Equal(t, uint16(DeviceDescriptorSize), srv.calls[0].Length)
	assert.Equal(t, uint16(ConfigurationDescriptorSize), srv.calls[1].Length)
	assert.Equal(t, got.Configurations[0].Descriptor.TotalLength, srv.calls[2].Length)

	read, write, err := FindDuplexPair(got, MassStorageBulkOnly)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x81), read.Address)
	assert.Equal(t, uint8(0x02), write.Address)
}

func TestReadDescriptorTree_MatchesRawParse(t *testing.T) {
	tree := flashDrive()
	fromRaw, err := ParseDescriptorTree(tree.Marshal())
	require.NoError(t, err)

	fromEP0, err := ReadDescriptorTree(context.Background(), &descriptorServer{tree: tree})
	require.NoError(t, err)

	assert.Equal(t, fromRaw, fromEP0)
}

func TestReadDescriptorTree_Stall(t *testing.T) {
	tree := flashDrive()
	tree.Device.NumConfigurations = 2 // second request stalls

	_, err := ReadDescriptorTree(context.Background(), &descriptorServer{tree: tree})
	assert.ErrorIs(t, err, pkg.ErrStall)
}

func TestReadStrings(t *testing.T) {
	tree := flashDrive()
	tree.Device.ManufacturerIndex = 1
	tree.Device.ProductIndex = 2
	srv := &descriptorServer{tree: tree, strings: map[uint8]string{
		1: "SanDisk",
		2: "Cruzer Blade™",
	}}

	s, err := ReadStrings(context.Background(), srv, tree.Device)
	require.NoError(t, err)
	assert.Equal(t, "SanDisk", s.Manufacturer)
	assert.Equal(t, "Cruzer Blade™", s.Product)
	assert.Empty(t, s.SerialNumber)
	assert.Len(t, srv.calls, 2, "index 0 is not requested")
	assert.Equal(t, uint16(LangIDUSEnglish), srv.calls[0].Index)
}

func TestDecodeStringDescriptor(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"ascii", EncodeStringDescriptor("USB"), "USB"},
		{"empty", []byte{0x02, 0x03}, ""},
		{"wrong type", []byte{0x04, 0x01, 'A', 0}, ""},
		{"truncated", []byte{0x08, 0x03, 'A', 0, 'B'}, "A"},
		{"zero length", []byte{0x00, 0x03}, ""},
		{"too short", []byte{0x02}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeStringDescriptor(tt.data))
		})
	}
}
