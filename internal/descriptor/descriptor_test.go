package descriptor

import (
	"testing"

	"github.com/packetry/packetry/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deviceDescriptorBytes() []byte {
	return []byte{
		18, byte(TypeDevice),
		0x00, 0x02, // bcdUSB 2.00
		0, 0, 0, // class/subclass/protocol
		64,         // max packet size 0
		0x34, 0x12, // idVendor 0x1234
		0x78, 0x56, // idProduct 0x5678
		0x00, 0x01, // bcdDevice
		1, 2, 3, // string indices
		1, // num configs
	}
}

func TestParseDeviceDescriptor(t *testing.T) {
	descs, err := Parse(deviceDescriptorBytes())
	require.NoError(t, err)
	require.Len(t, descs, 1)

	dev, ok := descs[0].(Device)
	require.True(t, ok)
	assert.EqualValues(t, 0x1234, dev.VendorID)
	assert.EqualValues(t, 0x5678, dev.ProductID)
}

func TestParseRetainsExcessBytesBeyondKnownFields(t *testing.T) {
	ep := []byte{9, byte(TypeEndpoint), 0x81, 0x02, 0x40, 0x00, 0, 0xAA, 0xBB} // 2 vendor bytes past the known 7
	descs, err := Parse(ep)
	require.NoError(t, err)
	require.Len(t, descs, 1)

	e, ok := descs[0].(Endpoint)
	require.True(t, ok)
	assert.Equal(t, []byte{0xAA, 0xBB}, e.Extra)
}

func TestParseUnknownTypePreservedVerbatim(t *testing.T) {
	raw := []byte{5, 0x60, 0xAA, 0xBB, 0xCC}
	descs, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, descs, 1)

	u, ok := descs[0].(Unknown)
	require.True(t, ok)
	assert.Equal(t, raw, u.Data)
}

func TestParseMultipleDescriptorsConcatenated(t *testing.T) {
	cfg := []byte{9, byte(TypeConfiguration), 9, 0, 1, 1, 0, 0xC0, 50}
	iface := []byte{9, byte(TypeInterface), 0, 0, 1, 0xFF, 0, 0, 0}
	ep := []byte{7, byte(TypeEndpoint), 0x81, 0x02, 0x40, 0x00, 0}

	data := append(append(append([]byte{}, cfg...), iface...), ep...)
	descs, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, descs, 3)

	e := descs[2].(Endpoint)
	assert.True(t, e.IsIn())
	assert.EqualValues(t, 1, e.Number())
	assert.Equal(t, AttrBulk, e.Kind())
}

type fakeKindSetter struct {
	addr uint8
	num  uint8
	dir  store.Direction
	kind store.TransferKind
}

func (f *fakeKindSetter) SetEndpointKind(addr, num uint8, dir store.Direction, kind store.TransferKind) {
	f.addr, f.num, f.dir, f.kind = addr, num, dir, kind
}

func TestEngineWritesDeviceAndEndpointKind(t *testing.T) {
	st := store.New(0)
	fk := &fakeKindSetter{}
	eng := NewEngine(st, fk)

	eng.HandleDescriptor(9, uint8(TypeDevice), 0, 0, deviceDescriptorBytes())
	dev := st.Device(9)
	assert.EqualValues(t, 0x1234, dev.VendorID)

	ep := []byte{7, byte(TypeEndpoint), 0x81, 0x03, 0x40, 0x00, 1} // IN, interrupt
	eng.HandleDescriptor(9, uint8(TypeEndpoint), 0, 0, ep)
	assert.EqualValues(t, 9, fk.addr)
	assert.EqualValues(t, 1, fk.num)
	assert.Equal(t, store.DirectionIn, fk.dir)
	assert.Equal(t, store.TransferInterrupt, fk.kind)
}

func TestEngineBuildsNestedConfigurationTree(t *testing.T) {
	cfg := []byte{9, byte(TypeConfiguration), 0, 0, 2, 1, 0, 0xC0, 50}
	iface0alt0 := []byte{9, byte(TypeInterface), 0, 0, 1, 0xFF, 0, 0, 0}
	ep0 := []byte{7, byte(TypeEndpoint), 0x81, 0x02, 0x40, 0x00, 0} // bulk IN
	iface0alt1 := []byte{9, byte(TypeInterface), 0, 1, 1, 0xFF, 0, 0, 0}
	ep1 := []byte{7, byte(TypeEndpoint), 0x82, 0x03, 0x08, 0x00, 1} // interrupt IN
	iface1alt0 := []byte{9, byte(TypeInterface), 1, 0, 0, 0xFF, 0, 0, 0}

	var data []byte
	for _, b := range [][]byte{cfg, iface0alt0, ep0, iface0alt1, ep1, iface1alt0} {
		data = append(data, b...)
	}

	st := store.New(0)
	eng := NewEngine(st, nil)
	eng.HandleDescriptor(5, uint8(TypeConfiguration), 0, 0, data)

	tree, ok := eng.Device(5)
	require.True(t, ok)
	require.Len(t, tree.Configurations, 1)

	conf := tree.Configurations[0]
	require.Len(t, conf.Interfaces, 2)

	iface0 := conf.Interfaces[0]
	assert.EqualValues(t, 0, iface0.Number)
	require.Len(t, iface0.AltSettings, 2)
	assert.Len(t, iface0.AltSettings[0].Endpoints, 1)
	assert.Len(t, iface0.AltSettings[1].Endpoints, 1)

	iface1 := conf.Interfaces[1]
	assert.EqualValues(t, 1, iface1.Number)
	require.Len(t, iface1.AltSettings, 1)
	assert.Len(t, iface1.AltSettings[0].Endpoints, 0)
}

func TestParseInterfaceAssociationDescriptor(t *testing.T) {
	iad := []byte{8, byte(TypeInterfaceAssociation), 0, 2, 0x02, 0x02, 0x01, 0}
	descs, err := Parse(iad)
	require.NoError(t, err)
	require.Len(t, descs, 1)

	a, ok := descs[0].(InterfaceAssociation)
	require.True(t, ok)
	assert.EqualValues(t, 0, a.FirstInterface)
	assert.EqualValues(t, 2, a.InterfaceCount)
	assert.EqualValues(t, 0x02, a.FunctionClass)
}

func TestParseClassSpecificCDCUnionDescriptor(t *testing.T) {
	// CDC Union Functional Descriptor: master interface 0, one slave (1).
	raw := []byte{5, byte(TypeCSInterface), byte(CDCSubtypeUnion), 0, 1}
	descs, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, descs, 1)

	cs, ok := descs[0].(ClassSpecific)
	require.True(t, ok)
	master, slaves, ok := cs.CDCUnion()
	require.True(t, ok)
	assert.EqualValues(t, 0, master)
	assert.Equal(t, []uint8{1}, slaves)
}

func TestEngineThreadsAssociationAndClassSpecificIntoTree(t *testing.T) {
	cfg := []byte{9, byte(TypeConfiguration), 0, 0, 2, 1, 0, 0xC0, 50}
	iad := []byte{8, byte(TypeInterfaceAssociation), 0, 2, 0x02, 0x02, 0x01, 0}
	iface0 := []byte{9, byte(TypeInterface), 0, 0, 1, 0x02, 0x02, 0x01, 0}
	csHeader := []byte{5, byte(TypeCSInterface), byte(CDCSubtypeHeader), 0x10, 0x01}
	csUnion := []byte{5, byte(TypeCSInterface), byte(CDCSubtypeUnion), 0, 1}
	iface1 := []byte{9, byte(TypeInterface), 1, 0, 0, 0x0A, 0, 0, 0}

	var data []byte
	for _, b := range [][]byte{cfg, iad, iface0, csHeader, csUnion, iface1} {
		data = append(data, b...)
	}

	st := store.New(0)
	eng := NewEngine(st, nil)
	eng.HandleDescriptor(7, uint8(TypeConfiguration), 0, 0, data)

	tree, ok := eng.Device(7)
	require.True(t, ok)
	require.Len(t, tree.Configurations, 1)
	conf := tree.Configurations[0]

	require.Len(t, conf.Associations, 1)
	assert.EqualValues(t, 2, conf.Associations[0].InterfaceCount)

	require.Len(t, conf.Interfaces, 2)
	iface0Tree := conf.Interfaces[0].AltSettings[0]
	require.Len(t, iface0Tree.ClassSpecific, 2)
	_, slaves, ok := iface0Tree.ClassSpecific[1].CDCUnion()
	require.True(t, ok)
	assert.Equal(t, []uint8{1}, slaves)
}
