package descriptor

import "github.com/packetry/packetry/internal/store"

// kindSetter is the subset of *decoder.Decoder this package needs, kept
// as an interface to avoid an import cycle (decoder depends on this
// package's sink contract, not the other way around).
type kindSetter interface {
	SetEndpointKind(addr, num uint8, dir store.Direction, kind store.TransferKind)
}

// DeviceTree is the live, nested device/configuration/interface/endpoint
// model the engine assembles from GET_DESCRIPTOR responses, mirroring
// the containment a real USB configuration descriptor declares (one
// configuration contains N interfaces, each interface may have several
// alternate-setting siblings sharing an interface number, each
// alternate setting owns its own endpoints).
type DeviceTree struct {
	Device         Device
	Configurations []*ConfigTree
}

// ConfigTree is one parsed configuration descriptor plus the interfaces
// declared inside it.
type ConfigTree struct {
	Configuration Configuration
	Interfaces    []*InterfaceGroup

	// Associations groups contiguous interfaces into one function (CDC,
	// audio, ...) per USB IAD. Populated in descriptor order, i.e.
	// before the interfaces it names have necessarily been seen.
	Associations []InterfaceAssociation

	// ClassSpecific holds CS_INTERFACE/CS_ENDPOINT descriptors that
	// appear before any interface descriptor in the configuration's
	// descriptor set (rare, but legal).
	ClassSpecific []ClassSpecific
}

// InterfaceGroup collects the alternate-setting siblings sharing one
// interface number.
type InterfaceGroup struct {
	Number      uint8
	AltSettings []*InterfaceTree
}

// InterfaceTree is one alternate setting plus the endpoints it declares.
type InterfaceTree struct {
	Interface Interface
	Endpoints []Endpoint

	// ClassSpecific holds CS_INTERFACE/CS_ENDPOINT descriptors that
	// follow this alternate setting's Interface descriptor (the
	// ordinary case: audio/CDC functional descriptors immediately
	// follow the interface they describe).
	ClassSpecific []ClassSpecific
}

// Engine builds the live device/configuration/interface/endpoint tree as
// GET_DESCRIPTOR responses arrive, and relays newly-learned endpoint
// transfer types back to the decoder so later transactions on them
// aggregate correctly.
type Engine struct {
	st      *store.Store
	decoder kindSetter

	// devices[addr] accumulates every descriptor seen for that address
	// across however many GET_DESCRIPTOR calls enumeration issues.
	devices map[uint8]*DeviceTree
}

// NewEngine creates a descriptor engine writing into st and informing dec
// of endpoint types it learns about. dec may be nil in tests that only
// care about the parsed tree.
func NewEngine(st *store.Store, dec kindSetter) *Engine {
	return &Engine{st: st, decoder: dec, devices: make(map[uint8]*DeviceTree)}
}

// Device returns the accumulated descriptor tree for addr, if any
// descriptors have been seen for it yet.
func (e *Engine) Device(addr uint8) (*DeviceTree, bool) {
	tree, ok := e.devices[addr]
	return tree, ok
}

// HandleDescriptor implements decoder.DescriptorSink. A single
// GET_DESCRIPTOR(Configuration) response carries the configuration
// descriptor followed by every interface (and its alternate settings)
// and endpoint descriptor it declares, in order, so the tree is built by
// walking the parsed sequence and tracking the most recently seen
// configuration and interface.
func (e *Engine) HandleDescriptor(addr uint8, descType uint8, descIndex uint8, langID uint16, data []byte) {
	descs, _ := Parse(data)

	tree := e.devices[addr]
	if tree == nil {
		tree = &DeviceTree{}
		e.devices[addr] = tree
	}

	var curConfig *ConfigTree
	var curIface *InterfaceTree

	for _, d := range descs {
		switch v := d.(type) {
		case Device:
			tree.Device = v
			dev := e.st.Device(addr)
			dev.VendorID = v.VendorID
			dev.ProductID = v.ProductID
			dev.DeviceVersion = v.DeviceVersion

		case Configuration:
			cfg := &ConfigTree{Configuration: v}
			tree.Configurations = append(tree.Configurations, cfg)
			curConfig = cfg
			curIface = nil
			dev := e.st.Device(addr)
			dev.Configuration = v.ConfigValue

		case InterfaceAssociation:
			if curConfig != nil {
				curConfig.Associations = append(curConfig.Associations, v)
			}

		case ClassSpecific:
			switch {
			case curIface != nil:
				curIface.ClassSpecific = append(curIface.ClassSpecific, v)
			case curConfig != nil:
				curConfig.ClassSpecific = append(curConfig.ClassSpecific, v)
			}

		case Interface:
			if curConfig == nil {
				continue
			}
			group := curConfig.interfaceGroup(v.InterfaceNumber)
			curIface = &InterfaceTree{Interface: v}
			group.AltSettings = append(group.AltSettings, curIface)

		case Endpoint:
			if curIface != nil {
				curIface.Endpoints = append(curIface.Endpoints, v)
			}
			if e.decoder == nil {
				continue
			}
			dir := store.DirectionOut
			if v.IsIn() {
				dir = store.DirectionIn
			}
			e.decoder.SetEndpointKind(addr, v.Number(), dir, transferKindOf(v.Kind()))
		}
	}
}

// interfaceGroup returns the InterfaceGroup for number, creating it if
// this is the first alternate setting seen for that interface number.
func (c *ConfigTree) interfaceGroup(number uint8) *InterfaceGroup {
	for _, g := range c.Interfaces {
		if g.Number == number {
			return g
		}
	}
	g := &InterfaceGroup{Number: number}
	c.Interfaces = append(c.Interfaces, g)
	return g
}

func transferKindOf(k EndpointAttrKind) store.TransferKind {
	switch k {
	case AttrIsochronous:
		return store.TransferIsochronous
	case AttrBulk:
		return store.TransferBulk
	case AttrInterrupt:
		return store.TransferInterrupt
	default:
		return store.TransferControl
	}
}
