// Package descriptor parses the USB descriptor set (device, configuration,
// interface, endpoint, HID, and class/vendor-specific descriptors) that a
// GET_DESCRIPTOR data stage returns, grounded on the typed-registry/opaque-
// blob pattern a USB descriptor reader in the example pack uses: a known
// descriptor type decodes into its own struct, an unrecognized one is kept
// verbatim rather than dropped.
package descriptor

import (
	"encoding/binary"
	"fmt"
)

// Type is the bDescriptorType byte (USB 2.0 spec table 9-5).
type Type uint8

const (
	TypeDevice                   Type = 1
	TypeConfiguration            Type = 2
	TypeString                   Type = 3
	TypeInterface                Type = 4
	TypeEndpoint                 Type = 5
	TypeDeviceQualifier          Type = 6
	TypeOtherSpeedConfiguration  Type = 7
	TypeInterfacePower           Type = 8
	TypeOTG                      Type = 9
	TypeDebug                    Type = 10
	TypeInterfaceAssociation     Type = 11
	TypeHID                      Type = 0x21
	TypeHIDReport                Type = 0x22
	TypeHIDPhysical              Type = 0x23
	TypeCSInterface              Type = 0x24 // class-specific interface
	TypeCSEndpoint               Type = 0x25 // class-specific endpoint
)

func (t Type) String() string {
	switch t {
	case TypeDevice:
		return "Device"
	case TypeConfiguration:
		return "Configuration"
	case TypeString:
		return "String"
	case TypeInterface:
		return "Interface"
	case TypeEndpoint:
		return "Endpoint"
	case TypeDeviceQualifier:
		return "DeviceQualifier"
	case TypeOtherSpeedConfiguration:
		return "OtherSpeedConfiguration"
	case TypeInterfaceAssociation:
		return "InterfaceAssociation"
	case TypeHID:
		return "HID"
	case TypeHIDReport:
		return "HIDReport"
	case TypeCSInterface:
		return "ClassSpecificInterface"
	case TypeCSEndpoint:
		return "ClassSpecificEndpoint"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", uint8(t))
	}
}

// Header is the two bytes common to every USB descriptor.
type Header struct {
	Length uint8
	Type   Type
}

// Descriptor is any parsed descriptor; Unknown carries types this package
// does not have a typed struct for, verbatim ("preserve unknown
// descriptor types as opaque blobs rather than rejecting them").
type Descriptor interface {
	Header() Header
}

type Device struct {
	Hdr             Header
	USBVersion      uint16
	DeviceClass     uint8
	DeviceSubClass  uint8
	DeviceProtocol  uint8
	MaxPacketSize0  uint8
	VendorID        uint16
	ProductID       uint16
	DeviceVersion   uint16
	Manufacturer    uint8
	Product         uint8
	SerialNumber    uint8
	NumConfigs      uint8

	// Extra holds any bytes beyond the fields above when Hdr.Length
	// declares the descriptor longer than this package knows how to
	// decode; kept verbatim rather than dropped.
	Extra []byte
}

func (d Device) Header() Header { return d.Hdr }

type Configuration struct {
	Hdr             Header
	TotalLength     uint16
	NumInterfaces   uint8
	ConfigValue     uint8
	Configuration   uint8
	Attributes      uint8
	MaxPower        uint8
	Extra           []byte
}

func (c Configuration) Header() Header { return c.Hdr }

// InterfaceAssociation groups a contiguous run of interfaces (e.g. the
// control and data interfaces of a single CDC or audio function) under
// one function, per the USB Interface Association Descriptor ECN.
type InterfaceAssociation struct {
	Hdr              Header
	FirstInterface   uint8
	InterfaceCount   uint8
	FunctionClass    uint8
	FunctionSubClass uint8
	FunctionProtocol uint8
	Function         uint8
	Extra            []byte
}

func (a InterfaceAssociation) Header() Header { return a.Hdr }

// ClassSpecificSubType is the bDescriptorSubtype byte of a CS_INTERFACE
// or CS_ENDPOINT descriptor; its meaning depends on the owning
// interface's class (audio, CDC, ...).
type ClassSpecificSubType uint8

// Subtypes this package gives names to. Audio and CDC reuse the same
// subtype byte range for unrelated meanings; which table applies is
// determined by the enclosing interface's class, not by the byte alone.
const (
	CDCSubtypeHeader         ClassSpecificSubType = 0x00
	CDCSubtypeCallManagement ClassSpecificSubType = 0x01
	CDCSubtypeACM            ClassSpecificSubType = 0x02
	CDCSubtypeUnion          ClassSpecificSubType = 0x06

	AudioSubtypeHeader         ClassSpecificSubType = 0x01
	AudioSubtypeInputTerminal  ClassSpecificSubType = 0x02
	AudioSubtypeOutputTerminal ClassSpecificSubType = 0x03
)

// ClassSpecific is a CS_INTERFACE or CS_ENDPOINT descriptor. Its payload
// beyond the subtype byte is class-defined (audio, CDC, ...), so it is
// kept as a raw Body rather than fully decoded; CDCUnion decodes the one
// layout this package interprets directly.
type ClassSpecific struct {
	Hdr     Header
	SubType ClassSpecificSubType
	Body    []byte // bytes after bDescriptorSubtype
}

func (c ClassSpecific) Header() Header { return c.Hdr }

// CDCUnion decodes a CDC Union Functional Descriptor's master interface
// and its slave interfaces, when SubType == CDCSubtypeUnion.
func (c ClassSpecific) CDCUnion() (master uint8, slaves []uint8, ok bool) {
	if c.SubType != CDCSubtypeUnion || len(c.Body) < 1 {
		return 0, nil, false
	}
	return c.Body[0], append([]byte(nil), c.Body[1:]...), true
}

type Interface struct {
	Hdr               Header
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	Interface         uint8
	Extra             []byte
}

func (i Interface) Header() Header { return i.Hdr }

// EndpointAttrKind is the transfer-type bits of Endpoint.Attributes.
type EndpointAttrKind uint8

const (
	AttrControl EndpointAttrKind = iota
	AttrIsochronous
	AttrBulk
	AttrInterrupt
)

type Endpoint struct {
	Hdr           Header
	EndpointAddr  uint8
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8
	Extra         []byte
}

func (e Endpoint) Header() Header { return e.Hdr }

// Number returns the endpoint number (bits 3:0 of EndpointAddr).
func (e Endpoint) Number() uint8 { return e.EndpointAddr & 0x0F }

// IsIn reports the direction bit (bit 7 of EndpointAddr).
func (e Endpoint) IsIn() bool { return e.EndpointAddr&0x80 != 0 }

// Kind returns the transfer type encoded in the low two bits of Attributes.
func (e Endpoint) Kind() EndpointAttrKind { return EndpointAttrKind(e.Attributes & 0x3) }

type String struct {
	Hdr  Header
	UTF16LE []byte // raw UTF-16LE code units, including the LANGID table when index 0
}

func (s String) Header() Header { return s.Hdr }

type HID struct {
	Hdr            Header
	HIDVersion     uint16
	CountryCode    uint8
	NumDescriptors uint8
	ReportType     uint8
	ReportLength   uint16
	Extra          []byte
}

func (h HID) Header() Header { return h.Hdr }

// Unknown preserves a descriptor type this package doesn't model, verbatim.
type Unknown struct {
	Hdr  Header
	Data []byte // the full descriptor body, including Length and Type bytes
}

func (u Unknown) Header() Header { return u.Hdr }

// Parse walks a concatenated descriptor blob (as returned by a
// GET_DESCRIPTOR(Configuration) data stage, or a single descriptor's
// bytes) into a slice of typed descriptors, falling back to Unknown for
// any type this package doesn't model. A short trailing fragment (fewer
// bytes than its own declared Length) is itself wrapped as Unknown rather
// than dropped, so truncated captures still show something.
func Parse(data []byte) ([]Descriptor, error) {
	var out []Descriptor
	total := len(data)
	for len(data) >= 2 {
		length := int(data[0])
		if length < 2 {
			return out, fmt.Errorf("descriptor at offset %d has invalid length %d", total-len(data), length)
		}
		if length > len(data) {
			out = append(out, Unknown{Hdr: Header{Length: data[0], Type: Type(data[1])}, Data: append([]byte(nil), data...)})
			break
		}
		body := data[:length]
		data = data[length:]

		hdr := Header{Length: body[0], Type: Type(body[1])}
		d, err := parseOne(hdr, body)
		if err != nil {
			d = Unknown{Hdr: hdr, Data: append([]byte(nil), body...)}
		}
		out = append(out, d)
	}
	return out, nil
}

func parseOne(hdr Header, body []byte) (Descriptor, error) {
	switch hdr.Type {
	case TypeDevice:
		if len(body) < 18 {
			return nil, fmt.Errorf("short device descriptor")
		}
		return Device{
			Hdr:            hdr,
			USBVersion:     le16(body[2:4]),
			DeviceClass:    body[4],
			DeviceSubClass: body[5],
			DeviceProtocol: body[6],
			MaxPacketSize0: body[7],
			VendorID:       le16(body[8:10]),
			ProductID:      le16(body[10:12]),
			DeviceVersion:  le16(body[12:14]),
			Manufacturer:   body[14],
			Product:        body[15],
			SerialNumber:   body[16],
			NumConfigs:     body[17],
			Extra:          extraBytes(body, 18),
		}, nil

	case TypeConfiguration, TypeOtherSpeedConfiguration:
		if len(body) < 9 {
			return nil, fmt.Errorf("short configuration descriptor")
		}
		return Configuration{
			Hdr:           hdr,
			TotalLength:   le16(body[2:4]),
			NumInterfaces: body[4],
			ConfigValue:   body[5],
			Configuration: body[6],
			Attributes:    body[7],
			MaxPower:      body[8],
			Extra:         extraBytes(body, 9),
		}, nil

	case TypeInterface:
		if len(body) < 9 {
			return nil, fmt.Errorf("short interface descriptor")
		}
		return Interface{
			Hdr:               hdr,
			InterfaceNumber:   body[2],
			AlternateSetting:  body[3],
			NumEndpoints:      body[4],
			InterfaceClass:    body[5],
			InterfaceSubClass: body[6],
			InterfaceProtocol: body[7],
			Interface:         body[8],
			Extra:             extraBytes(body, 9),
		}, nil

	case TypeEndpoint:
		if len(body) < 7 {
			return nil, fmt.Errorf("short endpoint descriptor")
		}
		return Endpoint{
			Hdr:           hdr,
			EndpointAddr:  body[2],
			Attributes:    body[3],
			MaxPacketSize: le16(body[4:6]),
			Interval:      body[6],
			Extra:         extraBytes(body, 7),
		}, nil

	case TypeString:
		return String{Hdr: hdr, UTF16LE: append([]byte(nil), body[2:]...)}, nil

	case TypeInterfaceAssociation:
		if len(body) < 8 {
			return nil, fmt.Errorf("short interface association descriptor")
		}
		return InterfaceAssociation{
			Hdr:              hdr,
			FirstInterface:   body[2],
			InterfaceCount:   body[3],
			FunctionClass:    body[4],
			FunctionSubClass: body[5],
			FunctionProtocol: body[6],
			Function:         body[7],
			Extra:            extraBytes(body, 8),
		}, nil

	case TypeCSInterface, TypeCSEndpoint:
		if len(body) < 3 {
			return nil, fmt.Errorf("short class-specific descriptor")
		}
		return ClassSpecific{
			Hdr:     hdr,
			SubType: ClassSpecificSubType(body[2]),
			Body:    append([]byte(nil), body[3:]...),
		}, nil

	case TypeHID:
		if len(body) < 9 {
			return nil, fmt.Errorf("short HID descriptor")
		}
		return HID{
			Hdr:            hdr,
			HIDVersion:     le16(body[2:4]),
			CountryCode:    body[4],
			NumDescriptors: body[5],
			ReportType:     body[6],
			ReportLength:   le16(body[7:9]),
			Extra:          extraBytes(body, 9),
		}, nil

	default:
		return nil, fmt.Errorf("unmodeled descriptor type %s", hdr.Type)
	}
}

// extraBytes returns the bytes of body beyond the known-field width this
// package decodes, so a descriptor declared longer than what this
// package models (vendor or future-spec extensions) is retained
// opaquely instead of silently truncated.
func extraBytes(body []byte, knownWidth int) []byte {
	if len(body) <= knownWidth {
		return nil
	}
	return append([]byte(nil), body[knownWidth:]...)
}

func le16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
