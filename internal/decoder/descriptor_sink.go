package decoder

// DescriptorSink receives completed GET_DESCRIPTOR data stages so the
// descriptor engine (a separate package, to avoid an import cycle) can
// build the device tree. The decoder never parses descriptor contents
// itself; it only recognizes the request and hands the raw bytes off.
type DescriptorSink interface {
	HandleDescriptor(addr uint8, descType uint8, descIndex uint8, langID uint16, data []byte)
}

// NopDescriptorSink discards descriptor data; used when the engine isn't
// wired in (e.g. a decode-only CLI invocation).
type NopDescriptorSink struct{}

func (NopDescriptorSink) HandleDescriptor(uint8, uint8, uint8, uint16, []byte) {}

var _ DescriptorSink = NopDescriptorSink{}
