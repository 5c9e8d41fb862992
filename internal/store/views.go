package store

// PacketView is a lazily-navigable, stable-indexed read view over the
// store's packet stream. It holds no snapshot: Len and At read the live
// stream at the moment of each call.
type PacketView struct{ s *Store }

// Len returns the number of packets visible right now.
func (v *PacketView) Len() uint64 { return v.s.PacketCount() }

// At returns the packet at index.
func (v *PacketView) At(index uint64) (Packet, error) { return v.s.Packet(index) }

// TransactionView is a lazily-navigable, stable-indexed read view over the
// store's transaction stream.
type TransactionView struct{ s *Store }

func (v *TransactionView) Len() uint64 { return v.s.TransactionCount() }

func (v *TransactionView) At(index uint64) (*Transaction, error) { return v.s.Transaction(index) }

// TransferView is a lazily-navigable, stable-indexed read view over the
// store's transfer stream.
type TransferView struct{ s *Store }

func (v *TransferView) Len() uint64 { return v.s.TransferCount() }

func (v *TransferView) At(index uint64) (*Transfer, error) { return v.s.Transfer(index) }

// GroupView is a lazily-navigable, stable-indexed read view over the
// store's group stream.
type GroupView struct{ s *Store }

func (v *GroupView) Len() uint64 { return v.s.GroupCount() }

func (v *GroupView) At(index uint64) (*Group, error) { return v.s.Group(index) }
