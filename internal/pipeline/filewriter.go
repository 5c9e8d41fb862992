package pipeline

import (
	"github.com/packetry/packetry/internal/decoder"
	"github.com/packetry/packetry/internal/pcapfile"
	"github.com/packetry/packetry/internal/store"
)

// CaptureWriter is the subset of pcapfile.PcapWriter/NGWriter a
// file-writer goroutine needs: one packet at a time, in order.
type CaptureWriter interface {
	WritePacket(timestampNs int64, payload []byte) error
}

// NGInterfaceWriter adapts an NGWriter bound to one interface id to the
// CaptureWriter contract, since NGWriter.WritePacket additionally takes
// an interface id that WriteStore's callers already fixed at open time.
type NGInterfaceWriter struct {
	W           *pcapfile.NGWriter
	InterfaceID uint32
}

func (n NGInterfaceWriter) WritePacket(timestampNs int64, payload []byte) error {
	return n.W.WritePacket(n.InterfaceID, timestampNs, payload)
}

// WriteStore iterates st's packet stream in order and re-serializes each
// packet through w, the file-writer role's entire job (it runs after
// capture, not concurrently with the decoder, since the store it reads
// from is this capture's finished or still-growing one and order only
// matters up to what's already been appended).
func WriteStore(st *store.Store, w CaptureWriter) error {
	n := st.PacketCount()
	for id := uint64(0); id < n; id++ {
		p, err := st.Packet(id)
		if err != nil {
			return err
		}
		if err := w.WritePacket(p.TimestampNs, decoder.EncodePacket(p)); err != nil {
			return err
		}
	}
	return nil
}
