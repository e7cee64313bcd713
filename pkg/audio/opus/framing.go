package opus

import (
	"encoding/binary"
	"fmt"
	"math"
)

// lengthPrefix is the size of the per-packet length header in a framed stream.
const lengthPrefix = 2

// AppendFrame appends pkt to the framed stream dst and returns the extended
// stream.
func AppendFrame(dst []byte, pkt Packet) ([]byte, error) {
	if len(pkt) > math.MaxUint16 {
		return dst, fmt.Errorf("opus: packet of %d bytes does not fit a framed stream: %w", len(pkt), ErrCodec)
	}
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(pkt)))
	return append(dst, pkt...), nil
}

// SplitFramed splits a framed stream into packets. A trailing tuple that is
// shorter than its declared length, or a lone length byte, is discarded. The
// returned packets alias stream.
func SplitFramed(stream []byte) []Packet {
	var packets []Packet
	for off := 0; off+lengthPrefix <= len(stream); {
		n := int(binary.LittleEndian.Uint16(stream[off:]))
		off += lengthPrefix
		if off+n > len(stream) {
			break
		}
		packets = append(packets, Packet(stream[off:off+n]))
		off += n
	}
	return packets
}
