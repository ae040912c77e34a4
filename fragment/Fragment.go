/*
File Name:  Fragment.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Splits an oversized outbound payload into FRAGMENT_START/CONTINUE/END
chunks sized to fit a link's negotiated MTU, and reassembles them back
into the original payload on the receiving side.
*/

package fragment

import (
	"crypto/rand"
	"encoding/binary"
	"errors"

	"github.com/bitchat-mesh/mesh/protocol"
)

// headerStart is fragmentID(8) + originalType(1) + totalCount(2).
const headerStart = 8 + 1 + 2

// headerCont is fragmentID(8) + index(2), used by CONTINUE and END.
const headerCont = 8 + 2

// ErrChunkTooSmall is returned when the MTU leaves no room for a header.
var ErrChunkTooSmall = errors.New("fragment: mtu too small for fragment header")

// Split slices payload into one or more wire packets: one FRAGMENT_START,
// then, when more than one chunk is needed, zero or more FRAGMENT_CONTINUE
// and one FRAGMENT_END. A payload that fits the first chunk yields a
// single FRAGMENT_START and no FRAGMENT_END. originalType is the Type the reassembled packet should carry. mtu bounds
// the Payload size of each emitted packet.
func Split(originalType uint8, payload []byte, mtu int) (packets []*protocol.Packet, fragmentID uint64, err error) {
	if mtu <= headerStart {
		return nil, 0, ErrChunkTooSmall
	}

	var idBuf [8]byte
	if _, err := rand.Read(idBuf[:]); err != nil {
		return nil, 0, err
	}
	fragmentID = binary.BigEndian.Uint64(idBuf[:])

	firstChunkSize := mtu - headerStart
	contChunkSize := mtu - headerCont

	var chunks [][]byte
	remaining := payload
	// First chunk.
	if len(remaining) <= firstChunkSize {
		chunks = append(chunks, remaining)
		remaining = nil
	} else {
		chunks = append(chunks, remaining[:firstChunkSize])
		remaining = remaining[firstChunkSize:]
	}
	for len(remaining) > 0 {
		n := contChunkSize
		if n > len(remaining) {
			n = len(remaining)
		}
		chunks = append(chunks, remaining[:n])
		remaining = remaining[n:]
	}

	total := len(chunks)

	for i, chunk := range chunks {
		switch {
		case i == 0:
			buf := make([]byte, headerStart+len(chunk))
			binary.BigEndian.PutUint64(buf[0:8], fragmentID)
			buf[8] = originalType
			binary.BigEndian.PutUint16(buf[9:11], uint16(total))
			copy(buf[headerStart:], chunk)
			packets = append(packets, &protocol.Packet{Type: protocol.TypeFragmentStart, Payload: buf})
		case i == total-1 && total > 1:
			buf := make([]byte, headerCont+len(chunk))
			binary.BigEndian.PutUint64(buf[0:8], fragmentID)
			binary.BigEndian.PutUint16(buf[8:10], uint16(i))
			copy(buf[headerCont:], chunk)
			packets = append(packets, &protocol.Packet{Type: protocol.TypeFragmentEnd, Payload: buf})
		default:
			buf := make([]byte, headerCont+len(chunk))
			binary.BigEndian.PutUint64(buf[0:8], fragmentID)
			binary.BigEndian.PutUint16(buf[8:10], uint16(i))
			copy(buf[headerCont:], chunk)
			packets = append(packets, &protocol.Packet{Type: protocol.TypeFragmentContinue, Payload: buf})
		}
	}

	return packets, fragmentID, nil
}

// decodedChunk is the parsed form of any FRAGMENT_* payload.
type decodedChunk struct {
	fragmentID   uint64
	index        int
	originalType uint8
	total        int
	isStart      bool
	data         []byte
}

func decodeChunk(pktType uint8, payload []byte) (decodedChunk, error) {
	switch pktType {
	case protocol.TypeFragmentStart:
		if len(payload) < headerStart {
			return decodedChunk{}, protocol.ErrTruncated
		}
		return decodedChunk{
			fragmentID:   binary.BigEndian.Uint64(payload[0:8]),
			originalType: payload[8],
			total:        int(binary.BigEndian.Uint16(payload[9:11])),
			isStart:      true,
			data:         payload[headerStart:],
		}, nil
	case protocol.TypeFragmentContinue, protocol.TypeFragmentEnd:
		if len(payload) < headerCont {
			return decodedChunk{}, protocol.ErrTruncated
		}
		return decodedChunk{
			fragmentID: binary.BigEndian.Uint64(payload[0:8]),
			index:      int(binary.BigEndian.Uint16(payload[8:10])),
			data:       payload[headerCont:],
		}, nil
	default:
		return decodedChunk{}, errors.New("fragment: not a fragment packet")
	}
}
