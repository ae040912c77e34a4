/*
File Name:  Encoding.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Intermediary between the raw byte-duplex link and the high-level Packet
structure: compression, field serialization, and block padding combined.
*/

package protocol

// Encode serializes p to its wire form: optional compression, header and
// field serialization, then block padding. It returns ErrEmptyPayload for
// a packet with no payload and ErrTooLarge if the result would exceed
// MaxPacketSize.
func Encode(p *Packet) ([]byte, error) {
	if len(p.Payload) == 0 {
		return nil, ErrEmptyPayload
	}

	working := *p

	if compressed := compress(p.Payload); compressed != nil {
		working.OriginalSize = uint16(len(p.Payload))
		working.Payload = compressed
		working.Flags |= FlagIsCompressed
	} else {
		working.Flags &^= FlagIsCompressed
	}

	raw, err := working.encodeUnpadded()
	if err != nil {
		return nil, err
	}

	padded := pad(raw)

	if len(padded) > MaxPacketSize {
		return nil, ErrTooLarge
	}

	return padded, nil
}

// Decode parses raw wire bytes back into a Packet. It strips padding,
// validates the version, and reverses compression if flagged. Any
// malformed length or truncation returns an error; there is no partial
// acceptance.
func Decode(raw []byte) (*Packet, error) {
	unpadded := unpad(raw)

	p, err := decodeUnpadded(unpadded)
	if err != nil {
		return nil, err
	}

	if p.Flags&FlagIsCompressed != 0 {
		plain, err := decompress(p.Payload, int(p.OriginalSize))
		if err != nil {
			return nil, err
		}
		p.Payload = plain
	}

	return p, nil
}
