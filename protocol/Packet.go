/*
File Name:  Packet.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Basic packet structure of ALL mesh packets:
Offset  Size   Info
0       1      Version = 1
1       1      Type
2       1      TTL
3       8      Timestamp, ms since epoch, big-endian
11      1      Flags
12      2      Payload length, big-endian
14      8      Sender ID
        8      Recipient ID, only if HAS_RECIPIENT
        2      Original size, only if IS_COMPRESSED
        ?      Payload
        64     Signature, only if HAS_SIGNATURE

The fixed header (version through payload length) is 14 bytes
(HeaderSize), followed by the 8-byte sender ID; recipient ID, original
size, and signature are conditional on flags.
*/

package protocol

import (
	"encoding/binary"
	"errors"
)

// Version is the only packet version this implementation understands.
const Version = 1

// PeerIDSize is the length in bytes of a peer identifier.
const PeerIDSize = 8

// PeerID is a volatile 8-byte peer address, rotated every 5-15 minutes.
type PeerID [PeerIDSize]byte

// String renders the peer ID as lowercase hex, the app-layer address form.
func (id PeerID) String() string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, PeerIDSize*2)
	for i, b := range id {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}

// SignatureSize is the length in bytes of an Ed25519-style packet signature.
const SignatureSize = 64

// HeaderSize is the fixed portion of the header: version, type, ttl,
// timestamp, flags, payload length.
const HeaderSize = 1 + 1 + 1 + 8 + 1 + 2

// Message types.
const (
	TypeAnnounce                  = 0x01
	TypeLeave                     = 0x03
	TypeMessage                   = 0x04
	TypeFragmentStart             = 0x05
	TypeFragmentContinue          = 0x06
	TypeFragmentEnd               = 0x07
	TypeChannelAnnounce           = 0x08
	TypeChannelRetention          = 0x09
	TypeDeliveryAck               = 0x0A
	TypeDeliveryStatusRequest     = 0x0B
	TypeReadReceipt               = 0x0C
	TypeNoiseHandshakeInit        = 0x10
	TypeNoiseHandshakeResp        = 0x11
	TypeNoiseEncrypted            = 0x12
	TypeNoiseIdentityAnnounce     = 0x13
	TypeChannelKeyVerifyRequest   = 0x14
	TypeChannelKeyVerifyResponse  = 0x15
	TypeChannelPasswordUpdate     = 0x16
	TypeChannelMetadata           = 0x17
	TypeVersionHello              = 0x20
	TypeVersionAck                = 0x21
	TypeHandshakeRequest          = 0x25
)

// Flag bits.
const (
	FlagHasRecipient = 0x01
	FlagHasSignature = 0x02
	FlagIsCompressed = 0x04
)

// BroadcastRecipient is the reserved recipient ID meaning "everyone".
var BroadcastRecipient = PeerID{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// DefaultTTL is the hop budget assigned to packets originated locally.
const DefaultTTL = 7

// MaxPacketSize bounds the encoded size of any packet this implementation
// will emit or accept.
const MaxPacketSize = 64 * 1024

// Packet is the decoded representation of a single wire packet.
type Packet struct {
	Version      uint8
	Type         uint8
	TTL          uint8
	Timestamp    uint64 // ms since epoch
	Flags        uint8
	SenderID     PeerID
	RecipientID  PeerID // valid only if HasRecipient
	HasRecipient bool
	OriginalSize uint16 // valid only if Compressed
	Payload      []byte
	Signature    [SignatureSize]byte
	HasSignature bool
}

// ErrTruncated is returned when a buffer ends before a required field.
var ErrTruncated = errors.New("protocol: truncated packet")

// ErrBadVersion is returned when the version byte does not equal Version.
var ErrBadVersion = errors.New("protocol: unsupported version")

// ErrEmptyPayload is returned when encoding a packet with no payload.
var ErrEmptyPayload = errors.New("protocol: empty payload")

// ErrTooLarge is returned when an encoded packet would exceed MaxPacketSize.
var ErrTooLarge = errors.New("protocol: packet too large")

// IsBroadcast reports whether the recipient field addresses every peer.
func (p *Packet) IsBroadcast() bool {
	return p.HasRecipient && p.RecipientID == BroadcastRecipient
}

// serializedLen returns the length of the packet before any padding.
func (p *Packet) serializedLen() int {
	n := HeaderSize + PeerIDSize
	if p.HasRecipient {
		n += PeerIDSize
	}
	if p.Flags&FlagIsCompressed != 0 {
		n += 2
	}
	n += len(p.Payload)
	if p.HasSignature {
		n += SignatureSize
	}
	return n
}

// encodeUnpadded serializes the packet without applying block padding.
func (p *Packet) encodeUnpadded() ([]byte, error) {
	if len(p.Payload) == 0 {
		return nil, ErrEmptyPayload
	}

	flags := p.Flags
	if p.HasRecipient {
		flags |= FlagHasRecipient
	} else {
		flags &^= FlagHasRecipient
	}
	if p.HasSignature {
		flags |= FlagHasSignature
	} else {
		flags &^= FlagHasSignature
	}

	buf := make([]byte, p.serializedLen())
	off := 0

	buf[off] = Version
	off++
	buf[off] = p.Type
	off++
	buf[off] = p.TTL
	off++
	binary.BigEndian.PutUint64(buf[off:off+8], p.Timestamp)
	off += 8
	buf[off] = flags
	off++
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(p.Payload)))
	off += 2

	copy(buf[off:off+PeerIDSize], p.SenderID[:])
	off += PeerIDSize

	if p.HasRecipient {
		copy(buf[off:off+PeerIDSize], p.RecipientID[:])
		off += PeerIDSize
	}

	if flags&FlagIsCompressed != 0 {
		binary.BigEndian.PutUint16(buf[off:off+2], p.OriginalSize)
		off += 2
	}

	copy(buf[off:off+len(p.Payload)], p.Payload)
	off += len(p.Payload)

	if p.HasSignature {
		copy(buf[off:off+SignatureSize], p.Signature[:])
		off += SignatureSize
	}

	return buf, nil
}

// decodeUnpadded parses a de-padded buffer into a Packet.
func decodeUnpadded(raw []byte) (*Packet, error) {
	if len(raw) < HeaderSize+PeerIDSize {
		return nil, ErrTruncated
	}

	p := &Packet{}
	off := 0

	p.Version = raw[off]
	off++
	if p.Version != Version {
		return nil, ErrBadVersion
	}

	p.Type = raw[off]
	off++
	p.TTL = raw[off]
	off++
	p.Timestamp = binary.BigEndian.Uint64(raw[off : off+8])
	off += 8
	p.Flags = raw[off]
	off++
	payloadLen := int(binary.BigEndian.Uint16(raw[off : off+2]))
	off += 2

	if off+PeerIDSize > len(raw) {
		return nil, ErrTruncated
	}
	copy(p.SenderID[:], raw[off:off+PeerIDSize])
	off += PeerIDSize

	if p.Flags&FlagHasRecipient != 0 {
		if off+PeerIDSize > len(raw) {
			return nil, ErrTruncated
		}
		copy(p.RecipientID[:], raw[off:off+PeerIDSize])
		p.HasRecipient = true
		off += PeerIDSize
	}

	if p.Flags&FlagIsCompressed != 0 {
		if off+2 > len(raw) {
			return nil, ErrTruncated
		}
		p.OriginalSize = binary.BigEndian.Uint16(raw[off : off+2])
		off += 2
	}

	signatureLen := 0
	if p.Flags&FlagHasSignature != 0 {
		signatureLen = SignatureSize
	}

	if off+payloadLen+signatureLen > len(raw) {
		return nil, ErrTruncated
	}

	if payloadLen > 0 {
		p.Payload = make([]byte, payloadLen)
		copy(p.Payload, raw[off:off+payloadLen])
	}
	off += payloadLen

	if signatureLen > 0 {
		copy(p.Signature[:], raw[off:off+signatureLen])
		p.HasSignature = true
		off += signatureLen
	}

	return p, nil
}
