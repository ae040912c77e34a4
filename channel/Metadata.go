/*
File Name:  Metadata.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Wire encodings for the channel control messages that ride alongside
MESSAGE traffic: CHANNEL_ANNOUNCE, CHANNEL_RETENTION, CHANNEL_METADATA,
CHANNEL_KEY_VERIFY_REQUEST/RESPONSE, and CHANNEL_PASSWORD_UPDATE.
Grounded on chat.Payload's length-prefixed-tag-then-fields layout,
applied to the channel control plane instead of message bodies.
*/

package channel

import (
	"encoding/binary"
	"errors"

	"github.com/bitchat-mesh/mesh/protocol"
)

// ErrMetadataTruncated is returned when a channel control payload ends
// before a required field is satisfied.
var ErrMetadataTruncated = errors.New("channel: truncated control payload")

func encodeTag(tag string) []byte {
	out := make([]byte, 1+len(tag))
	out[0] = byte(len(tag))
	copy(out[1:], tag)
	return out
}

func decodeTag(raw []byte) (tag string, rest []byte, err error) {
	if len(raw) < 1 {
		return "", nil, ErrMetadataTruncated
	}
	tagLen := int(raw[0])
	if len(raw) < 1+tagLen {
		return "", nil, ErrMetadataTruncated
	}
	return string(raw[1 : 1+tagLen]), raw[1+tagLen:], nil
}

// EncodeCommitmentPayload serializes a channel tag plus a 32-byte key
// commitment: the shape shared by CHANNEL_METADATA,
// CHANNEL_KEY_VERIFY_RESPONSE, and CHANNEL_PASSWORD_UPDATE.
func EncodeCommitmentPayload(tag string, commitment [32]byte) []byte {
	out := encodeTag(tag)
	return append(out, commitment[:]...)
}

// DecodeCommitmentPayload reverses EncodeCommitmentPayload.
func DecodeCommitmentPayload(raw []byte) (tag string, commitment [32]byte, err error) {
	tag, rest, err := decodeTag(raw)
	if err != nil {
		return "", commitment, err
	}
	if len(rest) < 32 {
		return "", commitment, ErrMetadataTruncated
	}
	copy(commitment[:], rest[:32])
	return tag, commitment, nil
}

// EncodeTagPayload serializes just a channel tag, the shape used by
// CHANNEL_KEY_VERIFY_REQUEST.
func EncodeTagPayload(tag string) []byte {
	return encodeTag(tag)
}

// DecodeTagPayload reverses EncodeTagPayload.
func DecodeTagPayload(raw []byte) (string, error) {
	tag, _, err := decodeTag(raw)
	return tag, err
}

// EncodeAnnouncePayload serializes a CHANNEL_ANNOUNCE: the channel tag,
// its creator's peer-id, and whether it is password protected.
func EncodeAnnouncePayload(tag string, creator protocol.PeerID, passwordProtected bool) []byte {
	out := encodeTag(tag)
	out = append(out, creator[:]...)
	if passwordProtected {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	return out
}

// DecodeAnnouncePayload reverses EncodeAnnouncePayload.
func DecodeAnnouncePayload(raw []byte) (tag string, creator protocol.PeerID, passwordProtected bool, err error) {
	tag, rest, err := decodeTag(raw)
	if err != nil {
		return "", creator, false, err
	}
	if len(rest) < protocol.PeerIDSize+1 {
		return "", creator, false, ErrMetadataTruncated
	}
	copy(creator[:], rest[:protocol.PeerIDSize])
	passwordProtected = rest[protocol.PeerIDSize] != 0
	return tag, creator, passwordProtected, nil
}

// EncodeRetentionPayload serializes a CHANNEL_RETENTION: the channel tag
// and a retention window in seconds.
func EncodeRetentionPayload(tag string, seconds uint32) []byte {
	out := encodeTag(tag)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], seconds)
	return append(out, buf[:]...)
}

// DecodeRetentionPayload reverses EncodeRetentionPayload.
func DecodeRetentionPayload(raw []byte) (tag string, seconds uint32, err error) {
	tag, rest, err := decodeTag(raw)
	if err != nil {
		return "", 0, err
	}
	if len(rest) < 4 {
		return "", 0, ErrMetadataTruncated
	}
	return tag, binary.BigEndian.Uint32(rest[:4]), nil
}
