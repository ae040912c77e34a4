/*
File Name:  Payload.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Wire encoding for a MESSAGE packet's payload: an optional channel tag
plus the UTF-8 content. Grounded on protocol.Packet's own
flag-byte-then-fields layout, applied one level up at the application
payload.
*/

package chat

import "errors"

// ErrPayloadTruncated is returned when a MESSAGE payload ends before a
// length-prefixed field is satisfied.
var ErrPayloadTruncated = errors.New("chat: truncated message payload")

// EncodePayload serializes a chat message body for the wire. If
// hasChannel is false, channel is ignored.
func EncodePayload(channel string, hasChannel bool, content string) []byte {
	if !hasChannel {
		out := make([]byte, 1+len(content))
		out[0] = 0
		copy(out[1:], content)
		return out
	}

	out := make([]byte, 0, 2+len(channel)+len(content))
	out = append(out, 1, byte(len(channel)))
	out = append(out, channel...)
	out = append(out, content...)
	return out
}

// DecodePayload parses a MESSAGE payload produced by EncodePayload.
func DecodePayload(raw []byte) (channel string, hasChannel bool, content string, err error) {
	if len(raw) < 1 {
		return "", false, "", ErrPayloadTruncated
	}

	if raw[0] == 0 {
		return "", false, string(raw[1:]), nil
	}

	if len(raw) < 2 {
		return "", false, "", ErrPayloadTruncated
	}
	channelLen := int(raw[1])
	if len(raw) < 2+channelLen {
		return "", false, "", ErrPayloadTruncated
	}
	channel = string(raw[2 : 2+channelLen])
	content = string(raw[2+channelLen:])
	return channel, true, content, nil
}
