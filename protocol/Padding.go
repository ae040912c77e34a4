/*
File Name:  Padding.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Block padding. Encoded packets are padded to one of BlockSizes to make
traffic analysis by size harder. The final byte of the padded buffer
always holds the padding length so it can be stripped again.
*/

package protocol

import (
	"crypto/rand"
)

// BlockSizes are the padding targets, smallest first.
var BlockSizes = []int{256, 512, 1024, 2048}

// MaxPaddingLength is the largest padding amount representable in the
// trailing length byte. Above this, no padding is applied.
const MaxPaddingLength = 255

// pad appends random padding bytes followed by a length byte so that the
// result is padded to the smallest block size in BlockSizes for which
// len(data)+16 fits. The padding length is capped at MaxPaddingLength;
// above that cap, no padding is applied and data is returned unchanged.
func pad(data []byte) []byte {
	target := 0
	for _, size := range BlockSizes {
		if len(data)+16 <= size {
			target = size
			break
		}
	}

	if target == 0 {
		return data
	}

	padLen := target - len(data) - 1
	if padLen > MaxPaddingLength {
		return data
	}

	out := make([]byte, target)
	copy(out, data)
	if padLen > 0 {
		rand.Read(out[len(data) : len(data)+padLen])
	}
	out[target-1] = byte(padLen)

	return out
}

// isBlockSize reports whether n is one of BlockSizes.
func isBlockSize(n int) bool {
	for _, size := range BlockSizes {
		if n == size {
			return true
		}
	}
	return false
}

// unpad strips trailing padding added by pad. Padding is only present when
// the buffer length is exactly one of BlockSizes; otherwise the packet was
// emitted at its natural size and is returned unchanged.
func unpad(data []byte) []byte {
	if !isBlockSize(len(data)) {
		return data
	}

	padLen := int(data[len(data)-1])
	if padLen+1 > len(data) {
		return data
	}

	return data[:len(data)-padLen-1]
}
