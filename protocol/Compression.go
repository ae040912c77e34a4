/*
File Name:  Compression.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Opportunistic payload compression. Decoding always understands the
compressed wire form; encoding only attempts it when CompressionEnabled is
set, per the open question in the specification about compression not yet
interoperating reliably in the field.
*/

package protocol

import (
	"bytes"
	"compress/flate"
	"io"
)

// CompressionThreshold is the minimum payload size, in bytes, for which
// compression is attempted.
const CompressionThreshold = 100

// CompressionEnabled gates whether Encode attempts compression at all.
// Decode always supports the compressed wire form regardless of this flag.
var CompressionEnabled = false

// compress returns the deflate-compressed form of data, or nil if
// compression did not help or is not worth attempting.
func compress(data []byte) []byte {
	if !CompressionEnabled || len(data) < CompressionThreshold {
		return nil
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil
	}
	if _, err := w.Write(data); err != nil {
		return nil
	}
	if err := w.Close(); err != nil {
		return nil
	}

	if buf.Len() >= len(data) {
		return nil
	}

	return buf.Bytes()
}

// decompress inflates data and validates the result is exactly
// originalSize bytes long.
func decompress(data []byte, originalSize int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	out := make([]byte, originalSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}

	// Confirm no trailing garbage remains, i.e. originalSize was exact.
	var extra [1]byte
	if n, _ := r.Read(extra[:]); n != 0 {
		return nil, ErrTruncated
	}

	return out, nil
}
