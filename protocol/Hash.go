/*
File Name:  Hash.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package protocol

import (
	"lukechampine.com/blake3"
)

// HashSize is the blake3 hash digest size in bytes.
const HashSize = 32

// HashData abstracts the hash function used for the router's de-dup keys.
func HashData(data []byte) []byte {
	hash32 := blake3.Sum256(data)
	return hash32[:]
}
