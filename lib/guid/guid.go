/*
	Short, sortable, unique-enough identifiers.

	Ids are a base32 encoding of coarse wall time plus random bits: sorting
	them lexicographically approximates creation order, which makes a dir
	full of backup artifacts pleasant to read.  These are not secrets and
	not cryptographic; collision resistance only needs to cover "many ids
	from one process in one test run".
*/
package guid

import (
	"crypto/rand"
	"encoding/binary"
	"strings"
	"time"
)

const size = 16

// Crockford's alphabet: no vowels, no easily-confused glyphs.
const alphabet = "0123456789abcdefghjkmnpqrstvwxyz"

func New() string {
	var buf [10]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(time.Now().Unix()))
	if _, err := rand.Read(buf[4:]); err != nil {
		panic(err) // the platform rng being broken is not a recoverable state.
	}
	var sb strings.Builder
	sb.Grow(size)
	// 10 bytes = 80 bits = 16 base32 chars exactly.
	var acc uint
	var nbits uint
	for _, b := range buf {
		acc = acc<<8 | uint(b)
		nbits += 8
		for nbits >= 5 {
			nbits -= 5
			sb.WriteByte(alphabet[(acc>>nbits)&31])
		}
	}
	return sb.String()
}
