// ABOUTME: Heap positions, the serialized heap header, and its magic number
// ABOUTME: Defines the byte-exact layout constants shared by the whole package

package heap

import "encoding/binary"

// Pos is a byte offset from a heap's base. Position 0 is reserved as the
// null position; valid positions lie in [HeaderSize, used).
type Pos uint32

// NullPos is the reserved "no position" value.
const NullPos Pos = 0

// Magic identifies the heap layout. It is the first four bytes of every
// serialized heap, little-endian.
const Magic uint32 = 0xD217904A

// HeaderSize is the size of the fixed heap header: a 32-bit magic number
// followed by the root Val.
const HeaderSize = 8

// MaxHeapSize bounds a heap's capacity. Self-relative references are
// 31-bit shifted offsets, so positions must stay below 1GB.
const MaxHeapSize = 1 << 30

const (
	magicOffset = 0
	rootOffset  = 4
)

// writeHeader stamps a fresh header with a null root at the start of mem.
func writeHeader(mem []byte) {
	binary.LittleEndian.PutUint32(mem[magicOffset:], Magic)
	binary.LittleEndian.PutUint32(mem[rootOffset:], uint32(Null))
}
