// ABOUTME: Object block headers: type tag, small/large size form, forwarding slot
// ABOUTME: Every heap allocation starts with one of these headers

package heap

import "encoding/binary"

// Block header packing:
//
//	byte 0: bit 0 forwarded, bits 1-3 type tag, bit 4 large-size flag
//	small form: byte 1 holds dataSize (0..LargeSize-1); payload at byte 2
//	large form: byte 1 zero, bytes 2-5 little-endian dataSize; payload at byte 6
//
// The forwarding slot is bytes 1-4 regardless of form: when a collection
// moves a block, the destination position is written there and bit 0 is
// set. That overwrites the size byte and up to three payload bytes, so
// type and size must be read before forwarding. Blocks start on even
// offsets and are at least six bytes long so the slot always fits.
const (
	tagForwarded = 0x01
	tagTypeMask  = 0x0E
	tagLarge     = 0x10

	smallHeaderSize = 2
	largeHeaderSize = 6

	// LargeSize is the smallest dataSize that needs the large form.
	LargeSize = 255

	minBlockSize = 6
)

// blockSizeFor returns the total byte length a block with the given
// payload size occupies, including header and padding.
func blockSizeFor(dataSize int) int {
	var n int
	if dataSize < LargeSize {
		n = smallHeaderSize + dataSize
	} else {
		n = largeHeaderSize + dataSize
	}
	if n < minBlockSize {
		n = minBlockSize
	}
	return (n + 1) &^ 1
}

// Block is a typed allocation inside a heap, addressed by position.
// The zero Block is "no block".
type Block struct {
	h   *Heap
	pos Pos
}

// IsNil reports whether b is the zero Block.
func (b Block) IsNil() bool { return b.h == nil }

// Pos returns the block's position in its heap.
func (b Block) Pos() Pos { return b.pos }

// Heap returns the heap the block lives in.
func (b Block) Heap() *Heap { return b.h }

// Val returns a reference Val for the block.
func (b Block) Val() Val { return objRef(b.pos) }

func (b Block) tags() byte { return b.h.mem[b.pos] }

// Type returns the block's type tag.
func (b Block) Type() Type { return Type((b.tags() & tagTypeMask) >> 1) }

// DataSize returns the payload length in bytes.
func (b Block) DataSize() int {
	if b.tags()&tagLarge != 0 {
		return int(binary.LittleEndian.Uint32(b.h.mem[b.pos+2:]))
	}
	return int(b.h.mem[b.pos+1])
}

// dataPos returns the position of the first payload byte.
func (b Block) dataPos() Pos {
	if b.tags()&tagLarge != 0 {
		return b.pos + largeHeaderSize
	}
	return b.pos + smallHeaderSize
}

// Data returns the block's payload bytes.
func (b Block) Data() []byte {
	p := b.dataPos()
	return b.h.mem[p : int(p)+b.DataSize()]
}

// size returns the block's total footprint including padding.
func (b Block) size() int { return blockSizeFor(b.DataSize()) }

// valCount returns how many Val slots the payload holds.
func (b Block) valCount() int { return b.DataSize() / valSize }

// valSize is the byte width of one Val slot.
const valSize = 4

// slotPos returns the position of Val slot i.
func (b Block) slotPos(i int) Pos { return b.dataPos() + Pos(i*valSize) }

// forwarded reports whether the block has been moved by a collection.
func (b Block) forwarded() bool { return b.tags()&tagForwarded != 0 }

// forwardingPos returns the destination position recorded by a
// collection. Only meaningful while forwarded.
func (b Block) forwardingPos() Pos {
	return Pos(binary.LittleEndian.Uint32(b.h.mem[b.pos+1:]))
}

// setForwarding records the block's new position and marks it moved.
// Type and size become unreadable afterwards.
func (b Block) setForwarding(dst Pos) {
	binary.LittleEndian.PutUint32(b.h.mem[b.pos+1:], uint32(dst))
	b.h.mem[b.pos] |= tagForwarded
}

// writeBlockHeader stamps a header at pos and zeroes the rest of the
// block's footprint.
func writeBlockHeader(h *Heap, pos Pos, t Type, dataSize int) {
	total := blockSizeFor(dataSize)
	for i := 0; i < total; i++ {
		h.mem[int(pos)+i] = 0
	}
	tags := byte(t) << 1
	if dataSize < LargeSize {
		h.mem[pos] = tags
		h.mem[pos+1] = byte(dataSize)
	} else {
		h.mem[pos] = tags | tagLarge
		binary.LittleEndian.PutUint32(h.mem[pos+2:], uint32(dataSize))
	}
}
