// ABOUTME: The Heap container: bump allocation, root, visitors, external roots
// ABOUTME: Owns a contiguous byte region addressed by 32-bit positions

// Package heap implements a compact embedded object memory: a
// self-contained byte region holding polymorphic dynamically-typed
// values, addressed by 32-bit offsets so the whole heap can be
// memory-mapped, shipped over a wire, or snapshotted as-is. Allocation
// is a bump allocator; reclamation is a copying garbage collector that
// relocates live objects into a fresh heap (see Collect).
package heap

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// AllocFailureHandler is invoked when the heap has no room for an
// allocation. It should free space (typically by running a collection or
// growing the heap) and return true to retry, or false to fail the
// allocation. After it runs, previously-held Vals and Blocks may have
// moved.
type AllocFailureHandler func(h *Heap, sizeNeeded int) bool

// Heap is a contiguous byte region with a bump allocator and a single
// root value. A Heap is single-threaded: it must not be shared across
// goroutines.
type Heap struct {
	mem   []byte
	used  int
	owned bool

	onAllocFailure AllocFailureHandler
	extRoots       [][]Val
	symbols        *SymbolTable
}

// New creates an empty heap with its own backing allocation of the
// given capacity. Owned heaps cannot be grown by Resize.
func New(capacity int) (*Heap, error) {
	if capacity < HeaderSize {
		return nil, ErrHeapTooSmall
	}
	if capacity > MaxHeapSize {
		return nil, fmt.Errorf("smolheap: capacity %d exceeds maximum %d", capacity, MaxHeapSize)
	}
	h := &Heap{mem: make([]byte, capacity), owned: true}
	h.Reset()
	return h, nil
}

// NewAt creates an empty heap over caller-provided storage. The heap's
// capacity is len(buf); Resize may grow it up to cap(buf).
func NewAt(buf []byte) (*Heap, error) {
	if len(buf) < HeaderSize {
		return nil, ErrHeapTooSmall
	}
	if len(buf) > MaxHeapSize {
		return nil, fmt.Errorf("smolheap: capacity %d exceeds maximum %d", len(buf), MaxHeapSize)
	}
	h := &Heap{mem: buf}
	h.Reset()
	return h, nil
}

// Adopt constructs a heap from previously serialized heap bytes. The
// used region is buf[:used]; capacity is len(buf). It fails with
// ErrMalformedHeap unless the magic matches and the root, if an object
// reference, decodes to a position inside [HeaderSize, used).
func Adopt(buf []byte, used int) (*Heap, error) {
	if len(buf) < HeaderSize || used < HeaderSize || used > len(buf) {
		return nil, fmt.Errorf("%w: bad sizes (used %d, capacity %d)", ErrMalformedHeap, used, len(buf))
	}
	if binary.LittleEndian.Uint32(buf[magicOffset:]) != Magic {
		return nil, fmt.Errorf("%w: wrong magic number", ErrMalformedHeap)
	}
	h := &Heap{mem: buf, used: used}
	root := h.valAt(rootOffset)
	if root.IsObject() {
		p := root.Pos()
		if p < HeaderSize || int(p) >= used {
			return nil, fmt.Errorf("%w: root offset out of range", ErrMalformedHeap)
		}
	}
	h.symbols = rebuildSymbolTable(h)
	return h, nil
}

// Valid reports whether the heap has backing memory.
func (h *Heap) Valid() bool { return h != nil && h.mem != nil }

// Capacity returns the maximum number of bytes the heap can hold.
func (h *Heap) Capacity() int { return len(h.mem) }

// Used returns the byte offset just past the last allocation.
func (h *Heap) Used() int { return h.used }

// Remaining returns the bytes of capacity left.
func (h *Heap) Remaining() int { return len(h.mem) - h.used }

// Bytes returns the heap's serialized form: header through used. The
// slice aliases live heap memory and goes stale on any mutation.
func (h *Heap) Bytes() []byte { return h.mem[:h.used] }

// Reset rewinds the heap to an empty state: the bump cursor returns to
// HeaderSize and the root becomes null. All prior positions, Vals and
// Blocks become invalid.
func (h *Heap) Reset() {
	h.used = HeaderSize
	writeHeader(h.mem)
	if h.symbols != nil {
		h.symbols.clear()
	}
}

// Resize moves the heap's end pointer. Shrinking below Used fails with
// ErrResizeBelowUsed; growing past the backing allocation fails with
// ErrResizeOwned. Owned heaps (from New) cannot grow at all.
func (h *Heap) Resize(newSize int) error {
	if newSize < h.used {
		return ErrResizeBelowUsed
	}
	if newSize > len(h.mem) {
		if h.owned || newSize > cap(h.mem) || newSize > MaxHeapSize {
			return ErrResizeOwned
		}
		h.mem = h.mem[:newSize]
		return nil
	}
	h.mem = h.mem[:newSize]
	return nil
}

// SetAllocFailureHandler installs the handler run when an allocation
// does not fit. Passing nil removes it.
func (h *Heap) SetAllocFailureHandler(fn AllocFailureHandler) {
	h.onAllocFailure = fn
}

// rawAlloc carves size bytes off the bump cursor. On exhaustion it asks
// the alloc-failure handler for room and retries as long as the handler
// returns true.
func (h *Heap) rawAlloc(size int) (Pos, bool) {
	for {
		if h.used+size <= len(h.mem) {
			p := Pos(h.used)
			h.used += size
			return p, true
		}
		if h.onAllocFailure == nil || !h.onAllocFailure(h, size) {
			return NullPos, false
		}
	}
}

// allocBlock allocates and initializes a block of the given type and
// payload size.
func (h *Heap) allocBlock(t Type, dataSize int) (Block, bool) {
	pos, ok := h.rawAlloc(blockSizeFor(dataSize))
	if !ok {
		return Block{}, false
	}
	writeBlockHeader(h, pos, t, dataSize)
	return Block{h, pos}, true
}

// Alloc allocates size bytes of opaque storage and returns its payload,
// or nil when the heap is exhausted and the failure handler declined.
// The storage is a Blob block, so visitors will see it. If a failure
// handler ran a collection, previously-held Vals and Blocks have moved.
func (h *Heap) Alloc(size int) []byte {
	b, ok := h.allocBlock(TypeBlob, size)
	if !ok {
		return nil
	}
	return b.Data()
}

// validPos reports whether pos addresses allocated memory past the
// header.
func (h *Heap) validPos(pos Pos) bool {
	return pos >= HeaderSize && int(pos) < h.used
}

// At translates a position to the underlying bytes from pos through the
// used region. Panics on an invalid position: the heap's integrity
// cannot be reasoned about after such a call.
func (h *Heap) At(pos Pos) []byte {
	if !h.validPos(pos) {
		panic(fmt.Sprintf("smolheap: position %d outside heap [%d,%d)", pos, HeaderSize, h.used))
	}
	return h.mem[pos:h.used]
}

// Contains reports whether pos addresses allocated memory.
func (h *Heap) Contains(pos Pos) bool { return h.validPos(pos) }

// blockAt returns the block at a position, asserting validity.
func (h *Heap) blockAt(pos Pos) Block {
	if !h.validPos(pos) {
		panic(fmt.Sprintf("smolheap: position %d outside heap [%d,%d)", pos, HeaderSize, h.used))
	}
	return Block{h, pos}
}

// Object resolves a reference Val to its Block. Inline Vals yield
// (zero, false).
func (h *Heap) Object(v Val) (Block, bool) {
	if !v.IsObject() {
		return Block{}, false
	}
	return h.blockAt(v.Pos()), true
}

// valAt reads the Val stored at a heap offset, rebasing a self-relative
// reference to absolute form.
func (h *Heap) valAt(at Pos) Val {
	bits := binary.LittleEndian.Uint32(h.mem[at:])
	v := Val(bits)
	if v.IsObject() {
		rel := int32(bits) >> tagSize
		return objRef(Pos(int32(at) + rel))
	}
	return v
}

// setValAt stores a Val at a heap offset, deriving the self-relative
// form for references.
func (h *Heap) setValAt(at Pos, v Val) {
	bits := uint32(v)
	if v.IsObject() {
		rel := int32(v.Pos()) - int32(at)
		bits = uint32(rel) << tagSize
	}
	binary.LittleEndian.PutUint32(h.mem[at:], bits)
}

// Root returns the heap's root value.
func (h *Heap) Root() Val { return h.valAt(rootOffset) }

// SetRoot stores the heap's root value.
func (h *Heap) SetRoot(v Val) { h.setValAt(rootOffset, v) }

// RootBlock returns the root's block when the root is an object
// reference, or (zero, false) otherwise.
func (h *Heap) RootBlock() (Block, bool) { return h.Object(h.Root()) }

// Symbols returns the heap's symbol table.
func (h *Heap) Symbols() *SymbolTable {
	if h.symbols == nil {
		h.symbols = newSymbolTable(h)
	}
	return h.symbols
}

//---- Current heap

var (
	currentMu   sync.Mutex
	currentHeap *Heap
)

// Current returns the heap registered by Enter, or nil. Val operations
// that must dereference a block without an explicit heap resolve it
// here.
func Current() *Heap {
	currentMu.Lock()
	defer currentMu.Unlock()
	return currentHeap
}

// Enter makes h the current heap and returns a release function that
// restores the previous one. Callers should defer the release; calling
// it when h is no longer current is a programming error and panics.
func (h *Heap) Enter() func() {
	currentMu.Lock()
	prev := currentHeap
	currentHeap = h
	currentMu.Unlock()
	return func() {
		currentMu.Lock()
		defer currentMu.Unlock()
		if currentHeap != h {
			panic("smolheap: exiting a heap that is not current")
		}
		currentHeap = prev
	}
}

//---- External roots

// RegisterExternalRoots registers a contiguous Val array as additional
// GC roots: each cell is scanned and rewritten in place during a
// collection. The same slice must be unregistered before its storage is
// reused. The slice must not be empty.
func (h *Heap) RegisterExternalRoots(roots []Val) {
	if len(roots) == 0 {
		panic("smolheap: cannot register empty external root array")
	}
	h.extRoots = append(h.extRoots, roots)
}

// UnregisterExternalRoots removes a previously registered root array,
// identified by its base. Unregistering an array that was never
// registered is a programming error and panics.
func (h *Heap) UnregisterExternalRoots(roots []Val) {
	for i := len(h.extRoots) - 1; i >= 0; i-- {
		if len(h.extRoots[i]) > 0 && &h.extRoots[i][0] == &roots[0] {
			h.extRoots = append(h.extRoots[:i], h.extRoots[i+1:]...)
			return
		}
	}
	panic("smolheap: unregistering external roots that were never registered")
}

//---- Visitors

// VisitAll calls fn once for every block between the header and the
// used mark in allocation order, reachable or not. Return false to
// stop. A block whose header claims a footprint past the used mark ends
// the walk; adopted bytes are not trusted further than their headers.
func (h *Heap) VisitAll(fn func(Block) bool) {
	pos := Pos(HeaderSize)
	for int(pos)+minBlockSize <= h.used {
		b := Block{h, pos}
		if int(pos)+b.size() > h.used {
			return
		}
		if !fn(b) {
			return
		}
		pos += Pos(b.size())
	}
}

// Visit calls fn exactly once for every block reachable from the root,
// mutating nothing. Return false to stop early.
func (h *Heap) Visit(fn func(Block) bool) {
	seen := make(map[Pos]bool)
	var queue []Pos

	process := func(v Val) bool {
		if !v.IsObject() || seen[v.Pos()] {
			return true
		}
		seen[v.Pos()] = true
		b := h.blockAt(v.Pos())
		if !fn(b) {
			return false
		}
		if b.Type().ContainsVals() && b.DataSize() > 0 {
			queue = append(queue, v.Pos())
		}
		return true
	}

	if !process(h.Root()) {
		return
	}
	for len(queue) > 0 {
		b := Block{h, queue[0]}
		queue = queue[1:]
		for i, n := 0, b.valCount(); i < n; i++ {
			if !process(h.valAt(b.slotPos(i))) {
				return
			}
		}
	}
}
