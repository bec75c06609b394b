// ABOUTME: Handle, a scoped external-root wrapper around one Val
// ABOUTME: Lets a reference live outside the heap and survive collections

package heap

// Handle owns one Val cell outside the heap, registered as an external
// root so a collection rewrites it. Use a Handle wherever a reference
// must outlive code that may trigger a GC. Close it when done; the
// registration must not outlive the Handle.
type Handle struct {
	h    *Heap
	cell []Val
}

// NewHandle registers an external-root cell holding v.
func (h *Heap) NewHandle(v Val) *Handle {
	hd := &Handle{h: h, cell: make([]Val, 1)}
	hd.cell[0] = v
	h.RegisterExternalRoots(hd.cell)
	return hd
}

// Val returns the held value, rewritten by any collections since Set.
func (hd *Handle) Val() Val { return hd.cell[0] }

// Set replaces the held value.
func (hd *Handle) Set(v Val) { hd.cell[0] = v }

// Block resolves the held value to its block, or (zero, false) for an
// inline value.
func (hd *Handle) Block() (Block, bool) { return hd.h.Object(hd.cell[0]) }

// Close unregisters the cell. The Handle must not be used afterwards.
func (hd *Handle) Close() {
	hd.h.UnregisterExternalRoots(hd.cell)
	hd.cell[0] = Null
}
