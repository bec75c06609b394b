// ABOUTME: Cheney-style copying garbage collector
// ABOUTME: Relocates live blocks into a destination heap and swaps the two

package heap

// Collect runs a copying collection on h using a temporary destination
// heap of equal capacity. On return h refers to the compacted memory;
// every Val and Block held outside a registered external root is stale.
// The only possible error is failing to allocate the temporary heap.
func Collect(h *Heap) error {
	to, err := New(h.Capacity())
	if err != nil {
		return err
	}
	CollectInto(h, to)
	return nil
}

// CollectInto copies everything reachable from from's root, external
// roots and symbol table into to, then resets from and swaps the two
// backing stores, so from refers to the compacted memory and to holds
// the discarded region. to is reset before any copying. Supplying a
// destination too small for the live data is a programming error and
// panics.
//
// While the collection runs neither heap may be mutated. Afterwards,
// registered external root cells (and Handles) have been rewritten;
// unregistered Vals and Blocks from before the collection are stale.
func CollectInto(from, to *Heap) {
	if from == to {
		panic("smolheap: cannot collect a heap into itself")
	}
	to.Reset()
	c := &collector{from: from, to: to}
	c.run()

	// Swap backing stores so the caller's handle refers to the live
	// heap. The symbol table was rewritten in place and stays with
	// `from`; `to` keeps the discarded region.
	from.mem, to.mem = to.mem, from.mem
	from.used, to.used = to.used, from.used
	from.owned, to.owned = to.owned, from.owned
	if to.symbols != nil {
		to.symbols.clear()
	}
	to.Reset()
}

// collector carries the state of one collection. Pending container
// blocks wait on a slice-backed queue; each entry remembers the child
// Vals read from the source block before its forwarding slot overwrote
// them.
type collector struct {
	from, to *Heap
	queue    []scanItem
}

type scanItem struct {
	dst  Block
	kids []Val
}

func (c *collector) run() {
	c.to.SetRoot(c.forward(c.from.Root()))
	for _, roots := range c.from.extRoots {
		for i := range roots {
			roots[i] = c.forward(roots[i])
		}
	}
	if c.from.symbols != nil {
		c.from.symbols.forwardAll(c)
	}

	for len(c.queue) > 0 {
		it := c.queue[0]
		c.queue = c.queue[1:]
		for i, kid := range it.kids {
			c.to.setValAt(it.dst.slotPos(i), c.forward(kid))
		}
		if it.dst.Type() == TypeDict {
			Dict{it.dst}.sortEntries()
		}
	}
}

// forward returns the destination-heap Val for v. Inline primitives
// pass through. A block already moved resolves through its forwarding
// slot, so shared blocks keep a single copy; otherwise the block is
// copied to the destination and queued for child scanning.
func (c *collector) forward(v Val) Val {
	if !v.IsObject() {
		return v
	}
	src := c.from.blockAt(v.Pos())
	if src.forwarded() {
		return objRef(src.forwardingPos())
	}

	t := src.Type()
	n := src.DataSize()
	dst, ok := c.to.allocBlock(t, n)
	if !ok {
		panic("smolheap: destination heap too small for garbage collection")
	}
	if t.ContainsVals() {
		// Read every child before forwarding: the forwarding slot
		// overwrites the first payload bytes of a small block.
		kids := make([]Val, src.valCount())
		for i := range kids {
			kids[i] = c.from.valAt(src.slotPos(i))
		}
		src.setForwarding(dst.pos)
		c.queue = append(c.queue, scanItem{dst: dst, kids: kids})
	} else {
		copy(dst.Data(), src.Data())
		src.setForwarding(dst.pos)
	}
	return dst.Val()
}
