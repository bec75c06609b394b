// ABOUTME: Per-heap symbol table interning Symbol blocks by content
// ABOUTME: Acts as a GC root so intern identity survives collections

package heap

// SymbolTable interns Symbol blocks: at most one block per distinct
// name exists in a heap. The table is scanned as a root during
// collection, so interned symbols stay live and equal names keep
// resolving to the same (relocated) block. Adopting serialized heap
// bytes rebuilds the table by scanning for Symbol blocks.
type SymbolTable struct {
	h    *Heap
	syms map[string]Pos
}

func newSymbolTable(h *Heap) *SymbolTable {
	return &SymbolTable{h: h, syms: make(map[string]Pos)}
}

// rebuildSymbolTable scans adopted heap bytes for Symbol blocks. The
// interning invariant guarantees at most one block per name; if
// malformed input breaks it, the first block wins.
func rebuildSymbolTable(h *Heap) *SymbolTable {
	t := newSymbolTable(h)
	h.VisitAll(func(b Block) bool {
		if s, ok := b.AsSymbol(); ok {
			if _, dup := t.syms[s.Str()]; !dup {
				t.syms[s.Str()] = b.Pos()
			}
		}
		return true
	})
	return t
}

// Len returns the number of interned symbols.
func (t *SymbolTable) Len() int { return len(t.syms) }

// Find returns the symbol interned under name, if any.
func (t *SymbolTable) Find(name string) (Symbol, bool) {
	pos, ok := t.syms[name]
	if !ok {
		return Symbol{}, false
	}
	return Symbol{Block{t.h, pos}}, true
}

// Intern returns the symbol for name, allocating it on first use.
func (t *SymbolTable) Intern(name string) (Symbol, error) {
	if pos, ok := t.syms[name]; ok {
		return Symbol{Block{t.h, pos}}, nil
	}
	b, ok := t.h.allocBlock(TypeSymbol, len(name))
	if !ok {
		return Symbol{}, ErrOutOfMemory
	}
	copy(b.Data(), name)
	t.syms[name] = b.Pos()
	return Symbol{b}, nil
}

// Visit calls fn for every interned symbol. Return false to stop.
func (t *SymbolTable) Visit(fn func(Symbol) bool) {
	for _, pos := range t.syms {
		if !fn(Symbol{Block{t.h, pos}}) {
			return
		}
	}
}

func (t *SymbolTable) clear() {
	t.syms = make(map[string]Pos)
}

// forwardAll copies every interned symbol into the collector's
// destination heap and records the new positions.
func (t *SymbolTable) forwardAll(c *collector) {
	for name, pos := range t.syms {
		t.syms[name] = c.forward(objRef(pos)).Pos()
	}
}
