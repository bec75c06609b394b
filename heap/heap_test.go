// ABOUTME: Tests for the Heap container
// ABOUTME: Validates construction, bump allocation, visitors, resize, reset

package heap

import (
	"errors"
	"testing"
)

func mustNewHeap(t *testing.T, capacity int) *Heap {
	t.Helper()
	h, err := New(capacity)
	if err != nil {
		t.Fatalf("New(%d): %v", capacity, err)
	}
	return h
}

func TestEmptyHeap(t *testing.T) {
	h := mustNewHeap(t, 10000)

	if !h.Valid() {
		t.Error("fresh heap is not valid")
	}
	if h.Used() != HeaderSize {
		t.Errorf("used = %d, want %d", h.Used(), HeaderSize)
	}
	if h.Capacity() != 10000 {
		t.Errorf("capacity = %d, want 10000", h.Capacity())
	}
	if !h.Root().IsNull() {
		t.Error("fresh heap root is not null")
	}
	if _, ok := h.RootBlock(); ok {
		t.Error("fresh heap has a root block")
	}
	if Current() != nil {
		t.Error("current heap set outside any Enter")
	}

	calls := 0
	h.Visit(func(Block) bool {
		calls++
		return true
	})
	if calls != 0 {
		t.Errorf("Visit on empty heap made %d calls", calls)
	}
}

func TestHeapTooSmall(t *testing.T) {
	if _, err := New(HeaderSize - 1); !errors.Is(err, ErrHeapTooSmall) {
		t.Errorf("New below header size: %v, want ErrHeapTooSmall", err)
	}
	if _, err := NewAt(make([]byte, 3)); !errors.Is(err, ErrHeapTooSmall) {
		t.Errorf("NewAt below header size: %v, want ErrHeapTooSmall", err)
	}
}

func TestBumpAllocationFillsHeap(t *testing.T) {
	const capacity = 10000
	h := mustNewHeap(t, capacity)

	first, err := NewBlob(h, make([]byte, 123))
	if err != nil {
		t.Fatal(err)
	}

	// The second blob exactly fills the rest: its footprint must equal
	// what remains.
	second := h.Remaining() - 6 // large-form header
	if _, err := NewBlob(h, make([]byte, second)); err != nil {
		t.Fatal(err)
	}

	if h.Used() != capacity {
		t.Errorf("used = %d, want %d", h.Used(), capacity)
	}
	if h.Remaining() != 0 {
		t.Errorf("remaining = %d, want 0", h.Remaining())
	}

	var sizes []int
	h.VisitAll(func(b Block) bool {
		if b.Type() != TypeBlob {
			t.Errorf("unexpected block type %v", b.Type())
		}
		sizes = append(sizes, b.DataSize())
		return true
	})
	if len(sizes) != 2 || sizes[0] != 123 || sizes[1] != second {
		t.Errorf("VisitAll sizes = %v, want [123 %d]", sizes, second)
	}
	if first.DataSize() != 123 {
		t.Errorf("first blob dataSize = %d", first.DataSize())
	}

	if data := h.Alloc(1); data != nil {
		t.Error("allocation in a full heap succeeded")
	}
}

func TestAllocManySizes(t *testing.T) {
	h := mustNewHeap(t, 1<<20)

	// Sizes straddle the small/large header boundary.
	sizes := []int{0, 1, 2, 3, 7, 16, 123, 253, 254, 255, 256, 300, 1000, 5000}
	for i, n := range sizes {
		data := make([]byte, n)
		for j := range data {
			data[j] = byte(i + 1)
		}
		if _, err := NewBlob(h, data); err != nil {
			t.Fatalf("blob %d (%d bytes): %v", i, n, err)
		}
	}

	i := 0
	h.VisitAll(func(b Block) bool {
		if b.DataSize() != sizes[i] {
			t.Errorf("block %d: dataSize = %d, want %d", i, b.DataSize(), sizes[i])
		}
		for j, c := range b.Data() {
			if c != byte(i+1) {
				t.Fatalf("block %d byte %d = %d, want %d", i, j, c, i+1)
			}
		}
		i++
		return true
	})
	if i != len(sizes) {
		t.Errorf("VisitAll enumerated %d blocks, want %d", i, len(sizes))
	}
}

func TestAdoptRejectsMalformed(t *testing.T) {
	h := mustNewHeap(t, 4096)
	s, err := NewString(h, "root")
	if err != nil {
		t.Fatal(err)
	}
	h.SetRoot(s.Val())
	good := append([]byte(nil), h.Bytes()...)

	t.Run("valid", func(t *testing.T) {
		if _, err := Adopt(append([]byte(nil), good...), len(good)); err != nil {
			t.Errorf("adopting valid bytes: %v", err)
		}
	})

	t.Run("wrong magic", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[0] ^= 0xFF
		if _, err := Adopt(bad, len(bad)); !errors.Is(err, ErrMalformedHeap) {
			t.Errorf("got %v, want ErrMalformedHeap", err)
		}
	})

	t.Run("root out of range", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		// Truncate the used region so the root points past it.
		if _, err := Adopt(bad, HeaderSize); !errors.Is(err, ErrMalformedHeap) {
			t.Errorf("got %v, want ErrMalformedHeap", err)
		}
	})

	t.Run("used too small", func(t *testing.T) {
		if _, err := Adopt(good, 2); !errors.Is(err, ErrMalformedHeap) {
			t.Errorf("got %v, want ErrMalformedHeap", err)
		}
	})

	t.Run("used past capacity", func(t *testing.T) {
		if _, err := Adopt(good, len(good)+1); !errors.Is(err, ErrMalformedHeap) {
			t.Errorf("got %v, want ErrMalformedHeap", err)
		}
	})
}

func TestAdoptRoundTrip(t *testing.T) {
	h := mustNewHeap(t, 8192)
	s, err := NewString(h, "persisted")
	if err != nil {
		t.Fatal(err)
	}
	a, err := NewArrayOf(h, IntVal(7), s.Val())
	if err != nil {
		t.Fatal(err)
	}
	h.SetRoot(a.Val())

	buf := append([]byte(nil), h.Bytes()...)
	h2, err := Adopt(buf, len(buf))
	if err != nil {
		t.Fatal(err)
	}
	rb, ok := h2.RootBlock()
	if !ok {
		t.Fatal("re-adopted heap has no root block")
	}
	a2, ok := rb.AsArray()
	if !ok {
		t.Fatal("re-adopted root is not an array")
	}
	if a2.Get(0).AsInt() != 7 {
		t.Errorf("slot 0 = %d, want 7", a2.Get(0).AsInt())
	}
	sb, _ := h2.Object(a2.Get(1))
	s2, ok := sb.AsString()
	if !ok || s2.Str() != "persisted" {
		t.Errorf("slot 1 = %q, want \"persisted\"", s2.Str())
	}
}

func TestReset(t *testing.T) {
	h := mustNewHeap(t, 4096)
	s, err := NewString(h, "gone")
	if err != nil {
		t.Fatal(err)
	}
	h.SetRoot(s.Val())

	h.Reset()
	if h.Used() != HeaderSize {
		t.Errorf("used after reset = %d, want %d", h.Used(), HeaderSize)
	}
	if !h.Root().IsNull() {
		t.Error("root survives reset")
	}
	n := 0
	h.VisitAll(func(Block) bool { n++; return true })
	if n != 0 {
		t.Errorf("VisitAll after reset found %d blocks", n)
	}
}

func TestResize(t *testing.T) {
	t.Run("shrink below used", func(t *testing.T) {
		h := mustNewHeap(t, 4096)
		h.Alloc(100)
		if err := h.Resize(h.Used() - 1); !errors.Is(err, ErrResizeBelowUsed) {
			t.Errorf("got %v, want ErrResizeBelowUsed", err)
		}
	})

	t.Run("grow owned", func(t *testing.T) {
		h := mustNewHeap(t, 4096)
		if err := h.Resize(8192); !errors.Is(err, ErrResizeOwned) {
			t.Errorf("got %v, want ErrResizeOwned", err)
		}
	})

	t.Run("shrink then regrow", func(t *testing.T) {
		h := mustNewHeap(t, 4096)
		if err := h.Resize(1024); err != nil {
			t.Fatalf("shrink: %v", err)
		}
		if h.Capacity() != 1024 {
			t.Errorf("capacity = %d, want 1024", h.Capacity())
		}
		// Owned heaps never grow, not even back to their original size.
		if err := h.Resize(4096); !errors.Is(err, ErrResizeOwned) {
			t.Errorf("regrow owned heap: %v, want ErrResizeOwned", err)
		}
	})

	t.Run("grow with backing", func(t *testing.T) {
		buf := make([]byte, 64, 4096)
		h, err := NewAt(buf)
		if err != nil {
			t.Fatal(err)
		}
		if err := h.Resize(4096); err != nil {
			t.Fatalf("grow into backing capacity: %v", err)
		}
		if err := h.Resize(8192); !errors.Is(err, ErrResizeOwned) {
			t.Errorf("grow past backing: %v, want ErrResizeOwned", err)
		}
	})
}

func TestAllocFailureHandler(t *testing.T) {
	buf := make([]byte, 64, 4096)
	h, err := NewAt(buf)
	if err != nil {
		t.Fatal(err)
	}

	grew := 0
	h.SetAllocFailureHandler(func(failed *Heap, need int) bool {
		grew++
		return failed.Resize(failed.Capacity()*2+need) == nil
	})

	if data := h.Alloc(500); data == nil {
		t.Fatal("allocation failed despite growing handler")
	}
	if grew == 0 {
		t.Error("handler never ran")
	}

	// Once the backing array is exhausted the handler fails and the
	// allocation returns nil.
	if data := h.Alloc(100000); data != nil {
		t.Error("allocation succeeded past backing capacity")
	}
}

func TestAllocFailureWithoutHandler(t *testing.T) {
	h := mustNewHeap(t, 64)
	if data := h.Alloc(1000); data != nil {
		t.Error("oversized allocation succeeded")
	}
}

func TestAtPanicsOnInvalidPos(t *testing.T) {
	h := mustNewHeap(t, 4096)
	for _, pos := range []Pos{NullPos, 1, Pos(h.Used()), 99999} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("At(%d) did not panic", pos)
				}
			}()
			h.At(pos)
		}()
	}
}

func TestAtTranslates(t *testing.T) {
	h := mustNewHeap(t, 4096)
	b, err := NewBlob(h, []byte{9, 8, 7})
	if err != nil {
		t.Fatal(err)
	}
	mem := h.At(b.Pos())
	if len(mem) == 0 {
		t.Fatal("At returned empty slice")
	}
	if !h.Contains(b.Pos()) {
		t.Error("Contains rejects a live block position")
	}
	if h.Contains(Pos(h.Used())) {
		t.Error("Contains accepts the used mark")
	}
}

func TestCurrentHeapScoping(t *testing.T) {
	h1 := mustNewHeap(t, 1024)
	h2 := mustNewHeap(t, 1024)

	release1 := h1.Enter()
	if Current() != h1 {
		t.Error("h1 not current after Enter")
	}

	release2 := h2.Enter()
	if Current() != h2 {
		t.Error("h2 not current after nested Enter")
	}
	release2()
	if Current() != h1 {
		t.Error("h1 not restored after nested release")
	}
	release1()
	if Current() != nil {
		t.Error("current heap not cleared after final release")
	}
}

func TestExitingNonCurrentHeapPanics(t *testing.T) {
	h1 := mustNewHeap(t, 1024)
	h2 := mustNewHeap(t, 1024)

	release1 := h1.Enter()
	release2 := h2.Enter()

	defer func() {
		if recover() == nil {
			t.Error("out-of-order release did not panic")
		}
		release2()
		release1()
	}()
	release1() // h2 is current; this must panic
}

func TestVisitSubsetOfVisitAll(t *testing.T) {
	h := mustNewHeap(t, 8192)
	live, err := NewString(h, "live")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewString(h, "garbage"); err != nil {
		t.Fatal(err)
	}
	a, err := NewArrayOf(h, live.Val(), live.Val())
	if err != nil {
		t.Fatal(err)
	}
	h.SetRoot(a.Val())

	reachable := make(map[Pos]bool)
	h.Visit(func(b Block) bool {
		if reachable[b.Pos()] {
			t.Errorf("Visit saw block %d twice", b.Pos())
		}
		reachable[b.Pos()] = true
		return true
	})

	all := make(map[Pos]bool)
	h.VisitAll(func(b Block) bool {
		all[b.Pos()] = true
		return true
	})

	if len(reachable) != 2 {
		t.Errorf("Visit found %d blocks, want 2 (array + shared string)", len(reachable))
	}
	if len(all) != 3 {
		t.Errorf("VisitAll found %d blocks, want 3", len(all))
	}
	for pos := range reachable {
		if !all[pos] {
			t.Errorf("reachable block %d missing from VisitAll", pos)
		}
	}
}

func TestVisitStopsEarly(t *testing.T) {
	h := mustNewHeap(t, 8192)
	a, err := NewArrayOf(h, IntVal(1))
	if err != nil {
		t.Fatal(err)
	}
	h.SetRoot(a.Val())

	calls := 0
	h.Visit(func(Block) bool {
		calls++
		return false
	})
	if calls != 1 {
		t.Errorf("Visit made %d calls after stop, want 1", calls)
	}
}
