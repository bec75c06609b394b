// ABOUTME: Byte-exact binary snapshot codec
// ABOUTME: Serializes a heap's header-through-used bytes and re-adopts them

package heapio

import (
	"bufio"
	"fmt"
	"io"

	"github.com/smolworld/smolheap/heap"
)

// Snapshot is the binary heap codec. Its wire form IS the in-memory
// heap layout: the serialized bytes are the heap's header through its
// used mark, so decoding is adoption and encoding is a single write.
type Snapshot struct{}

// Decode reads a serialized heap and adopts it. The reconstructed
// heap's capacity equals its used size; resize or collect into a larger
// heap before allocating into it.
func (c *Snapshot) Decode(r io.Reader) (*heap.Heap, error) {
	buf, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	h, err := heap.Adopt(buf, len(buf))
	if err != nil {
		return nil, fmt.Errorf("adopting snapshot: %w", err)
	}
	return h, nil
}

// Encode writes the heap's bytes to w.
func (c *Snapshot) Encode(w io.Writer, h *heap.Heap) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(h.Bytes()); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return bw.Flush()
}
