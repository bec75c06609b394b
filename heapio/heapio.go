// ABOUTME: Format dispatch for serialized heaps
// ABOUTME: The heap's own magic number decides binary vs JSON decoding

// Package heapio serializes heaps. Two formats exist: the binary
// Snapshot, whose wire form is the heap's own byte layout, and a JSON
// front-end for debugging and interop. Open tells them apart the way
// the heap itself does — by the magic number in the first header word.
package heapio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/smolworld/smolheap/heap"
)

// ErrUnknownFormat is returned by Open when the input starts with
// neither the heap magic nor a JSON value.
var ErrUnknownFormat = errors.New("data is neither a heap snapshot nor JSON")

// Codec is implemented by both heap serialization formats.
type Codec interface {
	// Decode reads serialized data and reconstructs a heap.
	Decode(r io.Reader) (*heap.Heap, error)

	// Encode writes the heap to w in this codec's format.
	Encode(w io.Writer, h *heap.Heap) error
}

// Open reads serialized heap data in either format. A stream whose
// first four bytes are the heap magic is a binary snapshot; anything
// that opens like a JSON value goes to the JSON codec.
func Open(r io.Reader) (*heap.Heap, error) {
	// Peek far enough to see the magic word, or a JSON value behind
	// leading whitespace.
	prefix := make([]byte, 16)
	n, err := io.ReadFull(r, prefix)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	rest := io.MultiReader(bytes.NewReader(prefix[:n]), r)

	if n >= 4 && binary.LittleEndian.Uint32(prefix) == heap.Magic {
		return (&Snapshot{}).Decode(rest)
	}
	if startsJSONValue(prefix[:n]) {
		return (&JSON{}).Decode(rest)
	}
	return nil, ErrUnknownFormat
}

// startsJSONValue reports whether the first non-space byte can open a
// JSON value.
func startsJSONValue(prefix []byte) bool {
	for _, b := range prefix {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{', '[', '"', 't', 'f', 'n', '-',
			'0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
			return true
		default:
			return false
		}
	}
	return false
}
