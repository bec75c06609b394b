// ABOUTME: JSON front-end codec for heaps
// ABOUTME: Renders the root's object graph as JSON and parses JSON into a fresh heap

package heapio

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/smolworld/smolheap/heap"
)

// JSON is a debugging and interop codec. Encoding renders the values
// reachable from the root as a JSON document: dicts become objects,
// arrays and vectors become arrays, symbols and strings become strings,
// blobs become base64 strings. Decoding parses any JSON document into a
// fresh heap whose root is the document's value. Sharing and the
// Array/Vector and Null/Nullish distinctions do not survive the round
// trip; use Snapshot when they matter.
type JSON struct{}

// ErrCycle is returned when encoding a heap whose reachable graph
// contains a reference cycle, which JSON cannot represent.
var ErrCycle = errors.New("cycle in heap object graph")

//---- Decoding

// Decode parses a JSON document into a fresh heap. The heap is sized by
// retrying with doubled capacity until the document fits.
func (c *JSON) Decode(r io.Reader) (*heap.Heap, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for capacity := 4096; capacity <= heap.MaxHeapSize; capacity *= 2 {
		h, err := heap.New(capacity)
		if err != nil {
			return nil, err
		}
		root, err := buildValue(h, doc)
		if err == nil {
			h.SetRoot(root)
			return h, nil
		}
		if !errors.Is(err, heap.ErrOutOfMemory) {
			return nil, err
		}
	}
	return nil, heap.ErrOutOfMemory
}

// buildValue allocates the heap form of a decoded JSON value.
func buildValue(h *heap.Heap, doc any) (heap.Val, error) {
	switch v := doc.(type) {
	case nil:
		return heap.Nullish, nil
	case bool:
		return heap.BoolVal(v), nil
	case json.Number:
		return buildNumber(h, v)
	case string:
		s, err := heap.NewString(h, v)
		if err != nil {
			return heap.Null, err
		}
		return s.Val(), nil
	case []any:
		a, err := heap.NewArray(h, len(v))
		if err != nil {
			return heap.Null, err
		}
		for i, item := range v {
			iv, err := buildValue(h, item)
			if err != nil {
				return heap.Null, err
			}
			a.Set(i, iv)
		}
		return a.Val(), nil
	case map[string]any:
		d, err := heap.NewDict(h, len(v))
		if err != nil {
			return heap.Null, err
		}
		for key, item := range v {
			sym, err := h.Symbols().Intern(key)
			if err != nil {
				return heap.Null, err
			}
			iv, err := buildValue(h, item)
			if err != nil {
				return heap.Null, err
			}
			d.Set(sym.Val(), iv)
		}
		return d.Val(), nil
	default:
		return heap.Null, fmt.Errorf("unsupported JSON value %T", doc)
	}
}

func buildNumber(h *heap.Heap, num json.Number) (heap.Val, error) {
	if i, err := num.Int64(); err == nil {
		return heap.NewInt(h, i)
	}
	if bi, ok := new(big.Int).SetString(num.String(), 10); ok {
		b, err := heap.NewBigInt(h, bi)
		if err != nil {
			return heap.Null, err
		}
		return b.Val(), nil
	}
	f, err := num.Float64()
	if err != nil {
		return heap.Null, fmt.Errorf("bad JSON number %q: %w", num, err)
	}
	fl, err := heap.NewFloat(h, f)
	if err != nil {
		return heap.Null, err
	}
	return fl.Val(), nil
}

//---- Encoding

// Encode renders the heap's reachable graph as one JSON document.
func (c *JSON) Encode(w io.Writer, h *heap.Heap) error {
	doc, err := renderValue(h, h.Root(), make(map[heap.Pos]bool))
	if err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(doc)
}

// renderValue converts a heap value to its JSON form. onStack holds the
// positions of containers currently being rendered, for cycle detection.
func renderValue(h *heap.Heap, v heap.Val, onStack map[heap.Pos]bool) (any, error) {
	switch v.Type(h) {
	case heap.TypeNull:
		return nil, nil
	case heap.TypeBool:
		return v.AsBool(), nil
	case heap.TypeInt:
		return v.AsInt(), nil
	}

	b, _ := h.Object(v)
	if onStack[b.Pos()] {
		return nil, ErrCycle
	}
	switch b.Type() {
	case heap.TypeFloat:
		f, _ := b.AsFloat()
		return f.Float64(), nil
	case heap.TypeBigInt:
		bi, _ := b.AsBigInt()
		return json.Number(bi.Int().String()), nil
	case heap.TypeString:
		s, _ := b.AsString()
		return s.Str(), nil
	case heap.TypeSymbol:
		s, _ := b.AsSymbol()
		return s.Str(), nil
	case heap.TypeBlob:
		bl, _ := b.AsBlob()
		return base64.StdEncoding.EncodeToString(bl.Bytes()), nil
	case heap.TypeArray:
		a, _ := b.AsArray()
		onStack[b.Pos()] = true
		defer delete(onStack, b.Pos())
		out := make([]any, a.Len())
		for i := range out {
			item, err := renderValue(h, a.Get(i), onStack)
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil
	case heap.TypeVector:
		vec, _ := b.AsVector()
		onStack[b.Pos()] = true
		defer delete(onStack, b.Pos())
		out := make([]any, vec.Len())
		for i := range out {
			item, err := renderValue(h, vec.Get(i), onStack)
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil
	case heap.TypeDict:
		d, _ := b.AsDict()
		onStack[b.Pos()] = true
		defer delete(onStack, b.Pos())
		out := make(map[string]any, d.Len())
		var walkErr error
		d.ForEach(func(key, value heap.Val) bool {
			kb, _ := h.Object(key)
			sym, ok := kb.AsSymbol()
			if !ok {
				walkErr = fmt.Errorf("dict key at %d is not a symbol", kb.Pos())
				return false
			}
			item, err := renderValue(h, value, onStack)
			if err != nil {
				walkErr = err
				return false
			}
			out[sym.Str()] = item
			return true
		})
		if walkErr != nil {
			return nil, walkErr
		}
		return out, nil
	}
	return nil, fmt.Errorf("unrenderable type %v", b.Type())
}
