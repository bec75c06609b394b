// ABOUTME: Typed views over heap blocks: strings, blobs, numbers, containers
// ABOUTME: Dict keeps Symbol keys sorted by descending block position

package heap

import (
	"encoding/binary"
	"math"
	"math/big"
	"sort"
)

//---- String

// String is a UTF-8 string block. Not zero-terminated.
type String struct{ Block }

// NewString allocates a string block holding s.
func NewString(h *Heap, s string) (String, error) {
	b, ok := h.allocBlock(TypeString, len(s))
	if !ok {
		return String{}, ErrOutOfMemory
	}
	copy(b.Data(), s)
	return String{b}, nil
}

// Str returns the string contents.
func (s String) Str() string { return string(s.Data()) }

// AsString views the block as a String if it has that type.
func (b Block) AsString() (String, bool) {
	if b.IsNil() || b.Type() != TypeString {
		return String{}, false
	}
	return String{b}, true
}

//---- Symbol

// Symbol is a unique interned string: at most one Symbol block with any
// given contents exists per heap. Create them through the heap's
// SymbolTable.
type Symbol struct{ Block }

// Str returns the symbol's name.
func (s Symbol) Str() string { return string(s.Data()) }

// AsSymbol views the block as a Symbol if it has that type.
func (b Block) AsSymbol() (Symbol, bool) {
	if b.IsNil() || b.Type() != TypeSymbol {
		return Symbol{}, false
	}
	return Symbol{b}, true
}

//---- Blob

// Blob is a block of opaque bytes.
type Blob struct{ Block }

// NewBlob allocates a blob holding a copy of data.
func NewBlob(h *Heap, data []byte) (Blob, error) {
	b, ok := h.allocBlock(TypeBlob, len(data))
	if !ok {
		return Blob{}, ErrOutOfMemory
	}
	copy(b.Data(), data)
	return Blob{b}, nil
}

// Bytes returns the payload. The slice aliases heap memory.
func (b Blob) Bytes() []byte { return b.Data() }

// AsBlob views the block as a Blob if it has that type.
func (b Block) AsBlob() (Blob, bool) {
	if b.IsNil() || b.Type() != TypeBlob {
		return Blob{}, false
	}
	return Blob{b}, true
}

//---- Array

// Array is a fixed-length sequence of Val slots.
type Array struct{ Block }

// NewArray allocates an array of count null slots.
func NewArray(h *Heap, count int) (Array, error) {
	b, ok := h.allocBlock(TypeArray, count*valSize)
	if !ok {
		return Array{}, ErrOutOfMemory
	}
	return Array{b}, nil
}

// NewArrayOf allocates an array holding the given values.
func NewArrayOf(h *Heap, vals ...Val) (Array, error) {
	a, err := NewArray(h, len(vals))
	if err != nil {
		return Array{}, err
	}
	for i, v := range vals {
		a.Set(i, v)
	}
	return a, nil
}

// Len returns the number of slots.
func (a Array) Len() int { return a.valCount() }

// Get returns slot i. Panics when i is out of range.
func (a Array) Get(i int) Val {
	a.check(i)
	return a.h.valAt(a.slotPos(i))
}

// Set stores v into slot i. Panics when i is out of range.
func (a Array) Set(i int, v Val) {
	a.check(i)
	a.h.setValAt(a.slotPos(i), v)
}

func (a Array) check(i int) {
	if i < 0 || i >= a.Len() {
		panic("smolheap: array index out of range")
	}
}

// AsArray views the block as an Array if it has that type.
func (b Block) AsArray() (Array, bool) {
	if b.IsNil() || b.Type() != TypeArray {
		return Array{}, false
	}
	return Array{b}, true
}

//---- Vector

// Vector is a growable sequence with fixed capacity. Slot 0 stores the
// current size; slots 1..size are live, the rest are null.
type Vector struct{ Block }

// NewVector allocates an empty vector able to hold capacity values.
func NewVector(h *Heap, capacity int) (Vector, error) {
	b, ok := h.allocBlock(TypeVector, (capacity+1)*valSize)
	if !ok {
		return Vector{}, ErrOutOfMemory
	}
	v := Vector{b}
	v.setLen(0)
	return v, nil
}

// Cap returns how many values the vector can hold.
func (v Vector) Cap() int { return v.valCount() - 1 }

// Len returns the current number of values.
func (v Vector) Len() int { return v.h.valAt(v.slotPos(0)).AsInt() }

func (v Vector) setLen(n int) { v.h.setValAt(v.slotPos(0), IntVal(n)) }

// Get returns element i. Panics when i is out of range.
func (v Vector) Get(i int) Val {
	v.check(i)
	return v.h.valAt(v.slotPos(i + 1))
}

// Set stores val at element i. Panics when i is out of range.
func (v Vector) Set(i int, val Val) {
	v.check(i)
	v.h.setValAt(v.slotPos(i+1), val)
}

func (v Vector) check(i int) {
	if i < 0 || i >= v.Len() {
		panic("smolheap: vector index out of range")
	}
}

// Append adds val at the end. Returns false when the vector is full.
func (v Vector) Append(val Val) bool {
	n := v.Len()
	if n >= v.Cap() {
		return false
	}
	v.h.setValAt(v.slotPos(n+1), val)
	v.setLen(n + 1)
	return true
}

// Insert places val at index i, shifting later elements up. Returns
// false when the vector is full. Panics when i is past the end.
func (v Vector) Insert(val Val, i int) bool {
	n := v.Len()
	if i < 0 || i > n {
		panic("smolheap: vector insert position out of range")
	}
	if n >= v.Cap() {
		return false
	}
	for j := n; j > i; j-- {
		v.h.setValAt(v.slotPos(j+1), v.h.valAt(v.slotPos(j)))
	}
	v.h.setValAt(v.slotPos(i+1), val)
	v.setLen(n + 1)
	return true
}

// AsVector views the block as a Vector if it has that type.
func (b Block) AsVector() (Vector, bool) {
	if b.IsNil() || b.Type() != TypeVector {
		return Vector{}, false
	}
	return Vector{b}, true
}

//---- Dict

// Dict maps Symbol keys to values. Entries are kept sorted by
// descending key block position with a run of null sentinels at the
// end, so lookup is a binary search. Keys compare by identity, which
// symbol interning makes equivalent to comparing by name. The ordering
// is positional, so a collection re-sorts every dict it moves.
type Dict struct{ Block }

const dictEntrySize = 2 * valSize

// NewDict allocates an empty dict able to hold capacity entries.
func NewDict(h *Heap, capacity int) (Dict, error) {
	b, ok := h.allocBlock(TypeDict, capacity*dictEntrySize)
	if !ok {
		return Dict{}, ErrOutOfMemory
	}
	return Dict{b}, nil
}

// Cap returns the number of entries the dict can hold.
func (d Dict) Cap() int { return d.DataSize() / dictEntrySize }

// Len returns the number of live entries.
func (d Dict) Len() int { return d.searchPos(NullPos) }

// Full reports whether there is no room for another entry.
func (d Dict) Full() bool { return d.Len() == d.Cap() }

func (d Dict) keyAt(i int) Val   { return d.h.valAt(d.slotPos(2 * i)) }
func (d Dict) valueAt(i int) Val { return d.h.valAt(d.slotPos(2*i + 1)) }

func (d Dict) setEntryAt(i int, key, value Val) {
	d.h.setValAt(d.slotPos(2*i), key)
	d.h.setValAt(d.slotPos(2*i+1), value)
}

// keyPos returns the ordering key of entry i: the key block's position,
// or NullPos for a sentinel.
func (d Dict) keyPos(i int) Pos {
	k := d.keyAt(i)
	if !k.IsObject() {
		return NullPos
	}
	return k.Pos()
}

// searchPos returns the first index whose key position is <= target in
// the descending order. With target NullPos this is the live count.
func (d Dict) searchPos(target Pos) int {
	return sort.Search(d.Cap(), func(i int) bool {
		return d.keyPos(i) <= target
	})
}

func checkDictKey(key Val, h *Heap) {
	if !key.IsObject() {
		panic("smolheap: dict key must be a Symbol reference")
	}
	if _, ok := h.blockAt(key.Pos()).AsSymbol(); !ok {
		panic("smolheap: dict key must be a Symbol reference")
	}
}

// Find returns the value stored under key and whether it was present.
func (d Dict) Find(key Val) (Val, bool) {
	checkDictKey(key, d.h)
	i := d.searchPos(key.Pos())
	if i < d.Cap() && d.keyAt(i) == key {
		return d.valueAt(i), true
	}
	return Null, false
}

// Get returns the value stored under key, or Null.
func (d Dict) Get(key Val) Val {
	v, _ := d.Find(key)
	return v
}

// Contains reports whether key is present.
func (d Dict) Contains(key Val) bool {
	_, ok := d.Find(key)
	return ok
}

// Set stores value under key, replacing an existing entry or inserting
// a new one. Returns false when the key is absent and the dict is full.
func (d Dict) Set(key, value Val) bool { return d.set(key, value, false) }

// Insert stores value under key only if the key is absent. Returns
// false when the key exists or the dict is full.
func (d Dict) Insert(key, value Val) bool { return d.set(key, value, true) }

func (d Dict) set(key, value Val, insertOnly bool) bool {
	checkDictKey(key, d.h)
	i := d.searchPos(key.Pos())
	switch {
	case i < d.Cap() && d.keyAt(i) == key:
		if insertOnly {
			return false
		}
		d.h.setValAt(d.slotPos(2*i+1), value)
		return true
	case d.Full():
		return false
	default:
		// Shift the tail down one entry to open a slot at i.
		for j := d.Len(); j > i; j-- {
			d.setEntryAt(j, d.keyAt(j-1), d.valueAt(j-1))
		}
		d.setEntryAt(i, key, value)
		return true
	}
}

// Remove deletes the entry under key, compacting the tail. Returns
// false when the key is absent.
func (d Dict) Remove(key Val) bool {
	checkDictKey(key, d.h)
	i := d.searchPos(key.Pos())
	if i >= d.Cap() || d.keyAt(i) != key {
		return false
	}
	n := d.Len()
	for j := i + 1; j < n; j++ {
		d.setEntryAt(j-1, d.keyAt(j), d.valueAt(j))
	}
	d.setEntryAt(n-1, Null, Null)
	return true
}

// ForEach calls fn for every live entry in the dict's sorted order.
// Return false to stop.
func (d Dict) ForEach(fn func(key, value Val) bool) {
	for i, n := 0, d.Len(); i < n; i++ {
		if !fn(d.keyAt(i), d.valueAt(i)) {
			return
		}
	}
}

// sortEntries restores the descending-position entry order. Needed
// after a collection moves the key blocks.
func (d Dict) sortEntries() {
	type entry struct{ key, value Val }
	all := make([]entry, d.Cap())
	for i := range all {
		all[i] = entry{d.keyAt(i), d.valueAt(i)}
	}
	sort.Slice(all, func(i, j int) bool {
		var pi, pj Pos
		if all[i].key.IsObject() {
			pi = all[i].key.Pos()
		}
		if all[j].key.IsObject() {
			pj = all[j].key.Pos()
		}
		return pi > pj
	})
	for i, e := range all {
		d.setEntryAt(i, e.key, e.value)
	}
}

// AsDict views the block as a Dict if it has that type.
func (b Block) AsDict() (Dict, bool) {
	if b.IsNil() || b.Type() != TypeDict {
		return Dict{}, false
	}
	return Dict{b}, true
}

//---- Float

// Float is an IEEE 754 number block: four payload bytes hold a single,
// eight a double.
type Float struct{ Block }

// NewFloat allocates a float block. Values exactly representable as a
// float32 are stored in four bytes, everything else in eight.
func NewFloat(h *Heap, f float64) (Float, error) {
	single := float64(float32(f)) == f || math.IsNaN(f)
	size := 8
	if single {
		size = 4
	}
	b, ok := h.allocBlock(TypeFloat, size)
	if !ok {
		return Float{}, ErrOutOfMemory
	}
	fl := Float{b}
	if single {
		binary.LittleEndian.PutUint32(fl.Data(), math.Float32bits(float32(f)))
	} else {
		binary.LittleEndian.PutUint64(fl.Data(), math.Float64bits(f))
	}
	return fl, nil
}

// IsDouble reports whether the block stores a float64.
func (f Float) IsDouble() bool { return f.DataSize() == 8 }

// Float64 returns the stored number.
func (f Float) Float64() float64 {
	if f.IsDouble() {
		return math.Float64frombits(binary.LittleEndian.Uint64(f.Data()))
	}
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(f.Data())))
}

// AsFloat views the block as a Float if it has that type.
func (b Block) AsFloat() (Float, bool) {
	if b.IsNil() || b.Type() != TypeFloat {
		return Float{}, false
	}
	return Float{b}, true
}

//---- BigInt

// BigInt is an arbitrary-width integer block storing little-endian
// two's-complement bytes.
type BigInt struct{ Block }

// NewBigInt allocates a bigint block holding i.
func NewBigInt(h *Heap, i *big.Int) (BigInt, error) {
	raw := bigToTwosComplement(i)
	b, ok := h.allocBlock(TypeBigInt, len(raw))
	if !ok {
		return BigInt{}, ErrOutOfMemory
	}
	copy(b.Data(), raw)
	return BigInt{b}, nil
}

// Int returns the stored integer.
func (b BigInt) Int() *big.Int { return twosComplementToBig(b.Data()) }

// Float64 returns the stored integer as a float64, possibly rounded.
func (b BigInt) Float64() float64 {
	f, _ := new(big.Float).SetInt(b.Int()).Float64()
	return f
}

// AsBigInt views the block as a BigInt if it has that type.
func (b Block) AsBigInt() (BigInt, bool) {
	if b.IsNil() || b.Type() != TypeBigInt {
		return BigInt{}, false
	}
	return BigInt{b}, true
}

// NewInt returns a Val for any int64: inline when the value fits the
// 31-bit range, a BigInt block otherwise.
func NewInt(h *Heap, i int64) (Val, error) {
	if i >= MinInt && i <= MaxInt {
		return IntVal(int(i)), nil
	}
	b, err := NewBigInt(h, big.NewInt(i))
	if err != nil {
		return Null, err
	}
	return b.Val(), nil
}

// bigToTwosComplement renders i as minimal little-endian
// two's-complement bytes. Zero becomes a single zero byte.
func bigToTwosComplement(i *big.Int) []byte {
	bl := i.BitLen()
	n := bl/8 + 1 // room for the sign bit
	if i.Sign() < 0 && i.TrailingZeroBits() == uint(bl-1) {
		// Exactly -2^(bl-1): the sign bit doubles as the value bit.
		n = (bl + 7) / 8
	}
	x := new(big.Int).Set(i)
	if x.Sign() < 0 {
		x.Add(x, new(big.Int).Lsh(big.NewInt(1), uint(8*n)))
	}
	be := x.Bytes()
	out := make([]byte, n)
	for k := 0; k < len(be) && k < n; k++ {
		out[k] = be[len(be)-1-k]
	}
	return out
}

// twosComplementToBig decodes little-endian two's-complement bytes.
func twosComplementToBig(raw []byte) *big.Int {
	if len(raw) == 0 {
		return big.NewInt(0)
	}
	be := make([]byte, len(raw))
	for k, v := range raw {
		be[len(raw)-1-k] = v
	}
	x := new(big.Int).SetBytes(be)
	if raw[len(raw)-1]&0x80 != 0 {
		x.Sub(x, new(big.Int).Lsh(big.NewInt(1), uint(8*len(raw))))
	}
	return x
}
