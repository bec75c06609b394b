// ABOUTME: Memory-mapped file storage for heaps
// ABOUTME: Maps a file and adopts its bytes as heap memory, no copying

// Package heapfile stores a heap in a memory-mapped file. The heap's
// location-independent layout means the mapped bytes need no decoding:
// the file content is the live heap.
package heapfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/smolworld/smolheap/heap"
)

// File is a heap backed by a memory-mapped file. Mutations touch the
// mapping directly; Sync or Close flushes them to disk.
//
// Running a collection on the embedded heap swaps its backing store to
// freshly allocated memory, detaching it from the mapping. To compact a
// file heap, collect into a heap created over a new file instead.
type File struct {
	Heap *heap.Heap

	f    *os.File
	data []byte
}

// Create makes a new file of the given capacity holding a fresh empty
// heap.
func Create(path string, capacity int) (*File, error) {
	if capacity < heap.HeaderSize {
		return nil, heap.ErrHeapTooSmall
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	hf, err := mapHeap(f, capacity, heap.HeaderSize)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return hf, nil
}

// Open maps an existing heap file. The file's current length is the
// heap's used size; capacity adds room to allocate into, growing the
// file as needed. Pass 0 to open at the used size.
func Open(path string, capacity int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	used := int(info.Size())
	if capacity < used {
		capacity = used
	}
	hf, err := mapHeap(f, capacity, used)
	if err != nil {
		f.Close()
		return nil, err
	}
	return hf, nil
}

// mapHeap grows the file to capacity, maps it, and wraps the mapping in
// a heap: a fresh one when used is exactly HeaderSize (a new file, or an
// existing file holding only a header, whose header is rewritten rather
// than validated), an adopted one otherwise.
func mapHeap(f *os.File, capacity, used int) (*File, error) {
	if err := f.Truncate(int64(capacity)); err != nil {
		return nil, fmt.Errorf("growing heap file: %w", err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, capacity,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mapping heap file: %w", err)
	}

	var h *heap.Heap
	if used == heap.HeaderSize {
		h, err = heap.NewAt(data)
	} else {
		h, err = heap.Adopt(data, used)
	}
	if err != nil {
		unix.Munmap(data)
		return nil, err
	}
	return &File{Heap: h, f: f, data: data}, nil
}

// Sync flushes the mapping to disk.
func (hf *File) Sync() error {
	if err := unix.Msync(hf.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("syncing heap file: %w", err)
	}
	return nil
}

// Close flushes the heap, truncates the file to the used size so a
// later Open sees the right extent, and releases the mapping. The
// embedded heap must not be used afterwards.
func (hf *File) Close() error {
	used := hf.Heap.Used()
	syncErr := hf.Sync()
	if err := unix.Munmap(hf.data); err != nil && syncErr == nil {
		syncErr = fmt.Errorf("unmapping heap file: %w", err)
	}
	if err := hf.f.Truncate(int64(used)); err != nil && syncErr == nil {
		syncErr = err
	}
	if err := hf.f.Close(); err != nil && syncErr == nil {
		syncErr = err
	}
	return syncErr
}
