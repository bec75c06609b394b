// ABOUTME: Sentinel errors for recoverable heap failures
// ABOUTME: Structural misuse panics instead; see the Heap documentation

package heap

import "errors"

var (
	// ErrMalformedHeap is returned by Adopt when existing bytes fail
	// validation: wrong magic, or a root outside the used region.
	ErrMalformedHeap = errors.New("smolheap: malformed heap")

	// ErrHeapTooSmall is returned when a heap's capacity cannot even
	// hold the header.
	ErrHeapTooSmall = errors.New("smolheap: capacity smaller than header")

	// ErrResizeBelowUsed is returned by Resize when shrinking below the
	// used size.
	ErrResizeBelowUsed = errors.New("smolheap: cannot shrink below used size")

	// ErrResizeOwned is returned by Resize when growing past the
	// backing allocation, or when growing an owned heap at all.
	ErrResizeOwned = errors.New("smolheap: cannot grow beyond backing allocation")

	// ErrOutOfMemory is returned by object constructors when the heap
	// is exhausted and the alloc-failure handler declined to help.
	ErrOutOfMemory = errors.New("smolheap: out of memory")
)
