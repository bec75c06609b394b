// ABOUTME: Main smolheap package providing version information and package documentation
// ABOUTME: This is the root package for the embedded object memory library

// Package smolheap provides a compact embedded object memory: a
// bump-allocated heap of polymorphic 32-bit values with a copying
// garbage collector, plus snapshot codecs and memory-mapped file
// storage. The core lives in the heap subpackage; heapio holds the
// serialization codecs and heapfile the mmap backing.
package smolheap

// Version is the semantic version of the smolheap library
const Version = "0.1.0-dev"
