// Package imdb implements a page-allocated, slotted in-memory object
// store: fixed and variable length classes, ring-recyclable storage,
// and cursor-based scans, all built on Go slices rather than raw
// pointer arithmetic.
//
// A C implementation of this layout links pages, blocks and classes
// through absolute memory pointers; here every cross-reference is a
// (page index, block index) pair or a class-owned slice, so the
// allocator never needs unsafe pointer games to walk its own
// structures. The one place a real address matters is the value
// handed back to callers: Insert returns a sub-slice of a page's
// backing arena, so that slice really does "point wholly inside one
// page" for the lifetime of the slot, the same guarantee a
// pointer-based layout gives for free.
package imdb
