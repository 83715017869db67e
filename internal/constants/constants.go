// Package constants holds the small set of defaults shared across the
// binder runtime's packages.
package constants

const (
	// DefaultMmapSize is how much of the kernel-owned transaction
	// buffer region this runtime maps read-only. libbinder and
	// frameworks using real binder typically map less; 8MiB matches
	// what a moderately busy manager process reserves.
	DefaultMmapSize = 8 * 1024 * 1024

	// DefaultCommandBufferSize is the initial capacity of a command
	// buffer before it has to grow.
	DefaultCommandBufferSize = 4 * 1024

	// DefaultReturnBufferSize is how much kernel-filled return data a
	// single exec() call is willing to receive at once.
	DefaultReturnBufferSize = 4 * 1024 * 1024

	// ContextManagerHandle is the one handle number that is never
	// refcounted and never dies: the well-known context manager.
	ContextManagerHandle uint32 = 0
)
