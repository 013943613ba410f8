package imdb

import "sync"

// MinBlockSize is the smallest block size an Instance will accept;
// requests below it are rounded up.
const MinBlockSize = 512

// DefaultBlockSize matches the platform's flash sector size so a class
// page maps onto whole sectors when mirrored to persist.go.
const DefaultBlockSize = 1024

// block-local overhead, reserved out of every block regardless of class:
// a CRC placeholder, block_index, lock_flags/footer_offset/btype packed
// together, and the free_offset/block_fl_next bookkeeping.
const blockHeaderBytes = 8

// classHeaderStructBytes is the serialized size of a class's own header
// record, embedded in block #1 of a class's first page.
const classHeaderStructBytes = 64

// classHeaderBytes is the worst-case per-block overhead a class must
// budget for: every object must still fit in the one block that also
// carries the class header.
const classHeaderBytes = blockHeaderBytes + classHeaderStructBytes

// Def configures a new Instance.
type Def struct {
	BlockSize int
}

// Stat holds the running allocation counters an Instance (and each of
// its classes) maintains; Info() surfaces a snapshot.
type Stat struct {
	BytesAllocated uint64
	BytesFreed     uint64
	PagesAllocated uint64
	BlocksFormatted uint64
	SlotsInserted  uint64
	SlotsDeleted   uint64
	BlockRecycles  uint64
	SkipScans      uint64
}

// Info is the snapshot Instance.Info returns.
type Info struct {
	BlockSize int
	Stat      Stat
	Classes   int
}

// Instance is one IMDB arena: a block size and a list of classes, each
// of which owns its own pages.
type Instance struct {
	mu        sync.Mutex
	blockSize int
	stat      Stat
	classes   []*Class
}

// Init creates a new Instance. block_size is aligned up to a multiple
// of MinBlockSize, with a floor of MinBlockSize.
func Init(def Def) (*Instance, error) {
	bs := def.BlockSize
	if bs <= 0 {
		bs = DefaultBlockSize
	}
	if bs < MinBlockSize {
		bs = MinBlockSize
	}
	if rem := bs % MinBlockSize; rem != 0 {
		bs += MinBlockSize - rem
	}
	return &Instance{blockSize: bs}, nil
}

// Done destroys every owned class, releasing their pages.
func (i *Instance) Done() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, c := range i.classes {
		c.destroyLocked()
	}
	i.classes = nil
	return nil
}

func (i *Instance) Info() Info {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Info{BlockSize: i.blockSize, Stat: i.stat, Classes: len(i.classes)}
}

func align4(n int) int {
	if rem := n % 4; rem != 0 {
		return n + (4 - rem)
	}
	return n
}

// headerBytes returns the per-slot overhead (header + trailer, where
// present) for a given ds_type, per the four physical slot layouts.
func headerBytes(ds dsType) int {
	switch ds {
	case dsType1:
		return 0
	case dsType2:
		return 4
	case dsType3, dsType4:
		return 8
	default:
		return 0
	}
}
