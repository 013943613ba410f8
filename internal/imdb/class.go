package imdb

import "fmt"

type dsType int

const (
	dsType1 dsType = iota + 1 // fixed, recycle, no tx: payload only
	dsType2                   // fixed, (tx || !recycle): header only
	dsType3                   // variable, recycle, no tx: header + trailer
	dsType4                   // variable, (tx || !recycle): header + trailer
)

func deriveDsType(variable, tx, recycle bool) dsType {
	switch {
	case !variable && !tx && recycle:
		return dsType1
	case !variable:
		return dsType2
	case variable && !tx && recycle:
		return dsType3
	default:
		return dsType4
	}
}

// ClassDef describes a class's layout and storage policy. ObjSize is
// ignored (and must be 0) for variable classes.
type ClassDef struct {
	Name       string
	Recycle    bool
	Variable   bool
	TxControl  bool
	PctFree    int
	PagesMax   int
	InitBlocks int
	PageBlocks int
	ObjSize    int
}

// ClassInfo is a point-in-time snapshot of a class's layout and counters.
type ClassInfo struct {
	Name       string
	DsType     int
	PageCount  int
	BlockCount int
	FreeSlots  int
	Stat       Stat
}

type freeSlot struct {
	offset    int
	length    int
	skipCount int
}

// blockState tracks one block's formatting state and free space. Both
// the non-recycling free-stack and the recycling bump-allocator share
// this struct; which fields are live depends on class.recycle.
type blockState struct {
	formatted bool
	capacity  int // usable bytes in this block, after header/class-header reservation
	offset    int // byte offset of this block's usable region within page.arena

	// non-recycling bookkeeping (ds_type 2/4)
	free []freeSlot      // free slots in push order; searched oldest-first, not LIFO
	live map[int]int     // offset -> length, for currently allocated slots
	onFL bool            // whether this block is on the class free queue

	// recycling bookkeeping (ds_type 1/3): a pure bump allocator, since
	// delete() is forbidden for these layouts and no fragmentation can
	// ever occur.
	cursor int
	carves []carve
}

type carve struct {
	offset, length int
}

type blockRef struct {
	pageIdx, blockIdx int // blockIdx is 1-based
}

type page struct {
	index    int
	blocks   []*blockState // 1-based; blocks[0] is a dummy placeholder
	arena    []byte
	allocHWM int
}

// Class is a typed pool of objects sharing one layout, backed by a
// chain of pages allocated from its owning Instance.
type Class struct {
	inst *Instance
	def  ClassDef
	ds   dsType
	stat Stat

	pages []*page

	// recycling ring cursor: index into pages, and 1-based block index
	// within that page.
	ringPageIdx  int
	ringBlockIdx int

	// non-recycling free queue, FIFO order, standing in for the
	// class-free-list -> page-block-free-list walk described in the
	// original design.
	freeQueue []blockRef

	ptrIndex map[uintptr]ptrMeta

	destroyed bool
}

// ClassCreate allocates a class's first page, formats its class
// header in block #1, and links it into the instance.
func (i *Instance) ClassCreate(def ClassDef) (*Class, error) {
	if def.Recycle && def.InitBlocks <= 2 {
		return nil, ErrInvalidRecycleStorage
	}
	if def.InitBlocks <= 0 {
		def.InitBlocks = 1
	}
	if def.PageBlocks <= 0 {
		def.PageBlocks = def.InitBlocks
	}
	if def.PagesMax <= 0 {
		def.PagesMax = 1
	}
	if def.PctFree < 0 || def.PctFree > 30 {
		return nil, fmt.Errorf("imdb: pct_free out of range: %w", ErrInvalidOperation)
	}

	ds := deriveDsType(def.Variable, def.TxControl, def.Recycle)

	i.mu.Lock()
	defer i.mu.Unlock()

	worstCaseCapacity := i.blockSize - classHeaderBytes
	if !def.Variable {
		need := def.ObjSize + headerBytes(ds)
		if need > worstCaseCapacity || need > i.blockSize-blockHeaderBytes {
			return nil, ErrInvalidObjsize
		}
	}

	c := &Class{inst: i, def: def, ds: ds, ringBlockIdx: 1}
	if err := c.growPage(def.InitBlocks); err != nil {
		return nil, err
	}
	i.classes = append(i.classes, c)
	return c, nil
}

// growPage appends a new page of numBlocks blocks, reserving extra
// space in its block #1 for the class header if this is the class's
// first page.
func (c *Class) growPage(numBlocks int) error {
	if len(c.pages) >= c.def.PagesMax {
		return ErrAllocPagesMax
	}
	bs := c.inst.blockSize
	pg := &page{index: len(c.pages) + 1, arena: make([]byte, numBlocks*bs)}
	pg.blocks = make([]*blockState, numBlocks+1)
	for b := 1; b <= numBlocks; b++ {
		reserve := blockHeaderBytes
		if len(c.pages) == 0 && b == 1 {
			reserve = classHeaderBytes
		}
		pg.blocks[b] = &blockState{
			capacity: bs - reserve,
			offset:   (b-1)*bs + reserve,
			live:     map[int]int{},
		}
	}
	c.pages = append(c.pages, pg)
	c.inst.stat.PagesAllocated++
	c.stat.PagesAllocated++
	return nil
}

func (c *Class) destroyLocked() {
	c.destroyed = true
	c.pages = nil
}

// Destroy frees every page owned by the class.
func (c *Class) Destroy() error {
	c.inst.mu.Lock()
	defer c.inst.mu.Unlock()
	for idx, cl := range c.inst.classes {
		if cl == c {
			c.inst.classes = append(c.inst.classes[:idx], c.inst.classes[idx+1:]...)
			break
		}
	}
	c.destroyLocked()
	return nil
}

func (c *Class) Info() ClassInfo {
	c.inst.mu.Lock()
	defer c.inst.mu.Unlock()
	free := 0
	blocks := 0
	for _, pg := range c.pages {
		blocks += len(pg.blocks) - 1
		for _, b := range pg.blocks[1:] {
			if b == nil {
				continue
			}
			free += len(b.free)
		}
	}
	return ClassInfo{
		Name:       c.def.Name,
		DsType:     int(c.ds),
		PageCount:  len(c.pages),
		BlockCount: blocks,
		FreeSlots:  free,
		Stat:       c.stat,
	}
}
