package imdb

import "unsafe"

// ptrMeta records which block a live pointer came from, so Delete and
// Length can resolve a returned []byte back to its slot without
// needing a wrapper handle type.
type ptrMeta struct {
	pageIdx, blockIdx, offset, length int
}

func ptrKey(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// Insert allocates size bytes (variable classes) or the class's fixed
// obj_size (fixed classes, size is ignored beyond a sanity check) and
// returns a slice of writable user space backed by the owning page's
// arena.
func (c *Class) Insert(size int) ([]byte, error) {
	c.inst.mu.Lock()
	defer c.inst.mu.Unlock()
	if c.destroyed {
		return nil, ErrInvalidHndlr
	}

	var payload int
	if c.def.Variable {
		payload = align4(size)
	} else {
		if size > 0 && size > c.def.ObjSize {
			return nil, ErrInvalidObjsize
		}
		payload = c.def.ObjSize
	}
	overhead := headerBytes(c.ds)
	slotBsize := payload + overhead

	var meta ptrMeta
	var err error
	if c.def.Recycle {
		meta, err = c.insertRecycle(slotBsize)
	} else {
		meta, err = c.insertFreelist(slotBsize, overhead)
	}
	if err != nil {
		return nil, err
	}

	pg := c.pages[meta.pageIdx]
	ptr := pg.arena[meta.offset : meta.offset+payload]
	if c.ptrIndex == nil {
		c.ptrIndex = map[uintptr]ptrMeta{}
	}
	c.ptrIndex[ptrKey(ptr)] = ptrMeta{pageIdx: meta.pageIdx, blockIdx: meta.blockIdx, offset: meta.offset, length: payload}

	c.stat.SlotsInserted++
	c.stat.BytesAllocated += uint64(slotBsize)
	c.inst.stat.SlotsInserted++
	c.inst.stat.BytesAllocated += uint64(slotBsize)
	return ptr, nil
}

// insertRecycle implements the ring allocator for ds_type 1/3: a pure
// bump allocator per block, wrapping to the next block index (and
// forcibly reformatting an already-used block) once the current block
// runs out of room.
func (c *Class) insertRecycle(slotBsize int) (ptrMeta, error) {
	maxBlocksEver := c.def.InitBlocks
	if c.def.PagesMax > 1 {
		maxBlocksEver += (c.def.PagesMax - 1) * c.def.PageBlocks
	}

	for attempts := 0; attempts <= maxBlocksEver+1; attempts++ {
		pg := c.pages[c.ringPageIdx]
		blk := pg.blocks[c.ringBlockIdx]

		if !blk.formatted {
			blk.formatted = true
			blk.cursor = 0
			blk.carves = nil
			if c.ringBlockIdx > pg.allocHWM {
				pg.allocHWM = c.ringBlockIdx
			}
			c.stat.BlocksFormatted++
			c.inst.stat.BlocksFormatted++
		}

		if blk.capacity-blk.cursor >= slotBsize {
			offset := blk.offset + blk.cursor
			blk.cursor += slotBsize
			blk.carves = append(blk.carves, carve{offset: offset, length: slotBsize})
			return ptrMeta{pageIdx: c.ringPageIdx, blockIdx: c.ringBlockIdx, offset: offset}, nil
		}

		// block exhausted: advance the ring.
		c.ringBlockIdx++
		if c.ringBlockIdx >= len(pg.blocks) {
			c.ringPageIdx++
			c.ringBlockIdx = 1
			if c.ringPageIdx >= len(c.pages) {
				if len(c.pages) < c.def.PagesMax {
					if err := c.growPage(c.def.PageBlocks); err != nil {
						c.ringPageIdx = 0
						continue
					}
				} else {
					c.ringPageIdx = 0
				}
			}
		}
		nextPg := c.pages[c.ringPageIdx]
		nextBlk := nextPg.blocks[c.ringBlockIdx]
		if nextBlk.formatted {
			// wrapped onto a block already carrying data: force a
			// whole-block recycle.
			nextBlk.cursor = 0
			nextBlk.carves = nil
			c.stat.BlockRecycles++
			c.inst.stat.BlockRecycles++
		}
	}
	return ptrMeta{}, ErrNoMem
}

// insertFreelist implements the non-recycling allocator for ds_type
// 2/4: walk the class free queue, then each block's own free-slot
// list from its oldest entry to its newest (first fit in push order,
// not LIFO), for a first-fit slot; on ds_type 4, slots that
// don't fit accumulate a skip_count and are evicted once it reaches
// 16 (lazy eviction on next touch).
func (c *Class) insertFreelist(slotBsize, overhead int) (ptrMeta, error) {
	for qi := 0; qi < len(c.freeQueue); qi++ {
		ref := c.freeQueue[qi]
		pg := c.pages[ref.pageIdx]
		blk := pg.blocks[ref.blockIdx]

		kept := blk.free[:0]
		found := -1
		var chosen freeSlot
		for _, fs := range blk.free {
			if found < 0 && fs.length >= slotBsize {
				found = len(kept)
				chosen = fs
				continue
			}
			if c.ds == dsType4 && found < 0 {
				fs.skipCount++
				c.stat.SkipScans++
				c.inst.stat.SkipScans++
				if fs.skipCount >= 16 {
					continue // lazily evicted
				}
			}
			kept = append(kept, fs)
		}
		blk.free = kept

		if found < 0 {
			continue
		}
		offset := chosen.offset
		if chosen.length > slotBsize+overhead+4 {
			rem := freeSlot{offset: offset + slotBsize, length: chosen.length - slotBsize}
			blk.free = append(blk.free, rem)
		}
		blk.live[offset] = slotBsize - overhead
		if len(blk.free) == 0 {
			blk.onFL = false
			c.freeQueue = append(c.freeQueue[:qi], c.freeQueue[qi+1:]...)
		}
		return ptrMeta{pageIdx: ref.pageIdx, blockIdx: ref.blockIdx, offset: offset}, nil
	}

	// no existing block had room: format the next unformatted block,
	// or grow a new page.
	for _, pg := range c.pages {
		for bi := 1; bi < len(pg.blocks); bi++ {
			blk := pg.blocks[bi]
			if blk.formatted {
				continue
			}
			blk.formatted = true
			blk.free = []freeSlot{{offset: blk.offset, length: blk.capacity}}
			blk.live = map[int]int{}
			if bi > pg.allocHWM {
				pg.allocHWM = bi
			}
			c.stat.BlocksFormatted++
			c.inst.stat.BlocksFormatted++
			c.freeQueue = append(c.freeQueue, blockRef{pageIdx: pg.index - 1, blockIdx: bi})
			return c.insertFreelist(slotBsize, overhead)
		}
	}
	if len(c.pages) < c.def.PagesMax {
		if err := c.growPage(c.def.PageBlocks); err != nil {
			return ptrMeta{}, err
		}
		return c.insertFreelist(slotBsize, overhead)
	}
	return ptrMeta{}, ErrAllocPagesMax
}

// Delete frees a slot allocated by Insert. Forbidden for ds_type 1
// and 3: recycle-only layouts have no self-describing trailer to
// coalesce, and their storage is reclaimed only by ring wraparound.
func (c *Class) Delete(ptr []byte) error {
	if c.ds == dsType1 || c.ds == dsType3 {
		return ErrInvalidOperation
	}
	c.inst.mu.Lock()
	defer c.inst.mu.Unlock()
	meta, ok := c.ptrIndex[ptrKey(ptr)]
	if !ok {
		return ErrInvalidHndlr
	}
	delete(c.ptrIndex, ptrKey(ptr))

	pg := c.pages[meta.pageIdx]
	blk := pg.blocks[meta.blockIdx]
	length, ok := blk.live[meta.offset]
	if !ok {
		return ErrInvalidHndlr
	}
	delete(blk.live, meta.offset)

	overhead := headerBytes(c.ds)
	wasEmpty := len(blk.free) == 0
	blk.free = append(blk.free, freeSlot{offset: meta.offset, length: length + overhead})
	if wasEmpty {
		blk.onFL = true
		c.freeQueue = append(c.freeQueue, blockRef{pageIdx: meta.pageIdx, blockIdx: meta.blockIdx})
	}

	c.stat.SlotsDeleted++
	c.stat.BytesFreed += uint64(length + overhead)
	c.inst.stat.SlotsDeleted++
	c.inst.stat.BytesFreed += uint64(length + overhead)
	return nil
}

// Length returns a slot's payload size: the class's fixed obj_size for
// fixed classes, or the recorded variable length otherwise.
func (c *Class) Length(ptr []byte) (int, error) {
	if !c.def.Variable {
		return c.def.ObjSize, nil
	}
	c.inst.mu.Lock()
	defer c.inst.mu.Unlock()
	meta, ok := c.ptrIndex[ptrKey(ptr)]
	if !ok {
		return 0, ErrInvalidHndlr
	}
	pg := c.pages[meta.pageIdx]
	blk := pg.blocks[meta.blockIdx]
	if length, ok := blk.live[meta.offset]; ok {
		return length, nil
	}
	return meta.length, nil
}
