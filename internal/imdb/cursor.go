package imdb

import "sort"

// AccessPath selects a Cursor's iteration order.
type AccessPath int

const (
	FullScan AccessPath = iota + 1
	RecycleScan
	RecycleScanRew
)

// Cursor iterates the live slots of one Class along one AccessPath.
type Cursor struct {
	class *Class
	path  AccessPath

	// FULL_SCAN position
	pageIdx, blockIdx int
	pending           []int // remaining offsets in the current block, ascending

	// RECYCLE_SCAN_REW position
	revPageIdx, revBlockIdx int
	revCarveIdx             int
	started                 bool

	closed bool
}

// Query opens a Cursor over the class along the given access path.
func (c *Class) Query(path AccessPath) (*Cursor, error) {
	if path == RecycleScan {
		return nil, ErrCursorInvalidPath
	}
	if path != FullScan && path != RecycleScanRew {
		return nil, ErrCursorInvalidPath
	}
	if path == RecycleScanRew && !c.def.Recycle {
		return nil, ErrCursorInvalidPath
	}
	cur := &Cursor{class: c, path: path}
	if path == FullScan {
		cur.pageIdx = 0
		cur.blockIdx = 1
	} else {
		cur.revPageIdx = c.ringPageIdx
		cur.revBlockIdx = c.ringBlockIdx
	}
	return cur, nil
}

func (cur *Cursor) Close() error {
	cur.closed = true
	return nil
}

// Fetch returns up to limit live pointers in the cursor's order.
// It returns ErrCursorNoDataFound once exhausted.
func (cur *Cursor) Fetch(limit int) ([][]byte, error) {
	if cur.closed {
		return nil, ErrInvalidHndlr
	}
	switch cur.path {
	case FullScan:
		return cur.fetchFull(limit)
	case RecycleScanRew:
		return cur.fetchRecycleRew(limit)
	default:
		return nil, ErrCursorInvalidPath
	}
}

func (cur *Cursor) fetchFull(limit int) ([][]byte, error) {
	c := cur.class
	var out [][]byte
	for len(out) < limit {
		if len(cur.pending) == 0 {
			if cur.pageIdx >= len(c.pages) {
				break
			}
			pg := c.pages[cur.pageIdx]
			if cur.blockIdx > pg.allocHWM {
				cur.pageIdx++
				cur.blockIdx = 1
				continue
			}
			blk := pg.blocks[cur.blockIdx]
			offs := make([]int, 0, len(blk.live))
			for off := range blk.live {
				offs = append(offs, off)
			}
			sort.Ints(offs)
			cur.pending = offs
			cur.blockIdx++
			if len(cur.pending) == 0 {
				continue
			}
		}
		off := cur.pending[0]
		cur.pending = cur.pending[1:]
		pg := c.pages[cur.pageIdx]
		blk := pg.blocks[cur.blockIdx-1]
		length := blk.live[off]
		out = append(out, pg.arena[off:off+length])
	}
	if len(out) == 0 {
		return nil, ErrCursorNoDataFound
	}
	return out, nil
}

func (cur *Cursor) fetchRecycleRew(limit int) ([][]byte, error) {
	c := cur.class
	if !cur.started {
		cur.started = true
		pg := c.pages[cur.revPageIdx]
		blk := pg.blocks[cur.revBlockIdx]
		cur.revCarveIdx = len(blk.carves) - 1
	}
	var out [][]byte
	for len(out) < limit {
		pg := c.pages[cur.revPageIdx]
		blk := pg.blocks[cur.revBlockIdx]
		if cur.revCarveIdx < 0 {
			// move to the previous block in ring order; stop once a
			// block not yet filled is reached: an unformatted block, or
			// the ring's current block after a full wrap.
			cur.revBlockIdx--
			if cur.revBlockIdx < 1 {
				cur.revPageIdx--
				if cur.revPageIdx < 0 {
					cur.revPageIdx = len(c.pages) - 1
				}
				cur.revBlockIdx = len(c.pages[cur.revPageIdx].blocks) - 1
			}
			npg := c.pages[cur.revPageIdx]
			nblk := npg.blocks[cur.revBlockIdx]
			if !nblk.formatted || (cur.revPageIdx == c.ringPageIdx && cur.revBlockIdx == c.ringBlockIdx) {
				break
			}
			cur.revCarveIdx = len(nblk.carves) - 1
			continue
		}
		cv := blk.carves[cur.revCarveIdx]
		out = append(out, pg.arena[cv.offset:cv.offset+cv.length])
		cur.revCarveIdx--
	}
	if len(out) == 0 {
		return nil, ErrCursorNoDataFound
	}
	return out, nil
}

// Forall is a convenience wrapper combining Query, Fetch (in batches
// of 10) and Close.
func (c *Class) Forall(path AccessPath, data any, fn ForallFunc) error {
	cur, err := c.Query(path)
	if err != nil {
		return err
	}
	defer cur.Close()
	for {
		rows, err := cur.Fetch(10)
		if err == ErrCursorNoDataFound {
			return nil
		}
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := fn(row, data); err != nil {
				if err == ErrCursorBreak {
					return nil
				}
				return ErrCursorForallFunc
			}
		}
	}
}
