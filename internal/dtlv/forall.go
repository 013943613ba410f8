package dtlv

// PathSegment is one level of a decode_forall match path. NS == 0
// matches any namespace at that level.
type PathSegment struct {
	NS   uint8
	Code uint16
}

// ForallDecision is the callback's instruction to the traversal.
type ForallDecision int

const (
	ForallContinue  ForallDecision = iota // SUCCESS: keep walking, recurse into groups
	ForallStepOver                        // STEP_OVER: don't recurse into this group's children
	ForallBreak                           // BREAK: stop the whole traversal
)

// ForallFunc is invoked once per AVP that matches the remaining path
// prefix; group AVPs are additionally invoked a second time, with
// groupExit true, after their children have been visited.
type ForallFunc func(avp Avp, data []byte, userData any, groupExit bool) ForallDecision

// DecodeForall performs a pre-order traversal over the AVPs bounded by
// end, matching only AVPs whose (ns, code) equal the remaining prefix
// of path (namespace 0 matches any); once path is exhausted, every
// descendant matches. Matching group AVPs are entered (fn called with
// groupExit=false) before their children and exited (groupExit=true)
// after; ForallStepOver on entry skips the children, and the exit call
// still follows.
func (c *Ctx) DecodeForall(end int, path []PathSegment, userData any, fn ForallFunc) error {
	_, err := c.decodeForall(end, path, userData, fn)
	return err
}

func (c *Ctx) decodeForall(end int, path []PathSegment, userData any, fn ForallFunc) (ForallDecision, error) {
	for c.pos < end {
		startPos := c.pos
		avp, data, err := c.DecodeAt(end)
		if err == ErrEndOfData {
			return ForallContinue, nil
		}
		if err != nil {
			return ForallContinue, err
		}
		endPos := c.pos

		matched := len(path) == 0 || (path[0].NS == 0 || path[0].NS == avp.NS) && path[0].Code == avp.Code
		childPath := path
		if len(path) > 0 {
			childPath = path[1:]
		}

		isGroup := avp.IsList || avp.Type == TypeObject
		decision := ForallContinue
		if matched {
			decision = fn(avp, data, userData, false)
			if decision == ForallBreak {
				return ForallBreak, nil
			}
		}
		if isGroup && decision != ForallStepOver {
			c.pos = startPos + 4
			childEnd := startPos + 4 + avp.Length
			sub, err := c.decodeForall(childEnd, childPath, userData, fn)
			c.pos = endPos
			if err != nil {
				return ForallContinue, err
			}
			if sub == ForallBreak {
				return ForallBreak, nil
			}
		}
		if matched && isGroup {
			if d := fn(avp, data, userData, true); d == ForallBreak {
				return ForallBreak, nil
			}
		}
	}
	return ForallContinue, nil
}

// DecodeByPath collects every AVP matching path into data (payload
// only), stopping once limit matches have been found (limit <= 0
// means unbounded).
func (c *Ctx) DecodeByPath(end int, path []PathSegment, limit int) ([][]byte, error) {
	var out [][]byte
	err := c.DecodeForall(end, path, nil, func(avp Avp, data []byte, _ any, groupExit bool) ForallDecision {
		if groupExit || avp.Type == TypeObject || avp.IsList {
			return ForallContinue
		}
		cpy := make([]byte, len(data))
		copy(cpy, data)
		out = append(out, cpy)
		if limit > 0 && len(out) >= limit {
			return ForallBreak
		}
		return ForallContinue
	})
	return out, err
}
