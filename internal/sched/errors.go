package sched

// Errcode mirrors sched_errcode_e.
type Errcode int

const (
	ErrSuccess Errcode = iota
	ErrInternal
	ErrAllocation
	ErrParse
	ErrEntryExists
	ErrEntryNotExists
	ErrStmtNotExists
	ErrStmtError
	ErrEntrySrcNotExists
)

func (e Errcode) Error() string {
	switch e {
	case ErrSuccess:
		return "sched: success"
	case ErrInternal:
		return "sched: internal error"
	case ErrAllocation:
		return "sched: allocation error"
	case ErrParse:
		return "sched: schedule string parse error"
	case ErrEntryExists:
		return "sched: entry already exists"
	case ErrEntryNotExists:
		return "sched: entry does not exist"
	case ErrStmtNotExists:
		return "sched: bound statement does not exist"
	case ErrStmtError:
		return "sched: bound statement evaluation error"
	case ErrEntrySrcNotExists:
		return "sched: entry source does not exist"
	default:
		return "sched: unknown error"
	}
}

// ErrParseError is ParseTSEntry's field-count/shape error. It is an
// alias of ErrParse (the same value), so a match on either matches both.
const ErrParseError = ErrParse
