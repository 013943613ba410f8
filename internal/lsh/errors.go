// Package lsh implements the things-shell expression language: a
// shunting-yard-free, precedence-climbing parser, a bytecode emitter
// over a flat byte buffer, and a linear bytecode interpreter with a
// process-wide interned global symbol table, per spec.md §4.6 and
// original_source/service/lsh.c / include/service/lsh.h.
package lsh

// Errcode is the LSH domain error enumeration, mirroring sh_errcode_e.
type Errcode int

const (
	ErrSuccess Errcode = iota
	ErrInternal
	ErrInvalidHndlr
	ErrFuncNotExists
	ErrFuncExists
	ErrParseNumInvalid
	ErrParseStrInvalid
	ErrParseTokenInvalid
	ErrParseClosingBracket
	ErrParseOperandMiss
	ErrParseOperandUnexpect
	ErrParseOutOfBuf
	ErrCodeVariableExists
	ErrCodeVariableUndef
	ErrEvalInvalidFunc
	ErrEvalInvalidArgType
	ErrAllocation
	ErrStmtExists
	ErrStmtNotExists
	ErrFuncError
	ErrForeachUnsupported
)

func (e Errcode) Error() string {
	switch e {
	case ErrSuccess:
		return "lsh: success"
	case ErrInternal:
		return "lsh: internal error"
	case ErrInvalidHndlr:
		return "lsh: invalid handle"
	case ErrFuncNotExists:
		return "lsh: function does not exist"
	case ErrFuncExists:
		return "lsh: function already registered"
	case ErrParseNumInvalid:
		return "lsh: invalid numeric literal"
	case ErrParseStrInvalid:
		return "lsh: invalid string literal"
	case ErrParseTokenInvalid:
		return "lsh: invalid token"
	case ErrParseClosingBracket:
		return "lsh: missing closing bracket"
	case ErrParseOperandMiss:
		return "lsh: operand missing"
	case ErrParseOperandUnexpect:
		return "lsh: unexpected operand"
	case ErrParseOutOfBuf:
		return "lsh: bytecode buffer exhausted"
	case ErrCodeVariableExists:
		return "lsh: variable already declared"
	case ErrCodeVariableUndef:
		return "lsh: undeclared variable"
	case ErrEvalInvalidFunc:
		return "lsh: invalid function reference"
	case ErrEvalInvalidArgType:
		return "lsh: invalid argument type"
	case ErrAllocation:
		return "lsh: allocation failed"
	case ErrStmtExists:
		return "lsh: statement already exists"
	case ErrStmtNotExists:
		return "lsh: statement does not exist"
	case ErrFuncError:
		return "lsh: function call failed"
	case ErrForeachUnsupported:
		return "lsh: foreach (@) is reserved and has no evaluator"
	default:
		return "lsh: unknown error"
	}
}
