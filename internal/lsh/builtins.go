package lsh

import (
	"bytes"
	"fmt"

	"github.com/thingsshell/tshd/internal/logging"
	"github.com/thingsshell/tshd/internal/platform"
)

// EvalContext is the per-evaluation environment passed to every
// builtin call: the clock (for sysdate/sysctime), the interned global
// table, a logger for print output, and the executing statement's
// constant char pool for resolving BcArgChar operands.
type EvalContext struct {
	Clock    platform.Clock
	Globals  *GlobalTable
	Log      *logging.Logger
	charPool []byte
	buf      []byte       // Eval's working copy of the executing statement's bytecode
	PrintFn  func(string) // overrides the default Log-based sink, mainly for tests
}

// Str resolves a BcArgChar value to its NUL-terminated string, or
// formats a BcArgInt value as decimal — fn_print and friends accept
// either, matching fn_print's loosely-typed argument handling.
func (c *EvalContext) Str(v Value) string {
	if v.Type == BcArgChar {
		end := bytes.IndexByte(c.charPool[v.V:], 0)
		if end < 0 {
			end = len(c.charPool) - int(v.V)
		}
		return string(c.charPool[v.V : int(v.V)+end])
	}
	return fmt.Sprint(int32(v.V))
}

func (c *EvalContext) print(s string) {
	if c.PrintFn != nil {
		c.PrintFn(s)
		return
	}
	if c.Log != nil {
		c.Log.Infof("lsh", "print", "text", s)
	}
}

// RegisterBuiltins installs the language's built-in function set on g:
// sysdate/sysctime/print from fn_sysdate/fn_sysctime/fn_print, plus
// strlen/substr/concat/min/max/abs/sprintf added for the expanded
// standard library.
func RegisterBuiltins(g *GlobalTable, clock platform.Clock) error {
	reg := func(name string, fn BuiltinFunc) error {
		if err := g.RegisterFunc(name, fn); err != nil {
			return fmt.Errorf("lsh: register builtin %s: %w", name, err)
		}
		return nil
	}

	if err := reg("sysdate", func(ec *EvalContext, args []Value) (uint32, error) {
		return uint32(ec.Clock.Now().Unix()), nil
	}); err != nil {
		return err
	}
	if err := reg("sysctime", func(ec *EvalContext, args []Value) (uint32, error) {
		return ec.Clock.Ctime(), nil
	}); err != nil {
		return err
	}
	if err := reg("print", func(ec *EvalContext, args []Value) (uint32, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = ec.Str(a)
		}
		out := ""
		for _, p := range parts {
			out += p
		}
		ec.print(out)
		return uint32(len(out)), nil
	}); err != nil {
		return err
	}
	if err := reg("strlen", func(ec *EvalContext, args []Value) (uint32, error) {
		if len(args) != 1 {
			return 0, ErrEvalInvalidArgType
		}
		return uint32(len(ec.Str(args[0]))), nil
	}); err != nil {
		return err
	}
	if err := reg("substr", func(ec *EvalContext, args []Value) (uint32, error) {
		if len(args) != 3 {
			return 0, ErrEvalInvalidArgType
		}
		s := ec.Str(args[0])
		start := int(int32(args[1].V))
		n := int(int32(args[2].V))
		if start < 0 || start > len(s) {
			return 0, ErrEvalInvalidArgType
		}
		if start+n > len(s) {
			n = len(s) - start
		}
		sub := s[start : start+n]
		off := ec.internChar(sub)
		return off, nil
	}); err != nil {
		return err
	}
	if err := reg("concat", func(ec *EvalContext, args []Value) (uint32, error) {
		var out string
		for _, a := range args {
			out += ec.Str(a)
		}
		return ec.internChar(out), nil
	}); err != nil {
		return err
	}
	if err := reg("min", func(ec *EvalContext, args []Value) (uint32, error) {
		if len(args) == 0 {
			return 0, ErrEvalInvalidArgType
		}
		m := int32(args[0].V)
		for _, a := range args[1:] {
			if v := int32(a.V); v < m {
				m = v
			}
		}
		return uint32(m), nil
	}); err != nil {
		return err
	}
	if err := reg("max", func(ec *EvalContext, args []Value) (uint32, error) {
		if len(args) == 0 {
			return 0, ErrEvalInvalidArgType
		}
		m := int32(args[0].V)
		for _, a := range args[1:] {
			if v := int32(a.V); v > m {
				m = v
			}
		}
		return uint32(m), nil
	}); err != nil {
		return err
	}
	if err := reg("abs", func(ec *EvalContext, args []Value) (uint32, error) {
		if len(args) != 1 {
			return 0, ErrEvalInvalidArgType
		}
		v := int32(args[0].V)
		if v < 0 {
			v = -v
		}
		return uint32(v), nil
	}); err != nil {
		return err
	}
	if err := reg("sprintf", func(ec *EvalContext, args []Value) (uint32, error) {
		if len(args) == 0 {
			return 0, ErrEvalInvalidArgType
		}
		format := ec.Str(args[0])
		rest := make([]interface{}, len(args)-1)
		for i, a := range args[1:] {
			if a.Type == BcArgChar {
				rest[i] = ec.Str(a)
			} else {
				rest[i] = int32(a.V)
			}
		}
		return ec.internChar(fmt.Sprintf(format, rest...)), nil
	}); err != nil {
		return err
	}
	return nil
}

// internChar appends s (NUL-terminated) to the current statement's
// char pool and returns its offset, letting a builtin manufacture a
// new BcArgChar result (substr, concat, sprintf) the same way a
// compiled string literal would be addressed.
func (c *EvalContext) internChar(s string) uint32 {
	off := uint32(len(c.charPool))
	c.charPool = append(c.charPool, []byte(s)...)
	c.charPool = append(c.charPool, 0)
	return off
}
