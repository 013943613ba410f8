package lsh

import (
	"encoding/binary"
	"sync"

	"github.com/thingsshell/tshd/internal/idxhash"
)

// bcSizeMax is the ceiling on a single statement's bytecode length.
// A LOCAL pointer is always a byte offset into that one statement's
// buffer (so always < bcSizeMax); a GLOBAL pointer is encoded as
// bcSizeMax+index so the two pointer kinds are told apart purely by
// numeric magnitude at resolution time, reusing one pointer-sized
// field for both purposes.
const bcSizeMax = 1 << 16

// FuncEntry is one entry in the process-wide builtin function table,
// mirroring sh_func_entry_t's name and callback: a name and the Go
// callback itself. sh_func_entry_t's determinism/side-effect hints
// (opt_determ/opt_stmt) have no field here.
type FuncEntry struct {
	Name string
	Fn   BuiltinFunc
}

// BuiltinFunc implements a callable LSH function. args holds each
// call argument's resolved type and 32-bit value (a raw int, or a byte
// offset into the owning statement's char pool for BcArgChar). It
// returns the function's int result.
type BuiltinFunc func(ctx *EvalContext, args []Value) (uint32, error)

// Value is one resolved bytecode operand: its runtime type tag and a
// 32-bit payload (the int itself, or a char-pool offset).
type Value struct {
	Type BcArgType
	V    uint32
}

// GlobalTable is the process-wide interned global symbol table shared
// by every compiled statement: ## declarations and function
// references both resolve to a stable small integer index here,
// looked up through an IdxHash map exactly as spec.md describes the
// original's global symbol table, just keyed by Go strings instead of
// raw buffer bytes.
type GlobalTable struct {
	mu        sync.Mutex
	names     *idxhash.Map // name -> 8 bytes: [0:4] index LE, [4:8] current int value LE
	order     []string
	funcs     map[string]*FuncEntry
	funcByIdx map[uint32]*FuncEntry
}

func NewGlobalTable() *GlobalTable {
	return &GlobalTable{
		names:     idxhash.New(64, 4096, idxhash.Variable, idxhash.Variable),
		funcs:     map[string]*FuncEntry{},
		funcByIdx: map[uint32]*FuncEntry{},
	}
}

// Intern returns name's stable global index, creating an entry (value
// initialized to 0) on first use.
func (g *GlobalTable) Intern(name string) uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.internLocked(name)
}

func (g *GlobalTable) internLocked(name string) uint32 {
	if v, ok := g.names.Search([]byte(name)); ok {
		return binary.LittleEndian.Uint32(v[0:4])
	}
	idx := uint32(len(g.order))
	v, err := g.names.Add([]byte(name), 8)
	if err != nil {
		// Overflow is unreachable in practice (names recompact), but
		// surface deterministically rather than panic on a nil slice.
		return idx
	}
	binary.LittleEndian.PutUint32(v[0:4], idx)
	g.order = append(g.order, name)
	return idx
}

// Lookup returns name's index without creating it.
func (g *GlobalTable) Lookup(name string) (uint32, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.names.Search([]byte(name))
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(v[0:4]), true
}

// Get reads a global INT variable's current value.
func (g *GlobalTable) Get(idx uint32) uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	name := g.order[idx]
	v, _ := g.names.Search([]byte(name))
	return binary.LittleEndian.Uint32(v[4:8])
}

// Set writes a global INT variable's current value.
func (g *GlobalTable) Set(idx uint32, val uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	name := g.order[idx]
	v, _ := g.names.Search([]byte(name))
	binary.LittleEndian.PutUint32(v[4:8], val)
}

// RegisterFunc installs a builtin under name, interning name into the
// same symbol table used by ## declarations so a FUNC call's pointer
// cell resolves through the identical GLOBAL-index mechanism.
// Re-registering the same name returns ErrFuncExists, matching
// sh_func_register's duplicate check.
func (g *GlobalTable) RegisterFunc(name string, fn BuiltinFunc) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.funcs[name]; ok {
		return ErrFuncExists
	}
	idx := g.internLocked(name)
	entry := &FuncEntry{Name: name, Fn: fn}
	g.funcs[name] = entry
	g.funcByIdx[idx] = entry
	return nil
}

// Func looks up a registered builtin by name.
func (g *GlobalTable) Func(name string) (*FuncEntry, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.funcs[name]
	return f, ok
}

// FuncByIdx looks up a registered builtin by its interned global index,
// used to resolve a FUNC call's pointer cell at evaluation time.
func (g *GlobalTable) FuncByIdx(idx uint32) (*FuncEntry, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.funcByIdx[idx]
	return f, ok
}
