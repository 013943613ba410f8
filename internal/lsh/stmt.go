package lsh

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/thingsshell/tshd/internal/imdb"
)

// StmtInfo mirrors sh_stmt_info_t: the bookkeeping kept alongside a
// named statement's compiled bytecode.
type StmtInfo struct {
	Name   string
	Length int // bytecode length in bytes
}

type storedStmt struct {
	name string
	ptr  []byte
	prog *Program
}

// StmtStore holds every named, compiled LSH statement known to one
// process: additions and removals go through stmt_parse/stmt_free's
// Go analogues (Parse/Remove below), backed by a variable-length IMDB
// class exactly as spec.md §4.6 describes statement storage, with an
// in-memory index for name lookup and bytecode dumping.
type StmtStore struct {
	mu      sync.Mutex
	class   *imdb.Class
	globals *GlobalTable
	byName  map[string]*storedStmt
}

// NewStmtStore creates the backing IMDB class and returns a ready
// store. inst must outlive the store.
func NewStmtStore(inst *imdb.Instance, globals *GlobalTable) (*StmtStore, error) {
	class, err := inst.ClassCreate(imdb.ClassDef{
		Name: "lsh.stmt", Variable: true, PagesMax: 8, InitBlocks: 8,
	})
	if err != nil {
		return nil, fmt.Errorf("lsh: create statement class: %w", err)
	}
	return &StmtStore{class: class, globals: globals, byName: map[string]*storedStmt{}}, nil
}

// Close destroys the backing IMDB class.
func (s *StmtStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.class.Destroy()
	s.byName = map[string]*storedStmt{}
}

func encodeProgram(p *Program) []byte {
	buf := make([]byte, 4+len(p.Code)+4+len(p.Chars))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(p.Code)))
	copy(buf[4:], p.Code)
	off := 4 + len(p.Code)
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(p.Chars)))
	copy(buf[off+4:], p.Chars)
	return buf
}

func decodeProgram(buf []byte) *Program {
	codeLen := binary.BigEndian.Uint32(buf[0:4])
	code := buf[4 : 4+codeLen]
	off := 4 + int(codeLen)
	charsLen := binary.BigEndian.Uint32(buf[off : off+4])
	chars := buf[off+4 : off+4+int(charsLen)]
	return &Program{Code: append([]byte(nil), code...), Chars: append([]byte(nil), chars...)}
}

// Parse compiles src and stores it under name. A duplicate name
// returns ErrStmtExists, matching stmt_parse's behavior when a
// statement of that name is already installed.
func (s *StmtStore) Parse(name, src string) (StmtInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; ok {
		return StmtInfo{}, ErrStmtExists
	}
	prog, err := Compile(s.globals, src)
	if err != nil {
		return StmtInfo{}, err
	}
	blob := encodeProgram(prog)
	ptr, err := s.class.Insert(len(blob))
	if err != nil {
		return StmtInfo{}, fmt.Errorf("lsh: insert statement: %w", err)
	}
	copy(ptr, blob)
	s.byName[name] = &storedStmt{name: name, ptr: ptr, prog: prog}
	return StmtInfo{Name: name, Length: len(prog.Code)}, nil
}

// Remove deletes name's statement. ErrStmtNotExists if unknown.
func (s *StmtStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byName[name]
	if !ok {
		return ErrStmtNotExists
	}
	s.class.Delete(st.ptr)
	delete(s.byName, name)
	return nil
}

// Get returns name's compiled program.
func (s *StmtStore) Get(name string) (*Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byName[name]
	if !ok {
		return nil, ErrStmtNotExists
	}
	return st.prog, nil
}

// Info reports name's bookkeeping, rebuilding it from the blob stored
// in the IMDB class rather than the in-memory cache; Dump and Eval run
// the cached Program that Parse compiled.
func (s *StmtStore) Info(name string) (StmtInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byName[name]
	if !ok {
		return StmtInfo{}, ErrStmtNotExists
	}
	p := decodeProgram(st.ptr)
	return StmtInfo{Name: name, Length: len(p.Code)}, nil
}

// Eval runs name's program against ec.
func (s *StmtStore) Eval(name string, ec *EvalContext) error {
	prog, err := s.Get(name)
	if err != nil {
		return err
	}
	return Eval(prog, ec)
}

// Dump renders name's bytecode as one disassembly line per operator,
// the Go analogue of stmt_dump: offset, mnemonic, argument count, and
// each argument's resolved type tag.
func (s *StmtStore) Dump(name string) (string, error) {
	prog, err := s.Get(name)
	if err != nil {
		return "", err
	}
	return Disassemble(prog), nil
}

// Disassemble renders a compiled Program's bytecode without running
// it: one line per operator in program order.
func Disassemble(p *Program) string {
	var b strings.Builder
	buf := p.Code
	pos := uint32(0)
	for pos+4 <= uint32(len(buf)) {
		op, argCount, bitmask := decodeHeader(buf[pos:])
		d := op.desc()
		cellCount := argCount
		fmt.Fprintf(&b, "%04d %-8s argc=%d", pos, op.String(), argCount)
		if d.result {
			b.WriteString(" res")
			cellCount++
		}
		for i := 0; i < argCount && i < 8; i++ {
			fmt.Fprintf(&b, " [%d]", cellType(bitmask, i))
		}
		b.WriteByte('\n')
		pos += 4 + uint32(4*cellCount)
		if op == OperForeach {
			break
		}
	}
	return b.String()
}

// ForallNames visits every installed statement's name in no particular
// order.
func (s *StmtStore) ForallNames(fn func(name string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.byName {
		fn(name)
	}
}
