package sched

import (
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/thingsshell/tshd/internal/imdb"
	"github.com/thingsshell/tshd/internal/logging"
	"github.com/thingsshell/tshd/internal/metrics"
	"github.com/thingsshell/tshd/internal/platform"
)

// State is a scheduler entry's dispatch state, mirroring sched_state_e.
type State int

const (
	StateNone State = iota
	StateRunning
	StateQueue
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateRunning:
		return "RUNNING"
	case StateQueue:
		return "QUEUE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// dynSize is the fixed-length suffix of an encoded entry record that
// Store mutates in place after every fire (last/next ctime, run/fail
// counters, state): the slot's total length never changes after
// Insert, so these fields alone may be rewritten without a
// delete+reinsert cycle.
const dynSize = 4 + 4 + 4 + 4 + 1

// entryRecord is the in-memory bookkeeping kept alongside one
// scheduler entry's IMDB-backed bytes.
type entryRecord struct {
	name       string
	persistent bool
	schedule   string
	stmtName   string
	varData    []byte
	mcastMask  uint32
	mask       *TSEntry

	ptr      []byte // the full encoded record, a sub-slice of the entry class
	dynOff   int    // byte offset of the dynamic suffix within ptr
	srcPtr   []byte // never set: the source class holds no records

	lastCtime uint32
	nextCtime uint32
	runCount  uint32
	failCount uint32
	state     State
}

func encodeEntry(name string, persistent bool, schedule, stmtName string, varData []byte, mcastMask uint32) []byte {
	size := 2 + len(name) + 1 + 2 + len(schedule) + 2 + len(stmtName) + 2 + len(varData) + 4 + dynSize
	buf := make([]byte, size)
	off := 0
	binary.BigEndian.PutUint16(buf[off:], uint16(len(name)))
	off += 2
	off += copy(buf[off:], name)
	if persistent {
		buf[off] = 1
	}
	off++
	binary.BigEndian.PutUint16(buf[off:], uint16(len(schedule)))
	off += 2
	off += copy(buf[off:], schedule)
	binary.BigEndian.PutUint16(buf[off:], uint16(len(stmtName)))
	off += 2
	off += copy(buf[off:], stmtName)
	binary.BigEndian.PutUint16(buf[off:], uint16(len(varData)))
	off += 2
	off += copy(buf[off:], varData)
	binary.BigEndian.PutUint32(buf[off:], mcastMask)
	off += 4
	// dynamic suffix starts at off, zeroed (NONE state, zero counters).
	return buf
}

func decodeEntry(ptr []byte) *entryRecord {
	off := 0
	nameLen := int(binary.BigEndian.Uint16(ptr[off:]))
	off += 2
	name := string(ptr[off : off+nameLen])
	off += nameLen
	persistent := ptr[off] != 0
	off++
	schedLen := int(binary.BigEndian.Uint16(ptr[off:]))
	off += 2
	schedule := string(ptr[off : off+schedLen])
	off += schedLen
	stmtLen := int(binary.BigEndian.Uint16(ptr[off:]))
	off += 2
	stmtName := string(ptr[off : off+stmtLen])
	off += stmtLen
	varLen := int(binary.BigEndian.Uint16(ptr[off:]))
	off += 2
	varData := append([]byte(nil), ptr[off:off+varLen]...)
	off += varLen
	mcastMask := binary.BigEndian.Uint32(ptr[off:])
	off += 4
	dynOff := off

	r := &entryRecord{
		name: name, persistent: persistent, schedule: schedule,
		stmtName: stmtName, varData: varData, mcastMask: mcastMask,
		ptr: ptr, dynOff: dynOff,
	}
	r.readDyn()
	return r
}

func (r *entryRecord) readDyn() {
	d := r.ptr[r.dynOff:]
	r.lastCtime = binary.BigEndian.Uint32(d[0:4])
	r.nextCtime = binary.BigEndian.Uint32(d[4:8])
	r.runCount = binary.BigEndian.Uint32(d[8:12])
	r.failCount = binary.BigEndian.Uint32(d[12:16])
	r.state = State(d[16])
}

func (r *entryRecord) writeDyn() {
	d := r.ptr[r.dynOff:]
	binary.BigEndian.PutUint32(d[0:4], r.lastCtime)
	binary.BigEndian.PutUint32(d[4:8], r.nextCtime)
	binary.BigEndian.PutUint32(d[8:12], r.runCount)
	binary.BigEndian.PutUint32(d[12:16], r.failCount)
	d[16] = byte(r.state)
}

// EntryInfo is the read-only snapshot Store.List and the svcctl
// "info" handler return for one entry.
type EntryInfo struct {
	Name       string
	Persistent bool
	Schedule   string
	StmtName   string
	NextCtime  uint32
	LastCtime  uint32
	RunCount   uint32
	FailCount  uint32
	State      State
	McastMask  uint32
}

// Store holds every scheduler entry known to one process in an
// IMDB-backed "entry" class for the live, ready-to-fire bookkeeping.
// A parallel "source" class is created and destroyed with it but holds
// no records: Persistent=true entries are saved as one blob to the
// file-backed mirror by persistSources and re-added by Restore, so they
// survive a restart.
type Store struct {
	mu    sync.Mutex
	clock platform.Clock
	log   *logging.Logger
	m     *metrics.Registry

	entryClass *imdb.Class
	srcClass   *imdb.Class
	file       *imdb.FileStore // nil disables on-disk persistence

	evalStmt func(name string) error

	byName map[string]*entryRecord
	order  []string
}

// NewStore creates the backing IMDB classes. file may be nil, in which
// case Persistent entries are kept only in the in-memory/IMDB copy for
// the lifetime of the process (matching a node with no flash partition
// configured).
func NewStore(inst *imdb.Instance, file *imdb.FileStore, clock platform.Clock, log *logging.Logger, m *metrics.Registry, evalStmt func(name string) error) (*Store, error) {
	entryClass, err := inst.ClassCreate(imdb.ClassDef{
		Name: "sched.entry", Variable: true, PagesMax: 8, InitBlocks: 8,
	})
	if err != nil {
		return nil, err
	}
	srcClass, err := inst.ClassCreate(imdb.ClassDef{
		Name: "sched.source", Variable: true, PagesMax: 8, InitBlocks: 8,
	})
	if err != nil {
		entryClass.Destroy()
		return nil, err
	}
	return &Store{
		clock: clock, log: log, m: m,
		entryClass: entryClass, srcClass: srcClass, file: file,
		evalStmt: evalStmt,
		byName:   map[string]*entryRecord{},
	}, nil
}

// Close destroys the backing IMDB classes.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entryClass.Destroy()
	s.srcClass.Destroy()
	s.byName = map[string]*entryRecord{}
	s.order = nil
}

// Restore re-parses every persisted source record (on sched_on_start,
// per spec.md §4.7) and re-inserts it as a live entry, skipping any
// whose schedule string no longer parses (logged, not fatal — matching
// "skipped silently on parse error, logged").
func (s *Store) Restore() error {
	if s.file == nil {
		return nil
	}
	blob, err := s.file.Load()
	if err != nil || len(blob) == 0 {
		return nil
	}
	off := 0
	for off+4 <= len(blob) {
		n := int(binary.BigEndian.Uint32(blob[off:]))
		off += 4
		if off+n > len(blob) {
			break
		}
		rec := decodeEntry(append([]byte(nil), blob[off:off+n]...))
		off += n
		mask, err := ParseTSEntry(rec.schedule)
		if err != nil {
			if s.log != nil {
				s.log.Warnf("sched", "dropping unparsable persisted entry", "name", rec.name, "err", err)
			}
			continue
		}
		if err := s.EntryAdd(rec.name, true, rec.schedule, rec.stmtName, rec.varData, rec.mcastMask); err != nil {
			if s.log != nil {
				s.log.Warnf("sched", "failed to restore persisted entry", "name", rec.name, "err", err)
			}
			continue
		}
		_ = mask
	}
	return nil
}

// persistSources re-encodes every Persistent entry's source record
// into one blob and saves it to the file-backed mirror. Called after
// every add/remove of a persistent entry.
func (s *Store) persistSources() error {
	if s.file == nil {
		return nil
	}
	var buf []byte
	for _, name := range s.order {
		r := s.byName[name]
		if !r.persistent {
			continue
		}
		rec := encodeEntry(r.name, r.persistent, r.schedule, r.stmtName, r.varData, r.mcastMask)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(rec)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, rec...)
	}
	return s.file.Save(buf)
}

// EntryAdd parses schedule and stmtName into a new entry called name.
// ErrEntryExists if name is already installed. mcastMask selects which
// multicast signal ids (bit i == signal i+1) additionally fire this
// entry via Signal, independent of its time mask.
func (s *Store) EntryAdd(name string, persistent bool, schedule, stmtName string, varData []byte, mcastMask uint32) error {
	mask, err := ParseTSEntry(schedule)
	if err != nil {
		return ErrParse
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; ok {
		return ErrEntryExists
	}

	blob := encodeEntry(name, persistent, schedule, stmtName, varData, mcastMask)
	ptr, err := s.entryClass.Insert(len(blob))
	if err != nil {
		return ErrAllocation
	}
	copy(ptr, blob)
	rec := decodeEntry(ptr)
	rec.mask = mask
	next := NextFireTime(mask, s.clock.Now())
	if !next.IsZero() {
		rec.nextCtime = uint32(next.Unix())
	}
	rec.writeDyn()

	s.byName[name] = rec
	s.order = append(s.order, name)

	if persistent {
		if err := s.persistSources(); err != nil && s.log != nil {
			s.log.Warnf("sched", "persist sources failed", "err", err)
		}
	}
	return nil
}

// EntryRemove deletes name's entry. ErrEntryNotExists if unknown.
func (s *Store) EntryRemove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byName[name]
	if !ok {
		return ErrEntryNotExists
	}
	s.entryClass.Delete(r.ptr)
	delete(s.byName, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if r.persistent {
		if err := s.persistSources(); err != nil && s.log != nil {
			s.log.Warnf("sched", "persist sources failed", "err", err)
		}
	}
	return nil
}

// EntryRun forces an immediate dispatch of name, outside its schedule,
// exactly as a timer fire would (same run_count/fail_count bookkeeping).
func (s *Store) EntryRun(name string) error {
	s.mu.Lock()
	r, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return ErrEntryNotExists
	}
	return s.dispatch(r)
}

func (s *Store) dispatch(r *entryRecord) error {
	s.mu.Lock()
	r.state = StateRunning
	r.runCount++
	r.lastCtime = s.clock.Ctime()
	r.writeDyn()
	s.mu.Unlock()

	err := s.evalStmt(r.stmtName)

	s.mu.Lock()
	if err != nil {
		r.state = StateFailed
		r.failCount++
		if s.m != nil {
			s.m.SchedulerFailsTotal.Inc()
		}
	} else {
		r.state = StateQueue
		if s.m != nil {
			s.m.SchedulerRunsTotal.Inc()
		}
	}
	r.writeDyn()
	s.mu.Unlock()
	if err != nil {
		return ErrStmtError
	}
	return nil
}

// Tick evaluates every entry whose NextCtime has arrived as of now,
// firing each through Store.dispatch and re-arming its NextCtime from
// its time mask. It returns the earliest still-pending NextCtime
// across all entries (zero if none are scheduled), for the caller to
// re-arm its own timer against — never further out than 3600 seconds,
// per spec.md §4.7's "armed for the earliest entry's next_ctime but
// never further than 3600 seconds" rule.
func (s *Store) Tick(now time.Time) time.Time {
	nowU := uint32(now.Unix())
	s.mu.Lock()
	due := make([]*entryRecord, 0)
	for _, name := range s.order {
		r := s.byName[name]
		if r.nextCtime != 0 && r.nextCtime <= nowU {
			due = append(due, r)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].name < due[j].name })
	for _, r := range due {
		_ = s.dispatch(r)
		s.mu.Lock()
		next := NextFireTime(r.mask, now)
		if !next.IsZero() {
			r.nextCtime = uint32(next.Unix())
		} else {
			r.nextCtime = 0
		}
		r.writeDyn()
		s.mu.Unlock()
	}

	return s.earliestNext(now)
}

func (s *Store) earliestNext(now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	var earliest uint32
	for _, name := range s.order {
		r := s.byName[name]
		if r.nextCtime == 0 {
			continue
		}
		if earliest == 0 || r.nextCtime < earliest {
			earliest = r.nextCtime
		}
	}
	if earliest == 0 {
		return time.Time{}
	}
	ceiling := uint32(now.Unix()) + 3600
	if earliest > ceiling {
		earliest = ceiling
	}
	return time.Unix(int64(earliest), 0)
}

// Signal dispatches every entry whose multicast mask matches signal
// (1-indexed; bit signal-1), independent of its time-based schedule,
// per spec.md §4.7's "Multicast signals dispatched through the Service
// Controller also run entries whose multicast mask matches the signal
// id."
func (s *Store) Signal(signal uint32) {
	if signal == 0 || signal > 32 {
		return
	}
	bit := uint32(1) << (signal - 1)
	s.mu.Lock()
	var hit []*entryRecord
	for _, name := range s.order {
		r := s.byName[name]
		if r.mcastMask&bit != 0 {
			hit = append(hit, r)
		}
	}
	s.mu.Unlock()
	for _, r := range hit {
		_ = s.dispatch(r)
	}
}

// Info returns name's current snapshot. ErrEntryNotExists if unknown.
func (s *Store) Info(name string) (EntryInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byName[name]
	if !ok {
		return EntryInfo{}, ErrEntryNotExists
	}
	return entryInfoOf(r), nil
}

func entryInfoOf(r *entryRecord) EntryInfo {
	return EntryInfo{
		Name: r.name, Persistent: r.persistent, Schedule: r.schedule,
		StmtName: r.stmtName, NextCtime: r.nextCtime, LastCtime: r.lastCtime,
		RunCount: r.runCount, FailCount: r.failCount, State: r.state,
		McastMask: r.mcastMask,
	}
}

// List returns every entry's snapshot in registration order.
func (s *Store) List() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, entryInfoOf(s.byName[name]))
	}
	return out
}
