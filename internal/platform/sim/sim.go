// Package sim provides an in-memory, single-goroutine-driven fake of
// internal/platform's collaborator interfaces: a virtual clock that only
// advances when told to, a loopback packet queue, an in-memory flash
// image, seeded deterministic random bytes, and the real SHA-256/HMAC digests.
// It exists so the rest of the runtime can be exercised by table-driven
// tests without real sockets, real files, or real wall-clock waits.
package sim

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/thingsshell/tshd/internal/platform"
)

// Clock is a virtual clock advanced explicitly by tests via Advance.
type Clock struct {
	mu     sync.Mutex
	ctime  uint32
	timers []*timerEntry
}

type timerEntry struct {
	at        uint32
	period    uint32
	repeating bool
	fn        func()
	live      bool
}

func NewClock() *Clock { return &Clock{} }

// Now reports a wall-clock time derived from the virtual ctime counter,
// anchored at the Unix epoch, so formatting code has something to print.
func (c *Clock) Now() time.Time {
	return timeUnix(int64(c.Ctime()))
}

func timeUnix(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func (c *Clock) Ctime() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctime
}

// Advance moves the clock forward by secs seconds, firing any timers
// whose deadline is reached, in deadline order.
func (c *Clock) Advance(secs uint32) {
	for i := uint32(0); i < secs; i++ {
		c.mu.Lock()
		c.ctime++
		now := c.ctime
		due := make([]*timerEntry, 0)
		for _, te := range c.timers {
			if te.live && te.at <= now {
				due = append(due, te)
			}
		}
		sort.Slice(due, func(i, j int) bool { return due[i].at < due[j].at })
		for _, te := range due {
			if te.repeating {
				te.at = now + te.period
			} else {
				te.live = false
			}
		}
		c.mu.Unlock()
		for _, te := range due {
			te.fn()
		}
	}
}

// Timer is a sim.Clock-driven platform.Timer.
type Timer struct {
	clock *Clock
	entry *timerEntry
}

func (c *Clock) NewTimer() *Timer { return &Timer{clock: c} }

// Arm schedules fn after d, rounded up to whole seconds: the sim clock
// only ticks in Advance(secs) steps.
func (t *Timer) Arm(d time.Duration, repeating bool, fn func()) {
	t.Disarm()
	secs := uint32(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs == 0 {
		secs = 1
	}
	t.entry = &timerEntry{at: t.clock.Ctime() + secs, period: secs, repeating: repeating, fn: fn, live: true}
	t.clock.mu.Lock()
	t.clock.timers = append(t.clock.timers, t.entry)
	t.clock.mu.Unlock()
}

func (t *Timer) Disarm() {
	if t.entry != nil {
		t.entry.live = false
		t.entry = nil
	}
}

// TimerFactory adapts a *Clock to platform.TimerFactory, so components
// that only take the interface (not the concrete sim type) can be
// driven by the virtual clock in tests.
type TimerFactory struct{ Clock *Clock }

func (f TimerFactory) NewTimer() platform.Timer { return f.Clock.NewTimer() }

// Network is a loopback fabric connecting sim PacketConns by port number.
type Network struct {
	mu    sync.Mutex
	conns map[int]*PacketConn
}

func NewNetwork() *Network { return &Network{conns: map[int]*PacketConn{}} }

// PacketConn is an in-memory platform.PacketConn bound to one port.
type PacketConn struct {
	net  *Network
	port int
	cb   func(src *net.UDPAddr, b []byte)
	mu   sync.Mutex
}

func (n *Network) listen(port int) (*PacketConn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.conns[port]; ok {
		return nil, errors.New("sim: port already bound")
	}
	pc := &PacketConn{net: n, port: port}
	n.conns[port] = pc
	return pc, nil
}

// UDP adapts a Network to platform.UDP. Network.listen returns the
// concrete *PacketConn (handy for tests that want the sim-only surface
// directly); UDP.ListenUDP narrows that to the platform.PacketConn
// interface, since Go does not allow covariant return types to satisfy
// an interface method by itself.
type UDP struct{ Net *Network }

func (u UDP) ListenUDP(port int) (platform.PacketConn, error) {
	return u.Net.listen(port)
}

func (p *PacketConn) RecvFrom(cb func(src *net.UDPAddr, b []byte)) {
	p.mu.Lock()
	p.cb = cb
	p.mu.Unlock()
}

func (p *PacketConn) SendTo(dst *net.UDPAddr, b []byte) error {
	p.net.mu.Lock()
	target, ok := p.net.conns[dst.Port]
	p.net.mu.Unlock()
	if !ok {
		return errors.New("sim: no listener on port")
	}
	target.mu.Lock()
	cb := target.cb
	target.mu.Unlock()
	if cb != nil {
		cpy := make([]byte, len(b))
		copy(cpy, b)
		cb(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: p.port}, cpy)
	}
	return nil
}

func (p *PacketConn) LocalAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: p.port}
}

func (p *PacketConn) Close() error {
	p.net.mu.Lock()
	delete(p.net.conns, p.port)
	p.net.mu.Unlock()
	return nil
}

// Flash is an in-memory byte slice standing in for a NOR flash chip.
type Flash struct {
	mu   sync.Mutex
	buf  []byte
	sect int
}

// NewFlash allocates a simulated flash image of size bytes, erased
// (0xFF-filled) to start, with the given sector size.
func NewFlash(size, sectorSize int) *Flash {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0xFF
	}
	return &Flash{buf: buf, sect: sectorSize}
}

func (f *Flash) SectorSize() int { return f.sect }
func (f *Flash) Size() int       { return len(f.buf) }

func (f *Flash) Read(addr, size int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if addr < 0 || addr+size > len(f.buf) {
		return nil, errors.New("sim: flash read out of bounds")
	}
	out := make([]byte, size)
	copy(out, f.buf[addr:addr+size])
	return out, nil
}

func (f *Flash) Write(addr int, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if addr < 0 || addr+len(buf) > len(f.buf) {
		return errors.New("sim: flash write out of bounds")
	}
	copy(f.buf[addr:], buf)
	return nil
}

func (f *Flash) EraseSector(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := index * f.sect
	if start < 0 || start+f.sect > len(f.buf) {
		return errors.New("sim: flash erase out of bounds")
	}
	for i := start; i < start+f.sect; i++ {
		f.buf[i] = 0xFF
	}
	return nil
}

// Random is a deterministic (seeded, non-cryptographic) byte source so
// tests can assert on exact handshake bytes.
type Random struct {
	mu   sync.Mutex
	seed uint64
}

func NewRandom(seed uint64) *Random { return &Random{seed: seed} }

func (r *Random) Bytes(n int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, n)
	for i := range out {
		r.seed = r.seed*6364136223846793005 + 1442695040888963407
		out[i] = byte(r.seed >> 56)
	}
	return out, nil
}

// Digest and HMACer reuse the real crypto/sha256 primitives: faking the
// digest algorithm itself would make round-trip tests meaningless.
type Digest struct{ buf []byte }

func NewDigest() *Digest        { return &Digest{} }
func (d *Digest) Reset()        { d.buf = d.buf[:0] }
func (d *Digest) Write(b []byte) { d.buf = append(d.buf, b...) }
func (d *Digest) Sum() [32]byte { return sha256.Sum256(d.buf) }

type HMACer struct{}

func (HMACer) Sum(key, msg []byte) [32]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}
