// Package real wires internal/platform's collaborator interfaces to the Go
// standard library, for use by the production tshd daemon.
package real

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/thingsshell/tshd/internal/platform"
)

// Clock is a real wall/monotonic clock; Ctime counts seconds since NewClock.
type Clock struct {
	boot time.Time
}

// NewClock returns a Clock whose monotonic counter starts at the current
// instant.
func NewClock() *Clock { return &Clock{boot: time.Now()} }

func (c *Clock) Now() time.Time { return time.Now() }
func (c *Clock) Ctime() uint32  { return uint32(time.Since(c.boot) / time.Second) }

// Timer wraps time.AfterFunc / time.Ticker behind the platform.Timer interface.
type Timer struct {
	mu     sync.Mutex
	timer  *time.Timer
	ticker *time.Ticker
	stop   chan struct{}
}

func NewTimer() *Timer { return &Timer{} }

func (t *Timer) Arm(d time.Duration, repeating bool, fn func()) {
	t.Disarm()
	t.mu.Lock()
	defer t.mu.Unlock()
	if !repeating {
		t.timer = time.AfterFunc(d, fn)
		return
	}
	t.ticker = time.NewTicker(d)
	t.stop = make(chan struct{})
	ticker, stop := t.ticker, t.stop
	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-stop:
				return
			}
		}
	}()
}

func (t *Timer) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.ticker != nil {
		t.ticker.Stop()
		close(t.stop)
		t.ticker = nil
	}
}

type TimerFactory struct{}

func (TimerFactory) NewTimer() platform.Timer { return NewTimer() }

// packetConn adapts *net.UDPConn to platform.PacketConn.
type packetConn struct {
	conn *net.UDPConn
}

func (p *packetConn) RecvFrom(cb func(src *net.UDPAddr, b []byte)) {
	go func() {
		buf := make([]byte, 65536)
		for {
			n, addr, err := p.conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			cpy := make([]byte, n)
			copy(cpy, buf[:n])
			cb(addr, cpy)
		}
	}()
}

func (p *packetConn) SendTo(dst *net.UDPAddr, b []byte) error {
	_, err := p.conn.WriteToUDP(b, dst)
	return err
}

func (p *packetConn) LocalAddr() *net.UDPAddr { return p.conn.LocalAddr().(*net.UDPAddr) }
func (p *packetConn) Close() error            { return p.conn.Close() }

// UDP binds real net.UDPConns.
type UDP struct{}

func (UDP) ListenUDP(port int) (platform.PacketConn, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, err
	}
	return &packetConn{conn: conn}, nil
}

// Resolver performs a real async DNS lookup via net.Resolver, posting the
// result back to cb from a background goroutine.
type Resolver struct {
	R *net.Resolver
}

func NewResolver() *Resolver { return &Resolver{R: net.DefaultResolver} }

func (r *Resolver) Resolve(ctx context.Context, hostname string, cb func(net.IP, error)) {
	go func() {
		addrs, err := r.R.LookupIP(ctx, "ip4", hostname)
		if err != nil || len(addrs) == 0 {
			cb(nil, err)
			return
		}
		cb(addrs[0], nil)
	}()
}

// Random draws from crypto/rand.
type Random struct{}

func (Random) Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Digest incrementally hashes with crypto/sha256.
type Digest struct {
	h [32]byte
	s []byte
}

func NewDigest() *Digest { return &Digest{} }

func (d *Digest) Reset()          { d.s = d.s[:0] }
func (d *Digest) Write(b []byte)  { d.s = append(d.s, b...) }
func (d *Digest) Sum() [32]byte   { return sha256.Sum256(d.s) }

// HMACer computes HMAC-SHA256 with crypto/hmac.
type HMACer struct{}

func (HMACer) Sum(key, msg []byte) [32]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// FileFlash implements platform.Flash over a regular *os.File, standing
// in for the raw NOR flash device spec.md §6 describes: the file is
// preallocated to size bytes and erases reset a sector to 0xFF, the
// same semantics internal/platform/sim.Flash gives an in-memory buffer
// to for tests.
type FileFlash struct {
	f    *os.File
	size int
	sect int
}

// OpenFileFlash opens (creating if needed) path as a size-byte flash
// image with the given sector size.
func OpenFileFlash(path string, size, sectorSize int) (*FileFlash, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("real: open flash file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, err
		}
		fill := make([]byte, sectorSize)
		for i := range fill {
			fill[i] = 0xFF
		}
		for off := info.Size(); off < int64(size); off += int64(sectorSize) {
			n := sectorSize
			if rem := int64(size) - off; rem < int64(sectorSize) {
				n = int(rem)
			}
			if _, err := f.WriteAt(fill[:n], off); err != nil {
				f.Close()
				return nil, err
			}
		}
	}
	return &FileFlash{f: f, size: size, sect: sectorSize}, nil
}

func (ff *FileFlash) SectorSize() int { return ff.sect }
func (ff *FileFlash) Size() int       { return ff.size }

func (ff *FileFlash) Read(addr, size int) ([]byte, error) {
	if addr < 0 || addr+size > ff.size {
		return nil, fmt.Errorf("real: flash read out of bounds")
	}
	buf := make([]byte, size)
	if _, err := ff.f.ReadAt(buf, int64(addr)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (ff *FileFlash) Write(addr int, buf []byte) error {
	if addr < 0 || addr+len(buf) > ff.size {
		return fmt.Errorf("real: flash write out of bounds")
	}
	_, err := ff.f.WriteAt(buf, int64(addr))
	return err
}

func (ff *FileFlash) EraseSector(index int) error {
	start := index * ff.sect
	if start < 0 || start+ff.sect > ff.size {
		return fmt.Errorf("real: flash erase out of bounds")
	}
	fill := make([]byte, ff.sect)
	for i := range fill {
		fill[i] = 0xFF
	}
	_, err := ff.f.WriteAt(fill, int64(start))
	return err
}

func (ff *FileFlash) Close() error { return ff.f.Close() }
