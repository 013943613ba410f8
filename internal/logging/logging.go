// Package logging is the severity-leveled logging facade the rest of
// the runtime calls instead of touching a logger library directly,
// replacing the "logging facade" external collaborator named in
// spec.md §1 with a concrete implementation over go.uber.org/zap.
//
// It additionally keeps a bounded ring of the last N error-level
// messages in memory, mirroring core/logging.c's last-error buffer
// that UDPCTL and the service controller surface back to a client
// (spec.md §6's "last-error buffer" configuration field).
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Level is a logging severity, ordered DEBUG < INFO < WARN < ERROR.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger wraps a zap.SugaredLogger with a minimum severity filter and a
// bounded last-error ring buffer.
type Logger struct {
	z   *zap.SugaredLogger
	min Level

	mu      sync.Mutex
	ring    []string
	ringCap int
	ringPos int
	ringLen int
}

// New builds a Logger at the given minimum severity with a last-error
// ring of ringCap entries (spec.md's default is 84 bytes for syslog;
// here sized in entries rather than bytes since Go strings are not
// fixed-width buffers).
func New(min Level, ringCap int) (*Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("logging: build zap logger: %w", err)
	}
	if ringCap <= 0 {
		ringCap = 16
	}
	return &Logger{z: z.Sugar(), min: min, ring: make([]string, ringCap), ringCap: ringCap}, nil
}

// NewNop builds a Logger that discards everything, for tests.
func NewNop(ringCap int) *Logger {
	if ringCap <= 0 {
		ringCap = 16
	}
	return &Logger{z: zap.NewNop().Sugar(), ring: make([]string, ringCap), ringCap: ringCap}
}

func (l *Logger) Sync() { _ = l.z.Sync() }

func (l *Logger) log(lvl Level, service, msg string, kv ...any) {
	if lvl < l.min {
		return
	}
	full := fmt.Sprintf("[%s] %s", service, msg)
	args := append([]any{"severity", lvl.String()}, kv...)
	switch lvl {
	case Debug:
		l.z.Debugw(full, args...)
	case Info:
		l.z.Infow(full, args...)
	case Warn:
		l.z.Warnw(full, args...)
	case Error:
		l.z.Errorw(full, args...)
		l.pushError(full)
	}
}

func (l *Logger) Debugf(service, msg string, kv ...any) { l.log(Debug, service, msg, kv...) }
func (l *Logger) Infof(service, msg string, kv ...any)  { l.log(Info, service, msg, kv...) }
func (l *Logger) Warnf(service, msg string, kv ...any)  { l.log(Warn, service, msg, kv...) }
func (l *Logger) Errorf(service, msg string, kv ...any) { l.log(Error, service, msg, kv...) }

func (l *Logger) pushError(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring[l.ringPos] = msg
	l.ringPos = (l.ringPos + 1) % l.ringCap
	if l.ringLen < l.ringCap {
		l.ringLen++
	}
}

// LastErrors returns up to n of the most recent ERROR-level messages,
// newest first.
func (l *Logger) LastErrors(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > l.ringLen {
		n = l.ringLen
	}
	out := make([]string, 0, n)
	pos := l.ringPos
	for i := 0; i < n; i++ {
		pos = (pos - 1 + l.ringCap) % l.ringCap
		out = append(out, l.ring[pos])
	}
	return out
}
