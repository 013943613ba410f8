package sched

import (
	"time"

	"github.com/thingsshell/tshd/internal/dtlv"
	"github.com/thingsshell/tshd/internal/imdb"
	"github.com/thingsshell/tshd/internal/logging"
	"github.com/thingsshell/tshd/internal/metrics"
	"github.com/thingsshell/tshd/internal/platform"
	"github.com/thingsshell/tshd/internal/svcctl"
)

// ServiceID and ServiceName match SCHED_SERVICE_ID/SCHED_SERVICE_NAME.
const (
	ServiceID   uint16 = 8
	ServiceName        = "sched"
)

// Message types, matching sched_msgtype_e: entry CRUD plus the
// multicast-signal dispatch svcctl.Controller's broadcast forwards.
const (
	MsgEntryAdd    svcctl.MsgType = 10
	MsgEntryRemove svcctl.MsgType = 11
	MsgEntryRun    svcctl.MsgType = 12
	MsgEntryInfo   svcctl.MsgType = 13
	MsgSignal      svcctl.MsgType = 14
)

// AVP codes, matching sched_avp_code_e.
const (
	avpEntry        = 100
	avpEntryName    = 101
	avpEntryPersist = 102
	avpEntrySched   = 103
	avpEntryStmt    = 104
	avpEntryVarData = 105
	avpEntryMcast   = 106
	avpEntryNext    = 110
	avpEntryLast    = 111
	avpEntryRunCnt  = 112
	avpEntryFailCnt = 113
	avpEntryState   = 114
	avpSignalID     = 120
)

// minPollInterval is the shortest delay Service re-arms its timer with:
// the delay used when no entry is scheduled, or when the earliest entry
// is due sooner than that.
const minPollInterval = 250 * time.Millisecond

// Service wires a Store into a svcctl.Controller: it owns the global
// repeating timer ("next_timer" in spec.md §4.7), re-arming it to the
// earliest entry's NextCtime on every tick and on SVCS_MSGTYPE_ADJTIME
// (an NTP resync broadcast, which can move "now" arbitrarily and so
// must force an immediate re-tick rather than wait for the stale
// timer).
type Service struct {
	store  *Store
	clock  platform.Clock
	timer  platform.Timer
	log    *logging.Logger
	m      *metrics.Registry
	evalFn func(name string) error
	file   *imdb.FileStore
}

// NewServiceDef builds the svcctl.ServiceDef for "sched". evalStmt
// evaluates one named lsh statement (the caller binds an lsh.StmtStore
// and lsh.EvalContext into this closure at wiring time, keeping sched
// free of a direct lsh import, the same layering the rest of the
// service tree follows). file may be nil to disable persistence of
// Persistent entries across restarts.
func NewServiceDef(tf platform.TimerFactory, clock platform.Clock, log *logging.Logger, m *metrics.Registry, file *imdb.FileStore, evalStmt func(name string) error, enabled bool) svcctl.ServiceDef {
	svc := &Service{clock: clock, log: log, m: m, evalFn: evalStmt, file: file}
	return svcctl.ServiceDef{
		ID:      ServiceID,
		Name:    ServiceName,
		Enabled: enabled,
		OnStart: func(ctx *svcctl.Context, cfg []byte) error {
			store, err := NewStore(ctx.IMDB, svc.file, svc.clock, svc.log, svc.m, svc.evalFn)
			if err != nil {
				return err
			}
			svc.store = store
			if err := store.Restore(); err != nil && svc.log != nil {
				svc.log.Warnf(ServiceName, "restoring persisted entries failed", "err", err)
			}
			svc.timer = tf.NewTimer()
			svc.tick()
			return nil
		},
		OnStop: func(ctx *svcctl.Context) error {
			if svc.timer != nil {
				svc.timer.Disarm()
				svc.timer = nil
			}
			if svc.store != nil {
				svc.store.Close()
				svc.store = nil
			}
			return nil
		},
		OnMessage: svc.onMessage,
	}
}

// tick runs one scheduler pass, dispatching every due entry, then
// re-arms the timer for the earliest entry's NextCtime (Store.Tick caps
// it at 3600 seconds out), but never sooner than minPollInterval from
// now. An entry added between ticks is not looked at until the armed
// timer fires or Resync runs.
func (s *Service) tick() {
	if s.store == nil || s.timer == nil {
		return
	}
	now := s.clock.Now()
	next := s.store.Tick(now)
	delay := minPollInterval
	if !next.IsZero() {
		if d := next.Sub(now); d > delay {
			delay = d
		}
	}
	s.timer.Arm(delay, false, s.tick)
}

// Resync forces an immediate re-tick, independent of the armed timer,
// matching spec.md §4.7's "rearms on tick and on
// SVCS_MSGTYPE_ADJTIME" (the NTP service's wall-clock step can move
// "now" past or short of every entry's stale NextCtime).
func (s *Service) Resync() {
	s.tick()
}

func (s *Service) onMessage(ctx *svcctl.Context, orig uint16, msgType svcctl.MsgType, msgIn []byte) ([]byte, error) {
	if s.store == nil {
		return nil, ErrInternal
	}
	switch msgType {
	case MsgEntryAdd:
		return s.handleAdd(msgIn)
	case MsgEntryRemove:
		name, err := decodeEntryName(msgIn)
		if err != nil {
			return nil, err
		}
		return nil, s.store.EntryRemove(name)
	case MsgEntryRun:
		name, err := decodeEntryName(msgIn)
		if err != nil {
			return nil, err
		}
		return nil, s.store.EntryRun(name)
	case MsgEntryInfo:
		return s.handleInfo(msgIn)
	case svcctl.MsgAdjtime:
		s.Resync()
		return nil, nil
	case MsgSignal:
		return nil, s.handleSignal(msgIn)
	default:
		return nil, nil
	}
}

func decodeEntryName(msgIn []byte) (string, error) {
	dc := dtlv.NewCtx(msgIn)
	names, err := dc.DecodeByPath(len(msgIn), []dtlv.PathSegment{{Code: avpEntry}, {Code: avpEntryName}}, 1)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", ErrParse
	}
	return dtlv.DecodeChar(names[0]), nil
}

func (s *Service) handleAdd(msgIn []byte) ([]byte, error) {
	dc := dtlv.NewCtx(msgIn)
	names, err := dc.DecodeByPath(len(msgIn), []dtlv.PathSegment{{Code: avpEntry}, {Code: avpEntryName}}, 1)
	if err != nil || len(names) == 0 {
		return nil, ErrParse
	}
	dc2 := dtlv.NewCtx(msgIn)
	scheds, err := dc2.DecodeByPath(len(msgIn), []dtlv.PathSegment{{Code: avpEntry}, {Code: avpEntrySched}}, 1)
	if err != nil || len(scheds) == 0 {
		return nil, ErrParse
	}
	dc3 := dtlv.NewCtx(msgIn)
	stmts, err := dc3.DecodeByPath(len(msgIn), []dtlv.PathSegment{{Code: avpEntry}, {Code: avpEntryStmt}}, 1)
	if err != nil || len(stmts) == 0 {
		return nil, ErrParse
	}
	dc4 := dtlv.NewCtx(msgIn)
	persists, _ := dc4.DecodeByPath(len(msgIn), []dtlv.PathSegment{{Code: avpEntry}, {Code: avpEntryPersist}}, 1)
	persistent := len(persists) > 0 && persists[0][0] != 0
	dc5 := dtlv.NewCtx(msgIn)
	mcasts, _ := dc5.DecodeByPath(len(msgIn), []dtlv.PathSegment{{Code: avpEntry}, {Code: avpEntryMcast}}, 1)
	var mcastMask uint32
	if len(mcasts) > 0 {
		mcastMask = dtlv.DecodeU32(mcasts[0])
	}
	dc6 := dtlv.NewCtx(msgIn)
	varDatas, _ := dc6.DecodeByPath(len(msgIn), []dtlv.PathSegment{{Code: avpEntry}, {Code: avpEntryVarData}}, 1)
	var varData []byte
	if len(varDatas) > 0 {
		varData = varDatas[0]
	}

	name := dtlv.DecodeChar(names[0])
	schedule := dtlv.DecodeChar(scheds[0])
	stmtName := dtlv.DecodeChar(stmts[0])

	if err := s.store.EntryAdd(name, persistent, schedule, stmtName, varData, mcastMask); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Service) handleInfo(msgIn []byte) ([]byte, error) {
	name, err := decodeEntryName(msgIn)
	if err != nil {
		return nil, err
	}
	info, err := s.store.Info(name)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 128+len(info.Name)+len(info.Schedule)+len(info.StmtName))
	ctx := dtlv.NewCtx(buf)
	hdr, err := ctx.Encode(0, avpEntry, dtlv.TypeObject, nil, false)
	if err != nil {
		return nil, err
	}
	if _, err := ctx.EncodeChar(0, avpEntryName, info.Name); err != nil {
		return nil, err
	}
	if _, err := ctx.EncodeChar(0, avpEntrySched, info.Schedule); err != nil {
		return nil, err
	}
	if _, err := ctx.EncodeChar(0, avpEntryStmt, info.StmtName); err != nil {
		return nil, err
	}
	if _, err := ctx.EncodeU32(0, avpEntryNext, info.NextCtime); err != nil {
		return nil, err
	}
	if _, err := ctx.EncodeU32(0, avpEntryLast, info.LastCtime); err != nil {
		return nil, err
	}
	if _, err := ctx.EncodeU32(0, avpEntryRunCnt, info.RunCount); err != nil {
		return nil, err
	}
	if _, err := ctx.EncodeU32(0, avpEntryFailCnt, info.FailCount); err != nil {
		return nil, err
	}
	if _, err := ctx.EncodeU8(0, avpEntryState, uint8(info.State)); err != nil {
		return nil, err
	}
	if err := ctx.EncodeGroupDone(hdr); err != nil {
		return nil, err
	}
	return ctx.Bytes(), nil
}

func (s *Service) handleSignal(msgIn []byte) error {
	dc := dtlv.NewCtx(msgIn)
	ids, err := dc.DecodeByPath(len(msgIn), []dtlv.PathSegment{{Code: avpSignalID}}, 1)
	if err != nil || len(ids) == 0 {
		return ErrParse
	}
	s.store.Signal(dtlv.DecodeU32(ids[0]))
	return nil
}
