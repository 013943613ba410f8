package lsh

import (
	"fmt"

	"github.com/thingsshell/tshd/internal/dtlv"
	"github.com/thingsshell/tshd/internal/platform"
	"github.com/thingsshell/tshd/internal/svcctl"
)

// ServiceID and ServiceName match LSH_SERVICE_ID/LSH_SERVICE_NAME.
const (
	ServiceID   uint16 = 5
	ServiceName        = "lwsh"
)

// Message types, matching sh_msgtype_e.
const (
	MsgStmtAdd    svcctl.MsgType = 10
	MsgStmtRemove svcctl.MsgType = 11
	MsgStmtRun    svcctl.MsgType = 12
	MsgStmtDump   svcctl.MsgType = 13
)

// AVP codes, matching sh_avp_code_e.
const (
	avpStatement     = 100
	avpStmtObjsize    = 101
	avpStmtName       = 102
	avpStmtText       = 103
	avpStmtCode       = 104
	avpStmtParseTime  = 105
	avpStmtArguments  = 106
	avpFunctionName   = 110
)

// Service bundles the compiled-statement store and the evaluation
// environment each message handler needs, wired into a svcctl.Controller
// via ServiceDef.
type Service struct {
	store   *StmtStore
	globals *GlobalTable
	clock   platform.Clock
}

// NewServiceDef builds the svcctl.ServiceDef for the "lwsh" service.
// globals should already have RegisterBuiltins applied.
func NewServiceDef(globals *GlobalTable, clock platform.Clock, enabled bool) svcctl.ServiceDef {
	svc := &Service{globals: globals, clock: clock}
	return svcctl.ServiceDef{
		ID:      ServiceID,
		Name:    ServiceName,
		Enabled: enabled,
		OnStart: func(ctx *svcctl.Context, cfg []byte) error {
			store, err := NewStmtStore(ctx.IMDB, globals)
			if err != nil {
				return err
			}
			svc.store = store
			return nil
		},
		OnStop: func(ctx *svcctl.Context) error {
			if svc.store != nil {
				svc.store.Close()
			}
			return nil
		},
		OnMessage: svc.onMessage,
	}
}

func (s *Service) onMessage(ctx *svcctl.Context, orig uint16, msgType svcctl.MsgType, msgIn []byte) ([]byte, error) {
	switch msgType {
	case MsgStmtAdd:
		return s.handleAdd(msgIn)
	case MsgStmtRemove:
		return nil, s.handleRemove(msgIn)
	case MsgStmtRun:
		return s.handleRun(msgIn)
	case MsgStmtDump:
		return s.handleDump(msgIn)
	default:
		return nil, nil
	}
}

// EncodeRunMessage builds the MsgStmtRun payload for name, the shape
// other services (sched's timer dispatch, in particular) address
// through svcctl.Controller.Message rather than an lwsh-internal call,
// keeping the statement store private to this package.
func EncodeRunMessage(name string) ([]byte, error) {
	buf := make([]byte, 32+len(name))
	ctx := dtlv.NewCtx(buf)
	hdr, err := ctx.Encode(0, avpStatement, dtlv.TypeObject, nil, false)
	if err != nil {
		return nil, err
	}
	if _, err := ctx.EncodeChar(0, avpStmtName, name); err != nil {
		return nil, err
	}
	if err := ctx.EncodeGroupDone(hdr); err != nil {
		return nil, err
	}
	return ctx.Bytes(), nil
}

func decodeNameText(msgIn []byte) (name, text string, err error) {
	dc := dtlv.NewCtx(msgIn)
	names, err := dc.DecodeByPath(len(msgIn), []dtlv.PathSegment{{Code: avpStatement}, {Code: avpStmtName}}, 1)
	if err != nil {
		return "", "", err
	}
	dc2 := dtlv.NewCtx(msgIn)
	texts, err := dc2.DecodeByPath(len(msgIn), []dtlv.PathSegment{{Code: avpStatement}, {Code: avpStmtText}}, 1)
	if err != nil {
		return "", "", err
	}
	if len(names) == 0 {
		return "", "", ErrParseOperandMiss
	}
	name = dtlv.DecodeChar(names[0])
	if len(texts) > 0 {
		text = dtlv.DecodeChar(texts[0])
	}
	return name, text, nil
}

func decodeNameOnly(msgIn []byte) (string, error) {
	dc := dtlv.NewCtx(msgIn)
	names, err := dc.DecodeByPath(len(msgIn), []dtlv.PathSegment{{Code: avpStatement}, {Code: avpStmtName}}, 1)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", ErrParseOperandMiss
	}
	return dtlv.DecodeChar(names[0]), nil
}

func (s *Service) handleAdd(msgIn []byte) ([]byte, error) {
	name, text, err := decodeNameText(msgIn)
	if err != nil {
		return nil, err
	}
	info, err := s.store.Parse(name, text)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 64+len(name))
	ctx := dtlv.NewCtx(buf)
	hdr, err := ctx.Encode(0, avpStatement, dtlv.TypeObject, nil, false)
	if err != nil {
		return nil, err
	}
	if _, err := ctx.EncodeChar(0, avpStmtName, info.Name); err != nil {
		return nil, err
	}
	if _, err := ctx.EncodeU32(0, avpStmtObjsize, uint32(info.Length)); err != nil {
		return nil, err
	}
	if err := ctx.EncodeGroupDone(hdr); err != nil {
		return nil, err
	}
	return ctx.Bytes(), nil
}

func (s *Service) handleRemove(msgIn []byte) error {
	name, err := decodeNameOnly(msgIn)
	if err != nil {
		return err
	}
	return s.store.Remove(name)
}

func (s *Service) handleRun(msgIn []byte) ([]byte, error) {
	name, err := decodeNameOnly(msgIn)
	if err != nil {
		return nil, err
	}
	ec := &EvalContext{Clock: s.clock, Globals: s.globals}
	if err := s.store.Eval(name, ec); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Service) handleDump(msgIn []byte) ([]byte, error) {
	name, err := decodeNameOnly(msgIn)
	if err != nil {
		return nil, err
	}
	dump, err := s.store.Dump(name)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 256+len(dump))
	ctx := dtlv.NewCtx(buf)
	if _, err := ctx.EncodeChar(0, avpStmtText, fmt.Sprintf("%s\n%s", name, dump)); err != nil {
		return nil, err
	}
	return ctx.Bytes(), nil
}
