// Package services holds the thin svcctl.Service stubs for the domain
// services spec.md §1 names as out-of-scope collaborators: syslog,
// espadmin, gpioctl, the DHT sensor, and ntp. Each stub reproduces only
// its service_id/name and message shape from original_source/service/,
// enough to exercise the Service Controller's install/start/stop and
// message-routing paths end to end; none implements the underlying
// device algorithms (flash OTA, GPIO strapping, sensor timing, NTP
// round trips), which remain genuinely out of scope.
package services

import (
	"github.com/thingsshell/tshd/internal/dtlv"
	"github.com/thingsshell/tshd/internal/logging"
	"github.com/thingsshell/tshd/internal/svcctl"
)

// ServiceID/ServiceName match SYSLOG_SERVICE_ID/SYSLOG_SERVICE_NAME.
const (
	SyslogServiceID   uint16 = 2
	SyslogServiceName        = "syslog"
)

// Message types, matching syslog_msgtype_e.
const (
	MsgSyslogWrite svcctl.MsgType = 10
	MsgSyslogQuery svcctl.MsgType = 11
	MsgSyslogPurge svcctl.MsgType = 12
)

// AVP codes, matching syslog_avp_code_e.
const (
	avpLogEntry    = 101
	avpLogSeverity = 102
	avpLogMessage  = 103
	avpLogService  = 106
)

// SyslogService is the syslog facility: SYSLOG_MSGTYPE_WRITE logs the
// entry through the shared *logging.Logger at Info level (so it does
// not enter the logger's ERROR-only last-error ring) and appends it to
// an in-memory record list capped at 64 entries; QUERY replays that
// list; PURGE clears it. Records are not persisted to an IMDB class.
type SyslogService struct {
	log     *logging.Logger
	records []syslogRecord
	recNo   uint16
}

type syslogRecord struct {
	recNo    uint16
	severity uint8
	service  string
	message  string
}

// NewSyslogServiceDef builds the svcctl.ServiceDef for "syslog".
func NewSyslogServiceDef(log *logging.Logger, enabled bool) svcctl.ServiceDef {
	svc := &SyslogService{log: log}
	return svcctl.ServiceDef{
		ID:      SyslogServiceID,
		Name:    SyslogServiceName,
		Enabled: enabled,
		OnStart: func(ctx *svcctl.Context, cfg []byte) error { return nil },
		OnStop:  func(ctx *svcctl.Context) error { return nil },
		OnMessage: func(ctx *svcctl.Context, orig uint16, msgType svcctl.MsgType, msgIn []byte) ([]byte, error) {
			switch msgType {
			case MsgSyslogWrite:
				return nil, svc.write(orig, msgIn)
			case MsgSyslogQuery:
				return svc.query()
			case MsgSyslogPurge:
				svc.records = nil
				return nil, nil
			default:
				return nil, nil
			}
		},
	}
}

func (s *SyslogService) write(orig uint16, msgIn []byte) error {
	dc := dtlv.NewCtx(msgIn)
	var severity uint8
	var svcName, message string
	for {
		avp, data, err := dc.Decode()
		if err == dtlv.ErrEndOfData {
			break
		}
		if err != nil {
			return err
		}
		switch avp.Code {
		case avpLogSeverity:
			severity = dtlv.DecodeU8(data)
		case avpLogService:
			svcName = dtlv.DecodeChar(data)
		case avpLogMessage:
			message = dtlv.DecodeChar(data)
		}
	}
	s.recNo++
	s.records = append(s.records, syslogRecord{recNo: s.recNo, severity: severity, service: svcName, message: message})
	if len(s.records) > 64 {
		s.records = s.records[len(s.records)-64:]
	}
	if s.log != nil {
		s.log.Infof(svcName, message, "severity", severity, "orig", orig)
	}
	return nil
}

func (s *SyslogService) query() ([]byte, error) {
	buf := make([]byte, 64*len(s.records)+32)
	ctx := dtlv.NewCtx(buf)
	for _, r := range s.records {
		hdr, err := ctx.Encode(0, avpLogEntry, dtlv.TypeObject, nil, false)
		if err != nil {
			return nil, err
		}
		if _, err := ctx.EncodeU16(0, 105, r.recNo); err != nil {
			return nil, err
		}
		if _, err := ctx.EncodeU8(0, avpLogSeverity, r.severity); err != nil {
			return nil, err
		}
		if _, err := ctx.EncodeChar(0, avpLogService, r.service); err != nil {
			return nil, err
		}
		if _, err := ctx.EncodeChar(0, avpLogMessage, r.message); err != nil {
			return nil, err
		}
		if err := ctx.EncodeGroupDone(hdr); err != nil {
			return nil, err
		}
	}
	return ctx.Bytes(), nil
}
