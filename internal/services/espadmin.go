package services

import (
	"github.com/thingsshell/tshd/internal/dtlv"
	"github.com/thingsshell/tshd/internal/platform"
	"github.com/thingsshell/tshd/internal/svcctl"
)

// ServiceID/ServiceName match ESPADMIN_SERVICE_ID/ESPADMIN_SERVICE_NAME.
const (
	EspadminServiceID   uint16 = 3
	EspadminServiceName        = "espadmin"
)

// Message types, matching espadmin_msgtype_e. Only RESTART is given a
// (no-op) handler; the OTA upload state machine is out of scope.
const (
	MsgEspadminFwOtaInit   svcctl.MsgType = 10
	MsgEspadminFwOtaUpload svcctl.MsgType = 11
	MsgEspadminRestart     svcctl.MsgType = 12
	MsgEspadminFwVerify    svcctl.MsgType = 13
	MsgEspadminFwOtaDone   svcctl.MsgType = 14
)

// AVP codes, matching espadmin_avp_code_e (system info subset only).
const (
	avpSystem   = 102
	avpSysUptime = 112
)

// NewEspadminServiceDef answers INFO/RESTART only with the system
// uptime it can compute from platform.Clock (boot ctime captured at
// OnStart); OTA upload and firmware verification are the OTA state
// machine spec.md §1 excludes from the CORE.
func NewEspadminServiceDef(clock platform.Clock, enabled bool) svcctl.ServiceDef {
	var bootTime uint32
	return svcctl.ServiceDef{
		ID:      EspadminServiceID,
		Name:    EspadminServiceName,
		Enabled: enabled,
		OnStart: func(ctx *svcctl.Context, cfg []byte) error {
			bootTime = clock.Ctime()
			return nil
		},
		OnStop: func(ctx *svcctl.Context) error { return nil },
		OnMessage: func(ctx *svcctl.Context, orig uint16, msgType svcctl.MsgType, msgIn []byte) ([]byte, error) {
			switch msgType {
			case svcctl.MsgInfo:
				buf := make([]byte, 32)
				ec := dtlv.NewCtx(buf)
				hdr, err := ec.Encode(0, avpSystem, dtlv.TypeObject, nil, false)
				if err != nil {
					return nil, err
				}
				if _, err := ec.EncodeU32(0, avpSysUptime, clock.Ctime()-bootTime); err != nil {
					return nil, err
				}
				if err := ec.EncodeGroupDone(hdr); err != nil {
					return nil, err
				}
				return ec.Bytes(), nil
			case MsgEspadminRestart:
				return nil, nil
			default:
				return nil, nil
			}
		},
	}
}
