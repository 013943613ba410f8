package services

import (
	"github.com/thingsshell/tshd/internal/dtlv"
	"github.com/thingsshell/tshd/internal/platform"
	"github.com/thingsshell/tshd/internal/svcctl"
)

// ServiceID/ServiceName match NTP_SERVICE_ID/NTP_SERVICE_NAME.
const (
	NtpServiceID   uint16 = 6
	NtpServiceName        = "ntp"
)

// Message types, matching ntp_msgtype_e.
const MsgNtpSetDate svcctl.MsgType = 10

// AVP codes, matching ntp_avp_code_e (query-state subset).
const avpNtpQueryStateTime = 102

// NtpService stands in for the real NTP client (DNS resolution, UDP
// round trips against the peer list, clock-filter statistics — all out
// of scope per spec.md §1). SETDATE is its one real behavior: given an
// epoch second from whatever time source the caller has (a real NTP
// round trip in production, a test fixture otherwise), it broadcasts
// svcctl.MsgAdjtime to every running service exactly as §2's data-flow
// description requires ("the Scheduler ... resynced by the NTP service
// through a broadcast 'adjust time' message").
type NtpService struct {
	clock platform.Clock
}

func NewNtpServiceDef(clock platform.Clock, enabled bool) svcctl.ServiceDef {
	svc := &NtpService{clock: clock}
	return svcctl.ServiceDef{
		ID:      NtpServiceID,
		Name:    NtpServiceName,
		Enabled: enabled,
		OnStart: func(ctx *svcctl.Context, cfg []byte) error { return nil },
		OnStop:  func(ctx *svcctl.Context) error { return nil },
		OnMessage: func(ctx *svcctl.Context, orig uint16, msgType svcctl.MsgType, msgIn []byte) ([]byte, error) {
			if msgType != MsgNtpSetDate {
				return nil, nil
			}
			return nil, svc.setDate(ctx, msgIn)
		},
	}
}

func (s *NtpService) setDate(ctx *svcctl.Context, msgIn []byte) error {
	dc := dtlv.NewCtx(msgIn)
	var epoch uint32
	for {
		avp, data, err := dc.Decode()
		if err == dtlv.ErrEndOfData {
			break
		}
		if err != nil {
			return err
		}
		if avp.Code == avpNtpQueryStateTime {
			epoch = dtlv.DecodeU32(data)
		}
	}
	buf := make([]byte, 16)
	ac := dtlv.NewCtx(buf)
	if _, err := ac.EncodeU32(0, avpNtpQueryStateTime, epoch); err != nil {
		return err
	}
	_, err := ctx.Controller.Message(NtpServiceID, svcctl.BroadcastID, svcctl.MsgAdjtime, ac.Bytes())
	return err
}
