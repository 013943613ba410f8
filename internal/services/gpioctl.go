package services

import (
	"sync"

	"github.com/thingsshell/tshd/internal/dtlv"
	"github.com/thingsshell/tshd/internal/svcctl"
)

// ServiceID/ServiceName match GPIO_SERVICE_ID/GPIO_SERVICE_NAME.
const (
	GpioServiceID   uint16 = 7
	GpioServiceName        = "gpioctl"
)

// Message types, matching gpio_msgtype_e.
const MsgGpioOutputSet svcctl.MsgType = 10

// AVP codes, matching gpio_avp_code_e (subset needed for OUTPUT_SET).
const (
	avpGpioPort  = 101
	avpGpioValue = 107
)

// GpioService tracks a simulated pin-level map in place of real GPIO
// strapping (no hardware exists under test); OUTPUT_SET writes a level,
// INFO reads the whole map back as a list of (port, value) groups.
type GpioService struct {
	mu     sync.Mutex
	levels map[uint8]uint8
}

func NewGpioServiceDef(enabled bool) svcctl.ServiceDef {
	svc := &GpioService{levels: map[uint8]uint8{}}
	return svcctl.ServiceDef{
		ID:      GpioServiceID,
		Name:    GpioServiceName,
		Enabled: enabled,
		OnStart: func(ctx *svcctl.Context, cfg []byte) error { return nil },
		OnStop:  func(ctx *svcctl.Context) error { return nil },
		OnMessage: func(ctx *svcctl.Context, orig uint16, msgType svcctl.MsgType, msgIn []byte) ([]byte, error) {
			switch msgType {
			case MsgGpioOutputSet:
				return nil, svc.setOutput(msgIn)
			case svcctl.MsgInfo:
				return svc.info()
			default:
				return nil, nil
			}
		},
	}
}

func (s *GpioService) setOutput(msgIn []byte) error {
	dc := dtlv.NewCtx(msgIn)
	var port, value uint8
	for {
		avp, data, err := dc.Decode()
		if err == dtlv.ErrEndOfData {
			break
		}
		if err != nil {
			return err
		}
		switch avp.Code {
		case avpGpioPort:
			port = dtlv.DecodeU8(data)
		case avpGpioValue:
			value = dtlv.DecodeU8(data)
		}
	}
	s.mu.Lock()
	s.levels[port] = value
	s.mu.Unlock()
	return nil
}

func (s *GpioService) info() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, 32*len(s.levels)+16)
	ec := dtlv.NewCtx(buf)
	for port, value := range s.levels {
		hdr, err := ec.Encode(0, avpGpioPort, dtlv.TypeObject, nil, false)
		if err != nil {
			return nil, err
		}
		if _, err := ec.EncodeU8(0, avpGpioPort, port); err != nil {
			return nil, err
		}
		if _, err := ec.EncodeU8(0, avpGpioValue, value); err != nil {
			return nil, err
		}
		if err := ec.EncodeGroupDone(hdr); err != nil {
			return nil, err
		}
	}
	return ec.Bytes(), nil
}
