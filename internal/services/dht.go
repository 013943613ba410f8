package services

import (
	"github.com/thingsshell/tshd/internal/dtlv"
	"github.com/thingsshell/tshd/internal/platform"
	"github.com/thingsshell/tshd/internal/svcctl"
)

// ServiceID/ServiceName match DHT_SERVICE_ID/DHT_SERVICE_NAME.
const (
	DhtServiceID   uint16 = 21
	DhtServiceName        = "dev.dht"
)

// Message types, matching dht_msgtype_e.
const (
	MsgDhtQuery     svcctl.MsgType = 10
	MsgDhtPurgeStat svcctl.MsgType = 11
)

// AVP codes, matching dht_avp_code_e (reading subset).
const (
	avpDhtHumidity    = 104
	avpDhtTemperature = 105
)

// DhtService holds an exponential-moving-average reading in place of a
// real DHTxx sensor poll (no GPIO hardware exists under test); QUERY
// returns the current EMA, PURGE_STAT resets it. alpha matches §6's
// "DHT sensor: ... EMA α = 0.9" default.
type DhtService struct {
	clock    platform.Clock
	alpha    float64
	humidity float64
	temp     float64
	seeded   bool
}

// NewDhtServiceDef builds the svcctl.ServiceDef for "dev.dht". sample is
// called on every QUERY to obtain the next raw (humidity, temperature)
// pair to fold into the EMA — the real service would read the sensor's
// GPIO pin here; tests and the daemon alike supply a deterministic
// or simulated source instead.
func NewDhtServiceDef(clock platform.Clock, sample func() (humidity, temp float64), enabled bool) svcctl.ServiceDef {
	svc := &DhtService{clock: clock, alpha: DhtDefaultEMAAlpha}
	if sample == nil {
		sample = func() (float64, float64) { return 50, 20 }
	}
	return svcctl.ServiceDef{
		ID:      DhtServiceID,
		Name:    DhtServiceName,
		Enabled: enabled,
		OnStart: func(ctx *svcctl.Context, cfg []byte) error { return nil },
		OnStop:  func(ctx *svcctl.Context) error { return nil },
		OnMessage: func(ctx *svcctl.Context, orig uint16, msgType svcctl.MsgType, msgIn []byte) ([]byte, error) {
			switch msgType {
			case MsgDhtQuery:
				h, t := sample()
				svc.fold(h, t)
				return svc.encodeReading()
			case MsgDhtPurgeStat:
				svc.seeded = false
				return nil, nil
			default:
				return nil, nil
			}
		},
	}
}

// DhtDefaultEMAAlpha matches DHT_DEFAULT_EMA_ALPHA_PCT (90%).
const DhtDefaultEMAAlpha = 0.9

func (s *DhtService) fold(humidity, temp float64) {
	if !s.seeded {
		s.humidity, s.temp, s.seeded = humidity, temp, true
		return
	}
	s.humidity = s.alpha*s.humidity + (1-s.alpha)*humidity
	s.temp = s.alpha*s.temp + (1-s.alpha)*temp
}

func (s *DhtService) encodeReading() ([]byte, error) {
	buf := make([]byte, 32)
	ec := dtlv.NewCtx(buf)
	if _, err := ec.EncodeU32(0, avpDhtHumidity, uint32(s.humidity*100)); err != nil {
		return nil, err
	}
	if _, err := ec.EncodeU32(0, avpDhtTemperature, uint32(s.temp*100)); err != nil {
		return nil, err
	}
	return ec.Bytes(), nil
}
