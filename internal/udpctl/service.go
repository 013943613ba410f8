package udpctl

import (
	"net"
	"sync"

	"github.com/thingsshell/tshd/internal/dtlv"
	"github.com/thingsshell/tshd/internal/logging"
	"github.com/thingsshell/tshd/internal/metrics"
	"github.com/thingsshell/tshd/internal/platform"
	"github.com/thingsshell/tshd/internal/svcctl"
)

// Config-blob AVP codes, matching udpctl_avp_code_e.
const (
	avpProtocol        = 100
	avpIdleTimeout     = 102
	avpAuthTimeout     = 103
	avpRecycleTimeout  = 104
	avpSecret          = 105
	avpClientsLimit    = 106
	avpClient          = 107
	avpClientState     = 108
	avpClientFirstTime = 109
	avpClientLastTime  = 110
)

// The SRVMSG envelope AVPs are not specified beyond "DTLV body" — the
// destination service, message type and payload codes below are this
// port's own decision for how a SRVMSG packet addresses the service
// bus, documented in DESIGN.md.
const (
	avpMsgDest    = 120
	avpMsgType    = 121
	avpMsgPayload = 122
	avpMsgResult  = 123
)

// Config is udpctl's tunable set, loaded from the DTLV config blob
// svcctl hands to OnStart/OnCfgUpd.
type Config struct {
	Port            int
	Secret          []byte
	IdleTimeout     uint32
	AuthTimeout     uint32
	RecycleTimeout  uint32
	ClientsLimit    int
	ProtocolVersion uint16
}

// DefaultConfig matches the UDPCTL_DEFAULT_* constants and leaves
// Secret empty (callers wanting a secret supply one via Config.Secret
// or the EncodeConfig/AVP secret field).
func DefaultConfig() Config {
	return Config{
		Port:            DefaultPort,
		IdleTimeout:     DefaultIdleTimeout,
		AuthTimeout:     DefaultAuthTimeout,
		RecycleTimeout:  DefaultRecycleTimeout,
		ClientsLimit:    4,
		ProtocolVersion: 0x0100,
	}
}

// EncodeConfig serializes cfg into the DTLV blob svcctl.Controller.SetConfig
// expects for this service.
func EncodeConfig(cfg Config) ([]byte, error) {
	buf := make([]byte, 64+len(cfg.Secret))
	ctx := dtlv.NewCtx(buf)
	if _, err := ctx.EncodeU16(0, avpProtocol, cfg.ProtocolVersion); err != nil {
		return nil, err
	}
	if _, err := ctx.EncodeU32(0, avpIdleTimeout, cfg.IdleTimeout); err != nil {
		return nil, err
	}
	if _, err := ctx.EncodeU32(0, avpAuthTimeout, cfg.AuthTimeout); err != nil {
		return nil, err
	}
	if _, err := ctx.EncodeU32(0, avpRecycleTimeout, cfg.RecycleTimeout); err != nil {
		return nil, err
	}
	if len(cfg.Secret) > 0 {
		if _, err := ctx.EncodeOctets(0, avpSecret, cfg.Secret); err != nil {
			return nil, err
		}
	}
	if _, err := ctx.EncodeU16(0, avpClientsLimit, uint16(cfg.ClientsLimit)); err != nil {
		return nil, err
	}
	return ctx.Bytes(), nil
}

func decodeConfig(blob []byte, cfg *Config) error {
	dc := dtlv.NewCtx(blob)
	for {
		avp, data, err := dc.Decode()
		if err == dtlv.ErrEndOfData {
			return nil
		}
		if err != nil {
			return err
		}
		switch avp.Code {
		case avpProtocol:
			cfg.ProtocolVersion = dtlv.DecodeU16(data)
		case avpIdleTimeout:
			cfg.IdleTimeout = dtlv.DecodeU32(data)
		case avpAuthTimeout:
			cfg.AuthTimeout = dtlv.DecodeU32(data)
		case avpRecycleTimeout:
			cfg.RecycleTimeout = dtlv.DecodeU32(data)
		case avpSecret:
			cfg.Secret = append([]byte(nil), data...)
		case avpClientsLimit:
			cfg.ClientsLimit = int(dtlv.DecodeU16(data))
		}
	}
}

// Service implements the udpctl service: a UDP socket, a bounded
// client table, and the AUTH/SRVMSG/TERMINATE command dispatch, wired
// into a svcctl.Controller as ServiceDef ID 4.
type Service struct {
	udp   platform.UDP
	hmac  platform.HMAC
	rnd   platform.Random
	clock platform.Clock
	log   *logging.Logger
	m     *metrics.Registry

	mu     sync.Mutex
	cfg    Config
	conn   platform.PacketConn
	table  *clientTable
	svcCtx *svcctl.Context
}

// NewServiceDef builds the svcctl.ServiceDef for "udpctl". cfg supplies
// the initial tunables; OnCfgUpd can later replace Config.Secret/timeouts
// via MsgConfigSet. m may be nil in tests that don't care about metrics.
func NewServiceDef(udp platform.UDP, hm platform.HMAC, rnd platform.Random, clock platform.Clock, log *logging.Logger, m *metrics.Registry, cfg Config, enabled bool) svcctl.ServiceDef {
	svc := &Service{udp: udp, hmac: hm, rnd: rnd, clock: clock, log: log, m: m, cfg: cfg}
	return svcctl.ServiceDef{
		ID:      ServiceID,
		Name:    ServiceName,
		Enabled: enabled,
		OnStart: func(ctx *svcctl.Context, cfgBlob []byte) error {
			svc.mu.Lock()
			if len(cfgBlob) > 0 {
				if err := decodeConfig(cfgBlob, &svc.cfg); err != nil {
					svc.mu.Unlock()
					return err
				}
			}
			conn, err := svc.udp.ListenUDP(svc.cfg.Port)
			if err != nil {
				svc.mu.Unlock()
				return err
			}
			svc.conn = conn
			svc.table = newClientTable(svc.cfg.ClientsLimit)
			svc.svcCtx = ctx
			svc.mu.Unlock()
			conn.RecvFrom(svc.handleDatagram)
			return nil
		},
		OnStop: func(ctx *svcctl.Context) error {
			svc.mu.Lock()
			defer svc.mu.Unlock()
			if svc.conn != nil {
				err := svc.conn.Close()
				svc.conn = nil
				return err
			}
			return nil
		},
		OnCfgUpd: func(ctx *svcctl.Context, cfgBlob []byte) error {
			svc.mu.Lock()
			defer svc.mu.Unlock()
			return decodeConfig(cfgBlob, &svc.cfg)
		},
		OnMessage: func(ctx *svcctl.Context, orig uint16, msgType svcctl.MsgType, msgIn []byte) ([]byte, error) {
			return nil, nil
		},
	}
}

// Sweep evicts clients idle for longer than cfg.IdleTimeout, measured
// against the service's clock. Callers drive this periodically (e.g.
// from a scheduler tick); it is not self-armed since Service has no
// timer dependency of its own.
func (s *Service) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table == nil {
		return
	}
	now := s.clock.Ctime()
	var stale []*net.UDPAddr
	s.table.forall(func(c *Client) {
		if now-c.LastTime > s.cfg.IdleTimeout {
			stale = append(stale, c.Addr)
		}
	})
	for _, addr := range stale {
		s.table.release(addr)
	}
	if s.m != nil && len(stale) > 0 {
		s.m.UDPCTLClientsActive.Set(float64(s.table.activeCount()))
	}
}

func (s *Service) bumpAuthFailure() {
	if s.m != nil {
		s.m.UDPCTLAuthFailures.Inc()
	}
}

func (s *Service) sendError(addr *net.UDPAddr, req *Packet, code Errcode) {
	resp := &Packet{
		ServiceID:  ServiceID,
		Flags:      FlagError,
		Code:       req.Code,
		Identifier: req.Identifier,
		Body:       []byte{byte(code)},
	}
	raw := resp.Encode()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.SendTo(addr, raw)
	}
}

func (s *Service) handleDatagram(src *net.UDPAddr, b []byte) {
	pkt, err := DecodePacket(b)
	if err != nil {
		return
	}
	if pkt.ServiceID != ServiceID {
		return
	}
	if pkt.Flags&FlagRequest == 0 {
		return
	}

	s.mu.Lock()
	table := s.table
	cfg := s.cfg
	svcCtx := s.svcCtx
	s.mu.Unlock()
	if table == nil {
		return
	}

	now := s.clock.Ctime()

	switch pkt.Code {
	case CmdAuth:
		client, err := table.acquire(src, now)
		if err != nil {
			s.bumpAuthFailure()
			s.sendError(src, pkt, ErrClientsLimitExceeded)
			return
		}
		if !checkDigest(s.hmac, cfg.Secret, b, pkt.Digest, client.Auth) {
			s.bumpAuthFailure()
			s.sendError(src, pkt, ErrInvalidDigest)
			return
		}
		resp := &Packet{ServiceID: ServiceID, Flags: FlagRequest | FlagSecured, Code: CmdAuth, Identifier: pkt.Identifier}
		newAuth, err := answerDigest(s.hmac, s.rnd, cfg.Secret, resp, pkt.Digest)
		if err != nil {
			s.sendError(src, pkt, ErrInternal)
			return
		}
		client.Auth = newAuth
		client.State = StateAuth
		client.Identifier = pkt.Identifier
		client.LastTime = now
		if s.log != nil {
			s.log.Infof(ServiceName, "client authenticated", "session", client.SessionID, "addr", src.String())
		}
		if s.m != nil {
			s.m.UDPCTLSessionsTotal.Inc()
			s.m.UDPCTLClientsActive.Set(float64(table.activeCount()))
		}
		s.sendRaw(src, resp)

	case CmdSrvMsg:
		client, ok := table.lookup(src)
		if !ok {
			s.sendError(src, pkt, ErrClientNotExists)
			return
		}
		if client.State != StateAuth && client.State != StateOpen {
			s.sendError(src, pkt, ErrClientNoAuth)
			return
		}
		if !checkDigest(s.hmac, cfg.Secret, b, pkt.Digest, client.Auth) {
			s.sendError(src, pkt, ErrInvalidDigest)
			return
		}
		client.State = StateOpen
		client.LastTime = now
		respBody, svcErr := s.dispatchSrvMsg(svcCtx, pkt.Body)
		resp := &Packet{ServiceID: ServiceID, Flags: FlagRequest | FlagSecured, Code: CmdSrvMsg, Identifier: pkt.Identifier, Body: respBody}
		if svcErr != nil {
			resp.Flags |= FlagError
		}
		newAuth, err := answerDigest(s.hmac, s.rnd, cfg.Secret, resp, pkt.Digest)
		if err != nil {
			s.sendError(src, pkt, ErrInternal)
			return
		}
		client.Auth = newAuth
		s.sendRaw(src, resp)

	case CmdTerminate:
		client, ok := table.lookup(src)
		if !ok {
			return
		}
		if !checkDigest(s.hmac, cfg.Secret, b, pkt.Digest, client.Auth) {
			return
		}
		table.release(src)

	default:
		s.sendError(src, pkt, ErrInvalidCommand)
	}
}

func (s *Service) sendRaw(addr *net.UDPAddr, pkt *Packet) {
	raw := pkt.Encode()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.SendTo(addr, raw)
	}
}

// dispatchSrvMsg decodes a SRVMSG body's (dest, msgtype, payload) AVP
// triple and forwards it through the controller's message bus,
// returning a DTLV-encoded response body carrying the result.
func (s *Service) dispatchSrvMsg(ctx *svcctl.Context, body []byte) ([]byte, error) {
	dc := dtlv.NewCtx(body)
	var dest uint16
	var msgType svcctl.MsgType
	var payload []byte
	for {
		avp, data, err := dc.Decode()
		if err == dtlv.ErrEndOfData {
			break
		}
		if err != nil {
			return nil, ErrDecodingError
		}
		switch avp.Code {
		case avpMsgDest:
			dest = dtlv.DecodeU16(data)
		case avpMsgType:
			msgType = svcctl.MsgType(dtlv.DecodeU16(data))
		case avpMsgPayload:
			payload = data
		}
	}
	if ctx == nil || ctx.Controller == nil {
		return nil, ErrInternal
	}
	out, err := ctx.Controller.Message(ServiceID, dest, msgType, payload)
	buf := make([]byte, 32+len(out))
	ec := dtlv.NewCtx(buf)
	if err != nil {
		if _, eerr := ec.EncodeChar(0, avpMsgResult, err.Error()); eerr != nil {
			return nil, eerr
		}
		return ec.Bytes(), err
	}
	if _, eerr := ec.EncodeOctets(0, avpMsgPayload, out); eerr != nil {
		return nil, eerr
	}
	return ec.Bytes(), nil
}
