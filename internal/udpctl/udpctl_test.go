package udpctl

import (
	"net"
	"testing"

	"github.com/thingsshell/tshd/internal/platform/sim"
)

func TestPacketEncodeDecodeRoundTrip(t *testing.T) {
	p := &Packet{ServiceID: ServiceID, Flags: FlagRequest, Code: CmdSrvMsg, Identifier: 7, Body: []byte("hello")}
	raw := p.Encode()
	got, err := DecodePacket(raw)
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	if got.ServiceID != p.ServiceID || got.Code != p.Code || got.Identifier != p.Identifier || string(got.Body) != "hello" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestPacketAuthCarriesAuthField(t *testing.T) {
	p := &Packet{ServiceID: ServiceID, Flags: FlagRequest, Code: CmdAuth}
	p.Auth = [32]byte{1, 2, 3}
	raw := p.Encode()
	if len(raw) != headerLen+32+32 {
		t.Fatalf("AUTH packet length = %d, want %d", len(raw), headerLen+64)
	}
	got, err := DecodePacket(raw)
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	if got.Auth != p.Auth {
		t.Fatalf("Auth field lost in round trip")
	}
}

func TestDigestChainConverges(t *testing.T) {
	hm := sim.HMACer{}
	rnd := sim.NewRandom(42)
	secret := []byte("sharedsecret")

	// Client sends its first AUTH packet with digest=0 (no prior chain
	// value), matching the Auth0 := hmac(Random); H0 :=
	// hmac(Header0, 0, Auth0, Body0) handshake.
	reqAuth, err := rnd.Bytes(32)
	if err != nil {
		t.Fatal(err)
	}
	var reqAuthArr [32]byte
	copy(reqAuthArr[:], reqAuth)
	req := &Packet{ServiceID: ServiceID, Flags: FlagRequest, Code: CmdAuth, Identifier: 1, Auth: reqAuthArr}
	reqDigest := hm.Sum(secret, req.Encode())
	req.Digest = reqDigest
	reqRaw := req.Encode()

	// Server verifies against a brand-new client (client.Auth == zero).
	var zero [32]byte
	if !checkDigest(hm, secret, reqRaw, req.Digest, zero) {
		t.Fatalf("server failed to verify client's first AUTH digest")
	}

	// Server answers, chaining off the client's digest.
	resp := &Packet{ServiceID: ServiceID, Flags: FlagRequest | FlagSecured, Code: CmdAuth, Identifier: 1}
	serverChain, err := answerDigest(hm, rnd, secret, resp, req.Digest)
	if err != nil {
		t.Fatalf("answerDigest: %v", err)
	}
	respRaw := resp.Encode()

	// Client verifies the server's answer against its own just-sent
	// digest (the value it expects the server to have chained from).
	if !checkDigest(hm, secret, respRaw, resp.Digest, req.Digest) {
		t.Fatalf("client failed to verify server's AUTH answer digest")
	}
	if serverChain != resp.Digest {
		t.Fatalf("answerDigest returned chain value that doesn't match the packet's own digest field")
	}
}

func TestClientTableAcquireLookupRelease(t *testing.T) {
	table := newClientTable(2)
	a := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 4000}
	b := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 4000}
	c := &net.UDPAddr{IP: net.ParseIP("10.0.0.3"), Port: 4000}

	if _, err := table.acquire(a, 100); err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	if _, err := table.acquire(b, 100); err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	if _, err := table.acquire(c, 100); err != ErrClientsLimitExceeded {
		t.Fatalf("acquire c = %v, want ErrClientsLimitExceeded", err)
	}

	got, ok := table.lookup(a)
	if !ok || got.Addr.String() != a.String() {
		t.Fatalf("lookup(a) = %+v, %v", got, ok)
	}

	table.release(a)
	if _, ok := table.lookup(a); ok {
		t.Fatalf("lookup(a) should fail after release")
	}
	if _, err := table.acquire(c, 100); err != nil {
		t.Fatalf("acquire c after release: %v", err)
	}
}

func TestAuthHandshakeOverSimNetwork(t *testing.T) {
	net_ := sim.NewNetwork()
	udp := sim.UDP{Net: net_}
	clock := sim.NewClock()
	hm := sim.HMACer{}
	rnd := sim.NewRandom(7)

	cfg := DefaultConfig()
	cfg.Port = DefaultPort
	cfg.Secret = []byte("topsecret")
	cfg.ClientsLimit = 4

	svc := &Service{udp: udp, hmac: hm, rnd: rnd, clock: clock}
	conn, err := udp.ListenUDP(cfg.Port)
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	svc.conn = conn
	svc.table = newClientTable(cfg.ClientsLimit)
	svc.cfg = cfg
	conn.RecvFrom(svc.handleDatagram)

	clientConn, err := udp.ListenUDP(0)
	if err != nil {
		t.Fatalf("client ListenUDP: %v", err)
	}
	var responses [][]byte
	clientConn.RecvFrom(func(src *net.UDPAddr, b []byte) {
		responses = append(responses, append([]byte(nil), b...))
	})

	clientRnd := sim.NewRandom(99)
	initial, _ := clientRnd.Bytes(32)
	var authArr [32]byte
	copy(authArr[:], initial)
	req := &Packet{ServiceID: ServiceID, Flags: FlagRequest, Code: CmdAuth, Identifier: 5, Auth: authArr}
	req.Digest = hm.Sum(cfg.Secret, req.Encode())
	raw := req.Encode()

	serverAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: DefaultPort}
	clientAddr := clientConn.LocalAddr()
	if err := clientConn.SendTo(serverAddr, raw); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	_ = clientAddr

	if len(responses) != 1 {
		t.Fatalf("got %d responses, want 1", len(responses))
	}
	resp, err := DecodePacket(responses[0])
	if err != nil {
		t.Fatalf("DecodePacket(response): %v", err)
	}
	if resp.Flags&FlagError != 0 {
		t.Fatalf("server rejected AUTH request, flags=%x", resp.Flags)
	}
	if resp.Code != CmdAuth {
		t.Fatalf("response code = %v, want CmdAuth", resp.Code)
	}
}
