package udpctl

import (
	"bytes"

	"github.com/thingsshell/tshd/internal/platform"
)

// checkDigest verifies an inbound packet's digest against the shared
// secret and the chain value stored for this client, reproducing
// udpctl_packet_check_digest's double-HMAC shape exactly:
//
//  1. substitute the packet's digest field with the client's stored
//     chain value (client.auth) and HMAC the whole datagram;
//  2. HMAC that result a second time;
//  3. compare against a single HMAC of the digest value as received.
//
// The double hash on one side and single hash on the other is what
// lets both peers "agree" on a chain value without ever putting the
// raw intermediate HMAC on the wire: a forger who only sees digests in
// flight can't reproduce step 1 because it requires knowing the
// previous chain value, which neither side transmits.
func checkDigest(hm platform.HMAC, secret []byte, raw []byte, received [32]byte, clientAuth [32]byte) bool {
	patched := append([]byte(nil), raw...)
	copy(patched[headerLen:headerLen+32], clientAuth[:])
	step1 := hm.Sum(secret, patched)
	digestComp := hm.Sum(secret, step1[:])
	digestInHashed := hm.Sum(secret, received[:])
	return bytes.Equal(digestComp[:], digestInHashed[:])
}

// answerDigest computes the outbound digest for a response packet and
// advances the per-client chain value, mirroring
// udpctl_packet_answer_digest. reqAuth is the chain value the peer
// expects to see embedded before hashing (normally the client's
// previously-observed client.auth on the server side, or the server's
// returned auth on the client side). If pkt.Code is CmdAuth, a fresh
// per-session auth value is generated and stashed in pkt.Auth.
func answerDigest(hm platform.HMAC, rnd platform.Random, secret []byte, pkt *Packet, reqAuth [32]byte) ([32]byte, error) {
	if pkt.HasAuth() {
		initial, err := rnd.Bytes(32)
		if err != nil {
			return [32]byte{}, err
		}
		pkt.Auth = hm.Sum(secret, initial)
	}
	pkt.Digest = reqAuth
	raw := pkt.Encode()
	digestOut := hm.Sum(secret, raw)
	pkt.Digest = digestOut
	return digestOut, nil
}
