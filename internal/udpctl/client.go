package udpctl

import (
	"encoding/binary"
	"net"

	"github.com/google/uuid"
	"github.com/thingsshell/tshd/internal/idxhash"
)

// ClientState matches udpctl_clnt_state_e.
type ClientState int

const (
	StateNone ClientState = iota
	StateFail
	StateTimeout
	StateAuth
	StateOpen
)

func (s ClientState) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateFail:
		return "FAIL"
	case StateTimeout:
		return "TIMEOUT"
	case StateAuth:
		return "AUTH"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// Client mirrors udpctl_client_t: one authenticated session slot.
// SessionID is not on the wire — it exists purely so log lines and
// metrics labels can follow one session across AUTH -> OPEN -> expiry
// even if the client's source port changes mid-session, instead of
// re-deriving identity from (ip, port) each time.
type Client struct {
	Addr       *net.UDPAddr
	State      ClientState
	Auth       [32]byte
	Identifier uint16
	FirstTime  uint32
	LastTime   uint32
	SessionID  uuid.UUID
	inUse      bool
}

// clientTable is a fixed-capacity slot array addressed by UDP address,
// the Go counterpart of udpctl's statically-sized client array: lookup
// by address goes through an idxhash.Map from the address's string
// form to a 4-byte little-endian slot index, exactly the way
// lsh.GlobalTable interns names to idxhash-backed indices.
type clientTable struct {
	slots []Client
	index *idxhash.Map
}

func newClientTable(limit int) *clientTable {
	return &clientTable{
		slots: make([]Client, limit),
		index: idxhash.New(limit*2, limit*2, idxhash.NulTerminated, idxhash.Variable),
	}
}

func addrKey(addr *net.UDPAddr) []byte {
	return []byte(addr.String())
}

// lookup returns the existing client slot for addr, if any.
func (t *clientTable) lookup(addr *net.UDPAddr) (*Client, bool) {
	v, ok := t.index.Search(addrKey(addr))
	if !ok {
		return nil, false
	}
	idx := binary.LittleEndian.Uint32(v)
	return &t.slots[idx], true
}

// acquire finds or allocates a slot for addr, returning
// ErrClientsLimitExceeded if the table is full and addr is new.
func (t *clientTable) acquire(addr *net.UDPAddr, now uint32) (*Client, error) {
	if c, ok := t.lookup(addr); ok {
		return c, nil
	}
	for i := range t.slots {
		if !t.slots[i].inUse {
			v, err := t.index.Add(addrKey(addr), 4)
			if err != nil {
				return nil, ErrInternal
			}
			binary.LittleEndian.PutUint32(v, uint32(i))
			t.slots[i] = Client{Addr: addr, State: StateNone, FirstTime: now, LastTime: now, SessionID: uuid.New(), inUse: true}
			return &t.slots[i], nil
		}
	}
	return nil, ErrClientsLimitExceeded
}

// release frees addr's slot, if any.
func (t *clientTable) release(addr *net.UDPAddr) {
	c, ok := t.lookup(addr)
	if !ok {
		return
	}
	_ = t.index.Remove(addrKey(addr))
	*c = Client{}
}

// forall visits every occupied slot.
func (t *clientTable) forall(fn func(c *Client)) {
	for i := range t.slots {
		if t.slots[i].inUse {
			fn(&t.slots[i])
		}
	}
}

// activeCount returns the number of slots currently in AUTH or OPEN state.
func (t *clientTable) activeCount() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].inUse && (t.slots[i].State == StateAuth || t.slots[i].State == StateOpen) {
			n++
		}
	}
	return n
}
