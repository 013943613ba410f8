// Package svcctl is the Service Controller: it holds the set of
// installed services, starts and stops them, and routes messages
// between them, backed by two IMDB classes (service registry entries
// and per-service "data" slots) and a third holding DTLV-encoded
// configuration blobs keyed by service id, per spec.md §3/§4.4.
package svcctl

import (
	"fmt"
	"sync"
	"time"

	"github.com/thingsshell/tshd/internal/dtlv"
	"github.com/thingsshell/tshd/internal/imdb"
	"github.com/thingsshell/tshd/internal/logging"
	"github.com/thingsshell/tshd/internal/metrics"
	"github.com/thingsshell/tshd/internal/platform"
)

// Registry entry AVP codes: id, enabled flag, display name. The entry
// is write-once at Install and never decoded back (the controller
// keeps its own in-memory index), but is DTLV-encoded regardless so
// the on-disk shape matches spec.md's "stored in a dedicated
// variable-length IMDB class" record.
const (
	avpRegID      = 1
	avpRegEnabled = 2
	avpRegName    = 3
)

func encodeRegistryEntry(def ServiceDef) ([]byte, error) {
	buf := make([]byte, 32+len(def.Name))
	ctx := dtlv.NewCtx(buf)
	if _, err := ctx.EncodeU16(0, avpRegID, def.ID); err != nil {
		return nil, err
	}
	enabled := uint8(0)
	if def.Enabled {
		enabled = 1
	}
	if _, err := ctx.EncodeU8(0, avpRegEnabled, enabled); err != nil {
		return nil, err
	}
	if _, err := ctx.EncodeChar(0, avpRegName, def.Name); err != nil {
		return nil, err
	}
	return ctx.Bytes(), nil
}

// State is a service's lifecycle state.
type State int

const (
	Stopped State = iota
	Running
	Failed
	Stopping
	Starting
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Running:
		return "RUNNING"
	case Failed:
		return "FAILED"
	case Stopping:
		return "STOPPING"
	case Starting:
		return "STARTING"
	default:
		return "UNKNOWN"
	}
}

// MsgType is a service_message message kind. Values >= 10 are free for
// services to define their own.
type MsgType uint16

const (
	MsgInfo        MsgType = 1
	MsgControl     MsgType = 2
	MsgConfigGet   MsgType = 3
	MsgConfigSet   MsgType = 4
	MsgNetwork     MsgType = 5
	MsgAdjtime     MsgType = 6
	MsgSystemStart MsgType = 7
	MsgSystemStop  MsgType = 8
)

// ControllerID is the reserved destination id of the controller itself.
const ControllerID uint16 = 1

// BroadcastID is the destination id meaning "every RUNNING service".
const BroadcastID uint16 = 0

// Context is the shared resource bundle passed to a service's lifecycle
// and message callbacks: the controller's IMDB instance, the service's
// private data slot (allocated from the data class at install time, nil
// if DataSize was 0), and the controller itself for issuing further
// messages.
type Context struct {
	Controller *Controller
	IMDB       *imdb.Instance
	Data       []byte
}

// OnMessageFunc handles a message routed to this service. orig is the
// originating service id (or ControllerID for controller-issued
// messages); msgOut may be nil.
type OnMessageFunc func(ctx *Context, orig uint16, msgType MsgType, msgIn []byte) (msgOut []byte, err error)

// ServiceDef describes one installable service.
type ServiceDef struct {
	ID       uint16
	Name     string
	Enabled  bool
	DataSize int // bytes of private state allocated from the data class

	OnStart   func(ctx *Context, cfg []byte) error
	OnStop    func(ctx *Context) error
	OnMessage OnMessageFunc
	OnCfgUpd  func(ctx *Context, cfg []byte) error
}

type serviceEntry struct {
	def         ServiceDef
	state       State
	lastErrcode error
	stateTime   time.Time
	regPtr      []byte
	dataPtr     []byte
	cfgPtr      []byte
}

// Controller is the Service Controller. One Controller owns three
// backing IMDB classes (registry, data, config), created by Start and
// destroyed by Stop.
type Controller struct {
	mu    sync.Mutex
	inst  *imdb.Instance
	clock platform.Clock
	log   *logging.Logger
	m     *metrics.Registry

	started   bool
	svcClass  *imdb.Class
	dataClass *imdb.Class
	cfgClass  *imdb.Class

	services map[uint16]*serviceEntry
	byName   map[string]uint16
	order    []uint16 // registration order, for broadcast delivery order
}

// New builds a Controller. Start must be called before Install.
func New(inst *imdb.Instance, clock platform.Clock, log *logging.Logger, m *metrics.Registry) *Controller {
	return &Controller{
		inst:     inst,
		clock:    clock,
		log:      log,
		m:        m,
		services: map[uint16]*serviceEntry{},
		byName:   map[string]uint16{},
	}
}

// Start creates the registry, data and config backing classes. Calling
// Start twice returns ErrAlreadyRun.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyRun
	}
	svcClass, err := c.inst.ClassCreate(imdb.ClassDef{
		Name: "svc.registry", Variable: true, PagesMax: 4, InitBlocks: 4,
	})
	if err != nil {
		return fmt.Errorf("svcctl: create registry class: %w", err)
	}
	dataClass, err := c.inst.ClassCreate(imdb.ClassDef{
		Name: "svc.data", Variable: true, PagesMax: 4, InitBlocks: 4,
	})
	if err != nil {
		return fmt.Errorf("svcctl: create data class: %w", err)
	}
	cfgClass, err := c.inst.ClassCreate(imdb.ClassDef{
		Name: "svc.config", Variable: true, PagesMax: 4, InitBlocks: 4,
	})
	if err != nil {
		return fmt.Errorf("svcctl: create config class: %w", err)
	}
	c.svcClass, c.dataClass, c.cfgClass = svcClass, dataClass, cfgClass
	c.started = true
	return nil
}

// Stop stops every RUNNING service, then destroys the backing classes.
func (c *Controller) Stop() error {
	c.mu.Lock()
	ids := append([]uint16(nil), c.order...)
	c.mu.Unlock()

	for _, id := range ids {
		c.mu.Lock()
		e := c.services[id]
		running := e != nil && e.state == Running
		c.mu.Unlock()
		if running {
			if err := c.StopService(id); err != nil && c.log != nil {
				c.log.Warnf("svcctl", "stop on shutdown failed", "service", id, "err", err)
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.svcClass.Destroy()
	c.dataClass.Destroy()
	c.cfgClass.Destroy()
	c.started = false
	c.services = map[uint16]*serviceEntry{}
	c.byName = map[string]uint16{}
	c.order = nil
	return nil
}

func (c *Controller) context(e *serviceEntry) *Context {
	return &Context{Controller: c, IMDB: c.inst, Data: e.dataPtr}
}

func (c *Controller) setState(id uint16, e *serviceEntry, s State) {
	e.state = s
	e.stateTime = c.clock.Now()
	if c.m != nil {
		for _, st := range []State{Stopped, Running, Failed, Stopping, Starting} {
			v := 0.0
			if st == s {
				v = 1
			}
			c.m.ServiceState.WithLabelValues(fmt.Sprint(id), st.String()).Set(v)
		}
	}
}

// Install registers def. If def.Enabled, it is started immediately. A
// duplicate id or name returns ErrAlreadyExists.
func (c *Controller) Install(def ServiceDef) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return ErrNotRun
	}
	if _, ok := c.services[def.ID]; ok {
		c.mu.Unlock()
		return ErrAlreadyExists
	}
	if _, ok := c.byName[def.Name]; ok {
		c.mu.Unlock()
		return ErrAlreadyExists
	}

	regBytes, err := encodeRegistryEntry(def)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("svcctl: encode registry entry: %w", err)
	}
	ptr, err := c.svcClass.Insert(len(regBytes))
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("svcctl: insert registry entry: %w", err)
	}
	copy(ptr, regBytes)

	var dataPtr []byte
	if def.DataSize > 0 {
		dataPtr, err = c.dataClass.Insert(def.DataSize)
		if err != nil {
			c.svcClass.Delete(ptr)
			c.mu.Unlock()
			return fmt.Errorf("svcctl: insert data slot: %w", err)
		}
	}

	e := &serviceEntry{def: def, regPtr: ptr, dataPtr: dataPtr}
	c.services[def.ID] = e
	c.byName[def.Name] = def.ID
	c.order = append(c.order, def.ID)
	c.setState(def.ID, e, Stopped)
	c.mu.Unlock()

	if def.Enabled {
		return c.StartService(def.ID)
	}
	return nil
}

// Uninstall stops name if running, then removes its entry.
func (c *Controller) Uninstall(name string) error {
	c.mu.Lock()
	id, ok := c.byName[name]
	c.mu.Unlock()
	if !ok {
		return ErrNotExists
	}

	c.mu.Lock()
	e := c.services[id]
	running := e.state == Running
	c.mu.Unlock()
	if running {
		if err := c.StopService(id); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e = c.services[id]
	c.svcClass.Delete(e.regPtr)
	if e.dataPtr != nil {
		c.dataClass.Delete(e.dataPtr)
	}
	if e.cfgPtr != nil {
		c.cfgClass.Delete(e.cfgPtr)
	}
	delete(c.services, id)
	delete(c.byName, name)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}
