package svcctl

import (
	"fmt"

	"github.com/thingsshell/tshd/internal/dtlv"
)

// avpControlEntry is the list AVP code used to encode a CONTROL
// message body: each list child is a u16 cell, bit 0 = enable(1) /
// disable(0), bits 1..15 = the target service id.
const avpControlEntry = 1

// avpInfoLine is the list AVP code used to encode an INFO response
// body: each list child is a CHAR line from the logger's last-error
// ring.
const avpInfoLine = 1

// ControlEntry is one service enable/disable directive.
type ControlEntry struct {
	ServiceID uint16
	Enable    bool
}

// EncodeControl builds a CONTROL message body from entries.
func EncodeControl(entries []ControlEntry) ([]byte, error) {
	buf := make([]byte, 4+8*len(entries))
	ctx := dtlv.NewCtx(buf)
	listPos, err := ctx.Encode(0, avpControlEntry, dtlv.TypeInteger, nil, true)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		v := uint16(e.ServiceID << 1)
		if e.Enable {
			v |= 1
		}
		if _, err := ctx.EncodeU16(0, avpControlEntry, v); err != nil {
			return nil, err
		}
	}
	if err := ctx.EncodeGroupDone(listPos); err != nil {
		return nil, err
	}
	return ctx.Bytes(), nil
}

func (c *Controller) handleControl(msgIn []byte) error {
	dec := dtlv.NewCtx(msgIn)
	rows, err := dec.DecodeByPath(len(msgIn), []dtlv.PathSegment{{NS: 0, Code: avpControlEntry}}, 0)
	if err != nil {
		return fmt.Errorf("svcctl: decode CONTROL body: %w", err)
	}
	for _, row := range rows {
		v := dtlv.DecodeU16(row)
		id := v >> 1
		enable := v&1 == 1
		c.mu.Lock()
		_, ok := c.services[id]
		c.mu.Unlock()
		if !ok {
			continue
		}
		var actErr error
		if enable {
			actErr = c.StartService(id)
		} else {
			actErr = c.StopService(id)
		}
		if actErr != nil && actErr != ErrAlreadyRun && actErr != ErrNotRun && c.log != nil {
			c.log.Warnf("svcctl", "CONTROL directive failed", "service", id, "err", actErr)
		}
	}
	return nil
}

func (c *Controller) handleInfo() ([]byte, error) {
	var lines []string
	if c.log != nil {
		lines = c.log.LastErrors(0)
	}
	buf := make([]byte, 4+8*(len(lines)+1))
	ctx := dtlv.NewCtx(buf)
	listPos, err := ctx.Encode(0, avpInfoLine, dtlv.TypeChar, nil, true)
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		if _, err := ctx.EncodeChar(0, avpInfoLine, l); err != nil {
			return nil, err
		}
	}
	if err := ctx.EncodeGroupDone(listPos); err != nil {
		return nil, err
	}
	return ctx.Bytes(), nil
}

// Message routes one service_message call: dest == ControllerID goes to
// the controller's own INFO/CONTROL handlers, dest == BroadcastID
// invokes every RUNNING service's OnMessage (errors logged, not
// propagated), otherwise it is a direct dispatch.
func (c *Controller) Message(orig, dest uint16, msgType MsgType, msgIn []byte) ([]byte, error) {
	if c.m != nil {
		c.m.ServiceMessagesTotal.WithLabelValues(fmt.Sprint(dest), fmt.Sprint(uint16(msgType))).Inc()
	}

	if dest == ControllerID {
		switch msgType {
		case MsgInfo:
			return c.handleInfo()
		case MsgControl:
			return nil, c.handleControl(msgIn)
		default:
			return nil, fmt.Errorf("svcctl: controller does not handle msg_type %d", msgType)
		}
	}

	if dest == BroadcastID {
		c.mu.Lock()
		ids := append([]uint16(nil), c.order...)
		c.mu.Unlock()
		for _, id := range ids {
			c.mu.Lock()
			e := c.services[id]
			running := e != nil && e.state == Running && e.def.OnMessage != nil
			var ctx *Context
			if running {
				ctx = c.context(e)
			}
			c.mu.Unlock()
			if !running {
				continue
			}
			if _, err := e.def.OnMessage(ctx, orig, msgType, msgIn); err != nil && c.log != nil {
				c.log.Warnf("svcctl", "broadcast delivery failed", "service", e.def.Name, "err", err)
			}
		}
		return nil, nil
	}

	c.mu.Lock()
	e, ok := c.services[dest]
	if !ok {
		c.mu.Unlock()
		return nil, ErrNotExists
	}
	if e.state != Running {
		c.mu.Unlock()
		return nil, ErrNotRun
	}
	ctx := c.context(e)
	c.mu.Unlock()

	switch msgType {
	case MsgConfigSet:
		if err := c.SetConfig(dest, msgIn); err != nil {
			return nil, err
		}
		c.mu.Lock()
		onCfgUpd := e.def.OnCfgUpd
		c.mu.Unlock()
		if onCfgUpd != nil {
			return nil, onCfgUpd(ctx, msgIn)
		}
		return nil, nil
	case MsgConfigGet:
		cfg, _ := c.GetConfig(dest)
		return cfg, nil
	default:
		if e.def.OnMessage == nil {
			return nil, nil
		}
		return e.def.OnMessage(ctx, orig, msgType, msgIn)
	}
}

// SetConfig stores blob as dest's DTLV-encoded configuration, replacing
// any previous blob.
func (c *Controller) SetConfig(dest uint16, blob []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.services[dest]
	if !ok {
		return ErrNotExists
	}
	if e.cfgPtr != nil {
		c.cfgClass.Delete(e.cfgPtr)
		e.cfgPtr = nil
	}
	if len(blob) == 0 {
		return nil
	}
	ptr, err := c.cfgClass.Insert(len(blob))
	if err != nil {
		return fmt.Errorf("svcctl: insert config blob: %w", err)
	}
	copy(ptr, blob)
	e.cfgPtr = ptr
	return nil
}

// GetConfig returns a copy of dest's stored configuration blob, if any.
func (c *Controller) GetConfig(dest uint16) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.services[dest]
	if !ok || e.cfgPtr == nil {
		return nil, false
	}
	cpy := make([]byte, len(e.cfgPtr))
	copy(cpy, e.cfgPtr)
	return cpy, true
}
