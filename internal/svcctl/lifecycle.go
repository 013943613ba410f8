package svcctl

// StartService transitions id from STOPPED to RUNNING (or FAILED) by
// invoking its OnStart callback. Starting an already-RUNNING service is
// an illegal transition and returns ErrAlreadyRun.
func (c *Controller) StartService(id uint16) error {
	c.mu.Lock()
	e, ok := c.services[id]
	if !ok {
		c.mu.Unlock()
		return ErrNotExists
	}
	if e.state == Running || e.state == Starting {
		c.mu.Unlock()
		return ErrAlreadyRun
	}
	c.setState(id, e, Starting)
	ctx := c.context(e)
	cfg := e.cfgPtr
	onStart := e.def.OnStart
	c.mu.Unlock()

	var err error
	if onStart != nil {
		err = onStart(ctx, cfg)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e = c.services[id]
	if e == nil {
		return nil // uninstalled mid-start
	}
	if err != nil {
		e.lastErrcode = err
		c.setState(id, e, Failed)
		if c.log != nil {
			c.log.Errorf("svcctl", "service start failed", "service", e.def.Name, "err", err)
		}
		return nil
	}
	c.setState(id, e, Running)
	return nil
}

// StopService transitions id from RUNNING to STOPPED via OnStop.
// Stopping a non-RUNNING service is an illegal transition and returns
// ErrNotRun.
func (c *Controller) StopService(id uint16) error {
	c.mu.Lock()
	e, ok := c.services[id]
	if !ok {
		c.mu.Unlock()
		return ErrNotExists
	}
	if e.state != Running {
		c.mu.Unlock()
		return ErrNotRun
	}
	c.setState(id, e, Stopping)
	ctx := c.context(e)
	onStop := e.def.OnStop
	c.mu.Unlock()

	var err error
	if onStop != nil {
		err = onStop(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e = c.services[id]
	if e == nil {
		return nil
	}
	if err != nil && c.log != nil {
		c.log.Warnf("svcctl", "service stop returned error", "service", e.def.Name, "err", err)
	}
	c.setState(id, e, Stopped)
	return nil
}

// State returns id's current lifecycle state.
func (c *Controller) State(id uint16) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.services[id]
	if !ok {
		return 0, false
	}
	return e.state, true
}

// StateByName is State looked up by service name.
func (c *Controller) StateByName(name string) (State, bool) {
	c.mu.Lock()
	id, ok := c.byName[name]
	c.mu.Unlock()
	if !ok {
		return 0, false
	}
	return c.State(id)
}
