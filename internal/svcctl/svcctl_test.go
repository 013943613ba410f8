package svcctl

import (
	"testing"

	"github.com/thingsshell/tshd/internal/imdb"
	"github.com/thingsshell/tshd/internal/platform/sim"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	inst, err := imdb.Init(imdb.Def{BlockSize: 1024})
	if err != nil {
		t.Fatalf("imdb.Init: %v", err)
	}
	t.Cleanup(func() { inst.Done() })
	ctrl := New(inst, sim.NewClock(), nil, nil)
	if err := ctrl.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { ctrl.Stop() })
	return ctrl
}

func stubDef(id uint16, name string, enabled bool) ServiceDef {
	return ServiceDef{
		ID:      id,
		Name:    name,
		Enabled: enabled,
		OnStart: func(ctx *Context, cfg []byte) error { return nil },
		OnStop:  func(ctx *Context) error { return nil },
	}
}

// TestInstallRunsEnabledOnly exercises scenario 6's setup: three
// services installed with a mixed enabled set must come up in exactly
// the state their Enabled flag names, with no further action.
func TestInstallRunsEnabledOnly(t *testing.T) {
	ctrl := newTestController(t)
	for _, d := range []ServiceDef{stubDef(10, "A", true), stubDef(11, "B", false), stubDef(12, "C", true)} {
		if err := ctrl.Install(d); err != nil {
			t.Fatalf("Install(%s): %v", d.Name, err)
		}
	}
	want := map[string]State{"A": Running, "B": Stopped, "C": Running}
	for name, w := range want {
		got, ok := ctrl.StateByName(name)
		if !ok {
			t.Fatalf("StateByName(%s): not found", name)
		}
		if got != w {
			t.Errorf("%s state = %s, want %s", name, got, w)
		}
	}
}

// TestControlMessageTogglesServices covers scenario 6 in full: after
// the initial A=RUNNING, B=STOPPED, C=RUNNING layout, a CONTROL
// message enabling B must bring it RUNNING, and a second CONTROL
// message disabling A must bring it back to STOPPED, independently.
func TestControlMessageTogglesServices(t *testing.T) {
	ctrl := newTestController(t)
	for _, d := range []ServiceDef{stubDef(10, "A", true), stubDef(11, "B", false), stubDef(12, "C", true)} {
		if err := ctrl.Install(d); err != nil {
			t.Fatalf("Install(%s): %v", d.Name, err)
		}
	}

	enableB, err := EncodeControl([]ControlEntry{{ServiceID: 11, Enable: true}})
	if err != nil {
		t.Fatalf("EncodeControl: %v", err)
	}
	if _, err := ctrl.Message(ControllerID, ControllerID, MsgControl, enableB); err != nil {
		t.Fatalf("Message(enable B): %v", err)
	}
	if got, _ := ctrl.StateByName("B"); got != Running {
		t.Fatalf("B state after enable = %s, want RUNNING", got)
	}

	disableA, err := EncodeControl([]ControlEntry{{ServiceID: 10, Enable: false}})
	if err != nil {
		t.Fatalf("EncodeControl: %v", err)
	}
	if _, err := ctrl.Message(ControllerID, ControllerID, MsgControl, disableA); err != nil {
		t.Fatalf("Message(disable A): %v", err)
	}
	if got, _ := ctrl.StateByName("A"); got != Stopped {
		t.Fatalf("A state after disable = %s, want STOPPED", got)
	}
	if got, _ := ctrl.StateByName("C"); got != Running {
		t.Fatalf("C state changed unexpectedly: %s", got)
	}
}

// TestBroadcastReachesOnlyRunningServices checks Message's BroadcastID
// path: a disabled service's OnMessage must never be invoked.
func TestBroadcastReachesOnlyRunningServices(t *testing.T) {
	ctrl := newTestController(t)
	var gotRunning, gotStopped bool
	running := stubDef(20, "running", true)
	running.OnMessage = func(ctx *Context, orig uint16, msgType MsgType, msgIn []byte) ([]byte, error) {
		gotRunning = true
		return nil, nil
	}
	stopped := stubDef(21, "stopped", false)
	stopped.OnMessage = func(ctx *Context, orig uint16, msgType MsgType, msgIn []byte) ([]byte, error) {
		gotStopped = true
		return nil, nil
	}
	if err := ctrl.Install(running); err != nil {
		t.Fatalf("Install(running): %v", err)
	}
	if err := ctrl.Install(stopped); err != nil {
		t.Fatalf("Install(stopped): %v", err)
	}
	if _, err := ctrl.Message(ControllerID, BroadcastID, MsgAdjtime, nil); err != nil {
		t.Fatalf("Message(broadcast): %v", err)
	}
	if !gotRunning {
		t.Errorf("running service did not receive broadcast")
	}
	if gotStopped {
		t.Errorf("stopped service received broadcast")
	}
}

// TestDirectMessageToUnknownService returns ErrNotExists rather than
// silently dropping the call.
func TestDirectMessageToUnknownService(t *testing.T) {
	ctrl := newTestController(t)
	if _, err := ctrl.Message(ControllerID, 99, MsgInfo, nil); err != ErrNotExists {
		t.Fatalf("Message(unknown dest) = %v, want ErrNotExists", err)
	}
}

// TestConfigSetGetRoundTrip exercises CONFIG_SET/CONFIG_GET and the
// OnCfgUpd callback's invocation on update.
func TestConfigSetGetRoundTrip(t *testing.T) {
	ctrl := newTestController(t)
	var gotCfg []byte
	d := stubDef(30, "cfgsvc", true)
	d.OnCfgUpd = func(ctx *Context, cfg []byte) error {
		gotCfg = append([]byte(nil), cfg...)
		return nil
	}
	if err := ctrl.Install(d); err != nil {
		t.Fatalf("Install: %v", err)
	}
	blob := []byte("configuration-blob")
	if _, err := ctrl.Message(ControllerID, 30, MsgConfigSet, blob); err != nil {
		t.Fatalf("Message(CONFIG_SET): %v", err)
	}
	if string(gotCfg) != string(blob) {
		t.Fatalf("OnCfgUpd saw %q, want %q", gotCfg, blob)
	}
	got, err := ctrl.Message(ControllerID, 30, MsgConfigGet, nil)
	if err != nil {
		t.Fatalf("Message(CONFIG_GET): %v", err)
	}
	if string(got) != string(blob) {
		t.Fatalf("CONFIG_GET returned %q, want %q", got, blob)
	}
}
