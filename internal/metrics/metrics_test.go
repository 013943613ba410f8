package metrics

import "testing"

func TestNewRegistersAllCollectors(t *testing.T) {
	r := NewUnregistered()
	r.IMDBBytesAllocated.Set(128)
	r.ServiceState.WithLabelValues("svcctl", "RUNNING").Set(1)
	r.ServiceMessagesTotal.WithLabelValues("0", "1").Inc()
	r.UDPCTLSessionsTotal.Inc()
	r.SchedulerRunsTotal.Inc()
}
