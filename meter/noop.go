package meter

import "github.com/opgate/opgate"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ opgate.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnReservation(opgate.ReservationEvent) {}
func (m *NoopMeter) OnSync(opgate.SyncEvent)               {}
