package meter

import (
	"log/slog"

	"github.com/opgate/opgate"
)

// LogMeter logs protocol events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ opgate.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnReservation(e opgate.ReservationEvent) {
	if e.Err == nil {
		m.Logger.Info("reservation",
			"op", e.Op,
			"reservation", e.ReservationID,
			"resource", string(e.ResourceType),
			"amount", e.Amount,
			"remaining", e.Remaining,
			"duration_ms", e.Duration.Milliseconds(),
		)
	} else {
		m.Logger.Warn("reservation_error",
			"op", e.Op,
			"reservation", e.ReservationID,
			"resource", string(e.ResourceType),
			"amount", e.Amount,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Err,
		)
	}
}

func (m *LogMeter) OnSync(e opgate.SyncEvent) {
	if e.Err == nil {
		m.Logger.Info("sync",
			"session", e.SessionID,
			"trigger", e.Trigger,
			"steps", e.Steps,
			"progress", e.Progress,
			"terminal", e.Terminal,
			"duration_ms", e.Duration.Milliseconds(),
		)
	} else {
		m.Logger.Warn("sync_error",
			"session", e.SessionID,
			"trigger", e.Trigger,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Err,
		)
	}
}
