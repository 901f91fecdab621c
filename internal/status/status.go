// Package status carries orchestration progress events from the bot to
// external observers. The bot only depends on the Sink interface; the
// WebSocket hub in this package is one reference sink.
package status

import (
	"time"

	"go.uber.org/zap"
)

// Status enumerates the observable states of a run.
type Status string

const (
	StatusInitializing       Status = "initializing"
	StatusAuthenticated      Status = "authenticated"
	StatusManualLoginNeeded  Status = "manual_login_needed"
	StatusSubmitting         Status = "submitting"
	StatusSubmitted          Status = "submitted"
	StatusGenerating         Status = "generating"
	StatusChallengePresented Status = "challenge_presented"
	StatusChallengeResolved  Status = "challenge_resolved"
	StatusDownloading        Status = "downloading"
	StatusArtifactSaved      Status = "artifact_saved"
	StatusJobComplete        Status = "job_complete"
	StatusJobFailed          Status = "job_failed"
	StatusRateLimited        Status = "rate_limited"
	StatusBatchComplete      Status = "batch_complete"
	StatusStopped            Status = "stopped"
)

// Event is the unit pushed to sinks at every state transition.
type Event struct {
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink receives status events. Implementations must not block for long;
// slow consumers should buffer or drop.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// NopSink discards every event.
var NopSink Sink = SinkFunc(func(Event) {})

// LoggerSink mirrors events into the structured log.
func LoggerSink(logger *zap.Logger) Sink {
	return SinkFunc(func(ev Event) {
		logger.Info("status",
			zap.String("status", string(ev.Status)),
			zap.String("message", ev.Message),
			zap.Any("data", ev.Data),
		)
	})
}

// Fanout broadcasts each event to every sink in order.
func Fanout(sinks ...Sink) Sink {
	return SinkFunc(func(ev Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(ev)
			}
		}
	})
}

// New builds an event with the current timestamp.
func New(s Status, message string, data map[string]any) Event {
	return Event{Status: s, Message: message, Data: data, Timestamp: time.Now()}
}
