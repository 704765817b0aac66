package events

import "time"

// StateTransitionPayload describes one bridge state machine transition.
type StateTransitionPayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// AgentSpawnPayload describes an assistant process launch outcome.
type AgentSpawnPayload struct {
	Script string `json:"script"`
	Port   int    `json:"port"`
	PID    int    `json:"pid,omitempty"`
	Error  string `json:"error,omitempty"`
}

// CommandResultPayload describes the outcome of one command exchange.
type CommandResultPayload struct {
	Command  string        `json:"command"`
	Bytes    int           `json:"bytes"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// HealthCheckPayload is emitted by the doctor on every liveness probe.
type HealthCheckPayload struct {
	Reachable bool          `json:"reachable"`
	Latency   time.Duration `json:"latency"`
	Detail    string        `json:"detail,omitempty"`
}

// NewStatusMessage builds the status line event shown by the panel.
func NewStatusMessage(source, severity, text string) Event {
	return Event{
		Type:     EventTypeStatusMessage,
		Source:   source,
		Severity: severity,
		Payload:  text,
	}
}

// NewStateTransition builds a bridge state transition event.
func NewStateTransition(source, from, to, reason string) Event {
	return Event{
		Type:    EventTypeStateTransition,
		Source:  source,
		Payload: StateTransitionPayload{From: from, To: to, Reason: reason},
	}
}
