package bridge

import "time"

// Phase is the position of the bridge in the configuration flow.
type Phase int

const (
	Idle Phase = iota
	AwaitingConfigClose
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case AwaitingConfigClose:
		return "awaiting_config_close"
	}
	return "unknown"
}

// MarshalText renders the phase by name in JSON and logs.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is the application state the handlers read and update.
type State struct {
	Ready       bool      `json:"ready"`
	Phase       Phase     `json:"phase"`
	FlowID      string    `json:"flow_id,omitempty"`
	FlowStarted time.Time `json:"flow_started,omitzero"`
}
