package models

// Live channel event types.
const (
	EventHeartbeat       = "heartbeat"
	EventPressure        = "pressure"
	EventPairedHeartbeat = "paired_heartbeat"
	EventPairedPressure  = "paired_pressure"
)

// TelemetryEvent is the JSON frame exchanged over the live channel, in both directions.
type TelemetryEvent struct {
	Type          string   `json:"type"`
	EndpointID    string   `json:"endpoint_id,omitempty"`
	BPM           *int     `json:"bpm,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	PressureLevel *float64 `json:"pressure_level,omitempty"`
}
