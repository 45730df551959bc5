package chathub

import "heartlink/backend/internal/models"

// Client is one live channel attached to an endpoint (a device).
// The registry only ever talks to it through this interface.
type Client interface {
	// GetEndpointID returns the device id the channel was opened for.
	GetEndpointID() string
	// GetOwnerID returns the participant owning the endpoint.
	GetOwnerID() string

	// GetSendChannel returns the channel the registry pushes outbound frames to.
	// Sends are always non-blocking; a full channel drops the frame.
	GetSendChannel() chan<- models.TelemetryEvent

	// Run starts the client's read and write pumps.
	Run()
	// Close stops the write pump. It is called at most once by the registry.
	Close()
}
