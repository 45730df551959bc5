package chathub

import (
	"context"
	"log"
	"time"

	"heartlink/backend/internal/models"
)

// DeviceLookup resolves endpoints the registry has not cached yet.
type DeviceLookup interface {
	GetDeviceByID(ctx context.Context, deviceID string) (*models.Device, error)
}

// Dispatcher routes inbound telemetry: it persists the sample and forwards a
// paired_* frame to the sender's relay partner when the partner is connected.
// Delivery is best effort. Nothing is ever reported back to the sender.
type Dispatcher struct {
	Hub       *ManagerService
	Devices   DeviceLookup
	Persister *Persister
	Now       func() time.Time
}

func NewDispatcher(hub *ManagerService, devices DeviceLookup, persister *Persister) *Dispatcher {
	return &Dispatcher{Hub: hub, Devices: devices, Persister: persister, Now: time.Now}
}

// Dispatch handles one inbound frame from fromEndpoint.
func (d *Dispatcher) Dispatch(ctx context.Context, fromEndpoint string, ev models.TelemetryEvent) {
	now := d.Now()
	owner := d.owner(ctx, fromEndpoint)

	var out models.TelemetryEvent
	switch ev.Type {
	case models.EventHeartbeat:
		if ev.BPM == nil {
			log.Printf("WARNING: heartbeat from %s without bpm, ignored", fromEndpoint)
			return
		}
		var temperature float64
		if ev.Temperature != nil {
			temperature = *ev.Temperature
		}
		if d.Persister != nil {
			d.Persister.Heartbeat(fromEndpoint, *ev.BPM, temperature, now)
		}
		out = models.TelemetryEvent{Type: models.EventPairedHeartbeat, BPM: ev.BPM, Temperature: ev.Temperature}

	case models.EventPressure:
		if ev.PressureLevel == nil {
			log.Printf("WARNING: pressure from %s without pressure_level, ignored", fromEndpoint)
			return
		}
		if d.Persister != nil {
			d.Persister.Pressure(owner, fromEndpoint, *ev.PressureLevel, now)
		}
		out = models.TelemetryEvent{Type: models.EventPairedPressure, PressureLevel: ev.PressureLevel}

	default:
		log.Printf("WARNING: unknown event type %q from %s", ev.Type, fromEndpoint)
		return
	}

	d.forward(owner, out)
}

// forward delivers out to every connected endpoint of owner's partner.
// Any missing link in the chain silently skips delivery.
func (d *Dispatcher) forward(owner string, out models.TelemetryEvent) int {
	if owner == "" {
		return 0
	}
	partner, ok := d.Hub.Partner(owner)
	if !ok {
		return 0
	}
	delivered := 0
	for _, endpoint := range d.Hub.ConnectedEndpoints(partner) {
		if d.Hub.Send(endpoint, out) {
			delivered++
		}
	}
	return delivered
}

func (d *Dispatcher) owner(ctx context.Context, endpointID string) string {
	if owner, ok := d.Hub.OwnerOf(endpointID); ok {
		return owner
	}
	if d.Devices == nil {
		return ""
	}
	device, err := d.Devices.GetDeviceByID(ctx, endpointID)
	if err != nil {
		log.Printf("WARNING: cannot resolve owner of endpoint %s: %v", endpointID, err)
		return ""
	}
	if device.OwnerID != "" {
		d.Hub.CacheOwner(endpointID, device.OwnerID)
	}
	return device.OwnerID
}

// Connected marks the endpoint online once its channel is registered.
func (d *Dispatcher) Connected(endpointID string) {
	if d.Persister != nil {
		d.Persister.Online(endpointID, true)
	}
}

// Disconnected marks the endpoint offline after its channel is gone.
func (d *Dispatcher) Disconnected(endpointID string) {
	if d.Persister != nil {
		d.Persister.Online(endpointID, false)
	}
}
