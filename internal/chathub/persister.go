package chathub

import (
	"context"
	"log"
	"sync"
	"time"

	"heartlink/backend/internal/models"
	"heartlink/backend/internal/storage"
)

// TelemetryStore is the part of storage the persister writes to.
type TelemetryStore interface {
	SaveHeartbeat(ctx context.Context, log *models.HeartbeatLog) error
	SaveInteraction(ctx context.Context, interaction *models.Interaction) error
	TouchDevice(ctx context.Context, deviceID string, at time.Time) error
	SetDeviceOnline(ctx context.Context, deviceID string, online bool) error
}

type persistJob struct {
	name string
	run  func(ctx context.Context) error
}

// Persister writes telemetry side effects on a bounded pool of workers so the
// relay never waits on storage. When the queue is full the write is dropped.
type Persister struct {
	Store    TelemetryStore
	Presence storage.Presence // optional

	jobs chan persistJob
	wg   sync.WaitGroup
}

func NewPersister(store TelemetryStore, presence storage.Presence, queueSize int) *Persister {
	return &Persister{
		Store:    store,
		Presence: presence,
		jobs:     make(chan persistJob, queueSize),
	}
}

// Start launches the workers. They exit when ctx is cancelled; Wait blocks until they have.
func (p *Persister) Start(ctx context.Context, workers int) {
	for range workers {
		p.wg.Add(1)
		go p.work(ctx)
	}
}

// Wait blocks until every worker has returned.
func (p *Persister) Wait() {
	p.wg.Wait()
}

func (p *Persister) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			if err := job.run(ctx); err != nil {
				log.Printf("ERROR: persist %s failed: %v", job.name, err)
			}
		}
	}
}

func (p *Persister) submit(job persistJob) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		log.Printf("WARNING: persist queue full, dropping %s", job.name)
		return false
	}
}

// Heartbeat records a heartbeat sample and refreshes the device's activity.
func (p *Persister) Heartbeat(deviceID string, bpm int, temperature float64, at time.Time) bool {
	return p.submit(persistJob{name: "heartbeat for " + deviceID, run: func(ctx context.Context) error {
		if err := p.Store.SaveHeartbeat(ctx, &models.HeartbeatLog{
			DeviceID:    deviceID,
			BPM:         bpm,
			Temperature: temperature,
			LoggedAt:    at,
		}); err != nil {
			return err
		}
		if p.Presence != nil {
			if err := p.Presence.MarkSeen(ctx, deviceID, at); err != nil {
				log.Printf("WARNING: presence update for %s failed: %v", deviceID, err)
			}
		}
		return p.Store.TouchDevice(ctx, deviceID, at)
	}})
}

// Pressure records a pressure interaction against the endpoint's owner.
func (p *Persister) Pressure(ownerID, deviceID string, level float64, at time.Time) bool {
	return p.submit(persistJob{name: "pressure for " + deviceID, run: func(ctx context.Context) error {
		if err := p.Store.SaveInteraction(ctx, &models.Interaction{
			UserID:        ownerID,
			DeviceID:      deviceID,
			PressureLevel: level,
			Timestamp:     at,
		}); err != nil {
			return err
		}
		return p.Store.TouchDevice(ctx, deviceID, at)
	}})
}

// Online flips the device's live-channel flag.
func (p *Persister) Online(deviceID string, online bool) bool {
	return p.submit(persistJob{name: "online flag for " + deviceID, run: func(ctx context.Context) error {
		return p.Store.SetDeviceOnline(ctx, deviceID, online)
	}})
}
