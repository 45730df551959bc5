package chathub_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"heartlink/backend/internal/models"

	"github.com/stretchr/testify/mock"
)

type MockClient struct {
	endpointID  string
	ownerID     string
	RecvChannel chan models.TelemetryEvent

	closeOnce sync.Once
	closed    atomic.Bool
}

func newMockClient(endpointID, ownerID string) *MockClient {
	return newMockClientWithBuffer(endpointID, ownerID, 10)
}

func newMockClientWithBuffer(endpointID, ownerID string, buffer int) *MockClient {
	return &MockClient{
		endpointID:  endpointID,
		ownerID:     ownerID,
		RecvChannel: make(chan models.TelemetryEvent, buffer),
	}
}

func (c *MockClient) GetEndpointID() string { return c.endpointID }
func (c *MockClient) GetOwnerID() string    { return c.ownerID }

func (c *MockClient) GetSendChannel() chan<- models.TelemetryEvent {
	return c.RecvChannel
}

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.closeOnce.Do(func() { c.closed.Store(true) })
}

func (c *MockClient) IsClosed() bool {
	return c.closed.Load()
}

// Received drains whatever is buffered for the client.
func (c *MockClient) Received() []models.TelemetryEvent {
	var out []models.TelemetryEvent
	for {
		select {
		case ev := <-c.RecvChannel:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// MockTelemetryStore is a testify mock of chathub.TelemetryStore.
type MockTelemetryStore struct {
	mock.Mock
}

func (m *MockTelemetryStore) SaveHeartbeat(ctx context.Context, hb *models.HeartbeatLog) error {
	args := m.Called(ctx, hb)
	return args.Error(0)
}

func (m *MockTelemetryStore) SaveInteraction(ctx context.Context, interaction *models.Interaction) error {
	args := m.Called(ctx, interaction)
	return args.Error(0)
}

func (m *MockTelemetryStore) TouchDevice(ctx context.Context, deviceID string, at time.Time) error {
	args := m.Called(ctx, deviceID, at)
	return args.Error(0)
}

func (m *MockTelemetryStore) SetDeviceOnline(ctx context.Context, deviceID string, online bool) error {
	args := m.Called(ctx, deviceID, online)
	return args.Error(0)
}
