package storage

import (
	"context"
	"errors"
	"time"

	"heartlink/backend/internal/models"
)

// ErrNotFound is returned by Get* lookups. Find* lookups return (nil, nil) instead.
var ErrNotFound = errors.New("storage: record not found")

// ErrDeviceBound is returned when a device uid already belongs to another participant.
var ErrDeviceBound = errors.New("storage: device already bound to another participant")

// Repository is every record operation the pairing core and the relay need.
type Repository interface {
	// Participants
	SaveUserIfNotExists(ctx context.Context, userID string) (*models.User, error)
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	ListUserIDs(ctx context.Context) ([]string, error)
	SetTelegramChatID(ctx context.Context, userID string, chatID int64) error

	// Devices
	BindDevice(ctx context.Context, device *models.Device) (*models.Device, error)
	GetDeviceByID(ctx context.Context, deviceID string) (*models.Device, error)
	ListDevicesByOwner(ctx context.Context, ownerID string) ([]models.Device, error)
	SetDeviceOnline(ctx context.Context, deviceID string, online bool) error
	TouchDevice(ctx context.Context, deviceID string, at time.Time) error
	LastHeartbeat(ctx context.Context, deviceID string) (*models.HeartbeatLog, error)

	// Telemetry
	SaveHeartbeat(ctx context.Context, log *models.HeartbeatLog) error
	SaveInteraction(ctx context.Context, interaction *models.Interaction) error

	// Queue
	PurgeQueueBefore(ctx context.Context, cutoff time.Time) (int64, error)
	FindQueueEntry(ctx context.Context, userID string) (*models.QueueEntry, error)
	ListQueueEntries(ctx context.Context) ([]models.QueueEntry, error)
	SaveQueueEntry(ctx context.Context, entry *models.QueueEntry) error
	DeleteQueueEntries(ctx context.Context, userIDs ...string) error

	// Pairings
	SavePairing(ctx context.Context, pairing *models.Pairing) error
	GetPairingByID(ctx context.Context, pairingID string) (*models.Pairing, error)
	FindActivePairing(ctx context.Context, a, b string) (*models.Pairing, error)

	// Sessions
	SaveSession(ctx context.Context, session *models.Session) error
	GetSessionByID(ctx context.Context, sessionID string) (*models.Session, error)
	FindActiveSession(ctx context.Context, a, b string) (*models.Session, error)
	FindSessionByPairing(ctx context.Context, pairingID string) (*models.Session, error)
	ListActiveSessions(ctx context.Context, userID string) ([]models.Session, error)
	ListAllActiveSessions(ctx context.Context) ([]models.Session, error)
	ListExpiredTemporarySessions(ctx context.Context, now time.Time) ([]models.Session, error)

	// Invitations
	SaveInvitation(ctx context.Context, invitation *models.Invitation) error
	GetInvitationByID(ctx context.Context, invitationID string) (*models.Invitation, error)
	FindInvitationBySession(ctx context.Context, sessionID string) (*models.Invitation, error)
	ListPendingInvitations(ctx context.Context, userID string, now time.Time) ([]models.Invitation, error)

	// Relationships
	SaveRelationship(ctx context.Context, rel *models.Relationship) error
	FindRelationship(ctx context.Context, a, b string) (*models.Relationship, error)
	ListRelationships(ctx context.Context, userID string) ([]models.Relationship, error)
}

// Storage is a Repository that can also run a function as one atomic unit.
// Every read-then-write across several records goes through Atomic; calls made
// on the Repository handed to fn are part of that unit and are rolled back
// together when fn returns an error.
type Storage interface {
	Repository
	Atomic(ctx context.Context, fn func(repo Repository) error) error
}
