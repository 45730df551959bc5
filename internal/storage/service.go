package storage

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sync"
	"time"

	"heartlink/backend/internal/models"

	"gorm.io/gorm"
)

// Service is the PostgreSQL-backed Storage.
type Service struct {
	DB *gorm.DB

	// mu serializes Atomic units inside this process; the serializable
	// transaction covers the database side.
	mu *sync.Mutex
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB) *Service {
	return &Service{DB: db, mu: &sync.Mutex{}}
}

// Migrate creates or updates every table the backend owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Device{},
		&models.HeartbeatLog{},
		&models.Interaction{},
		&models.QueueEntry{},
		&models.Pairing{},
		&models.Session{},
		&models.Invitation{},
		&models.Relationship{},
	)
}

// Atomic runs fn inside a serializable transaction while holding the store lock.
func (s *Service) Atomic(ctx context.Context, fn func(repo Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Service{DB: tx, mu: s.mu})
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

func (s *Service) db(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(ctx)
}

// notFound maps gorm's missing-record error onto ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// --- Participants ---

// SaveUserIfNotExists creates the participant row on first contact.
func (s *Service) SaveUserIfNotExists(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	result := s.db(ctx).Where("id = ?", userID).FirstOrCreate(&user, models.User{ID: userID})
	if result.Error != nil {
		log.Printf("ERROR: Failed to save user %s on first contact: %v", userID, result.Error)
		return nil, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("INFO: New participant %s saved to database.", userID)
	}
	return &user, nil
}

func (s *Service) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := s.db(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Service) ListUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db(ctx).Model(&models.User{}).Order("created_at asc").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Service) SetTelegramChatID(ctx context.Context, userID string, chatID int64) error {
	res := s.db(ctx).Model(&models.User{}).Where("id = ?", userID).Update("telegram_chat_id", chatID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Devices ---

// BindDevice attaches a device uid to device.OwnerID, creating the row if needed.
// Rebinding to the same owner updates name and sensors.
func (s *Service) BindDevice(ctx context.Context, device *models.Device) (*models.Device, error) {
	var bound models.Device
	err := s.db(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Device
		err := tx.Where("device_uid = ?", device.DeviceUID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			bound = *device
			return tx.Create(&bound).Error
		}
		if err != nil {
			return err
		}
		if existing.OwnerID != "" && existing.OwnerID != device.OwnerID {
			return ErrDeviceBound
		}
		existing.OwnerID = device.OwnerID
		if device.Name != "" {
			existing.Name = device.Name
		}
		if len(device.Sensors) > 0 {
			existing.Sensors = device.Sensors
		}
		bound = existing
		return tx.Save(&bound).Error
	})
	if err != nil {
		return nil, err
	}
	return &bound, nil
}

func (s *Service) GetDeviceByID(ctx context.Context, deviceID string) (*models.Device, error) {
	var device models.Device
	if err := s.db(ctx).Where("id = ?", deviceID).First(&device).Error; err != nil {
		return nil, notFound(err)
	}
	return &device, nil
}

// ListDevicesByOwner returns devices oldest first; the first one is the primary endpoint.
func (s *Service) ListDevicesByOwner(ctx context.Context, ownerID string) ([]models.Device, error) {
	var devices []models.Device
	if err := s.db(ctx).Where("owner_id = ?", ownerID).Order("created_at asc").Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

func (s *Service) SetDeviceOnline(ctx context.Context, deviceID string, online bool) error {
	return s.db(ctx).Model(&models.Device{}).Where("id = ?", deviceID).Update("is_online", online).Error
}

func (s *Service) TouchDevice(ctx context.Context, deviceID string, at time.Time) error {
	return s.db(ctx).Model(&models.Device{}).Where("id = ?", deviceID).Update("last_active", at).Error
}

func (s *Service) LastHeartbeat(ctx context.Context, deviceID string) (*models.HeartbeatLog, error) {
	var hb models.HeartbeatLog
	err := s.db(ctx).Where("device_id = ?", deviceID).Order("logged_at desc").First(&hb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &hb, nil
}

// --- Telemetry ---

func (s *Service) SaveHeartbeat(ctx context.Context, hb *models.HeartbeatLog) error {
	return s.db(ctx).Create(hb).Error
}

func (s *Service) SaveInteraction(ctx context.Context, interaction *models.Interaction) error {
	return s.db(ctx).Create(interaction).Error
}

// --- Queue ---

// PurgeQueueBefore drops queue entries enqueued before cutoff.
func (s *Service) PurgeQueueBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db(ctx).Where("enqueued_at < ?", cutoff).Delete(&models.QueueEntry{})
	return res.RowsAffected, res.Error
}

func (s *Service) FindQueueEntry(ctx context.Context, userID string) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := s.db(ctx).Where("user_id = ?", userID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Service) ListQueueEntries(ctx context.Context) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	if err := s.db(ctx).Order("enqueued_at asc").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Service) SaveQueueEntry(ctx context.Context, entry *models.QueueEntry) error {
	return s.db(ctx).Save(entry).Error
}

func (s *Service) DeleteQueueEntries(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	return s.db(ctx).Where("user_id IN ?", userIDs).Delete(&models.QueueEntry{}).Error
}

// --- Pairings ---

func (s *Service) SavePairing(ctx context.Context, pairing *models.Pairing) error {
	pairing.PairKey = models.PairKey(pairing.ParticipantA, pairing.ParticipantB)
	return s.db(ctx).Save(pairing).Error
}

func (s *Service) GetPairingByID(ctx context.Context, pairingID string) (*models.Pairing, error) {
	var pairing models.Pairing
	if err := s.db(ctx).Where("id = ?", pairingID).First(&pairing).Error; err != nil {
		return nil, notFound(err)
	}
	return &pairing, nil
}

func (s *Service) FindActivePairing(ctx context.Context, a, b string) (*models.Pairing, error) {
	var pairing models.Pairing
	err := s.db(ctx).
		Where("pair_key = ? AND status = ?", models.PairKey(a, b), models.PairingActive).
		First(&pairing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pairing, nil
}

// --- Sessions ---

func (s *Service) SaveSession(ctx context.Context, session *models.Session) error {
	return s.db(ctx).Save(session).Error
}

func (s *Service) GetSessionByID(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	if err := s.db(ctx).Where("id = ?", sessionID).First(&session).Error; err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

func (s *Service) FindActiveSession(ctx context.Context, a, b string) (*models.Session, error) {
	var session models.Session
	err := s.db(ctx).
		Where("is_active = ?", true).
		Where("(participant_a = ? AND participant_b = ?) OR (participant_a = ? AND participant_b = ?)", a, b, b, a).
		Order("created_at desc").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// FindSessionByPairing returns the newest session opened for the pairing, active or not.
func (s *Service) FindSessionByPairing(ctx context.Context, pairingID string) (*models.Session, error) {
	var session models.Session
	err := s.db(ctx).Where("pairing_id = ?", pairingID).Order("created_at desc").First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Service) ListActiveSessions(ctx context.Context, userID string) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db(ctx).
		Where("is_active = ?", true).
		Where("participant_a = ? OR participant_b = ?", userID, userID).
		Order("created_at asc").
		Find(&sessions).Error
	if err != nil {
		log.Printf("ERROR: Failed to list sessions for %s: %v", userID, err)
		return nil, err
	}
	return sessions, nil
}

func (s *Service) ListAllActiveSessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	if err := s.db(ctx).Where("is_active = ?", true).Order("created_at asc").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Service) ListExpiredTemporarySessions(ctx context.Context, now time.Time) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db(ctx).
		Where("is_active = ? AND kind = ? AND expires_at <= ?", true, models.SessionTemporary, now).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// --- Invitations ---

func (s *Service) SaveInvitation(ctx context.Context, invitation *models.Invitation) error {
	return s.db(ctx).Save(invitation).Error
}

func (s *Service) GetInvitationByID(ctx context.Context, invitationID string) (*models.Invitation, error) {
	var invitation models.Invitation
	if err := s.db(ctx).Where("id = ?", invitationID).First(&invitation).Error; err != nil {
		return nil, notFound(err)
	}
	return &invitation, nil
}

func (s *Service) FindInvitationBySession(ctx context.Context, sessionID string) (*models.Invitation, error) {
	var invitation models.Invitation
	err := s.db(ctx).Where("session_id = ?", sessionID).First(&invitation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invitation, nil
}

func (s *Service) ListPendingInvitations(ctx context.Context, userID string, now time.Time) ([]models.Invitation, error) {
	var invitations []models.Invitation
	err := s.db(ctx).
		Where("participant_a = ? OR participant_b = ?", userID, userID).
		Where("status = ? AND expires_at > ?", models.InvitationPending, now).
		Order("created_at asc").
		Find(&invitations).Error
	if err != nil {
		return nil, err
	}
	return invitations, nil
}

// --- Relationships ---

func (s *Service) SaveRelationship(ctx context.Context, rel *models.Relationship) error {
	rel.PairKey = models.PairKey(rel.ParticipantA, rel.ParticipantB)
	return s.db(ctx).Save(rel).Error
}

func (s *Service) FindRelationship(ctx context.Context, a, b string) (*models.Relationship, error) {
	var rel models.Relationship
	err := s.db(ctx).Where("pair_key = ?", models.PairKey(a, b)).First(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rel, nil
}

func (s *Service) ListRelationships(ctx context.Context, userID string) ([]models.Relationship, error) {
	var rels []models.Relationship
	err := s.db(ctx).
		Where("participant_a = ? OR participant_b = ?", userID, userID).
		Order("created_at asc").
		Find(&rels).Error
	if err != nil {
		return nil, err
	}
	return rels, nil
}

var _ Storage = (*Service)(nil)
