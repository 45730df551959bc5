package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Device is an endpoint owned by a participant (a wearable, a phone, a browser tab).
type Device struct {
	ID         string         `gorm:"primaryKey" json:"id"`
	DeviceUID  string         `gorm:"uniqueIndex;not null" json:"device_uid"`
	OwnerID    string         `gorm:"index" json:"owner_id"`
	Name       string         `json:"name"`
	Sensors    pq.StringArray `gorm:"type:text[]" json:"sensors"` // e.g. "heartbeat", "pressure"
	IsOnline   bool           `json:"is_online"`                  // live channel attached
	LastActive *time.Time     `json:"last_active,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (d *Device) BeforeCreate(tx *gorm.DB) (err error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return
}

// HeartbeatLog is one persisted heartbeat sample.
type HeartbeatLog struct {
	ID          uint      `gorm:"primaryKey"`
	DeviceID    string    `gorm:"index:idx_device_logged"`
	BPM         int       `json:"bpm"`
	Temperature float64   `json:"temperature"`
	LoggedAt    time.Time `gorm:"index:idx_device_logged"`
}

// Interaction is one persisted pressure sample, recorded against the owner.
type Interaction struct {
	ID            uint      `gorm:"primaryKey"`
	UserID        string    `gorm:"index"`
	DeviceID      string    `gorm:"index"`
	PressureLevel float64   `json:"pressure_level"`
	Timestamp     time.Time `json:"timestamp"`
}
