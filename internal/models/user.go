package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a participant. Identity is issued elsewhere; the backend only keeps
// the id it is given plus optional notification bindings.
type User struct {
	ID             string `gorm:"primaryKey" json:"id"`
	TelegramChatID int64  `gorm:"index" json:"-"` // 0 when not bound
	Language       string `json:"language,omitempty"`
	CreatedAt      time.Time
}

// BeforeCreate generates a UUID when the caller did not supply an id.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}
