package models

import (
	"time"

	"gorm.io/gorm"
)

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents a ThinkNote account. Passwords are stored as bcrypt hashes
// only. Follower/following relations live in the follows table and are never
// embedded here; counts are derived with COUNT queries.
type User struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Username     string `gorm:"size:30;uniqueIndex;not null" json:"username"`
	Email        string `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"size:255;not null" json:"-"`
	DisplayName  string `gorm:"size:60;not null" json:"display_name"`
	Bio          string `gorm:"size:300" json:"bio"`
	AvatarURL    string `gorm:"size:512" json:"avatar_url"`
	Website      string `gorm:"size:255" json:"website"`
	Twitter      string `gorm:"size:255" json:"twitter"`
	GitHub       string `gorm:"size:255" json:"github"`
	Role         string `gorm:"size:16;default:'user'" json:"role"`

	IsVerified     bool       `gorm:"default:false" json:"is_verified"`
	VerifyToken    string     `gorm:"size:64;index" json:"-"`
	VerifyTokenExp *time.Time `json:"-"`
	ResetToken     string     `gorm:"size:64;index" json:"-"`
	ResetTokenExp  *time.Time `json:"-"`
	IsSuspended    bool       `gorm:"default:false" json:"is_suspended"`

	NotifyOnFollow  bool `gorm:"default:true" json:"notify_on_follow"`
	NotifyOnLike    bool `gorm:"default:true" json:"notify_on_like"`
	NotifyOnComment bool `gorm:"default:true" json:"notify_on_comment"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAdmin reports whether the user carries the admin role.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// BeforeCreate hook ensures timestamps are set even when not provided.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.AvatarURL == "" {
		u.AvatarURL = "/img/default-avatar.png"
	}
	return nil
}

// BeforeUpdate ensures the UpdatedAt timestamp is refreshed.
func (u *User) BeforeUpdate(tx *gorm.DB) error {
	u.UpdatedAt = time.Now()
	return nil
}
