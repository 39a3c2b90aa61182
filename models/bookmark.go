package models

import "time"

// Bookmark is a user's saved-post entry, unique per (user, post). It drives
// no counters and no notifications.
type Bookmark struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_bookmarks_user_post;index:idx_bookmarks_user_created" json:"user_id"`
	PostID    uint      `gorm:"not null;uniqueIndex:idx_bookmarks_user_post;index" json:"post_id"`
	CreatedAt time.Time `gorm:"index:idx_bookmarks_user_created" json:"created_at"`

	User User `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Post Post `gorm:"foreignKey:PostID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"post"`
}
