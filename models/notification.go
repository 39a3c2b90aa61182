package models

import "time"

// Notification types.
const (
	NotificationNewFollower  = "new_follower"
	NotificationPostLiked    = "post_liked"
	NotificationNewComment   = "new_comment"
	NotificationCommentReply = "comment_reply"
)

// Notification is a persisted engagement event for a recipient. Rows are
// immutable except for the IsRead false->true transition and the EmailSent
// flag set by the dispatcher's detached email send.
type Notification struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	RecipientID uint      `gorm:"not null;index:idx_notifications_recipient_read" json:"recipient_id"`
	SenderID    *uint     `json:"sender_id"`
	Type        string    `gorm:"size:32;not null" json:"type"`
	PostID      *uint     `json:"post_id"`
	CommentID   *uint     `json:"comment_id"`
	IsRead      bool      `gorm:"default:false;index:idx_notifications_recipient_read" json:"is_read"`
	EmailSent   bool      `gorm:"default:false" json:"email_sent"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`

	Sender *User `gorm:"foreignKey:SenderID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"sender,omitempty"`
	Post   *Post `gorm:"foreignKey:PostID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"post,omitempty"`
}
