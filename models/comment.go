package models

import "time"

// DeletedCommentBody replaces the body of soft-deleted comments.
const DeletedCommentBody = "[deleted]"

// Comment is a reply to a post, optionally nested one level under a
// top-level comment via ParentID. Comments are never hard-deleted: deletion
// flips IsDeleted and replaces the body, and the read path decides whether
// the row still renders. Thread structure always survives.
type Comment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PostID    uint      `gorm:"not null;index:idx_comments_post_created" json:"post_id"`
	AuthorID  uint      `gorm:"not null;index" json:"author_id"`
	Body      string    `gorm:"size:2000;not null" json:"body"`
	ParentID  *uint     `gorm:"index" json:"parent_id"`
	IsDeleted bool      `gorm:"default:false" json:"is_deleted"`
	CreatedAt time.Time `gorm:"index:idx_comments_post_created" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Author User `gorm:"foreignKey:AuthorID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"author"`
}
