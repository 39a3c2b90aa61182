package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/thinknote/thinknote/models"
)

const (
	maxCommentLength    = 2000
	notificationPageCap = 30
)

// Dispatcher receives engagement events after the owning transaction has
// committed. Implementations must not block the caller beyond a row insert;
// a returned error means the notification row could not be persisted.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// EngagementService owns likes, bookmarks, follows, comments, views and the
// notification read API. Every counter delta runs as a single atomic UPDATE
// inside the same transaction as the engagement row it mirrors, so the
// counters never drift from the relation tables.
type EngagementService struct {
	db         *gorm.DB
	dispatcher Dispatcher
}

func NewEngagementService(db *gorm.DB, dispatcher Dispatcher) *EngagementService {
	return &EngagementService{db: db, dispatcher: dispatcher}
}

// CommentNode is a top-level comment with its direct replies. Threads are
// one level deep.
type CommentNode struct {
	models.Comment
	Replies []*CommentNode `json:"replies"`
}

func (s *EngagementService) loadPublishedPost(ctx context.Context, postID uint) (*models.Post, error) {
	var post models.Post
	err := s.db.WithContext(ctx).
		Select("id", "author_id", "status", "title", "slug").
		First(&post, postID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("post not found")
	}
	if err != nil {
		return nil, Dependency("load post", err)
	}
	if post.Status != models.PostStatusPublished {
		return nil, InvalidOperation("post is not published")
	}
	return &post, nil
}

// ToggleLike flips the caller's like on a post and returns the resulting
// state plus the authoritative like count. A duplicate-key race on create
// means a concurrent toggle won; both callers converge on the liked state.
func (s *EngagementService) ToggleLike(ctx context.Context, userID, postID uint) (bool, int64, error) {
	post, err := s.loadPublishedPost(ctx, postID)
	if err != nil {
		return false, 0, err
	}

	var liked, created bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND post_id = ?", userID, postID).Delete(&models.Like{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return tx.Model(&models.Post{}).Where("id = ?", postID).
				UpdateColumn("like_count", gorm.Expr("GREATEST(like_count - 1, 0)")).Error
		}
		if err := tx.Create(&models.Like{UserID: userID, PostID: postID}).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				liked = true
				return nil
			}
			return err
		}
		liked = true
		created = true
		return tx.Model(&models.Post{}).Where("id = ?", postID).
			UpdateColumn("like_count", gorm.Expr("like_count + 1")).Error
	})
	if err != nil {
		return false, 0, Dependency("toggle like", err)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ?", postID).Select("like_count").Scan(&count).Error; err != nil {
		return liked, 0, Dependency("read like count", err)
	}

	if created && userID != post.AuthorID {
		if err := s.dispatcher.Dispatch(ctx, Event{
			Type:        models.NotificationPostLiked,
			ActorID:     userID,
			RecipientID: post.AuthorID,
			PostID:      &post.ID,
		}); err != nil {
			return liked, count, err
		}
	}
	return liked, count, nil
}

// ToggleBookmark flips the caller's bookmark on a post. Bookmarks are
// private: no counter, no notification.
func (s *EngagementService) ToggleBookmark(ctx context.Context, userID, postID uint) (bool, error) {
	if _, err := s.loadPublishedPost(ctx, postID); err != nil {
		return false, err
	}

	var bookmarked bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND post_id = ?", userID, postID).Delete(&models.Bookmark{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		if err := tx.Create(&models.Bookmark{UserID: userID, PostID: postID}).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				bookmarked = true
				return nil
			}
			return err
		}
		bookmarked = true
		return nil
	})
	if err != nil {
		return false, Dependency("toggle bookmark", err)
	}
	return bookmarked, nil
}

// IncrementView bumps a published post's view counter. Lost increments are
// acceptable; drift in the other direction is not, so the delta is a single
// atomic UPDATE.
func (s *EngagementService) IncrementView(ctx context.Context, postID uint) error {
	err := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ? AND status = ?", postID, models.PostStatusPublished).
		UpdateColumn("view_count", gorm.Expr("view_count + 1")).Error
	if err != nil {
		return Dependency("increment view count", err)
	}
	return nil
}

// ToggleFollow flips the follower -> followee edge and returns the resulting
// state plus the followee's authoritative follower count. Self-follow is
// rejected.
func (s *EngagementService) ToggleFollow(ctx context.Context, followerID, followeeID uint) (bool, int64, error) {
	if followerID == followeeID {
		return false, 0, InvalidOperation("cannot follow yourself")
	}
	var followee models.User
	err := s.db.WithContext(ctx).Select("id").First(&followee, followeeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, 0, NotFound("user not found")
	}
	if err != nil {
		return false, 0, Dependency("load user", err)
	}

	var following, created bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
			Delete(&models.Follow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		if err := tx.Create(&models.Follow{FollowerID: followerID, FolloweeID: followeeID}).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				following = true
				return nil
			}
			return err
		}
		following = true
		created = true
		return nil
	})
	if err != nil {
		return false, 0, Dependency("toggle follow", err)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Follow{}).
		Where("followee_id = ?", followeeID).Count(&count).Error; err != nil {
		return following, 0, Dependency("count followers", err)
	}

	if created {
		if err := s.dispatcher.Dispatch(ctx, Event{
			Type:        models.NotificationNewFollower,
			ActorID:     followerID,
			RecipientID: followeeID,
		}); err != nil {
			return following, count, err
		}
	}
	return following, count, nil
}

// AddComment appends a comment to a published post, optionally as a reply to
// a top-level comment. Nesting is limited to one level.
func (s *EngagementService) AddComment(ctx context.Context, userID, postID uint, body string, parentID *uint) (*models.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, Validation("comment body is required")
	}
	if len([]rune(body)) > maxCommentLength {
		return nil, Validation("comment exceeds 2000 characters")
	}

	post, err := s.loadPublishedPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	var parent *models.Comment
	if parentID != nil {
		var p models.Comment
		err := s.db.WithContext(ctx).First(&p, *parentID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("parent comment not found")
		}
		if err != nil {
			return nil, Dependency("load parent comment", err)
		}
		if p.PostID != postID {
			return nil, Validation("parent comment belongs to another post")
		}
		if p.ParentID != nil {
			return nil, Validation("replies cannot be nested further")
		}
		if p.IsDeleted {
			return nil, InvalidOperation("cannot reply to a deleted comment")
		}
		parent = &p
	}

	comment := &models.Comment{
		PostID:   postID,
		AuthorID: userID,
		Body:     body,
		ParentID: parentID,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(comment).Error; err != nil {
			return err
		}
		return tx.Model(&models.Post{}).Where("id = ?", postID).
			UpdateColumn("comment_count", gorm.Expr("comment_count + 1")).Error
	})
	if err != nil {
		return nil, Dependency("add comment", err)
	}
	if err := s.db.WithContext(ctx).Preload("Author").First(comment, comment.ID).Error; err != nil {
		return nil, Dependency("load comment", err)
	}

	// A reply whose parent author is also the post author gets one
	// notification, not two: comment_reply wins.
	if parent != nil && parent.AuthorID != userID {
		if err := s.dispatcher.Dispatch(ctx, Event{
			Type:        models.NotificationCommentReply,
			ActorID:     userID,
			RecipientID: parent.AuthorID,
			PostID:      &post.ID,
			CommentID:   &comment.ID,
		}); err != nil {
			return nil, err
		}
	}
	if post.AuthorID != userID && (parent == nil || parent.AuthorID != post.AuthorID) {
		if err := s.dispatcher.Dispatch(ctx, Event{
			Type:        models.NotificationNewComment,
			ActorID:     userID,
			RecipientID: post.AuthorID,
			PostID:      &post.ID,
			CommentID:   &comment.ID,
		}); err != nil {
			return nil, err
		}
	}
	return comment, nil
}

// DeleteComment removes a comment authored by the caller (admins may remove
// any). Deletion is always soft: the row stays with its body replaced so
// thread structure survives, and Comments decides what still renders. The
// post's comment counter drops exactly once; deleting an already-deleted
// comment is a no-op.
func (s *EngagementService) DeleteComment(ctx context.Context, userID uint, isAdmin bool, commentID uint) error {
	var comment models.Comment
	err := s.db.WithContext(ctx).First(&comment, commentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFound("comment not found")
	}
	if err != nil {
		return Dependency("load comment", err)
	}
	if comment.AuthorID != userID && !isAdmin {
		return Forbidden("you can only delete your own comments")
	}
	if comment.IsDeleted {
		return nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Comment{}).
			Where("id = ? AND is_deleted = ?", commentID, false).
			Updates(map[string]interface{}{
				"is_deleted": true,
				"body":       models.DeletedCommentBody,
			})
		if res.Error != nil {
			return res.Error
		}
		// RowsAffected == 0 means a concurrent delete already decremented.
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Model(&models.Post{}).Where("id = ?", comment.PostID).
			UpdateColumn("comment_count", gorm.Expr("GREATEST(comment_count - 1, 0)")).Error
	})
	if err != nil {
		return Dependency("delete comment", err)
	}
	return nil
}

// Comments returns a post's comment tree, oldest first at both levels.
// Deleted replies never render. A deleted top-level comment renders as a
// "[deleted]" anchor (masked body, no author identity) while it still has
// live replies; once it has none it is hidden from the listing, though the
// row itself is retained.
func (s *EngagementService) Comments(ctx context.Context, postID uint) ([]*CommentNode, error) {
	var exists int64
	if err := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ?", postID).Count(&exists).Error; err != nil {
		return nil, Dependency("load post", err)
	}
	if exists == 0 {
		return nil, NotFound("post not found")
	}

	var comments []models.Comment
	if err := s.db.WithContext(ctx).Preload("Author").
		Where("post_id = ?", postID).
		Order("created_at ASC, id ASC").
		Find(&comments).Error; err != nil {
		return nil, Dependency("load comments", err)
	}

	nodes := make(map[uint]*CommentNode, len(comments))
	for i := range comments {
		c := comments[i]
		if c.IsDeleted {
			c.Body = models.DeletedCommentBody
			c.AuthorID = 0
			c.Author = models.User{}
		}
		nodes[c.ID] = &CommentNode{Comment: c, Replies: []*CommentNode{}}
	}
	// Attach replies walking the query result so its created_at, id
	// ordering carries through.
	for i := range comments {
		c := &comments[i]
		if c.ParentID == nil || c.IsDeleted {
			continue
		}
		if parent, ok := nodes[*c.ParentID]; ok {
			parent.Replies = append(parent.Replies, nodes[c.ID])
		}
	}
	threads := make([]*CommentNode, 0, len(comments))
	for i := range comments {
		c := &comments[i]
		if c.ParentID != nil {
			continue
		}
		node := nodes[c.ID]
		if c.IsDeleted && len(node.Replies) == 0 {
			continue
		}
		threads = append(threads, node)
	}
	return threads, nil
}

// Notifications returns the recipient's newest notifications, capped at 30,
// with sender and post context preloaded.
func (s *EngagementService) Notifications(ctx context.Context, userID uint) ([]models.Notification, error) {
	var list []models.Notification
	err := s.db.WithContext(ctx).
		Preload("Sender", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "username", "display_name", "avatar_url")
		}).
		Preload("Post", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "title", "slug")
		}).
		Where("recipient_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(notificationPageCap).
		Find(&list).Error
	if err != nil {
		return nil, Dependency("load notifications", err)
	}
	return list, nil
}

// UnreadCount returns the recipient's number of unread notifications.
func (s *EngagementService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, Dependency("count unread notifications", err)
	}
	return count, nil
}

// MarkRead marks one of the caller's notifications as read.
func (s *EngagementService) MarkRead(ctx context.Context, userID, notificationID uint) error {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ?", notificationID, userID).
		Update("is_read", true)
	if res.Error != nil {
		return Dependency("mark notification read", res.Error)
	}
	if res.RowsAffected == 0 {
		var exists int64
		if err := s.db.WithContext(ctx).Model(&models.Notification{}).
			Where("id = ? AND recipient_id = ?", notificationID, userID).
			Count(&exists).Error; err != nil {
			return Dependency("mark notification read", err)
		}
		if exists == 0 {
			return NotFound("notification not found")
		}
	}
	return nil
}

// MarkAllRead marks every unread notification of the caller as read.
func (s *EngagementService) MarkAllRead(ctx context.Context, userID uint) error {
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", userID, false).
		Update("is_read", true).Error
	if err != nil {
		return Dependency("mark notifications read", err)
	}
	return nil
}
