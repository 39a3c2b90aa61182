package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/thinknote/thinknote/models"
	"github.com/thinknote/thinknote/utils"
)

const (
	emailSendTimeout = 15 * time.Second
	snippetLength    = 100
)

// Event describes an engagement occurrence handed to the dispatcher after
// the owning transaction committed.
type Event struct {
	Type        string
	ActorID     uint
	RecipientID uint
	PostID      *uint
	CommentID   *uint
}

// Mailer sends engagement alert emails. utils.SMTPMailer is the production
// implementation; tests substitute a recording stub.
type Mailer interface {
	SendFollowNotification(recipientEmail, actorDisplayName, actorUsername string) error
	SendLikeNotification(recipientEmail, actorDisplayName, postTitle, postSlug string) error
	SendCommentNotification(recipientEmail, actorDisplayName, postTitle, postSlug, bodySnippet string) error
}

// NotificationDispatcher persists notification rows synchronously and sends
// alert emails on a detached goroutine. A recipient whose per-type
// preference is off gets nothing at all, in-app or email. Persist failures
// propagate to the caller; email failures are logged and dropped.
type NotificationDispatcher struct {
	db     *gorm.DB
	mailer Mailer
}

// NewNotificationDispatcher builds a dispatcher. A nil mailer disables
// email delivery; in-app notifications still persist.
func NewNotificationDispatcher(db *gorm.DB, mailer Mailer) *NotificationDispatcher {
	return &NotificationDispatcher{db: db, mailer: mailer}
}

// Dispatch records the event for its recipient and, when the recipient can
// receive mail, sends an email without blocking the caller. Self-events and
// events the recipient has muted are dropped before anything persists.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, event Event) error {
	if event.ActorID == event.RecipientID {
		return nil
	}

	var recipient models.User
	if err := d.db.WithContext(ctx).
		Select("id", "email", "is_verified", "is_suspended",
			"notify_on_follow", "notify_on_like", "notify_on_comment").
		First(&recipient, event.RecipientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return Dependency("load notification recipient", err)
	}
	if !wantsType(&recipient, event.Type) {
		return nil
	}
	var actor models.User
	if err := d.db.WithContext(ctx).
		Select("id", "username", "display_name").
		First(&actor, event.ActorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return Dependency("load notification actor", err)
	}

	notification := &models.Notification{
		RecipientID: event.RecipientID,
		SenderID:    &actor.ID,
		Type:        event.Type,
		PostID:      event.PostID,
		CommentID:   event.CommentID,
	}
	if err := d.db.WithContext(ctx).Create(notification).Error; err != nil {
		return Dependency("persist notification", err)
	}

	if d.mailer == nil || !canEmail(&recipient) {
		return nil
	}
	go d.sendEmail(notification.ID, event, actor, recipient)
	return nil
}

// wantsType is the per-type mute switch; it gates the whole dispatch.
func wantsType(recipient *models.User, eventType string) bool {
	switch eventType {
	case models.NotificationNewFollower:
		return recipient.NotifyOnFollow
	case models.NotificationPostLiked:
		return recipient.NotifyOnLike
	case models.NotificationNewComment, models.NotificationCommentReply:
		return recipient.NotifyOnComment
	default:
		return false
	}
}

// canEmail gates only the email leg, never the in-app row.
func canEmail(recipient *models.User) bool {
	return recipient.IsVerified && !recipient.IsSuspended && recipient.Email != ""
}

// sendEmail runs detached from the request: its own context, its own
// timeout, and a recover guard so a mailer panic cannot take the process
// down.
func (d *NotificationDispatcher) sendEmail(notificationID uint, event Event, actor, recipient models.User) {
	defer func() {
		if r := recover(); r != nil {
			utils.Logger.Error("notification email panicked", zap.Any("panic", r))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), emailSendTimeout)
	defer cancel()

	var err error
	switch event.Type {
	case models.NotificationNewFollower:
		err = d.mailer.SendFollowNotification(recipient.Email, actor.DisplayName, actor.Username)
	case models.NotificationPostLiked:
		post, loadErr := d.loadPost(ctx, event.PostID)
		if loadErr != nil {
			err = loadErr
			break
		}
		err = d.mailer.SendLikeNotification(recipient.Email, actor.DisplayName, post.Title, post.Slug)
	case models.NotificationNewComment, models.NotificationCommentReply:
		post, loadErr := d.loadPost(ctx, event.PostID)
		if loadErr != nil {
			err = loadErr
			break
		}
		snippet := ""
		if event.CommentID != nil {
			var comment models.Comment
			if d.db.WithContext(ctx).Select("id", "body").
				First(&comment, *event.CommentID).Error == nil {
				snippet = utils.Snippet(comment.Body, snippetLength)
			}
		}
		err = d.mailer.SendCommentNotification(recipient.Email, actor.DisplayName, post.Title, post.Slug, snippet)
	default:
		return
	}
	if err != nil {
		utils.Logger.Warn("notification email failed",
			zap.String("type", event.Type),
			zap.Uint("notification_id", notificationID), zap.Error(err))
		return
	}
	if err := d.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ?", notificationID).
		Update("email_sent", true).Error; err != nil {
		utils.Logger.Warn("mark email sent failed",
			zap.Uint("notification_id", notificationID), zap.Error(err))
	}
}

func (d *NotificationDispatcher) loadPost(ctx context.Context, postID *uint) (*models.Post, error) {
	if postID == nil {
		return nil, errors.New("event missing post id")
	}
	var post models.Post
	if err := d.db.WithContext(ctx).Select("id", "title", "slug").
		First(&post, *postID).Error; err != nil {
		return nil, err
	}
	return &post, nil
}
