package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/thinknote/thinknote/models"
)

type stubMailer struct {
	mu       sync.Mutex
	follows  []string
	likes    []string
	snippets []string
}

func (s *stubMailer) SendFollowNotification(recipientEmail, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.follows = append(s.follows, recipientEmail)
	return nil
}

func (s *stubMailer) SendLikeNotification(recipientEmail, _, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.likes = append(s.likes, recipientEmail)
	return nil
}

func (s *stubMailer) SendCommentNotification(_, _, _, _, bodySnippet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snippets = append(s.snippets, bodySnippet)
	return nil
}

func (s *stubMailer) followCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.follows)
}

func (s *stubMailer) lastSnippet() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snippets) == 0 {
		return "", false
	}
	return s.snippets[len(s.snippets)-1], true
}

func notificationRows(t *testing.T, db *gorm.DB, recipientID uint) []models.Notification {
	t.Helper()
	var rows []models.Notification
	require.NoError(t, db.Where("recipient_id = ?", recipientID).Find(&rows).Error)
	return rows
}

func TestDispatchDropsSelfEvents(t *testing.T) {
	db := newTestDB(t)
	mailer := &stubMailer{}
	d := NewNotificationDispatcher(db, mailer)

	alice := createUser(t, db, "alice")
	require.NoError(t, d.Dispatch(context.Background(), Event{
		Type:        models.NotificationNewFollower,
		ActorID:     alice.ID,
		RecipientID: alice.ID,
	}))

	assert.Empty(t, notificationRows(t, db, alice.ID))
	assert.Zero(t, mailer.followCount())
}

func TestDispatchMutedRecipientGetsNothing(t *testing.T) {
	db := newTestDB(t)
	mailer := &stubMailer{}
	d := NewNotificationDispatcher(db, mailer)

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	require.NoError(t, db.Model(bob).Update("notify_on_follow", false).Error)

	require.NoError(t, d.Dispatch(context.Background(), Event{
		Type:        models.NotificationNewFollower,
		ActorID:     alice.ID,
		RecipientID: bob.ID,
	}))

	// The mute gates everything: no in-app row, no email.
	assert.Empty(t, notificationRows(t, db, bob.ID))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, mailer.followCount())

	// Other event types are muted independently.
	require.NoError(t, d.Dispatch(context.Background(), Event{
		Type:        models.NotificationPostLiked,
		ActorID:     alice.ID,
		RecipientID: bob.ID,
	}))
	rows := notificationRows(t, db, bob.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.NotificationPostLiked, rows[0].Type)
}

func TestDispatchSkipsEmailForUnverifiedRecipient(t *testing.T) {
	db := newTestDB(t)
	mailer := &stubMailer{}
	d := NewNotificationDispatcher(db, mailer)

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	require.NoError(t, db.Model(bob).Update("is_verified", false).Error)

	require.NoError(t, d.Dispatch(context.Background(), Event{
		Type:        models.NotificationNewFollower,
		ActorID:     alice.ID,
		RecipientID: bob.ID,
	}))

	require.Len(t, notificationRows(t, db, bob.ID), 1)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, mailer.followCount())
}

func TestDispatchSendsFollowEmailAndFlipsFlag(t *testing.T) {
	db := newTestDB(t)
	mailer := &stubMailer{}
	d := NewNotificationDispatcher(db, mailer)

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	require.NoError(t, d.Dispatch(context.Background(), Event{
		Type:        models.NotificationNewFollower,
		ActorID:     alice.ID,
		RecipientID: bob.ID,
	}))

	assert.Eventually(t, func() bool {
		rows := notificationRows(t, db, bob.ID)
		return len(rows) == 1 && rows[0].EmailSent && mailer.followCount() == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestDispatchCommentEmailCarriesSnippet(t *testing.T) {
	db := newTestDB(t)
	mailer := &stubMailer{}
	d := NewNotificationDispatcher(db, mailer)

	author := createUser(t, db, "author")
	reader := createUser(t, db, "reader")
	post := createPost(t, db, author.ID, models.PostStatusPublished)

	longBody := strings.Repeat("b", 150)
	comment := &models.Comment{PostID: post.ID, AuthorID: reader.ID, Body: longBody}
	require.NoError(t, db.Create(comment).Error)

	require.NoError(t, d.Dispatch(context.Background(), Event{
		Type:        models.NotificationNewComment,
		ActorID:     reader.ID,
		RecipientID: author.ID,
		PostID:      &post.ID,
		CommentID:   &comment.ID,
	}))

	assert.Eventually(t, func() bool {
		snippet, ok := mailer.lastSnippet()
		return ok && snippet == strings.Repeat("b", 100)+"..."
	}, 3*time.Second, 20*time.Millisecond)
}

func TestDispatchUnknownRecipientIsSilent(t *testing.T) {
	db := newTestDB(t)
	mailer := &stubMailer{}
	d := NewNotificationDispatcher(db, mailer)

	alice := createUser(t, db, "alice")
	require.NoError(t, d.Dispatch(context.Background(), Event{
		Type:        models.NotificationNewFollower,
		ActorID:     alice.ID,
		RecipientID: alice.ID + 9999,
	}))

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Zero(t, mailer.followCount())
}
