package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/thinknote/thinknote/config"
	"github.com/thinknote/thinknote/models"
	"github.com/thinknote/thinknote/utils"
)

var (
	testDB     *gorm.DB
	testDBOnce sync.Once
)

func TestMain(m *testing.M) {
	if os.Getenv("TEST_DATABASE_URI") == "" {
		fmt.Println("TEST_DATABASE_URI not set, skipping service tests")
		os.Exit(0)
	}
	os.Setenv("JWT_SECRET", "test-secret")
	if err := utils.InitLogger(config.Load()); err != nil {
		fmt.Printf("logger init failed: %v\n", err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	testDBOnce.Do(func() {
		db, err := gorm.Open(mysql.Open(os.Getenv("TEST_DATABASE_URI")), &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		})
		require.NoError(t, err)
		require.NoError(t, db.AutoMigrate(
			&models.User{}, &models.Post{}, &models.Follow{},
			&models.Like{}, &models.Bookmark{}, &models.Comment{},
			&models.Notification{},
		))
		testDB = db
	})
	for _, table := range []string{"notifications", "comments", "bookmarks", "likes", "follows", "posts", "users"} {
		require.NoError(t, testDB.Exec("DELETE FROM "+table).Error)
	}
	return testDB
}

// recordingDispatcher captures events instead of persisting notifications.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingDispatcher) Dispatch(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingDispatcher) byType(eventType string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func createUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	user := &models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
		DisplayName:  "User " + username,
		IsVerified:   true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func createPost(t *testing.T, db *gorm.DB, authorID uint, status string) *models.Post {
	t.Helper()
	post := &models.Post{
		AuthorID: authorID,
		Title:    "A Post",
		Slug:     utils.Slugify("A Post"),
		Body:     "Some body text that is long enough to matter.",
		Format:   models.FormatMarkdown,
		Status:   status,
	}
	require.NoError(t, db.Create(post).Error)
	return post
}

func likeCountOf(t *testing.T, db *gorm.DB, postID uint) int64 {
	t.Helper()
	var post models.Post
	require.NoError(t, db.First(&post, postID).Error)
	return post.LikeCount
}

func commentCountOf(t *testing.T, db *gorm.DB, postID uint) int64 {
	t.Helper()
	var post models.Post
	require.NoError(t, db.First(&post, postID).Error)
	return post.CommentCount
}

func TestToggleLikeLifecycle(t *testing.T) {
	db := newTestDB(t)
	dispatcher := &recordingDispatcher{}
	svc := NewEngagementService(db, dispatcher)
	ctx := context.Background()

	author := createUser(t, db, "author")
	reader := createUser(t, db, "reader")
	post := createPost(t, db, author.ID, models.PostStatusPublished)

	liked, count, err := svc.ToggleLike(ctx, reader.ID, post.ID)
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, int64(1), count)

	// Counter mirrors the relation table exactly.
	var rows int64
	require.NoError(t, db.Model(&models.Like{}).Where("post_id = ?", post.ID).Count(&rows).Error)
	assert.Equal(t, rows, likeCountOf(t, db, post.ID))

	liked, count, err = svc.ToggleLike(ctx, reader.ID, post.ID)
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, int64(0), count)
	assert.Equal(t, int64(0), likeCountOf(t, db, post.ID))
}

func TestToggleLikeNotifiesAuthorOnLikeOnly(t *testing.T) {
	db := newTestDB(t)
	dispatcher := &recordingDispatcher{}
	svc := NewEngagementService(db, dispatcher)
	ctx := context.Background()

	author := createUser(t, db, "author")
	reader := createUser(t, db, "reader")
	post := createPost(t, db, author.ID, models.PostStatusPublished)

	_, _, err := svc.ToggleLike(ctx, reader.ID, post.ID)
	require.NoError(t, err)
	_, _, err = svc.ToggleLike(ctx, reader.ID, post.ID)
	require.NoError(t, err)

	events := dispatcher.byType(models.NotificationPostLiked)
	require.Len(t, events, 1)
	assert.Equal(t, reader.ID, events[0].ActorID)
	assert.Equal(t, author.ID, events[0].RecipientID)
}

func TestToggleLikeSelfLikeDoesNotNotify(t *testing.T) {
	db := newTestDB(t)
	dispatcher := &recordingDispatcher{}
	svc := NewEngagementService(db, dispatcher)

	author := createUser(t, db, "author")
	post := createPost(t, db, author.ID, models.PostStatusPublished)

	liked, _, err := svc.ToggleLike(context.Background(), author.ID, post.ID)
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Empty(t, dispatcher.byType(models.NotificationPostLiked))
}

func TestToggleLikeRejectsDraft(t *testing.T) {
	db := newTestDB(t)
	svc := NewEngagementService(db, &recordingDispatcher{})

	author := createUser(t, db, "author")
	reader := createUser(t, db, "reader")
	post := createPost(t, db, author.ID, models.PostStatusDraft)

	_, _, err := svc.ToggleLike(context.Background(), reader.ID, post.ID)
	require.Error(t, err)
	assert.Equal(t, KindInvalidOperation, AsAppError(err).Kind)
}

func TestToggleBookmarkLifecycle(t *testing.T) {
	db := newTestDB(t)
	dispatcher := &recordingDispatcher{}
	svc := NewEngagementService(db, dispatcher)
	ctx := context.Background()

	author := createUser(t, db, "author")
	reader := createUser(t, db, "reader")
	post := createPost(t, db, author.ID, models.PostStatusPublished)

	bookmarked, err := svc.ToggleBookmark(ctx, reader.ID, post.ID)
	require.NoError(t, err)
	assert.True(t, bookmarked)

	bookmarked, err = svc.ToggleBookmark(ctx, reader.ID, post.ID)
	require.NoError(t, err)
	assert.False(t, bookmarked)

	// Bookmarks stay private.
	assert.Empty(t, dispatcher.events)
}

func TestToggleFollowLifecycle(t *testing.T) {
	db := newTestDB(t)
	dispatcher := &recordingDispatcher{}
	svc := NewEngagementService(db, dispatcher)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	following, count, err := svc.ToggleFollow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, following)
	assert.Equal(t, int64(1), count)

	// Both directions of the graph read from the same edge.
	var edges int64
	require.NoError(t, db.Model(&models.Follow{}).
		Where("follower_id = ? AND followee_id = ?", alice.ID, bob.ID).Count(&edges).Error)
	assert.Equal(t, int64(1), edges)

	following, count, err = svc.ToggleFollow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, following)
	assert.Equal(t, int64(0), count)

	events := dispatcher.byType(models.NotificationNewFollower)
	require.Len(t, events, 1)
	assert.Equal(t, alice.ID, events[0].ActorID)
	assert.Equal(t, bob.ID, events[0].RecipientID)
}

func TestToggleFollowRejectsSelf(t *testing.T) {
	db := newTestDB(t)
	svc := NewEngagementService(db, &recordingDispatcher{})
	alice := createUser(t, db, "alice")

	_, _, err := svc.ToggleFollow(context.Background(), alice.ID, alice.ID)
	require.Error(t, err)
	assert.Equal(t, KindInvalidOperation, AsAppError(err).Kind)
}

func TestToggleFollowUnknownUser(t *testing.T) {
	db := newTestDB(t)
	svc := NewEngagementService(db, &recordingDispatcher{})
	alice := createUser(t, db, "alice")

	_, _, err := svc.ToggleFollow(context.Background(), alice.ID, alice.ID+9999)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, AsAppError(err).Kind)
}

func TestAddCommentValidation(t *testing.T) {
	db := newTestDB(t)
	svc := NewEngagementService(db, &recordingDispatcher{})
	ctx := context.Background()

	author := createUser(t, db, "author")
	reader := createUser(t, db, "reader")
	post := createPost(t, db, author.ID, models.PostStatusPublished)

	_, err := svc.AddComment(ctx, reader.ID, post.ID, "   ", nil)
	require.Error(t, err)
	assert.Equal(t, KindValidation, AsAppError(err).Kind)

	_, err = svc.AddComment(ctx, reader.ID, post.ID, strings.Repeat("a", 2001), nil)
	require.Error(t, err)
	assert.Equal(t, KindValidation, AsAppError(err).Kind)

	draft := createPost(t, db, author.ID, models.PostStatusDraft)
	_, err = svc.AddComment(ctx, reader.ID, draft.ID, "hi", nil)
	require.Error(t, err)
	assert.Equal(t, KindInvalidOperation, AsAppError(err).Kind)
}

func TestCommentThreading(t *testing.T) {
	db := newTestDB(t)
	dispatcher := &recordingDispatcher{}
	svc := NewEngagementService(db, dispatcher)
	ctx := context.Background()

	author := createUser(t, db, "author")
	reader := createUser(t, db, "reader")
	other := createUser(t, db, "other")
	post := createPost(t, db, author.ID, models.PostStatusPublished)

	top, err := svc.AddComment(ctx, reader.ID, post.ID, "top level", nil)
	require.NoError(t, err)
	reply, err := svc.AddComment(ctx, other.ID, post.ID, "a reply", &top.ID)
	require.NoError(t, err)

	// Nesting stops at one level.
	_, err = svc.AddComment(ctx, reader.ID, post.ID, "too deep", &reply.ID)
	require.Error(t, err)
	assert.Equal(t, KindValidation, AsAppError(err).Kind)

	// Parent must belong to the same post.
	otherPost := createPost(t, db, author.ID, models.PostStatusPublished)
	_, err = svc.AddComment(ctx, reader.ID, otherPost.ID, "wrong post", &top.ID)
	require.Error(t, err)
	assert.Equal(t, KindValidation, AsAppError(err).Kind)

	threads, err := svc.Comments(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "top level", threads[0].Body)
	require.Len(t, threads[0].Replies, 1)
	assert.Equal(t, "a reply", threads[0].Replies[0].Body)

	assert.Equal(t, int64(2), commentCountOf(t, db, post.ID))

	// Author got notified of the top comment, reader of the reply.
	newComment := dispatcher.byType(models.NotificationNewComment)
	require.Len(t, newComment, 2)
	replies := dispatcher.byType(models.NotificationCommentReply)
	require.Len(t, replies, 1)
	assert.Equal(t, reader.ID, replies[0].RecipientID)
}

func TestCommentRepliesKeepInsertionOrder(t *testing.T) {
	db := newTestDB(t)
	svc := NewEngagementService(db, &recordingDispatcher{})
	ctx := context.Background()

	author := createUser(t, db, "author")
	reader := createUser(t, db, "reader")
	post := createPost(t, db, author.ID, models.PostStatusPublished)

	top, err := svc.AddComment(ctx, reader.ID, post.ID, "top", nil)
	require.NoError(t, err)

	// Identical timestamps force the id tiebreak.
	stamp := time.Now().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		reply := &models.Comment{
			PostID:    post.ID,
			AuthorID:  author.ID,
			Body:      fmt.Sprintf("reply %d", i),
			ParentID:  &top.ID,
			CreatedAt: stamp,
			UpdatedAt: stamp,
		}
		require.NoError(t, db.Create(reply).Error)
	}

	threads, err := svc.Comments(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	require.Len(t, threads[0].Replies, 5)
	for i, reply := range threads[0].Replies {
		assert.Equal(t, fmt.Sprintf("reply %d", i), reply.Body)
	}
}

func TestDeleteCommentAuthorization(t *testing.T) {
	db := newTestDB(t)
	svc := NewEngagementService(db, &recordingDispatcher{})
	ctx := context.Background()

	author := createUser(t, db, "author")
	reader := createUser(t, db, "reader")
	other := createUser(t, db, "other")
	post := createPost(t, db, author.ID, models.PostStatusPublished)

	comment, err := svc.AddComment(ctx, reader.ID, post.ID, "mine", nil)
	require.NoError(t, err)

	err = svc.DeleteComment(ctx, other.ID, false, comment.ID)
	require.Error(t, err)
	assert.Equal(t, KindForbidden, AsAppError(err).Kind)

	// The forbidden attempt changed nothing.
	var untouched models.Comment
	require.NoError(t, db.First(&untouched, comment.ID).Error)
	assert.False(t, untouched.IsDeleted)
	assert.Equal(t, "mine", untouched.Body)

	// Admins may remove anything. The row survives as a soft delete even
	// with no replies, and deleting again is a no-op.
	require.NoError(t, svc.DeleteComment(ctx, other.ID, true, comment.ID))
	var deleted models.Comment
	require.NoError(t, db.First(&deleted, comment.ID).Error)
	assert.True(t, deleted.IsDeleted)
	assert.Equal(t, models.DeletedCommentBody, deleted.Body)
	assert.Equal(t, int64(0), commentCountOf(t, db, post.ID))

	require.NoError(t, svc.DeleteComment(ctx, other.ID, true, comment.ID))
	assert.Equal(t, int64(0), commentCountOf(t, db, post.ID))
}

func TestDeleteCommentKeepsAnchorForLiveReplies(t *testing.T) {
	db := newTestDB(t)
	svc := NewEngagementService(db, &recordingDispatcher{})
	ctx := context.Background()

	author := createUser(t, db, "author")
	reader := createUser(t, db, "reader")
	post := createPost(t, db, author.ID, models.PostStatusPublished)

	top, err := svc.AddComment(ctx, reader.ID, post.ID, "will be deleted", nil)
	require.NoError(t, err)
	_, err = svc.AddComment(ctx, author.ID, post.ID, "keep me", &top.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), commentCountOf(t, db, post.ID))

	require.NoError(t, svc.DeleteComment(ctx, reader.ID, false, top.ID))

	threads, err := svc.Comments(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.True(t, threads[0].IsDeleted)
	assert.Equal(t, models.DeletedCommentBody, threads[0].Body)
	assert.Zero(t, threads[0].AuthorID)
	require.Len(t, threads[0].Replies, 1)
	assert.Equal(t, "keep me", threads[0].Replies[0].Body)

	assert.Equal(t, int64(1), commentCountOf(t, db, post.ID))
}

func TestDeleteCommentDoubleDeleteDecrementsOnce(t *testing.T) {
	db := newTestDB(t)
	svc := NewEngagementService(db, &recordingDispatcher{})
	ctx := context.Background()

	author := createUser(t, db, "author")
	reader := createUser(t, db, "reader")
	post := createPost(t, db, author.ID, models.PostStatusPublished)

	top, err := svc.AddComment(ctx, reader.ID, post.ID, "anchor", nil)
	require.NoError(t, err)
	_, err = svc.AddComment(ctx, author.ID, post.ID, "reply", &top.ID)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteComment(ctx, reader.ID, false, top.ID))
	// Second delete of the soft-deleted anchor is a no-op.
	require.NoError(t, svc.DeleteComment(ctx, reader.ID, false, top.ID))
	assert.Equal(t, int64(1), commentCountOf(t, db, post.ID))
}

func TestDeletedAnchorHiddenOnceRepliesGone(t *testing.T) {
	db := newTestDB(t)
	svc := NewEngagementService(db, &recordingDispatcher{})
	ctx := context.Background()

	author := createUser(t, db, "author")
	reader := createUser(t, db, "reader")
	post := createPost(t, db, author.ID, models.PostStatusPublished)

	top, err := svc.AddComment(ctx, reader.ID, post.ID, "anchor", nil)
	require.NoError(t, err)
	reply, err := svc.AddComment(ctx, author.ID, post.ID, "reply", &top.ID)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteComment(ctx, reader.ID, false, top.ID))
	require.NoError(t, svc.DeleteComment(ctx, author.ID, false, reply.ID))

	// Nothing renders, but both rows survive as soft deletes.
	threads, err := svc.Comments(ctx, post.ID)
	require.NoError(t, err)
	assert.Empty(t, threads)
	assert.Equal(t, int64(0), commentCountOf(t, db, post.ID))

	var rows int64
	require.NoError(t, db.Model(&models.Comment{}).
		Where("post_id = ? AND is_deleted = ?", post.ID, true).Count(&rows).Error)
	assert.Equal(t, int64(2), rows)
	var anchor models.Comment
	require.NoError(t, db.First(&anchor, top.ID).Error)
	assert.Equal(t, models.DeletedCommentBody, anchor.Body)
}

func TestToggleLikeConcurrentDistinctActors(t *testing.T) {
	db := newTestDB(t)
	svc := NewEngagementService(db, &recordingDispatcher{})

	author := createUser(t, db, "author")
	post := createPost(t, db, author.ID, models.PostStatusPublished)

	const actors = 8
	ids := make([]uint, actors)
	for i := 0; i < actors; i++ {
		ids[i] = createUser(t, db, fmt.Sprintf("actor%d", i)).ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, actors)
	for _, id := range ids {
		wg.Add(1)
		go func(userID uint) {
			defer wg.Done()
			_, _, err := svc.ToggleLike(context.Background(), userID, post.ID)
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var rows int64
	require.NoError(t, db.Model(&models.Like{}).
		Where("post_id = ?", post.ID).Count(&rows).Error)
	assert.Equal(t, int64(actors), rows)
	assert.Equal(t, rows, likeCountOf(t, db, post.ID))
}

func TestNotificationReadAPI(t *testing.T) {
	db := newTestDB(t)
	dispatcher := NewNotificationDispatcher(db, nil)
	svc := NewEngagementService(db, dispatcher)
	ctx := context.Background()

	author := createUser(t, db, "author")
	post := createPost(t, db, author.ID, models.PostStatusPublished)
	for i := 0; i < 3; i++ {
		fan := createUser(t, db, fmt.Sprintf("fan%d", i))
		_, _, err := svc.ToggleLike(ctx, fan.ID, post.ID)
		require.NoError(t, err)
	}

	list, err := svc.Notifications(ctx, author.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	// Newest first.
	assert.False(t, list[0].CreatedAt.Before(list[2].CreatedAt))
	require.NotNil(t, list[0].Sender)
	require.NotNil(t, list[0].Post)
	assert.Equal(t, post.ID, list[0].Post.ID)

	unread, err := svc.UnreadCount(ctx, author.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), unread)

	require.NoError(t, svc.MarkRead(ctx, author.ID, list[0].ID))
	unread, err = svc.UnreadCount(ctx, author.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), unread)

	// Someone else's notification cannot be marked.
	stranger := createUser(t, db, "stranger")
	err = svc.MarkRead(ctx, stranger.ID, list[1].ID)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, AsAppError(err).Kind)

	require.NoError(t, svc.MarkAllRead(ctx, author.ID))
	unread, err = svc.UnreadCount(ctx, author.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), unread)
}
