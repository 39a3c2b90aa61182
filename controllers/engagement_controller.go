package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/thinknote/thinknote/middleware"
	"github.com/thinknote/thinknote/models"
	"github.com/thinknote/thinknote/services"
	"github.com/thinknote/thinknote/utils"
)

// EngagementController exposes likes, bookmarks, follows, comments and the
// notification inbox. All state changes go through the engagement service;
// responses carry the resulting state and the authoritative counter so
// clients can reconcile optimistic UI.
type EngagementController struct {
	DB         *gorm.DB
	Engagement *services.EngagementService
}

func NewEngagementController(db *gorm.DB, engagement *services.EngagementService) *EngagementController {
	return &EngagementController{DB: db, Engagement: engagement}
}

func (e *EngagementController) resolvePostID(ctx *gin.Context) (uint, bool) {
	slug := ctx.Param("slug")
	var post models.Post
	err := e.DB.WithContext(ctx.Request.Context()).
		Select("id").Where("slug = ?", slug).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Error(ctx, http.StatusNotFound, "post not found")
		return 0, false
	}
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not load post")
		return 0, false
	}
	return post.ID, true
}

// ToggleLike flips the caller's like on the post in the slug param.
func (e *EngagementController) ToggleLike(ctx *gin.Context) {
	postID, ok := e.resolvePostID(ctx)
	if !ok {
		return
	}
	liked, count, err := e.Engagement.ToggleLike(ctx.Request.Context(), middleware.CurrentUserID(ctx), postID)
	if err != nil {
		writeAppError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"liked": liked, "like_count": count})
}

// ToggleBookmark flips the caller's bookmark on the post in the slug param.
func (e *EngagementController) ToggleBookmark(ctx *gin.Context) {
	postID, ok := e.resolvePostID(ctx)
	if !ok {
		return
	}
	bookmarked, err := e.Engagement.ToggleBookmark(ctx.Request.Context(), middleware.CurrentUserID(ctx), postID)
	if err != nil {
		writeAppError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"bookmarked": bookmarked})
}

// ToggleFollow flips the caller's follow on the user in the username param.
func (e *EngagementController) ToggleFollow(ctx *gin.Context) {
	username := ctx.Param("username")
	var target models.User
	err := e.DB.WithContext(ctx.Request.Context()).
		Select("id").Where("username = ?", username).First(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Error(ctx, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not load user")
		return
	}
	following, count, err := e.Engagement.ToggleFollow(ctx.Request.Context(), middleware.CurrentUserID(ctx), target.ID)
	if err != nil {
		writeAppError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"following": following, "follower_count": count})
}

// Comments returns the post's comment tree.
func (e *EngagementController) Comments(ctx *gin.Context) {
	postID, ok := e.resolvePostID(ctx)
	if !ok {
		return
	}
	threads, err := e.Engagement.Comments(ctx.Request.Context(), postID)
	if err != nil {
		writeAppError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"comments": threads})
}

type addCommentRequest struct {
	Body     string `json:"body" binding:"required"`
	ParentID *uint  `json:"parent_id"`
}

// AddComment appends a comment, optionally as a reply.
func (e *EngagementController) AddComment(ctx *gin.Context) {
	var req addCommentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, "comment body is required")
		return
	}
	postID, ok := e.resolvePostID(ctx)
	if !ok {
		return
	}
	comment, err := e.Engagement.AddComment(ctx.Request.Context(), middleware.CurrentUserID(ctx), postID, req.Body, req.ParentID)
	if err != nil {
		writeAppError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"comment": comment})
}

// DeleteComment removes the caller's comment (admins may remove any).
func (e *EngagementController) DeleteComment(ctx *gin.Context) {
	commentID, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, "invalid comment id")
		return
	}
	isAdmin := ctx.GetString(middleware.CtxRole) == models.RoleAdmin
	if err := e.Engagement.DeleteComment(ctx.Request.Context(), middleware.CurrentUserID(ctx), isAdmin, uint(commentID)); err != nil {
		writeAppError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"message": "comment deleted"})
}

// Notifications returns the caller's newest notifications and unread count.
func (e *EngagementController) Notifications(ctx *gin.Context) {
	userID := middleware.CurrentUserID(ctx)
	list, err := e.Engagement.Notifications(ctx.Request.Context(), userID)
	if err != nil {
		writeAppError(ctx, err)
		return
	}
	unread, err := e.Engagement.UnreadCount(ctx.Request.Context(), userID)
	if err != nil {
		writeAppError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"notifications": list, "unread_count": unread})
}

// MarkNotificationRead marks one notification as read.
func (e *EngagementController) MarkNotificationRead(ctx *gin.Context) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, "invalid notification id")
		return
	}
	if err := e.Engagement.MarkRead(ctx.Request.Context(), middleware.CurrentUserID(ctx), uint(id)); err != nil {
		writeAppError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"message": "notification read"})
}

// MarkAllNotificationsRead marks every unread notification as read.
func (e *EngagementController) MarkAllNotificationsRead(ctx *gin.Context) {
	if err := e.Engagement.MarkAllRead(ctx.Request.Context(), middleware.CurrentUserID(ctx)); err != nil {
		writeAppError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"message": "all notifications read"})
}
