package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/thinknote/thinknote/middleware"
	"github.com/thinknote/thinknote/models"
	"github.com/thinknote/thinknote/utils"
)

// AdminController exposes the moderation surface: platform stats, account
// suspension and account removal.
type AdminController struct {
	DB *gorm.DB
}

func NewAdminController(db *gorm.DB) *AdminController {
	return &AdminController{DB: db}
}

// Dashboard returns platform-wide totals.
func (a *AdminController) Dashboard(ctx *gin.Context) {
	db := a.DB.WithContext(ctx.Request.Context())
	var users, posts, comments, likes, follows int64
	db.Model(&models.User{}).Count(&users)
	db.Model(&models.Post{}).Where("status = ?", models.PostStatusPublished).Count(&posts)
	db.Model(&models.Comment{}).Where("is_deleted = ?", false).Count(&comments)
	db.Model(&models.Like{}).Count(&likes)
	db.Model(&models.Follow{}).Count(&follows)

	var recent []models.User
	db.Select("id", "username", "display_name", "avatar_url", "is_verified", "is_suspended", "created_at").
		Order("created_at DESC").Limit(10).Find(&recent)

	utils.Success(ctx, gin.H{
		"user_count":    users,
		"post_count":    posts,
		"comment_count": comments,
		"like_count":    likes,
		"follow_count":  follows,
		"recent_users":  recent,
	})
}

// Users lists accounts, newest first.
func (a *AdminController) Users(ctx *gin.Context) {
	page := pageParam(ctx)
	var users []models.User
	var total int64
	q := a.DB.WithContext(ctx.Request.Context()).Model(&models.User{})
	q.Count(&total)
	err := q.Select("id", "username", "email", "display_name", "role",
		"is_verified", "is_suspended", "created_at").
		Order("created_at DESC").
		Offset((page - 1) * postPageSize).Limit(postPageSize).
		Find(&users).Error
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not load users")
		return
	}
	utils.Success(ctx, gin.H{"users": users, "total": total, "page": page})
}

// Posts lists every post for moderation, drafts included.
func (a *AdminController) Posts(ctx *gin.Context) {
	page := pageParam(ctx)
	var posts []models.Post
	var total int64
	q := a.DB.WithContext(ctx.Request.Context()).Model(&models.Post{})
	q.Count(&total)
	err := q.Preload("Author", func(db *gorm.DB) *gorm.DB {
		return db.Select("id", "username", "display_name")
	}).
		Order("created_at DESC").
		Offset((page - 1) * postPageSize).Limit(postPageSize).
		Find(&posts).Error
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not load posts")
		return
	}
	items := make([]gin.H, 0, len(posts))
	for i := range posts {
		view := postView(&posts[i])
		delete(view, "body")
		view["author"] = publicUser(&posts[i].Author)
		items = append(items, view)
	}
	utils.Success(ctx, gin.H{"posts": items, "total": total, "page": page})
}

func (a *AdminController) loadTarget(ctx *gin.Context) (*models.User, bool) {
	username := ctx.Param("username")
	var user models.User
	err := a.DB.WithContext(ctx.Request.Context()).
		Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Error(ctx, http.StatusNotFound, "user not found")
		return nil, false
	}
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not load user")
		return nil, false
	}
	if user.IsAdmin() {
		utils.Error(ctx, http.StatusForbidden, "admin accounts cannot be moderated")
		return nil, false
	}
	return &user, true
}

// Suspend blocks an account from signing in. Their content stays.
func (a *AdminController) Suspend(ctx *gin.Context) {
	a.setSuspended(ctx, true)
}

// Unsuspend lifts a suspension.
func (a *AdminController) Unsuspend(ctx *gin.Context) {
	a.setSuspended(ctx, false)
}

func (a *AdminController) setSuspended(ctx *gin.Context, suspended bool) {
	user, ok := a.loadTarget(ctx)
	if !ok {
		return
	}
	err := a.DB.WithContext(ctx.Request.Context()).Model(user).
		Update("is_suspended", suspended).Error
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not update user")
		return
	}
	utils.Logger.Info("account suspension changed",
		zap.Uint("admin_id", middleware.CurrentUserID(ctx)),
		zap.String("username", user.Username),
		zap.Bool("suspended", suspended))
	utils.Success(ctx, gin.H{"username": user.Username, "is_suspended": suspended})
}

// DeleteUser removes an account and everything it produced. The cascade is
// ordered so counters on surviving posts stay consistent: engagement rows
// go first with their counter decrements, then the user's own content.
func (a *AdminController) DeleteUser(ctx *gin.Context) {
	user, ok := a.loadTarget(ctx)
	if !ok {
		return
	}
	err := a.DB.WithContext(ctx.Request.Context()).Transaction(func(tx *gorm.DB) error {
		// Likes on other people's posts decrement those counters.
		var likes []models.Like
		if err := tx.Where("user_id = ?", user.ID).Find(&likes).Error; err != nil {
			return err
		}
		for _, like := range likes {
			if err := tx.Model(&models.Post{}).Where("id = ?", like.PostID).
				UpdateColumn("like_count", gorm.Expr("GREATEST(like_count - 1, 0)")).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.Like{}).Error; err != nil {
			return err
		}

		// Live comments on other people's posts decrement those counters.
		var comments []models.Comment
		if err := tx.Where("author_id = ? AND is_deleted = ?", user.ID, false).
			Find(&comments).Error; err != nil {
			return err
		}
		for _, c := range comments {
			if err := tx.Model(&models.Post{}).Where("id = ?", c.PostID).
				UpdateColumn("comment_count", gorm.Expr("GREATEST(comment_count - 1, 0)")).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("author_id = ?", user.ID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}

		if err := tx.Where("user_id = ?", user.ID).Delete(&models.Bookmark{}).Error; err != nil {
			return err
		}
		if err := tx.Where("follower_id = ? OR followee_id = ?", user.ID, user.ID).
			Delete(&models.Follow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("recipient_id = ? OR sender_id = ?", user.ID, user.ID).
			Delete(&models.Notification{}).Error; err != nil {
			return err
		}

		// The user's own posts take their engagement rows with them.
		var postIDs []uint
		if err := tx.Model(&models.Post{}).Where("author_id = ?", user.ID).
			Pluck("id", &postIDs).Error; err != nil {
			return err
		}
		if len(postIDs) > 0 {
			if err := tx.Where("post_id IN ?", postIDs).Delete(&models.Like{}).Error; err != nil {
				return err
			}
			if err := tx.Where("post_id IN ?", postIDs).Delete(&models.Bookmark{}).Error; err != nil {
				return err
			}
			if err := tx.Where("post_id IN ?", postIDs).Delete(&models.Comment{}).Error; err != nil {
				return err
			}
			if err := tx.Where("post_id IN ?", postIDs).Delete(&models.Notification{}).Error; err != nil {
				return err
			}
			if err := tx.Where("author_id = ?", user.ID).Delete(&models.Post{}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.User{}, user.ID).Error
	})
	if err != nil {
		utils.Logger.Error("delete user failed", zap.String("username", user.Username), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, "could not delete user")
		return
	}
	utils.InvalidateByPrefix(feedCachePrefix)
	utils.Logger.Info("account deleted",
		zap.Uint("admin_id", middleware.CurrentUserID(ctx)),
		zap.String("username", user.Username))
	utils.Success(ctx, gin.H{"message": "user deleted"})
}
