package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/thinknote/thinknote/middleware"
	"github.com/thinknote/thinknote/models"
	"github.com/thinknote/thinknote/utils"
)

// UserController serves public profiles and the two sides of the follow
// graph. Follower and following counts are COUNT queries over the follows
// table, never stored on the user row.
type UserController struct {
	DB *gorm.DB
}

func NewUserController(db *gorm.DB) *UserController {
	return &UserController{DB: db}
}

func (u *UserController) loadByUsername(ctx *gin.Context) (*models.User, bool) {
	username := ctx.Param("username")
	var user models.User
	err := u.DB.WithContext(ctx.Request.Context()).
		Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Error(ctx, http.StatusNotFound, "user not found")
		return nil, false
	}
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not load user")
		return nil, false
	}
	return &user, true
}

// Profile returns a public profile with its published posts and graph
// counts. Suspended profiles are hidden from everyone but admins.
func (u *UserController) Profile(ctx *gin.Context) {
	user, ok := u.loadByUsername(ctx)
	if !ok {
		return
	}
	viewerID := middleware.CurrentUserID(ctx)
	if user.IsSuspended && ctx.GetString(middleware.CtxRole) != models.RoleAdmin {
		utils.Error(ctx, http.StatusNotFound, "user not found")
		return
	}

	page := pageParam(ctx)
	var posts []models.Post
	var postTotal int64
	q := u.DB.WithContext(ctx.Request.Context()).Model(&models.Post{}).
		Where("author_id = ? AND status = ?", user.ID, models.PostStatusPublished)
	q.Count(&postTotal)
	if err := q.Order("published_at DESC").
		Offset((page - 1) * postPageSize).Limit(postPageSize).
		Find(&posts).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not load posts")
		return
	}

	var followers, following int64
	u.DB.Model(&models.Follow{}).Where("followee_id = ?", user.ID).Count(&followers)
	u.DB.Model(&models.Follow{}).Where("follower_id = ?", user.ID).Count(&following)

	profile := publicUser(user)
	profile["website"] = user.Website
	profile["twitter"] = user.Twitter
	profile["github"] = user.GitHub
	profile["created_at"] = user.CreatedAt

	out := gin.H{
		"user":            profile,
		"posts":           postViews(posts),
		"post_total":      postTotal,
		"page":            page,
		"follower_count":  followers,
		"following_count": following,
	}
	if viewerID != 0 && viewerID != user.ID {
		var count int64
		u.DB.Model(&models.Follow{}).
			Where("follower_id = ? AND followee_id = ?", viewerID, user.ID).Count(&count)
		out["viewer_following"] = count > 0
	}
	utils.Success(ctx, out)
}

// Followers lists who follows the user, newest edge first.
func (u *UserController) Followers(ctx *gin.Context) {
	user, ok := u.loadByUsername(ctx)
	if !ok {
		return
	}
	u.listEdge(ctx, "followee_id = ?", user.ID, "Follower")
}

// Following lists who the user follows, newest edge first.
func (u *UserController) Following(ctx *gin.Context) {
	user, ok := u.loadByUsername(ctx)
	if !ok {
		return
	}
	u.listEdge(ctx, "follower_id = ?", user.ID, "Followee")
}

func (u *UserController) listEdge(ctx *gin.Context, where string, id uint, side string) {
	page := pageParam(ctx)
	var edges []models.Follow
	var total int64
	q := u.DB.WithContext(ctx.Request.Context()).Model(&models.Follow{}).Where(where, id)
	q.Count(&total)
	err := q.Preload(side, func(db *gorm.DB) *gorm.DB {
		return db.Select("id", "username", "display_name", "avatar_url", "bio", "role")
	}).
		Order("created_at DESC").
		Offset((page - 1) * postPageSize).Limit(postPageSize).
		Find(&edges).Error
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not load follow list")
		return
	}
	users := make([]gin.H, 0, len(edges))
	for i := range edges {
		if side == "Follower" {
			users = append(users, publicUser(&edges[i].Follower))
		} else {
			users = append(users, publicUser(&edges[i].Followee))
		}
	}
	utils.Success(ctx, gin.H{"users": users, "total": total, "page": page})
}
