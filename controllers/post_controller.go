package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/thinknote/thinknote/middleware"
	"github.com/thinknote/thinknote/models"
	"github.com/thinknote/thinknote/services"
	"github.com/thinknote/thinknote/utils"
)

const postPageSize = 10

var validFormats = map[string]bool{
	models.FormatMarkdown: true,
	models.FormatRichtext: true,
	models.FormatLatex:    true,
}

// PostController handles post CRUD, the reader view and bookmark listings.
type PostController struct {
	DB         *gorm.DB
	Engagement *services.EngagementService
}

func NewPostController(db *gorm.DB, engagement *services.EngagementService) *PostController {
	return &PostController{DB: db, Engagement: engagement}
}

type postRequest struct {
	Title      string   `json:"title" binding:"required,max=150"`
	Body       string   `json:"body" binding:"required"`
	Format     string   `json:"format"`
	Tags       []string `json:"tags"`
	CoverImage string   `json:"cover_image"`
	Status     string   `json:"status"`
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] || len([]rune(t)) > 30 {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == 5 {
			break
		}
	}
	return out
}

// Create makes a new post owned by the caller. The slug is derived from the
// title once and never changes afterwards.
func (p *PostController) Create(ctx *gin.Context) {
	var req postRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, "title (max 150 chars) and body are required")
		return
	}
	if req.Format == "" {
		req.Format = models.FormatMarkdown
	}
	if !validFormats[req.Format] {
		utils.Error(ctx, http.StatusBadRequest, "format must be markdown, richtext or latex")
		return
	}
	if req.Status == "" {
		req.Status = models.PostStatusDraft
	}
	if req.Status != models.PostStatusDraft && req.Status != models.PostStatusPublished {
		utils.Error(ctx, http.StatusBadRequest, "status must be draft or published")
		return
	}
	body := req.Body
	if req.Format == models.FormatRichtext {
		body = utils.Sanitize(body)
	}

	post := models.Post{
		AuthorID:   middleware.CurrentUserID(ctx),
		Title:      strings.TrimSpace(req.Title),
		Slug:       utils.Slugify(req.Title),
		Body:       body,
		Format:     req.Format,
		Status:     req.Status,
		CoverImage: strings.TrimSpace(req.CoverImage),
	}
	post.SetTags(normalizeTags(req.Tags))

	if err := p.DB.WithContext(ctx.Request.Context()).Create(&post).Error; err != nil {
		utils.Logger.Error("create post failed", zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, "could not create post")
		return
	}
	if post.Status == models.PostStatusPublished {
		utils.InvalidateByPrefix(feedCachePrefix)
	}
	utils.Success(ctx, gin.H{"post": postView(&post)})
}

// Get renders a post by slug. Drafts are visible only to their author and
// admins. For published posts the view counter bumps on a detached
// goroutine; authors reading their own work do not count.
func (p *PostController) Get(ctx *gin.Context) {
	slug := ctx.Param("slug")
	viewerID := middleware.CurrentUserID(ctx)

	var post models.Post
	err := p.DB.WithContext(ctx.Request.Context()).
		Preload("Author", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "username", "display_name", "avatar_url", "bio")
		}).
		Where("slug = ?", slug).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Error(ctx, http.StatusNotFound, "post not found")
		return
	}
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not load post")
		return
	}
	if post.Status != models.PostStatusPublished &&
		post.AuthorID != viewerID && ctx.GetString(middleware.CtxRole) != models.RoleAdmin {
		utils.Error(ctx, http.StatusNotFound, "post not found")
		return
	}

	if post.Status == models.PostStatusPublished && viewerID != post.AuthorID {
		postID := post.ID
		go func() {
			viewCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.Engagement.IncrementView(viewCtx, postID); err != nil {
				utils.Logger.Warn("view increment failed", zap.Uint("post_id", postID), zap.Error(err))
			}
		}()
	}

	view := postView(&post)
	view["author"] = publicUser(&post.Author)
	if viewerID != 0 {
		view["viewer_liked"] = p.rowExists(ctx, &models.Like{}, "user_id = ? AND post_id = ?", viewerID, post.ID)
		view["viewer_bookmarked"] = p.rowExists(ctx, &models.Bookmark{}, "user_id = ? AND post_id = ?", viewerID, post.ID)
		view["viewer_following_author"] = p.rowExists(ctx, &models.Follow{}, "follower_id = ? AND followee_id = ?", viewerID, post.AuthorID)
	}
	utils.Success(ctx, gin.H{"post": view})
}

func (p *PostController) rowExists(ctx *gin.Context, model interface{}, query string, args ...interface{}) bool {
	var count int64
	p.DB.WithContext(ctx.Request.Context()).Model(model).Where(query, args...).Count(&count)
	return count > 0
}

type postUpdateRequest struct {
	Title      *string   `json:"title"`
	Body       *string   `json:"body"`
	Tags       *[]string `json:"tags"`
	CoverImage *string   `json:"cover_image"`
	Status     *string   `json:"status"`
}

// Update edits a post. Only the author may edit; publishing is one-way and
// the slug never changes.
func (p *PostController) Update(ctx *gin.Context) {
	var req postUpdateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, "invalid post payload")
		return
	}
	post, ok := p.loadOwnedPost(ctx, false)
	if !ok {
		return
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" || len([]rune(title)) > 150 {
			utils.Error(ctx, http.StatusBadRequest, "title must be 1-150 characters")
			return
		}
		post.Title = title
	}
	if req.Body != nil {
		if strings.TrimSpace(*req.Body) == "" {
			utils.Error(ctx, http.StatusBadRequest, "body cannot be empty")
			return
		}
		body := *req.Body
		if post.Format == models.FormatRichtext {
			body = utils.Sanitize(body)
		}
		post.Body = body
	}
	if req.Tags != nil {
		post.SetTags(normalizeTags(*req.Tags))
	}
	if req.CoverImage != nil {
		post.CoverImage = strings.TrimSpace(*req.CoverImage)
	}
	if req.Status != nil {
		switch {
		case *req.Status == post.Status:
		case *req.Status == models.PostStatusPublished && post.Status == models.PostStatusDraft:
			post.Status = models.PostStatusPublished
		case *req.Status == models.PostStatusDraft && post.Status == models.PostStatusPublished:
			utils.Error(ctx, http.StatusUnprocessableEntity, "published posts cannot return to draft")
			return
		default:
			utils.Error(ctx, http.StatusBadRequest, "status must be draft or published")
			return
		}
	}

	if err := p.DB.WithContext(ctx.Request.Context()).Save(post).Error; err != nil {
		utils.Logger.Error("update post failed", zap.Uint("post_id", post.ID), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, "could not update post")
		return
	}
	if post.Status == models.PostStatusPublished {
		utils.InvalidateByPrefix(feedCachePrefix)
	}
	utils.Success(ctx, gin.H{"post": postView(post)})
}

// Delete removes a post and everything hanging off it. The cascade runs in
// one transaction so counters and relations cannot be left half-cleaned.
func (p *PostController) Delete(ctx *gin.Context) {
	post, ok := p.loadOwnedPost(ctx, true)
	if !ok {
		return
	}
	err := p.DB.WithContext(ctx.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.Like{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.Bookmark{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.Notification{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Post{}, post.ID).Error
	})
	if err != nil {
		utils.Logger.Error("delete post failed", zap.Uint("post_id", post.ID), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, "could not delete post")
		return
	}
	utils.InvalidateByPrefix(feedCachePrefix)
	utils.Success(ctx, gin.H{"message": "post deleted"})
}

// loadOwnedPost loads the post in the slug param and authorizes the caller
// as its author (or, when adminOverride is set, an admin).
func (p *PostController) loadOwnedPost(ctx *gin.Context, adminOverride bool) (*models.Post, bool) {
	slug := ctx.Param("slug")
	var post models.Post
	err := p.DB.WithContext(ctx.Request.Context()).Where("slug = ?", slug).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Error(ctx, http.StatusNotFound, "post not found")
		return nil, false
	}
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not load post")
		return nil, false
	}
	isAdmin := adminOverride && ctx.GetString(middleware.CtxRole) == models.RoleAdmin
	if post.AuthorID != middleware.CurrentUserID(ctx) && !isAdmin {
		utils.Error(ctx, http.StatusForbidden, "you do not own this post")
		return nil, false
	}
	return &post, true
}

// Mine lists the caller's own posts, drafts included, newest first.
func (p *PostController) Mine(ctx *gin.Context) {
	userID := middleware.CurrentUserID(ctx)
	page := pageParam(ctx)

	var posts []models.Post
	var total int64
	q := p.DB.WithContext(ctx.Request.Context()).Model(&models.Post{}).Where("author_id = ?", userID)
	q.Count(&total)
	err := q.Order("created_at DESC").
		Offset((page - 1) * postPageSize).Limit(postPageSize).
		Find(&posts).Error
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not load posts")
		return
	}
	utils.Success(ctx, gin.H{"posts": postViews(posts), "total": total, "page": page})
}

// Bookmarks lists the caller's bookmarked posts, newest bookmark first.
func (p *PostController) Bookmarks(ctx *gin.Context) {
	userID := middleware.CurrentUserID(ctx)
	page := pageParam(ctx)

	var bookmarks []models.Bookmark
	var total int64
	q := p.DB.WithContext(ctx.Request.Context()).Model(&models.Bookmark{}).Where("user_id = ?", userID)
	q.Count(&total)
	err := q.Preload("Post").Preload("Post.Author", func(db *gorm.DB) *gorm.DB {
		return db.Select("id", "username", "display_name", "avatar_url")
	}).
		Order("created_at DESC").
		Offset((page - 1) * postPageSize).Limit(postPageSize).
		Find(&bookmarks).Error
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not load bookmarks")
		return
	}
	items := make([]gin.H, 0, len(bookmarks))
	for i := range bookmarks {
		view := postView(&bookmarks[i].Post)
		view["author"] = publicUser(&bookmarks[i].Post.Author)
		view["bookmarked_at"] = bookmarks[i].CreatedAt
		items = append(items, view)
	}
	utils.Success(ctx, gin.H{"posts": items, "total": total, "page": page})
}

func pageParam(ctx *gin.Context) int {
	page, err := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// postView projects a post for responses, decoding the stored tag JSON.
func postView(post *models.Post) gin.H {
	return gin.H{
		"id":            post.ID,
		"author_id":     post.AuthorID,
		"title":         post.Title,
		"slug":          post.Slug,
		"body":          post.Body,
		"excerpt":       post.Excerpt,
		"cover_image":   post.CoverImage,
		"tags":          post.TagList(),
		"status":        post.Status,
		"format":        post.Format,
		"like_count":    post.LikeCount,
		"comment_count": post.CommentCount,
		"view_count":    post.ViewCount,
		"published_at":  post.PublishedAt,
		"created_at":    post.CreatedAt,
		"updated_at":    post.UpdatedAt,
	}
}

func postViews(posts []models.Post) []gin.H {
	out := make([]gin.H, 0, len(posts))
	for i := range posts {
		out = append(out, postView(&posts[i]))
	}
	return out
}
