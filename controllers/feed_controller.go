package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/thinknote/thinknote/middleware"
	"github.com/thinknote/thinknote/models"
	"github.com/thinknote/thinknote/utils"
)

const (
	feedCacheTTL    = time.Minute
	feedCachePrefix = "cache:feed:"
)

// FeedController serves the reading surfaces: the global feed, the
// following feed, tag exploration and search. The anonymous global feed is
// the hottest path, so its pages sit in Redis for a minute.
type FeedController struct {
	DB *gorm.DB
}

func NewFeedController(db *gorm.DB) *FeedController {
	return &FeedController{DB: db}
}

type feedPage struct {
	Posts []gin.H `json:"posts"`
	Total int64   `json:"total"`
	Page  int     `json:"page"`
}

func (f *FeedController) publishedScope(ctx *gin.Context) *gorm.DB {
	return f.DB.WithContext(ctx.Request.Context()).Model(&models.Post{}).
		Where("status = ?", models.PostStatusPublished)
}

func (f *FeedController) respondPage(ctx *gin.Context, q *gorm.DB, page int) (*feedPage, bool) {
	var total int64
	if err := q.Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not load feed")
		return nil, false
	}
	var posts []models.Post
	err := q.Preload("Author", func(db *gorm.DB) *gorm.DB {
		return db.Select("id", "username", "display_name", "avatar_url")
	}).
		Order("published_at DESC").
		Offset((page - 1) * postPageSize).Limit(postPageSize).
		Find(&posts).Error
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not load feed")
		return nil, false
	}

	items := make([]gin.H, 0, len(posts))
	for i := range posts {
		view := postView(&posts[i])
		delete(view, "body")
		view["author"] = publicUser(&posts[i].Author)
		items = append(items, view)
	}
	return &feedPage{Posts: items, Total: total, Page: page}, true
}

// Global lists all published posts, newest first. Anonymous pages are
// cached; a minute of staleness on counters is acceptable here.
func (f *FeedController) Global(ctx *gin.Context) {
	page := pageParam(ctx)

	cacheKey := fmt.Sprintf("%sglobal:p%d", feedCachePrefix, page)
	if middleware.CurrentUserID(ctx) == 0 {
		if b, ok := utils.CacheGetBytes(cacheKey); ok {
			var cached feedPage
			if json.Unmarshal(b, &cached) == nil {
				utils.Success(ctx, gin.H{"posts": cached.Posts, "total": cached.Total, "page": cached.Page})
				return
			}
		}
	}

	result, ok := f.respondPage(ctx, f.publishedScope(ctx), page)
	if !ok {
		return
	}
	if middleware.CurrentUserID(ctx) == 0 {
		utils.CacheSetJSON(cacheKey, result, feedCacheTTL)
	}
	utils.Success(ctx, gin.H{"posts": result.Posts, "total": result.Total, "page": result.Page})
}

// Following lists published posts by authors the caller follows.
func (f *FeedController) Following(ctx *gin.Context) {
	userID := middleware.CurrentUserID(ctx)
	page := pageParam(ctx)

	q := f.publishedScope(ctx).
		Where("author_id IN (?)",
			f.DB.Model(&models.Follow{}).Select("followee_id").Where("follower_id = ?", userID))
	result, ok := f.respondPage(ctx, q, page)
	if !ok {
		return
	}
	utils.Success(ctx, gin.H{"posts": result.Posts, "total": result.Total, "page": result.Page})
}

// Tag lists published posts carrying the given tag.
func (f *FeedController) Tag(ctx *gin.Context) {
	tag := strings.ToLower(strings.TrimSpace(ctx.Param("tag")))
	if tag == "" {
		utils.Error(ctx, http.StatusBadRequest, "tag is required")
		return
	}
	page := pageParam(ctx)

	// Tags are stored as a JSON array of quoted strings, so a quoted LIKE
	// match is exact on tag boundaries.
	q := f.publishedScope(ctx).Where("tags LIKE ?", "%\""+tag+"\"%")
	result, ok := f.respondPage(ctx, q, page)
	if !ok {
		return
	}
	utils.Success(ctx, gin.H{"posts": result.Posts, "total": result.Total, "page": result.Page, "tag": tag})
}

// Trending lists the most liked posts published in the trailing seven days.
func (f *FeedController) Trending(ctx *gin.Context) {
	cacheKey := feedCachePrefix + "trending"
	if b, ok := utils.CacheGetBytes(cacheKey); ok {
		var cached []gin.H
		if json.Unmarshal(b, &cached) == nil {
			utils.Success(ctx, gin.H{"posts": cached})
			return
		}
	}

	since := time.Now().AddDate(0, 0, -7)
	var posts []models.Post
	err := f.DB.WithContext(ctx.Request.Context()).
		Where("status = ? AND published_at >= ?", models.PostStatusPublished, since).
		Preload("Author", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "username", "display_name", "avatar_url")
		}).
		Order("like_count DESC, view_count DESC").
		Limit(postPageSize).
		Find(&posts).Error
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not load trending posts")
		return
	}
	items := make([]gin.H, 0, len(posts))
	for i := range posts {
		view := postView(&posts[i])
		delete(view, "body")
		view["author"] = publicUser(&posts[i].Author)
		items = append(items, view)
	}
	utils.CacheSetJSON(cacheKey, items, 5*time.Minute)
	utils.Success(ctx, gin.H{"posts": items})
}

// Tags aggregates tag usage across published posts, most used first.
func (f *FeedController) Tags(ctx *gin.Context) {
	cacheKey := feedCachePrefix + "tags"
	if b, ok := utils.CacheGetBytes(cacheKey); ok {
		var cached []gin.H
		if json.Unmarshal(b, &cached) == nil {
			utils.Success(ctx, gin.H{"tags": cached})
			return
		}
	}

	var rows []string
	err := f.DB.WithContext(ctx.Request.Context()).Model(&models.Post{}).
		Where("status = ? AND tags <> ''", models.PostStatusPublished).
		Pluck("tags", &rows).Error
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not load tags")
		return
	}
	counts := map[string]int{}
	for _, raw := range rows {
		var tags []string
		if json.Unmarshal([]byte(raw), &tags) != nil {
			continue
		}
		for _, tag := range tags {
			counts[tag]++
		}
	}
	type tagCount struct {
		Tag   string
		Count int
	}
	ordered := make([]tagCount, 0, len(counts))
	for tag, count := range counts {
		ordered = append(ordered, tagCount{Tag: tag, Count: count})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Count != ordered[j].Count {
			return ordered[i].Count > ordered[j].Count
		}
		return ordered[i].Tag < ordered[j].Tag
	})
	if len(ordered) > 30 {
		ordered = ordered[:30]
	}
	items := make([]gin.H, 0, len(ordered))
	for _, tc := range ordered {
		items = append(items, gin.H{"tag": tc.Tag, "count": tc.Count})
	}
	utils.CacheSetJSON(cacheKey, items, 5*time.Minute)
	utils.Success(ctx, gin.H{"tags": items})
}

// Search matches published posts by title or body substring.
func (f *FeedController) Search(ctx *gin.Context) {
	query := strings.TrimSpace(ctx.Query("q"))
	if query == "" {
		utils.Error(ctx, http.StatusBadRequest, "q is required")
		return
	}
	if len([]rune(query)) > 100 {
		utils.Error(ctx, http.StatusBadRequest, "q must be at most 100 characters")
		return
	}
	page := pageParam(ctx)

	like := "%" + query + "%"
	q := f.publishedScope(ctx).Where("title LIKE ? OR body LIKE ?", like, like)
	result, ok := f.respondPage(ctx, q, page)
	if !ok {
		return
	}

	var users []models.User
	if err := f.DB.WithContext(ctx.Request.Context()).
		Select("id", "username", "display_name", "avatar_url", "bio", "role").
		Where("is_suspended = ? AND (username LIKE ? OR display_name LIKE ?)", false, like, like).
		Limit(postPageSize).
		Find(&users).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, "could not search users")
		return
	}
	userItems := make([]gin.H, 0, len(users))
	for i := range users {
		userItems = append(userItems, publicUser(&users[i]))
	}
	utils.Success(ctx, gin.H{
		"posts": result.Posts, "total": result.Total, "page": result.Page,
		"users": userItems, "query": query,
	})
}
