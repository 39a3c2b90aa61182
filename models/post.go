package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/thinknote/thinknote/utils"
)

// Post lifecycle states. The draft -> published transition is one-way.
const (
	PostStatusDraft     = "draft"
	PostStatusPublished = "published"
)

// Post body formats.
const (
	FormatMarkdown = "markdown"
	FormatRichtext = "richtext"
	FormatLatex    = "latex"
)

// Post represents a blog post owned by exactly one author. The like/comment/
// view counters are denormalized; every delta happens as a single atomic
// UPDATE in the same transaction as the engagement record it mirrors.
type Post struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	AuthorID   uint   `gorm:"index;not null" json:"author_id"`
	Title      string `gorm:"size:150;not null" json:"title"`
	Slug       string `gorm:"size:80;uniqueIndex;not null" json:"slug"`
	Body       string `gorm:"type:text;not null" json:"body"`
	Excerpt    string `gorm:"size:300" json:"excerpt"`
	CoverImage string `gorm:"size:512" json:"cover_image"`
	Tags       string `gorm:"type:text" json:"tags"` // JSON array of lowercase tags
	Status     string `gorm:"size:16;default:'draft';index:idx_posts_status_published" json:"status"`
	Format     string `gorm:"size:16;default:'markdown'" json:"format"`

	LikeCount    int64 `gorm:"not null;default:0" json:"like_count"`
	CommentCount int64 `gorm:"not null;default:0" json:"comment_count"`
	ViewCount    int64 `gorm:"not null;default:0" json:"view_count"`

	PublishedAt *time.Time `gorm:"index:idx_posts_status_published" json:"published_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Author User `gorm:"foreignKey:AuthorID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"author"`
}

// BeforeSave derives the plain-text excerpt and stamps PublishedAt exactly
// once on the first transition to published.
func (p *Post) BeforeSave(tx *gorm.DB) error {
	if p.Body != "" {
		p.Excerpt = utils.Excerpt(p.Body, p.Format, 300)
	}
	if p.Status == PostStatusPublished && p.PublishedAt == nil {
		now := time.Now()
		p.PublishedAt = &now
	}
	return nil
}

// SetTags stores at most five lowercase tags as a JSON array.
func (p *Post) SetTags(tags []string) {
	if len(tags) > 5 {
		tags = tags[:5]
	}
	if len(tags) == 0 {
		p.Tags = ""
		return
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return
	}
	p.Tags = string(b)
}

// TagList decodes the stored tag JSON. Returns nil for untagged posts.
func (p *Post) TagList() []string {
	if p.Tags == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(p.Tags), &tags); err != nil {
		return nil
	}
	return tags
}
