package clanalytics

import (
	"html/template"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	CommentPending  = "pending"
	CommentApproved = "approved"
)

// Page est créée à la première vue d'un slug inconnu, jamais supprimée
type Page struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Slug      string    `gorm:"uniqueIndex;size:512;not null" json:"slug"`
	Title     string    `json:"title"`
	Type      string    `gorm:"size:32;index" json:"type"`
	ViewCount int64     `gorm:"default:0" json:"view_count"`
	LikeCount int64     `gorm:"default:0" json:"like_count"`
	CreatedAt time.Time `json:"created_at"`
}

// PageView représente un chargement de page par un visiteur
type PageView struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	PageID    string    `gorm:"size:36;index;not null" json:"page_id"`
	VisitorID string    `gorm:"size:64;index;not null" json:"visitor_id"`
	UserAgent string    `json:"user_agent"`
	Referrer  *string   `json:"referrer"`
	IPHash    *string   `gorm:"size:64" json:"ip_hash"`
	Country   *string   `gorm:"size:8;index" json:"country"`
	State     *string   `json:"state"`
	City      *string   `json:"city"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// Interaction résume une vue de page à sa fermeture
type Interaction struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"id"`
	PageViewID         string    `gorm:"size:36;index;not null" json:"page_view_id"`
	PageID             string    `gorm:"size:36;index;not null" json:"page_id"`
	DurationSeconds    int       `gorm:"not null" json:"duration_seconds"`
	ScrollDepthPercent int       `gorm:"not null" json:"scroll_depth_percent"`
	CreatedAt          time.Time `gorm:"index" json:"created_at"`
}

// ActiveSession signifie "cet onglet est en ce moment sur cette page"
type ActiveSession struct {
	SessionID     string    `gorm:"primaryKey;size:64" json:"session_id"`
	PageID        string    `gorm:"size:36;index;not null" json:"page_id"`
	LastHeartbeat time.Time `gorm:"index;not null" json:"last_heartbeat"`
}

type Like struct {
	ID                   string    `gorm:"primaryKey;size:36" json:"id"`
	PageID               string    `gorm:"size:36;not null;uniqueIndex:idx_likes_page_fingerprint" json:"page_id"`
	AnonymousFingerprint string    `gorm:"size:64;not null;uniqueIndex:idx_likes_page_fingerprint" json:"anonymous_fingerprint"`
	CreatedAt            time.Time `json:"created_at"`
}

type Comment struct {
	ID                   string        `gorm:"primaryKey;size:36" json:"id"`
	PageID               string        `gorm:"size:36;not null;index" json:"page_id"`
	AnonymousFingerprint string        `gorm:"size:64;not null" json:"anonymous_fingerprint"`
	Content              string        `gorm:"type:text;not null" json:"content"`
	ContentHTML          template.HTML `gorm:"-" json:"content_html,omitempty"`
	Status               string        `gorm:"size:16;default:pending;index" json:"status"`
	CreatedAt            time.Time     `gorm:"index" json:"created_at"`
}

// PageViewRef est le résultat de TrackPageView
type PageViewRef struct {
	PageViewID string `json:"page_view_id"`
	PageID     string `json:"page_id"`
}

// Models liste les tables à migrer
func Models() []any {
	return []any{&Page{}, &PageView{}, &Interaction{}, &ActiveSession{}, &Like{}, &Comment{}}
}

func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// Hooks GORM
func (p *Page) BeforeCreate(tx *gorm.DB) error {
	newID(&p.ID)
	return nil
}

func (v *PageView) BeforeCreate(tx *gorm.DB) error {
	newID(&v.ID)
	return nil
}

func (i *Interaction) BeforeCreate(tx *gorm.DB) error {
	newID(&i.ID)
	return nil
}

func (l *Like) BeforeCreate(tx *gorm.DB) error {
	newID(&l.ID)
	return nil
}

func (c *Comment) BeforeCreate(tx *gorm.DB) error {
	newID(&c.ID)
	if c.Status == "" {
		c.Status = CommentPending
	}
	return nil
}

func (Page) TableName() string          { return "pages" }
func (PageView) TableName() string      { return "page_views" }
func (Interaction) TableName() string   { return "interactions" }
func (ActiveSession) TableName() string { return "active_sessions" }
func (Like) TableName() string          { return "likes" }
func (Comment) TableName() string       { return "comments" }
