package clanalytics

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"littlefolio/internal/clmetrics"
	"littlefolio/internal/models/clgeo"
	"littlefolio/internal/models/clidentity"
	"littlefolio/internal/models/clmarkdown"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultStaleAfter = 5 * time.Minute

// Gateway traduit les opérations analytics en requêtes sur la base.
// Aucune méthode ne renvoie d'erreur : les pannes sont loguées et
// converties en "", nil, false, 0 ou Result{Success: false}.
type Gateway struct {
	db         *gorm.DB
	realtime   *Realtime
	locator    *clgeo.Locator
	staleAfter time.Duration
	now        func() time.Time
}

type Option func(*Gateway)

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func WithStaleAfter(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.staleAfter = d
		}
	}
}

func WithRealtime(r *Realtime) Option {
	return func(g *Gateway) { g.realtime = r }
}

func WithLocator(l *clgeo.Locator) Option {
	return func(g *Gateway) { g.locator = l }
}

func NewGateway(db *gorm.DB, opts ...Option) *Gateway {
	g := &Gateway{
		db:         db,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// PageViewInput décrit le chargement à enregistrer
type PageViewInput struct {
	VisitorID string
	UserAgent string
	Referrer  string
	IP        string
}

func (g *Gateway) clock() time.Time {
	return g.now().UTC()
}

func (g *Gateway) fail(op string, err error) {
	clmetrics.GatewayErrors.WithLabelValues(op).Inc()
	log.Error().Err(err).Str("component", "gateway").Str("op", op).Msg("analytics store error")
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// EnsurePage retourne l'id de la page du slug, en la créant si besoin.
// Deux premiers chargements simultanés du même slug se départagent sur
// l'index unique : le perdant relit la ligne du gagnant.
func (g *Gateway) EnsurePage(ctx context.Context, slug, title string) string {
	id, err := g.ensurePage(ctx, slug, title)
	if err != nil {
		g.fail("ensure_page", err)
		return ""
	}
	return id
}

func (g *Gateway) ensurePage(ctx context.Context, slug, title string) (string, error) {
	id, err := g.pageIDBySlug(ctx, slug)
	if err == nil {
		return id, nil
	}
	if !isNotFound(err) {
		return "", fmt.Errorf("select page %s: %w", slug, err)
	}

	page := Page{
		Slug:      slug,
		Title:     clmarkdown.PlainText(title),
		Type:      string(clidentity.ClassifySlug(slug)),
		CreatedAt: g.clock(),
	}
	err = g.db.WithContext(ctx).Create(&page).Error
	if err == nil {
		return page.ID, nil
	}
	if !isDuplicate(err) {
		return "", fmt.Errorf("create page %s: %w", slug, err)
	}

	log.Debug().Str("slug", slug).Msg("page créée par un chargement concurrent")
	id, err = g.pageIDBySlug(ctx, slug)
	if err != nil {
		return "", fmt.Errorf("reselect page %s: %w", slug, err)
	}
	return id, nil
}

func (g *Gateway) pageIDBySlug(ctx context.Context, slug string) (string, error) {
	var page Page
	err := g.db.WithContext(ctx).Select("id").Where("slug = ?", slug).Take(&page).Error
	return page.ID, err
}

// RecordPageView insère toujours une nouvelle vue
func (g *Gateway) RecordPageView(ctx context.Context, pageID string, in PageViewInput) string {
	loc := g.locator.Lookup(in.IP)
	view := PageView{
		PageID:    pageID,
		VisitorID: in.VisitorID,
		UserAgent: in.UserAgent,
		Referrer:  nullable(in.Referrer),
		IPHash:    nullable(loc.IPHash),
		Country:   nullable(loc.Country),
		State:     nullable(loc.State),
		City:      nullable(loc.City),
		CreatedAt: g.clock(),
	}

	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&view).Error; err != nil {
			return err
		}
		return tx.Model(&Page{}).
			Where("id = ?", pageID).
			UpdateColumn("view_count", gorm.Expr("view_count + ?", 1)).Error
	})
	if err != nil {
		g.fail("record_page_view", err)
		return ""
	}

	g.realtime.Record(ctx, in.VisitorID, view.CreatedAt)
	return view.ID
}

// TrackPageView enchaîne EnsurePage et RecordPageView
func (g *Gateway) TrackPageView(ctx context.Context, slug, title string, in PageViewInput) *PageViewRef {
	pageID := g.EnsurePage(ctx, slug, title)
	if pageID == "" {
		return nil
	}
	viewID := g.RecordPageView(ctx, pageID, in)
	if viewID == "" {
		return nil
	}
	clmetrics.PageViews.WithLabelValues(string(clidentity.ClassifySlug(slug))).Inc()
	return &PageViewRef{PageViewID: viewID, PageID: pageID}
}

// NormalizeInteraction arrondit la durée (plancher 0) et borne le
// défilement dans [0, 100]
func NormalizeInteraction(durationSeconds, scrollPercent float64) (int, int) {
	duration := math.Round(durationSeconds)
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration < 0 {
		duration = 0
	}

	scroll := math.Round(scrollPercent)
	switch {
	case math.IsNaN(scroll):
		scroll = 0
	case scroll > 100:
		scroll = 100
	case scroll < 0:
		scroll = 0
	}
	return int(duration), int(scroll)
}

func (g *Gateway) RecordInteraction(ctx context.Context, pageViewID, pageID string, durationSeconds, scrollPercent float64) bool {
	duration, scroll := NormalizeInteraction(durationSeconds, scrollPercent)
	interaction := Interaction{
		PageViewID:         pageViewID,
		PageID:             pageID,
		DurationSeconds:    duration,
		ScrollDepthPercent: scroll,
		CreatedAt:          g.clock(),
	}
	if err := g.db.WithContext(ctx).Create(&interaction).Error; err != nil {
		g.fail("record_interaction", err)
		return false
	}
	clmetrics.Interactions.Inc()
	return true
}

// UpsertActiveSession rafraîchit last_heartbeat, en créant la ligne au besoin
func (g *Gateway) UpsertActiveSession(ctx context.Context, sessionID, pageID string) bool {
	session := ActiveSession{
		SessionID:     sessionID,
		PageID:        pageID,
		LastHeartbeat: g.clock(),
	}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"page_id", "last_heartbeat"}),
	}).Create(&session).Error
	if err != nil {
		g.fail("upsert_active_session", err)
		return false
	}
	return true
}

// RemoveActiveSession supprime la présence ; une ligne absente n'est pas une erreur
func (g *Gateway) RemoveActiveSession(ctx context.Context, sessionID string) bool {
	err := g.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&ActiveSession{}).Error
	if err != nil {
		g.fail("remove_active_session", err)
		return false
	}
	return true
}

// CountActiveSessions compte les sessions dont le dernier heartbeat est
// dans la fenêtre de fraîcheur, bornes incluses
func (g *Gateway) CountActiveSessions(ctx context.Context, pageID string) int64 {
	threshold := g.clock().Add(-g.staleAfter)

	var count int64
	err := g.db.WithContext(ctx).Model(&ActiveSession{}).
		Where("page_id = ? AND last_heartbeat >= ?", pageID, threshold).
		Count(&count).Error
	if err != nil {
		g.fail("count_active_sessions", err)
		return 0
	}
	return count
}

func (g *Gateway) AddLike(ctx context.Context, pageID, fingerprint string) Result {
	like := Like{
		PageID:               pageID,
		AnonymousFingerprint: fingerprint,
		CreatedAt:            g.clock(),
	}
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&like).Error; err != nil {
			return err
		}
		return tx.Model(&Page{}).
			Where("id = ?", pageID).
			UpdateColumn("like_count", gorm.Expr("like_count + ?", 1)).Error
	})

	switch {
	case err == nil:
		clmetrics.Likes.WithLabelValues("add").Inc()
		return ok()
	case isDuplicate(err):
		clmetrics.Likes.WithLabelValues("duplicate").Inc()
		return failed(MessageAlreadyLiked)
	default:
		g.fail("add_like", err)
		return failed(err.Error())
	}
}

// RemoveLike réussit même si aucune ligne ne correspondait
func (g *Gateway) RemoveLike(ctx context.Context, pageID, fingerprint string) Result {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("page_id = ? AND anonymous_fingerprint = ?", pageID, fingerprint).Delete(&Like{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Model(&Page{}).
			Where("id = ? AND like_count > 0", pageID).
			UpdateColumn("like_count", gorm.Expr("like_count - ?", 1)).Error
	})
	if err != nil {
		g.fail("remove_like", err)
		return failed(err.Error())
	}
	clmetrics.Likes.WithLabelValues("remove").Inc()
	return ok()
}

func (g *Gateway) HasLiked(ctx context.Context, pageID, fingerprint string) bool {
	var like Like
	err := g.db.WithContext(ctx).Select("id").
		Where("page_id = ? AND anonymous_fingerprint = ?", pageID, fingerprint).
		Take(&like).Error
	if err != nil {
		if !isNotFound(err) {
			g.fail("has_liked", err)
		}
		return false
	}
	return true
}

// AddComment enregistre un commentaire en attente de modération
func (g *Gateway) AddComment(ctx context.Context, pageID, fingerprint, content string) CommentResult {
	content = strings.TrimSpace(content)
	if content == "" {
		return CommentResult{Result: failed(MessageEmptyComment)}
	}

	comment := Comment{
		PageID:               pageID,
		AnonymousFingerprint: fingerprint,
		Content:              content,
		Status:               CommentPending,
		CreatedAt:            g.clock(),
	}
	if err := g.db.WithContext(ctx).Create(&comment).Error; err != nil {
		g.fail("add_comment", err)
		return CommentResult{Result: failed(err.Error())}
	}
	clmetrics.Comments.Inc()
	return CommentResult{Result: ok(), Data: &comment}
}

// GetComments ne renvoie que les commentaires approuvés, du plus récent au plus ancien
func (g *Gateway) GetComments(ctx context.Context, pageID string) []Comment {
	comments := []Comment{}
	err := g.db.WithContext(ctx).
		Where("page_id = ? AND status = ?", pageID, CommentApproved).
		Order("created_at DESC").
		Find(&comments).Error
	if err != nil {
		g.fail("get_comments", err)
		return []Comment{}
	}
	return comments
}

// GetPageAnalytics lit la ligne de la page pour l'affichage des compteurs
func (g *Gateway) GetPageAnalytics(ctx context.Context, slug string) *Page {
	var page Page
	err := g.db.WithContext(ctx).Where("slug = ?", slug).Take(&page).Error
	if err != nil {
		if !isNotFound(err) {
			g.fail("get_page_analytics", err)
		}
		return nil
	}
	return &page
}
