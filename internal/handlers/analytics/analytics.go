package handlers_analytics

import (
	"net/http"
	"strconv"
	"strings"

	"littlefolio/internal/clmiddleware"
	"littlefolio/internal/models/clanalytics"

	"github.com/andskur/argon2-hashing"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type AnalyticsHandler struct {
	gateway   *clanalytics.Gateway
	statsHash string
}

// NewAnalyticsHandler : statsHash est le hash argon2 du jeton des
// statistiques agrégées
func NewAnalyticsHandler(gateway *clanalytics.Gateway, statsHash string) *AnalyticsHandler {
	return &AnalyticsHandler{
		gateway:   gateway,
		statsHash: statsHash,
	}
}

// Register monte les routes sur le groupe /api. limit protège les
// écritures de likes.
func (ah *AnalyticsHandler) Register(api *gin.RouterGroup, limit gin.HandlerFunc) {
	api.POST("/views", ah.TrackView)
	api.POST("/interactions", ah.RecordInteraction)
	api.PUT("/sessions", ah.Heartbeat)
	api.DELETE("/sessions", ah.EndSession)

	api.GET("/pages/:id/active", ah.ActiveUsers)
	api.GET("/pages/:id/like-status", ah.LikeStatus)
	api.POST("/pages/:id/like", limit, ah.Like)
	api.DELETE("/pages/:id/like", limit, ah.Unlike)

	api.GET("/analytics/page", ah.PageAnalytics)
	api.GET("/analytics/realtime", ah.GetRealtimeStats)
	api.GET("/analytics/stats", ah.GetStats)
}

type trackViewRequest struct {
	Slug     string `json:"slug" binding:"required"`
	Title    string `json:"title"`
	Referrer string `json:"referrer"`
}

// TrackView enregistre un chargement de page
func (ah *AnalyticsHandler) TrackView(c *gin.Context) {
	var req trackViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "slug requis"})
		return
	}

	id := clmiddleware.GetIdentity(c)
	ref := ah.gateway.TrackPageView(c.Request.Context(), req.Slug, req.Title, clanalytics.PageViewInput{
		VisitorID: id.VisitorID,
		UserAgent: id.UserAgent,
		Referrer:  req.Referrer,
		IP:        id.IP,
	})
	if ref == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "Failed to record page view"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"page_id":      ref.PageID,
		"page_view_id": ref.PageViewID,
		"session_id":   id.SessionID,
	})
}

type interactionRequest struct {
	PageViewID         string  `json:"page_view_id" binding:"required"`
	PageID             string  `json:"page_id" binding:"required"`
	DurationSeconds    float64 `json:"duration_seconds"`
	ScrollDepthPercent float64 `json:"scroll_depth_percent"`
}

func (ah *AnalyticsHandler) RecordInteraction(c *gin.Context) {
	var req interactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "page_view_id et page_id requis"})
		return
	}

	ok := ah.gateway.RecordInteraction(c.Request.Context(), req.PageViewID, req.PageID, req.DurationSeconds, req.ScrollDepthPercent)
	c.JSON(http.StatusOK, gin.H{"success": ok})
}

type heartbeatRequest struct {
	PageID string `json:"page_id" binding:"required"`
}

// Heartbeat rafraîchit la présence de la session courante et renvoie le
// nombre de lecteurs
func (ah *AnalyticsHandler) Heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "page_id requis"})
		return
	}

	ctx := c.Request.Context()
	id := clmiddleware.GetIdentity(c)
	ok := ah.gateway.UpsertActiveSession(ctx, id.SessionID, req.PageID)
	c.JSON(http.StatusOK, gin.H{
		"success":      ok,
		"active_users": ah.gateway.CountActiveSessions(ctx, req.PageID),
	})
}

func (ah *AnalyticsHandler) EndSession(c *gin.Context) {
	id := clmiddleware.GetIdentity(c)
	ok := ah.gateway.RemoveActiveSession(c.Request.Context(), id.SessionID)
	c.JSON(http.StatusOK, gin.H{"success": ok})
}

func (ah *AnalyticsHandler) ActiveUsers(c *gin.Context) {
	pageID := c.Param("id")
	c.JSON(http.StatusOK, gin.H{
		"page_id":      pageID,
		"active_users": ah.gateway.CountActiveSessions(c.Request.Context(), pageID),
	})
}

func (ah *AnalyticsHandler) LikeStatus(c *gin.Context) {
	id := clmiddleware.GetIdentity(c)
	c.JSON(http.StatusOK, gin.H{
		"liked": ah.gateway.HasLiked(c.Request.Context(), c.Param("id"), id.Fingerprint),
	})
}

func (ah *AnalyticsHandler) Like(c *gin.Context) {
	id := clmiddleware.GetIdentity(c)
	res := ah.gateway.AddLike(c.Request.Context(), c.Param("id"), id.Fingerprint)
	writeResult(c, res)
}

func (ah *AnalyticsHandler) Unlike(c *gin.Context) {
	id := clmiddleware.GetIdentity(c)
	res := ah.gateway.RemoveLike(c.Request.Context(), c.Param("id"), id.Fingerprint)
	writeResult(c, res)
}

// writeResult traduit un Result en statut HTTP sans exposer l'erreur du stockage
func writeResult(c *gin.Context, res clanalytics.Result) {
	switch {
	case res.Success:
		c.JSON(http.StatusOK, res)
	case res.Message == clanalytics.MessageAlreadyLiked:
		c.JSON(http.StatusConflict, res)
	default:
		c.JSON(http.StatusInternalServerError, clanalytics.Result{Success: false, Message: "Operation failed"})
	}
}

// PageAnalytics retourne les compteurs d'une page, 404 si elle n'a jamais été vue
func (ah *AnalyticsHandler) PageAnalytics(c *gin.Context) {
	slug := c.Query("slug")
	if slug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slug requis"})
		return
	}

	page := ah.gateway.GetPageAnalytics(c.Request.Context(), slug)
	if page == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Page inconnue"})
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetRealtimeStats retourne les compteurs du jour
func (ah *AnalyticsHandler) GetRealtimeStats(c *gin.Context) {
	c.JSON(http.StatusOK, ah.gateway.RealtimeStats(c.Request.Context()))
}

// GetStats retourne les statistiques agrégées sur days jours, jeton requis
func (ah *AnalyticsHandler) GetStats(c *gin.Context) {
	if !ah.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Non autorisé"})
		return
	}

	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days <= 0 || days > 366 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days invalide"})
		return
	}

	stats, err := ah.gateway.GetStats(c.Request.Context(), days)
	if err != nil {
		log.Error().Err(err).Msg("stats query failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve analytics",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (ah *AnalyticsHandler) authorized(c *gin.Context) bool {
	if ah.statsHash == "" {
		return false
	}
	token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !found || token == "" {
		return false
	}
	if err := argon2.CompareHashAndPassword([]byte(ah.statsHash), []byte(token)); err != nil {
		log.Warn().Str("ip", c.ClientIP()).Msg("stats: jeton refusé")
		return false
	}
	return true
}
