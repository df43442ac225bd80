package handlers_comments

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"littlefolio/internal/clmiddleware"
	"littlefolio/internal/models/clanalytics"
	"littlefolio/internal/models/clcaptchas"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	testDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, testDB.AutoMigrate(clanalytics.Models()...))
	return testDB
}

type fixture struct {
	router   *gin.Engine
	db       *gorm.DB
	gateway  *clanalytics.Gateway
	captchas *clcaptchas.Captchas
	pageID   string
}

func setup(t *testing.T) *fixture {
	gin.SetMode(gin.TestMode)
	db := setupTestDB(t)
	gateway := clanalytics.NewGateway(db)
	captchas := clcaptchas.New(nil, false)

	r := gin.New()
	r.Use(clmiddleware.NewSession(false))
	api := r.Group("/api", clmiddleware.IdentityMiddleware(false))
	NewCommentsHandler(gateway, captchas).Register(api, clmiddleware.NewLimiter(time.Minute, 100))

	pageID := gateway.EnsurePage(t.Context(), "/blog/go", "Go")
	require.NotEmpty(t, pageID)
	return &fixture{router: r, db: db, gateway: gateway, captchas: captchas, pageID: pageID}
}

func (f *fixture) post(t *testing.T, body gin.H) *httptest.ResponseRecorder {
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/pages/"+f.pageID+"/comments", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) challenge(t *testing.T) *clcaptchas.Challenge {
	ch, err := f.captchas.GenerateCaptcha()
	require.NoError(t, err)
	return ch
}

func TestCreateCommentPending(t *testing.T) {
	f := setup(t)
	ch := f.challenge(t)

	w := f.post(t, gin.H{"content": "Super **article**", "captchaID": ch.CaptchaID, "captchaAnswer": ch.Answer})
	require.Equal(t, http.StatusCreated, w.Code)

	var res clanalytics.CommentResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Success)
	require.NotNil(t, res.Data)
	assert.Equal(t, clanalytics.CommentPending, res.Data.Status)
	assert.Len(t, res.Data.AnonymousFingerprint, 64)

	// en attente : pas encore visible
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest("GET", "/api/pages/"+f.pageID+"/comments", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestListApprovedRendered(t *testing.T) {
	f := setup(t)
	res := f.gateway.AddComment(t.Context(), f.pageID, "fp", "Voir [ici](https://example.com) <b>x</b>")
	require.True(t, res.Success)
	require.NoError(t, f.db.Model(&clanalytics.Comment{}).Where("id = ?", res.Data.ID).
		Update("status", clanalytics.CommentApproved).Error)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest("GET", "/api/pages/"+f.pageID+"/comments", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var comments []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &comments))
	require.Len(t, comments, 1)
	html := comments[0]["content_html"].(string)
	assert.Contains(t, html, `rel="nofollow ugc noopener"`)
	assert.NotContains(t, html, "<b>")
}

func TestCreateCommentCaptcha(t *testing.T) {
	f := setup(t)

	w := f.post(t, gin.H{"content": "spam"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ch := f.challenge(t)
	w = f.post(t, gin.H{"content": "spam", "captchaID": ch.CaptchaID, "captchaAnswer": "wrong"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	var count int64
	f.db.Model(&clanalytics.Comment{}).Count(&count)
	assert.Zero(t, count)
}

func TestCreateCommentValidation(t *testing.T) {
	f := setup(t)

	w := f.post(t, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ch := f.challenge(t)
	w = f.post(t, gin.H{"content": strings.Repeat("a", maxCommentLength+1), "captchaID": ch.CaptchaID, "captchaAnswer": ch.Answer})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ch = f.challenge(t)
	w = f.post(t, gin.H{"content": "   ", "captchaID": ch.CaptchaID, "captchaAnswer": ch.Answer})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
