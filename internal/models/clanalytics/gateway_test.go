package clanalytics

import (
	"bytes"
	"context"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ============= Setup =============

func setupTestDB(t *testing.T) *gorm.DB {
	testDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	// une seule connexion : chaque connexion :memory: est une base distincte
	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, testDB.AutoMigrate(Models()...))
	return testDB
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupGateway(t *testing.T) (*Gateway, *gorm.DB, *fakeClock) {
	db := setupTestDB(t)
	clock := newFakeClock()
	return NewGateway(db, WithClock(clock.Now)), db, clock
}

// ============= Pages et vues =============

func TestEnsurePageCreatesOnce(t *testing.T) {
	g, db, _ := setupGateway(t)
	ctx := context.Background()

	first := g.EnsurePage(ctx, "/blog/go", "**Go** notes")
	require.NotEmpty(t, first)
	second := g.EnsurePage(ctx, "/blog/go", "autre titre")
	assert.Equal(t, first, second)

	var page Page
	require.NoError(t, db.First(&page, "id = ?", first).Error)
	assert.Equal(t, "Go notes", page.Title)
	assert.Equal(t, "blog_post", page.Type)

	var count int64
	db.Model(&Page{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestEnsurePageConcurrent(t *testing.T) {
	g, db, _ := setupGateway(t)
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = g.EnsurePage(ctx, "/about", "About")
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.NotEmpty(t, id)
		assert.Equal(t, ids[0], id)
	}
	var count int64
	db.Model(&Page{}).Where("slug = ?", "/about").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestDuplicateSlugIsRecognized(t *testing.T) {
	g, db, _ := setupGateway(t)
	ctx := context.Background()

	existing := Page{Slug: "/apps", Title: "Apps", Type: "apps"}
	require.NoError(t, db.Create(&existing).Error)

	// un second insert sur le même slug doit être reconnu comme doublon
	err := db.Create(&Page{Slug: "/apps"}).Error
	require.Error(t, err)
	assert.True(t, isDuplicate(err))

	assert.Equal(t, existing.ID, g.EnsurePage(ctx, "/apps", "Apps"))
}

func TestEnsurePageLosesInsertRace(t *testing.T) {
	// base fichier : le rival écrit sur sa propre connexion
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "race.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(Models()...))

	// le rival valide sa ligne entre le select manqué et notre insert
	var rivalDone atomic.Bool
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:rival_page", func(tx *gorm.DB) {
		page, ok := tx.Statement.Dest.(*Page)
		if !ok || page.Slug != "/race" || !rivalDone.CompareAndSwap(false, true) {
			return
		}
		tx.AddError(db.Create(&Page{ID: "winner-id", Slug: "/race", Title: "Race", Type: "page"}).Error)
	}))

	var buf bytes.Buffer
	previous := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.DebugLevel)
	t.Cleanup(func() { log.Logger = previous })

	g := NewGateway(db)
	id := g.EnsurePage(context.Background(), "/race", "Race")

	assert.True(t, rivalDone.Load())
	assert.Equal(t, "winner-id", id)
	assert.Contains(t, buf.String(), "page créée par un chargement concurrent")

	var count int64
	db.Model(&Page{}).Where("slug = ?", "/race").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestTrackPageViewAlwaysInserts(t *testing.T) {
	g, db, _ := setupGateway(t)
	ctx := context.Background()
	in := PageViewInput{VisitorID: "v1", UserAgent: "ua", IP: "198.51.100.4"}

	first := g.TrackPageView(ctx, "/", "Home", in)
	second := g.TrackPageView(ctx, "/", "Home", in)
	require.NotNil(t, first)
	require.NotNil(t, second)

	assert.Equal(t, first.PageID, second.PageID)
	assert.NotEqual(t, first.PageViewID, second.PageViewID)

	var views []PageView
	require.NoError(t, db.Find(&views).Error)
	require.Len(t, views, 2)
	assert.Nil(t, views[0].Referrer)
	require.NotNil(t, views[0].IPHash)
	assert.Len(t, *views[0].IPHash, 64)

	page := g.GetPageAnalytics(ctx, "/")
	require.NotNil(t, page)
	assert.Equal(t, int64(2), page.ViewCount)
	assert.Equal(t, "home", page.Type)
}

func TestRecordPageViewKeepsReferrer(t *testing.T) {
	g, db, _ := setupGateway(t)
	ctx := context.Background()

	pageID := g.EnsurePage(ctx, "/projects", "Projects")
	viewID := g.RecordPageView(ctx, pageID, PageViewInput{VisitorID: "v", Referrer: "https://news.example"})
	require.NotEmpty(t, viewID)

	var view PageView
	require.NoError(t, db.First(&view, "id = ?", viewID).Error)
	require.NotNil(t, view.Referrer)
	assert.Equal(t, "https://news.example", *view.Referrer)
}

func TestStoreFailureIsSwallowed(t *testing.T) {
	g, db, _ := setupGateway(t)
	ctx := context.Background()

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	assert.Empty(t, g.EnsurePage(ctx, "/", "Home"))
	assert.Nil(t, g.TrackPageView(ctx, "/", "Home", PageViewInput{}))
	assert.False(t, g.UpsertActiveSession(ctx, "s", "p"))
	assert.Zero(t, g.CountActiveSessions(ctx, "p"))
	assert.False(t, g.HasLiked(ctx, "p", "fp"))
	assert.False(t, g.AddLike(ctx, "p", "fp").Success)
	assert.NotNil(t, g.GetComments(ctx, "p"))
	assert.Nil(t, g.GetPageAnalytics(ctx, "/"))
}

// ============= Interactions =============

func TestNormalizeInteraction(t *testing.T) {
	tests := []struct {
		name             string
		duration, scroll float64
		wantD, wantS     int
	}{
		{"nominal", 45.2, 80.4, 45, 80},
		{"arrondi", 44.5, 79.5, 45, 80},
		{"défilement plafonné", 10, 137, 10, 100},
		{"défilement négatif", 10, -12, 10, 0},
		{"durée négative", -3, 50, 0, 50},
		{"NaN", math.NaN(), math.NaN(), 0, 0},
		{"infini", math.Inf(1), math.Inf(1), 0, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, s := NormalizeInteraction(tt.duration, tt.scroll)
			assert.Equal(t, tt.wantD, d)
			assert.Equal(t, tt.wantS, s)
		})
	}
}

func TestRecordInteraction(t *testing.T) {
	g, db, _ := setupGateway(t)
	ctx := context.Background()

	ref := g.TrackPageView(ctx, "/blog", "Blog", PageViewInput{VisitorID: "v"})
	require.NotNil(t, ref)
	assert.True(t, g.RecordInteraction(ctx, ref.PageViewID, ref.PageID, 45.4, 80))

	var interaction Interaction
	require.NoError(t, db.First(&interaction).Error)
	assert.Equal(t, ref.PageViewID, interaction.PageViewID)
	assert.Equal(t, 45, interaction.DurationSeconds)
	assert.Equal(t, 80, interaction.ScrollDepthPercent)
}

// ============= Présence =============

func TestActiveSessionsFreshnessWindow(t *testing.T) {
	g, _, clock := setupGateway(t)
	ctx := context.Background()

	require.True(t, g.UpsertActiveSession(ctx, "s1", "p1"))
	clock.Advance(4 * time.Minute)
	require.True(t, g.UpsertActiveSession(ctx, "s2", "p1"))
	assert.Equal(t, int64(2), g.CountActiveSessions(ctx, "p1"))

	// s1 est exactement à la limite : encore compté
	clock.Advance(time.Minute)
	assert.Equal(t, int64(2), g.CountActiveSessions(ctx, "p1"))

	clock.Advance(time.Second)
	assert.Equal(t, int64(1), g.CountActiveSessions(ctx, "p1"))
	assert.Zero(t, g.CountActiveSessions(ctx, "p2"))
}

func TestUpsertActiveSessionMovesPage(t *testing.T) {
	g, db, _ := setupGateway(t)
	ctx := context.Background()

	require.True(t, g.UpsertActiveSession(ctx, "s1", "p1"))
	require.True(t, g.UpsertActiveSession(ctx, "s1", "p2"))

	var rows []ActiveSession
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "p2", rows[0].PageID)
	assert.Zero(t, g.CountActiveSessions(ctx, "p1"))
	assert.Equal(t, int64(1), g.CountActiveSessions(ctx, "p2"))
}

func TestRemoveActiveSession(t *testing.T) {
	g, _, _ := setupGateway(t)
	ctx := context.Background()

	require.True(t, g.UpsertActiveSession(ctx, "s1", "p1"))
	assert.True(t, g.RemoveActiveSession(ctx, "s1"))
	assert.Zero(t, g.CountActiveSessions(ctx, "p1"))

	// ligne absente : succès
	assert.True(t, g.RemoveActiveSession(ctx, "s1"))
}

func TestSweepStaleSessions(t *testing.T) {
	g, db, clock := setupGateway(t)
	ctx := context.Background()

	require.True(t, g.UpsertActiveSession(ctx, "old", "p1"))
	clock.Advance(10 * time.Minute)
	require.True(t, g.UpsertActiveSession(ctx, "fresh", "p1"))

	assert.Equal(t, int64(1), g.SweepStaleSessions(ctx))

	var rows []ActiveSession
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "fresh", rows[0].SessionID)
}

func TestPurgeOlderThan(t *testing.T) {
	g, db, clock := setupGateway(t)
	ctx := context.Background()

	old := g.TrackPageView(ctx, "/", "Home", PageViewInput{VisitorID: "v"})
	require.NotNil(t, old)
	require.True(t, g.RecordInteraction(ctx, old.PageViewID, old.PageID, 10, 10))

	clock.Advance(40 * 24 * time.Hour)
	recent := g.TrackPageView(ctx, "/", "Home", PageViewInput{VisitorID: "v"})
	require.NotNil(t, recent)

	views, interactions := g.PurgeOlderThan(ctx, 30)
	assert.Equal(t, int64(1), views)
	assert.Equal(t, int64(1), interactions)

	var count int64
	db.Model(&PageView{}).Count(&count)
	assert.Equal(t, int64(1), count)
	db.Model(&Page{}).Count(&count)
	assert.Equal(t, int64(1), count)

	views, interactions = g.PurgeOlderThan(ctx, 0)
	assert.Zero(t, views)
	assert.Zero(t, interactions)
}

// ============= Likes =============

func TestLikeLifecycle(t *testing.T) {
	g, _, _ := setupGateway(t)
	ctx := context.Background()
	pageID := g.EnsurePage(ctx, "/blog/go", "Go")

	assert.False(t, g.HasLiked(ctx, pageID, "fp"))

	assert.Equal(t, Result{Success: true}, g.AddLike(ctx, pageID, "fp"))
	assert.True(t, g.HasLiked(ctx, pageID, "fp"))

	dup := g.AddLike(ctx, pageID, "fp")
	assert.False(t, dup.Success)
	assert.Equal(t, MessageAlreadyLiked, dup.Message)

	assert.True(t, g.AddLike(ctx, pageID, "other").Success)
	assert.Equal(t, int64(2), g.GetPageAnalytics(ctx, "/blog/go").LikeCount)

	assert.True(t, g.RemoveLike(ctx, pageID, "fp").Success)
	assert.False(t, g.HasLiked(ctx, pageID, "fp"))
	assert.Equal(t, int64(1), g.GetPageAnalytics(ctx, "/blog/go").LikeCount)

	// aucune ligne : succès, compteur inchangé
	assert.True(t, g.RemoveLike(ctx, pageID, "fp").Success)
	assert.Equal(t, int64(1), g.GetPageAnalytics(ctx, "/blog/go").LikeCount)
}

// ============= Commentaires =============

func TestCommentsModeration(t *testing.T) {
	g, db, clock := setupGateway(t)
	ctx := context.Background()
	pageID := g.EnsurePage(ctx, "/blog/go", "Go")

	first := g.AddComment(ctx, pageID, "fp", "premier")
	require.True(t, first.Success)
	require.NotNil(t, first.Data)
	assert.Equal(t, CommentPending, first.Data.Status)

	clock.Advance(time.Minute)
	second := g.AddComment(ctx, pageID, "fp", "second")
	require.True(t, second.Success)

	assert.Empty(t, g.GetComments(ctx, pageID))

	require.NoError(t, db.Model(&Comment{}).Where("page_id = ?", pageID).
		Update("status", CommentApproved).Error)

	comments := g.GetComments(ctx, pageID)
	require.Len(t, comments, 2)
	assert.Equal(t, "second", comments[0].Content)
	assert.Equal(t, "premier", comments[1].Content)

	empty := g.AddComment(ctx, pageID, "fp", "   ")
	assert.False(t, empty.Success)
}

func TestGetPageAnalyticsMissing(t *testing.T) {
	g, _, _ := setupGateway(t)
	assert.Nil(t, g.GetPageAnalytics(context.Background(), "/nope"))
}

// ============= Statistiques =============

func TestGetStats(t *testing.T) {
	g, _, _ := setupGateway(t)
	ctx := context.Background()

	for _, v := range []string{"a", "a", "b"} {
		require.NotNil(t, g.TrackPageView(ctx, "/", "Home", PageViewInput{VisitorID: v, Referrer: "https://ref.example"}))
	}
	ref := g.TrackPageView(ctx, "/about", "About", PageViewInput{VisitorID: "b"})
	require.NotNil(t, ref)
	require.True(t, g.RecordInteraction(ctx, ref.PageViewID, ref.PageID, 30, 50))

	var stats *Stats
	stats, err := g.GetStats(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalPageViews)
	assert.Equal(t, int64(2), stats.UniqueVisitors)
	assert.InDelta(t, 2.0, stats.AvgPageViewsPerVisitor, 0.001)
	assert.InDelta(t, 30.0, stats.AvgDurationSeconds, 0.001)
	require.NotEmpty(t, stats.TopPages)
	assert.Equal(t, "/", stats.TopPages[0].Slug)
	assert.Equal(t, int64(3), stats.TopPages[0].Views)
	require.Len(t, stats.TopReferrers, 1)
	assert.Equal(t, int64(3), stats.TopReferrers[0].Count)
	assert.Empty(t, stats.TopCountries)
}

func TestRealtimeDisabled(t *testing.T) {
	g, _, _ := setupGateway(t)
	assert.Equal(t, RealtimeStats{}, g.RealtimeStats(context.Background()))
}
