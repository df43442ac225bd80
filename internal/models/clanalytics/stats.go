package clanalytics

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Stats représente les statistiques du site sur une fenêtre glissante
type Stats struct {
	TotalPageViews         int64          `json:"total_page_views"`
	UniqueVisitors         int64          `json:"unique_visitors"`
	AvgPageViewsPerVisitor float64        `json:"avg_page_views_per_visitor"`
	AvgDurationSeconds     float64        `json:"avg_duration_seconds"`
	AvgScrollDepthPercent  float64        `json:"avg_scroll_depth_percent"`
	TopPages               []PageStat     `json:"top_pages"`
	TopReferrers           []ReferrerStat `json:"top_referrers"`
	TopCountries           []CountryStat  `json:"top_countries"`
	DailyStats             []DailyStat    `json:"daily_stats"`
}

type PageStat struct {
	Slug  string `json:"slug"`
	Title string `json:"title"`
	Views int64  `json:"views"`
}

type ReferrerStat struct {
	Referrer string `json:"referrer"`
	Count    int64  `json:"count"`
}

type CountryStat struct {
	Country string `json:"country"`
	Count   int64  `json:"count"`
}

type DailyStat struct {
	Date           string `json:"date"`
	PageViews      int64  `json:"page_views"`
	UniqueVisitors int64  `json:"unique_visitors"`
}

// GetStats récupère les statistiques des days derniers jours
func (g *Gateway) GetStats(ctx context.Context, days int) (*Stats, error) {
	if days <= 0 {
		days = 30
	}
	since := g.clock().AddDate(0, 0, -days)
	db := g.db.WithContext(ctx)
	stats := &Stats{}

	// 1. Total des pages vues
	err := db.Model(&PageView{}).
		Where("created_at >= ?", since).
		Count(&stats.TotalPageViews).Error
	if err != nil {
		return nil, fmt.Errorf("error counting page views: %w", err)
	}

	// 2. Visiteurs uniques
	err = db.Model(&PageView{}).
		Where("created_at >= ?", since).
		Distinct("visitor_id").
		Count(&stats.UniqueVisitors).Error
	if err != nil {
		return nil, fmt.Errorf("error counting unique visitors: %w", err)
	}
	if stats.UniqueVisitors > 0 {
		stats.AvgPageViewsPerVisitor = float64(stats.TotalPageViews) / float64(stats.UniqueVisitors)
	}

	// 3. Engagement moyen
	type Engagement struct {
		Duration float64
		Scroll   float64
	}
	var engagement Engagement
	err = db.Model(&Interaction{}).
		Select("COALESCE(AVG(duration_seconds), 0) as duration, COALESCE(AVG(scroll_depth_percent), 0) as scroll").
		Where("created_at >= ?", since).
		Scan(&engagement).Error
	if err != nil {
		return nil, fmt.Errorf("error averaging interactions: %w", err)
	}
	stats.AvgDurationSeconds = engagement.Duration
	stats.AvgScrollDepthPercent = engagement.Scroll

	// 4. Top des pages
	stats.TopPages = []PageStat{}
	err = db.Model(&PageView{}).
		Select("pages.slug as slug, pages.title as title, COUNT(*) as views").
		Joins("JOIN pages ON pages.id = page_views.page_id").
		Where("page_views.created_at >= ?", since).
		Group("pages.slug, pages.title").
		Order("views DESC").
		Limit(10).
		Scan(&stats.TopPages).Error
	if err != nil {
		return nil, fmt.Errorf("error getting top pages: %w", err)
	}

	// 5. Top des referrers
	stats.TopReferrers = []ReferrerStat{}
	err = db.Model(&PageView{}).
		Select("referrer, COUNT(*) as count").
		Where("created_at >= ? AND referrer IS NOT NULL AND referrer != ''", since).
		Group("referrer").
		Order("count DESC").
		Limit(10).
		Scan(&stats.TopReferrers).Error
	if err != nil {
		return nil, fmt.Errorf("error getting top referrers: %w", err)
	}

	// 6. Top des pays
	stats.TopCountries = []CountryStat{}
	err = db.Model(&PageView{}).
		Select("country, COUNT(*) as count").
		Where("created_at >= ? AND country IS NOT NULL", since).
		Group("country").
		Order("count DESC").
		Limit(10).
		Scan(&stats.TopCountries).Error
	if err != nil {
		return nil, fmt.Errorf("error getting top countries: %w", err)
	}

	// 7. Statistiques journalières
	stats.DailyStats, err = g.dailyStats(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("error getting daily stats: %w", err)
	}

	return stats, nil
}

func (g *Gateway) dailyStats(ctx context.Context, since time.Time) ([]DailyStat, error) {
	var rows []DailyStat
	err := g.db.WithContext(ctx).Model(&PageView{}).
		Select("DATE(created_at) as date, COUNT(*) as page_views, COUNT(DISTINCT visitor_id) as unique_visitors").
		Where("created_at >= ?", since).
		Group("DATE(created_at)").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	if rows == nil {
		rows = []DailyStat{}
	}
	return rows, nil
}
