package clanalytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const realtimeTTL = 31 * 24 * time.Hour

// Realtime tient les compteurs du jour dans redis. Un Realtime nil est
// désactivé : Record ne fait rien et Stats renvoie des zéros.
type Realtime struct {
	client *redis.Client
}

type RealtimeStats struct {
	TodayPageViews      int64 `json:"today_page_views"`
	TodayUniqueVisitors int64 `json:"today_unique_visitors"`
}

func NewRealtime(client *redis.Client) *Realtime {
	if client == nil {
		return nil
	}
	return &Realtime{client: client}
}

func dailyKey(at time.Time) string {
	return fmt.Sprintf("analytics:daily:%s", at.Format("2006-01-02"))
}

func visitorsKey(at time.Time) string {
	return fmt.Sprintf("analytics:visitors:%s", at.Format("2006-01-02"))
}

// Record compte une vue et le visiteur pour le jour de at
func (r *Realtime) Record(ctx context.Context, visitorID string, at time.Time) {
	if r == nil {
		return
	}
	daily, visitors := dailyKey(at), visitorsKey(at)

	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, daily, "page_views", 1)
	pipe.Expire(ctx, daily, realtimeTTL)
	if visitorID != "" {
		pipe.SAdd(ctx, visitors, visitorID)
		pipe.Expire(ctx, visitors, realtimeTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Msg("realtime counters update failed")
	}
}

func (r *Realtime) Stats(ctx context.Context, at time.Time) (RealtimeStats, error) {
	var stats RealtimeStats
	if r == nil {
		return stats, nil
	}

	pageViews, err := r.client.HGet(ctx, dailyKey(at), "page_views").Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return stats, err
	}
	visitors, err := r.client.SCard(ctx, visitorsKey(at)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return stats, err
	}

	stats.TodayPageViews = pageViews
	stats.TodayUniqueVisitors = visitors
	return stats, nil
}

// RealtimeStats lit les compteurs du jour courant selon l'horloge du gateway
func (g *Gateway) RealtimeStats(ctx context.Context) RealtimeStats {
	stats, err := g.realtime.Stats(ctx, g.clock())
	if err != nil {
		g.fail("realtime_stats", err)
		return RealtimeStats{}
	}
	return stats
}
