package clanalytics

import (
	"context"
	"fmt"
	"time"

	"littlefolio/internal/clmetrics"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const purgeSchedule = "0 2 * * *"

// SweepStaleSessions supprime les présences sorties de la fenêtre de
// fraîcheur. Le comptage les ignore déjà, le balayage ne fait que
// nettoyer la table.
func (g *Gateway) SweepStaleSessions(ctx context.Context) int64 {
	threshold := g.clock().Add(-g.staleAfter)

	res := g.db.WithContext(ctx).Where("last_heartbeat < ?", threshold).Delete(&ActiveSession{})
	if res.Error != nil {
		g.fail("sweep_stale_sessions", res.Error)
		return 0
	}
	clmetrics.StaleSessionsSwept.Add(float64(res.RowsAffected))
	return res.RowsAffected
}

// PurgeOlderThan supprime vues et interactions plus vieilles que days jours.
// Les pages, likes et commentaires sont conservés.
func (g *Gateway) PurgeOlderThan(ctx context.Context, days int) (int64, int64) {
	if days <= 0 {
		return 0, 0
	}
	limit := g.clock().AddDate(0, 0, -days)

	interactions := g.db.WithContext(ctx).Where("created_at < ?", limit).Delete(&Interaction{})
	if interactions.Error != nil {
		g.fail("purge_interactions", interactions.Error)
		return 0, 0
	}
	views := g.db.WithContext(ctx).Where("created_at < ?", limit).Delete(&PageView{})
	if views.Error != nil {
		g.fail("purge_page_views", views.Error)
		return 0, interactions.RowsAffected
	}
	return views.RowsAffected, interactions.RowsAffected
}

// StartMaintenance programme le balayage des présences et la purge de
// rétention. Le cron retourné doit être stoppé à l'arrêt.
func StartMaintenance(g *Gateway, sweep string, retentionDays int) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc(sweep, func() {
		n := g.SweepStaleSessions(context.Background())
		if n > 0 {
			log.Debug().Int64("removed", n).Msg("stale sessions swept")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", sweep, err)
	}

	if retentionDays > 0 {
		_, err = c.AddFunc(purgeSchedule, func() {
			start := time.Now()
			views, interactions := g.PurgeOlderThan(context.Background(), retentionDays)
			log.Info().
				Int64("page_views", views).
				Int64("interactions", interactions).
				Dur("took", time.Since(start)).
				Msg("Cleanup completed")
		})
		if err != nil {
			return nil, fmt.Errorf("invalid purge schedule: %w", err)
		}
	}

	c.Start()
	return c, nil
}
