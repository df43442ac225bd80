package clmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PageViews = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "littlefolio_page_views_total",
			Help: "Page views recorded, by page type",
		},
		[]string{"type"},
	)

	Interactions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "littlefolio_interactions_total",
			Help: "Interaction summaries recorded at page teardown",
		},
	)

	Likes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "littlefolio_likes_total",
			Help: "Like operations, by action (add, remove, duplicate)",
		},
		[]string{"action"},
	)

	Comments = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "littlefolio_comments_total",
			Help: "Comments submitted for moderation",
		},
	)

	GatewayErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "littlefolio_gateway_errors_total",
			Help: "Store failures swallowed by the gateway, by operation",
		},
		[]string{"op"},
	)

	LiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "littlefolio_live_sessions",
			Help: "Pages currently mounted through a websocket",
		},
	)

	StaleSessionsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "littlefolio_stale_sessions_swept_total",
			Help: "Active session rows removed by the maintenance sweep",
		},
	)
)
