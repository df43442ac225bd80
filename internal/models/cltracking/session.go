package cltracking

import (
	"context"
	"math"
	"sync"
	"time"

	"littlefolio/internal/clmetrics"
	"littlefolio/internal/models/clanalytics"

	"github.com/rs/zerolog/log"
)

const DefaultHeartbeat = 30 * time.Second

// Gateway regroupe les opérations du cycle de vie d'une page montée
type Gateway interface {
	TrackPageView(ctx context.Context, slug, title string, in clanalytics.PageViewInput) *clanalytics.PageViewRef
	UpsertActiveSession(ctx context.Context, sessionID, pageID string) bool
	CountActiveSessions(ctx context.Context, pageID string) int64
	GetPageAnalytics(ctx context.Context, slug string) *clanalytics.Page
	RecordInteraction(ctx context.Context, pageViewID, pageID string, durationSeconds, scrollPercent float64) bool
	RemoveActiveSession(ctx context.Context, sessionID string) bool
}

// PageState est ce que la présentation affiche pour la page
type PageState struct {
	PageID      string            `json:"pageId"`
	ActiveUsers int64             `json:"activeUsers"`
	Analytics   *clanalytics.Page `json:"analytics"`
}

type PageConfig struct {
	Slug      string
	Title     string
	SessionID string
	View      clanalytics.PageViewInput
	Heartbeat time.Duration
}

// PageSession suit une page montée : vue, présence périodique, défilement,
// puis résumé d'interaction et retrait de la présence au démontage.
type PageSession struct {
	gateway Gateway
	queue   Spawner
	cfg     PageConfig
	now     func() time.Time
	onState func(PageState)

	mu         sync.Mutex
	started    bool
	closed     bool
	mountedAt  time.Time
	pageID     string
	pageViewID string
	maxScroll  float64
	state      PageState

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type SessionOption func(*PageSession)

func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *PageSession) { s.now = now }
}

// OnState est appelé à chaque publication d'état, hors verrou
func OnState(fn func(PageState)) SessionOption {
	return func(s *PageSession) { s.onState = fn }
}

func NewPageSession(gateway Gateway, queue Spawner, cfg PageConfig, opts ...SessionOption) *PageSession {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	s := &PageSession{
		gateway: gateway,
		queue:   queue,
		cfg:     cfg,
		now:     time.Now,
		onState: func(PageState) {},
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start monte la page. ctx borne les appels au stockage du cycle de vie.
func (s *PageSession) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mountedAt = s.now()
	s.mu.Unlock()

	clmetrics.LiveSessions.Inc()
	go s.run(ctx)
}

func (s *PageSession) run(ctx context.Context) {
	defer close(s.done)

	ref := s.gateway.TrackPageView(ctx, s.cfg.Slug, s.cfg.Title, s.cfg.View)
	if ref == nil {
		log.Debug().Str("slug", s.cfg.Slug).Msg("page view not resolved, session inert")
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pageID = ref.PageID
	s.pageViewID = ref.PageViewID
	s.state.PageID = ref.PageID
	s.mu.Unlock()

	s.beat(ctx)

	if page := s.gateway.GetPageAnalytics(ctx, s.cfg.Slug); page != nil {
		s.mu.Lock()
		s.state.Analytics = page
		s.mu.Unlock()
		s.publish()
	}

	// le prochain battement n'est armé qu'une fois le précédent terminé
	timer := time.NewTimer(s.cfg.Heartbeat)
	defer timer.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			s.beat(ctx)
			timer.Reset(s.cfg.Heartbeat)
		}
	}
}

// beat rafraîchit la présence puis recompte les lecteurs de la page
func (s *PageSession) beat(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	pageID := s.pageID
	s.mu.Unlock()

	s.gateway.UpsertActiveSession(ctx, s.cfg.SessionID, pageID)
	count := s.gateway.CountActiveSessions(ctx, pageID)

	s.mu.Lock()
	s.state.ActiveUsers = count
	s.mu.Unlock()
	s.publish()
}

func (s *PageSession) publish() {
	s.onState(s.State())
}

// ObserveScroll mémorise la profondeur maximale atteinte. Une page qui ne
// défile pas compte comme lue entièrement.
func (s *PageSession) ObserveScroll(scrollTop, documentHeight, viewportHeight float64) {
	depth := ScrollDepth(scrollTop, documentHeight, viewportHeight)
	if math.IsNaN(depth) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if depth > s.maxScroll {
		s.maxScroll = depth
	}
}

func ScrollDepth(scrollTop, documentHeight, viewportHeight float64) float64 {
	scrollable := documentHeight - viewportHeight
	if scrollable <= 0 {
		return 100
	}
	return scrollTop / scrollable * 100
}

func (s *PageSession) State() PageState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MaxScroll retourne la profondeur maximale observée jusqu'ici
func (s *PageSession) MaxScroll() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxScroll
}

// Close démonte la page sans bloquer. Les valeurs sont figées à l'appel,
// les écritures partent dans la file de fond après la fin du cycle de vie,
// si bien qu'aucun battement tardif ne peut recréer la présence retirée.
func (s *PageSession) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		started := s.started
		pageID, pageViewID := s.pageID, s.pageViewID
		maxScroll := s.maxScroll
		var elapsed float64
		if started {
			elapsed = s.now().Sub(s.mountedAt).Seconds()
		}
		s.mu.Unlock()

		close(s.stop)
		if !started {
			close(s.done)
		} else {
			clmetrics.LiveSessions.Dec()
		}

		sessionID := s.cfg.SessionID
		s.queue.After(s.done, func(ctx context.Context) {
			if pageID != "" && pageViewID != "" {
				s.gateway.RecordInteraction(ctx, pageViewID, pageID, elapsed, maxScroll)
			}
			s.gateway.RemoveActiveSession(ctx, sessionID)
		})
	})
}

// Done est fermé quand le cycle de vie est terminé
func (s *PageSession) Done() <-chan struct{} {
	return s.done
}
