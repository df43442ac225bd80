package handlers_live

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"littlefolio/internal/clmiddleware"
	"littlefolio/internal/models/clanalytics"
	"littlefolio/internal/models/cltracking"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// LiveHandler sert une connexion websocket par page ouverte. La connexion
// vit exactement aussi longtemps que la page : elle monte une PageSession
// à l'ouverture et la démonte à la fermeture.
type LiveHandler struct {
	ctx       context.Context
	gateway   *clanalytics.Gateway
	queue     *cltracking.Background
	heartbeat time.Duration
	origins   []string
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	wg      sync.WaitGroup
}

// NewLiveHandler : ctx borne les appels au stockage des sessions, queue
// reçoit les démontages
func NewLiveHandler(ctx context.Context, gateway *clanalytics.Gateway, queue *cltracking.Background, heartbeat time.Duration, origins []string) *LiveHandler {
	lh := &LiveHandler{
		ctx:       ctx,
		gateway:   gateway,
		queue:     queue,
		heartbeat: heartbeat,
		origins:   origins,
		clients:   make(map[*client]struct{}),
	}
	lh.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      lh.checkOrigin,
	}
	return lh
}

func (lh *LiveHandler) Register(r gin.IRoutes) {
	r.GET("/page", lh.ServePage)
}

func (lh *LiveHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if clmiddleware.OriginAllowed(lh.origins, origin, r.Host) {
		return true
	}
	log.Warn().Str("origin", origin).Msg("websocket connection rejected: origin not allowed")
	return false
}

// ServePage : GET /ws/page?path=/blog/x&title=...&referrer=...&sid=...
func (lh *LiveHandler) ServePage(c *gin.Context) {
	slug := c.Query("path")
	if slug == "" || !strings.HasPrefix(slug, "/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path invalide"})
		return
	}

	id := clmiddleware.GetIdentity(c)

	// cookies d'identité posés par le middleware, transmis avec la réponse 101
	header := http.Header{}
	for _, cookie := range c.Writer.Header().Values("Set-Cookie") {
		header.Add("Set-Cookie", cookie)
	}
	c.Writer.Header().Del("Set-Cookie")

	conn, err := lh.upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	cl := newClient(conn)
	if !lh.track(cl) {
		_ = conn.Close()
		return
	}
	defer lh.untrack(cl)

	likes := cltracking.NewLikeToggle(lh.gateway, id.Fingerprint, func(st cltracking.LikeState) {
		cl.push(Message{Type: MessageTypeLikes, Data: st})
	})
	session := cltracking.NewPageSession(lh.gateway, lh.queue, cltracking.PageConfig{
		Slug:      slug,
		Title:     c.Query("title"),
		SessionID: id.SessionID,
		View: clanalytics.PageViewInput{
			VisitorID: id.VisitorID,
			UserAgent: id.UserAgent,
			Referrer:  c.Query("referrer"),
			IP:        id.IP,
		},
		Heartbeat: lh.heartbeat,
	}, cltracking.OnState(func(st cltracking.PageState) {
		if st.PageID != "" {
			likes.Associate(lh.ctx, st.PageID)
		}
		cl.push(Message{Type: MessageTypeAnalytics, Data: st})
	}))

	cl.push(Message{Type: MessageTypeHello, Data: HelloData{SessionID: id.SessionID}})
	session.Start(lh.ctx)

	go cl.writePump()
	cl.readPump(func(msg Inbound) {
		lh.dispatch(cl, session, likes, msg)
	})

	session.Close()
	cl.close()
}

func (lh *LiveHandler) dispatch(cl *client, session *cltracking.PageSession, likes *cltracking.LikeToggle, msg Inbound) {
	switch msg.Type {
	case MessageTypeScroll:
		var data ScrollData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			log.Debug().Err(err).Msg("invalid scroll message")
			return
		}
		session.ObserveScroll(data.ScrollTop, data.DocumentHeight, data.ViewportHeight)
	case MessageTypeLike:
		go likes.Toggle(lh.ctx)
	case MessageTypePing:
		cl.push(Message{Type: MessageTypePong, Data: nil})
	default:
		log.Debug().Str("type", msg.Type).Msg("unknown websocket message type")
	}
}

func (lh *LiveHandler) track(cl *client) bool {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	if lh.clients == nil {
		return false
	}
	lh.clients[cl] = struct{}{}
	lh.wg.Add(1)
	return true
}

func (lh *LiveHandler) untrack(cl *client) {
	lh.mu.Lock()
	if lh.clients != nil {
		delete(lh.clients, cl)
	}
	lh.mu.Unlock()
	lh.wg.Done()
}

// CloseAll ferme toutes les connexions et refuse les suivantes. Chaque page
// ouverte est démontée comme si le lecteur était parti.
func (lh *LiveHandler) CloseAll() {
	lh.mu.Lock()
	clients := lh.clients
	lh.clients = nil
	lh.mu.Unlock()

	for cl := range clients {
		_ = cl.conn.Close()
	}
}

// Wait attend la fin des gestionnaires de connexion
func (lh *LiveHandler) Wait() {
	lh.wg.Wait()
}

// Count retourne le nombre de connexions ouvertes
func (lh *LiveHandler) Count() int {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	return len(lh.clients)
}
