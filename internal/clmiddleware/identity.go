package clmiddleware

import (
	"regexp"
	"strconv"
	"strings"

	"littlefolio/internal/models/clidentity"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	VisitorCookie       = "_visitor_id"
	visitorCookieMaxAge = 365 * 24 * 60 * 60 * 2 // 2 ans
	identityKey         = "identity"
	SessionHintHeader   = "X-Session-Id"
)

var visitorIDPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Identity est l'identité analytics résolue pour la requête
type Identity struct {
	VisitorID   string
	SessionID   string
	Fingerprint string
	UserAgent   string
	IP          string
}

// cookieStore est le stockage durable : le cookie _visitor_id
type cookieStore struct {
	c      *gin.Context
	secure bool
	value  string
}

func (s *cookieStore) Get(key string) (string, bool) {
	if key != clidentity.VisitorIDKey {
		return "", false
	}
	if s.value != "" {
		return s.value, true
	}
	v, err := s.c.Cookie(VisitorCookie)
	if err != nil || !visitorIDPattern.MatchString(v) {
		return "", false
	}
	s.value = v
	return v, true
}

func (s *cookieStore) Set(key, value string) {
	if key != clidentity.VisitorIDKey {
		return
	}
	s.value = value
	s.c.SetCookie(VisitorCookie, value, visitorCookieMaxAge, "/", "", s.secure, true)
}

// tabStore est le stockage éphémère. Le script de suivi garde l'id de
// session dans le sessionStorage de l'onglet et le renvoie ; à défaut
// on retombe sur la session cookie du navigateur.
type tabStore struct {
	session sessions.Session
	hint    string
}

func (s *tabStore) Get(key string) (string, bool) {
	if key != clidentity.SessionIDKey {
		return "", false
	}
	if clidentity.ValidSessionID(s.hint) {
		return s.hint, true
	}
	v, ok := s.session.Get(key).(string)
	if !ok || !clidentity.ValidSessionID(v) {
		return "", false
	}
	return v, true
}

func (s *tabStore) Set(key, value string) {
	s.hint = value
	s.session.Set(key, value)
	if err := s.session.Save(); err != nil {
		log.Warn().Err(err).Msg("session save failed")
	}
}

// IdentityMiddleware résout visiteur et session pour les routes analytics.
// Nécessite le middleware de session.
func IdentityMiddleware(production bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		durable := &cookieStore{c: c, secure: production}
		ephemeral := &tabStore{session: sessions.Default(c), hint: sessionHint(c)}
		provider := clidentity.NewProvider(durable, ephemeral, func() clidentity.Components {
			return ComponentsFromRequest(c)
		})

		visitorID := provider.VisitorID()
		c.Set(identityKey, Identity{
			VisitorID:   visitorID,
			SessionID:   provider.SessionID(),
			Fingerprint: visitorID,
			UserAgent:   c.Request.UserAgent(),
			IP:          c.ClientIP(),
		})
		c.Next()
	}
}

// GetIdentity retourne l'identité posée par IdentityMiddleware
func GetIdentity(c *gin.Context) Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{}
}

func sessionHint(c *gin.Context) string {
	if sid := c.Query("sid"); sid != "" {
		return sid
	}
	return c.GetHeader(SessionHintHeader)
}

// ComponentsFromRequest lit l'empreinte : en-têtes standards plus les
// indices envoyés par le script (paramètre fp_xx ou en-tête X-Fp-Xx)
func ComponentsFromRequest(c *gin.Context) clidentity.Components {
	hint := func(name string) string {
		if v := c.Query("fp_" + name); v != "" {
			return v
		}
		return c.GetHeader("X-Fp-" + name)
	}
	number := func(name string) int {
		n, err := strconv.Atoi(hint(name))
		if err != nil || n < 0 {
			return 0
		}
		return n
	}

	comp := clidentity.Components{
		UserAgent:      c.Request.UserAgent(),
		Language:       extractLanguage(c.GetHeader("Accept-Language")),
		ColorDepth:     number("cd"),
		ScreenWidth:    number("sw"),
		ScreenHeight:   number("sh"),
		SessionStorage: hint("ss") == "1" || hint("ss") == "true",
		LocalStorage:   hint("ls") == "1" || hint("ls") == "true",
		Canvas:         hint("canvas"),
	}
	if tz, err := strconv.Atoi(hint("tz")); err == nil {
		comp.TimezoneOffset = &tz
	}
	return comp
}

// extractLanguage garde la langue préférée du visiteur
// (ex: "fr-FR,fr;q=0.9,en-US;q=0.8" -> "fr-FR")
func extractLanguage(acceptLang string) string {
	if acceptLang == "" {
		return ""
	}
	first := strings.Split(acceptLang, ",")[0]
	return strings.TrimSpace(strings.Split(first, ";")[0])
}
