package clidentity

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	VisitorIDKey = "analytics_visitor_id"
	SessionIDKey = "analytics_session_id"
)

// Store est un stockage clé/valeur côté client. Le stockage durable
// survit aux redémarrages du navigateur, l'éphémère disparaît avec la
// session de navigation.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// Provider résout les deux identifiants avec la règle "lire ou créer"
type Provider struct {
	durable     Store
	ephemeral   Store
	fingerprint func() Components
	now         func() time.Time

	mu sync.Mutex
}

func NewProvider(durable, ephemeral Store, fingerprint func() Components) *Provider {
	return &Provider{
		durable:     durable,
		ephemeral:   ephemeral,
		fingerprint: fingerprint,
		now:         time.Now,
	}
}

// VisitorID lit l'identifiant en cache, sinon le dérive de l'empreinte
func (p *Provider) VisitorID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.durable.Get(VisitorIDKey); ok && id != "" {
		return id
	}
	id := VisitorIDFor(p.fingerprint())
	p.durable.Set(VisitorIDKey, id)
	return id
}

// AnonymousFingerprint est la clé d'attribution des likes et commentaires
func (p *Provider) AnonymousFingerprint() string {
	return p.VisitorID()
}

func (p *Provider) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.ephemeral.Get(SessionIDKey); ok && id != "" {
		return id
	}
	id := NewSessionID(p.now())
	p.ephemeral.Set(SessionIDKey, id)
	return id
}

// NewSessionID compose l'horodatage en millisecondes et un suffixe aléatoire
func NewSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:13]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}

var sessionIDPattern = regexp.MustCompile(`^[0-9]{10,16}-[0-9a-z]{6,16}$`)

// ValidSessionID vérifie la forme d'un identifiant de session fourni par le client
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// MemoryStore est un Store en mémoire, utilisé par les tests et les
// clients sans cookies
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryStore) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}
