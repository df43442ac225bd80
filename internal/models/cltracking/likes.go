package cltracking

import (
	"context"
	"sync"

	"littlefolio/internal/models/clanalytics"
)

type LikeGateway interface {
	AddLike(ctx context.Context, pageID, fingerprint string) clanalytics.Result
	RemoveLike(ctx context.Context, pageID, fingerprint string) clanalytics.Result
	HasLiked(ctx context.Context, pageID, fingerprint string) bool
}

type LikeState struct {
	IsLiked   bool `json:"isLiked"`
	IsLoading bool `json:"isLoading"`
}

// LikeToggle porte l'état "j'aime" d'un visiteur pour une page
type LikeToggle struct {
	gateway     LikeGateway
	fingerprint string
	onState     func(LikeState)

	mu      sync.Mutex
	pageID  string
	liked   bool
	loading bool
	// incrémenté à chaque bascule confirmée, pour écarter une lecture
	// HasLiked arrivée après coup
	version uint64
}

func NewLikeToggle(gateway LikeGateway, fingerprint string, onState func(LikeState)) *LikeToggle {
	if onState == nil {
		onState = func(LikeState) {}
	}
	return &LikeToggle{
		gateway:     gateway,
		fingerprint: fingerprint,
		onState:     onState,
	}
}

// Associate lie le contrôleur à une page. Seule la première association
// d'un id lance la lecture de l'état existant.
func (t *LikeToggle) Associate(ctx context.Context, pageID string) {
	t.mu.Lock()
	if pageID == "" || pageID == t.pageID {
		t.mu.Unlock()
		return
	}
	t.pageID = pageID
	t.liked = false
	version := t.version
	t.mu.Unlock()

	go func() {
		liked := t.gateway.HasLiked(ctx, pageID, t.fingerprint)

		t.mu.Lock()
		if t.pageID != pageID || t.version != version {
			t.mu.Unlock()
			return
		}
		t.liked = liked
		state := t.stateLocked()
		t.mu.Unlock()
		t.onState(state)
	}()
}

// Toggle retire ou ajoute le like. Sans page associée ou pendant une
// bascule en cours, l'appel est ignoré.
func (t *LikeToggle) Toggle(ctx context.Context) bool {
	t.mu.Lock()
	if t.loading || t.pageID == "" {
		t.mu.Unlock()
		return false
	}
	t.loading = true
	pageID, wasLiked := t.pageID, t.liked
	state := t.stateLocked()
	t.mu.Unlock()
	t.onState(state)

	var res clanalytics.Result
	if wasLiked {
		res = t.gateway.RemoveLike(ctx, pageID, t.fingerprint)
	} else {
		res = t.gateway.AddLike(ctx, pageID, t.fingerprint)
	}

	t.mu.Lock()
	t.loading = false
	if res.Success && t.pageID == pageID {
		t.liked = !wasLiked
		t.version++
	}
	state = t.stateLocked()
	t.mu.Unlock()
	t.onState(state)

	return res.Success
}

func (t *LikeToggle) State() LikeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

func (t *LikeToggle) stateLocked() LikeState {
	return LikeState{IsLiked: t.liked, IsLoading: t.loading}
}
