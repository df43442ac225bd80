package cltracking

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Spawner exécute une tâche de fond sans que l'appelant attende son résultat
type Spawner interface {
	Go(fn func(ctx context.Context))
	After(done <-chan struct{}, fn func(ctx context.Context))
}

// Background est une file bornée d'écritures "fire and forget". Les tâches
// reçoivent un contexte détaché de l'annulation pour finir pendant l'arrêt.
type Background struct {
	ctx     context.Context
	group   errgroup.Group
	pending sync.WaitGroup
}

func NewBackground(ctx context.Context, workers int) *Background {
	b := &Background{ctx: context.WithoutCancel(ctx)}
	if workers > 0 {
		b.group.SetLimit(workers)
	}
	return b
}

// Go bloque tant que toutes les places sont occupées
func (b *Background) Go(fn func(ctx context.Context)) {
	b.group.Go(func() error {
		fn(b.ctx)
		return nil
	})
}

// After soumet fn une fois done fermé, sans bloquer l'appelant. L'attente
// ne consomme pas de place dans la file.
func (b *Background) After(done <-chan struct{}, fn func(ctx context.Context)) {
	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		<-done
		b.Go(fn)
	}()
}

// Wait attend les soumissions différées puis la fin des tâches, à appeler
// à l'arrêt
func (b *Background) Wait() {
	b.pending.Wait()
	_ = b.group.Wait()
}
