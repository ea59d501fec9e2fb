// Package ranking maintains the per-service hot score used for listing
// order. Recomputes are triggered by handshake completion, new comments and
// new reputation entries, never polled.
package ranking

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/open-hours/timebank/internal/store"
)

// commentHalfLife controls how fast the recency term decays.
const commentHalfLife = 12 * time.Hour

// Score is the pure ranking function over an activity snapshot. Log damping
// keeps any single signal from dominating; the comment term decays with the
// age of the latest comment.
func Score(stats store.ActivityStats, now time.Time) float64 {
	score := 4 * math.Log1p(float64(stats.CompletedHandshakes))
	score += 2 * math.Log1p(float64(stats.ReputationVolume))
	if stats.CommentCount > 0 {
		age := now.Sub(stats.LastCommentAt)
		if age < 0 {
			age = 0
		}
		decay := math.Exp2(-age.Hours() / commentHalfLife.Hours())
		score += math.Log1p(float64(stats.CommentCount)) * decay
	}
	return score
}

// Ranker consumes recompute triggers for services and stores the resulting
// score last-writer-wins. Duplicate or concurrent triggers for the same
// service are harmless: recompute is idempotent over a data snapshot.
type Ranker struct {
	store store.Store
	now   func() time.Time

	queue chan string
	once  sync.Once
	done  chan struct{}
}

func New(s store.Store) *Ranker {
	return &Ranker{
		store: s,
		now:   time.Now,
		queue: make(chan string, 256),
		done:  make(chan struct{}),
	}
}

// Start launches the recompute worker.
func (r *Ranker) Start() {
	r.once.Do(func() {
		go func() {
			defer close(r.done)
			for serviceID := range r.queue {
				if err := r.Recompute(context.Background(), serviceID); err != nil {
					log.Printf("hot score recompute failed for service %s: %v", serviceID, err)
				}
			}
		}()
	})
}

// Signal enqueues a recompute trigger. A full queue drops the trigger: the
// next activity event on the service re-enqueues it, and the stored score
// only ever needs to reflect some recent snapshot.
func (r *Ranker) Signal(serviceID string) {
	select {
	case r.queue <- serviceID:
	default:
	}
}

// Close drains the worker.
func (r *Ranker) Close() {
	close(r.queue)
	<-r.done
}

// Recompute reads a fresh activity snapshot and stores its score.
func (r *Ranker) Recompute(ctx context.Context, serviceID string) error {
	stats, err := r.store.ServiceActivity(ctx, serviceID)
	if err != nil {
		return err
	}
	return r.store.SetHotScore(ctx, serviceID, Score(stats, r.now()))
}
