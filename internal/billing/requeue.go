package billing

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Requeue is a bounded best-effort retry queue for usage records whose
// initial insert failed. A lost write means a provider call that is neither
// billed nor audited, so failures here are logged at high severity and
// retried in the background rather than dropped.
type Requeue struct {
	store Store
	ch    chan *UsageRecord

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRequeue(store Store, size int) *Requeue {
	if size <= 0 {
		size = 256
	}
	return &Requeue{
		store: store,
		ch:    make(chan *UsageRecord, size),
	}
}

func (q *Requeue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.drain(ctx)
	}()
}

// Stop cancels the drain loop and waits for the in-flight retry to finish.
// Records still queued are reported as lost.
func (q *Requeue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()

	remaining := len(q.ch)
	if remaining > 0 {
		log.Printf("CRITICAL: billing requeue stopped with %d unwritten usage records", remaining)
	}
}

// Enqueue submits a record for background retry. Never blocks the call
// path; a full queue is a loud failure, not a silent drop.
func (q *Requeue) Enqueue(rec *UsageRecord) {
	select {
	case q.ch <- rec:
	default:
		log.Printf("CRITICAL: billing requeue full, usage record lost: client=%s provider=%s model=%s cost=%.6f",
			rec.ClientID, rec.Provider, rec.Model, rec.TotalCostUSD())
	}
}

func (q *Requeue) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-q.ch:
			q.retryInsert(ctx, rec)
		}
	}
}

func (q *Requeue) retryInsert(ctx context.Context, rec *UsageRecord) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, q.store.Insert(ctx, rec)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(5))

	if err != nil {
		log.Printf("CRITICAL: usage record unrecoverable after retries: client=%s provider=%s model=%s cost=%.6f err=%v",
			rec.ClientID, rec.Provider, rec.Model, rec.TotalCostUSD(), err)
	}
}
