package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequeue_RetriesUntilInsertSucceeds(t *testing.T) {
	store := &fakeStore{insertErrs: []error{errors.New("down"), errors.New("still down"), nil}}
	q := NewRequeue(store, 8)
	q.Start(context.Background())
	defer q.Stop()

	q.Enqueue(&UsageRecord{ClientID: "c1", Provider: "claude", Model: "m"})

	deadline := time.Now().Add(5 * time.Second)
	for {
		store.mu.Lock()
		n := len(store.inserted)
		store.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.inserted, 1)
	assert.Equal(t, "c1", store.inserted[0].ClientID)
}

func TestRequeue_FullQueueDoesNotBlock(t *testing.T) {
	store := &fakeStore{}
	q := NewRequeue(store, 1)
	// Not started: nothing drains, so the second enqueue hits a full queue.

	done := make(chan struct{})
	go func() {
		q.Enqueue(&UsageRecord{ClientID: "a"})
		q.Enqueue(&UsageRecord{ClientID: "b"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
}
