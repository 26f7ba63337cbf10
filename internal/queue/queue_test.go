package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRegistrar struct {
	mu    sync.Mutex
	calls []string
	notes map[string]string
	fail  map[string]int
}

func newRecordingRegistrar() *recordingRegistrar {
	return &recordingRegistrar{
		notes: make(map[string]string),
		fail:  make(map[string]int),
	}
}

func (r *recordingRegistrar) Register(_ context.Context, orderID, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, orderID)
	r.notes[orderID] = note
	if r.fail[orderID] > 0 {
		r.fail[orderID]--
		return errors.New("tracker unavailable")
	}
	return nil
}

func (r *recordingRegistrar) callCount(orderID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range r.calls {
		if id == orderID {
			n++
		}
	}
	return n
}

func TestQueue(t *testing.T) {
	t.Run("runs enqueued tasks", func(t *testing.T) {
		registrar := newRecordingRegistrar()
		q := New(registrar, zerolog.Nop(), Options{Workers: 2})
		q.Start(context.Background())

		q.EnqueueRegistration("order-1", "urgent")
		q.EnqueueRegistration("order-2", "")
		q.Close()

		assert.Equal(t, 1, registrar.callCount("order-1"))
		assert.Equal(t, 1, registrar.callCount("order-2"))
		assert.Equal(t, "urgent", registrar.notes["order-1"])
	})

	t.Run("retries failed tasks up to the limit", func(t *testing.T) {
		registrar := newRecordingRegistrar()
		registrar.fail["order-1"] = 2
		q := New(registrar, zerolog.Nop(), Options{Workers: 1, Retries: 3, Backoff: time.Millisecond})
		q.Start(context.Background())

		q.EnqueueRegistration("order-1", "")
		q.Close()

		assert.Equal(t, 3, registrar.callCount("order-1"))
	})

	t.Run("gives up after exhausting retries", func(t *testing.T) {
		registrar := newRecordingRegistrar()
		registrar.fail["order-1"] = 10
		q := New(registrar, zerolog.Nop(), Options{Workers: 1, Retries: 2, Backoff: time.Millisecond})
		q.Start(context.Background())

		q.EnqueueRegistration("order-1", "")
		q.Close()

		assert.Equal(t, 3, registrar.callCount("order-1"))
	})

	t.Run("close drains pending tasks", func(t *testing.T) {
		registrar := newRecordingRegistrar()
		q := New(registrar, zerolog.Nop(), Options{Workers: 1})
		q.Start(context.Background())

		for i := 0; i < 20; i++ {
			q.EnqueueRegistration("order-1", "")
		}
		q.Close()

		assert.Equal(t, 20, registrar.callCount("order-1"))
	})

	t.Run("cancelled context abandons retry wait", func(t *testing.T) {
		registrar := newRecordingRegistrar()
		registrar.fail["order-1"] = 10
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		q := New(registrar, zerolog.Nop(), Options{Workers: 1, Retries: 5, Backoff: time.Hour})
		q.Start(ctx)

		q.EnqueueRegistration("order-1", "")
		q.Close()

		assert.Equal(t, 1, registrar.callCount("order-1"))
	})
}

func TestOptionsDefaults(t *testing.T) {
	q := New(newRecordingRegistrar(), zerolog.Nop(), Options{})
	require.Equal(t, 2, q.opts.Workers)
	require.Equal(t, 0, q.opts.Retries)
	require.Equal(t, time.Second, q.opts.Backoff)
	require.Equal(t, 128, q.opts.Capacity)
}
