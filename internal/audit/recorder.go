// Package audit records gate decisions without holding up the request that
// produced them.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kasperwtrcolor/clawpay/internal/store"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
	"github.com/rs/zerolog/log"
)

// Event types.
const (
	TypeAuthSuccess = "auth_success"
	TypeAuthFailure = "auth_failure"
	TypeRateLimited = "rate_limited"
)

// BufferSize is the number of events queued before Record starts dropping.
const BufferSize = 256

// Recorder writes audit events on a single background goroutine.
type Recorder struct {
	sink    store.AuditStore
	events  chan models.AuditEvent
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewRecorder starts the flush goroutine.
func NewRecorder(sink store.AuditStore) *Recorder {
	r := &Recorder{
		sink:   sink,
		events: make(chan models.AuditEvent, BufferSize),
		done:   make(chan struct{}),
	}
	go r.flush()
	return r
}

// Record queues an event. It never blocks; when the buffer is full the
// event is dropped with a warning.
func (r *Recorder) Record(e models.AuditEvent) {
	if e.ID == "" {
		e.ID = models.NewID(models.AuditIDPrefix)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.events <- e:
	default:
		r.dropped.Add(1)
		log.Warn().Str("type", e.Type).Str("path", e.Path).Msg("Audit buffer full, event dropped")
	}
}

func (r *Recorder) flush() {
	defer close(r.done)
	for e := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.sink.AppendAuditEvent(ctx, &e); err != nil {
			log.Error().Err(err).Str("type", e.Type).Msg("Failed to write audit event")
		}
		cancel()
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Close stops accepting events and waits for queued ones to be written.
func (r *Recorder) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.events)
		r.mu.Unlock()
	})
	<-r.done
}
