// Package events carries outbound pipeline notifications (new candidates, new scores) to sinks.
package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type Type string

const (
	CandidateCreated Type = "candidate.created"
	ScoreUpserted    Type = "score.upserted"
)

type Event struct {
	Type        Type      `json:"type"`
	TenantID    string    `json:"tenantId"`
	CandidateID string    `json:"candidateId"`
	RoleID      string    `json:"roleId,omitempty"`
	Score       *int      `json:"score,omitempty"`
	MessageID   string    `json:"messageId,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Publisher is what the ingestion code depends on.
type Publisher interface {
	Publish(ev Event)
}

type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

var ErrBusClosed = errors.New("event bus closed")

// Bus is a buffered channel fanning events out to sinks. Publish never blocks the pipeline:
// when the buffer is full the event is dropped and logged.
type Bus struct {
	ch     chan Event
	sinks  []Sink
	logger *zap.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

func NewBus(buffer int, log *zap.Logger, sinks ...Sink) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		ch:     make(chan Event, buffer),
		sinks:  sinks,
		logger: log.Named("events"),
	}
}

func (b *Bus) Publish(ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	select {
	case b.ch <- ev:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event buffer full, dropping event",
			zap.String("type", string(ev.Type)),
			zap.String("candidate_id", ev.CandidateID),
		)
	}
}

// Run delivers events until ctx is cancelled or Close drains the channel.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-b.ch:
			if !ok {
				return
			}
			b.deliver(ctx, ev)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, ev Event) {
	for _, sink := range b.sinks {
		if err := sink.Deliver(ctx, ev); err != nil {
			b.logger.Error("event delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("type", string(ev.Type)),
				zap.Error(err),
			)
		}
	}
}

// Close stops accepting events. Pending events are still delivered by Run.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{logger: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("type", string(ev.Type)),
		zap.String("tenant_id", ev.TenantID),
		zap.String("candidate_id", ev.CandidateID),
	}
	if ev.RoleID != "" {
		fields = append(fields, zap.String("role_id", ev.RoleID))
	}
	if ev.Score != nil {
		fields = append(fields, zap.Int("score", *ev.Score))
	}
	s.logger.Info("pipeline event", fields...)
	return nil
}

// Recorder keeps delivered events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Deliver(_ context.Context, ev Event) error {
	r.Publish(ev)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
