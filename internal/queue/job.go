package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Named queues used by the ingestion pipeline.
const (
	KindClassifyEmail  = "classify-email"
	KindProcessCV      = "process-cv"
	KindScoreCandidate = "score-candidate"
)

type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Priority ranges from 0 to MaxPriority; higher runs first.
const (
	PriorityLow    = 1
	PriorityNormal = 5
	PriorityHigh   = 8
	MaxPriority    = 9
)

type Job struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"maxAttempts"`
	State       State           `json:"state"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v interface{}) error {
	return json.Unmarshal(j.Payload, v)
}

// Handler processes one attempt of a job. Returning an error schedules a retry until attempts run out.
type Handler func(ctx context.Context, job *Job) error

type Option func(*Job)

func WithPriority(p int) Option {
	return func(j *Job) {
		if p < 0 {
			p = 0
		}
		if p > MaxPriority {
			p = MaxPriority
		}
		j.Priority = p
	}
}

func WithMaxAttempts(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.MaxAttempts = n
		}
	}
}

// Delivery is a job handed to a worker together with its broker acknowledgement.
type Delivery struct {
	Job *Job
	Ack func() error
}

// Broker transports ready-to-run jobs. Retries and bookkeeping stay in Queue.
type Broker interface {
	Declare(kind string) error
	Publish(ctx context.Context, job *Job) error
	Consume(ctx context.Context, kind string) (<-chan Delivery, error)
	Close() error
}

// depthReporter is implemented by brokers that can report backlog shared across processes.
type depthReporter interface {
	Depth(kind string) (int, error)
}
