package scheduler

import (
	"context"
	"sync"
	"time"

	"paddock/internal/metrics"
	"paddock/internal/storage"
	"paddock/pkg/logx"
)

// Config controls the trigger evaluation loop.
type Config struct {
	Workers      int
	QueueSize    int
	PollInterval time.Duration
	HistorySize  int
}

// TriggerStore is the slice of the durable registry the loop needs.
// *storage.Store satisfies it; tests use an in-memory fake.
type TriggerStore interface {
	InsertTriggerIfAbsent(ctx context.Context, tr storage.Trigger) (bool, error)
	DeleteTrigger(ctx context.Context, id string) (bool, error)
	DueTriggers(ctx context.Context, now time.Time) ([]storage.Trigger, error)
	ListTriggers(ctx context.Context) ([]storage.Trigger, error)
}

// Handler executes a fired trigger. Handlers must tolerate at-least-once
// delivery: a crash after claim but before completion means the next
// periodic check re-derives the work.
type Handler func(ctx context.Context, tr storage.Trigger) error

// HistoryItem records one executed (or failed) fire for the admin surface.
type HistoryItem struct {
	TriggerID string
	Purpose   storage.Purpose
	Started   time.Time
	Duration  time.Duration
	Error     string
}

type task struct {
	tr storage.Trigger
}

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	store TriggerStore
	met   *metrics.Set

	now func() time.Time

	handlers map[storage.Purpose]Handler

	queue    chan task
	stopCh   chan struct{}
	workerWG sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}
