// Package logs provides real-time log streaming functionality.
package logs

import (
	"log/slog"
	"sync"
	"time"

	"github.com/leoscope/leoscope/internal/models"
)

// Subscriber represents a log stream subscriber.
type Subscriber struct {
	ID        string
	RunID     string
	Stream    string // "stdout", "stderr", or "" for all
	Ch        chan *models.LogEntry
	CreatedAt time.Time
}

// Broker manages log subscriptions and publishing, used by `leoctl run
// logs -f` to tail a run's captured container output live.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber // subscriber ID -> subscriber
	logger      *slog.Logger
}

// NewBroker creates a new log broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subscribers: make(map[string]*Subscriber),
		logger:      logger,
	}
}

// Subscribe creates a new subscription for log events on a single run.
// stream filters to "stdout" or "stderr"; empty means both.
func (b *Broker) Subscribe(runID, stream string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:        generateSubscriberID(),
		RunID:     runID,
		Stream:    stream,
		Ch:        make(chan *models.LogEntry, 100),
		CreatedAt: time.Now(),
	}

	b.subscribers[sub.ID] = sub
	b.logger.Debug("subscriber added", "subscriber_id", sub.ID, "run_id", runID)

	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[sub.ID]; exists {
		close(sub.Ch)
		delete(b.subscribers, sub.ID)
		b.logger.Debug("subscriber removed", "subscriber_id", sub.ID)
	}
}

// Publish sends a log entry to all matching subscribers.
func (b *Broker) Publish(entry *models.LogEntry) {
	if entry == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if b.matches(sub, entry) {
			select {
			case sub.Ch <- entry:
			default:
				b.logger.Warn("subscriber channel full, dropping log entry",
					"subscriber_id", sub.ID,
					"run_id", entry.RunID,
				)
			}
		}
	}
}

// PublishBatch sends multiple log entries to all matching subscribers.
func (b *Broker) PublishBatch(entries []*models.LogEntry) {
	for _, entry := range entries {
		b.Publish(entry)
	}
}

// matches checks if a log entry matches a subscriber's filters.
func (b *Broker) matches(sub *Subscriber, entry *models.LogEntry) bool {
	if sub.RunID != "" && sub.RunID != entry.RunID {
		return false
	}
	if sub.Stream != "" && sub.Stream != entry.Stream {
		return false
	}
	return true
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// generateSubscriberID generates a unique subscriber ID.
func generateSubscriberID() string {
	return time.Now().Format("20060102150405.000000000")
}
