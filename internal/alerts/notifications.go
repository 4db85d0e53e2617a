package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"sensorwatch/internal/logger"
	"sensorwatch/internal/metrics"
	"sensorwatch/internal/models"
	"sensorwatch/internal/state"
)

// HistoryKey is the storage key of the persisted notification history.
const HistoryKey = "notificationHistory"

// ChangeKind describes a mutation of the notification log.
type ChangeKind string

const (
	ChangeAppended ChangeKind = "appended"
	ChangeCleared  ChangeKind = "cleared"
)

// Change is delivered to subscribers after every mutation.
type Change struct {
	Kind ChangeKind
	// Events holds the appended batch; empty for ChangeCleared.
	Events []models.AlertEvent
	// Count is the log size after the mutation.
	Count int
}

// Subscriber receives log changes in mutation order. It must not call
// Append or Clear on the log it is subscribed to.
type Subscriber func(Change)

// LogOptions configures a NotificationLog.
type LogOptions struct {
	// MaxEntries caps the history; oldest entries are dropped first. 0 is unbounded.
	MaxEntries int
}

// NotificationLog is the ordered alert history. Each appended batch becomes
// visible atomically and the full log is persisted after every mutation.
type NotificationLog struct {
	store      state.Store
	maxEntries int

	mu     sync.Mutex
	events []models.AlertEvent

	// dispatchMu keeps subscriber delivery in mutation order.
	dispatchMu sync.Mutex
	subMu      sync.RWMutex
	subs       map[int]Subscriber
	nextSub    int
}

// NewNotificationLog creates an empty log persisted in store.
func NewNotificationLog(store state.Store, opts LogOptions) *NotificationLog {
	return &NotificationLog{
		store:      store,
		maxEntries: opts.MaxEntries,
		subs:       make(map[int]Subscriber),
	}
}

// persistedEvent tolerates histories whose timestamps are not RFC 3339.
type persistedEvent struct {
	Message   string  `json:"message"`
	Type      string  `json:"type"`
	Condition string  `json:"condition"`
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// Load replaces the in-memory log with the persisted history. A missing key
// yields an empty log; a corrupt history is logged and ignored.
func (l *NotificationLog) Load(ctx context.Context) error {
	log := logger.WithComponent("notifications")

	raw, err := l.store.Get(ctx, HistoryKey)
	if errors.Is(err, state.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read notification history: %w", err)
	}

	var stored []persistedEvent
	if err := json.Unmarshal(raw, &stored); err != nil {
		log.Warn().Err(err).Msg("ignoring corrupt notification history")
		return nil
	}

	events := make([]models.AlertEvent, 0, len(stored))
	for _, p := range stored {
		m := models.Metric(p.Type)
		if !m.IsValid() {
			continue
		}
		ts, err := models.ParseTimestamp(p.Timestamp)
		if err != nil {
			ts = time.Time{}
		}
		events = append(events, models.AlertEvent{
			Message:   p.Message,
			Metric:    m,
			Condition: models.ParseCondition(p.Condition, m.DefaultCondition()),
			Timestamp: ts,
			Value:     p.Value,
			Threshold: p.Threshold,
		})
	}

	l.mu.Lock()
	l.events = l.trim(events)
	count := len(l.events)
	l.mu.Unlock()

	metrics.NotificationLogSize.Set(float64(count))
	log.Info().Int("count", count).Msg("notification history loaded")
	return nil
}

// Append adds events to the end of the log as one batch, preserving their
// order. The in-memory log is updated even when persisting fails; in that
// case the returned error wraps ErrPersist.
func (l *NotificationLog) Append(ctx context.Context, events []models.AlertEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := make([]models.AlertEvent, len(events))
	copy(batch, events)

	l.mu.Lock()
	l.events = l.trim(append(l.events, batch...))
	count := len(l.events)
	err := l.persistLocked(ctx)
	l.dispatchMu.Lock()
	l.mu.Unlock()

	metrics.NotificationLogSize.Set(float64(count))
	l.dispatch(Change{Kind: ChangeAppended, Events: batch, Count: count})
	l.dispatchMu.Unlock()

	return err
}

// List returns a copy of the log, oldest first.
func (l *NotificationLog) List() []models.AlertEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.AlertEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Count returns the number of events in the log.
func (l *NotificationLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Clear empties the log and removes the persisted history.
func (l *NotificationLog) Clear(ctx context.Context) error {
	l.mu.Lock()
	l.events = nil
	var err error
	if perr := l.store.Apply(ctx, state.Remove(HistoryKey)); perr != nil {
		metrics.PersistFailuresTotal.WithLabelValues("notifications").Inc()
		log := logger.WithComponent("notifications")
		log.Error().Err(perr).Msg("failed to remove notification history")
		err = fmt.Errorf("%w notification history: %w", ErrPersist, perr)
	}
	l.dispatchMu.Lock()
	l.mu.Unlock()

	metrics.NotificationLogSize.Set(0)
	l.dispatch(Change{Kind: ChangeCleared})
	l.dispatchMu.Unlock()

	return err
}

// Subscribe registers fn for future changes and returns a function that
// removes the subscription.
func (l *NotificationLog) Subscribe(fn Subscriber) (unsubscribe func()) {
	l.subMu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	l.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.subMu.Lock()
			delete(l.subs, id)
			l.subMu.Unlock()
		})
	}
}

func (l *NotificationLog) dispatch(c Change) {
	l.subMu.RLock()
	ids := make([]int, 0, len(l.subs))
	for id := range l.subs {
		ids = append(ids, id)
	}
	subs := make([]Subscriber, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		subs = append(subs, l.subs[id])
	}
	l.subMu.RUnlock()

	for _, fn := range subs {
		fn(c)
	}
}

// persistLocked writes the full log. Must be called with l.mu held.
func (l *NotificationLog) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(l.events)
	if err == nil {
		err = l.store.Apply(ctx, state.Put(HistoryKey, data))
	}
	if err != nil {
		metrics.PersistFailuresTotal.WithLabelValues("notifications").Inc()
		log := logger.WithComponent("notifications")
		log.Error().
			Err(err).
			Int("count", len(l.events)).
			Msg("failed to persist notification history")
		return fmt.Errorf("%w notification history: %w", ErrPersist, err)
	}
	return nil
}

func (l *NotificationLog) trim(events []models.AlertEvent) []models.AlertEvent {
	if l.maxEntries > 0 && len(events) > l.maxEntries {
		kept := make([]models.AlertEvent, l.maxEntries)
		copy(kept, events[len(events)-l.maxEntries:])
		return kept
	}
	return events
}
