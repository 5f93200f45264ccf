package status

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/tsfeed/internal/infrastructure/logging"
	"github.com/nerrad567/tsfeed/internal/infrastructure/mqtt"
	"github.com/nerrad567/tsfeed/internal/tsstore"
)

// eventBuffer is how many events may queue while the broker is slow.
// Further events are dropped.
const eventBuffer = 32

// Publisher is the subset of *mqtt.Client the reporter needs.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
	PublishEvent(topic string, payload []byte) error
}

// Document is the retained status payload.
type Document struct {
	Status        string `json:"status"`
	State         string `json:"state"`
	Store         string `json:"store"`
	Acked         uint64 `json:"acked"`
	LastTimestamp int64  `json:"last_timestamp,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	UpdatedAt     string `json:"updated_at"`
}

// Event is a non-retained notification on the event topic.
type Event struct {
	Event   string `json:"event"`
	Kind    string `json:"kind,omitempty"`
	Error   string `json:"error,omitempty"`
	DelayMS int64  `json:"delay_ms,omitempty"`
	At      string `json:"at"`
}

// MQTTReporter mirrors collector events onto MQTT topics.
type MQTTReporter struct {
	pub    Publisher
	topics mqtt.Topics
	logger *logging.Logger
	now    func() time.Time

	mu    sync.Mutex
	doc   Document
	dirty bool

	wake   chan struct{}
	events chan Event
}

// NewMQTTReporter creates a reporter for one store. Run must be started
// for anything to be published.
func NewMQTTReporter(pub Publisher, store string, logger *logging.Logger) *MQTTReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return &MQTTReporter{
		pub:    pub,
		topics: mqtt.Topics{Store: store},
		logger: logger,
		now:    time.Now,
		doc: Document{
			Status: "online",
			State:  tsstore.StateDisconnected.String(),
			Store:  store,
		},
		dirty:  true,
		wake:   make(chan struct{}, 1),
		events: make(chan Event, eventBuffer),
	}
}

// Run publishes pending updates until ctx is cancelled.
func (r *MQTTReporter) Run(ctx context.Context) error {
	r.flush()
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return nil
		case <-r.wake:
			r.flush()
		case ev := <-r.events:
			r.publishEvent(ev)
		}
	}
}

// Republish marks the current document for publishing again. Wire it to
// the MQTT client's reconnect callback so the retained document replaces
// the plain online presence message.
func (r *MQTTReporter) Republish() {
	r.update(func(*Document) {})
}

// Current returns a copy of the status document.
func (r *MQTTReporter) Current() Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc
}

// StateChanged implements collector.Observer.
func (r *MQTTReporter) StateChanged(_, to tsstore.State) {
	r.update(func(d *Document) {
		d.State = to.String()
		if to == tsstore.StateTerminated {
			d.Status = "offline"
		}
	})
}

// Delivered implements collector.Observer.
func (r *MQTTReporter) Delivered(_ tsstore.Record, timestamp int64, _ time.Duration) {
	r.update(func(d *Document) {
		d.Acked++
		d.LastTimestamp = timestamp
	})
}

// Failed implements collector.Observer.
func (r *MQTTReporter) Failed(err error) {
	r.update(func(d *Document) { d.LastError = err.Error() })
	r.enqueue(Event{Event: "failure", Kind: kindName(err), Error: err.Error()})
}

// Skipped implements collector.Observer.
func (r *MQTTReporter) Skipped(err error) {
	r.enqueue(Event{Event: "skip", Kind: kindName(err), Error: err.Error()})
}

// Retrying implements collector.Observer.
func (r *MQTTReporter) Retrying(delay time.Duration) {
	r.enqueue(Event{Event: "retry", DelayMS: delay.Milliseconds()})
}

func (r *MQTTReporter) update(fn func(*Document)) {
	r.mu.Lock()
	fn(&r.doc)
	r.doc.UpdatedAt = r.now().UTC().Format(time.RFC3339)
	r.dirty = true
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *MQTTReporter) enqueue(ev Event) {
	ev.At = r.now().UTC().Format(time.RFC3339)
	select {
	case r.events <- ev:
	default:
		r.logger.Debug("mqtt event dropped", "event", ev.Event)
	}
}

// flush publishes the document if it changed since the last publish.
func (r *MQTTReporter) flush() {
	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return
	}
	doc := r.doc
	r.dirty = false
	r.mu.Unlock()

	payload, err := json.Marshal(doc)
	if err != nil {
		r.logger.Error("encoding status document", "error", err)
		return
	}
	if err := r.pub.PublishRetained(r.topics.Status(), payload); err != nil {
		r.logPublishError("status", err)
		// Retry on the next wake-up.
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
	}
}

func (r *MQTTReporter) publishEvent(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("encoding status event", "error", err)
		return
	}
	if err := r.pub.PublishEvent(r.topics.Event(), payload); err != nil {
		r.logPublishError("event", err)
	}
}

func (r *MQTTReporter) logPublishError(what string, err error) {
	if errors.Is(err, mqtt.ErrNotConnected) {
		r.logger.Debug("mqtt publish skipped, broker not connected", "message", what)
		return
	}
	r.logger.Warn("mqtt publish failed", "message", what, "error", err)
}

// kindName returns the tsstore error kind name, or "unknown".
func kindName(err error) string {
	if k, ok := tsstore.KindOf(err); ok {
		return k.String()
	}
	return "unknown"
}
