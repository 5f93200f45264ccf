package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic tsfeed publishes to.
const TopicPrefix = "tsfeed"

// Topics builds the topic names used by a feeder instance.
//
// Topic layout:
//
//	tsfeed/{store}/status   retained, last known feeder status (LWT target)
//	tsfeed/{store}/event    not retained, failures and reconnects
type Topics struct {
	Store string
}

// Status returns the retained status topic for the store.
//
// Example: tsfeed/metrics/status
func (t Topics) Status() string {
	return fmt.Sprintf("%s/%s/status", TopicPrefix, sanitizeSegment(t.Store))
}

// Event returns the event topic for the store.
//
// Example: tsfeed/metrics/event
func (t Topics) Event() string {
	return fmt.Sprintf("%s/%s/event", TopicPrefix, sanitizeSegment(t.Store))
}

// All returns a pattern matching every topic of every feeder.
//
// Pattern: tsfeed/#
func (Topics) All() string {
	return TopicPrefix + "/#"
}

// sanitizeSegment makes a store name safe for use as a single topic level.
// Wildcards and separators are replaced so a store name can never widen a
// subscription or add levels.
func sanitizeSegment(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

// validTopic reports whether topic can be published to.
func validTopic(topic string) bool {
	if topic == "" || len(topic) > maxTopicLength {
		return false
	}
	return !strings.ContainsAny(topic, "+#\x00")
}
