package agent

import (
	"encoding/json"
	"reflect"
	"time"
)

// WatchKind is the sub-kind of a resource lifecycle notification.
type WatchKind string

const (
	WatchAdded    WatchKind = "added"
	WatchModified WatchKind = "modified"
	WatchDeleted  WatchKind = "deleted"
)

// nowFunc is overridden in tests to make event timestamps deterministic.
var nowFunc = time.Now

// Event is the tagged variant at the heart of the data model: either a
// one-shot ClusterEvent or a per-object WatchEvent. The two shapes are
// fixed and closed, so a small interface stands in for a class hierarchy.
type Event interface {
	ToWireDict() map[string]interface{}
	eventMarker()
}

// ClusterEvent reports a one-shot cluster-level fact, emitted once at
// ClusterDiscovery startup.
type ClusterEvent struct {
	Version   string
	timestamp int64
}

// NewClusterEvent builds a ClusterEvent stamped with the current time.
func NewClusterEvent(version string) ClusterEvent {
	return ClusterEvent{Version: version, timestamp: nowFunc().UnixNano()}
}

func (ClusterEvent) eventMarker() {}

// ToWireDict returns the canonical wire shape for this event.
func (c ClusterEvent) ToWireDict() map[string]interface{} {
	return map[string]interface{}{
		"metadata": map[string]interface{}{
			"kind":      "cluster",
			"timestamp": c.timestamp,
		},
		"payload": map[string]interface{}{
			"version": c.Version,
		},
	}
}

// MarshalJSON lets ClusterEvent serialize directly via encoding/json.
func (c ClusterEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.ToWireDict())
}

// WatchEvent is a resource lifecycle notification: an Added/Modified/Deleted
// transition on an arbitrary nested resource object.
type WatchEvent struct {
	Kind      WatchKind
	Object    map[string]interface{}
	timestamp int64
}

// NewWatchEvent builds a WatchEvent stamped with the current time.
func NewWatchEvent(kind WatchKind, object map[string]interface{}) WatchEvent {
	return WatchEvent{Kind: kind, Object: object, timestamp: nowFunc().UnixNano()}
}

func (WatchEvent) eventMarker() {}

// ToWireDict returns the canonical wire shape for this event.
func (w WatchEvent) ToWireDict() map[string]interface{} {
	return map[string]interface{}{
		"metadata": map[string]interface{}{
			"kind":      "watch",
			"timestamp": w.timestamp,
		},
		"payload": map[string]interface{}{
			"type":   string(w.Kind),
			"object": w.Object,
		},
	}
}

// MarshalJSON lets WatchEvent serialize directly via encoding/json.
func (w WatchEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.ToWireDict())
}

// EventsEqual implements the spec's equality rule: concrete kind, sub-kind
// (for Watch), and payload must match structurally. The per-construction
// timestamp deliberately does not participate — it is metadata, not payload.
func EventsEqual(a, b Event) bool {
	switch av := a.(type) {
	case ClusterEvent:
		bv, ok := b.(ClusterEvent)
		return ok && av.Version == bv.Version
	case WatchEvent:
		bv, ok := b.(WatchEvent)
		return ok && av.Kind == bv.Kind && reflect.DeepEqual(av.Object, bv.Object)
	default:
		return false
	}
}

// EventKey returns a string suitable for set-based test assertions: the
// canonical payload (kind + sub-kind + payload, excluding the timestamp)
// marshaled to a stable JSON string.
func EventKey(e Event) string {
	var key map[string]interface{}
	switch v := e.(type) {
	case ClusterEvent:
		key = map[string]interface{}{"kind": "cluster", "payload": map[string]interface{}{"version": v.Version}}
	case WatchEvent:
		key = map[string]interface{}{"kind": "watch", "type": string(v.Kind), "object": v.Object}
	}
	raw, err := json.Marshal(key)
	if err != nil {
		return ""
	}
	return string(raw)
}
