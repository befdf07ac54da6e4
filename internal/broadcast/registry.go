// Package broadcast delivers document events to live subscriber connections,
// in-process and across processes through a message bus.
package broadcast

import (
	"sort"
	"strings"
	"sync"
)

const (
	documentTopicPrefix = "document:"
	userTopicPrefix     = "user:"
)

// DocumentTopic is the topic name for one document's events.
func DocumentTopic(documentID string) string { return documentTopicPrefix + documentID }

// UserTopic is the topic name for every document of one user.
func UserTopic(userID string) string { return userTopicPrefix + userID }

// ParseTopic splits a topic into its kind ("document" or "user") and id.
func ParseTopic(topic string) (kind, id string, ok bool) {
	switch {
	case strings.HasPrefix(topic, documentTopicPrefix):
		id = strings.TrimPrefix(topic, documentTopicPrefix)
		kind = "document"
	case strings.HasPrefix(topic, userTopicPrefix):
		id = strings.TrimPrefix(topic, userTopicPrefix)
		kind = "user"
	default:
		return "", "", false
	}
	return kind, id, id != ""
}

type set map[string]struct{}

// Registry maps topics to subscribed connection ids and back. Both directions
// are kept in step under one lock, and empty sets are removed.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]set
	conns  map[string]set
}

func NewRegistry() *Registry {
	return &Registry{topics: make(map[string]set), conns: make(map[string]set)}
}

// Subscribe adds connID to documentID's subscribers. It is idempotent.
func (r *Registry) Subscribe(connID, documentID string) {
	r.add(connID, DocumentTopic(documentID))
}

// Unsubscribe removes connID from documentID's subscribers.
func (r *Registry) Unsubscribe(connID, documentID string) {
	r.remove(connID, DocumentTopic(documentID))
}

// SubscribeUser adds connID to the user's topic.
func (r *Registry) SubscribeUser(connID, userID string) {
	r.add(connID, UserTopic(userID))
}

func (r *Registry) UnsubscribeUser(connID, userID string) {
	r.remove(connID, UserTopic(userID))
}

// SubscribeTopic adds connID to a raw topic name.
func (r *Registry) SubscribeTopic(connID, topic string) { r.add(connID, topic) }

func (r *Registry) UnsubscribeTopic(connID, topic string) { r.remove(connID, topic) }

func (r *Registry) add(connID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.topics[topic] == nil {
		r.topics[topic] = make(set)
	}
	r.topics[topic][connID] = struct{}{}
	if r.conns[connID] == nil {
		r.conns[connID] = make(set)
	}
	r.conns[connID][topic] = struct{}{}
}

func (r *Registry) remove(connID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(connID, topic)
}

func (r *Registry) removeLocked(connID, topic string) {
	if subs, ok := r.topics[topic]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(r.topics, topic)
		}
	}
	if topics, ok := r.conns[connID]; ok {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(r.conns, connID)
		}
	}
}

// OnDisconnect drops every subscription of connID. Calling it again is a no-op.
func (r *Registry) OnDisconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for topic := range r.conns[connID] {
		r.removeLocked(connID, topic)
	}
	delete(r.conns, connID)
}

// SubscribersOf returns a snapshot of documentID's subscribers.
func (r *Registry) SubscribersOf(documentID string) []string {
	return r.members(DocumentTopic(documentID))
}

// UserSubscribersOf returns a snapshot of userID's subscribers.
func (r *Registry) UserSubscribersOf(userID string) []string {
	return r.members(UserTopic(userID))
}

// SubscriptionsOf returns the topics connID is subscribed to.
func (r *Registry) SubscriptionsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keys(r.conns[connID])
}

// Recipient is one connection matched for an event and the topic it matched on.
type Recipient struct {
	ConnID string
	Topic  string
}

// Recipients is the de-duplicated union of a document's and a user's
// subscribers. A connection on both topics is matched on the document topic.
func (r *Registry) Recipients(documentID, userID string) []Recipient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	docTopic := DocumentTopic(documentID)
	seen := make(set, len(r.topics[docTopic]))
	out := make([]Recipient, 0, len(r.topics[docTopic]))
	for _, id := range keys(r.topics[docTopic]) {
		seen[id] = struct{}{}
		out = append(out, Recipient{ConnID: id, Topic: docTopic})
	}
	if userID != "" {
		userTopic := UserTopic(userID)
		for _, id := range keys(r.topics[userTopic]) {
			if _, dup := seen[id]; dup {
				continue
			}
			out = append(out, Recipient{ConnID: id, Topic: userTopic})
		}
	}
	return out
}

// Len returns the number of topics and connections with at least one subscription.
func (r *Registry) Len() (topics, conns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics), len(r.conns)
}

func (r *Registry) members(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keys(r.topics[topic])
}

func keys(s set) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
