package notify

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"vigil/internal/buffer"
)

// ErrNotSubscribed is returned when a client references a subscription name
// it does not hold.
var ErrNotSubscribed = errors.New("notify: no such subscription")

const defaultSavedResponses = 16

// SavedResponse is one delivered (or buffered) notification kept for replay
// and debugging.
type SavedResponse struct {
	Written  time.Time      `json:"written_time"`
	Response map[string]any `json:"response"`
}

// Subscription is one named stream of notifications owned by a client
// connection. The root back-reference is the path only; it does not keep the
// root alive.
type Subscription struct {
	Name     string
	ClientID uint64
	Root     string

	paused bool
	last   *buffer.Ring[SavedResponse]
	ch     chan SavedResponse
}

// Chan is the delivery channel for active (unpaused) notifications.
func (s *Subscription) Chan() <-chan SavedResponse {
	if s == nil {
		return nil
	}
	return s.ch
}

// SubscriptionDebugInfo is the diagnostic view of one subscription.
type SubscriptionDebugInfo struct {
	Name          string          `json:"name"`
	ClientID      uint64          `json:"client_id"`
	Paused        bool            `json:"paused"`
	LastResponses []SavedResponse `json:"last_responses"`
}

// Subscriptions tracks every named subscription across client connections.
type Subscriptions struct {
	mu        sync.Mutex
	byClient  map[uint64]map[string]*Subscription
	ringSize  int
	chanDepth int
}

// SubscriptionsOptions configures the registry.
type SubscriptionsOptions struct {
	// SavedResponses bounds the per-subscription replay ring.
	SavedResponses int
	// ChannelDepth bounds each subscription's delivery channel.
	ChannelDepth int
}

func NewSubscriptions(options SubscriptionsOptions) *Subscriptions {
	ringSize := options.SavedResponses
	if ringSize <= 0 {
		ringSize = defaultSavedResponses
	}
	chanDepth := options.ChannelDepth
	if chanDepth <= 0 {
		chanDepth = defaultSubscriberBufferSize
	}
	return &Subscriptions{
		byClient:  make(map[uint64]map[string]*Subscription),
		ringSize:  ringSize,
		chanDepth: chanDepth,
	}
}

// Add registers a subscription named name for the client, replacing any
// previous subscription with the same name.
func (r *Subscriptions) Add(clientID uint64, name, root string) *Subscription {
	if r == nil || name == "" {
		return nil
	}
	sub := &Subscription{
		Name:     name,
		ClientID: clientID,
		Root:     root,
		last:     buffer.NewRing[SavedResponse](r.ringSize),
		ch:       make(chan SavedResponse, r.chanDepth),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.byClient[clientID]
	if !ok {
		subs = make(map[string]*Subscription)
		r.byClient[clientID] = subs
	}
	subs[name] = sub
	return sub
}

// Remove drops the named subscription for the client.
func (r *Subscriptions) Remove(clientID uint64, name string) error {
	if r == nil {
		return ErrNotSubscribed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.byClient[clientID]
	if _, ok := subs[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotSubscribed, name)
	}
	delete(subs, name)
	if len(subs) == 0 {
		delete(r.byClient, clientID)
	}
	return nil
}

// DropClient removes every subscription owned by a disconnected client.
func (r *Subscriptions) DropClient(clientID uint64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byClient, clientID)
}

// SetPaused flips the paused flag for the client's named subscription and
// returns the prior and new values. While paused, notifications are buffered
// in the replay ring but not delivered.
func (r *Subscriptions) SetPaused(clientID uint64, name string, paused bool) (old, current bool, err error) {
	if r == nil {
		return false, false, ErrNotSubscribed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.byClient[clientID][name]
	if !ok {
		return false, false, fmt.Errorf("%w: %q", ErrNotSubscribed, name)
	}
	old = sub.paused
	sub.paused = paused
	return old, paused, nil
}

// Dispatch buffers response on every subscription against root and delivers
// it to the unpaused ones. Subscribers with a full channel lose this
// response; it remains visible in their replay ring.
func (r *Subscriptions) Dispatch(root string, response map[string]any) {
	if r == nil {
		return
	}
	saved := SavedResponse{
		Written:  time.Now().UTC(),
		Response: response,
	}

	r.mu.Lock()
	targets := make([]*Subscription, 0)
	for _, subs := range r.byClient {
		for _, sub := range subs {
			if sub.Root != root {
				continue
			}
			sub.last.Add(saved)
			if !sub.paused {
				targets = append(targets, sub)
			}
		}
	}
	r.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- saved:
		default:
		}
	}
}

// DebugInfo reports every subscription against root, ordered by client then
// name.
func (r *Subscriptions) DebugInfo(root string) []SubscriptionDebugInfo {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	info := make([]SubscriptionDebugInfo, 0)
	for clientID, subs := range r.byClient {
		for name, sub := range subs {
			if sub.Root != root {
				continue
			}
			info = append(info, SubscriptionDebugInfo{
				Name:          name,
				ClientID:      clientID,
				Paused:        sub.paused,
				LastResponses: sub.last.List(),
			})
		}
	}
	sort.Slice(info, func(i, j int) bool {
		if info[i].ClientID != info[j].ClientID {
			return info[i].ClientID < info[j].ClientID
		}
		return info[i].Name < info[j].Name
	})
	return info
}
