package notify

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
)

// Channel is a live connection to one user's client.
// Send must not block on network I/O.
type Channel interface {
	Send(ctx context.Context, p Payload) error
}

// Delivery is the outcome of pushing a payload to one user.
type Delivery int

const (
	// Skipped means the user had no live channel or the channel refused the payload.
	Skipped Delivery = iota
	// Delivered means the payload was handed to the user's live channel.
	Delivered
)

func (d Delivery) String() string {
	if d == Delivered {
		return "delivered"
	}
	return "skipped"
}

// Registry maps online users to their single live channel. Users are
// spread over a fixed number of shards, each guarded by its own lock, so
// traffic for one user never contends with users in other shards.
type Registry struct {
	shards []*shard
}

type shard struct {
	mu    sync.RWMutex
	conns map[string]Channel
}

// NewRegistry creates a Registry with n shards (at least one).
func NewRegistry(n int) *Registry {
	if n < 1 {
		n = 1
	}
	r := &Registry{shards: make([]*shard, n)}
	for i := range r.shards {
		r.shards[i] = &shard{conns: make(map[string]Channel)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Register makes ch the live channel of userID, replacing any previous
// one. The superseded channel is left open; its owner closes it.
func (r *Registry) Register(userID string, ch Channel) {
	s := r.shardFor(userID)
	s.mu.Lock()
	_, replaced := s.conns[userID]
	s.conns[userID] = ch
	s.mu.Unlock()

	slog.Debug("live channel registered", "user_id", userID, "replaced", replaced)
}

// Unregister removes the live channel of userID if it is still ch.
// A nil ch removes whatever is registered. Unknown users are ignored.
func (r *Registry) Unregister(userID string, ch Channel) {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.conns[userID]
	if !ok {
		return
	}
	if ch != nil && cur != ch {
		slog.Debug("live channel already superseded", "user_id", userID)
		return
	}
	delete(s.conns, userID)
	slog.Debug("live channel unregistered", "user_id", userID)
}

// Connected reports whether userID has a live channel.
func (r *Registry) Connected(userID string) bool {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conns[userID]
	return ok
}

// Count returns the number of registered users.
func (r *Registry) Count() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.conns)
		s.mu.RUnlock()
	}
	return n
}

// Push hands p to the live channel of userID. The shard lock is released
// before the channel is touched. Failures are logged and reported as
// Skipped; nothing is retried.
func (r *Registry) Push(ctx context.Context, userID string, p Payload) Delivery {
	s := r.shardFor(userID)
	s.mu.RLock()
	ch, ok := s.conns[userID]
	s.mu.RUnlock()

	if !ok {
		slog.Debug("no live channel, skipping push", "user_id", userID, "notification_id", p.ID)
		return Skipped
	}

	if err := ch.Send(ctx, p); err != nil {
		slog.Debug("live push failed",
			"user_id", userID,
			"notification_id", p.ID,
			"error", err)
		return Skipped
	}
	return Delivered
}
