package notify

import "context"

// Hub pushes to several transports, such as the WebSocket and MCP
// registries. A user counts as delivered when any transport took the payload.
type Hub struct {
	pushers []Pusher
}

// NewHub creates a Hub with the given pushers.
func NewHub(pushers ...Pusher) *Hub {
	return &Hub{pushers: pushers}
}

// Push hands p to every pusher, in order.
func (h *Hub) Push(ctx context.Context, userID string, p Payload) Delivery {
	out := Skipped
	for _, ps := range h.pushers {
		if ps.Push(ctx, userID, p) == Delivered {
			out = Delivered
		}
	}
	return out
}
