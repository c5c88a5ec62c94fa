package notify

import (
	"context"

	"github.com/littlehero/api/internal/model"
)

// Broadcaster is satisfied by websocket.Hub.
type Broadcaster interface {
	BroadcastStatus(event model.StatusEvent)
}

// HubSink pushes events to websocket subscribers of the book.
type HubSink struct {
	hub Broadcaster
}

func NewHubSink(hub Broadcaster) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) Name() string { return "websocket" }

func (s *HubSink) Publish(_ context.Context, event model.StatusEvent) error {
	s.hub.BroadcastStatus(event)
	return nil
}
