package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/pollcast/pollcast/internal/entity"
)

// Update is the frame pushed to every subscriber of a dirty poll.
type Update struct {
	Type    string               `json:"type"`
	Results []entity.OptionCount `json:"results"`
}

const updateType = "poll_update"

// GroupPublisher is the fan-out side of the subscription registry.
type GroupPublisher interface {
	Publish(pollID uuid.UUID, payload []byte) int
}

// HubPublisher delivers snapshots straight to the local hub. The
// default for a single-process deployment.
type HubPublisher struct {
	hub GroupPublisher
}

func NewHubPublisher(hub GroupPublisher) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) PublishResults(_ context.Context, pollID uuid.UUID, results []entity.OptionCount) error {
	payload, err := json.Marshal(Update{Type: updateType, Results: results})
	if err != nil {
		return fmt.Errorf("broadcast.HubPublisher.PublishResults: %w", err)
	}

	p.hub.Publish(pollID, payload)
	return nil
}
