package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pollcast/pollcast/internal/entity"
	"github.com/pollcast/pollcast/internal/lib/sl"
)

const fanoutChannel = "poll_updates"

type fanoutEnvelope struct {
	PollID  uuid.UUID            `json:"poll_id"`
	Results []entity.OptionCount `json:"results"`
}

// RedisFanout bridges the scheduler and hubs across server processes.
// The scheduler publishes snapshots to a Redis channel; every process
// runs a subscriber loop that feeds its local hub, so a vote accepted
// on one process reaches connections held open on another.
type RedisFanout struct {
	log *slog.Logger
	rdb *redis.Client
	hub GroupPublisher
}

func NewRedisFanout(log *slog.Logger, rdb *redis.Client, hub GroupPublisher) *RedisFanout {
	return &RedisFanout{log: log, rdb: rdb, hub: hub}
}

func (f *RedisFanout) PublishResults(ctx context.Context, pollID uuid.UUID, results []entity.OptionCount) error {
	const op = "broadcast.RedisFanout.PublishResults"

	payload, err := json.Marshal(fanoutEnvelope{PollID: pollID, Results: results})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := f.rdb.Publish(ctx, fanoutChannel, payload).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Run consumes the fan-out channel and replays each snapshot into the
// local hub. Blocks until ctx is done.
func (f *RedisFanout) Run(ctx context.Context) {
	const op = "broadcast.RedisFanout.Run"

	log := f.log.With(slog.String("op", op))

	pubsub := f.rdb.Subscribe(ctx, fanoutChannel)
	defer pubsub.Close()

	log.Info("redis fan-out subscriber started", slog.String("channel", fanoutChannel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Info("redis fan-out subscriber stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var envelope fanoutEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				log.Warn("malformed fan-out message", sl.Err(err))
				continue
			}

			frame, err := json.Marshal(Update{Type: updateType, Results: envelope.Results})
			if err != nil {
				log.Warn("failed to encode update", sl.Err(err))
				continue
			}

			f.hub.Publish(envelope.PollID, frame)
		}
	}
}
