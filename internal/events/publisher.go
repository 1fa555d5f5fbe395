package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"coursestream-backend/internal/models"
)

func channelFor(userID uuid.UUID) string {
	return fmt.Sprintf("video_updates:%s", userID)
}

// Publisher pushes processing events onto redis pub/sub; the websocket hub
// fans them out to the uploader's open connections. Best-effort by design:
// a dropped event never fails a job.
type Publisher struct {
	redis *redis.Client
}

func NewPublisher(redisClient *redis.Client) *Publisher {
	return &Publisher{redis: redisClient}
}

func (p *Publisher) Publish(ctx context.Context, userID uuid.UUID, event models.ProcessingEvent) {
	data, _ := json.Marshal(event)
	p.redis.Publish(ctx, channelFor(userID), string(data))
}

func (p *Publisher) Progress(ctx context.Context, userID uuid.UUID, update models.ProgressUpdate) {
	p.Publish(ctx, userID, models.ProcessingEvent{Type: "progress", Payload: update})
}

func (p *Publisher) Completed(ctx context.Context, userID uuid.UUID, event models.CompletedEvent) {
	p.Publish(ctx, userID, models.ProcessingEvent{Type: "completed", Payload: event})
}

func (p *Publisher) Failed(ctx context.Context, userID uuid.UUID, event models.FailedEvent) {
	p.Publish(ctx, userID, models.ProcessingEvent{Type: "failed", Payload: event})
}
