package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/coursehub/course-service/internal/infrastructure/redis"
	"github.com/segmentio/kafka-go"
)

// Consumer subscribes to the courses topic and drops stale catalog entries
// from the Redis cache. Other service instances may have the edited course
// cached, so invalidation goes through the event stream rather than a
// direct Del on the local client only.
type Consumer struct {
	reader      *kafka.Reader
	redisClient redis.RedisClient
}

func NewConsumer(brokers []string, topic, groupID string, redisClient redis.RedisClient) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		redisClient: redisClient,
	}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		slog.Info("Kafka message received", "topic", msg.Topic, "key", string(msg.Key))

		var event struct {
			EventType string `json:"event_type"`
			Code      string `json:"code"`
		}
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			slog.Error("failed to unmarshal course event", "error", err)
			continue
		}
		if event.EventType != "course_updated" || event.Code == "" {
			continue
		}

		key := fmt.Sprintf("course:%s", event.Code)
		if err := c.redisClient.Del(ctx, key); err != nil {
			slog.Error("failed to invalidate course cache", "code", event.Code, "error", err)
			continue
		}
		slog.Info("course cache invalidated", "code", event.Code)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
