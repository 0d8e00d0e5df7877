package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"ocr-service/internal/models"
)

// Handler processes one unit of work. The returned result is surfaced via
// the Tracker for status polling; the error only marks the task handle as
// failed — durable failure recording is the handler's own responsibility.
type Handler interface {
	Handle(ctx context.Context, task models.OCRTask) (map[string]any, error)
}

// Consumer pulls OCR tasks from Kafka and drives them through the handler,
// mirroring their progress into the tracker.
type Consumer struct {
	reader  *kafka.Reader
	tracker *Tracker
	handler Handler
}

func NewConsumer(broker, topic, groupID string, tracker *Tracker, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   topic,
		GroupID: groupID,
	})
	return &Consumer{reader: reader, tracker: tracker, handler: handler}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("error reading message", "err", err)
			continue
		}

		var task models.OCRTask
		if err := json.Unmarshal(msg.Value, &task); err != nil {
			slog.Error("malformed task payload", "err", err)
			continue
		}

		c.tracker.Started(task.TaskID)

		result, err := c.handler.Handle(ctx, task)
		if err != nil {
			slog.Error("task failed", "task_id", task.TaskID, "image_id", task.ImageID, "err", err)
			c.tracker.Failed(task.TaskID, err.Error())
			continue
		}
		c.tracker.Succeeded(task.TaskID, result)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
