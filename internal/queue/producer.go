package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"ocr-service/internal/models"
)

// Producer hands OCR units of work to the Kafka topic and returns an opaque
// task handle. Delivery is at-least-once fire-and-forget; the handle is only
// meaningful to this process's Tracker.
type Producer struct {
	writer  *kafka.Writer
	tracker *Tracker
}

func NewProducer(broker, topic string, tracker *Tracker) *Producer {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: []string{broker},
		Topic:   topic,
	})
	return &Producer{writer: writer, tracker: tracker}
}

func (p *Producer) Dispatch(ctx context.Context, task models.OCRTask) (string, error) {
	const op = "queue.Dispatch"

	task.TaskID = uuid.New().String()

	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("%s: %v", op, err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(task.ImageID, 10)),
		Value: payload,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("%s: %v", op, err)
	}

	p.tracker.Register(task.TaskID)
	return task.TaskID, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
