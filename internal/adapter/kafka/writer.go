package kafka

import (
	"context"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/agroclimate-severity-service/internal/config"
	"github.com/couchcryptid/agroclimate-severity-service/internal/domain"
)

// messageWriter is the subset of *kafkago.Writer used by Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer produces messages to a Kafka topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
		BatchBytes:   16 << 20,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch serializes heatmap layers and publishes them to the sink topic in
// a single WriteMessages call. Layers that fail to serialize are logged and
// left out; the returned count covers only the layers written.
func (w *Writer) LoadBatch(ctx context.Context, layers []domain.HeatmapLayer) (int, error) {
	msgs := make([]kafkago.Message, 0, len(layers))
	for i := range layers {
		msg, err := serializeToMessage(layers[i])
		if err != nil {
			w.logger.Warn("skipping unserializable layer",
				"error", err,
				"layer_id", layers[i].ID,
				"run", layers[i].Run,
				"step", layers[i].Step,
			)
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, err
	}
	w.logger.Debug("published heatmap layers", "count", len(msgs))
	return len(msgs), nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage converts a layer into a Kafka message via the domain
// output envelope.
func serializeToMessage(layer domain.HeatmapLayer) (kafkago.Message, error) {
	out, err := domain.SerializeLayer(layer)
	if err != nil {
		return kafkago.Message{}, err
	}
	return kafkago.Message{
		Key:   out.Key,
		Value: out.Value,
		Headers: []kafkago.Header{
			{Key: domain.HeaderRun, Value: []byte(out.Headers[domain.HeaderRun])},
			{Key: domain.HeaderStep, Value: []byte(out.Headers[domain.HeaderStep])},
			{Key: domain.HeaderProcessedAt, Value: []byte(out.Headers[domain.HeaderProcessedAt])},
		},
	}, nil
}
