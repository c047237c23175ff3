package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/cps-immigrant-etl/internal/config"
	"github.com/couchcryptid/cps-immigrant-etl/internal/domain"
	"github.com/couchcryptid/cps-immigrant-etl/internal/observability"
)

// messageWriter is the subset of *kafkago.Writer used by Publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces dataset rows to a Kafka topic.
type Publisher struct {
	writer    messageWriter
	batchSize int
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured dataset topic.
func NewPublisher(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		BatchSize:              cfg.KafkaBatchSize,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(w, cfg.KafkaBatchSize, metrics, logger)
}

func newPublisher(w messageWriter, batchSize int, metrics *observability.Metrics, logger *slog.Logger) *Publisher {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Publisher{writer: w, batchSize: batchSize, metrics: metrics, logger: logger}
}

// PublishDataset writes every row, batchSize messages per WriteMessages call.
// It stops at the first failed batch and returns how many rows were written.
func (p *Publisher) PublishDataset(ctx context.Context, rows []domain.DatasetRow) (int, error) {
	published := 0
	for start := 0; start < len(rows); start += p.batchSize {
		end := min(start+p.batchSize, len(rows))

		msgs := make([]kafkago.Message, 0, end-start)
		for i := start; i < end; i++ {
			msg, err := serializeRow(rows[i])
			if err != nil {
				return published, err
			}
			msgs = append(msgs, msg)
		}

		if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
			p.metrics.PublishErrors.Inc()
			return published, fmt.Errorf("publish rows %d-%d: %w", start, end-1, err)
		}
		published += len(msgs)
		p.metrics.RowsPublished.Add(float64(len(msgs)))
	}

	p.logger.Info("dataset published", "rows", published)
	return published, nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// MessageKey identifies a row by its (year, metro, country) group.
func MessageKey(row domain.DatasetRow) string {
	return strconv.Itoa(row.Year) + "|" + strconv.Itoa(row.MetroCode) + "|" + strconv.Itoa(row.CountryCode)
}

// serializeRow marshals a DatasetRow into a Kafka message.
func serializeRow(row domain.DatasetRow) (kafkago.Message, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize dataset row: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(MessageKey(row)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "schema_version", Value: []byte(strconv.Itoa(domain.SchemaVersion))},
			{Key: "year", Value: []byte(strconv.Itoa(row.Year))},
		},
	}, nil
}
