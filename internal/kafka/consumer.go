package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/sshikora/crypto-analytics/internal/models"
)

// EventPriceTick is the event type of price observations
const EventPriceTick = "PRICE_TICK"

// PriceRepository defines the price history operations the consumer needs
type PriceRepository interface {
	PricePointExists(ctx context.Context, assetID string, ts time.Time) (bool, error)
	SavePricePoints(ctx context.Context, points []*models.PriceHistoryPoint) error
}

// PriceConsumer stores price ticks from Kafka as price history
type PriceConsumer struct {
	reader *kafka.Reader
	repo   PriceRepository
}

// NewPriceConsumer creates a new Kafka consumer for price events
func NewPriceConsumer(brokers []string, topic, groupID string, repo PriceRepository) *PriceConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})

	return &PriceConsumer{
		reader: reader,
		repo:   repo,
	}
}

// Start consumes messages until ctx is cancelled
func (c *PriceConsumer) Start(ctx context.Context) error {
	log.Info().Str("topic", c.reader.Config().Topic).Msg("starting price consumer")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("price consumer shutting down")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error().Err(err).Msg("error reading message")
				continue
			}

			if err := c.processMessage(ctx, msg); err != nil {
				log.Error().Err(err).Int("partition", msg.Partition).Int64("offset", msg.Offset).
					Msg("error processing message")
			}
		}
	}
}

func (c *PriceConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var event models.PriceTickEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal price event: %w", err)
	}

	if event.EventType != EventPriceTick {
		log.Debug().Str("event_type", event.EventType).Msg("ignoring event")
		return nil
	}

	point, err := convertTick(event)
	if err != nil {
		return fmt.Errorf("failed to convert price event: %w", err)
	}

	exists, err := c.repo.PricePointExists(ctx, point.AssetID, point.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to check for duplicate price: %w", err)
	}
	if exists {
		log.Debug().Str("asset_id", point.AssetID).Time("ts", point.Timestamp).Msg("price already stored, skipping")
		return nil
	}

	if err := c.repo.SavePricePoints(ctx, []*models.PriceHistoryPoint{point}); err != nil {
		return fmt.Errorf("failed to save price: %w", err)
	}

	log.Debug().Str("asset_id", point.AssetID).Float64("price", point.Price).Time("ts", point.Timestamp).
		Msg("saved price")
	return nil
}

func convertTick(event models.PriceTickEvent) (*models.PriceHistoryPoint, error) {
	if event.AssetID == "" {
		return nil, fmt.Errorf("missing asset id")
	}
	if event.Timestamp.IsZero() {
		return nil, fmt.Errorf("missing timestamp for %s", event.AssetID)
	}

	price, err := decimal.NewFromString(event.Price)
	if err != nil {
		return nil, fmt.Errorf("invalid price %s: %w", event.Price, err)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("non-positive price %s for %s", event.Price, event.AssetID)
	}

	source := event.Source
	if source == "" {
		source = "kafka"
	}

	return &models.PriceHistoryPoint{
		AssetID:   event.AssetID,
		Symbol:    strings.ToUpper(event.Symbol),
		Source:    source,
		Price:     price.InexactFloat64(),
		Timestamp: event.Timestamp.UTC(),
	}, nil
}

// Close closes the Kafka consumer
func (c *PriceConsumer) Close() error {
	return c.reader.Close()
}
