package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LogSink writes every event to the structured log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, event Event) error {
	s.logger.Info("Domain event",
		zap.String("event_id", event.ID.String()),
		zap.String("type", string(event.Type)),
		zap.String("aggregate_id", event.AggregateID.String()),
		zap.Any("payload", event.Payload))
	return nil
}

// AnchoredEvent is the local copy of a published event.
type AnchoredEvent struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Type        string         `json:"type" gorm:"type:varchar(64);not null;index"`
	AggregateID uuid.UUID      `json:"aggregate_id" gorm:"type:uuid;not null;index"`
	Payload     datatypes.JSON `json:"payload"`
	Digest      string         `json:"digest" gorm:"type:char(64);not null"`
	OccurredAt  time.Time      `json:"occurred_at" gorm:"not null"`
	RecordedAt  time.Time      `json:"recorded_at" gorm:"autoCreateTime"`
}

func (AnchoredEvent) TableName() string {
	return "anchored_events"
}

// Migrate creates the anchored_events table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&AnchoredEvent{})
}

// StoreSink keeps an append-only copy of events in the database. Redelivery
// of the same event id is ignored.
type StoreSink struct {
	db *gorm.DB
}

func NewStoreSink(db *gorm.DB) *StoreSink {
	return &StoreSink{db: db}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Deliver(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	record := &AnchoredEvent{
		ID:          event.ID,
		Type:        string(event.Type),
		AggregateID: event.AggregateID,
		Payload:     datatypes.JSON(payload),
		Digest:      event.Digest,
		OccurredAt:  event.OccurredAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record).Error
}

// ByAggregate returns stored events for one aggregate, oldest first.
func (s *StoreSink) ByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]AnchoredEvent, error) {
	var records []AnchoredEvent
	err := s.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("id ASC").
		Find(&records).Error
	return records, err
}

// SNSPublishAPI is the subset of the SNS client used by SNSSink.
type SNSPublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSink publishes events to an SNS topic for the anchoring service.
type SNSSink struct {
	client   SNSPublishAPI
	topicARN string
}

func NewSNSSink(client SNSPublishAPI, topicARN string) *SNSSink {
	return &SNSSink{client: client, topicARN: topicARN}
}

func (s *SNSSink) Name() string { return "sns" }

func (s *SNSSink) Deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Type)),
			},
			"digest": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.Digest),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

// ElasticSink indexes events so dashboards can search the credit history.
type ElasticSink struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticSink(client *elasticsearch.Client, index string) *ElasticSink {
	return &ElasticSink{client: client, index: index}
}

func (s *ElasticSink) Name() string { return "elasticsearch" }

func (s *ElasticSink) Deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: event.ID.String(),
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("elasticsearch index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch index %s: %s", s.index, res.Status())
	}
	return nil
}
