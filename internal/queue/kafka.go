package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/xtrntr/spotex/internal/apperror"
	"github.com/xtrntr/spotex/internal/logger"
	"github.com/xtrntr/spotex/internal/requestid"
)

// KafkaConfig configures the Kafka transport
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	ErrorTopic    string
	ConsumerGroup string
}

// KafkaPublisher writes match_created messages keyed by match record id
type KafkaPublisher struct {
	writer *kafka.Writer
	log    logger.Interface
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher for cfg.Topic
func NewKafkaPublisher(cfg KafkaConfig, log logger.Interface) *KafkaPublisher {
	return &KafkaPublisher{
		writer: newWriter(cfg.Brokers, cfg.Topic),
		log:    log,
	}
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// PublishMatchCreated writes one message and waits for all replicas
func (p *KafkaPublisher) PublishMatchCreated(ctx context.Context, matchID int) error {
	msg := kafka.Message{Key: key(matchID), Value: Encode(matchID)}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.ErrorContext(ctx, err,
			logger.NewField("action", "publish_match_created"),
			logger.NewField("match_id", matchID))
		return apperror.Wrap(apperror.Internal, "failed to publish match_created", err)
	}
	return nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads match_created in a consumer group and hands each event
// to a Handler. Failed events are forwarded to the error topic before the
// offset is committed, so nothing is dropped silently
type KafkaConsumer struct {
	reader      *kafka.Reader
	deadLetters *kafka.Writer
	log         logger.Interface
}

// NewKafkaConsumer creates a consumer for cfg.Topic in cfg.ConsumerGroup
func NewKafkaConsumer(cfg KafkaConfig, log logger.Interface) *KafkaConsumer {
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    1,
			MaxBytes:    10e6,
			StartOffset: kafka.FirstOffset,
		}),
		deadLetters: newWriter(cfg.Brokers, cfg.ErrorTopic),
		log:         log,
	}
}

// Run consumes until ctx is cancelled
func (c *KafkaConsumer) Run(ctx context.Context, handle Handler) error {
	c.log.InfoContext(ctx, "starting match_created consumer", logger.NewField("action", "consumer_start"))
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.log.ErrorContext(ctx, err, logger.NewField("action", "fetch_message"))
			continue
		}

		msgCtx := requestid.With(ctx, "")
		if err := c.process(msgCtx, msg, handle); err != nil {
			// the dead letter could not be written either; leave the offset
			// uncommitted so the message is redelivered
			c.log.ErrorContext(msgCtx, err, logger.NewField("action", "dead_letter"))
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.ErrorContext(msgCtx, err, logger.NewField("action", "commit_message"))
		}
	}
}

func (c *KafkaConsumer) process(ctx context.Context, msg kafka.Message, handle Handler) error {
	matchID, err := Decode(msg.Value)
	if err == nil {
		err = handle(ctx, matchID)
		if err == nil {
			return nil
		}
	}

	c.log.ErrorContext(ctx, err,
		logger.NewField("action", "handle_match_created"),
		logger.NewField("match_id", matchID),
		logger.NewField("offset", msg.Offset))

	letter, _ := json.Marshal(DeadLetter{MatchRecordID: matchID, Error: err.Error(), Payload: string(msg.Value)})
	return c.deadLetters.WriteMessages(ctx, kafka.Message{Key: msg.Key, Value: letter})
}

// Close closes the reader and the dead-letter writer
func (c *KafkaConsumer) Close() error {
	return errors.Join(c.reader.Close(), c.deadLetters.Close())
}

// ErrorConsumer reads the error topic and hands each dead letter to a
// DeadLetterHandler. It never retries
type ErrorConsumer struct {
	reader *kafka.Reader
	log    logger.Interface
}

// NewErrorConsumer creates a consumer for cfg.ErrorTopic
func NewErrorConsumer(cfg KafkaConfig, log logger.Interface) *ErrorConsumer {
	return &ErrorConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.ErrorTopic,
			GroupID:  cfg.ConsumerGroup + "-errors",
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		log: log,
	}
}

// Run consumes until ctx is cancelled
func (c *ErrorConsumer) Run(ctx context.Context, handle DeadLetterHandler) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.ErrorContext(ctx, err, logger.NewField("action", "read_dead_letter"))
			continue
		}
		var letter DeadLetter
		if err := json.Unmarshal(msg.Value, &letter); err != nil {
			letter = DeadLetter{Error: "undecodable dead letter", Payload: string(msg.Value)}
		}
		handle(ctx, letter)
	}
}

// Close closes the reader
func (c *ErrorConsumer) Close() error {
	return c.reader.Close()
}
