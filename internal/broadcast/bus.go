package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Lllllllleong/documentintake/internal/models"
)

// EventTypePrefix prefixes the CloudEvents type of every bus message.
const EventTypePrefix = "com.documentintake.document."

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewRedisClient connects to Redis and checks the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisBus publishes events as CloudEvents JSON on one Redis pub/sub channel.
type RedisBus struct {
	client  *redis.Client
	channel string
	source  string
	logger  *slog.Logger
}

func NewRedisBus(client *redis.Client, channel, source string, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.Default()
	}
	if channel == "" {
		channel = "documentintake:events"
	}
	if source == "" {
		source = "documentintake"
	}
	return &RedisBus{client: client, channel: channel, source: source, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, evt models.Event) error {
	payload, err := EncodeCloudEvent(b.source, evt)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan models.Event, error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan models.Event, 64)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				evt, err := DecodeCloudEvent([]byte(msg.Payload))
				if err != nil {
					b.logger.Warn("Dropping undecodable bus message.", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// EncodeCloudEvent wraps evt in a structured-mode CloudEvents JSON envelope.
func EncodeCloudEvent(source string, evt models.Event) ([]byte, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(uuid.NewString())
	ce.SetSource(source)
	ce.SetType(EventTypePrefix + string(evt.Type()))
	ce.SetSubject(evt.DocumentID)
	ce.SetTime(time.Now().UTC())
	if err := ce.SetData(cloudevents.ApplicationJSON, evt); err != nil {
		return nil, fmt.Errorf("failed to set cloudevent data: %w", err)
	}
	b, err := json.Marshal(ce)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cloudevent: %w", err)
	}
	return b, nil
}

// DecodeCloudEvent unwraps an envelope produced by EncodeCloudEvent.
func DecodeCloudEvent(b []byte) (models.Event, error) {
	var ce cloudevents.Event
	if err := json.Unmarshal(b, &ce); err != nil {
		return models.Event{}, fmt.Errorf("failed to decode cloudevent: %w", err)
	}
	var evt models.Event
	if err := ce.DataAs(&evt); err != nil {
		return models.Event{}, fmt.Errorf("failed to decode event data: %w", err)
	}
	return evt, nil
}
