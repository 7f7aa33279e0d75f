package repositories

import (
	"chat-core/domain"
	apperrors "chat-core/errors"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

// Redis key patterns:
// chat:typing:{room}            HASH<participant, "1"|"0">  - typing flags, expires after ttl
// chat:typing:{room}:changes    channel                     - participant id of every write

func redisTypingKey(roomID domain.RoomID) string {
	return fmt.Sprintf("chat:typing:%s", roomSegment(roomID))
}

func redisTypingChannel(roomID domain.RoomID) string {
	return redisTypingKey(roomID) + ":changes"
}

// RedisTypingRepository shares typing flags between processes through redis.
type RedisTypingRepository struct {
	client *redis.Client
	log    *slog.Logger
	ttl    time.Duration
}

// NewRedisTypingRepository connects to redis and checks the connection.
func NewRedisTypingRepository(ctx context.Context, addr, password string, db int, log *slog.Logger, ttl time.Duration) (*RedisTypingRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisTypingRepository{client: client, log: log, ttl: ttl}, nil
}

func (r *RedisTypingRepository) Close() error {
	return r.client.Close()
}

func (r *RedisTypingRepository) SetTyping(ctx context.Context, roomID domain.RoomID, participantID domain.ParticipantID, isTyping bool) error {
	if participantID.IsBlank() {
		return apperrors.ErrInvalidParticipant
	}
	value := "0"
	if isTyping {
		value = "1"
	}
	key := redisTypingKey(roomID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, string(participantID), value)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	pipe.Publish(ctx, redisTypingChannel(roomID), string(participantID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrPersistenceUnavailable, err)
	}
	return nil
}

func (r *RedisTypingRepository) Typing(ctx context.Context, roomID domain.RoomID) (domain.TypingMap, error) {
	values, err := r.client.HGetAll(ctx, redisTypingKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	typing := make(domain.TypingMap, len(values))
	for participantID, value := range values {
		typing[domain.ParticipantID(participantID)] = value == "1"
	}
	return typing, nil
}

// Watch subscribes to the room channel before reading the hash, so no
// write can slip between the first map and the first notification.
// go-redis resubscribes on its own after a connection loss, writes made
// meanwhile are never published to us, so every resubscription re-reads
// the whole hash.
func (r *RedisTypingRepository) Watch(ctx context.Context, roomID domain.RoomID, onChange func(domain.TypingMap)) error {
	pubsub := r.client.Subscribe(ctx, redisTypingChannel(roomID))
	defer func() { _ = pubsub.Close() }()

	// Wait for the subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", apperrors.ErrSubscriptionInterrupted, err)
	}
	events := pubsub.ChannelWithSubscriptions()

	for {
		typing, err := r.Typing(ctx, roomID)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrSubscriptionInterrupted, err)
		}
		onChange(typing)

		if err := r.waitTypingEvent(ctx, roomID, events, r.expiresAt(ctx, roomID, typing)); err != nil {
			return err
		}
	}
}

// expiresAt is when the room hash expires while someone is typing. The
// hash expiring publishes nothing, so watchers wake on their own.
func (r *RedisTypingRepository) expiresAt(ctx context.Context, roomID domain.RoomID, typing domain.TypingMap) time.Time {
	if !lo.Contains(lo.Values(typing), true) {
		return time.Time{}
	}
	ttl, err := r.client.PTTL(ctx, redisTypingKey(roomID)).Result()
	if err != nil || ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func (r *RedisTypingRepository) waitTypingEvent(ctx context.Context, roomID domain.RoomID, events <-chan any, expiresAt time.Time) error {
	var expired <-chan time.Time
	if !expiresAt.IsZero() {
		timer := time.NewTimer(time.Until(expiresAt) + expiryMargin)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		r.log.Debug("Typing flags expired", "room", roomID)
	case event, ok := <-events:
		if !ok {
			return fmt.Errorf("%w: redis channel closed", apperrors.ErrSubscriptionInterrupted)
		}
		switch event := event.(type) {
		case *redis.Subscription:
			r.log.Info("Typing channel resubscribed, reloading", "room", roomID, "kind", event.Kind)
		case *redis.Message:
			r.log.Debug("Typing change", "room", roomID, "participant", event.Payload)
		}
	}
	return nil
}
